// Package symbols resolves the working set of instruments for a venue and
// maps between venue-native and unified symbol forms.
package symbols

import (
	"context"
	"errors"
	"fmt"

	"signalpulse/logger"
	"signalpulse/models"
)

// Lister returns up to limit symbols for a venue, most liquid first.
type Lister interface {
	ListSymbols(ctx context.Context, venue models.Venue, limit int) ([]string, error)
}

// Policy decides what happens when the primary lister fails.
type Policy string

const (
	// PolicySurface reports the failure to the caller.
	PolicySurface Policy = "surface"
	// PolicyStatic substitutes the static list for the venue.
	PolicyStatic Policy = "static"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicySurface, PolicyStatic:
		return Policy(s), nil
	}
	return "", fmt.Errorf("unknown fallback policy %q", s)
}

// Resolution is the outcome of a successful Resolve.
type Resolution struct {
	Symbols []string
	// Fallback is set when the static list replaced a failed fetch.
	Fallback bool
	// Cause is the primary failure hidden by the fallback.
	Cause error
}

// Source applies the deployment fallback policy on top of a primary Lister.
type Source struct {
	primary  Lister
	fallback Lister
	policy   Policy
	log      *logger.Entry
}

// NewSource builds a Source. fallback may be nil with PolicySurface.
func NewSource(primary, fallback Lister, policy Policy) *Source {
	if policy == "" {
		policy = PolicySurface
	}
	return &Source{
		primary:  primary,
		fallback: fallback,
		policy:   policy,
		log:      logger.GetLogger().WithComponent("symbol_source"),
	}
}

func (s *Source) Policy() Policy {
	return s.policy
}

// Resolve lists symbols for venue. It never caches: every call hits the
// primary lister.
func (s *Source) Resolve(ctx context.Context, venue models.Venue, limit int) (Resolution, error) {
	if !venue.Valid() {
		return Resolution{}, fmt.Errorf("%w: %q", models.ErrUnsupportedVenue, venue)
	}
	if limit <= 0 {
		return Resolution{}, fmt.Errorf("%w: %d", models.ErrInvalidLimit, limit)
	}

	syms, err := s.primary.ListSymbols(ctx, venue, limit)
	if err == nil && len(syms) == 0 {
		err = &models.FetchError{Venue: venue, Source: "primary", Err: models.ErrEmptyPayload}
	}
	if err == nil {
		return Resolution{Symbols: syms}, nil
	}

	// A cancelled request belongs to a superseded session; never mask it.
	// Timeouts are ordinary fetch failures and follow the policy.
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled) {
		return Resolution{}, err
	}
	if s.policy != PolicyStatic || s.fallback == nil {
		return Resolution{}, err
	}

	fallback, ferr := s.fallback.ListSymbols(context.WithoutCancel(ctx), venue, limit)
	if ferr != nil {
		return Resolution{}, errors.Join(err, ferr)
	}
	s.log.WithError(err).WithFields(logger.Fields{
		"venue":   venue,
		"symbols": len(fallback),
	}).Warn("symbol fetch failed, using static list")
	return Resolution{Symbols: fallback, Fallback: true, Cause: err}, nil
}
