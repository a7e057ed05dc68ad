package symbols

import (
	"context"
	"fmt"

	"signalpulse/models"
)

// Static serves fixed per-venue symbol lists.
type Static struct {
	lists map[models.Venue][]string
}

func NewStatic(lists map[string][]string) *Static {
	s := &Static{lists: make(map[models.Venue][]string, len(lists))}
	for name, syms := range lists {
		venue, err := models.ParseVenue(name)
		if err != nil {
			continue
		}
		s.lists[venue] = append([]string(nil), syms...)
	}
	return s
}

// ListSymbols returns at most limit symbols configured for venue.
func (s *Static) ListSymbols(_ context.Context, venue models.Venue, limit int) ([]string, error) {
	syms := s.lists[venue]
	if len(syms) == 0 {
		return nil, &models.FetchError{Venue: venue, Source: "static", Err: fmt.Errorf("no fallback list: %w", models.ErrEmptyPayload)}
	}
	if limit > 0 && len(syms) > limit {
		syms = syms[:limit]
	}
	return append([]string(nil), syms...), nil
}
