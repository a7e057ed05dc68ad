// Package app assembles the scan backend shared by the server and the CLI.
package app

import (
	"fmt"

	"signalpulse/config"
	"signalpulse/internal/exchange"
	"signalpulse/internal/scanapi"
	"signalpulse/internal/session"
	"signalpulse/internal/symbols"
	"signalpulse/logger"
)

// Backend is everything a session controller needs besides its callbacks.
type Backend struct {
	Resolver session.Resolver
	Scanner  session.Scanner
	Links    *symbols.Linker
	// Source names the symbol listing endpoint in user-facing messages.
	Source string
	Limit  int
}

// NewBackend wires the scan API client, the configured symbol lister and
// the static fallback list.
func NewBackend(cfg *config.Config) (*Backend, error) {
	policy, err := symbols.ParsePolicy(cfg.Symbols.FallbackPolicy)
	if err != nil {
		return nil, err
	}

	api := scanapi.New(scanapi.Options{
		BaseURL:           cfg.API.BaseURL,
		Timeout:           cfg.API.Timeout,
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		Burst:             cfg.API.Burst,
	})

	var primary symbols.Lister = api
	source := api.BaseURL()
	switch cfg.Symbols.Source {
	case config.SourceAPI, "":
	case config.SourceExchange:
		primary = exchange.NewDirectory(exchange.Options{
			BinanceURL: cfg.Symbols.Exchange.BinanceURL,
			BybitURL:   cfg.Symbols.Exchange.BybitURL,
			Timeout:    cfg.API.Timeout,
		})
		source = "the exchange"
	default:
		return nil, fmt.Errorf("unknown symbol source %q", cfg.Symbols.Source)
	}

	logger.GetLogger().WithComponent("app").WithFields(logger.Fields{
		"api":             api.BaseURL(),
		"symbol_source":   cfg.Symbols.Source,
		"fallback_policy": policy,
	}).Info("scan backend configured")

	return &Backend{
		Resolver: symbols.NewSource(primary, symbols.NewStatic(cfg.Symbols.Fallback), policy),
		Scanner:  api,
		Links:    symbols.NewLinker(cfg.Links),
		Source:   source,
		Limit:    cfg.Symbols.Limit,
	}, nil
}

// Session builds a controller bound to this backend.
func (b *Backend) Session(opts session.Options) (*session.Controller, error) {
	opts.Symbols = b.Resolver
	opts.Scanner = b.Scanner
	opts.Links = b.Links
	opts.Source = b.Source
	if opts.Limit == 0 {
		opts.Limit = b.Limit
	}
	return session.New(opts)
}
