// Package exchange lists tradable USDT perpetuals straight from venue APIs,
// ranked by 24h quote volume.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	bybit "github.com/bybit-exchange/bybit.go.api"
	"github.com/shopspring/decimal"

	"signalpulse/internal/symbols"
	"signalpulse/logger"
	"signalpulse/models"
)

const defaultBybitURL = "https://api.bybit.com"

type Options struct {
	BinanceURL string
	BybitURL   string
	Timeout    time.Duration
}

// Directory implements symbols.Lister for the venues with a public SDK.
type Directory struct {
	binance *futures.Client
	bybit   *bybit.Client
	log     *logger.Log
}

func NewDirectory(opts Options) *Directory {
	httpClient := &http.Client{Timeout: opts.Timeout}

	bc := futures.NewClient("", "")
	bc.HTTPClient = httpClient
	if base := hostOnly(opts.BinanceURL); base != "" {
		bc.SetApiEndpoint(base)
	}

	base := hostOnly(opts.BybitURL)
	if base == "" {
		base = defaultBybitURL
	}
	yc := bybit.NewBybitHttpClient("", "", bybit.WithBaseURL(base))
	yc.HTTPClient = httpClient

	return &Directory{binance: bc, bybit: yc, log: logger.GetLogger()}
}

func hostOnly(raw string) string {
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
}

// ListSymbols returns the top limit USDT perpetuals on venue in unified form.
func (d *Directory) ListSymbols(ctx context.Context, venue models.Venue, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, &models.FetchError{Venue: venue, Source: "exchange", Err: models.ErrInvalidLimit}
	}

	log := d.log.WithComponent("exchange_directory").WithFields(logger.Fields{"venue": venue, "limit": limit})
	start := time.Now()

	var (
		tickers []ticker
		source  string
		err     error
	)
	switch venue {
	case models.VenueBinance:
		source = "binance-futures"
		tickers, err = d.binanceTickers(ctx)
	case models.VenueBybit:
		source = "bybit-linear"
		tickers, err = d.bybitTickers(ctx)
	default:
		return nil, &models.FetchError{Venue: venue, Source: "exchange", Err: fmt.Errorf("direct listing: %w", models.ErrUnsupportedVenue)}
	}
	if err != nil {
		reportLimit(d.log, venue, err.Error())
		log.WithError(err).Warn("ticker request failed")
		return nil, &models.FetchError{Venue: venue, Source: source, Err: err}
	}

	ranked := rankByQuoteVolume(venue, tickers, limit)
	if len(ranked) == 0 {
		return nil, &models.FetchError{Venue: venue, Source: source, Err: models.ErrEmptyPayload}
	}
	logger.LogPerformanceEntry(log, "exchange_directory", "list_symbols", time.Since(start), logger.Fields{"symbols": len(ranked)})
	return ranked, nil
}

type ticker struct {
	Symbol      string
	QuoteVolume decimal.Decimal
}

func (d *Directory) binanceTickers(ctx context.Context) ([]ticker, error) {
	stats, err := d.binance.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ticker, 0, len(stats))
	for _, s := range stats {
		vol, err := decimal.NewFromString(s.QuoteVolume)
		if err != nil {
			continue
		}
		out = append(out, ticker{Symbol: s.Symbol, QuoteVolume: vol})
	}
	return out, nil
}

type bybitTickerList struct {
	List []struct {
		Symbol      string `json:"symbol"`
		Turnover24h string `json:"turnover24h"`
	} `json:"list"`
}

func (d *Directory) bybitTickers(ctx context.Context) ([]ticker, error) {
	params := map[string]interface{}{"category": "linear"}
	resp, err := d.bybit.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	if err != nil {
		return nil, err
	}
	if resp.RetCode != 0 {
		return nil, &models.BackendError{Message: resp.RetMsg}
	}
	payload, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, err
	}
	return decodeBybitTickers(payload)
}

func decodeBybitTickers(payload []byte) ([]ticker, error) {
	var list bybitTickerList
	if err := json.Unmarshal(payload, &list); err != nil {
		return nil, fmt.Errorf("decode bybit tickers: %w", err)
	}
	out := make([]ticker, 0, len(list.List))
	for _, t := range list.List {
		vol, err := decimal.NewFromString(t.Turnover24h)
		if err != nil {
			continue
		}
		out = append(out, ticker{Symbol: t.Symbol, QuoteVolume: vol})
	}
	return out, nil
}

// rankByQuoteVolume keeps USDT perpetuals, sorts them by quote volume
// descending and converts the top limit to unified symbols.
func rankByQuoteVolume(venue models.Venue, tickers []ticker, limit int) []string {
	kept := make([]ticker, 0, len(tickers))
	for _, t := range tickers {
		// dated delivery contracts carry an underscore suffix
		if !strings.HasSuffix(t.Symbol, "USDT") || strings.Contains(t.Symbol, "_") {
			continue
		}
		kept = append(kept, t)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if c := kept[i].QuoteVolume.Cmp(kept[j].QuoteVolume); c != 0 {
			return c > 0
		}
		return kept[i].Symbol < kept[j].Symbol
	})
	if len(kept) > limit {
		kept = kept[:limit]
	}
	out := make([]string, len(kept))
	for i, t := range kept {
		out[i] = symbols.FromVenue(venue, t.Symbol)
	}
	return out
}
