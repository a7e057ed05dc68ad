package session

import (
	"fmt"
	"math"
	"strings"

	"signalpulse/internal/strategy"
	"signalpulse/models"
)

// SideFilter selects results by trade direction.
type SideFilter string

const (
	SideAll   SideFilter = "ALL"
	SideLong  SideFilter = "LONG"
	SideShort SideFilter = "SHORT"
)

func ParseSideFilter(s string) (SideFilter, error) {
	switch f := SideFilter(strings.ToUpper(strings.TrimSpace(s))); f {
	case SideAll, SideLong, SideShort:
		return f, nil
	case "":
		return SideAll, nil
	}
	return "", fmt.Errorf("invalid side filter %q", s)
}

// Filter is the client-side view selection. An empty Type matches every
// setup type.
type Filter struct {
	Side SideFilter       `json:"side"`
	Type models.SetupType `json:"type,omitempty"`
}

const (
	adxTrendThreshold = 25
	rsiOverbought     = 70
	rsiOversold       = 30
)

// FilterResults returns the results matching the filter and the toggle
// predicates, in their original order. A toggle predicate is skipped for a
// result that lacks the readout it needs.
func FilterResults(results []models.ScanResult, f Filter, cfg strategy.Config) []models.ScanResult {
	out := make([]models.ScanResult, 0, len(results))
	for _, r := range results {
		if matches(r, f, cfg) {
			out = append(out, r)
		}
	}
	return out
}

func matches(r models.ScanResult, f Filter, cfg strategy.Config) bool {
	switch f.Side {
	case SideLong:
		if r.Side != models.SideLong {
			return false
		}
	case SideShort:
		if r.Side != models.SideShort {
			return false
		}
	}
	if f.Type != "" && r.Type != "" && r.Type != f.Type {
		return false
	}
	if cfg.OnlyPulse && r.Type != "" && r.Type != models.SetupPulse {
		return false
	}
	if cfg.UseADX && r.ADX != nil && !(*r.ADX > adxTrendThreshold) {
		return false
	}
	if cfg.UseRSI && r.RSI != nil && !(*r.RSI > rsiOverbought || *r.RSI < rsiOversold) {
		return false
	}
	return true
}

// Sentiment is the rounded share of longs among directional results, or 50
// when there are none.
func Sentiment(results []models.ScanResult) int {
	longs, shorts := countSides(results)
	return sentiment(longs, shorts)
}

func sentiment(longs, shorts int) int {
	if longs+shorts == 0 {
		return 50
	}
	return int(math.Round(100 * float64(longs) / float64(longs+shorts)))
}

func countSides(results []models.ScanResult) (longs, shorts int) {
	for _, r := range results {
		switch r.Side {
		case models.SideLong:
			longs++
		case models.SideShort:
			shorts++
		}
	}
	return longs, shorts
}

// Summary aggregates a full result set.
type Summary struct {
	Total     int `json:"total"`
	Longs     int `json:"longs"`
	Shorts    int `json:"shorts"`
	Sentiment int `json:"sentiment"`
}

func Summarize(results []models.ScanResult) Summary {
	longs, shorts := countSides(results)
	return Summary{
		Total:     len(results),
		Longs:     longs,
		Shorts:    shorts,
		Sentiment: sentiment(longs, shorts),
	}
}
