package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the trade direction of a setup.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// ParseSide accepts LONG or SHORT in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideLong:
		return SideLong, nil
	case SideShort:
		return SideShort, nil
	default:
		return "", fmt.Errorf("invalid side %q", s)
	}
}

// SetupType tags how a setup was detected.
type SetupType string

const (
	SetupMomentum SetupType = "MOMENTUM"
	// SetupPulse marks high-conviction ("sniper") entries.
	SetupPulse SetupType = "PULSE"
)

// Label is the badge text shown for a setup type.
func (t SetupType) Label() string {
	if t == SetupPulse {
		return "SNIPER"
	}
	return "MOMENTUM"
}

// StackCheck records whether the EMA stack held on one timeframe.
type StackCheck struct {
	Timeframe string `json:"timeframe"`
	Pass      bool   `json:"pass"`
}

// ScanResult is one matched symbol returned by a scan.
//
// Indicator readouts are nil when the backend did not report them.
type ScanResult struct {
	Symbol    string              `json:"symbol"`
	Side      Side                `json:"side"`
	Price     string              `json:"price"`
	Change24h decimal.NullDecimal `json:"change_24h"`
	RSI       *float64            `json:"rsi,omitempty"`
	ADX       *float64            `json:"adx,omitempty"`
	RVOL      *float64            `json:"rvol,omitempty"`
	BBWidth   *float64            `json:"bb_width,omitempty"`
	Type      SetupType           `json:"type,omitempty"`
	Exchange  string              `json:"exchange,omitempty"`
	Stacks    []StackCheck        `json:"stacks,omitempty"`
}

// ChangeLabel formats the 24h change as a signed percentage, e.g. "+1.25%".
func (r ScanResult) ChangeLabel() string {
	if !r.Change24h.Valid {
		return "n/a"
	}
	d := r.Change24h.Decimal
	if d.IsPositive() {
		return "+" + d.String() + "%"
	}
	return d.String() + "%"
}

// ScanReport describes a completed scan for downstream consumers.
type ScanReport struct {
	ScanID      string       `json:"scan_id"`
	SessionID   string       `json:"session_id"`
	Venue       Venue        `json:"venue"`
	Symbols     int          `json:"symbols"`
	Config      any          `json:"config"`
	Results     []ScanResult `json:"results"`
	Longs       int          `json:"longs"`
	Shorts      int          `json:"shorts"`
	Sentiment   int          `json:"sentiment"`
	Duration    float64      `json:"duration_ms"`
	CompletedAt time.Time    `json:"completed_at"`
}
