package session

import (
	"time"

	"signalpulse/internal/strategy"
	"signalpulse/models"
)

// ResultView is a filtered result with its display fields resolved.
type ResultView struct {
	models.ScanResult
	ChangeLabel string `json:"change_label"`
	TypeLabel   string `json:"type_label,omitempty"`
	TradeURL    string `json:"trade_url,omitempty"`
}

// Snapshot is a consistent copy of the session for rendering.
type Snapshot struct {
	ID string `json:"id"`
	// Seq increases with every snapshot taken from the session.
	Seq       uint64          `json:"seq"`
	Venue     models.Venue    `json:"venue"`
	State     State           `json:"state"`
	Notice    *Notice         `json:"notice,omitempty"`
	Symbols   int             `json:"symbols"`
	Fallback  bool            `json:"fallback"`
	Config    strategy.Config `json:"config"`
	Filter    Filter          `json:"filter"`
	Summary   Summary         `json:"summary"`
	Results   []ResultView    `json:"results"`
	ScannedAt *time.Time      `json:"scanned_at,omitempty"`
}

// Snapshot returns the current session view. Results are filtered by the
// view filter and the configuration toggles.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	c.seq++
	s := Snapshot{
		ID:       c.id,
		Seq:      c.seq,
		Venue:    c.venue,
		State:    c.state,
		Symbols:  len(c.symbols),
		Fallback: c.fallback,
		Config:   c.config.Clone(),
		Filter:   c.filter,
		Summary:  Summarize(c.results),
	}
	if c.notice != nil {
		n := *c.notice
		s.Notice = &n
	}
	if !c.scannedAt.IsZero() {
		t := c.scannedAt
		s.ScannedAt = &t
	}

	filtered := FilterResults(c.results, c.filter, c.config)
	s.Results = make([]ResultView, len(filtered))
	for i, r := range filtered {
		v := ResultView{ScanResult: r, ChangeLabel: r.ChangeLabel()}
		if r.Type != "" {
			v.TypeLabel = r.Type.Label()
		}
		venue := c.venue
		if ev, err := models.ParseVenue(r.Exchange); err == nil {
			venue = ev
		}
		if url, ok := c.links.TradeURL(venue, r.Symbol); ok {
			v.TradeURL = url
		}
		s.Results[i] = v
	}
	return s
}
