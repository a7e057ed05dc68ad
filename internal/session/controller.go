// Package session implements the scan session controller: it resolves the
// symbol set, runs scans against the backend and keeps the last result set
// together with the user's configuration and view filter.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"signalpulse/internal/strategy"
	"signalpulse/internal/symbols"
	"signalpulse/logger"
	"signalpulse/models"
)

const (
	DefaultLimit   = 150
	DefaultTimeout = 30 * time.Second
)

// Resolver produces the symbol set for a venue.
type Resolver interface {
	Resolve(ctx context.Context, venue models.Venue, limit int) (symbols.Resolution, error)
}

// Scanner executes one scan.
type Scanner interface {
	Scan(ctx context.Context, venue models.Venue, symbols []string, cfg strategy.Config) ([]models.ScanResult, error)
}

// Recorder receives request outcomes. Outcome is "ok", "empty", "fallback",
// "error" or "superseded".
type Recorder interface {
	ObserveFetch(venue models.Venue, outcome string)
	ObserveScan(venue models.Venue, outcome string, d time.Duration)
}

type Options struct {
	ID       string
	Venue    models.Venue
	Limit    int
	Timeout  time.Duration
	Source   string
	Symbols  Resolver
	Scanner  Scanner
	Recorder Recorder
	Links    *symbols.Linker
	// OnChange is called after every state change, outside the lock and in
	// snapshot order. It must not issue controller commands.
	OnChange func(Snapshot)
	// OnScan is called after every successful scan.
	OnScan func(models.ScanReport)
}

// Controller is one scan session. It is safe for concurrent use.
type Controller struct {
	id       string
	limit    int
	timeout  time.Duration
	source   string
	resolver Resolver
	scanner  Scanner
	recorder Recorder
	links    *symbols.Linker
	onChange func(Snapshot)
	onScan   func(models.ScanReport)
	log      *logger.Entry

	emitMu  sync.Mutex
	emitted uint64

	mu         sync.Mutex
	venue      models.Venue
	state      State
	notice     *Notice
	symbols    []string
	fallback   bool
	results    []models.ScanResult
	config     strategy.Config
	filter     Filter
	inflight   bool
	generation uint64
	cancel     context.CancelFunc
	scannedAt  time.Time
	closed     bool
	seq        uint64
}

func New(opts Options) (*Controller, error) {
	if opts.Symbols == nil || opts.Scanner == nil {
		return nil, fmt.Errorf("session: symbol resolver and scanner are required")
	}
	venue := opts.Venue
	if venue == "" {
		venue = models.VenueBinance
	}
	if !venue.Valid() {
		return nil, fmt.Errorf("session: %w: %q", models.ErrUnsupportedVenue, venue)
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Controller{
		id:       id,
		limit:    limit,
		timeout:  timeout,
		source:   opts.Source,
		resolver: opts.Symbols,
		scanner:  opts.Scanner,
		recorder: opts.Recorder,
		links:    opts.Links,
		onChange: opts.OnChange,
		onScan:   opts.OnScan,
		log:      logger.GetLogger().WithComponent("session").WithFields(logger.Fields{"session_id": id}),
		venue:    venue,
		state:    StateIdle,
		filter:   Filter{Side: SideAll},
	}, nil
}

func (c *Controller) ID() string {
	return c.id
}

// Scan runs the full cycle: resolve symbols when none are cached, then scan.
// It returns ErrScanInFlight without any request when another fetch or scan
// is running, and ErrSuperseded when the venue changed before the response
// arrived.
func (c *Controller) Scan(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.inflight {
		c.mu.Unlock()
		return ErrScanInFlight
	}
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.inflight = true
	c.cancel = cancel
	gen := c.generation
	venue := c.venue
	syms := append([]string(nil), c.symbols...)
	cfg := c.config.Clone()
	c.notice = nil
	if len(syms) == 0 {
		c.state = StateFetchingSymbols
	} else {
		c.state = StateScanning
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)

	if len(syms) == 0 {
		var err error
		if syms, err = c.fetch(opCtx, gen, venue); err != nil {
			return err
		}
	}
	return c.execute(opCtx, gen, venue, syms, cfg)
}

func (c *Controller) fetch(ctx context.Context, gen uint64, venue models.Venue) ([]string, error) {
	fctx, cancel := context.WithTimeout(ctx, c.timeout)
	res, err := c.resolver.Resolve(fctx, venue, c.limit)
	cancel()

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.observeFetch(venue, "superseded")
		c.log.WithFields(logger.Fields{"venue": venue}).Debug("dropping stale symbol response")
		return nil, ErrSuperseded
	}
	if err != nil {
		c.finishLocked()
		c.state = StateError
		c.notice = &Notice{Kind: NoticeError, Message: fetchMessage(err, c.source)}
		snap := c.snapshotLocked()
		c.mu.Unlock()

		c.observeFetch(venue, "error")
		c.log.WithError(err).WithFields(logger.Fields{"venue": venue}).Warn("symbol fetch failed")
		c.emit(snap)
		return nil, err
	}

	c.symbols = res.Symbols
	c.fallback = res.Fallback
	c.state = StateScanning
	if res.Fallback {
		c.notice = &Notice{Kind: NoticeWarning, Message: MsgStaticFallback}
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	outcome := "ok"
	if res.Fallback {
		outcome = "fallback"
	}
	c.observeFetch(venue, outcome)
	c.emit(snap)
	return append([]string(nil), res.Symbols...), nil
}

func (c *Controller) execute(ctx context.Context, gen uint64, venue models.Venue, syms []string, cfg strategy.Config) error {
	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, c.timeout)
	results, err := c.scanner.Scan(sctx, venue, syms, cfg)
	cancel()
	elapsed := time.Since(start)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.observeScan(venue, "superseded", elapsed)
		c.log.WithFields(logger.Fields{"venue": venue}).Debug("dropping stale scan response")
		return ErrSuperseded
	}
	c.finishLocked()

	if err != nil {
		c.results = nil
		c.state = StateError
		c.notice = &Notice{Kind: NoticeError, Message: MsgScanFailed}
		snap := c.snapshotLocked()
		c.mu.Unlock()

		c.observeScan(venue, "error", elapsed)
		c.log.WithError(err).WithFields(logger.Fields{"venue": venue, "symbols": len(syms)}).Warn("scan failed")
		c.emit(snap)
		return err
	}

	if results == nil {
		results = []models.ScanResult{}
	}
	c.results = results
	c.state = StateIdle
	c.scannedAt = time.Now().UTC()
	outcome := "ok"
	if len(results) == 0 {
		outcome = "empty"
		c.notice = &Notice{Kind: NoticeInfo, Message: MsgNoSetups}
	}
	summary := Summarize(results)
	report := models.ScanReport{
		ScanID:      uuid.NewString(),
		SessionID:   c.id,
		Venue:       venue,
		Symbols:     len(syms),
		Config:      cfg,
		Results:     append([]models.ScanResult(nil), results...),
		Longs:       summary.Longs,
		Shorts:      summary.Shorts,
		Sentiment:   summary.Sentiment,
		Duration:    float64(elapsed.Microseconds()) / 1000,
		CompletedAt: c.scannedAt,
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.observeScan(venue, outcome, elapsed)
	logger.LogPerformanceEntry(c.log, "session", "scan", elapsed, logger.Fields{
		"venue":   venue,
		"symbols": len(syms),
		"results": len(results),
	})
	c.emit(snap)
	if c.onScan != nil {
		c.onScan(report)
	}
	return nil
}

func (c *Controller) finishLocked() {
	c.inflight = false
	c.cancel = nil
}

// SelectVenue switches the session to another venue. The cached symbols and
// results are dropped and any in-flight request is cancelled; its response
// will be discarded. Selecting the current venue is a no-op.
func (c *Controller) SelectVenue(venue models.Venue) error {
	if !venue.Valid() {
		return fmt.Errorf("%w: %q", models.ErrUnsupportedVenue, venue)
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if venue == c.venue {
		c.mu.Unlock()
		return nil
	}
	c.resetLocked()
	c.venue = venue
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.WithFields(logger.Fields{"venue": venue}).Info("venue selected")
	c.emit(snap)
	return nil
}

func (c *Controller) resetLocked() {
	c.generation++
	if c.cancel != nil {
		c.cancel()
	}
	c.finishLocked()
	c.symbols = nil
	c.fallback = false
	c.results = nil
	c.notice = nil
	c.scannedAt = time.Time{}
	c.state = StateIdle
}

// Close cancels any in-flight request and rejects further commands.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.resetLocked()
	c.closed = true
}

// Busy reports whether a fetch or scan is in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight
}

// SetFilter changes the view filter. Results are not refetched.
func (c *Controller) SetFilter(f Filter) error {
	side, err := ParseSideFilter(string(f.Side))
	if err != nil {
		return err
	}
	f.Side = side
	switch f.Type {
	case "", models.SetupMomentum, models.SetupPulse:
	default:
		return fmt.Errorf("invalid setup type filter %q", f.Type)
	}
	return c.mutate(func() error {
		c.filter = f
		return nil
	})
}

func (c *Controller) SetToggle(name string, value bool) error {
	return c.mutate(func() error {
		return c.config.SetToggle(name, value)
	})
}

func (c *Controller) AddRule(ind strategy.Indicator) (strategy.Rule, error) {
	var rule strategy.Rule
	err := c.mutate(func() error {
		var err error
		rule, err = c.config.AddRule(ind)
		return err
	})
	return rule, err
}

func (c *Controller) RemoveRule(id string) error {
	return c.mutate(func() error {
		return c.config.RemoveRule(id)
	})
}

func (c *Controller) UpdateRule(id string, field strategy.RuleField, value string) error {
	return c.mutate(func() error {
		return c.config.UpdateRule(id, field, value)
	})
}

func (c *Controller) mutate(fn func() error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if err := fn(); err != nil {
		c.mu.Unlock()
		return err
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)
	return nil
}

// Config returns a copy of the scan configuration.
func (c *Controller) Config() strategy.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config.Clone()
}

// Results returns a copy of the full, unfiltered result set.
func (c *Controller) Results() []models.ScanResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.ScanResult(nil), c.results...)
}

// Symbols returns a copy of the cached symbol set.
func (c *Controller) Symbols() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.symbols...)
}

// emit hands s to OnChange unless a newer snapshot was already delivered.
func (c *Controller) emit(s Snapshot) {
	if c.onChange == nil {
		return
	}
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if s.Seq <= c.emitted {
		return
	}
	c.emitted = s.Seq
	c.onChange(s)
}

func (c *Controller) observeFetch(venue models.Venue, outcome string) {
	if c.recorder != nil {
		c.recorder.ObserveFetch(venue, outcome)
	}
}

func (c *Controller) observeScan(venue models.Venue, outcome string, d time.Duration) {
	if c.recorder != nil {
		c.recorder.ObserveScan(venue, outcome, d)
	}
}

// IsRejection reports whether err is a controller-level rejection rather
// than a request failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrScanInFlight) || errors.Is(err, ErrSuperseded) || errors.Is(err, ErrClosed)
}
