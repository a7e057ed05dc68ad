package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalpulse/internal/strategy"
	"signalpulse/internal/symbols"
	"signalpulse/models"
)

type fakeResolver struct {
	mu    sync.Mutex
	calls []models.Venue
	fn    func(ctx context.Context, venue models.Venue, limit int) (symbols.Resolution, error)
}

func (f *fakeResolver) Resolve(ctx context.Context, venue models.Venue, limit int) (symbols.Resolution, error) {
	f.mu.Lock()
	f.calls = append(f.calls, venue)
	f.mu.Unlock()
	return f.fn(ctx, venue, limit)
}

func (f *fakeResolver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type scanCall struct {
	venue   models.Venue
	symbols []string
	cfg     strategy.Config
}

type fakeScanner struct {
	mu    sync.Mutex
	calls []scanCall
	fn    func(ctx context.Context) ([]models.ScanResult, error)
}

func (f *fakeScanner) Scan(ctx context.Context, venue models.Venue, syms []string, cfg strategy.Config) ([]models.ScanResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, scanCall{venue: venue, symbols: syms, cfg: cfg})
	f.mu.Unlock()
	return f.fn(ctx)
}

func (f *fakeScanner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s Snapshot) {
	l.mu.Lock()
	l.states = append(l.states, s.State)
	l.mu.Unlock()
}

func (l *stateLog) all() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

func symbolsN(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("SYM%d/USDT:USDT", i)
	}
	return out
}

func listing(syms []string) func(context.Context, models.Venue, int) (symbols.Resolution, error) {
	return func(context.Context, models.Venue, int) (symbols.Resolution, error) {
		return symbols.Resolution{Symbols: syms}, nil
	}
}

func returning(results []models.ScanResult, err error) func(context.Context) ([]models.ScanResult, error) {
	return func(context.Context) ([]models.ScanResult, error) {
		return results, err
	}
}

func newController(t *testing.T, r *fakeResolver, s *fakeScanner, log *stateLog) *Controller {
	t.Helper()
	opts := Options{
		ID:      "test-session",
		Venue:   models.VenueBinance,
		Source:  "http://127.0.0.1:5000/api",
		Symbols: r,
		Scanner: s,
		Links:   symbols.NewLinker(map[string]string{"binance": "https://www.binance.com/en/futures/{symbol}"}),
	}
	if log != nil {
		opts.OnChange = log.record
	}
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

func f64(v float64) *float64 { return &v }

func TestScanFullCycle(t *testing.T) {
	syms := symbolsN(150)
	results := []models.ScanResult{
		{Symbol: "SYM1/USDT:USDT", Side: models.SideLong},
		{Symbol: "SYM2/USDT:USDT", Side: models.SideShort},
		{Symbol: "SYM3/USDT:USDT", Side: models.SideLong},
	}
	r := &fakeResolver{fn: listing(syms)}
	s := &fakeScanner{fn: returning(results, nil)}
	log := &stateLog{}
	c := newController(t, r, s, log)

	require.NoError(t, c.Scan(context.Background()))

	require.Equal(t, 1, s.count())
	call := s.calls[0]
	assert.Equal(t, models.VenueBinance, call.venue)
	assert.Len(t, call.symbols, 150)
	assert.False(t, call.cfg.UseRSI)
	assert.False(t, call.cfg.UseADX)

	snap := c.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.Notice)
	assert.Len(t, snap.Results, len(results))
	assert.Equal(t, Summary{Total: 3, Longs: 2, Shorts: 1, Sentiment: 67}, snap.Summary)
	assert.Equal(t, "https://www.binance.com/en/futures/SYM1USDT", snap.Results[0].TradeURL)
	assert.Equal(t, []State{StateFetchingSymbols, StateScanning, StateIdle}, log.all())
}

func TestEmptyResultsIsNotAnError(t *testing.T) {
	r := &fakeResolver{fn: listing(symbolsN(3))}
	s := &fakeScanner{fn: returning([]models.ScanResult{}, nil)}
	c := newController(t, r, s, nil)

	require.NoError(t, c.Scan(context.Background()))

	snap := c.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	require.NotNil(t, snap.Notice)
	assert.Equal(t, MsgNoSetups, snap.Notice.Message)
	assert.Equal(t, NoticeInfo, snap.Notice.Kind)
	assert.NotEqual(t, MsgScanFailed, snap.Notice.Message)
	assert.NotNil(t, snap.Results)
	assert.Empty(t, snap.Results)
}

func TestFetchTimeoutSkipsScan(t *testing.T) {
	r := &fakeResolver{fn: func(ctx context.Context, venue models.Venue, _ int) (symbols.Resolution, error) {
		return symbols.Resolution{}, &models.FetchError{Venue: venue, Source: "api", Err: context.DeadlineExceeded}
	}}
	s := &fakeScanner{fn: returning(nil, nil)}
	log := &stateLog{}
	c := newController(t, r, s, log)

	err := c.Scan(context.Background())
	var fe *models.FetchError
	require.ErrorAs(t, err, &fe)

	assert.Zero(t, s.count())
	assert.Equal(t, []State{StateFetchingSymbols, StateError}, log.all())
	snap := c.Snapshot()
	require.NotNil(t, snap.Notice)
	assert.Equal(t, "Fetch Error: context deadline exceeded", snap.Notice.Message)
}

func TestSentimentAndSideFilter(t *testing.T) {
	results := []models.ScanResult{
		{Symbol: "BTCUSDT", Side: models.SideLong},
		{Symbol: "ETHUSDT", Side: models.SideShort},
	}
	assert.Equal(t, 50, Sentiment(results))

	longs := FilterResults(results, Filter{Side: SideLong}, strategy.Config{})
	assert.Equal(t, results[:1], longs)
}

func TestStaleFetchDroppedAfterVenueSwitch(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	r := &fakeResolver{fn: func(ctx context.Context, venue models.Venue, _ int) (symbols.Resolution, error) {
		if venue == models.VenueBinance {
			close(started)
			<-release
			// the stale response arrives regardless of cancellation
			return symbols.Resolution{Symbols: []string{"BINANCE/USDT:USDT"}}, nil
		}
		return symbols.Resolution{Symbols: []string{"BYBIT/USDT:USDT"}}, nil
	}}
	s := &fakeScanner{fn: returning([]models.ScanResult{{Symbol: "BYBIT/USDT:USDT", Side: models.SideLong}}, nil)}
	c := newController(t, r, s, nil)

	errc := make(chan error, 1)
	go func() { errc <- c.Scan(context.Background()) }()
	<-started

	require.NoError(t, c.SelectVenue(models.VenueBybit))
	close(release)
	assert.ErrorIs(t, <-errc, ErrSuperseded)

	assert.Empty(t, c.Symbols())
	assert.Zero(t, s.count())
	assert.Equal(t, StateIdle, c.Snapshot().State)

	require.NoError(t, c.Scan(context.Background()))
	assert.Equal(t, []string{"BYBIT/USDT:USDT"}, c.Symbols())
	require.Equal(t, 1, s.count())
	assert.Equal(t, models.VenueBybit, s.calls[0].venue)
}

func TestVenueSwitchCancelsInFlightScan(t *testing.T) {
	r := &fakeResolver{fn: listing(symbolsN(2))}
	started := make(chan struct{})
	s := &fakeScanner{fn: func(ctx context.Context) ([]models.ScanResult, error) {
		close(started)
		<-ctx.Done()
		return nil, &models.ScanError{Venue: models.VenueBinance, Err: ctx.Err()}
	}}
	c := newController(t, r, s, nil)

	errc := make(chan error, 1)
	go func() { errc <- c.Scan(context.Background()) }()
	<-started
	require.NoError(t, c.SelectVenue(models.VenueMEXC))

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("scan was not cancelled by venue switch")
	}
	snap := c.Snapshot()
	assert.Equal(t, models.VenueMEXC, snap.Venue)
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.Notice)
}

func TestSnapshotsReachOnChangeInOrder(t *testing.T) {
	r := &fakeResolver{fn: listing(symbolsN(1))}
	scanStarted := make(chan struct{})
	releaseScan := make(chan struct{})
	s := &fakeScanner{fn: func(ctx context.Context) ([]models.ScanResult, error) {
		close(scanStarted)
		<-releaseScan
		return []models.ScanResult{{Symbol: "A", Side: models.SideLong}}, nil
	}}

	filterBlocked := make(chan struct{})
	releaseFilter := make(chan struct{})
	var mu sync.Mutex
	var published []Snapshot
	c, err := New(Options{
		Symbols: r,
		Scanner: s,
		OnChange: func(snap Snapshot) {
			if snap.Filter.Side == SideLong && snap.State == StateScanning {
				close(filterBlocked)
				<-releaseFilter
			}
			mu.Lock()
			published = append(published, snap)
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	scanDone := make(chan error, 1)
	go func() { scanDone <- c.Scan(context.Background()) }()
	<-scanStarted

	filterDone := make(chan error, 1)
	go func() { filterDone <- c.SetFilter(Filter{Side: SideLong}) }()
	<-filterBlocked

	close(releaseScan)
	// give the finished scan a chance to publish before the filter snapshot
	time.Sleep(50 * time.Millisecond)
	close(releaseFilter)
	require.NoError(t, <-scanDone)
	require.NoError(t, <-filterDone)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, published)
	for i := 1; i < len(published); i++ {
		assert.Greater(t, published[i].Seq, published[i-1].Seq)
	}
	last := published[len(published)-1]
	assert.Equal(t, StateIdle, last.State)
	assert.Len(t, last.Results, 1)
	assert.Equal(t, c.Snapshot().State, last.State)
}

func TestScanInFlightIsRejected(t *testing.T) {
	r := &fakeResolver{fn: listing(symbolsN(2))}
	release := make(chan struct{})
	started := make(chan struct{})
	s := &fakeScanner{fn: func(ctx context.Context) ([]models.ScanResult, error) {
		close(started)
		<-release
		return nil, nil
	}}
	c := newController(t, r, s, nil)

	errc := make(chan error, 1)
	go func() { errc <- c.Scan(context.Background()) }()
	<-started

	assert.ErrorIs(t, c.Scan(context.Background()), ErrScanInFlight)
	assert.True(t, c.Busy())
	close(release)
	require.NoError(t, <-errc)

	assert.Equal(t, 1, r.count())
	assert.Equal(t, 1, s.count())
	assert.False(t, c.Busy())
}

func TestScanFailureClearsResults(t *testing.T) {
	r := &fakeResolver{fn: listing(symbolsN(2))}
	s := &fakeScanner{fn: returning([]models.ScanResult{{Symbol: "A", Side: models.SideLong}}, nil)}
	c := newController(t, r, s, nil)
	require.NoError(t, c.Scan(context.Background()))
	require.Len(t, c.Results(), 1)

	s.fn = returning(nil, &models.ScanError{Venue: models.VenueBinance, Err: &models.StatusError{Code: 500, Status: "500 Internal Server Error"}})
	err := c.Scan(context.Background())
	var se *models.ScanError
	require.ErrorAs(t, err, &se)

	snap := c.Snapshot()
	assert.Equal(t, StateError, snap.State)
	assert.Equal(t, MsgScanFailed, snap.Notice.Message)
	assert.Empty(t, c.Results())
	assert.Equal(t, 1, r.count(), "cached symbols are reused across scans")

	s.fn = returning([]models.ScanResult{{Symbol: "B", Side: models.SideShort}}, nil)
	require.NoError(t, c.Scan(context.Background()))
	assert.Equal(t, StateIdle, c.Snapshot().State)
}

func TestRetryAfterFetchError(t *testing.T) {
	fail := true
	r := &fakeResolver{fn: func(ctx context.Context, venue models.Venue, _ int) (symbols.Resolution, error) {
		if fail {
			return symbols.Resolution{}, &models.FetchError{Venue: venue, Source: "api", Err: models.ErrEmptyPayload}
		}
		return symbols.Resolution{Symbols: []string{"BTC/USDT:USDT"}}, nil
	}}
	s := &fakeScanner{fn: returning(nil, nil)}
	log := &stateLog{}
	c := newController(t, r, s, log)

	require.Error(t, c.Scan(context.Background()))
	snap := c.Snapshot()
	assert.Equal(t, "Could not fetch assets from http://127.0.0.1:5000/api. Empty response.", snap.Notice.Message)

	fail = false
	require.NoError(t, c.Scan(context.Background()))
	assert.Equal(t, []State{
		StateFetchingSymbols, StateError,
		StateFetchingSymbols, StateScanning, StateIdle,
	}, log.all())
}

func TestStaticFallbackNotice(t *testing.T) {
	r := &fakeResolver{fn: func(context.Context, models.Venue, int) (symbols.Resolution, error) {
		return symbols.Resolution{Symbols: []string{"BTC/USDT:USDT"}, Fallback: true, Cause: errors.New("down")}, nil
	}}
	s := &fakeScanner{fn: returning([]models.ScanResult{{Symbol: "BTC/USDT:USDT", Side: models.SideLong}}, nil)}
	c := newController(t, r, s, nil)

	require.NoError(t, c.Scan(context.Background()))
	snap := c.Snapshot()
	assert.True(t, snap.Fallback)
	require.NotNil(t, snap.Notice)
	assert.Equal(t, MsgStaticFallback, snap.Notice.Message)
}

func TestConfigCommandsFlowIntoScan(t *testing.T) {
	r := &fakeResolver{fn: listing(symbolsN(1))}
	s := &fakeScanner{fn: returning(nil, nil)}
	c := newController(t, r, s, nil)

	require.NoError(t, c.SetToggle("use_adx", true))
	rule, err := c.AddRule(strategy.IndicatorRVOL)
	require.NoError(t, err)
	require.NoError(t, c.UpdateRule(rule.ID, strategy.FieldValue, "2"))
	assert.ErrorIs(t, c.SetToggle("use_macd", true), strategy.ErrUnknownToggle)

	require.NoError(t, c.Scan(context.Background()))
	cfg := s.calls[0].cfg
	assert.True(t, cfg.UseADX)
	require.Len(t, cfg.Rules, 1)
	assert.Equal(t, 2.0, cfg.Rules[0].Value)

	require.NoError(t, c.RemoveRule(rule.ID))
	assert.Empty(t, c.Config().Rules)
	assert.Len(t, s.calls[0].cfg.Rules, 1, "scan payload is isolated from later edits")
}

func TestFilterAndTogglesAreViewOnly(t *testing.T) {
	results := []models.ScanResult{
		{Symbol: "A", Side: models.SideLong, ADX: f64(30), Type: models.SetupPulse},
		{Symbol: "B", Side: models.SideShort, ADX: f64(10)},
		{Symbol: "C", Side: models.SideLong},
	}
	r := &fakeResolver{fn: listing(symbolsN(1))}
	s := &fakeScanner{fn: returning(results, nil)}
	c := newController(t, r, s, nil)
	require.NoError(t, c.Scan(context.Background()))

	require.NoError(t, c.SetFilter(Filter{Side: "long"}))
	snap := c.Snapshot()
	require.Len(t, snap.Results, 2)
	assert.Equal(t, "A", snap.Results[0].Symbol)
	assert.Equal(t, "SNIPER", snap.Results[0].TypeLabel)
	assert.Equal(t, 3, snap.Summary.Total)

	require.NoError(t, c.SetFilter(Filter{Side: SideAll}))
	require.NoError(t, c.SetToggle("use_adx", true))
	snap = c.Snapshot()
	assert.Len(t, snap.Results, 2, "B is dropped, C lacks ADX and is kept")
	assert.Equal(t, 1, s.count())

	assert.Error(t, c.SetFilter(Filter{Side: "NEUTRAL"}))
}

func TestSelectSameVenueIsNoop(t *testing.T) {
	r := &fakeResolver{fn: listing(symbolsN(1))}
	s := &fakeScanner{fn: returning([]models.ScanResult{{Symbol: "A", Side: models.SideLong}}, nil)}
	c := newController(t, r, s, nil)
	require.NoError(t, c.Scan(context.Background()))

	require.NoError(t, c.SelectVenue(models.VenueBinance))
	assert.Len(t, c.Results(), 1)

	assert.ErrorIs(t, c.SelectVenue("kraken"), models.ErrUnsupportedVenue)

	require.NoError(t, c.SelectVenue(models.VenueCoinbase))
	assert.Empty(t, c.Results())
	assert.Empty(t, c.Symbols())
}

func TestOnScanReport(t *testing.T) {
	var reports []models.ScanReport
	r := &fakeResolver{fn: listing(symbolsN(4))}
	s := &fakeScanner{fn: returning([]models.ScanResult{{Symbol: "A", Side: models.SideShort}}, nil)}
	c, err := New(Options{
		Symbols: r,
		Scanner: s,
		Venue:   models.VenueBybit,
		OnScan:  func(rep models.ScanReport) { reports = append(reports, rep) },
	})
	require.NoError(t, err)

	require.NoError(t, c.Scan(context.Background()))
	require.Len(t, reports, 1)
	rep := reports[0]
	assert.NotEmpty(t, rep.ScanID)
	assert.Equal(t, c.ID(), rep.SessionID)
	assert.Equal(t, models.VenueBybit, rep.Venue)
	assert.Equal(t, 4, rep.Symbols)
	assert.Equal(t, 0, rep.Sentiment)
	assert.Equal(t, 1, rep.Shorts)
}

func TestClosedControllerRejectsCommands(t *testing.T) {
	c := newController(t, &fakeResolver{fn: listing(symbolsN(1))}, &fakeScanner{fn: returning(nil, nil)}, nil)
	c.Close()
	assert.ErrorIs(t, c.Scan(context.Background()), ErrClosed)
	assert.ErrorIs(t, c.SetToggle("use_rsi", true), ErrClosed)
	assert.True(t, IsRejection(ErrClosed))
}
