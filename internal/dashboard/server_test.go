package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalpulse/config"
	"signalpulse/internal/metrics"
	"signalpulse/internal/session"
	"signalpulse/internal/strategy"
	"signalpulse/internal/symbols"
	"signalpulse/internal/theme"
	"signalpulse/logger"
	"signalpulse/models"
)

type stubResolver struct{}

func (stubResolver) Resolve(_ context.Context, _ models.Venue, _ int) (symbols.Resolution, error) {
	return symbols.Resolution{Symbols: []string{"BTC/USDT:USDT", "ETH/USDT:USDT"}}, nil
}

type stubScanner struct {
	results []models.ScanResult
	err     error
}

func (s stubScanner) Scan(_ context.Context, _ models.Venue, _ []string, _ strategy.Config) ([]models.ScanResult, error) {
	return s.results, s.err
}

func rsi(v float64) *float64 { return &v }

type testEnv struct {
	srv    *Server
	router *gin.Engine
	hub    *Hub
	reg    *session.Registry
	themes *theme.MemoryStore
}

func newTestEnv(t *testing.T, scanner session.Scanner) *testEnv {
	t.Helper()
	hub := NewHub()
	links := symbols.NewLinker(map[string]string{"bybit": "https://www.bybit.com/trade/usdt/{symbol}"})
	reg := session.NewRegistry(time.Hour, func(id string) (*session.Controller, error) {
		return session.New(session.Options{
			ID:       id,
			Venue:    models.VenueBybit,
			Symbols:  stubResolver{},
			Scanner:  scanner,
			Links:    links,
			OnChange: hub.Publish,
		})
	})
	t.Cleanup(reg.Close)

	themes := theme.NewMemoryStore()
	srv, err := NewServer(Options{
		Server:    config.ServerConfig{Address: ":0", LogHistory: 20},
		Metrics:   config.MetricsConfig{Enabled: true, Path: "/metrics"},
		AppName:   "SignalPulse",
		Registry:  reg,
		Hub:       hub,
		Themes:    themes,
		Collector: metrics.New(),
		Log:       logger.Logger(),
	})
	require.NoError(t, err)
	t.Cleanup(srv.cleanup)

	router, err := srv.buildRouter()
	require.NoError(t, err)
	return &testEnv{srv: srv, router: router, hub: hub, reg: reg, themes: themes}
}

// client keeps cookies between requests like a browser would.
type client struct {
	t       *testing.T
	router  http.Handler
	cookies map[string]*http.Cookie
}

func (e *testEnv) client(t *testing.T) *client {
	return &client{t: t, router: e.router, cookies: map[string]*http.Cookie{}}
}

func (c *client) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)
	for _, ck := range rec.Result().Cookies() {
		c.cookies[ck.Name] = ck
	}
	return rec
}

func (c *client) snapshot(rec *httptest.ResponseRecorder) session.Snapshot {
	c.t.Helper()
	var s session.Snapshot
	require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &s), rec.Body.String())
	return s
}

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":                           "0.0.0.0:8080",
		"  :9090  ":                  "0.0.0.0:9090",
		"localhost":                  "localhost:8080",
		"0.0.0.0:80":                 "0.0.0.0:80",
		"[::1]:443":                  "[::1]:443",
		"::1":                        "[::1]:8080",
		"*:8080":                     "0.0.0.0:8080",
		"http://10.0.0.5:8080":       "10.0.0.5:8080",
		"https://10.0.0.5":           "10.0.0.5:8080",
		"http://:7070":               "0.0.0.0:7070",
		"https://pulse.example.com/": "pulse.example.com:8080",
	}

	for input, want := range cases {
		if got := normalizeAddress(input); got != want {
			t.Fatalf("normalizeAddress(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNewServerRequiresRegistry(t *testing.T) {
	_, err := NewServer(Options{})
	assert.Error(t, err)
}

func TestNewServerRejectsUnknownDefaultTheme(t *testing.T) {
	reg := session.NewRegistry(time.Hour, nil)
	_, err := NewServer(Options{Registry: reg, Server: config.ServerConfig{DefaultTheme: "sepia"}})
	assert.Error(t, err)
}

func TestSessionCookieIsStable(t *testing.T) {
	env := newTestEnv(t, stubScanner{})
	c := env.client(t)

	first := c.snapshot(c.do(http.MethodGet, "/api/session", ""))
	second := c.snapshot(c.do(http.MethodGet, "/api/session", ""))

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.ID, c.cookies[sessionCookie].Value)
	assert.Equal(t, 1, env.reg.Len())
	assert.Equal(t, session.StateIdle, first.State)
	assert.Equal(t, models.VenueBybit, first.Venue)
}

func TestScanAndFilterFlow(t *testing.T) {
	env := newTestEnv(t, stubScanner{results: []models.ScanResult{
		{Symbol: "BTC/USDT:USDT", Side: models.SideLong, Price: "65000", RSI: rsi(55), Type: models.SetupPulse},
		{Symbol: "ETH/USDT:USDT", Side: models.SideShort, Price: "3200", RSI: rsi(25)},
	}})
	c := env.client(t)

	rec := c.do(http.MethodPost, "/api/session/scan?wait=true", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap := c.snapshot(rec)
	assert.Equal(t, session.StateIdle, snap.State)
	assert.Equal(t, 2, snap.Symbols)
	require.Len(t, snap.Results, 2)
	assert.Equal(t, 50, snap.Summary.Sentiment)
	assert.Equal(t, "SNIPER", snap.Results[0].TypeLabel)
	assert.Equal(t, "https://www.bybit.com/trade/usdt/BTCUSDT", snap.Results[0].TradeURL)

	rec = c.do(http.MethodPost, "/api/session/filter", `{"side":"SHORT"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	snap = c.snapshot(rec)
	require.Len(t, snap.Results, 1)
	assert.Equal(t, "ETH/USDT:USDT", snap.Results[0].Symbol)
	assert.Equal(t, 50, snap.Summary.Sentiment)

	rec = c.do(http.MethodPost, "/api/session/filter", `{"side":"UP"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScanFailureIsReportedInSnapshot(t *testing.T) {
	env := newTestEnv(t, stubScanner{err: &models.ScanError{Venue: models.VenueBybit, Err: context.DeadlineExceeded}})
	c := env.client(t)

	rec := c.do(http.MethodPost, "/api/session/scan?wait=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := c.snapshot(rec)
	assert.Equal(t, session.StateError, snap.State)
	require.NotNil(t, snap.Notice)
	assert.Equal(t, session.MsgScanFailed, snap.Notice.Message)
}

func TestBackgroundScanAccepted(t *testing.T) {
	env := newTestEnv(t, stubScanner{})
	c := env.client(t)

	rec := c.do(http.MethodPost, "/api/session/scan", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	id := c.cookies[sessionCookie].Value
	ctl, ok := env.reg.Get(id)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		s := ctl.Snapshot()
		return s.State == session.StateIdle && s.Notice != nil
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, session.MsgNoSetups, ctl.Snapshot().Notice.Message)
}

func TestVenueAndConfigCommands(t *testing.T) {
	env := newTestEnv(t, stubScanner{})
	c := env.client(t)

	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/api/session/venue", `{"venue":"kraken"}`).Code)
	snap := c.snapshot(c.do(http.MethodPost, "/api/session/venue", `{"venue":"MEXC"}`))
	assert.Equal(t, models.VenueMEXC, snap.Venue)

	snap = c.snapshot(c.do(http.MethodPost, "/api/session/toggles", `{"name":"use_adx","value":true}`))
	assert.True(t, snap.Config.UseADX)
	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/api/session/toggles", `{"name":"use_macd","value":true}`).Code)

	rec := c.do(http.MethodPost, "/api/session/rules", `{"indicator":"rsi"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Rule strategy.Rule `json:"rule"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, strategy.IndicatorRSI, created.Rule.Indicator)

	snap = c.snapshot(c.do(http.MethodPatch, "/api/session/rules/"+created.Rule.ID, `{"field":"value","value":"40"}`))
	require.Len(t, snap.Config.Rules, 1)
	assert.Equal(t, 40.0, snap.Config.Rules[0].Value)

	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPatch, "/api/session/rules/"+created.Rule.ID, `{"field":"operator","value":"=="}`).Code)

	snap = c.snapshot(c.do(http.MethodDelete, "/api/session/rules/"+created.Rule.ID, ""))
	assert.Empty(t, snap.Config.Rules)
	assert.Equal(t, http.StatusNotFound, c.do(http.MethodDelete, "/api/session/rules/"+created.Rule.ID, "").Code)
}

func TestThemeEndpoints(t *testing.T) {
	env := newTestEnv(t, stubScanner{})
	c := env.client(t)

	var body map[string]string
	rec := c.do(http.MethodGet, "/api/theme?system=dark", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "dark", body["theme"])

	rec = c.do(http.MethodPost, "/api/theme/toggle", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "dark", body["theme"])

	rec = c.do(http.MethodPost, "/api/theme", `{"theme":"system"}`, "Sec-CH-Prefers-Color-Scheme", `"dark"`)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "system", body["theme"])
	assert.Equal(t, "dark", body["resolved"])

	stored, ok, _ := env.themes.Load(c.cookies[clientCookie].Value)
	require.True(t, ok)
	assert.Equal(t, theme.System, stored)

	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/api/theme", `{"theme":"sepia"}`).Code)
}

func TestPagesRender(t *testing.T) {
	env := newTestEnv(t, stubScanner{})
	c := env.client(t)

	for path, want := range map[string]string{
		"/":          "Open the scanner",
		"/learn":     "EMA stack",
		"/dashboard": `id="initial-session"`,
	} {
		rec := c.do(http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Body.String(), want, path)
	}
}

func TestOpsAndHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, stubScanner{})
	c := env.client(t)

	metrics.EmitMetric(logger.Logger(), "session", "scan_completed", 1, "counter", logger.Fields{"venue": "bybit"})
	env.srv.log.WithComponent("test").Warn("ops warning")

	rec := c.do(http.MethodGet, "/api/ops/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"scan_completed":1`)

	rec = c.do(http.MethodGet, "/api/ops/logs?level=warn", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ops warning")
	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodGet, "/api/ops/logs?level=loud", "").Code)

	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/ops/resources", "").Code)
	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/healthz", "").Code)

	rec = c.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "signalpulse_active_sessions")
}
