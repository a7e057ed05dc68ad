// Package dashboard serves the scanner web UI and its JSON API.
package dashboard

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"signalpulse/config"
	"signalpulse/internal/metrics"
	"signalpulse/internal/session"
	"signalpulse/internal/theme"
	"signalpulse/logger"
)

//go:embed templates/*.tmpl assets/*
var embeddedFS embed.FS

const (
	sessionCookie = "pulse_session"
	clientCookie  = "pulse_client"
	ctxController = "controller"
)

type Options struct {
	Server    config.ServerConfig
	Metrics   config.MetricsConfig
	AppName   string
	Version   string
	Registry  *session.Registry
	Hub       *Hub
	Themes    theme.Store
	Collector *metrics.Collector
	Log       *logger.Log
	// SecureCookies marks session cookies Secure, for TLS-fronted deployments.
	SecureCookies bool
}

// Server hosts the Gin-powered scanner UI, its session API and the ops
// panels.
type Server struct {
	cfg             config.ServerConfig
	metricsCfg      config.MetricsConfig
	appName         string
	version         string
	log             *logger.Log
	registry        *session.Registry
	hub             *Hub
	themes          theme.Store
	defaultTheme    theme.Theme
	collector       *metrics.Collector
	metricStore     *metricStore
	logStore        *logStore
	metricHandler   metrics.MetricHandlerID
	httpServer      *http.Server
	resourceSampler *resourceSampler
	baseCtx         context.Context
	secureCookies   bool
}

func NewServer(opts Options) (*Server, error) {
	if opts.Registry == nil {
		return nil, errors.New("dashboard: session registry is required")
	}
	if opts.Log == nil {
		opts.Log = logger.GetLogger()
	}
	if opts.Hub == nil {
		opts.Hub = NewHub()
	}
	if opts.Themes == nil {
		opts.Themes = theme.NewMemoryStore()
	}

	cfg := opts.Server
	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}
	if cfg.ResourceHistory <= 0 {
		cfg.ResourceHistory = 200
	}
	if cfg.ResourceInterval <= 0 {
		cfg.ResourceInterval = 5 * time.Second
	}
	if opts.Metrics.Path == "" {
		opts.Metrics.Path = "/metrics"
	}

	def := theme.Light
	if cfg.DefaultTheme != "" {
		t, err := theme.Parse(cfg.DefaultTheme)
		if err != nil {
			return nil, fmt.Errorf("dashboard: %w", err)
		}
		def = t
	}

	metricStore := newMetricStore(cfg.LogHistory)
	handlerID := metrics.RegisterMetricHandler(metricStore.handle)

	logStore := newLogStore(cfg.LogHistory)
	opts.Log.AddHook(logStore)

	s := &Server{
		cfg:             cfg,
		metricsCfg:      opts.Metrics,
		appName:         opts.AppName,
		version:         opts.Version,
		log:             opts.Log,
		registry:        opts.Registry,
		hub:             opts.Hub,
		themes:          opts.Themes,
		defaultTheme:    def,
		collector:       opts.Collector,
		metricStore:     metricStore,
		logStore:        logStore,
		metricHandler:   handlerID,
		resourceSampler: newResourceSampler(cfg.ResourceHistory, cfg.ResourceInterval, "/", opts.Log),
		baseCtx:         context.Background(),
		secureCookies:   opts.SecureCookies,
	}
	if s.appName == "" {
		s.appName = "SignalPulse"
	}

	s.registry.OnEvict(func(id string) {
		s.hub.Drop(id)
		s.updateSessionGauge()
	})
	return s, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or the server
// exits with an error.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()
	s.baseCtx = ctx

	router, err := s.buildRouter()
	if err != nil {
		return err
	}

	s.resourceSampler.start(ctx)

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.WithComponent("dashboard").WithFields(logger.Fields{"address": s.cfg.Address}).Info("dashboard listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.Close()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	if s.logStore != nil {
		s.logStore.close()
	}
	if s.resourceSampler != nil {
		s.resourceSampler.stop()
	}
}

// Address reports the network address the server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	tmpl, err := template.New("pages").Funcs(templateFuncs).ParseFS(embeddedFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	router.SetHTMLTemplate(tmpl)

	if assetsFS, err := fsSub("assets"); err == nil {
		router.StaticFS("/assets", http.FS(assetsFS))
	}

	router.GET("/", s.page("index.tmpl"))
	router.GET("/learn", s.page("learn.tmpl"))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": s.registry.Len()})
	})

	withSession := router.Group("/", s.sessionMiddleware())
	withSession.GET("/dashboard", s.dashboardPage)
	withSession.GET("/ws", s.serveWS)

	api := withSession.Group("/api/session")
	api.GET("", s.getSession)
	api.POST("/venue", s.selectVenue)
	api.POST("/scan", s.scan)
	api.POST("/filter", s.setFilter)
	api.POST("/toggles", s.setToggle)
	api.POST("/rules", s.addRule)
	api.PATCH("/rules/:id", s.updateRule)
	api.DELETE("/rules/:id", s.removeRule)

	router.GET("/api/theme", s.getTheme)
	router.POST("/api/theme", s.setTheme)
	router.POST("/api/theme/toggle", s.toggleTheme)

	ops := router.Group("/api/ops")
	ops.GET("/logs", s.opsLogs)
	ops.GET("/metrics", s.opsMetrics)
	ops.GET("/resources", s.opsResources)

	if s.metricsCfg.Enabled && s.collector != nil {
		router.GET(s.metricsCfg.Path, gin.WrapH(s.collector.Handler()))
	}

	return router, nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/healthz" || strings.HasPrefix(c.Request.URL.Path, "/assets") {
			return
		}
		s.log.WithComponent("dashboard").WithFields(logger.Fields{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("request served")
	}
}

func (s *Server) updateSessionGauge() {
	if s.collector != nil {
		s.collector.SetSessions(s.registry.Len())
	}
}

func fsSub(path string) (fs.FS, error) {
	sub, err := fs.Sub(embeddedFS, path)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
