package dashboard

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"signalpulse/internal/strategy"
	"signalpulse/internal/theme"
	"signalpulse/models"
)

var templateFuncs = template.FuncMap{
	"reading": func(v *float64) string {
		if v == nil {
			return "n/a"
		}
		return fmt.Sprintf("%.1f", *v)
	},
	"lower": strings.ToLower,
	"venueName": func(v models.Venue) string {
		return v.DisplayName()
	},
	"since": func(t *time.Time) string {
		if t == nil {
			return "never"
		}
		return t.Format("15:04:05 MST")
	},
}

// clientKey identifies the browser across sessions, so the theme survives
// session eviction.
func (s *Server) clientKey(c *gin.Context) string {
	if key, err := c.Cookie(clientCookie); err == nil && key != "" {
		return key
	}
	key := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(clientCookie, key, int((365 * 24 * time.Hour).Seconds()), "/", "", s.secureCookies, true)
	return key
}

// systemDark reads the client's color-scheme hint from ?system= or the
// Sec-CH-Prefers-Color-Scheme header. Nil means no hint.
func systemDark(c *gin.Context) *bool {
	hint := c.Query("system")
	if hint == "" {
		hint = c.GetHeader("Sec-CH-Prefers-Color-Scheme")
	}
	var dark bool
	switch strings.ToLower(strings.Trim(hint, `" `)) {
	case "dark":
		dark = true
	case "light":
		dark = false
	default:
		return nil
	}
	return &dark
}

func (s *Server) preference(c *gin.Context) (*theme.Preference, *bool, error) {
	hint := systemDark(c)
	p, err := theme.Init(s.themes, s.clientKey(c), hint, s.defaultTheme)
	return p, hint, err
}

func themeBody(p *theme.Preference, hint *bool) gin.H {
	dark := hint != nil && *hint
	return gin.H{"theme": p.Current(), "resolved": p.Resolved(dark)}
}

func (s *Server) pageData(c *gin.Context) gin.H {
	resolved := s.defaultTheme
	if p, hint, err := s.preference(c); err == nil {
		resolved = p.Resolved(hint != nil && *hint)
	} else {
		s.log.WithComponent("dashboard").WithError(err).Warn("failed to load theme preference")
	}
	if resolved == theme.System {
		resolved = theme.Light
	}
	return gin.H{
		"AppName": s.appName,
		"Version": s.version,
		"Theme":   resolved,
	}
}

func (s *Server) page(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.HTML(http.StatusOK, name, s.pageData(c))
	}
}

func (s *Server) dashboardPage(c *gin.Context) {
	data := s.pageData(c)
	data["Session"] = controllerFrom(c).Snapshot()
	data["Venues"] = models.Venues
	data["Indicators"] = []strategy.Indicator{
		strategy.IndicatorRVOL, strategy.IndicatorRSI, strategy.IndicatorADX, strategy.IndicatorBBW,
	}
	c.HTML(http.StatusOK, "dashboard.tmpl", data)
}

func (s *Server) getTheme(c *gin.Context) {
	p, hint, err := s.preference(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, themeBody(p, hint))
}

type themeRequest struct {
	Theme string `json:"theme" binding:"required"`
}

func (s *Server) setTheme(c *gin.Context) {
	var req themeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t, err := theme.Parse(req.Theme)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, hint, err := s.preference(c)
	if err == nil {
		err = p.Set(t)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, themeBody(p, hint))
}

func (s *Server) toggleTheme(c *gin.Context) {
	p, hint, err := s.preference(c)
	if err == nil {
		_, err = p.Toggle()
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, themeBody(p, hint))
}

func (s *Server) opsLogs(c *gin.Context) {
	level := logrus.TraceLevel
	if q := c.Query("level"); q != "" {
		lvl, err := logrus.ParseLevel(q)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		level = lvl
	}
	records := s.logStore.snapshot(level)
	payload := make([]gin.H, 0, len(records))
	for _, l := range records {
		payload = append(payload, gin.H{
			"timestamp": l.Timestamp.Format(time.RFC3339Nano),
			"level":     l.Level,
			"component": l.Component,
			"message":   l.Message,
			"fields":    l.Fields,
		})
	}
	c.JSON(http.StatusOK, gin.H{"logs": payload})
}

func (s *Server) opsMetrics(c *gin.Context) {
	events := s.metricStore.snapshot()
	payload := make([]gin.H, 0, len(events))
	for _, m := range events {
		payload = append(payload, gin.H{
			"timestamp": m.Timestamp.Format(time.RFC3339Nano),
			"component": m.Component,
			"name":      m.Name,
			"value":     m.Value,
			"type":      m.Type,
			"fields":    m.Fields,
		})
	}
	c.JSON(http.StatusOK, gin.H{"metrics": payload, "totals": s.metricStore.totals()})
}

func (s *Server) opsResources(c *gin.Context) {
	snapshots := s.resourceSampler.snapshot()
	payload := make([]gin.H, 0, len(snapshots))
	for _, snap := range snapshots {
		payload = append(payload, gin.H{
			"timestamp":      snap.Timestamp.Format(time.RFC3339Nano),
			"cpu_percent":    snap.CPUPercent,
			"memory_used":    snap.MemoryUsed,
			"memory_total":   snap.MemoryTotal,
			"memory_percent": snap.MemoryPct,
			"disk_used":      snap.DiskUsed,
			"disk_total":     snap.DiskTotal,
			"disk_percent":   snap.DiskPct,
			"goroutines":     snap.Goroutines,
		})
	}
	c.JSON(http.StatusOK, gin.H{"resources": payload})
}
