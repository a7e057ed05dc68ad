package dashboard

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"signalpulse/internal/session"
	"signalpulse/internal/strategy"
	"signalpulse/logger"
	"signalpulse/models"
)

// sessionMiddleware resolves the caller's controller from the session
// cookie, creating a session on first contact.
func (s *Server) sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := c.Cookie(sessionCookie)
		ctl, created, err := s.registry.GetOrCreate(id)
		if err != nil {
			s.log.WithComponent("dashboard").WithError(err).Error("failed to create session")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session unavailable"})
			return
		}
		if created {
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(sessionCookie, ctl.ID(), 0, "/", "", s.secureCookies, true)
			s.updateSessionGauge()
		}
		c.Set(ctxController, ctl)
		c.Next()
	}
}

func controllerFrom(c *gin.Context) *session.Controller {
	return c.MustGet(ctxController).(*session.Controller)
}

// statusFor maps command errors onto HTTP status codes.
func statusFor(err error) int {
	var fe *models.FetchError
	var se *models.ScanError
	switch {
	case errors.Is(err, session.ErrScanInFlight), errors.Is(err, session.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone
	case errors.Is(err, strategy.ErrRuleNotFound):
		return http.StatusNotFound
	case errors.As(err, &fe), errors.As(err, &se):
		return http.StatusBadGateway
	}
	return http.StatusBadRequest
}

func (s *Server) fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func (s *Server) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, controllerFrom(c).Snapshot())
}

type venueRequest struct {
	Venue string `json:"venue" binding:"required"`
}

func (s *Server) selectVenue(c *gin.Context) {
	var req venueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, err)
		return
	}
	venue, err := models.ParseVenue(req.Venue)
	if err != nil {
		s.fail(c, err)
		return
	}
	ctl := controllerFrom(c)
	if err := ctl.SelectVenue(venue); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ctl.Snapshot())
}

// scan starts a scan in the background and answers with the in-progress
// snapshot. With ?wait=true it answers once the scan has finished.
func (s *Server) scan(c *gin.Context) {
	ctl := controllerFrom(c)
	if ctl.Busy() {
		s.fail(c, session.ErrScanInFlight)
		return
	}

	wait, _ := strconv.ParseBool(c.Query("wait"))
	if wait {
		err := ctl.Scan(c.Request.Context())
		if err != nil && session.IsRejection(err) {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, ctl.Snapshot())
		return
	}

	started := make(chan struct{})
	go func(ctx context.Context) {
		close(started)
		if err := ctl.Scan(ctx); err != nil && !session.IsRejection(err) {
			s.log.WithComponent("dashboard").WithError(err).WithFields(logger.Fields{"session_id": ctl.ID()}).Debug("background scan ended with error")
		}
	}(s.baseCtx)
	<-started
	c.JSON(http.StatusAccepted, ctl.Snapshot())
}

func (s *Server) setFilter(c *gin.Context) {
	var f session.Filter
	if err := c.ShouldBindJSON(&f); err != nil {
		s.fail(c, err)
		return
	}
	ctl := controllerFrom(c)
	if err := ctl.SetFilter(f); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ctl.Snapshot())
}

type toggleRequest struct {
	Name  string `json:"name" binding:"required"`
	Value bool   `json:"value"`
}

func (s *Server) setToggle(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, err)
		return
	}
	ctl := controllerFrom(c)
	if err := ctl.SetToggle(req.Name, req.Value); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ctl.Snapshot())
}

type ruleRequest struct {
	Indicator string `json:"indicator" binding:"required"`
}

func (s *Server) addRule(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, err)
		return
	}
	ind, err := strategy.ParseIndicator(req.Indicator)
	if err != nil {
		s.fail(c, err)
		return
	}
	ctl := controllerFrom(c)
	rule, err := ctl.AddRule(ind)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"rule": rule, "session": ctl.Snapshot()})
}

type ruleUpdateRequest struct {
	Field string `json:"field" binding:"required"`
	Value string `json:"value"`
}

func (s *Server) updateRule(c *gin.Context) {
	var req ruleUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, err)
		return
	}
	ctl := controllerFrom(c)
	if err := ctl.UpdateRule(c.Param("id"), strategy.RuleField(req.Field), req.Value); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ctl.Snapshot())
}

func (s *Server) removeRule(c *gin.Context) {
	ctl := controllerFrom(c)
	if err := ctl.RemoveRule(c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ctl.Snapshot())
}
