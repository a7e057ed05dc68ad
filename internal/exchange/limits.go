package exchange

import (
	"strings"

	"signalpulse/logger"
	"signalpulse/models"
)

// detectLimit classifies a venue error message as a rate limit or an IP ban.
func detectLimit(venue models.Venue, msg string) (rateLimit bool, ipBan bool) {
	lowerMsg := strings.ToLower(msg)
	switch venue {
	case models.VenueBinance:
		rateLimit = strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "-1003")
		ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban")
	case models.VenueBybit:
		ipBan = strings.Contains(lowerMsg, "ip rate limit") || (strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban"))
		rateLimit = !ipBan && (strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "too many visits"))
	default:
		rateLimit = strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "too many requests")
		ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban")
	}
	return
}

// reportLimit records rate limit and ban events found in msg.
func reportLimit(log *logger.Log, venue models.Venue, msg string) {
	rateLimit, ipBan := detectLimit(venue, msg)
	if !rateLimit && !ipBan {
		return
	}
	component := string(venue) + "_directory"
	l := log.WithComponent(component)
	fields := logger.Fields{"exchange": string(venue)}
	if rateLimit {
		l.LogMetric(component, "rate_limit_exceeded", int64(1), "counter", fields)
		l.WithFields(fields).Warn("rate limit exceeded")
	}
	if ipBan {
		l.LogMetric(component, "ip_ban", int64(1), "counter", fields)
		l.WithFields(fields).Error("ip banned")
	}
}
