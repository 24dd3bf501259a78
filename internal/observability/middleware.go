package observability

import (
	"time"

	"github.com/danmuck/ctlwire/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Context keys control handlers set so access logs and metrics can say
// which packet a request carried.
const (
	PacketCodeKey = "ctlwire.packet_code"
	ErrorFieldKey = "ctlwire.error_field"

	noCode         = "none"
	unmatchedRoute = "unmatched"
)

// MarkPacketCode tags the request with the control packet code it handled.
func MarkPacketCode(c *gin.Context, code protocol.PacketCode) {
	c.Set(PacketCodeKey, code.String())
}

// MarkErrorField tags the request with the body field a decode stopped at.
func MarkErrorField(c *gin.Context, err error) {
	if field := protocol.ErrorField(err); field != "" {
		c.Set(ErrorFieldKey, field)
	}
}

type access struct {
	method  string
	route   string
	code    string
	status  int
	elapsed time.Duration
}

// Raw URLs are never used as labels; unmatched requests share one route.
func accessOf(c *gin.Context, start time.Time) access {
	route := c.FullPath()
	if route == "" {
		route = unmatchedRoute
	}
	code := c.GetString(PacketCodeKey)
	if code == "" {
		code = noCode
	}
	return access{
		method:  c.Request.Method,
		route:   route,
		code:    code,
		status:  c.Writer.Status(),
		elapsed: time.Since(start),
	}
}

// AccessLog writes one line per request, at warn for 4xx and error for 5xx.
func AccessLog(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a := accessOf(c, start)

		var event *zerolog.Event
		switch {
		case a.status >= 500:
			event = logger.Error()
		case a.status >= 400:
			event = logger.Warn()
		default:
			event = logger.Info()
		}
		if a.code != noCode {
			event = event.Str("packet_code", a.code)
		}
		if field := c.GetString(ErrorFieldKey); field != "" {
			event = event.Str("error_field", field)
		}
		event.
			Str("method", a.method).
			Str("route", a.route).
			Int("status", a.status).
			Dur("elapsed", a.elapsed).
			Str("client_ip", c.ClientIP()).
			Msg("inspect request")
	}
}

// AccessMetrics records request counts and latency by route and packet code.
func AccessMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a := accessOf(c, start)
		RecordHTTPRequest(a.method, a.route, a.code, a.status, a.elapsed)
	}
}
