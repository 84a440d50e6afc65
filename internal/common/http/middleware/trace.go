package middleware

import (
	"context"
	"strings"

	"hackreg/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	traceIDHeader   = "X-Trace-Id"
	requestIDHeader = "X-Request-Id"
	teamIDHeader    = "X-Team-Id"

	traceIDContextKey   = "trace_id"
	requestIDContextKey = "request_id"
	teamIDContextKey    = "team_id"
)

// TraceContextConfig controls how trace/request/team id are extracted and written.
type TraceContextConfig struct {
	AllowTeamIDHeader bool
	WriteTeamIDHeader bool
}

// TraceContextMiddleware ensures trace/request/team id are in context and response headers.
func TraceContextMiddleware() gin.HandlerFunc {
	return TraceContextMiddlewareWithConfig(TraceContextConfig{
		AllowTeamIDHeader: true,
		WriteTeamIDHeader: false,
	})
}

// TraceContextMiddlewareWithConfig is the configurable version of TraceContextMiddleware.
func TraceContextMiddlewareWithConfig(cfg TraceContextConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := strings.TrimSpace(c.GetHeader(traceIDHeader))
		if traceID == "" {
			traceID = uuid.NewString()
		}
		c.Set(traceIDContextKey, traceID)
		ctx := context.WithValue(c.Request.Context(), contextkey.TraceID, traceID)
		c.Writer.Header().Set(traceIDHeader, traceID)

		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDContextKey, requestID)
		ctx = context.WithValue(ctx, contextkey.RequestID, requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)

		if cfg.AllowTeamIDHeader {
			teamID := strings.TrimSpace(c.GetHeader(teamIDHeader))
			if teamID != "" {
				c.Set(teamIDContextKey, teamID)
				ctx = context.WithValue(ctx, contextkey.TeamID, teamID)
				if cfg.WriteTeamIDHeader {
					c.Writer.Header().Set(teamIDHeader, teamID)
				}
			}
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
