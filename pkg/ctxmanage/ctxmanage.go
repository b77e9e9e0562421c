package ctxmanage

import (
	"context"

	"github.com/gin-gonic/gin"
)

type ctxKey string

// TraceIdKey is the key under which the request trace id is stored, both on the
// gin context and on the request's context.Context.
const TraceIdKey ctxKey = "traceId"

// GetTraceIdOfRequest returns the trace id set by middleware.Logger, or an empty string.
func GetTraceIdOfRequest(c *gin.Context) string {
	return GetTraceId(c.Request.Context())
}

func GetTraceId(ctx context.Context) string {
	traceId, ok := ctx.Value(TraceIdKey).(string)
	if !ok {
		return ""
	}
	return traceId
}

func WithTraceId(ctx context.Context, traceId string) context.Context {
	return context.WithValue(ctx, TraceIdKey, traceId)
}
