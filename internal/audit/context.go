package audit

import (
	"context"
	"strings"
)

type ctxKey string

const (
	requestIDKey  ctxKey = "audit_request_id"
	sourceAddrKey ctxKey = "audit_source_addr"
)

// UnknownSource is stored when the originating address cannot be resolved.
const UnknownSource = "unknown"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithSourceAddr attaches the caller's network address to the context.
func WithSourceAddr(ctx context.Context, addr string) context.Context {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ctx
	}
	return context.WithValue(ctx, sourceAddrKey, addr)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// SourceAddrFromContext returns the stored address or UnknownSource.
func SourceAddrFromContext(ctx context.Context) string {
	if ctx == nil {
		return UnknownSource
	}
	if v, ok := ctx.Value(sourceAddrKey).(string); ok && v != "" {
		return v
	}
	return UnknownSource
}
