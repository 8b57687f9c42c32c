// Package audit emits the append-only trail of certification actions: one
// structured JSON line per event, optionally mirrored into a durable sink.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"equicert.org/internal/identity"
	"equicert.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// Entry is a durable audit record. Fields mirror the logged JSON line.
type Entry struct {
	ID         string            `json:"id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Actor      string            `json:"actor"`
	Event      string            `json:"event"`
	EntityKind string            `json:"entity_kind"`
	EntityID   string            `json:"entity_id"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// Sink archives audit entries outside the process (e.g. Postgres).
type Sink interface {
	Append(ctx context.Context, entry Entry) error
}

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and caller context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if caller, ok := identity.CallerFromContext(ctx); ok {
		entry["caller"] = caller
	}
	if len(fields) > 0 {
		copyFields := make(map[string]any, len(fields))
		for k, v := range fields {
			copyFields[k] = v
		}
		entry["fields"] = copyFields
	} else {
		entry["fields"] = map[string]any{}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
