package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Output: &buf})

	logger.Debug("debug message")
	assert.Zero(t, buf.Len(), "debug is below info")

	logger.Info("info message")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "info message", entry["msg"])
}

func TestNewLogger_Config(t *testing.T) {
	tests := []struct {
		name   string
		cfg    LogConfig
		level  logrus.Level
		isJSON bool
	}{
		{"defaults", LogConfig{}, logrus.InfoLevel, true},
		{"debug text", LogConfig{Level: "debug", Format: "TEXT"}, logrus.DebugLevel, false},
		{"unknown level", LogConfig{Level: "chatty"}, logrus.InfoLevel, true},
		{"warn", LogConfig{Level: "warn", Format: "json"}, logrus.WarnLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.cfg)
			assert.Equal(t, tt.level, logger.GetLevel())
			_, isJSON := logger.Formatter.(*logrus.JSONFormatter)
			assert.Equal(t, tt.isJSON, isJSON)
		})
	}
}

func TestFromContext(t *testing.T) {
	fallback, hook := test.NewNullLogger()

	FromContext(context.Background(), fallback).Info("plain")
	require.Len(t, hook.Entries, 1)
	assert.Empty(t, hook.LastEntry().Data)

	ctx := WithRequestID(context.Background(), "req-1")
	FromContext(ctx, fallback).Info("with id")
	assert.Equal(t, "req-1", hook.LastEntry().Data["request_id"])

	scoped, scopedHook := test.NewNullLogger()
	ctx = WithLogger(ctx, scoped.WithField("component", "resolver"))
	FromContext(ctx, fallback).Info("scoped")
	require.Len(t, scopedHook.Entries, 1)
	assert.Equal(t, "resolver", scopedHook.LastEntry().Data["component"])
	assert.Equal(t, "req-1", scopedHook.LastEntry().Data["request_id"])

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	FromContext(ctx, fallback).Info("traced")
	assert.Equal(t, span.SpanContext().TraceID().String(), hook.LastEntry().Data["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), hook.LastEntry().Data["span_id"])
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-id")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, "upstream-id", seen)
	assert.Equal(t, "upstream-id", w.Header().Get(RequestIDHeader))
}

func TestRecoverPanic(t *testing.T) {
	logger, hook := test.NewNullLogger()

	assert.NotPanics(t, func() {
		defer RecoverPanic(logger, "job")
		panic("boom")
	})
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "boom", hook.LastEntry().Data["panic"])
	assert.Equal(t, "job", hook.LastEntry().Data["context"])

	func() {
		defer RecoverPanic(logger, "quiet")
	}()
	assert.Len(t, hook.Entries, 1)
}
