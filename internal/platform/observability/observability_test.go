package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/storefront/api/internal/platform/requestctx"
)

func TestParseCloudTraceContext(t *testing.T) {
	sc, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatal("expected header to parse")
	}
	if sc.TraceID().String() != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace id %s", sc.TraceID())
	}
	if sc.SpanID().String() != "0000000000000001" {
		t.Fatalf("unexpected span id %s", sc.SpanID())
	}
	if !sc.IsSampled() || !sc.IsRemote() {
		t.Fatalf("expected sampled remote span context")
	}
	if got := formatCloudTraceHeader(sc); got != "105445aa7843bc8bf206b12000100000/1;o=1" {
		t.Fatalf("unexpected formatted header %s", got)
	}

	for _, header := range []string{"", "abc/1", "105445aa7843bc8bf206b12000100000/zz", "105445aa7843bc8bf206b12000100000/0"} {
		if _, ok := parseCloudTraceContext(header); ok {
			t.Errorf("expected %q to be rejected", header)
		}
	}
}

func TestNewEventLoggerUsesRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.InfoLevel)
	reqCore, reqLogs := observer.New(zapcore.InfoLevel)

	log := NewEventLogger(zap.New(baseCore))
	log(context.Background(), "order.created", map[string]any{"orderId": "ord_1", "flow": "cart"})

	ctx := requestctx.WithLogger(context.Background(), zap.New(reqCore))
	log(ctx, "webhook.reconcile.failed", map[string]any{"error": errors.New("boom")})

	if baseLogs.Len() != 1 {
		t.Fatalf("expected one base entry, got %d", baseLogs.Len())
	}
	entry := baseLogs.All()[0]
	if entry.Level != zapcore.InfoLevel || entry.ContextMap()["orderId"] != "ord_1" || entry.ContextMap()["event"] != "order.created" {
		t.Fatalf("unexpected base entry %+v", entry)
	}
	if reqLogs.Len() != 1 || reqLogs.All()[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn entry on request logger, got %+v", reqLogs.All())
	}
}

func TestRequestLoggerAndRecovery(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, InjectLoggerMiddleware(logger), TraceMiddleware("shop-dev"), RequestLoggerMiddleware(), RecoveryMiddleware(logger))
	r.Get("/orders/{orderID}", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal_server_error") {
		t.Fatalf("expected error envelope, got %s", rec.Body.String())
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(completed))
	}
	fields := completed[0].ContextMap()
	if fields["route"] != "/orders/{orderID}" || fields["status"] != int64(500) {
		t.Fatalf("unexpected completion fields %v", fields)
	}
	if fields["trace_id"] != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected traceparent to seed the trace id, got %v", fields["trace_id"])
	}
}
