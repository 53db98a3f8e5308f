package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTaskRequestMetricsLogProducesObservabilityEvent(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetFormatter(&log.JSONFormatter{})

	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	metrics, _ := newTaskRequestMetrics(context.Background(), logger, http.MethodGet, "/api/tasks")
	metrics.start = metrics.start.Add(-50 * time.Millisecond)
	metrics.ObserveAuth(10 * time.Millisecond)
	metrics.ObserveStore(15 * time.Millisecond)
	metrics.ObserveStore(5 * time.Millisecond)
	metrics.ObserveEncode(5 * time.Millisecond)
	metrics.SetTasksReturned(3)

	metrics.Log(http.StatusOK, nil)

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Message != observabilityEvent {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Level != log.InfoLevel {
		t.Fatalf("unexpected level: %v", entry.Level)
	}
	if got := entry.Data["event.name"]; got != tasksEventName {
		t.Fatalf("unexpected event name: %v", got)
	}
	if got := entry.Data["event.domain"]; got != tasksEventDomain {
		t.Fatalf("unexpected event domain: %v", got)
	}
	attrs, ok := entry.Data["attributes"].(map[string]any)
	if !ok {
		t.Fatalf("attributes not logged as map: %#v", entry.Data["attributes"])
	}
	if attrs["http.route"] != "/api/tasks" {
		t.Fatalf("unexpected route attribute: %#v", attrs["http.route"])
	}
	if attrs[attrPrefix+"tasks_returned"] != int64(3) {
		t.Fatalf("unexpected tasks returned: %#v", attrs[attrPrefix+"tasks_returned"])
	}
	if attrs[attrPrefix+"store_ms"] != 20.0 {
		t.Fatalf("store durations should accumulate, got %#v", attrs[attrPrefix+"store_ms"])
	}
	if total, _ := attrs[attrPrefix+"total_ms"].(float64); total < 50 {
		t.Fatalf("expected total duration of at least 50ms, got %v", total)
	}
	if entry.Data["severity_text"] != "INFO" || entry.Data["severity_number"] != 9 {
		t.Fatalf("unexpected severity: %v %v", entry.Data["severity_text"], entry.Data["severity_number"])
	}
	if traceID, ok := entry.Data["trace_id"].(string); !ok || traceID == "" {
		t.Fatalf("expected trace_id to be recorded, got %#v", entry.Data["trace_id"])
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != tasksSpanName {
		t.Fatalf("unexpected span name: %s", span.Name)
	}
	spanAttrs := attributesToMap(span.Attributes)
	if code, ok := spanAttrs["http.status_code"].(int64); !ok || code != int64(http.StatusOK) {
		t.Fatalf("unexpected http.status_code on span: %#v", spanAttrs["http.status_code"])
	}
	if _, exists := spanAttrs[attrPrefix+"error_stage"]; exists {
		t.Fatal("expected no error stage")
	}
	if span.Status.Code != codes.Ok {
		t.Fatalf("expected span status Ok, got %v", span.Status.Code)
	}

	var event sdktrace.Event
	for _, ev := range span.Events {
		if ev.Name == observabilityEvent {
			event = ev
		}
	}
	if event.Name == "" {
		t.Fatalf("expected observability.event span event, got %#v", span.Events)
	}
	eventAttrs := attributesToMap(event.Attributes)
	if eventAttrs["event.name"] != tasksEventName || eventAttrs["severity_text"] != "INFO" {
		t.Fatalf("unexpected event attributes: %#v", eventAttrs)
	}
}

func TestTaskRequestMetricsLogError(t *testing.T) {
	logger, hook := test.NewNullLogger()
	_, exporter, restore := setupTestTracer(t)
	defer restore()

	metrics, _ := newTaskRequestMetrics(context.Background(), logger, http.MethodPost, "/api/tasks")
	metrics.SetErrorStage("storage")
	metrics.SetErrorStage("")
	metrics.SetTaskID("t1")
	metrics.SetIdempotencyKeyProvided(true)
	metrics.Log(http.StatusInternalServerError, errors.New("boom"))

	entry := hook.LastEntry()
	if entry == nil || entry.Level != log.ErrorLevel {
		t.Fatalf("expected error level entry, got %+v", entry)
	}
	attrs := entry.Data["attributes"].(map[string]any)
	if attrs[attrPrefix+"error_stage"] != "storage" {
		t.Fatalf("unexpected error stage: %#v", attrs[attrPrefix+"error_stage"])
	}
	if attrs["error.message"] != "boom" || attrs[attrPrefix+"task_id"] != "t1" || attrs[attrPrefix+"idempotency_key_provided"] != true {
		t.Fatalf("unexpected attributes: %#v", attrs)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Status.Code != codes.Error {
		t.Fatalf("expected one errored span, got %+v", spans)
	}
}

func TestSeverityForStatus(t *testing.T) {
	tests := []struct {
		status int
		err    error
		text   string
		number int
		level  log.Level
	}{
		{status: http.StatusOK, text: "INFO", number: 9, level: log.InfoLevel},
		{status: http.StatusNoContent, text: "INFO", number: 9, level: log.InfoLevel},
		{status: http.StatusUnauthorized, text: "WARN", number: 13, level: log.WarnLevel},
		{status: http.StatusConflict, text: "WARN", number: 13, level: log.WarnLevel},
		{status: http.StatusBadGateway, text: "ERROR", number: 17, level: log.ErrorLevel},
		{status: http.StatusOK, err: errors.New("write failed"), text: "ERROR", number: 17, level: log.ErrorLevel},
	}
	for _, tt := range tests {
		text, number := severityForStatus(tt.status, tt.err)
		if text != tt.text || number != tt.number {
			t.Fatalf("status %d: got %s/%d, want %s/%d", tt.status, text, number, tt.text, tt.number)
		}
		if lvl := levelForSeverity(number); lvl != tt.level {
			t.Fatalf("status %d: got level %v, want %v", tt.status, lvl, tt.level)
		}
	}
}

func TestTaskRequestMetricsNilSafe(t *testing.T) {
	var m *taskRequestMetrics
	m.Log(http.StatusOK, nil)
}

func setupTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter, func()) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	cleanup := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(prev)
	}
	return tp, exporter, cleanup
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}
