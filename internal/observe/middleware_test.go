package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// apiHarness wires the middleware in front of a mux shaped like the status
// API. Spans go to an in-memory exporter and log lines to a JSON buffer; both
// replace process globals, so tests using it do not run in parallel.
type apiHarness struct {
	handler http.Handler
	spans   *tracetest.InMemoryExporter
	logs    *bytes.Buffer
	reader  *sdkmetric.ManualReader
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	m, reader := newTestMetrics(t)

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prevTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		_ = tp.Shutdown(context.Background())
	})

	var buf bytes.Buffer
	prevLog := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prevLog) })

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /sessions", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "a session is already running", http.StatusConflict)
	})
	mux.HandleFunc("POST /sessions/stop", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("GET /boom", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	return &apiHarness{
		handler: Middleware(m)(mux),
		spans:   exp,
		logs:    &buf,
		reader:  reader,
	}
}

func (h *apiHarness) do(method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

// entries decodes every "request completed" line written so far.
func (h *apiHarness) entries(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(h.logs.String()), "\n") {
		if line == "" {
			continue
		}
		var e map[string]any
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("log line %q: %v", line, err)
		}
		if e["msg"] == "request completed" {
			out = append(out, e)
		}
	}
	return out
}

func (h *apiHarness) onlySpan(t *testing.T) sdktrace.ReadOnlySpan {
	t.Helper()
	spans := h.spans.GetSpans().Snapshots()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	return spans[0]
}

func TestMiddleware_PollingPathsLogAtDebug(t *testing.T) {
	h := newAPIHarness(t)

	h.do("GET", "/status", nil)
	h.do("GET", "/healthz", nil)
	h.do("POST", "/sessions/stop", nil)

	got := h.entries(t)
	if len(got) != 3 {
		t.Fatalf("request log lines = %d, want 3", len(got))
	}
	want := []struct{ path, level string }{
		{"/status", "DEBUG"},
		{"/healthz", "DEBUG"},
		{"/sessions/stop", "INFO"},
	}
	for i, w := range want {
		if got[i]["path"] != w.path || got[i]["level"] != w.level {
			t.Errorf("line %d = %v %v, want %s %s", i, got[i]["path"], got[i]["level"], w.path, w.level)
		}
	}
}

func TestMiddleware_FailingPollIsNotQuiet(t *testing.T) {
	h := newAPIHarness(t)

	// No GET route for /metrics in this mux, so the poll fails with 404.
	h.do("GET", "/metrics", nil)

	got := h.entries(t)
	if len(got) != 1 {
		t.Fatalf("request log lines = %d, want 1", len(got))
	}
	if got[0]["level"] != "INFO" || got[0]["status"] != float64(http.StatusNotFound) {
		t.Errorf("entry = %v, want INFO with status 404", got[0])
	}
	if got[0]["route"] != "GET unmatched" {
		t.Errorf("route = %v, want %q", got[0]["route"], "GET unmatched")
	}
}

func TestMiddleware_SessionConflictReachesSpanAndLog(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do("POST", "/sessions", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}

	span := h.onlySpan(t)
	if span.Name() != "HTTP POST /sessions" {
		t.Errorf("span name = %q", span.Name())
	}
	var status int64
	for _, a := range span.Attributes() {
		if a.Key == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	if status != http.StatusConflict {
		t.Errorf("http.response.status_code = %d, want 409", status)
	}
	// A client conflict is not a server failure.
	if span.Status().Code == codes.Error {
		t.Error("409 should not mark the span as failed")
	}

	got := h.entries(t)
	if len(got) != 1 || got[0]["level"] != "INFO" || got[0]["route"] != "POST /sessions" {
		t.Errorf("log = %v, want one INFO line for POST /sessions", got)
	}
}

func TestMiddleware_SpanNamedAfterRoute(t *testing.T) {
	h := newAPIHarness(t)

	h.do("POST", "/sessions/stop", nil)

	span := h.onlySpan(t)
	if span.Name() != "HTTP POST /sessions/stop" {
		t.Errorf("span name = %q, want %q", span.Name(), "HTTP POST /sessions/stop")
	}
}

func TestMiddleware_ServerErrorMarksSpan(t *testing.T) {
	h := newAPIHarness(t)

	h.do("GET", "/boom", nil)

	if got := h.onlySpan(t).Status().Code; got != codes.Error {
		t.Errorf("span status = %v, want Error", got)
	}
}

func TestMiddleware_DurationKeyedByRoute(t *testing.T) {
	h := newAPIHarness(t)

	h.do("POST", "/sessions", nil)
	h.do("POST", "/sessions", nil)

	met := findMetric(collect(t, h.reader), "restquest.http.request.duration")
	if met == nil {
		t.Fatal("duration histogram not recorded")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1", len(hist.DataPoints))
	}
	dp := hist.DataPoints[0]
	if dp.Count != 2 {
		t.Errorf("count = %d, want 2", dp.Count)
	}
	route, _ := dp.Attributes.Value("route")
	status, _ := dp.Attributes.Value("status")
	if route.AsString() != "POST /sessions" || status.AsInt64() != http.StatusConflict {
		t.Errorf("attributes = %v", dp.Attributes.ToSlice())
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	h := newAPIHarness(t)
	const traceID = "0af7651916cd43dd8448eb211c80319c"

	rec := h.do("GET", "/status", http.Header{
		"Traceparent": {"00-" + traceID + "-b7ad6b7169203331-01"},
	})

	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
	if got := h.onlySpan(t).SpanContext().TraceID().String(); got != traceID {
		t.Errorf("span trace = %q, want %q", got, traceID)
	}
	if got := h.entries(t); len(got) != 1 || got[0]["trace_id"] != traceID {
		t.Errorf("log = %v, want trace_id %s", got, traceID)
	}
}

func TestMiddleware_FreshTraceWithoutHeader(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do("POST", "/sessions/stop", nil)

	cid := rec.Header().Get("X-Correlation-ID")
	if len(cid) != 32 {
		t.Fatalf("X-Correlation-ID = %q, want a 32-char trace id", cid)
	}
	if got := h.onlySpan(t).SpanContext().TraceID().String(); got != cid {
		t.Errorf("span trace = %q, header = %q", got, cid)
	}
}
