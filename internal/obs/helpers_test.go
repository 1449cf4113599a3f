package obs

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestParseBucketsCSV(t *testing.T) {
	require.Equal(t, []float64{5, 10.5, 250}, ParseBucketsCSV(" 5, 10.5,,abc,-1,0,250"))
	require.Empty(t, ParseBucketsCSV(""))
}

func TestRegisterReusesExistingCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewHTTPMetrics("pos", nil, reg)
	second := NewHTTPMetrics("pos", nil, reg)
	require.Same(t, first.ReqTotal, second.ReqTotal)
	require.Same(t, first.ReqDur, second.ReqDur)
}

func TestSQLOperation(t *testing.T) {
	require.Equal(t, "INSERT", sqlOperation("\n  insert into payments values ($1)"))
	require.Equal(t, "", sqlOperation("   "))
	long := make([]byte, maxStatementLen+10)
	for i := range long {
		long[i] = 'x'
	}
	require.Len(t, truncateSQL(string(long)), maxStatementLen+3)
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "json", "warn")
	logger.Info().Msg("dropped")
	logger.Warn().Str("checkout_id", "t1").Msg("kept")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "kept", entry["message"])
	require.Equal(t, "t1", entry["checkout_id"])

	buf.Reset()
	defaultLogger := newLogger(&buf, "json", "bogus")
	defaultLogger.Info().Msg("default level is info")
	require.NotZero(t, buf.Len())
}

func TestRequestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	r := chi.NewRouter()
	r.Use(RequestLogger{Logger: newLogger(&buf, "json", "debug"), Quiet: []string{"/health/live"}}.Middleware)
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Post("/api/v1/checkouts/{id}/settle", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "debug", entry["level"])

	buf.Reset()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/checkouts/t9/settle", nil))
	entry = nil
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "warn", entry["level"])
	require.Equal(t, "/api/v1/checkouts/{id}/settle", entry["route"])
	require.Equal(t, "t9", entry["checkout_id"])
}

func TestInitTracerWithoutExporter(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	shutdown, err := InitTracer(context.Background(), TracingConfig{ServiceName: "pos-test", Exporter: "none"})
	require.NoError(t, err)
	_, span := otel.Tracer("test").Start(context.Background(), "op")
	require.True(t, span.SpanContext().IsValid())
	span.End()
	require.NoError(t, shutdown(context.Background()))

	_, err = InitTracer(context.Background(), TracingConfig{Exporter: "zipkin"})
	require.Error(t, err)
}

func TestStatusRecorderKeepsFirstStatus(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := NewStatusRecorder(rr)
	_, _ = rec.Write([]byte("ok"))
	require.Equal(t, http.StatusOK, rec.Status())
	require.EqualValues(t, 2, rec.BytesWritten())
	require.Same(t, rr, rec.Unwrap())
}
