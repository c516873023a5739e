package observability_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/defectminer/internal/observability"
)

func scrape(t *testing.T, handler http.Handler) string {
	t.Helper()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	return string(body)
}

func TestInit_NoopWhenNothingConfigured(t *testing.T) {
	providers, err := observability.Init(observability.DefaultConfig())
	require.NoError(t, err)

	assert.NotNil(t, providers.Tracer)
	assert.NotNil(t, providers.Meter)
	assert.NotNil(t, providers.Logger)
	assert.Nil(t, providers.MetricsHandler)

	_, span := providers.Tracer.Start(context.Background(), "noop")
	span.End()

	require.NoError(t, providers.Shutdown(context.Background()))
}

func TestInit_PrometheusServesMiningMetrics(t *testing.T) {
	cfg := observability.DefaultConfig()
	cfg.Prometheus = true
	cfg.ServiceVersion = "1.2.3"
	cfg.Mode = observability.ModeMine

	providers, err := observability.Init(cfg)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, providers.Shutdown(context.Background())) })
	require.NotNil(t, providers.MetricsHandler)

	mm, err := observability.NewMiningMetrics(providers.Meter)
	require.NoError(t, err)

	mm.CommitMined(context.Background())

	body := scrape(t, providers.MetricsHandler)
	assert.Contains(t, body, "defectminer_commits_mined")
	assert.Contains(t, body, "target_info")
}

func TestPrometheusHandler_UsesItsProvider(t *testing.T) {
	t.Parallel()

	mp, handler, err := observability.PrometheusHandler()
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, mp.Shutdown(context.Background())) })

	mm, err := observability.NewMiningMetrics(mp.Meter("test"))
	require.NoError(t, err)

	mm.FileSkipped(context.Background(), "binary")

	body := scrape(t, handler)
	assert.Contains(t, body, "defectminer_files_skipped")
	assert.Contains(t, body, `reason="binary"`)
}

func TestParseOTLPHeaders(t *testing.T) {
	t.Parallel()

	assert.Nil(t, observability.ParseOTLPHeaders(""))
	assert.Nil(t, observability.ParseOTLPHeaders("garbage"))
	assert.Equal(t,
		map[string]string{"authorization": "Bearer x", "tenant": "ci"},
		observability.ParseOTLPHeaders(" authorization = Bearer x ,tenant=ci"))
}
