package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/reportoor/pkg/config"
	"github.com/ethpandaops/reportoor/pkg/fsutil"
	"github.com/ethpandaops/reportoor/pkg/indexstore"
	"github.com/ethpandaops/reportoor/pkg/record"
	"github.com/ethpandaops/reportoor/pkg/summary"
)

func testConfig(t *testing.T, indexed bool) *config.Config {
	t.Helper()

	return &config.Config{
		Project: config.ProjectConfig{Name: "shop"},
		Results: config.ResultsConfig{Dir: t.TempDir()},
		API:     config.APIConfig{Listen: "127.0.0.1:0"},
		Index: config.IndexConfig{
			Enabled:     indexed,
			Concurrency: 2,
			Database: config.DatabaseConfig{
				Driver: "sqlite",
				SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
			},
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*server, http.Handler) {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := newServer(log, cfg)

	if cfg.Index.Enabled {
		require.NoError(t, s.prepareIndexing(context.Background()))
		t.Cleanup(func() { _ = s.indexStore.Stop() })
	}

	return s, s.buildRouter()
}

func sampleRun(runID string) *record.RunSummary {
	return &record.RunSummary{
		RunID:        runID,
		Timestamp:    "2024-05-01T10-00-00-000Z",
		TotalTests:   3,
		Passed:       2,
		Failed:       1,
		TotalRuntime: 900,
		SpecFiles: []record.SpecFileLink{
			{
				Name:          "login.spec.ts",
				RunURL:        "shop_login.spec.ts_runid" + runID + "_x_failed.json",
				Status:        record.StatusFailed,
				TotalDuration: 900,
				Tests: []record.TestBrief{
					{Title: "a", Status: record.StatusPassed},
					{Title: "b", Status: record.StatusPassed},
					{Title: "c", Status: record.StatusFailed},
				},
			},
		},
	}
}

func doRequest(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	return body
}

func TestHandleHealth(t *testing.T) {
	_, h := newTestServer(t, testConfig(t, false))

	rec := doRequest(t, h, http.MethodGet, "/api/v1/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestHandleProjectLatest(t *testing.T) {
	cfg := testConfig(t, false)
	_, h := newTestServer(t, cfg)

	latest := filepath.Join(cfg.Results.Dir, summary.ProjectLatestName("shop"))
	require.NoError(t, fsutil.WriteJSON(latest, sampleRun("1714557600000"), nil))

	rec := doRequest(t, h, http.MethodGet, "/api/v1/projects/shop/latest")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "1714557600000", body["runId"])
	assert.InDelta(t, 3, body["totalTests"], 0)

	rec = doRequest(t, h, http.MethodGet, "/api/v1/projects/unknown/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListProjects_FromLatestPointers(t *testing.T) {
	cfg := testConfig(t, false)
	_, h := newTestServer(t, cfg)

	for _, p := range []string{"shop", "admin"} {
		path := filepath.Join(cfg.Results.Dir, summary.ProjectLatestName(p))
		require.NoError(t, fsutil.WriteJSON(path, sampleRun("1"), nil))
	}

	require.NoError(t, os.MkdirAll(filepath.Join(cfg.Results.Dir, "run_1"), 0o755))
	require.NoError(t, fsutil.WriteJSON(filepath.Join(cfg.Results.Dir, "run_1_x.json"), sampleRun("1"), nil))

	rec := doRequest(t, h, http.MethodGet, "/api/v1/projects")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"admin", "shop"}, decodeBody(t, rec)["projects"])
}

func TestHandleListProjects_MissingResultsDir(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.Results.Dir = filepath.Join(cfg.Results.Dir, "missing")
	_, h := newTestServer(t, cfg)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/projects")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decodeBody(t, rec)["projects"])
}

func TestRunRoutes_RequireIndex(t *testing.T) {
	_, h := newTestServer(t, testConfig(t, false))

	rec := doRequest(t, h, http.MethodGet, "/api/v1/projects/shop/runs")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIndexedRuns(t *testing.T) {
	s, h := newTestServer(t, testConfig(t, true))
	ctx := context.Background()

	for _, id := range []string{"1000", "2000"} {
		run, specs := indexstore.FromSummary("shop", "run_"+id+"_x.json", sampleRun(id), time.Unix(0, 0).UTC())
		require.NoError(t, s.indexStore.UpsertRun(ctx, run, specs))
	}

	t.Run("projects come from the index", func(t *testing.T) {
		rec := doRequest(t, h, http.MethodGet, "/api/v1/projects")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []any{"shop"}, decodeBody(t, rec)["projects"])
	})

	t.Run("list newest first", func(t *testing.T) {
		rec := doRequest(t, h, http.MethodGet, "/api/v1/projects/shop/runs")
		require.Equal(t, http.StatusOK, rec.Code)

		runs, ok := decodeBody(t, rec)["runs"].([]any)
		require.True(t, ok)
		require.Len(t, runs, 2)

		first, ok := runs[0].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "2000", first["runId"])
		assert.Equal(t, "failed", first["status"])
		assert.Equal(t, "66.67", first["passRate"])
		assert.NotContains(t, first, "specFiles")
	})

	t.Run("limit", func(t *testing.T) {
		rec := doRequest(t, h, http.MethodGet, "/api/v1/projects/shop/runs?limit=1")
		require.Equal(t, http.StatusOK, rec.Code)

		runs, ok := decodeBody(t, rec)["runs"].([]any)
		require.True(t, ok)
		assert.Len(t, runs, 1)
	})

	t.Run("invalid limit", func(t *testing.T) {
		for _, q := range []string{"abc", "0", "-3"} {
			rec := doRequest(t, h, http.MethodGet, "/api/v1/projects/shop/runs?limit="+q)
			assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		}
	})

	t.Run("get run with spec files", func(t *testing.T) {
		rec := doRequest(t, h, http.MethodGet, "/api/v1/projects/shop/runs/1000")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, "1000", body["runId"])

		specs, ok := body["specFiles"].([]any)
		require.True(t, ok)
		require.Len(t, specs, 1)

		spec, ok := specs[0].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "login.spec.ts", spec["name"])
		assert.InDelta(t, 3, spec["tests"], 0)
	})

	t.Run("unknown run", func(t *testing.T) {
		rec := doRequest(t, h, http.MethodGet, "/api/v1/projects/shop/runs/9")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleFileRequest(t *testing.T) {
	cfg := testConfig(t, false)
	_, h := newTestServer(t, cfg)

	artifact := filepath.Join(cfg.Results.Dir, "run_1", "a-spec-failing", "shot.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(artifact), 0o755))
	require.NoError(t, os.WriteFile(artifact, []byte("png"), 0o644))

	rec := doRequest(t, h, http.MethodGet, "/api/v1/files/run_1/a-spec-failing/shot.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png", rec.Body.String())

	rec = doRequest(t, h, http.MethodHead, "/api/v1/files/run_1/a-spec-failing/shot.png")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/api/v1/files/run_1/missing.png")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/api/v1/files/run_1//a-spec-failing/shot.png")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.API.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1}

	s, h := newTestServer(t, cfg)
	t.Cleanup(func() { close(s.done) })

	rec := doRequest(t, h, http.MethodGet, "/api/v1/projects")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/api/v1/projects")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Health checks are not limited.
	rec = doRequest(t, h, http.MethodGet, "/api/v1/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	_, h := newTestServer(t, testConfig(t, false))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{name: "remote addr", remote: "10.0.0.1:5555", want: "10.0.0.1"},
		{name: "forwarded chain", remote: "10.0.0.1:5555", xff: "203.0.113.7, 10.0.0.2", want: "203.0.113.7"},
		{name: "single forwarded", remote: "10.0.0.1:5555", xff: "203.0.113.8", want: "203.0.113.8"},
		{name: "no port", remote: "10.0.0.9", want: "10.0.0.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote

			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}

			assert.Equal(t, tt.want, extractIP(req))
		})
	}
}

func TestServer_StartStop(t *testing.T) {
	cfg := testConfig(t, true)

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	srv := NewServer(log, cfg)
	require.NoError(t, srv.Start(context.Background()))
	require.NoError(t, srv.Stop())
}
