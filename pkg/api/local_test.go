package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFileServer_IsAllowedPath(t *testing.T) {
	srv := newLocalFileServer(logrus.New(), "/data/results")

	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{name: "summary document", path: "shop_latest.json", expected: true},
		{name: "artifact", path: "run_1/a-spec-failing/shot.png", expected: true},
		{name: "empty path", path: "", expected: false},
		{name: "path traversal", path: "run_1/../../etc/passwd", expected: false},
		{name: "dot dot only", path: "..", expected: false},
		{name: "absolute path", path: "/etc/passwd", expected: false},
		{name: "trailing slash", path: "run_1/", expected: false},
		{name: "double slash", path: "run_1//shot.png", expected: false},
		{name: "dot segment", path: "run_1/./shot.png", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, srv.isAllowedPath(tt.path))
		})
	}
}

func TestLocalFileServer_ServeFile(t *testing.T) {
	root := t.TempDir()
	runDir := filepath.Join(root, "run_1")
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "trace.zip"), []byte("zipdata"), 0o644))

	srv := newLocalFileServer(logrus.New(), root)

	t.Run("serves existing file", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/run_1/trace.zip", nil)
		rec := httptest.NewRecorder()

		require.NoError(t, srv.ServeFile(rec, req, "run_1/trace.zip"))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "zipdata", rec.Body.String())
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/run_1/nope.zip", nil)

		err := srv.ServeFile(httptest.NewRecorder(), req, "run_1/nope.zip")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("rejects directories", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/run_1", nil)

		require.Error(t, srv.ServeFile(httptest.NewRecorder(), req, "run_1"))
	})

	t.Run("rejects path traversal", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)

		err := srv.ServeFile(httptest.NewRecorder(), req, "../../etc/passwd")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not allowed")
	})
}
