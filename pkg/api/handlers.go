package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ethpandaops/reportoor/pkg/indexstore"
	"github.com/ethpandaops/reportoor/pkg/summary"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 1000
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

type runResponse struct {
	Project           string          `json:"project"`
	RunID             string          `json:"runId"`
	StartedAt         int64           `json:"startedAt"`
	Timestamp         string          `json:"timestamp"`
	Status            string          `json:"status"`
	BranchName        string          `json:"branchName,omitempty"`
	PullRequestNumber string          `json:"pullRequestNumber,omitempty"`
	TotalTests        int             `json:"totalTests"`
	Passed            int             `json:"passed"`
	Failed            int             `json:"failed"`
	Skipped           int             `json:"skipped"`
	TotalRuntime      int64           `json:"totalRuntime"`
	PassRate          decimal.Decimal `json:"passRate"`
	SummaryFile       string          `json:"summaryFile"`
	IndexedAt         time.Time       `json:"indexedAt"`

	SpecFiles []specFileResponse `json:"specFiles,omitempty"`
}

type specFileResponse struct {
	Name          string `json:"name"`
	Status        string `json:"status"`
	TotalDuration int64  `json:"totalDuration"`
	Tests         int    `json:"tests"`
	RunURL        string `json:"runUrl"`
}

func toRunResponse(run *indexstore.Run) runResponse {
	return runResponse{
		Project:           run.Project,
		RunID:             run.RunID,
		StartedAt:         run.StartedAt,
		Timestamp:         run.Timestamp,
		Status:            run.Status,
		BranchName:        run.BranchName,
		PullRequestNumber: run.PullRequestNumber,
		TotalTests:        run.TotalTests,
		Passed:            run.Passed,
		Failed:            run.Failed,
		Skipped:           run.Skipped,
		TotalRuntime:      run.TotalRuntime,
		PassRate:          run.PassRate,
		SummaryFile:       run.SummaryFile,
		IndexedAt:         run.IndexedAt,
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListProjects lists known projects. With the index enabled they
// come from the database, otherwise from the latest pointers on disk.
func (s *server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	if s.indexStore != nil {
		projects, err := s.indexStore.ListProjects(r.Context())
		if err != nil {
			s.log.WithError(err).Error("Failed to list projects")
			writeJSON(w, http.StatusInternalServerError, errorResponse{"listing projects failed"})

			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"projects": projects})

		return
	}

	entries, err := os.ReadDir(s.cfg.Results.Dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.WithError(err).Error("Failed to read results directory")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"listing projects failed"})

		return
	}

	projects := make([]string, 0, len(entries))

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		if project, ok := summary.ParseProjectLatestName(e.Name()); ok {
			projects = append(projects, project)
		}
	}

	sort.Strings(projects)

	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// handleProjectLatest returns the latest run summary document of a project.
func (s *server) handleProjectLatest(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")

	doc, err := summary.ReadRunSummary(filepath.Join(s.cfg.Results.Dir, summary.ProjectLatestName(project)))
	if errors.Is(err, os.ErrNotExist) {
		writeJSON(w, http.StatusNotFound, errorResponse{"no runs recorded for project"})

		return
	}

	if err != nil {
		s.log.WithError(err).WithField("project", project).Error("Failed to read latest run")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"reading latest run failed"})

		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// handleListRuns returns the indexed runs of a project, newest first.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	limit := defaultRunsLimit

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{"limit must be a positive integer"})

			return
		}

		limit = min(n, maxRunsLimit)
	}

	runs, err := s.indexStore.ListRuns(r.Context(), project, limit)
	if err != nil {
		s.log.WithError(err).WithField("project", project).Error("Failed to list runs")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"listing runs failed"})

		return
	}

	resp := make([]runResponse, 0, len(runs))
	for i := range runs {
		resp = append(resp, toRunResponse(&runs[i]))
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": resp})
}

// handleGetRun returns one indexed run with its spec files.
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	runID := chi.URLParam(r, "runID")

	run, err := s.indexStore.GetRun(r.Context(), project, runID)
	if errors.Is(err, indexstore.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{"run not found"})

		return
	}

	if err != nil {
		s.log.WithError(err).WithField("run_id", runID).Error("Failed to get run")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"getting run failed"})

		return
	}

	specs, err := s.indexStore.ListSpecFiles(r.Context(), project, runID)
	if err != nil {
		s.log.WithError(err).WithField("run_id", runID).Error("Failed to list spec files")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"listing spec files failed"})

		return
	}

	resp := toRunResponse(run)
	resp.SpecFiles = make([]specFileResponse, 0, len(specs))

	for _, sf := range specs {
		resp.SpecFiles = append(resp.SpecFiles, specFileResponse{
			Name:          sf.Name,
			Status:        sf.Status,
			TotalDuration: sf.TotalDuration,
			Tests:         sf.Tests,
			RunURL:        sf.RunURL,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleFileRequest serves a file from the results directory.
func (s *server) handleFileRequest(w http.ResponseWriter, r *http.Request) {
	filePath := chi.URLParam(r, "*")
	if filePath == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{"file path is required"})

		return
	}

	if err := s.files.ServeFile(w, r, filePath); err != nil {
		s.log.WithError(err).WithField("path", filePath).Debug("File request rejected")
		writeJSON(w, http.StatusNotFound, errorResponse{"file not found"})
	}
}
