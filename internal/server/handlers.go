package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/config"
	"github.com/hyperjump/kura/internal/keyword"
	"github.com/hyperjump/kura/internal/models"
	kuraerr "github.com/hyperjump/kura/pkg/errors"
)

type batchRequest struct {
	Documents []models.DocumentInput `json:"documents"`
}

type typeSearchRequest struct {
	Query string `json:"query"`
	Type  string `json:"type"`
	K     int    `json:"k,omitempty"`
}

type keywordSearchRequest struct {
	Query     string `json:"query"`
	Type      string `json:"type,omitempty"`
	K         int    `json:"k,omitempty"`
	Fuzzy     bool   `json:"fuzzy,omitempty"`
	Fuzziness int    `json:"fuzziness,omitempty"`
}

type recordRequest struct {
	Name   string                  `json:"name"`
	Record models.StructuredRecord `json:"record"`
}

type watchRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return kuraerr.Wrap(err, kuraerr.CodeValidation, "invalid request body")
	}
	return nil
}

func (s *Server) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	var in models.DocumentInput
	if err := decode(r, &in); err != nil {
		s.fail(w, err)
		return
	}
	id, err := s.app.Indexer.AddDocument(r.Context(), in)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"id": id, "status": "indexed"})
}

func (s *Server) handleAddBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	ids, err := s.app.Indexer.AddBatch(r.Context(), req.Documents)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]any{"ids": ids, "count": len(ids)})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.app.Repo.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var patch models.DocumentPatch
	if err := decode(r, &patch); err != nil {
		s.fail(w, err)
		return
	}
	updated, err := s.app.Indexer.UpdateDocument(r.Context(), id, patch)
	if err != nil {
		s.fail(w, err)
		return
	}
	if !updated {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "updated"})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deleted, err := s.app.Indexer.DeleteDocument(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	if !deleted {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	n, err := s.app.Repo.Clear(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"deleted": n, "status": "cleared"})
}

func (s *Server) handleAddRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	id, err := s.app.Repo.AddStructuredRecord(r.Context(), req.Name, req.Record)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"id": id, "status": "stored"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req models.SearchRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.fail(w, kuraerr.Wrap(err, kuraerr.CodeValidation, "invalid search request"))
		return
	}
	s.logger.Debug("search request", zap.String("query", req.Query), zap.Int("k", req.K))
	results, err := s.app.Repo.Search(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, response(req.Query, results, started))
}

func (s *Server) handleSearchByType(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req typeSearchRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		s.respondError(w, http.StatusBadRequest, "type is required")
		return
	}
	k, err := normalizeK(req.K)
	if err != nil {
		s.fail(w, err)
		return
	}
	results, err := s.app.Repo.SearchByType(r.Context(), req.Query, req.Type, k)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, response(req.Query, results, started))
}

func (s *Server) handleKeywordSearch(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req keywordSearchRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	k, err := normalizeK(req.K)
	if err != nil {
		s.fail(w, err)
		return
	}
	opts := &keyword.SearchOptions{Type: req.Type, FuzzyEnabled: req.Fuzzy, Fuzziness: req.Fuzziness}
	results, err := s.app.Repo.KeywordSearch(r.Context(), req.Query, k, opts)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, response(req.Query, results, started))
}

func (s *Server) handleCrossSilo(w http.ResponseWriter, r *http.Request) {
	var req models.CrossSiloRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	resp, err := s.app.Engine.SearchCrossSilo(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	var req models.RecommendRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	res, err := s.app.Engine.Recommend(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req models.RecommendRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	res, err := s.app.Engine.AnalyzeOpportunity(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.app.Repo.CollectionStats(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.app.Status(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handlePatternStatistics(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.app.Patterns.Statistics())
}

func (s *Server) handleCrossSiloStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.app.CrossSilo.Stats())
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	report, err := s.app.Indexer.Rebuild(r.Context(), true)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWatchList(w http.ResponseWriter, r *http.Request) {
	if s.app.Watcher == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"directories": s.app.Watcher.Directories()})
}

func (s *Server) handleWatchAdd(w http.ResponseWriter, r *http.Request) {
	if s.app.Watcher == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := req.Sync == nil || *req.Sync
	if err := s.app.Watcher.AddDirectory(abs, syncExisting); err != nil {
		s.fail(w, err)
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchRemove(w http.ResponseWriter, r *http.Request) {
	if s.app.Watcher == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var req watchRequest
		if err := decode(r, &req); err == nil {
			path = req.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := s.app.Watcher.RemoveDirectory(abs); err != nil {
		s.fail(w, err)
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

// persistWatchDirectories writes the current watch roots back to the config file.
func (s *Server) persistWatchDirectories() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.app.Config.Watch.Directories = s.app.Watcher.Directories()
	if err := config.Save(s.configPath, s.app.Config); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

func normalizeK(k int) (int, error) {
	req := models.SearchRequest{K: k}
	if err := req.Validate(); err != nil {
		return 0, kuraerr.Wrap(err, kuraerr.CodeValidation, "invalid k")
	}
	return req.K, nil
}

func response(query string, results []*models.SearchResult, started time.Time) *models.SearchResponse {
	if results == nil {
		results = []*models.SearchResult{}
	}
	return &models.SearchResponse{
		Query:     query,
		Results:   results,
		Total:     len(results),
		QueryTime: time.Since(started).Milliseconds(),
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// fail maps err onto its HTTP status. Server-side failures are logged.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := kuraerr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	body := map[string]string{"error": err.Error()}
	if code := kuraerr.CodeOf(err); code != "" {
		body["code"] = string(code)
	}
	s.respondJSON(w, status, body)
}
