package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/elonfeng/notepulse/internal/store"
	"github.com/elonfeng/notepulse/pkg/ces"
)

// Submitter queues an analysis task for background processing.
type Submitter interface {
	Submit(ctx context.Context, t *store.Task) error
}

// Server provides the HTTP API.
type Server struct {
	store     store.Store
	submitter Submitter
	cesCfg    ces.FilterConfig
	log       *logrus.Logger
	http      *http.Server
	port      int
}

// New creates a new HTTP server.
func New(s store.Store, submitter Submitter, cesCfg ces.FilterConfig, port int, log *logrus.Logger) *Server {
	if port == 0 {
		port = 8801
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		store:     s,
		submitter: submitter,
		cesCfg:    cesCfg,
		log:       log,
		port:      port,
	}
}

// Handler returns the HTTP handler with all routes attached.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/analysis/content_analyze", s.handleContentAnalyze)
	mux.HandleFunc("/api/v1/ces/score", s.handleScore)
	mux.HandleFunc("/api/v1/tasks", s.handleTasks)
	mux.HandleFunc("/api/v1/tasks/", s.handleTaskByID)
	return mux
}

// ListenAndServe starts the HTTP server. Blocks until Shutdown.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.WithField("addr", addr).Info("http server listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// analyzeRequest is the submission body for a background analysis task.
type analyzeRequest struct {
	TaskID      string     `json:"task_id"`
	Keywords    string     `json:"keywords"`
	ContentInfo []ces.Item `json:"content_info"`
}

func (s *Server) handleContentAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if len(req.ContentInfo) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content_info is required"})
		return
	}
	if req.TaskID == "" {
		req.TaskID = uuid.NewString()
	}

	task := &store.Task{
		ID:       req.TaskID,
		Keywords: req.Keywords,
		Items:    req.ContentInfo,
	}
	if err := s.submitter.Submit(r.Context(), task); err != nil {
		s.log.WithError(err).WithField("task_id", req.TaskID).Error("submit task")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Task started",
		"task_id": req.TaskID,
	})
}

// scoreRequest scores items synchronously without workflows or callbacks.
type scoreRequest struct {
	ContentInfo []ces.Item        `json:"content_info"`
	Config      *ces.FilterConfig `json:"config,omitempty"`
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	cfg := s.cesCfg
	if req.Config != nil {
		cfg = *req.Config
	}

	ranked, err := ces.ScoreAndFilter(r.Context(), req.ContentInfo, cfg)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	ces.RankByEngagement(ranked)

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  ranked,
		"count": len(ranked),
	})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	opts := store.TaskListOpts{Limit: 100}
	if status := r.URL.Query().Get("status"); status != "" {
		opts.Status = status
	}

	tasks, err := s.store.ListTasks(r.Context(), opts)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  tasks,
		"count": len(tasks),
	})
}

func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")
	if id == "" || strings.Contains(id, "/") {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}

	results, err := s.store.ListResults(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":    task,
		"results": results,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
