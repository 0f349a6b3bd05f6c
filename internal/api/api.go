package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joescharf/prepx/internal/docs"
	"github.com/joescharf/prepx/internal/events"
	"github.com/joescharf/prepx/internal/metrics"
	"github.com/joescharf/prepx/internal/models"
	"github.com/joescharf/prepx/internal/pipeline"
	"github.com/joescharf/prepx/internal/sessions"
	"github.com/joescharf/prepx/internal/store"
)

// maxUploadMemory is the multipart memory budget; larger files spill to disk.
const maxUploadMemory = 32 << 20

// Options configures a Server.
type Options struct {
	// Keepalive is the idle period after which a stream sends a comment.
	Keepalive time.Duration
	// APIKeyConfigured is reported by /health.
	APIKeyConfigured bool
	// UI, when set, is served for every path not matched by the API.
	UI     http.Handler
	Logger *slog.Logger
}

// Server provides the REST API handlers.
type Server struct {
	registry *sessions.Registry
	planner  *pipeline.Orchestrator
	storage  *docs.Storage
	store    store.Store
	opts     Options
	logger   *slog.Logger
}

// NewServer creates a new API server.
func NewServer(reg *sessions.Registry, planner *pipeline.Orchestrator, storage *docs.Storage, st store.Store, opts Options) *Server {
	if opts.Keepalive <= 0 {
		opts.Keepalive = events.DefaultKeepalive
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry: reg,
		planner:  planner,
		storage:  storage,
		store:    st,
		opts:     opts,
		logger:   logger,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.health)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/upload", s.upload)
	mux.HandleFunc("GET /api/sessions/{session}/documents", s.listDocuments)

	mux.HandleFunc("POST /api/plan", s.startPlan)
	mux.HandleFunc("GET /api/plan/{session}/logs", s.planLogs)
	mux.HandleFunc("GET /api/plan/{session}/result", s.planResult)
	mux.HandleFunc("GET /api/plan/{session}/status", s.planStatus)
	mux.HandleFunc("GET /api/plan/{session}/stream", s.planStream)

	if s.opts.UI != nil {
		mux.Handle("/", s.opts.UI)
	}

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "healthy",
		"api_key_configured": s.opts.APIKeyConfigured,
	})
}

// --- Uploads ---

// UploadResponse is returned for a stored upload.
type UploadResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Path   string `json:"path"`
	Status string `json:"status"`
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	sessionID := strings.TrimSpace(r.FormValue("sessionId"))
	course := strings.TrimSpace(r.FormValue("courseCode"))
	docType := models.DocType(strings.TrimSpace(r.FormValue("docType")))
	if sessionID == "" || course == "" {
		writeError(w, http.StatusBadRequest, "sessionId and courseCode are required")
		return
	}
	if !docType.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown docType %q", docType))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer func() { _ = file.Close() }()

	// Register before writing so a sweep cannot evict the session, and its
	// uploads, between the save and the next plan.
	s.registry.GetOrCreate(sessionID)

	path, size, err := s.storage.Save(sessionID, course, string(docType), header.Filename, file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc := &models.Document{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Course:    course,
		DocType:   docType,
		Name:      header.Filename,
		Path:      path,
		Size:      size,
	}
	if err := s.store.CreateDocument(r.Context(), doc); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	metrics.Get().Uploads.WithLabelValues(string(docType)).Inc()
	s.logger.Info("document uploaded", "session", sessionID, "course", course, "doc_type", docType, "bytes", size)

	writeJSON(w, http.StatusOK, UploadResponse{ID: doc.ID, Name: doc.Name, Path: path, Status: "complete"})
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session")
	list, err := s.store.ListSessionDocuments(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(list) == 0 {
		list = []*models.Document{}
	} else {
		s.registry.GetOrCreate(id)
	}
	writeJSON(w, http.StatusOK, list)
}

// --- Plans ---

// validatePlan checks the fields the pipeline depends on.
func validatePlan(req *models.PlanRequest) error {
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		return errors.New("sessionId is required")
	}
	if len(req.Courses) == 0 {
		return errors.New("at least one course is required")
	}
	for i, c := range req.Courses {
		if strings.TrimSpace(c.Code) == "" {
			return fmt.Errorf("course %d has no code", i+1)
		}
		if err := pipeline.CheckExamDate(c.ExamDate); err != nil {
			return fmt.Errorf("course %s: %w", c.Code, err)
		}
	}
	return nil
}

func (s *Server) startPlan(w http.ResponseWriter, r *http.Request) {
	var req models.PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validatePlan(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.registry.Submit(req.SessionID, s.planner.Job(req))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message":   "Plan generation started",
		"sessionId": req.SessionID,
		"jobId":     job.ID,
	})
}

func (s *Server) planLogs(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.registry.Get(r.PathValue("session"))
	if !ok {
		writeJSON(w, http.StatusOK, []events.Event{})
		return
	}
	writeJSON(w, http.StatusOK, sess.Hub().Log())
}

// planResult returns the task list once the job completes, a processing
// marker until then, and an error descriptor if the job failed.
func (s *Server) planResult(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.registry.Get(r.PathValue("session"))
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": string(sessions.StatusProcessing)})
		return
	}
	res := sess.Result()
	switch res.Status {
	case sessions.StatusComplete:
		tasks := res.Tasks
		if tasks == nil {
			tasks = []models.PlanTask{}
		}
		writeJSON(w, http.StatusOK, tasks)
	case sessions.StatusFailed:
		writeJSON(w, http.StatusOK, map[string]string{"status": string(res.Status), "error": res.Error})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": string(sessions.StatusProcessing)})
	}
}

// planStatus returns the whole result slot, including failed courses.
func (s *Server) planStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.registry.Get(r.PathValue("session"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess.Result())
}

func (s *Server) planStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	id := r.PathValue("session")
	sub := s.registry.GetOrCreate(id).Hub().Subscribe()
	defer sub.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.logger.Debug("stream opened", "session", id)
	if err := events.Stream(r.Context(), w, flusher.Flush, sub, s.opts.Keepalive); err != nil {
		s.logger.Debug("stream closed", "session", id, "error", err)
	}
}
