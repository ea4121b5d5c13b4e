package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"retrievald/internal/api"
	"retrievald/internal/config"
	"retrievald/internal/filestore"
	"retrievald/internal/logging"
	"retrievald/internal/retrieval"
)

type apiServer struct {
	logger   *slog.Logger
	daemon   *Daemon
	service  retrieval.Service
	files    *filestore.Store
	settings *config.Settings
	maxBody  int64
}

// errBodyRequired reports a request that needs a JSON body but sent none.
var errBodyRequired = errors.New("request body is required")

func newAPIServer(d *Daemon) *apiServer {
	return &apiServer{
		logger:   logging.NewComponentLogger(d.logger, "api-server"),
		daemon:   d,
		service:  d.service,
		files:    d.files,
		settings: d.settings,
		maxBody:  d.cfg.API.MaxBodyBytes,
	}
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+api.PathHealth, s.handleHealth)

	mux.HandleFunc("POST "+api.PathSuggest, s.handleSuggest)
	mux.HandleFunc("POST "+api.PathContextPack, s.handleContextPack)
	mux.HandleFunc("POST "+api.PathPreview, s.handlePreview)
	mux.HandleFunc("GET "+api.PathState, s.handleState)
	mux.HandleFunc("GET "+api.PathProgress, s.handleProgress)
	mux.HandleFunc("GET "+api.PathIndexStats, s.handleIndexStats)
	mux.HandleFunc("GET "+api.PathActivity, s.handleActivity)
	mux.HandleFunc("GET "+api.PathBackfillJobs, s.handleBackfillJobs)
	mux.HandleFunc("POST "+api.PathBackfillPause, s.handlePauseJob)
	mux.HandleFunc("POST "+api.PathBackfillResume, s.handleResumeJob)
	mux.HandleFunc("POST "+api.PathBackfillTrigger, s.handleTriggerBackfill)
	mux.HandleFunc("POST "+api.PathScopes, s.handleScopes)

	mux.HandleFunc("POST /api/v1/tasks/{taskId}/uploads", s.handleUpload)
	mux.HandleFunc("GET /api/v1/tasks/{taskId}/uploads", s.handleListUploads)
	mux.HandleFunc("GET /api/v1/tasks/{taskId}/uploads/paths", s.handleUploadPaths)
	mux.HandleFunc("GET /api/v1/tasks/{taskId}/outputs", s.handleListOutputs)
	mux.HandleFunc("POST /api/v1/tasks/{taskId}/outputs/collect", s.handleCollectOutputs)
	mux.HandleFunc("GET /api/v1/tasks/{taskId}/files/{direction}/{name}", s.handleFileData)
	mux.HandleFunc("DELETE /api/v1/tasks/{taskId}", s.handleDeleteTask)

	return s.withRequestID(authMiddleware(s.settings.Token, mux))
}

// Health

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := api.HealthResponse{Status: "ok", Running: s.daemon.Running()}
	if state, err := s.service.State(r.Context()); err == nil && state != nil {
		resp.Paused = state.Paused
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

// Retrieval

func (s *apiServer) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var req retrieval.SuggestRequest
	if !s.decode(w, r, &req, true) {
		return
	}
	suggestions, err := s.service.Suggest(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if suggestions == nil {
		suggestions = []retrieval.Suggestion{}
	}
	s.writeJSON(w, r, http.StatusOK, api.SuggestResponse{Suggestions: suggestions})
}

func (s *apiServer) handleContextPack(w http.ResponseWriter, r *http.Request) {
	var req retrieval.ContextPackRequest
	if !s.decode(w, r, &req, true) {
		return
	}
	pack, err := s.service.CreateContextPack(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, pack)
}

func (s *apiServer) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req api.PreviewRequest
	if !s.decode(w, r, &req, true) {
		return
	}
	preview, err := s.service.Preview(r.Context(), req.ItemID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, preview)
}

func (s *apiServer) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.State(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, state)
}

func (s *apiServer) handleProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.service.Progress(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, progress)
}

func (s *apiServer) handleIndexStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.IndexStats(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, stats)
}

func (s *apiServer) handleActivity(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.Activity(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []retrieval.ActivityEntry{}
	}
	s.writeJSON(w, r, http.StatusOK, api.ActivityResponse{Entries: entries})
}

func (s *apiServer) handleBackfillJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.service.BackfillJobs(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []retrieval.BackfillJob{}
	}
	s.writeJSON(w, r, http.StatusOK, api.JobsResponse{Jobs: jobs})
}

func (s *apiServer) handlePauseJob(w http.ResponseWriter, r *http.Request) {
	s.handleJobAction(w, r, s.service.PauseJob)
}

func (s *apiServer) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	s.handleJobAction(w, r, s.service.ResumeJob)
}

func (s *apiServer) handleJobAction(w http.ResponseWriter, r *http.Request, action func(context.Context, string) error) {
	var req api.JobRequest
	if !s.decode(w, r, &req, true) {
		return
	}
	if strings.TrimSpace(req.JobID) == "" {
		s.writeError(w, r, http.StatusBadRequest, "jobId is required")
		return
	}
	if err := action(r.Context(), req.JobID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, api.EmptyResponse{})
}

func (s *apiServer) handleTriggerBackfill(w http.ResponseWriter, r *http.Request) {
	if err := s.service.TriggerBackfill(r.Context()); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, api.EmptyResponse{})
}

func (s *apiServer) handleScopes(w http.ResponseWriter, r *http.Request) {
	var req api.ScopesRequest
	if !s.decode(w, r, &req, true) {
		return
	}
	for i, scope := range req.Scopes {
		root := strings.TrimSpace(scope.Root)
		if root == "" || !filepath.IsAbs(root) {
			s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("scope root %q must be an absolute path", scope.Root))
			return
		}
		resolved, err := s.settings.Resolve(root)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		req.Scopes[i].Root = resolved
	}
	if err := s.service.ConfigureScopes(r.Context(), req.Scopes); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, api.EmptyResponse{})
}

// Task files

func (s *apiServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskId")
	name := r.URL.Query().Get("name")
	if name == "" {
		s.writeError(w, r, http.StatusBadRequest, "name query parameter is required")
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		s.writeBodyError(w, r, err)
		return
	}
	path, err := s.files.SaveUpload(r.Context(), data, name, taskID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, api.UploadResponse{Path: path})
}

func (s *apiServer) handleListUploads(w http.ResponseWriter, r *http.Request) {
	files, err := s.files.ListUploads(r.Context(), r.PathValue("taskId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, api.FilesResponse{Files: files})
}

func (s *apiServer) handleUploadPaths(w http.ResponseWriter, r *http.Request) {
	paths, err := s.files.UploadPaths(r.Context(), r.PathValue("taskId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, api.PathsResponse{Paths: paths})
}

func (s *apiServer) handleListOutputs(w http.ResponseWriter, r *http.Request) {
	files, err := s.files.ListOutputs(r.Context(), r.PathValue("taskId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, api.FilesResponse{Files: files})
}

func (s *apiServer) handleCollectOutputs(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskId")
	var req api.CollectRequest
	if !s.decode(w, r, &req, true) {
		return
	}
	outbox := strings.TrimSpace(req.Outbox)
	if outbox == "" || !filepath.IsAbs(outbox) {
		s.writeError(w, r, http.StatusBadRequest, "outbox must be an absolute path")
		return
	}
	outbox, err := s.settings.Resolve(outbox)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	copied, err := s.files.StoreOutputs(r.Context(), outbox, taskID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	files, err := s.files.ListOutputs(r.Context(), taskID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, api.CollectResponse{Copied: copied, Files: files})
}

func (s *apiServer) handleFileData(w http.ResponseWriter, r *http.Request) {
	direction, err := filestore.ParseDirection(r.PathValue("direction"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	data, err := s.files.FileData(r.Context(), r.PathValue("taskId"), r.PathValue("name"), direction)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", data.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data.Data)))
	if disposition := mime.FormatMediaType("attachment", map[string]string{"filename": data.Name}); disposition != "" {
		w.Header().Set("Content-Disposition", disposition)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data.Data); err != nil {
		s.logger.Debug("write file response", logging.Error(err))
	}
}

func (s *apiServer) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.files.DeleteTask(r.Context(), r.PathValue("taskId")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, api.EmptyResponse{})
}

// decode reads a bounded JSON body into dst, rejecting unknown fields and
// trailing data. It writes the error response itself and reports success.
func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, dst any, required bool) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			if !required {
				return true
			}
			err = errBodyRequired
		}
		s.writeBodyError(w, r, err)
		return false
	}
	if decoder.More() {
		s.writeError(w, r, http.StatusBadRequest, "request body must contain a single JSON object")
		return false
	}
	return true
}

func (s *apiServer) writeBodyError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	s.writeError(w, r, http.StatusBadRequest, "malformed request body: "+err.Error())
}

// writeServiceError maps domain errors onto HTTP statuses. Anything
// unrecognized is a 500.
func (s *apiServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, filestore.ErrNotFound), errors.Is(err, retrieval.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, filestore.ErrInvalidTaskID),
		errors.Is(err, filestore.ErrInvalidDirection),
		errors.Is(err, retrieval.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, config.ErrOutsideAllowlist):
		status = http.StatusForbidden
	}
	if status == http.StatusInternalServerError {
		logging.ErrorWithContext(s.logger, "request failed", "api_request_failed",
			logging.String(logging.FieldRequestID, requestID(r.Context())),
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Error(err),
		)
	}
	s.writeError(w, r, status, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, _ *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.writeJSON(w, r, status, api.ErrorResponse{Error: message})
}

// Request correlation

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withRequestID tags each request with a correlation id, echoes it in the
// response and logs the outcome at debug level.
func (s *apiServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(api.RequestIDHeader))
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(api.RequestIDHeader, id)
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		s.logger.Debug("request served",
			logging.String(logging.FieldRequestID, id),
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", rec.status),
			logging.Duration("duration", time.Since(started)),
		)
	})
}
