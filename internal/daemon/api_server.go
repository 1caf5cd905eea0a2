package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ctscribe/internal/jobstatus"
	"ctscribe/internal/logging"
)

type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

type queueView struct {
	Queue     string `json:"queue"`
	Ready     int    `json:"ready"`
	Unacked   int    `json:"unacked"`
	Consumers int    `json:"consumers"`
}

type credentialView struct {
	Credential string `json:"credential"`
	Region     string `json:"region"`
	Sessions   int    `json:"sessions"`
}

type statusResponse struct {
	Running     bool             `json:"running"`
	Driver      string           `json:"driver"`
	LockFile    string           `json:"lock_file"`
	Queues      []queueView      `json:"queues"`
	QueueError  string           `json:"queue_error,omitempty"`
	Jobs        map[string]int   `json:"jobs"`
	Credentials []credentialView `json:"credentials"`
}

type runView struct {
	ID            string   `json:"id"`
	Queue         string   `json:"queue"`
	VideoID       string   `json:"video_id"`
	CorrelationID string   `json:"correlation_id,omitempty"`
	Status        string   `json:"status"`
	Force         bool     `json:"force"`
	Region        string   `json:"region,omitempty"`
	CueCount      int      `json:"cue_count"`
	SkippedWords  int      `json:"skipped_words"`
	Outputs       []string `json:"outputs,omitempty"`
	Error         string   `json:"error,omitempty"`
	StartedAt     string   `json:"started_at"`
	FinishedAt    string   `json:"finished_at,omitempty"`
	DurationMS    int64    `json:"duration_ms"`
}

func newAPIServer(bind, token string, d *Daemon, logger *slog.Logger) *apiServer {
	bind = strings.TrimSpace(bind)
	if bind == "" || d == nil {
		return nil
	}
	srv := &apiServer{
		bind:   bind,
		token:  token,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.authorize(s.handleStatus))
	mux.HandleFunc("GET /api/queues", s.authorize(s.handleQueues))
	mux.HandleFunc("GET /api/jobs", s.authorize(s.handleJobs))
	mux.HandleFunc("GET /api/jobs/{video}", s.authorize(s.handleLatestJob))
	return mux
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil || s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

// authorize requires "Authorization: Bearer <token>" when a token is configured.
func (s *apiServer) authorize(next http.HandlerFunc) http.HandlerFunc {
	if s.token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		auth, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || auth != s.token {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	resp := statusResponse{
		Running:     status.Running,
		Driver:      status.Driver,
		LockFile:    status.LockFilePath,
		Queues:      make([]queueView, 0, len(status.Queues)),
		QueueError:  status.QueueError,
		Jobs:        make(map[string]int, len(status.Jobs)),
		Credentials: make([]credentialView, 0, len(status.Credentials)),
	}
	for _, q := range status.Queues {
		resp.Queues = append(resp.Queues, queueView(q))
	}
	for state, count := range status.Jobs {
		resp.Jobs[string(state)] = count
	}
	for _, load := range status.Credentials {
		resp.Credentials = append(resp.Credentials, credentialView{
			Credential: load.Credential.String(),
			Region:     load.Credential.Region,
			Sessions:   load.Sessions,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleQueues(w http.ResponseWriter, r *http.Request) {
	stats, err := s.daemon.comp.Broker.Inspect(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	views := make([]queueView, 0, len(stats))
	for _, q := range stats {
		views = append(views, queueView(q))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobstatus.Filter{
		Status:     jobstatus.Status(strings.TrimSpace(query.Get("status"))),
		ResourceID: strings.TrimSpace(query.Get("video")),
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	runs, err := s.daemon.comp.Ledger.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, newRunView(run))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *apiServer) handleLatestJob(w http.ResponseWriter, r *http.Request) {
	run, ok, err := s.daemon.comp.Ledger.Latest(r.Context(), r.PathValue("video"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "no runs recorded")
		return
	}
	s.writeJSON(w, http.StatusOK, newRunView(run))
}

func newRunView(run jobstatus.Run) runView {
	view := runView{
		ID:            run.ID,
		Queue:         run.Queue,
		VideoID:       run.ResourceID,
		CorrelationID: run.CorrelationID,
		Status:        string(run.Status),
		Force:         run.Force,
		Region:        run.Region,
		CueCount:      run.CueCount,
		SkippedWords:  run.SkippedWords,
		Outputs:       run.Outputs,
		Error:         run.ErrorMessage,
		StartedAt:     run.StartedAt.UTC().Format(time.RFC3339),
		DurationMS:    run.Duration().Milliseconds(),
	}
	if !run.FinishedAt.IsZero() {
		view.FinishedAt = run.FinishedAt.UTC().Format(time.RFC3339)
	}
	return view
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
