package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/danielnaab/site-scanning-engine/docs/swagger" // registers the OpenAPI document
	"github.com/danielnaab/site-scanning-engine/internal/app"
	"github.com/danielnaab/site-scanning-engine/internal/logging"
	"github.com/danielnaab/site-scanning-engine/internal/model"
	"github.com/danielnaab/site-scanning-engine/internal/registry"
	"github.com/danielnaab/site-scanning-engine/internal/results"
)

// Server is the HTTP + WebSocket API surface of the scanner.
type Server struct {
	app      *app.Application
	cfg      app.ServerConfig
	router   chi.Router
	upgrader websocket.Upgrader
	logger   logging.Logger
}

// NewServer builds the API around an initialized Application. The scanner
// is started on the first scan request.
func NewServer(a *app.Application) (*Server, error) {
	if a == nil {
		return nil, errors.New("application is nil")
	}
	logger := a.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	r := chi.NewRouter()
	s := &Server{
		app:    a,
		cfg:    a.Config.Server,
		router: r,
		logger: logger.With(logging.Component("server")),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := s.router

	r.Use(s.corsMiddleware)
	r.Use(s.app.Metrics.Middleware)

	// CORS preflight
	r.Options("/scans", s.optionsHandler("POST"))
	r.Options("/jobs", s.optionsHandler("GET"))
	r.Options("/jobs/{jobID}", s.optionsHandler("GET, DELETE"))

	r.Get("/healthz", s.handleHealth)

	// Scans and the jobs running them
	r.Post("/scans", s.handleStartScan)
	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{jobID}", s.handleGetJob)
	r.Delete("/jobs/{jobID}", s.handleCancelJob)
	r.Get("/ws/scans", s.handleScanWS)

	// Stored results
	r.Get("/results/{scanID}", s.handleGetResult)
	r.Get("/websites", s.handleListWebsites)
	r.Get("/websites/{id}", s.handleGetWebsite)
	r.Get("/websites/{id}/results", s.handleWebsiteResults)
	r.Get("/websites/{id}/drift", s.handleWebsiteDrift)

	if s.app.Config.Metrics.Enabled {
		r.Handle("/metrics", s.app.Metrics.Handler())
	}
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}

func (s *Server) originAllowed(origin string) bool {
	return slices.Contains(s.cfg.AllowedOrigins, "*") || slices.Contains(s.cfg.AllowedOrigins, origin)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch origin := r.Header.Get("Origin"); {
		case slices.Contains(s.cfg.AllowedOrigins, "*"):
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && s.originAllowed(origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) optionsHandler(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fields := []logging.Field{
		{Key: "method", Value: r.Method},
		{Key: "path", Value: r.URL.Path},
	}

	if q := r.URL.Query(); len(q) > 0 {
		fields = append(fields, logging.Field{Key: "query", Value: q})
	}

	if r.Body != nil && r.Method == http.MethodPost {
		if bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)); err == nil {
			fields = append(fields, logging.Field{Key: "body", Value: string(bodyBytes)})
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
	}

	s.logger.Debug("http_request", fields...)

	s.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: 0, // allow streaming
	}
}

// Run serves until ctx is done, then shuts down gracefully. Finished jobs
// are forgotten on the configured schedule while it runs.
func (s *Server) Run(ctx context.Context) error {
	srv := s.HTTPServer()

	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer stopCleanup()
	go s.app.Jobs.RunCleanup(cleanupCtx, s.app.Config.Jobs.CleanupInterval)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", logging.Field{Key: "addr", Value: srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.logger.Info("api shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		return nil
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("api server error: %w", err)
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func intQuery(r *http.Request, name string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil && v >= 0 {
		return v
	}
	return def
}

func websiteIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid website id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}

// --- HTTP handlers ---

// handleHealth reports whether the database answers.
//
// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /healthz [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.app.DB.PingContext(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// scanRequest turns an API request into a ScanRequest, filling the target
// from the registry when only a website id is given.
func (s *Server) scanRequest(ctx context.Context, body StartScanRequest) (model.ScanRequest, int, error) {
	req := model.ScanRequest{WebsiteID: body.WebsiteID, TargetURL: body.URL}
	if req.TargetURL == "" && req.WebsiteID == 0 {
		return req, http.StatusBadRequest, errors.New("url or websiteId is required")
	}
	if req.WebsiteID != 0 && req.TargetURL == "" {
		web, err := s.app.Registry.Get(ctx, req.WebsiteID)
		if errors.Is(err, registry.ErrWebsiteNotFound) {
			return req, http.StatusNotFound, err
		}
		if err != nil {
			return req, http.StatusInternalServerError, err
		}
		req.TargetURL = web.Website
	}
	return req, 0, nil
}

func (s *Server) startScan(ctx context.Context, body StartScanRequest) (*app.Job, int, error) {
	req, status, err := s.scanRequest(ctx, body)
	if err != nil {
		return nil, status, err
	}
	if _, err := s.app.Scanner(); err != nil {
		return nil, http.StatusServiceUnavailable, fmt.Errorf("scanner unavailable: %w", err)
	}
	job, err := s.app.Jobs.StartScanJob(ctx, req)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	return job, 0, nil
}

// handleStartScan starts a background scan job.
//
// @Summary Start a scan
// @Tags scans
// @Accept json
// @Produce json
// @Param request body StartScanRequest true "Target to scan"
// @Success 202 {object} app.Job
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /scans [post]
func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	var body StartScanRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	job, status, err := s.startScan(r.Context(), body)
	if err != nil {
		s.logger.Warn("starting scan job", logging.Err(err))
		writeError(w, status, err.Error())
		return
	}
	s.logger.Info("started scan job", logging.Field{Key: "job_id", Value: job.ID}, logging.Field{Key: "target", Value: job.Request.TargetURL})
	writeJSON(w, http.StatusAccepted, job)
}

// @Summary List jobs
// @Tags jobs
// @Produce json
// @Success 200 {array} app.Job
// @Router /jobs [get]
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Jobs.ListJobs())
}

// @Summary Get a job
// @Tags jobs
// @Produce json
// @Param jobID path string true "Job ID"
// @Success 200 {object} app.Job
// @Failure 404 {object} ErrorResponse
// @Router /jobs/{jobID} [get]
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.app.Jobs.GetJob(jobID)
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// @Summary Cancel a job
// @Tags jobs
// @Param jobID path string true "Job ID"
// @Success 204
// @Router /jobs/{jobID} [delete]
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	s.app.Jobs.CancelJob(jobID)
	s.logger.Info("canceled job", logging.Field{Key: "job_id", Value: jobID})
	writeJSON(w, http.StatusNoContent, nil)
}

// handleScanWS starts a scan job and streams its events until it ends.
//
// @Summary Scan over a websocket
// @Tags scans
// @Param url query string false "Target URL"
// @Param websiteId query int false "Registry website id"
// @Router /ws/scans [get]
func (s *Server) handleScanWS(w http.ResponseWriter, r *http.Request) {
	body := StartScanRequest{URL: r.URL.Query().Get("url")}
	if id := r.URL.Query().Get("websiteId"); id != "" {
		body.WebsiteID, _ = strconv.ParseInt(id, 10, 64)
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Err(err))
		return
	}
	defer conn.Close()

	job, _, err := s.startScan(r.Context(), body)
	if err != nil {
		s.logger.Warn("starting scan job", logging.Err(err))
		_ = conn.WriteJSON(ErrorResponse{Error: err.Error()})
		return
	}
	_ = conn.WriteJSON(job)

	events, err := s.app.Jobs.Subscribe(job.ID)
	if err != nil {
		_ = conn.WriteJSON(ErrorResponse{Error: err.Error()})
		return
	}
	for ev := range events {
		if err := conn.WriteJSON(ev); err != nil {
			// Assume client disconnected; cancel job
			s.app.Jobs.CancelJob(job.ID)
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
}

// @Summary Get a stored scan result
// @Tags results
// @Produce json
// @Param scanID path string true "Scan ID"
// @Success 200 {object} model.ScanResult
// @Failure 404 {object} ErrorResponse
// @Router /results/{scanID} [get]
func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.Results.Get(r.Context(), chi.URLParam(r, "scanID"))
	if errors.Is(err, results.ErrResultNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// @Summary List websites
// @Tags websites
// @Produce json
// @Param limit query int false "Page size (default 100)"
// @Param offset query int false "Offset"
// @Success 200 {array} registry.Website
// @Router /websites [get]
func (s *Server) handleListWebsites(w http.ResponseWriter, r *http.Request) {
	list, err := s.app.Registry.List(r.Context(), intQuery(r, "limit", 100), intQuery(r, "offset", 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []*registry.Website{}
	}
	writeJSON(w, http.StatusOK, list)
}

// @Summary Get a website
// @Tags websites
// @Produce json
// @Param id path int true "Website ID"
// @Success 200 {object} registry.Website
// @Failure 404 {object} ErrorResponse
// @Router /websites/{id} [get]
func (s *Server) handleGetWebsite(w http.ResponseWriter, r *http.Request) {
	id, err := websiteIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	web, err := s.app.Registry.Get(r.Context(), id)
	if errors.Is(err, registry.ErrWebsiteNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, web)
}

// @Summary Scan history of a website
// @Tags websites
// @Produce json
// @Param id path int true "Website ID"
// @Param limit query int false "Maximum results (default 20)"
// @Success 200 {array} model.ScanResult
// @Router /websites/{id}/results [get]
func (s *Server) handleWebsiteResults(w http.ResponseWriter, r *http.Request) {
	id, err := websiteIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := s.app.Results.History(r.Context(), id, intQuery(r, "limit", 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []*model.ScanResult{}
	}
	writeJSON(w, http.StatusOK, list)
}

// @Summary Drift between the two latest scans of a website
// @Tags websites
// @Produce json
// @Param id path int true "Website ID"
// @Success 200 {object} results.Drift
// @Failure 404 {object} ErrorResponse
// @Router /websites/{id}/drift [get]
func (s *Server) handleWebsiteDrift(w http.ResponseWriter, r *http.Request) {
	id, err := websiteIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := s.app.Results.Drift(r.Context(), id)
	if errors.Is(err, results.ErrResultNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, d)
}
