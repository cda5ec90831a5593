// Command hearthd runs the assistant orchestrator daemon: it loads the
// service catalog, compiles the workflow graph and serves the local HTTP API
// the desktop shell talks to.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hearthai/hearth/client"
	"github.com/hearthai/hearth/core"
	"github.com/hearthai/hearth/graph"
	"github.com/hearthai/hearth/orchestration"
	"github.com/hearthai/hearth/registry"
	"github.com/hearthai/hearth/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "hearthd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := core.NewConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := core.NewProductionLogger(cfg.ServiceName)
	logger.Info("Starting hearthd", map[string]interface{}{
		"data_dir":  cfg.DataDir,
		"namespace": cfg.Namespace,
		"redis":     cfg.RedisURL != "",
	})

	tel, err := telemetry.NewOTelProvider(cfg.ServiceName, os.Getenv("HEARTH_OTEL_ENDPOINT"))
	if err != nil {
		logger.Warn("Telemetry disabled", map[string]interface{}{"error": err.Error()})
		tel = nil
	}
	var telProvider core.Telemetry = &core.NoOpTelemetry{}
	if tel != nil {
		telProvider = tel
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			tel.Shutdown(ctx)
		}()
	}

	key, err := core.LoadOrCreateKey(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("loading encryption key: %w", err)
	}
	cipher, err := core.NewCredentialCipher(key)
	if err != nil {
		return fmt.Errorf("initializing credential cipher: %w", err)
	}

	var store registry.Store
	if cfg.RedisURL != "" {
		store, err = registry.NewRedisStore(cfg.RedisURL, cfg.Namespace)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
	} else {
		logger.Info("No Redis configured, using in-memory catalog store", nil)
		store = registry.NewMemoryStore()
	}
	defer store.Close()

	reg := registry.New(store, cipher, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := reg.Load(ctx); err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	if cfg.CatalogFile != "" {
		if err := reg.SeedFromFile(ctx, cfg.CatalogFile); err != nil {
			return fmt.Errorf("seeding catalog: %w", err)
		}
	}
	if err := reg.VerifyCoreServices(); err != nil {
		// A configured catalog is expected to be complete; without one the
		// catalog is populated over the API after first start.
		if cfg.CatalogFile != "" {
			return fmt.Errorf("verifying core services: %w", err)
		}
		logger.Warn("Core services incomplete", map[string]interface{}{"error": err.Error()})
	}

	cli := client.New(reg, cfg.DefaultTimeout, logger, telProvider)
	if cfg.HealthInterval > 0 {
		cli.StartHealthMonitor(ctx, cfg.HealthInterval, cfg.HealthProbeTimeout)
	}

	orch := orchestration.New(reg, cli, cfg, logger, telProvider)
	defer orch.Close()

	srv := &server{
		orchestrator: orch,
		registry:     reg,
		probeTimeout: cfg.HealthProbeTimeout,
		logger:       logger,
	}

	addr := os.Getenv("HEARTH_LISTEN_ADDR")
	if addr == "" {
		addr = "127.0.0.1:8420"
	}
	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv.routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", map[string]interface{}{"addr": addr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down", nil)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// server holds the HTTP handlers over the orchestrator and registry
type server struct {
	orchestrator *orchestration.Orchestrator
	registry     *registry.Registry
	probeTimeout time.Duration
	logger       core.Logger
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/process", s.handleProcess)
	mux.HandleFunc("POST /v1/execute", s.handleExecute)
	mux.HandleFunc("GET /v1/traces", s.handleTraces)
	mux.HandleFunc("GET /v1/services", s.handleListServices)
	mux.HandleFunc("POST /v1/services", s.handleRegisterService)
	mux.HandleFunc("PATCH /v1/services/{name}", s.handleUpdateService)
	mux.HandleFunc("DELETE /v1/services/{name}", s.handleRemoveService)
	mux.HandleFunc("GET /v1/services/{name}/health", s.handleServiceHealth)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// processRequest is the JSON body of POST /v1/process
type processRequest struct {
	Message          string              `json:"message"`
	SessionID        string              `json:"session_id"`
	UserID           string              `json:"user_id,omitempty"`
	History          []graph.ChatMessage `json:"history,omitempty"`
	UseOnlineMode    bool                `json:"use_online_mode,omitempty"`
	HighlightedText  string              `json:"highlighted_text,omitempty"`
	SelectionContext string              `json:"selection_context,omitempty"`
	Stream           bool                `json:"stream,omitempty"`
	BypassCache      bool                `json:"bypass_cache,omitempty"`
}

func (s *server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	orchReq := orchestration.Request{
		Message:     req.Message,
		BypassCache: req.BypassCache,
		Context: graph.RequestContext{
			SessionID:           req.SessionID,
			UserID:              req.UserID,
			Timestamp:           time.Now(),
			ConversationHistory: req.History,
			UseOnlineMode:       req.UseOnlineMode,
			HasSelection:        req.SelectionContext != "",
			SelectionContext:    req.SelectionContext,
			HighlightedText:     req.HighlightedText,
		},
	}

	if !req.Stream {
		writeJSON(w, http.StatusOK, s.orchestrator.Process(r.Context(), orchReq))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	orchReq.StreamCallback = func(token string) {
		frame, _ := json.Marshal(map[string]string{"token": token})
		fmt.Fprintf(w, "data: %s\n\n", frame)
		flusher.Flush()
	}
	result := s.orchestrator.Process(r.Context(), orchReq)

	final, _ := json.Marshal(result)
	fmt.Fprintf(w, "data: %s\n\n", final)
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// executeRequest is the JSON body of POST /v1/execute
type executeRequest struct {
	Service        string                 `json:"service"`
	Action         string                 `json:"action"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
	AllowSensitive bool                   `json:"allow_sensitive,omitempty"`
}

func (s *server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Service == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "service and action are required")
		return
	}

	var opts []client.CallOption
	if req.AllowSensitive {
		opts = append(opts, client.WithAllowSensitive())
	}
	data, err := s.orchestrator.ExecuteAction(r.Context(), req.Service, req.Action, req.Payload, opts...)
	if err != nil {
		writeJSON(w, statusForError(err), map[string]interface{}{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": data})
}

func (s *server) handleTraces(w http.ResponseWriter, r *http.Request) {
	q := orchestration.TracesQuery{
		SessionID:    r.URL.Query().Get("session_id"),
		IncludeCache: r.URL.Query().Get("include_cache") == "true",
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			q.Limit = n
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"traces": s.orchestrator.Traces(q)})
}

func (s *server) handleListServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"services": s.registry.List()})
}

func (s *server) handleRegisterService(w http.ResponseWriter, r *http.Request) {
	var cfg registry.ServiceConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	svc, err := s.registry.Register(r.Context(), cfg)
	if err != nil {
		writeJSON(w, statusForError(err), map[string]interface{}{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, svc)
}

func (s *server) handleUpdateService(w http.ResponseWriter, r *http.Request) {
	var partial map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	svc, err := s.registry.Update(r.Context(), r.PathValue("name"), partial)
	if err != nil {
		writeJSON(w, statusForError(err), map[string]interface{}{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (s *server) handleRemoveService(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Remove(r.Context(), r.PathValue("name")); err != nil {
		writeJSON(w, statusForError(err), map[string]interface{}{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleServiceHealth(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	history, err := s.registry.HealthHistory(r.Context(), name, 50)
	if err != nil {
		writeJSON(w, statusForError(err), map[string]interface{}{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"service": name, "history": history})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orchestrator.Health(r.Context(), s.probeTimeout))
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, core.ErrServiceNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrServiceExists):
		return http.StatusConflict
	case errors.Is(err, core.ErrProtectedCore), errors.Is(err, core.ErrActionNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, core.ErrInvalidPayload), errors.Is(err, core.ErrInvalidConfiguration):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"error": msg})
}
