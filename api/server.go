package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cristianemoyano/cloudnap/cache"
	"github.com/cristianemoyano/cloudnap/config"
	"github.com/cristianemoyano/cloudnap/history"
	"github.com/cristianemoyano/cloudnap/orchestrator"
	"github.com/cristianemoyano/cloudnap/types"
)

// Orchestrator is the surface the HTTP layer needs.
type Orchestrator interface {
	ListClusterStatuses(ctx context.Context, forceRefresh bool) []types.ClusterView
	GetClusterStatus(ctx context.Context, name string, forceRefresh bool) (types.ClusterView, error)
	RequestClusterAction(ctx context.Context, name, action string) (types.ActionResult, error)
	ListScheduledJobs() []types.JobView
	TriggerJobNow(ctx context.Context, cluster, direction string) (types.ActionResult, error)
	Reload() error
	CacheStats() cache.Stats
	CacheClear()
	Clusters() []types.Cluster
	SchedulerRunning() bool
	History(ctx context.Context, since time.Time) ([]history.Entry, error)
}

type Server struct {
	logger     *zerolog.Logger
	orch       Orchestrator
	cfg        *config.Config
	broadcast  <-chan types.Broadcast
	wsClients  map[*websocket.Conn]struct{}
	wsMu       sync.Mutex
	wg         sync.WaitGroup
	shutdownCh chan struct{}
	httpServer *http.Server
}

func New(cfg *config.Config, orch Orchestrator, logger *zerolog.Logger, broadcast <-chan types.Broadcast) *Server {
	return &Server{
		logger:     logger,
		orch:       orch,
		cfg:        cfg,
		broadcast:  broadcast,
		wsClients:  make(map[*websocket.Conn]struct{}),
		shutdownCh: make(chan struct{}),
	}
}

// envelope is the JSON shape of every API response.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Count   *int        `json:"count,omitempty"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func (api *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/clusters", api.handleListClusters).Methods(http.MethodGet)
	r.HandleFunc("/api/clusters/{name}", api.handleGetCluster).Methods(http.MethodGet)
	r.HandleFunc("/api/clusters/{name}/start", api.handleClusterAction("start")).Methods(http.MethodPost)
	r.HandleFunc("/api/clusters/{name}/stop", api.handleClusterAction("stop")).Methods(http.MethodPost)

	r.HandleFunc("/api/scheduler/jobs", api.handleListJobs).Methods(http.MethodGet)
	r.HandleFunc("/api/scheduler/jobs/{cluster}/{direction}/trigger", api.handleTriggerJob).Methods(http.MethodPost)

	r.HandleFunc("/api/config", api.handleGetConfig).Methods(http.MethodGet)
	r.HandleFunc("/api/config/reload", api.handleReload).Methods(http.MethodPost)

	r.HandleFunc("/api/cache/stats", api.handleCacheStats).Methods(http.MethodGet)
	r.HandleFunc("/api/cache/clear", api.handleCacheClear).Methods(http.MethodPost)

	r.HandleFunc("/api/history", api.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/health", api.handleHealth).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/ws", api.handleWebsocket)

	return r
}

// Serve blocks until Stop is called or the listener fails.
func (api *Server) Serve(host string, port uint) error {
	api.wg.Add(1)
	go api.manageConnections()

	api.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	api.logger.Info().Msgf("Listening on %s", api.httpServer.Addr)
	if err := api.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (api *Server) Stop() {
	api.logger.Info().Msg("Stopping API server")
	close(api.shutdownCh)

	if api.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := api.httpServer.Shutdown(ctx); err != nil {
			api.logger.Error().Err(err).Msg("HTTP server shutdown")
		}
	}
	api.wg.Wait()
}

func (api *Server) handleListClusters(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	views := api.orch.ListClusterStatuses(r.Context(), force)
	n := len(views)
	api.writeJSON(w, http.StatusOK, envelope{Success: true, Data: views, Count: &n})
}

func (api *Server) handleGetCluster(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	view, err := api.orch.GetClusterStatus(r.Context(), mux.Vars(r)["name"], force)
	if err != nil {
		api.writeError(w, err)
		return
	}
	api.writeJSON(w, http.StatusOK, envelope{Success: true, Data: view})
}

func (api *Server) handleClusterAction(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		result, err := api.orch.RequestClusterAction(r.Context(), name, action)
		if err != nil {
			api.writeError(w, err)
			return
		}
		api.writeJSON(w, http.StatusAccepted, envelope{
			Success: true,
			Data:    result,
			Message: fmt.Sprintf("Cluster %s %s accepted", name, action),
		})
	}
}

func (api *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := api.orch.ListScheduledJobs()
	n := len(jobs)
	api.writeJSON(w, http.StatusOK, envelope{Success: true, Data: jobs, Count: &n})
}

func (api *Server) handleTriggerJob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	result, err := api.orch.TriggerJobNow(r.Context(), vars["cluster"], vars["direction"])
	if err != nil {
		api.writeError(w, err)
		return
	}
	api.writeJSON(w, http.StatusAccepted, envelope{
		Success: true,
		Data:    result,
		Message: fmt.Sprintf("Job %s/%s triggered", vars["cluster"], vars["direction"]),
	})
}

// handleGetConfig reports the active configuration without credentials.
func (api *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	clusters := api.orch.Clusters()
	safe := map[string]interface{}{
		"app": map[string]interface{}{
			"host":      api.cfg.App.Host,
			"port":      api.cfg.App.Port,
			"log_level": api.cfg.App.LogLevel,
		},
		"provider": map[string]interface{}{
			"region":          api.cfg.Provider.Region,
			"timeout_seconds": api.cfg.Provider.TimeoutSeconds,
		},
		"scheduler": map[string]interface{}{
			"timezone":    api.cfg.Scheduler.Timezone,
			"max_workers": api.cfg.Scheduler.MaxWorkers,
		},
		"cache": map[string]interface{}{
			"ttl_seconds": api.cfg.Cache.TTLSeconds,
		},
		"clusters": clusters,
	}
	api.writeJSON(w, http.StatusOK, envelope{Success: true, Data: safe})
}

func (api *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := api.orch.Reload(); err != nil {
		api.writeError(w, err)
		return
	}
	api.writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: fmt.Sprintf("Configuration reloaded, %d clusters", len(api.orch.Clusters())),
	})
}

func (api *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, envelope{Success: true, Data: api.orch.CacheStats()})
}

func (api *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	api.orch.CacheClear()
	api.writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Cache cleared"})
}

func (api *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			api.writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "hours must be a positive integer"})
			return
		}
		hours = parsed
	}

	entries, err := api.orch.History(r.Context(), time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		api.writeError(w, err)
		return
	}
	n := len(entries)
	api.writeJSON(w, http.StatusOK, envelope{Success: true, Data: entries, Count: &n})
}

func (api *Server) writeError(w http.ResponseWriter, err error) {
	api.writeJSON(w, statusCodeFor(err), envelope{Success: false, Error: err.Error()})
}

func statusCodeFor(err error) int {
	var (
		invalidTransition *orchestrator.InvalidTransitionError
		inProgress        *orchestrator.AlreadyInProgressError
		providerCall      *orchestrator.ProviderCallError
	)
	switch {
	case errors.Is(err, orchestrator.ErrClusterNotFound), errors.Is(err, orchestrator.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrInvalidAction):
		return http.StatusBadRequest
	case errors.As(err, &invalidTransition), errors.As(err, &inProgress):
		return http.StatusConflict
	case errors.As(err, &providerCall):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (api *Server) writeJSON(w http.ResponseWriter, code int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		api.logger.Error().Err(err).Msg("Error writing response")
	}
}
