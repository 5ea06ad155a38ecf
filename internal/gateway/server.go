// Package gateway is the transport layer: the device WebSocket link,
// the operational REST surface, and the intake pipeline that turns a
// user message into a route/classify/spawn decision.
package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/okibrian/valet/internal/agentrun"
	"github.com/okibrian/valet/internal/brain"
	"github.com/okibrian/valet/internal/config"
	"github.com/okibrian/valet/internal/device"
	"github.com/okibrian/valet/internal/memory"
	"github.com/okibrian/valet/internal/notify"
	"github.com/okibrian/valet/internal/observability"
	"github.com/okibrian/valet/internal/persona"
	"github.com/okibrian/valet/internal/schedule"
	"github.com/okibrian/valet/internal/tasks"
	"github.com/okibrian/valet/internal/worklog"
)

// Deps collects the collaborators the server wires together.
type Deps struct {
	Registry  *tasks.Registry
	Devices   *device.Manager
	Runner    *agentrun.Runner
	Chat      brain.Chatter
	Memory    memory.Store
	Journal   worklog.Store
	Personas  *persona.Store
	Schedules *schedule.Table
	Notifier  notify.Notifier
	Metrics   *observability.Metrics
}

type Server struct {
	cfg       config.Config
	registry  *tasks.Registry
	devices   *device.Manager
	runner    *agentrun.Runner
	chat      brain.Chatter
	memories  memory.Store
	journal   worklog.Store
	personas  *persona.Store
	schedules *schedule.Table
	notifier  notify.Notifier
	metrics   *observability.Metrics
	upgrader  websocket.Upgrader

	mu       sync.Mutex
	outbound map[string]chan any
	pending  map[string]pendingApproval
}

func New(cfg config.Config, deps Deps) *Server {
	s := &Server{
		cfg:       cfg,
		registry:  deps.Registry,
		devices:   deps.Devices,
		runner:    deps.Runner,
		chat:      deps.Chat,
		memories:  deps.Memory,
		journal:   deps.Journal,
		personas:  deps.Personas,
		schedules: deps.Schedules,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		outbound:  make(map[string]chan any),
		pending:   make(map[string]pendingApproval),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browser connections must come from the same origin
				// unless explicitly opened up. Local agents usually
				// send no Origin at all.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
	if s.runner != nil {
		s.runner.SetEventSink(s.handleRunnerEvent)
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/agent/ws", s.handleAgentWS)

	r.Get("/v1/devices", s.handleListDevices)
	r.Get("/v1/devices/{id}/tasks", s.handleDeviceTasks)
	r.Get("/v1/devices/{id}/log", s.handleDeviceLog)
	r.Post("/v1/devices/{id}/restart", s.handleRestartDevice)

	r.Get("/v1/tasks/{id}", s.handleGetTask)
	r.Get("/v1/tasks/{id}/log", s.handleTaskLog)
	r.Post("/v1/tasks/{id}/cancel", s.handleCancelTask)

	r.Get("/v1/personas", s.handleListPersonas)

	r.Get("/v1/schedules", s.handleListSchedules)
	r.Post("/v1/schedules", s.handleCreateSchedule)
	r.Delete("/v1/schedules/{id}", s.handleRemoveSchedule)
	r.Post("/v1/schedules/{id}/enable", s.handleEnableSchedule)
	r.Post("/v1/schedules/{id}/disable", s.handleDisableSchedule)

	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"brain":        s.brainName(),
		"active_tasks": s.registry.ActiveTaskCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"brain":  s.brainName(),
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.SnapshotIntakeStages())
}

func (s *Server) brainName() string {
	if s.chat == nil {
		return "none"
	}
	return s.chat.Name()
}

// registerOutbound claims the write queue for a device connection. A
// reconnect replaces the previous queue; the replaced queue is never
// closed (sends to it must stay safe), its writer exits with its own
// connection context.
func (s *Server) registerOutbound(deviceID string) chan any {
	ch := make(chan any, 256)
	s.mu.Lock()
	s.outbound[deviceID] = ch
	s.mu.Unlock()
	return ch
}

// unregisterOutbound removes the queue if it is still the registered
// one, and reports whether it was — false means a newer connection has
// already taken over the device.
func (s *Server) unregisterOutbound(deviceID string, ch chan any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outbound[deviceID] != ch {
		return false
	}
	delete(s.outbound, deviceID)
	return true
}

// push queues a frame for the device's writer. Returns false when the
// device is not connected or its queue is saturated.
func (s *Server) push(deviceID string, msg any) bool {
	s.mu.Lock()
	ch := s.outbound[deviceID]
	s.mu.Unlock()
	if ch == nil {
		return false
	}
	select {
	case ch <- msg:
		return true
	default:
		return false
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

type pendingApproval struct {
	prompt  string
	userID  string
	expires time.Time
}
