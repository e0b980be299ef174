package health

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPHandler serves the health endpoints.
type HTTPHandler struct {
	manager *Manager
	logger  *zap.Logger
}

func NewHTTPHandler(manager *Manager, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{manager: manager, logger: logger}
}

type statusBody struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Duration  string `json:"duration"`
	Degraded  bool   `json:"degraded"`
	Ready     bool   `json:"ready"`
	Live      bool   `json:"live"`
	Timestamp int64  `json:"timestamp"`
}

type readyBody struct {
	Ready     bool   `json:"ready"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type liveBody struct {
	Live      bool  `json:"live"`
	Timestamp int64 `json:"timestamp"`
}

// RegisterRoutes mounts /health, /health/ready, /health/live and /health/detailed.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		o := h.manager.GetOverallHealth(r.Context())
		h.reply(w, o.Status != StatusUnhealthy, statusBody{
			Status:    o.Status.String(),
			Message:   o.Message,
			Duration:  o.Duration.String(),
			Degraded:  o.Degraded,
			Ready:     o.Ready,
			Live:      o.Live,
			Timestamp: o.Timestamp.Unix(),
		})
	})
	mux.HandleFunc("GET /health/ready", func(w http.ResponseWriter, r *http.Request) {
		o := h.manager.GetOverallHealth(r.Context())
		h.reply(w, o.Ready, readyBody{
			Ready:     o.Ready,
			Status:    o.Status.String(),
			Message:   o.Message,
			Timestamp: o.Timestamp.Unix(),
		})
	})
	// Liveness never runs dependency checks.
	mux.HandleFunc("GET /health/live", func(w http.ResponseWriter, _ *http.Request) {
		h.reply(w, true, liveBody{Live: true, Timestamp: time.Now().Unix()})
	})
	mux.HandleFunc("GET /health/detailed", func(w http.ResponseWriter, r *http.Request) {
		d := h.manager.GetDetailedHealth(r.Context())
		h.reply(w, d.Overall.Status != StatusUnhealthy, d)
	})
}

// reply writes body as JSON with 200 when ok and 503 otherwise.
func (h *HTTPHandler) reply(w http.ResponseWriter, ok bool, body any) {
	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}
