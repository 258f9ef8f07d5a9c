package handler

import (
	"net/http"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/tasksync/api/transport"
	"github.com/fastygo/tasksync/internal/infrastructure/monitor"
	"github.com/fastygo/tasksync/internal/syncer"
	"github.com/fastygo/tasksync/pkg/httpcontext"
)

type HealthHandler struct {
	baseHandler
	monitor *monitor.Monitor
	orch    *syncer.Orchestrator
}

// NewHealthHandler builds the health endpoint. mon is nil when sync is disabled.
func NewHealthHandler(mon *monitor.Monitor, orch *syncer.Orchestrator, adapter *httpcontext.Adapter, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		baseHandler: newBaseHandler(adapter, logger),
		monitor:     mon,
		orch:        orch,
	}
}

// @Summary Health check
// @Tags health
// @Router /health [get]
func (h *HealthHandler) Check(ctx *fasthttp.RequestCtx) {
	st := h.orch.Status()
	payload := map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"sync":      statusView(st),
	}

	if h.monitor != nil {
		status := h.monitor.GetStatus()
		payload["services"] = map[string]interface{}{
			"postgresql": status.PostgreSQL,
			"redis":      status.Redis,
			"outbox": map[string]interface{}{
				"online": status.Buffer,
				"size":   status.BufferSize,
			},
		}
	}

	// the agent keeps serving offline; only a lost local cache is unhealthy
	if st.Degraded {
		h.respondJSON(ctx, http.StatusServiceUnavailable, transport.NewError("DEGRADED", "local persistence unavailable", payload))
		return
	}
	h.respondSuccess(ctx, http.StatusOK, payload)
}
