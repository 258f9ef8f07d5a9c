package handler

import (
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/tasksync/api/transport"
	"github.com/fastygo/tasksync/internal/syncer"
	"github.com/fastygo/tasksync/pkg/httpcontext"
)

type SyncHandler struct {
	baseHandler
	orch *syncer.Orchestrator
}

func NewSyncHandler(orch *syncer.Orchestrator, adapter *httpcontext.Adapter, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{
		baseHandler: newBaseHandler(adapter, logger),
		orch:        orch,
	}
}

// @Summary Sync status
// @Tags sync
// @Router /api/v1/sync [get]
func (h *SyncHandler) GetStatus(ctx *fasthttp.RequestCtx) {
	h.respondSuccess(ctx, http.StatusOK, statusView(h.orch.Status()))
}

// @Summary Push the whole local collection
// @Tags sync
// @Router /api/v1/sync/resync [post]
func (h *SyncHandler) Resync(ctx *fasthttp.RequestCtx) {
	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	if err := h.orch.Resync(stdCtx); err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, statusView(h.orch.Status()))
}

// @Summary Acknowledge the last sync error
// @Tags sync
// @Router /api/v1/sync/ack [post]
func (h *SyncHandler) Acknowledge(ctx *fasthttp.RequestCtx) {
	h.orch.AcknowledgeError()
	h.respondSuccess(ctx, http.StatusOK, statusView(h.orch.Status()))
}

func statusView(st syncer.Status) transport.SyncStatusView {
	view := transport.SyncStatusView{
		State:        string(st.State),
		UserID:       st.UserID,
		Online:       st.Online,
		Pending:      st.Pending,
		Degraded:     st.Degraded,
		LastSyncedAt: st.LastSyncedAt,
	}
	if st.LastError != nil {
		view.Error = &transport.SyncErrorView{
			Kind:    string(st.LastError.Kind),
			Message: st.LastError.Err.Error(),
			At:      st.LastError.At,
		}
	}
	return view
}
