package handler

import (
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/tasksync/api/transport"
	"github.com/fastygo/tasksync/pkg/httpcontext"
	"github.com/fastygo/tasksync/usecase/settings"
	taskUC "github.com/fastygo/tasksync/usecase/task"
)

type SettingsHandler struct {
	baseHandler
	prefs *settings.Service
	store *taskUC.Store
}

func NewSettingsHandler(prefs *settings.Service, store *taskUC.Store, adapter *httpcontext.Adapter, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{
		baseHandler: newBaseHandler(adapter, logger),
		prefs:       prefs,
		store:       store,
	}
}

// @Summary Get preferences
// @Tags settings
// @Router /api/v1/settings [get]
func (h *SettingsHandler) GetSettings(ctx *fasthttp.RequestCtx) {
	h.respondSuccess(ctx, http.StatusOK, h.prefs.Get())
}

// @Summary Update preferences
// @Tags settings
// @Router /api/v1/settings [put]
func (h *SettingsHandler) UpdateSettings(ctx *fasthttp.RequestCtx) {
	var patch settings.Patch
	if !h.decode(ctx, &patch) {
		return
	}
	next, err := h.prefs.Update(patch)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, next)
}

// @Summary Export tasks and preferences
// @Tags backup
// @Router /api/v1/export [get]
func (h *SettingsHandler) Export(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Content-Disposition", `attachment; filename="tasksync-backup.json"`)
	h.respondSuccess(ctx, http.StatusOK, h.store.Export(h.prefs))
}

// @Summary Import a backup, replacing tasks and preferences
// @Tags backup
// @Router /api/v1/import [post]
func (h *SettingsHandler) Import(ctx *fasthttp.RequestCtx) {
	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	n, err := h.store.Import(ctx.PostBody(), h.prefs)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.logFor(stdCtx).Info("backup imported", zap.Int("tasks", n))
	h.respondSuccess(ctx, http.StatusOK, transport.ImportedView{Imported: n})
}
