package handler

import (
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/tasksync/api/transport"
	"github.com/fastygo/tasksync/domain"
	"github.com/fastygo/tasksync/pkg/httpcontext"
	taskUC "github.com/fastygo/tasksync/usecase/task"
)

type TaskHandler struct {
	baseHandler
	store *taskUC.Store
}

func NewTaskHandler(store *taskUC.Store, adapter *httpcontext.Adapter, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		baseHandler: newBaseHandler(adapter, logger),
		store:       store,
	}
}

// @Summary List tasks
// @Tags tasks
// @Router /api/v1/tasks [get]
func (h *TaskHandler) GetTasks(ctx *fasthttp.RequestCtx) {
	args := ctx.QueryArgs()
	filter := domain.Filter{
		Category: domain.Category(args.Peek("category")),
		Status:   domain.Status(args.Peek("status")),
		Query:    string(args.Peek("q")),
	}
	if filter.Category != "" && !filter.Category.Valid() {
		h.respondError(ctx, domain.NewError(domain.ErrCodeInvalid, "unknown category"))
		return
	}
	if filter.Status != "" && filter.Status != domain.StatusAll && !filter.Status.Valid() {
		h.respondError(ctx, domain.NewError(domain.ErrCodeInvalid, "unknown status"))
		return
	}

	all := h.store.Snapshot()
	tasks := filter.Apply(all)
	h.respondList(ctx, tasks, transport.ListMeta{Count: len(tasks), Total: len(all)})
}

// @Summary Get task
// @Tags tasks
// @Router /api/v1/tasks/{id} [get]
func (h *TaskHandler) GetTask(ctx *fasthttp.RequestCtx) {
	task, ok := h.store.Get(pathID(ctx))
	if !ok {
		h.respondError(ctx, domain.ErrTaskNotFound)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, task)
}

// @Summary Create task
// @Tags tasks
// @Router /api/v1/tasks [post]
func (h *TaskHandler) CreateTask(ctx *fasthttp.RequestCtx) {
	var req transport.CreateTaskRequest
	if !h.decode(ctx, &req) {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	created, err := h.store.Create(req.Text, req.Category, req.Priority)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.logFor(stdCtx).Debug("task created", zap.String("task_id", created.ID))
	h.respondSuccess(ctx, http.StatusCreated, created)
}

// @Summary Update task
// @Tags tasks
// @Router /api/v1/tasks/{id} [patch]
func (h *TaskHandler) UpdateTask(ctx *fasthttp.RequestCtx) {
	var req transport.UpdateTaskRequest
	if !h.decode(ctx, &req) {
		return
	}
	h.respondTask(ctx, func(id string) (domain.Task, error) { return h.store.Update(id, req) })
}

// @Summary Complete task
// @Tags tasks
// @Router /api/v1/tasks/{id}/complete [post]
func (h *TaskHandler) CompleteTask(ctx *fasthttp.RequestCtx) {
	h.respondTask(ctx, h.store.Complete)
}

// @Summary Reopen a completed task
// @Tags tasks
// @Router /api/v1/tasks/{id}/uncomplete [post]
func (h *TaskHandler) UncompleteTask(ctx *fasthttp.RequestCtx) {
	h.respondTask(ctx, h.store.Uncomplete)
}

// @Summary Restore a deleted task
// @Tags tasks
// @Router /api/v1/tasks/{id}/restore [post]
func (h *TaskHandler) RestoreTask(ctx *fasthttp.RequestCtx) {
	h.respondTask(ctx, h.store.Restore)
}

// @Summary Soft-delete task
// @Tags tasks
// @Router /api/v1/tasks/{id} [delete]
func (h *TaskHandler) DeleteTask(ctx *fasthttp.RequestCtx) {
	h.respondTask(ctx, h.store.Delete)
}

// @Summary Move a task within its category and status
// @Tags tasks
// @Router /api/v1/tasks/reorder [post]
func (h *TaskHandler) ReorderTasks(ctx *fasthttp.RequestCtx) {
	var req transport.ReorderRequest
	if !h.decode(ctx, &req) {
		return
	}
	if req.Status == "" {
		req.Status = domain.StatusActive
	}

	sub, err := h.store.Reorder(req.Category, req.Status, req.From, req.To)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, sub)
}

// @Summary Remove every completed task
// @Tags tasks
// @Router /api/v1/tasks/clear-completed [post]
func (h *TaskHandler) ClearCompleted(ctx *fasthttp.RequestCtx) {
	h.respondSuccess(ctx, http.StatusOK, transport.ClearedView{Removed: h.store.ClearCompleted()})
}

// @Summary Task statistics
// @Tags tasks
// @Router /api/v1/stats [get]
func (h *TaskHandler) GetStats(ctx *fasthttp.RequestCtx) {
	h.respondSuccess(ctx, http.StatusOK, h.store.Stats())
}

// @Summary Known categories
// @Tags tasks
// @Router /api/v1/categories [get]
func (h *TaskHandler) GetCategories(ctx *fasthttp.RequestCtx) {
	h.respondSuccess(ctx, http.StatusOK, domain.Categories)
}

func (h *TaskHandler) respondTask(ctx *fasthttp.RequestCtx, op func(id string) (domain.Task, error)) {
	id := pathID(ctx)
	if id == "" {
		h.respondError(ctx, domain.NewError(domain.ErrCodeInvalid, "missing task id"))
		return
	}
	task, err := op(id)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, task)
}
