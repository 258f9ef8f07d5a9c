package router

import (
	"github.com/fasthttp/router"

	apiHandler "github.com/fastygo/tasksync/api/handler"
	"github.com/fastygo/tasksync/internal/middleware"
)

type Handlers struct {
	Auth     *apiHandler.AuthHandler
	Task     *apiHandler.TaskHandler
	Settings *apiHandler.SettingsHandler
	Sync     *apiHandler.SyncHandler
	Health   *apiHandler.HealthHandler
}

// New builds the route table. identity runs on every route; requireAuth only
// guards the routes that need a signed-in user.
func New(handlers Handlers, identity, requireAuth middleware.Middleware) *router.Router {
	r := router.New()

	r.GET("/health", handlers.Health.Check)

	// Auth routes
	r.POST("/api/v1/auth/login", identity(handlers.Auth.Login))
	r.POST("/api/v1/auth/logout", identity(requireAuth(handlers.Auth.Logout)))
	r.POST("/api/v1/auth/refresh", identity(requireAuth(handlers.Auth.Refresh)))

	// Tasks work offline and without a signed-in user
	r.GET("/api/v1/tasks", identity(handlers.Task.GetTasks))
	r.POST("/api/v1/tasks", identity(handlers.Task.CreateTask))
	r.POST("/api/v1/tasks/reorder", identity(handlers.Task.ReorderTasks))
	r.POST("/api/v1/tasks/clear-completed", identity(handlers.Task.ClearCompleted))
	r.GET("/api/v1/tasks/{id}", identity(handlers.Task.GetTask))
	r.PATCH("/api/v1/tasks/{id}", identity(handlers.Task.UpdateTask))
	r.DELETE("/api/v1/tasks/{id}", identity(handlers.Task.DeleteTask))
	r.POST("/api/v1/tasks/{id}/complete", identity(handlers.Task.CompleteTask))
	r.POST("/api/v1/tasks/{id}/uncomplete", identity(handlers.Task.UncompleteTask))
	r.POST("/api/v1/tasks/{id}/restore", identity(handlers.Task.RestoreTask))
	r.GET("/api/v1/categories", handlers.Task.GetCategories)
	r.GET("/api/v1/stats", identity(handlers.Task.GetStats))

	r.GET("/api/v1/settings", handlers.Settings.GetSettings)
	r.PUT("/api/v1/settings", handlers.Settings.UpdateSettings)
	r.GET("/api/v1/export", identity(handlers.Settings.Export))
	r.POST("/api/v1/import", identity(handlers.Settings.Import))

	r.GET("/api/v1/sync", identity(handlers.Sync.GetStatus))
	r.POST("/api/v1/sync/resync", identity(requireAuth(handlers.Sync.Resync)))
	r.POST("/api/v1/sync/ack", identity(handlers.Sync.Acknowledge))

	return r
}
