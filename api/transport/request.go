package transport

import "github.com/fastygo/tasksync/domain"

type CreateTaskRequest struct {
	Text     string          `json:"text"`
	Category domain.Category `json:"category"`
	Priority domain.Priority `json:"priority"`
}

// UpdateTaskRequest carries optional fields; absent ones are kept.
type UpdateTaskRequest = domain.Patch

type ReorderRequest struct {
	Category domain.Category `json:"category"`
	Status   domain.Status   `json:"status"`
	From     int             `json:"from"`
	To       int             `json:"to"`
}

type LoginRequest struct {
	Token string `json:"token"`
}
