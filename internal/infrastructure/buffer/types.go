package buffer

import "time"

const (
	OperationUpsert = "upsert"
	OperationDelete = "delete"
)

// Item is a record push that failed and waits to be retried. Only the record
// id is journaled; the current version is read again when the item is retried.
type Item struct {
	UserID    string    `json:"user_id"`
	TaskID    string    `json:"task_id"`
	Operation string    `json:"operation"`
	Retries   int       `json:"retries"`
	LastError string    `json:"last_error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (i *Item) normalize() {
	if i.Operation != OperationDelete {
		i.Operation = OperationUpsert
	}
	if i.Timestamp.IsZero() {
		i.Timestamp = time.Now()
	}
}

// key groups items per user and coalesces repeated failures for the same record.
func (i Item) key() []byte {
	return []byte(userPrefix(i.UserID) + i.TaskID)
}

func userPrefix(userID string) string {
	return userID + "/"
}
