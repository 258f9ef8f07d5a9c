package transport

import (
	"encoding/json"
	"time"
)

// Envelope is the standard API response wrapper used for both success and error payloads.
type Envelope struct {
	Status string      `json:"status"`
	Code   string      `json:"code,omitempty"`
	Data   interface{} `json:"data,omitempty"`
	Error  interface{} `json:"error,omitempty"`
	Meta   interface{} `json:"meta,omitempty"`
}

// NewSuccess returns a success envelope.
func NewSuccess(data interface{}, meta interface{}) Envelope {
	return Envelope{
		Status: "success",
		Data:   data,
		Meta:   meta,
	}
}

// NewError returns an error envelope with optional metadata.
func NewError(code string, err interface{}, meta interface{}) Envelope {
	return Envelope{
		Status: "error",
		Code:   code,
		Error:  err,
		Meta:   meta,
	}
}

// String returns the JSON representation (best-effort) for logging purposes.
func (e Envelope) String() string {
	out, err := json.Marshal(e)
	if err != nil {
		return "{}"
	}
	return string(out)
}

// ListMeta describes a filtered task list.
type ListMeta struct {
	Count int `json:"count"`
	Total int `json:"total"`
}

// ValidationMeta lists every reason a payload was rejected.
type ValidationMeta struct {
	Reasons []string `json:"reasons"`
}

type SyncErrorView struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type SyncStatusView struct {
	State        string         `json:"state"`
	UserID       string         `json:"userId,omitempty"`
	Online       bool           `json:"online"`
	Pending      int            `json:"pending"`
	Degraded     bool           `json:"degraded"`
	LastSyncedAt *time.Time     `json:"lastSyncedAt,omitempty"`
	Error        *SyncErrorView `json:"error,omitempty"`
}

type ClearedView struct {
	Removed int `json:"removed"`
}

type ImportedView struct {
	Imported int `json:"imported"`
}

type SessionView struct {
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}
