package repository

// LocalCache is the durable on-device key-value store. Read reports false when
// the key is absent.
type LocalCache interface {
	Read(key string) ([]byte, bool, error)
	Write(key string, value []byte) error
	Remove(key string) error
}

// Keys of the local cache namespace.
const (
	KeyTasks    = "tasksync:tasks:v2"
	KeySettings = "tasksync:settings:v2"
)
