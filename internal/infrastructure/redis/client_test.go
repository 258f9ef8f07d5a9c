package redis

import (
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/fastygo/tasksync/internal/config"
)

func TestNewClient(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer m.Close()

	client, err := NewClient(config.RedisConfig{URL: "redis://" + m.Addr(), DB: 2}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()
	if client.Options().DB != 2 {
		t.Fatalf("expected db 2, got %d", client.Options().DB)
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	if _, err := NewClient(config.RedisConfig{URL: "://nope"}, nil); err == nil {
		t.Fatal("expected parse error")
	}
}
