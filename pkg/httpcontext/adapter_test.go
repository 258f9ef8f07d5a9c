package httpcontext

import (
	"testing"
	"time"

	"github.com/valyala/fasthttp"

	appLogger "github.com/fastygo/tasksync/pkg/logger"
)

func TestAttachKeepsRequestID(t *testing.T) {
	var rc fasthttp.RequestCtx
	rc.Request.Header.Set("X-Request-ID", "req-1")
	rc.SetUserValue(UserValueKey, "u1")

	ctx, cancel := NewAdapter(time.Second).Attach(&rc)
	defer cancel()

	if got := string(rc.Response.Header.Peek("X-Request-ID")); got != "req-1" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
	if appLogger.UserID(ctx) != "u1" {
		t.Fatalf("user id not propagated")
	}
	if _, ok := ctx.Deadline(); !ok {
		t.Fatal("expected a deadline")
	}
}

func TestAttachGeneratesRequestID(t *testing.T) {
	var rc fasthttp.RequestCtx
	_, cancel := NewAdapter(0).Attach(&rc)
	defer cancel()
	if len(rc.Response.Header.Peek("X-Request-ID")) == 0 {
		t.Fatal("expected a generated request id")
	}
}
