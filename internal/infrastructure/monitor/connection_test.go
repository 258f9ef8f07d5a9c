package monitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	redislib "github.com/redis/go-redis/v9"
)

func TestMonitorNotifiesTransitions(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer m.Close()
	rc := redislib.NewClient(&redislib.Options{Addr: m.Addr()})
	defer rc.Close()

	var pgUp atomic.Bool
	pgUp.Store(true)
	pg := PingFunc(func(context.Context) error {
		if pgUp.Load() {
			return nil
		}
		return errors.New("down")
	})

	mon := New(Targets{Postgres: pg, Redis: RedisPinger(rc)}, 0, nil)
	var events []bool
	mon.OnChange(func(online bool) { events = append(events, online) })

	if st := mon.Refresh(); !st.Online {
		t.Fatalf("expected online, got %#v", st)
	}
	mon.Refresh()
	pgUp.Store(false)
	if mon.Refresh(); mon.IsOnline() {
		t.Fatal("expected offline when postgres is down")
	}
	if len(events) != 2 || !events[0] || events[1] {
		t.Fatalf("expected [true false], got %v", events)
	}
}

func TestMonitorWithoutTargetsIsOffline(t *testing.T) {
	mon := New(Targets{}, 0, nil)
	if st := mon.Refresh(); st.Online || st.Buffer {
		t.Fatalf("unexpected status %#v", st)
	}
	mon.Stop()
	mon.Stop()
}
