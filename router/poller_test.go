// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nohassle/hdmi-matrix-bridge/pkg/interfaces"
)

// countingRouter records Refresh calls, everything else is a no-op.
type countingRouter struct {
	mu       sync.Mutex
	refreshs int
	events   chan *interfaces.RouteEvent
}

func newCountingRouter() *countingRouter {
	return &countingRouter{events: make(chan *interfaces.RouteEvent)}
}

func (c *countingRouter) Route(context.Context, string, string) error { return nil }

func (c *countingRouter) SetPower(context.Context, bool) error { return nil }

func (c *countingRouter) Refresh(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshs++
	return nil
}

func (c *countingRouter) refreshCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshs
}

func (c *countingRouter) State() interfaces.DeviceState { return interfaces.DeviceState{} }

func (c *countingRouter) Events() <-chan *interfaces.RouteEvent { return c.events }

func (c *countingRouter) ZoneNames() []string { return nil }

func (c *countingRouter) SourceNames() []string { return nil }

func (c *countingRouter) Close() {}

func TestPoller_RefreshesImmediatelyAndOnTicks(t *testing.T) {
	target := newCountingRouter()
	p := NewPoller(target, 50*time.Millisecond)

	p.Start(context.Background())
	defer p.Stop()

	// The first refresh happens before the first tick.
	deadline := time.After(time.Second)
	for target.refreshCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("no immediate refresh")
		case <-time.After(5 * time.Millisecond):
		}
	}

	time.Sleep(180 * time.Millisecond)
	if got := target.refreshCount(); got < 3 {
		t.Errorf("refresh count = %d, want at least 3", got)
	}
}

func TestPoller_StopHaltsPolling(t *testing.T) {
	target := newCountingRouter()
	p := NewPoller(target, 20*time.Millisecond)

	p.Start(context.Background())
	time.Sleep(70 * time.Millisecond)
	p.Stop()

	count := target.refreshCount()
	time.Sleep(80 * time.Millisecond)
	if got := target.refreshCount(); got != count {
		t.Errorf("refresh count changed after Stop(): %d -> %d", count, got)
	}
}

func TestPoller_StartIsIdempotent(t *testing.T) {
	target := newCountingRouter()
	p := NewPoller(target, time.Hour)

	p.Start(context.Background())
	p.Start(context.Background())
	p.Stop()

	// One immediate refresh from the single loop.
	if got := target.refreshCount(); got != 1 {
		t.Errorf("refresh count = %d, want 1", got)
	}
}

func TestPoller_StopWithoutStart(t *testing.T) {
	p := NewPoller(newCountingRouter(), time.Second)
	p.Stop()
}

func TestPoller_UpdateInterval(t *testing.T) {
	target := newCountingRouter()
	p := NewPoller(target, time.Hour)

	p.Start(context.Background())
	defer p.Stop()

	// Wait for the immediate refresh, then shorten the interval.
	deadline := time.After(time.Second)
	for target.refreshCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("no immediate refresh")
		case <-time.After(5 * time.Millisecond):
		}
	}

	p.UpdateInterval(30 * time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	if got := target.refreshCount(); got < 3 {
		t.Errorf("refresh count = %d after interval update, want at least 3", got)
	}
}

func TestPoller_ContextCancelStopsLoop(t *testing.T) {
	target := newCountingRouter()
	p := NewPoller(target, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()
	time.Sleep(50 * time.Millisecond)

	count := target.refreshCount()
	time.Sleep(60 * time.Millisecond)
	if got := target.refreshCount(); got != count {
		t.Errorf("refresh count changed after cancel: %d -> %d", count, got)
	}
}
