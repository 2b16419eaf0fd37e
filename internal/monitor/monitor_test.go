package monitor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/statline/statline/internal/gpuusage"
	"github.com/statline/statline/internal/overlay"
	"github.com/statline/statline/internal/sysmon"
)

type stubHost struct {
	mu    sync.Mutex
	usage sysmon.Usage
	panic bool
}

func (h *stubHost) set(usage sysmon.Usage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.usage = usage
}

func (h *stubHost) Sample(context.Context) sysmon.Usage {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.panic {
		panic("host sampler exploded")
	}
	return h.usage
}

type stubGPU struct {
	mu     sync.Mutex
	value  float64
	closes int
}

func (g *stubGPU) set(value float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = value
}

func (g *stubGPU) Sample(context.Context) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

func (g *stubGPU) Strategy() gpuusage.Strategy {
	return gpuusage.StrategyCounters
}

func (g *stubGPU) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closes++
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, host *stubHost, gpu *stubGPU) *Manager {
	t.Helper()
	manager, err := NewManager(10*time.Millisecond, host, gpu, discardLogger())
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	return manager
}

func TestManagerRejectsBadArguments(t *testing.T) {
	t.Parallel()

	if _, err := NewManager(0, &stubHost{}, &stubGPU{}, discardLogger()); err == nil {
		t.Fatal("expected error for zero interval")
	}
	if _, err := NewManager(time.Second, nil, &stubGPU{}, discardLogger()); err == nil {
		t.Fatal("expected error for nil host sampler")
	}
	if _, err := NewManager(time.Second, &stubHost{}, nil, discardLogger()); err == nil {
		t.Fatal("expected error for nil gpu sampler")
	}
}

func TestPassCachesSnapshotAndLine(t *testing.T) {
	t.Parallel()

	host := &stubHost{usage: sysmon.Usage{CPUPct: 12.34, MemPct: 55.5, DiskPct: 1.2}}
	gpu := &stubGPU{value: 42.5}
	manager := newTestManager(t, host, gpu)

	manager.pass(context.Background())

	snapshot, ok := manager.Latest()
	if !ok {
		t.Fatal("expected snapshot after pass")
	}
	if snapshot.GPUPct != 42.5 || snapshot.CPUPct != 12.34 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
	want := "CPU: 12.3% | RAM: 55.5% | GPU: 42.5% | Disk: 1.2%"
	if manager.Line() != want {
		t.Fatalf("Line = %q, want %q", manager.Line(), want)
	}
	if snapshot.Strategy != "counters" {
		t.Fatalf("unexpected strategy %q", snapshot.Strategy)
	}
}

func TestSubscribersNotifiedOnlyOnLineChange(t *testing.T) {
	t.Parallel()

	host := &stubHost{usage: sysmon.Usage{CPUPct: 10}}
	gpu := &stubGPU{value: 20}
	manager := newTestManager(t, host, gpu)

	manager.pass(context.Background())

	ch, unsubscribe := manager.Subscribe()
	defer unsubscribe()

	// Late joiner receives the cached snapshot.
	first := awaitSnapshot(t, ch)
	if first.GPUPct != 20 {
		t.Fatalf("unexpected initial snapshot: %+v", first)
	}

	// Identical passes recompute the line but must not fire.
	manager.pass(context.Background())
	manager.pass(context.Background())
	assertNoSnapshot(t, ch)

	// A value change that alters the formatted line fires exactly once.
	gpu.set(75)
	manager.pass(context.Background())
	next := awaitSnapshot(t, ch)
	if next.GPUPct != 75 {
		t.Fatalf("unexpected snapshot after change: %+v", next)
	}

	// A change below display precision does not alter the line.
	gpu.set(75.01)
	manager.pass(context.Background())
	assertNoSnapshot(t, ch)
}

func TestRunLoopPublishesAndClosesOnCancel(t *testing.T) {
	t.Parallel()

	host := &stubHost{usage: sysmon.Usage{CPUPct: 30}}
	gpu := &stubGPU{value: 5}
	manager := newTestManager(t, host, gpu)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- manager.Run(ctx) }()

	waitFor(t, 500*time.Millisecond, manager.Ready)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if gpu.closes != 1 {
		t.Fatalf("gpu sampler closed %d times, want 1", gpu.closes)
	}
	if err := manager.Close(); err != nil {
		t.Fatalf("repeated Close returned error: %v", err)
	}
	if gpu.closes != 1 {
		t.Fatalf("Close released handles again: %d", gpu.closes)
	}
}

func TestPauseSuspendsTicks(t *testing.T) {
	t.Parallel()

	host := &stubHost{usage: sysmon.Usage{CPUPct: 1}}
	gpu := &stubGPU{value: 1}
	manager := newTestManager(t, host, gpu)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = manager.Run(ctx) }()

	waitFor(t, 500*time.Millisecond, manager.Ready)

	manager.Pause()
	if !manager.Paused() {
		t.Fatal("expected paused state")
	}

	// Let any in-flight pass finish before changing the stub.
	time.Sleep(20 * time.Millisecond)

	// Ticks while paused must not pick up new values.
	gpu.set(99)
	time.Sleep(50 * time.Millisecond)
	if snapshot, _ := manager.Latest(); snapshot.GPUPct == 99 {
		t.Fatal("pass ran while paused")
	}

	manager.Resume()
	waitFor(t, 500*time.Millisecond, func() bool {
		snapshot, _ := manager.Latest()
		return snapshot.GPUPct == 99
	})
}

func TestPanickingPassPublishesErrorLine(t *testing.T) {
	t.Parallel()

	host := &stubHost{panic: true}
	gpu := &stubGPU{}
	manager := newTestManager(t, host, gpu)

	manager.pass(context.Background())

	if manager.Line() != overlay.ErrorLine {
		t.Fatalf("Line = %q, want %q", manager.Line(), overlay.ErrorLine)
	}
	if _, ok := manager.Latest(); !ok {
		t.Fatal("expected snapshot even for failed pass")
	}
}

func awaitSnapshot(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snapshot, ok := <-ch:
		if !ok {
			t.Fatal("subscription channel closed unexpectedly")
		}
		return snapshot
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot{}
	}
}

func assertNoSnapshot(t *testing.T, ch <-chan Snapshot) {
	t.Helper()
	select {
	case snapshot := <-ch:
		t.Fatalf("unexpected snapshot delivered: %+v", snapshot)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
