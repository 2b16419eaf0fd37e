// Package monitor drives the periodic sampling pass and fans out snapshots
// to subscribers when the display line changes.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/statline/statline/internal/gpuusage"
	"github.com/statline/statline/internal/overlay"
	"github.com/statline/statline/internal/sysmon"
)

// Snapshot is the result of one full sampling pass.
type Snapshot struct {
	Timestamp time.Time `json:"ts"`
	CPUPct    float64   `json:"cpu_pct"`
	MemPct    float64   `json:"mem_pct"`
	GPUPct    float64   `json:"gpu_pct"`
	DiskPct   float64   `json:"disk_pct"`
	Strategy  string    `json:"gpu_strategy"`
	Line      string    `json:"line"`
}

// HostSampler supplies CPU, memory, and disk readings.
type HostSampler interface {
	Sample(ctx context.Context) sysmon.Usage
}

// GPUSampler supplies the aggregated GPU reading and owns its counter handles.
type GPUSampler interface {
	Sample(ctx context.Context) float64
	Strategy() gpuusage.Strategy
	Close() error
}

// Manager runs sampling passes on a single goroutine, caches the latest
// snapshot, and notifies subscribers only when the formatted line changes.
type Manager struct {
	interval time.Duration
	host     HostSampler
	gpu      GPUSampler
	logger   *slog.Logger

	paused atomic.Bool

	mu          sync.RWMutex
	latest      Snapshot
	haveLatest  bool
	line        string
	subscribers map[*subscriber]struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewManager builds a Manager from pre-constructed samplers.
func NewManager(interval time.Duration, host HostSampler, gpu GPUSampler, logger *slog.Logger) (*Manager, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}
	if host == nil || gpu == nil {
		return nil, fmt.Errorf("samplers must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		interval:    interval,
		host:        host,
		gpu:         gpu,
		logger:      logger.With("component", "monitor"),
		subscribers: make(map[*subscriber]struct{}),
	}, nil
}

// Run executes sampling passes until the context is canceled, then releases
// the GPU counter handles. Passes never overlap: the loop is one goroutine
// and a tick that fires during a pass is simply the next loop iteration.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("sampling started", "interval", m.interval)

	// Initial pass primes the cache before the first tick.
	m.pass(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("sampling stopping", "reason", ctx.Err())
			return m.Close()
		case <-ticker.C:
			if m.paused.Load() {
				continue
			}
			m.pass(ctx)
		}
	}
}

// Pause suspends tick processing, e.g. while the overlay window is being
// dragged. Sampling resumes with Resume.
func (m *Manager) Pause() {
	if m.paused.CompareAndSwap(false, true) {
		m.logger.Debug("sampling paused")
	}
}

// Resume re-enables tick processing.
func (m *Manager) Resume() {
	if m.paused.CompareAndSwap(true, false) {
		m.logger.Debug("sampling resumed")
	}
}

// Paused reports whether tick processing is currently suspended.
func (m *Manager) Paused() bool {
	return m.paused.Load()
}

// Latest returns the most recent snapshot.
func (m *Manager) Latest() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.haveLatest
}

// Line returns the most recent display line.
func (m *Manager) Line() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.line
}

// Ready reports whether at least one pass has completed.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.haveLatest
}

// Subscribe registers a listener. The latest snapshot, when one exists, is
// delivered immediately; afterwards, a snapshot is delivered only when its
// line differs from the previous one.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	sub := newSubscriber()

	m.mu.Lock()
	m.subscribers[sub] = struct{}{}
	if m.haveLatest {
		sub.send(m.latest)
	}
	m.mu.Unlock()

	unsubscribe := func() {
		m.removeSubscriber(sub)
	}
	return sub.channel(), unsubscribe
}

// pass runs one full sampling pass. A panicking pass is absorbed and
// published as the fixed error line.
func (m *Manager) pass(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("sampling pass failed", "panic", r)
			m.publish(Snapshot{
				Timestamp: time.Now().UTC(),
				Strategy:  m.gpu.Strategy().String(),
				Line:      overlay.ErrorLine,
			})
		}
	}()

	usage := m.host.Sample(ctx)
	gpuPct := m.gpu.Sample(ctx)

	snapshot := Snapshot{
		Timestamp: time.Now().UTC(),
		CPUPct:    usage.CPUPct,
		MemPct:    usage.MemPct,
		GPUPct:    gpuPct,
		DiskPct:   usage.DiskPct,
		Strategy:  m.gpu.Strategy().String(),
	}
	snapshot.Line = overlay.FormatLine(snapshot.CPUPct, snapshot.MemPct, snapshot.GPUPct, snapshot.DiskPct)
	m.publish(snapshot)
}

// publish caches the snapshot and fans it out when the line changed.
func (m *Manager) publish(snapshot Snapshot) {
	m.mu.Lock()
	m.latest = snapshot
	m.haveLatest = true
	changed := snapshot.Line != m.line
	m.line = snapshot.Line

	var targets []*subscriber
	if changed {
		targets = make([]*subscriber, 0, len(m.subscribers))
		for sub := range m.subscribers {
			targets = append(targets, sub)
		}
	}
	m.mu.Unlock()

	for _, sub := range targets {
		sub.send(snapshot)
	}
}

func (m *Manager) removeSubscriber(sub *subscriber) {
	m.mu.Lock()
	delete(m.subscribers, sub)
	m.mu.Unlock()
	sub.close()
}

// Close releases the GPU counter handles. Run calls it after the loop stops,
// which guarantees no handle is read after release. Safe for repeated use.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.closeErr = m.gpu.Close()
	})
	return m.closeErr
}

type subscriber struct {
	ch     chan Snapshot
	mu     sync.Mutex
	closed bool
}

func newSubscriber() *subscriber {
	return &subscriber{ch: make(chan Snapshot, 1)}
}

func (s *subscriber) channel() <-chan Snapshot {
	return s.ch
}

func (s *subscriber) send(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- snapshot:
		return
	default:
	}
	// Drop the oldest to make room for the newest.
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- snapshot:
	default:
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	close(s.ch)
	s.closed = true
}
