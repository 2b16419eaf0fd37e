//go:build windows

package counters

import (
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/statline/statline/internal/gpu"
)

const (
	engineCategory       = "GPU Engine"
	processMemCategory   = "GPU Process Memory"
	adapterMemCategory   = "GPU Adapter Memory"
	utilizationCounter   = "Utilization Percentage"
	dedicatedUsedCounter = "Dedicated Usage"
)

// Open builds a counter set from Windows performance counters. One engine
// handle is created per discovered "GPU Engine" utilization instance; the
// memory categories are enumerated for exposition. All handles of a group
// share one batch, so a sampling pass costs a single Get-Counter invocation
// no matter how many instances exist. Enumeration failures of individual
// categories are skipped.
func Open(sysfsRoot string, cards []gpu.Card, logger *slog.Logger) *Set {
	_ = sysfsRoot // sysfs is a Linux concept; discovery metadata is still useful for logs
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	openLogger := logger.With("component", "counter_open")

	var enginePaths []string
	paths, err := listCounterPaths(engineCategory)
	if err != nil {
		openLogger.Debug("engine category unavailable", "category", engineCategory, "err", err)
	}
	for _, path := range paths {
		if strings.Contains(path, utilizationCounter) {
			enginePaths = append(enginePaths, path)
		}
	}

	var memoryPaths []string
	for _, category := range []string{processMemCategory, adapterMemCategory} {
		paths, err := listCounterPaths(category)
		if err != nil {
			openLogger.Debug("memory category unavailable", "category", category, "err", err)
			continue
		}
		for _, path := range paths {
			if strings.Contains(path, dedicatedUsedCounter) {
				memoryPaths = append(memoryPaths, path)
			}
		}
	}

	engines := batchHandles(enginePaths)
	memory := batchHandles(memoryPaths)

	openLogger.Info("counter set opened", "engines", len(engines), "memory", len(memory))
	return NewSet(engines, memory, logger)
}

func batchHandles(paths []string) []Handle {
	if len(paths) == 0 {
		return nil
	}
	batch := newCounterBatch(paths, runCounterScript)
	handles := make([]Handle, 0, len(paths))
	for _, path := range paths {
		handles = append(handles, &perfHandle{
			name:  instanceName(path),
			path:  normalizeCounterPath(path),
			batch: batch,
		})
	}
	return handles
}

// counterBatch reads every registered path in one Get-Counter invocation and
// serves the cached values to its handles. A path asked for again before the
// round completes marks the start of a new pass and triggers a refresh.
type counterBatch struct {
	run   func(script string) ([]byte, error)
	paths []string

	mu     sync.Mutex
	values map[string]float64
	served map[string]bool
	err    error
}

func newCounterBatch(paths []string, run func(script string) ([]byte, error)) *counterBatch {
	return &counterBatch{run: run, paths: paths}
}

func (b *counterBatch) value(path string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.values == nil || b.served[path] {
		b.refreshLocked()
	}
	b.served[path] = true

	if b.err != nil {
		return 0, b.err
	}
	value, ok := b.values[path]
	if !ok {
		return 0, fmt.Errorf("counter %q missing from batch", path)
	}
	return value, nil
}

func (b *counterBatch) refreshLocked() {
	b.served = make(map[string]bool, len(b.paths))
	b.values = make(map[string]float64, len(b.paths))
	b.err = nil

	quoted := make([]string, len(b.paths))
	for i, path := range b.paths {
		quoted[i] = "'" + path + "'"
	}
	script := fmt.Sprintf(
		`(Get-Counter -Counter @(%s) -ErrorAction Stop).CounterSamples | ForEach-Object { "$($_.Path)|$($_.CookedValue)" }`,
		strings.Join(quoted, ","),
	)

	output, err := b.run(script)
	if err != nil {
		b.err = err
		return
	}

	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		idx := strings.LastIndexByte(line, '|')
		if idx <= 0 {
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(line[idx+1:]), 64)
		if err != nil {
			continue
		}
		b.values[normalizeCounterPath(line[:idx])] = value
	}
}

// normalizeCounterPath lowercases a counter path and strips the machine
// prefix, since CounterSamples report `\\machine\category(instance)\counter`
// while -ListSet enumerates without the machine component.
func normalizeCounterPath(path string) string {
	path = strings.ToLower(strings.TrimSpace(path))
	if strings.HasPrefix(path, `\\`) {
		if idx := strings.IndexByte(path[2:], '\\'); idx >= 0 {
			path = path[2+idx:]
		}
	}
	return path
}

// perfHandle resolves one counter path against its shared batch.
type perfHandle struct {
	name  string
	path  string
	batch *counterBatch
}

func (h *perfHandle) Name() string {
	return h.name
}

func (h *perfHandle) Read() (float64, error) {
	return h.batch.value(h.path)
}

func (h *perfHandle) Close() error {
	// The batch holds no OS handle between passes.
	return nil
}

func listCounterPaths(category string) ([]string, error) {
	script := fmt.Sprintf(`(Get-Counter -ListSet '%s' -ErrorAction Stop).PathsWithInstances`, category)
	output, err := runCounterScript(script)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			paths = append(paths, line)
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no instances in category %q", category)
	}
	return paths, nil
}

func instanceName(path string) string {
	start := strings.IndexByte(path, '(')
	end := strings.IndexByte(path, ')')
	if start >= 0 && end > start {
		return path[start+1 : end]
	}
	return path
}

func runCounterScript(script string) ([]byte, error) {
	cmd := exec.Command("powershell.exe", "-NoProfile", "-Command", script)
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
	return cmd.Output()
}
