// Package gpuusage produces one aggregated GPU utilization percentage per
// sampling pass, selecting its acquisition path once at startup and degrading
// from external tools to counter handles at runtime when a tool starts failing.
package gpuusage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/statline/statline/internal/counters"
)

const (
	// Readings at or below this share of a percent are treated as idle noise.
	activeThreshold = 0.1
	// Weight applied to the busiest engine when blending with the active average.
	peakWeight = 0.8

	rocmUseMarker    = "GPU use (%)"
	rocmHeaderPrefix = "GPU"
)

var (
	nvidiaArgs = []string{"--query-gpu=utilization.gpu", "--format=csv,noheader,nounits"}
	rocmArgs   = []string{"--showuse", "--csv"}
)

// Options configures tool detection.
type Options struct {
	NvidiaSMIPath string
	RocmSMIPath   string
}

func (o Options) withDefaults() Options {
	if o.NvidiaSMIPath == "" {
		o.NvidiaSMIPath = "nvidia-smi"
	}
	if o.RocmSMIPath == "" {
		o.RocmSMIPath = "rocm-smi"
	}
	return o
}

// Provider owns the selected acquisition strategy and, once on the counter
// path, the open counter set. Sampling runs on a single goroutine, but
// Strategy, EngineNames, and MemoryReadings are also called from HTTP
// handlers, so the mutable state is guarded by a lock.
type Provider struct {
	logger       *slog.Logger
	runner       Runner
	openCounters func() *counters.Set
	opts         Options

	mu       sync.RWMutex
	strategy Strategy
	set      *counters.Set
}

// Detect probes acquisition candidates in order (nvidia-smi, rocm-smi,
// counter set) and returns a Provider bound to the first one that works.
// Probe failures never propagate: a candidate that fails simply advances
// detection to the next one.
func Detect(ctx context.Context, opts Options, runner Runner, openCounters func() *counters.Set, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if runner == nil {
		runner = NewExecRunner()
	}
	if openCounters == nil {
		openCounters = func() *counters.Set { return counters.NewSet(nil, nil, logger) }
	}

	p := &Provider{
		logger:       logger.With("component", "gpu_provider"),
		runner:       runner,
		openCounters: openCounters,
		opts:         opts.withDefaults(),
	}

	if output, err := runner.Run(ctx, p.opts.NvidiaSMIPath, nvidiaArgs...); err == nil && len(bytes.TrimSpace(output)) > 0 {
		p.strategy = StrategyNvidiaSMI
		p.logger.Info("gpu acquisition selected", "strategy", p.strategy.String())
		return p
	} else if err != nil {
		p.logger.Debug("nvidia-smi probe failed", "err", err)
	}

	if output, err := runner.Run(ctx, p.opts.RocmSMIPath, rocmArgs...); err == nil && strings.Contains(string(output), rocmUseMarker) {
		p.strategy = StrategyRocmSMI
		p.logger.Info("gpu acquisition selected", "strategy", p.strategy.String())
		return p
	} else if err != nil {
		p.logger.Debug("rocm-smi probe failed", "err", err)
	}

	p.strategy = StrategyCounters
	p.set = openCounters()
	p.logger.Info("gpu acquisition selected", "strategy", p.strategy.String(), "engines", len(p.set.EngineNames()))
	return p
}

// Strategy returns the currently active acquisition strategy.
func (p *Provider) Strategy() Strategy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.strategy
}

// EngineNames lists counter engine instances when on the counter path.
func (p *Provider) EngineNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.set.EngineNames()
}

// MemoryReadings returns the held memory exposition counters, if any.
func (p *Provider) MemoryReadings() []counters.Reading {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.set.ReadMemory()
}

// Sample returns one aggregated utilization percentage. It never returns an
// error: any per-tick failure yields 0 for that tick, and a failing external
// tool permanently demotes the provider to the counter path.
func (p *Provider) Sample(ctx context.Context) float64 {
	switch p.Strategy() {
	case StrategyNvidiaSMI:
		output, err := p.runner.Run(ctx, p.opts.NvidiaSMIPath, nvidiaArgs...)
		if err != nil {
			return p.degrade("nvidia-smi invocation failed", err)
		}
		value, err := parseNvidiaOutput(output)
		if err != nil {
			return p.degrade("nvidia-smi output unparseable", err)
		}
		return value

	case StrategyRocmSMI:
		output, err := p.runner.Run(ctx, p.opts.RocmSMIPath, rocmArgs...)
		if err != nil {
			return p.degrade("rocm-smi invocation failed", err)
		}
		value, err := parseRocmOutput(output)
		if err != nil {
			return p.degrade("rocm-smi output unparseable", err)
		}
		return value

	default:
		p.mu.RLock()
		defer p.mu.RUnlock()
		return aggregate(p.set.ReadEngines())
	}
}

// degrade performs the one-way switch to the counter path. The demoted tool is
// never re-probed.
func (p *Provider) degrade(reason string, err error) float64 {
	p.logger.Warn("degrading to counter acquisition", "reason", reason, "err", err)
	set := p.openCounters()
	p.mu.Lock()
	p.strategy = StrategyCounters
	p.set = set
	p.mu.Unlock()
	return 0
}

// Close releases the counter set, when one was opened, and detaches it so no
// reader can reach a released handle. Safe to call more than once and before
// any counter set exists.
func (p *Provider) Close() error {
	p.mu.Lock()
	set := p.set
	p.set = nil
	p.mu.Unlock()
	return set.Close()
}

// aggregate blends the busiest engine with the average of active engines:
// a plain average under-reports a single busy engine among idle ones, a plain
// max over-reports short spikes. With no active readings the result is the
// maximum reading, which is 0 for an empty set.
func aggregate(readings []counters.Reading) float64 {
	var (
		activeSum   float64
		activeCount int
		maxReading  float64
	)
	for _, reading := range readings {
		if reading.Value > maxReading {
			maxReading = reading.Value
		}
		if reading.Value > activeThreshold {
			activeSum += reading.Value
			activeCount++
		}
	}

	if activeCount == 0 {
		return maxReading
	}

	average := activeSum / float64(activeCount)
	if peak := maxReading * peakWeight; peak > average {
		return peak
	}
	return average
}

// parseNvidiaOutput extracts the utilization percentage from
// "--format=csv,noheader,nounits" output: one numeric line per GPU, the first
// of which is used.
func parseNvidiaOutput(output []byte) (float64, error) {
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		value, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return 0, fmt.Errorf("parse utilization %q: %w", line, err)
		}
		return value, nil
	}
	return 0, fmt.Errorf("empty nvidia-smi output")
}

// parseRocmOutput extracts the utilization percentage from "--showuse --csv"
// output. The data row contains the use marker and does not start with the
// header prefix; the value is the first comma-separated field after the device
// column that parses as a number once a trailing "%" is stripped.
func parseRocmOutput(output []byte) (float64, error) {
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(line, rocmUseMarker) || strings.HasPrefix(line, rocmHeaderPrefix) {
			continue
		}
		fields := strings.Split(line, ",")
		for _, field := range fields[1:] {
			field = strings.TrimSuffix(strings.TrimSpace(field), "%")
			value, err := strconv.ParseFloat(field, 64)
			if err != nil {
				continue
			}
			return value, nil
		}
	}
	return 0, fmt.Errorf("no usable data row in rocm-smi output")
}
