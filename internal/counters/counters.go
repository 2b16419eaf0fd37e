// Package counters manages persistent OS utilization counter handles.
//
// A Set owns every handle it was built from: handles are opened once during
// detection, read once per sampling pass, and released exactly once on Close.
package counters

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Handle is a single open utilization counter instance.
type Handle interface {
	// Name identifies the counter instance, e.g. "card0/gfx".
	Name() string
	// Read returns the latest value for the instance.
	Read() (float64, error)
	// Close releases the underlying OS handle.
	Close() error
}

// Reading pairs a counter instance name with its latest value.
type Reading struct {
	Name  string
	Value float64
}

// Set is an owned collection of open counter handles. Engine handles feed the
// utilization aggregate; memory handles are held for exposition only and are
// never part of the aggregate.
type Set struct {
	logger  *slog.Logger
	engines []Handle
	memory  []Handle

	closeOnce sync.Once
	closeErr  error
}

// NewSet builds a Set from already-open handles. The Set takes ownership of
// every handle passed in.
func NewSet(engines, memory []Handle, logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Set{
		logger:  logger.With("component", "counter_set"),
		engines: engines,
		memory:  memory,
	}
}

// Empty reports whether the set holds no engine handles.
func (s *Set) Empty() bool {
	return s == nil || len(s.engines) == 0
}

// EngineNames lists the engine instance names in open order.
func (s *Set) EngineNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.engines))
	for _, handle := range s.engines {
		names = append(names, handle.Name())
	}
	return names
}

// ReadEngines reads every engine handle once. A failed read yields a zero
// reading for that instance and never aborts the pass.
func (s *Set) ReadEngines() []Reading {
	if s == nil {
		return nil
	}
	return s.readAll(s.engines)
}

// ReadMemory reads every memory exposition handle once.
func (s *Set) ReadMemory() []Reading {
	if s == nil {
		return nil
	}
	return s.readAll(s.memory)
}

func (s *Set) readAll(handles []Handle) []Reading {
	readings := make([]Reading, 0, len(handles))
	for _, handle := range handles {
		value, err := handle.Read()
		if err != nil {
			s.logger.Debug("counter read failed", "counter", handle.Name(), "err", err)
			value = 0
		}
		readings = append(readings, Reading{Name: handle.Name(), Value: value})
	}
	return readings
}

// Close releases every handle exactly once. Safe for repeated use.
func (s *Set) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		var errs []error
		for _, handle := range append(append([]Handle(nil), s.engines...), s.memory...) {
			if handle == nil {
				continue
			}
			if err := handle.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close counter %s: %w", handle.Name(), err))
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
