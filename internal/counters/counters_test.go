package counters

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

type stubHandle struct {
	name    string
	value   float64
	readErr error

	reads  int
	closes int
}

func (h *stubHandle) Name() string { return h.name }

func (h *stubHandle) Read() (float64, error) {
	h.reads++
	if h.readErr != nil {
		return 0, h.readErr
	}
	return h.value, nil
}

func (h *stubHandle) Close() error {
	h.closes++
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSetReadEngines(t *testing.T) {
	t.Parallel()

	engines := []Handle{
		&stubHandle{name: "card0/gfx", value: 42.5},
		&stubHandle{name: "card0/memctl", value: 7},
		&stubHandle{name: "card1/gfx", readErr: errors.New("stale handle")},
	}
	set := NewSet(engines, nil, discardLogger())

	readings := set.ReadEngines()
	if len(readings) != 3 {
		t.Fatalf("expected 3 readings, got %d", len(readings))
	}
	if readings[0].Name != "card0/gfx" || readings[0].Value != 42.5 {
		t.Errorf("unexpected first reading: %+v", readings[0])
	}
	if readings[1].Value != 7 {
		t.Errorf("unexpected second reading: %+v", readings[1])
	}
	// A failed read surfaces as a zero reading, never an error.
	if readings[2].Name != "card1/gfx" || readings[2].Value != 0 {
		t.Errorf("unexpected failed reading: %+v", readings[2])
	}
}

func TestSetReadIsIdempotentOnStaticSource(t *testing.T) {
	t.Parallel()

	set := NewSet([]Handle{&stubHandle{name: "card0/gfx", value: 63.2}}, nil, discardLogger())

	first := set.ReadEngines()
	second := set.ReadEngines()
	if first[0].Value != second[0].Value {
		t.Fatalf("static source returned different values: %v vs %v", first[0].Value, second[0].Value)
	}
}

func TestSetCloseReleasesEveryHandleOnce(t *testing.T) {
	t.Parallel()

	engine := &stubHandle{name: "card0/gfx"}
	memory := &stubHandle{name: "card0/vram_used_bytes"}
	set := NewSet([]Handle{engine}, []Handle{memory}, discardLogger())

	if err := set.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := set.Close(); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}

	if engine.closes != 1 {
		t.Errorf("engine handle closed %d times, want 1", engine.closes)
	}
	if memory.closes != 1 {
		t.Errorf("memory handle closed %d times, want 1", memory.closes)
	}
}

func TestEmptySet(t *testing.T) {
	t.Parallel()

	set := NewSet(nil, nil, discardLogger())
	if !set.Empty() {
		t.Fatal("expected set to be empty")
	}
	if readings := set.ReadEngines(); len(readings) != 0 {
		t.Fatalf("expected no readings, got %+v", readings)
	}
	if err := set.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	var nilSet *Set
	if !nilSet.Empty() {
		t.Fatal("nil set should report empty")
	}
	if err := nilSet.Close(); err != nil {
		t.Fatalf("nil Close returned error: %v", err)
	}
}

func TestEngineNames(t *testing.T) {
	t.Parallel()

	set := NewSet([]Handle{
		&stubHandle{name: "card0/gfx"},
		&stubHandle{name: "card0/memctl"},
	}, nil, discardLogger())

	names := set.EngineNames()
	if len(names) != 2 || names[0] != "card0/gfx" || names[1] != "card0/memctl" {
		t.Fatalf("unexpected engine names: %v", names)
	}
}
