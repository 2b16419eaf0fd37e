package sysmon

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSamplerProducesReadings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sampler := New(ctx, "", discardLogger())

	// Give the rate counters a real interval to measure.
	time.Sleep(50 * time.Millisecond)
	usage := sampler.Sample(ctx)

	if usage.CPUPct < 0 {
		t.Errorf("cpu percent negative: %v", usage.CPUPct)
	}
	if usage.MemPct <= 0 || usage.MemPct > 100 {
		t.Errorf("memory percent out of range: %v", usage.MemPct)
	}
	if usage.DiskPct < 0 {
		t.Errorf("disk percent negative: %v", usage.DiskPct)
	}
}

func TestSamplerRepeatedReadsDoNotFail(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sampler := New(ctx, "", discardLogger())

	for i := 0; i < 3; i++ {
		time.Sleep(10 * time.Millisecond)
		usage := sampler.Sample(ctx)
		if usage.CPUPct < 0 || usage.MemPct < 0 || usage.DiskPct < 0 {
			t.Fatalf("negative reading on pass %d: %+v", i, usage)
		}
	}
}

func TestSamplerUnknownDiskDeviceReadsZero(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sampler := New(ctx, "no-such-device", discardLogger())

	time.Sleep(20 * time.Millisecond)
	if usage := sampler.Sample(ctx); usage.DiskPct != 0 {
		t.Fatalf("expected zero disk reading for unknown device, got %v", usage.DiskPct)
	}
}
