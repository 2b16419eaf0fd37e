//go:build windows

package counters

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func fakeBatchRunner(calls *int, samples map[string]float64) func(string) ([]byte, error) {
	return func(string) ([]byte, error) {
		*calls++
		var sb strings.Builder
		for path, value := range samples {
			fmt.Fprintf(&sb, "\\\\host%s|%v\n", path, value)
		}
		return []byte(sb.String()), nil
	}
}

func TestCounterBatchOneInvocationPerPass(t *testing.T) {
	t.Parallel()

	paths := []string{
		`\GPU Engine(pid_100_engtype_3D)\Utilization Percentage`,
		`\GPU Engine(pid_100_engtype_Copy)\Utilization Percentage`,
		`\GPU Engine(pid_200_engtype_3D)\Utilization Percentage`,
	}
	samples := map[string]float64{
		normalizeCounterPath(paths[0]): 42.5,
		normalizeCounterPath(paths[1]): 0,
		normalizeCounterPath(paths[2]): 17,
	}

	var calls int
	batch := newCounterBatch(paths, fakeBatchRunner(&calls, samples))

	// One pass: every path read once, one child process.
	for _, path := range paths {
		if _, err := batch.value(normalizeCounterPath(path)); err != nil {
			t.Fatalf("value(%q) returned error: %v", path, err)
		}
	}
	if calls != 1 {
		t.Fatalf("first pass ran %d invocations, want 1", calls)
	}

	// Next pass starts when a path repeats.
	value, err := batch.value(normalizeCounterPath(paths[0]))
	if err != nil {
		t.Fatalf("second pass read returned error: %v", err)
	}
	if value != 42.5 {
		t.Fatalf("second pass read = %v, want 42.5", value)
	}
	if calls != 2 {
		t.Fatalf("second pass ran %d invocations total, want 2", calls)
	}
}

func TestCounterBatchMissingPath(t *testing.T) {
	t.Parallel()

	var calls int
	batch := newCounterBatch([]string{`\GPU Engine(a)\Utilization Percentage`}, fakeBatchRunner(&calls, nil))

	if _, err := batch.value(`\gpu engine(a)\utilization percentage`); err == nil {
		t.Fatal("expected error for path absent from batch output")
	}
}

func TestCounterBatchRunnerFailure(t *testing.T) {
	t.Parallel()

	batch := newCounterBatch([]string{`\GPU Engine(a)\Utilization Percentage`}, func(string) ([]byte, error) {
		return nil, errors.New("powershell unavailable")
	})

	handle := &perfHandle{name: "a", path: `\gpu engine(a)\utilization percentage`, batch: batch}
	if _, err := handle.Read(); err == nil {
		t.Fatal("expected error when the batch runner fails")
	}
}

func TestNormalizeCounterPath(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{`\GPU Engine(pid_1_engtype_3D)\Utilization Percentage`, `\gpu engine(pid_1_engtype_3d)\utilization percentage`},
		{`\\HOST\GPU Engine(a)\Utilization Percentage`, `\gpu engine(a)\utilization percentage`},
		{"  \\X\\Y  ", `\x\y`},
	}
	for _, tc := range cases {
		if got := normalizeCounterPath(tc.in); got != tc.want {
			t.Errorf("normalizeCounterPath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
