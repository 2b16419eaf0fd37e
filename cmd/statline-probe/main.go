package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/statline/statline/internal/counters"
	"github.com/statline/statline/internal/gpu"
	"github.com/statline/statline/internal/gpuusage"
	"github.com/statline/statline/internal/overlay"
	"github.com/statline/statline/internal/sysmon"
)

type options struct {
	sysfsRoot  string
	nvidiaSMI  string
	rocmSMI    string
	samples    int
	interval   time.Duration
	jsonOutput bool
}

func parseFlags() options {
	defaultSysfs := envOrDefault("STATLINE_SYSFS_ROOT", "/sys")
	defaultNvidia := envOrDefault("STATLINE_NVIDIA_SMI_PATH", "nvidia-smi")
	defaultRocm := envOrDefault("STATLINE_ROCM_SMI_PATH", "rocm-smi")

	var opts options
	flag.StringVar(&opts.sysfsRoot, "sysfs", defaultSysfs, "Path to sysfs root")
	flag.StringVar(&opts.nvidiaSMI, "nvidia-smi", defaultNvidia, "Path to the nvidia-smi binary")
	flag.StringVar(&opts.rocmSMI, "rocm-smi", defaultRocm, "Path to the rocm-smi binary")
	flag.IntVar(&opts.samples, "samples", 3, "Number of sampling passes to collect")
	flag.DurationVar(&opts.interval, "interval", 500*time.Millisecond, "Delay between sampling passes")
	flag.BoolVar(&opts.jsonOutput, "json", false, "Emit discovery result as JSON")
	flag.Parse()
	return opts
}

func main() {
	opts := parseFlags()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx := context.Background()

	cards, err := gpu.Discover(opts.sysfsRoot, logger.With("component", "gpu_discovery"))
	if err != nil {
		logger.Error("gpu discovery failed", "err", err)
		os.Exit(1)
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cards); err != nil {
			logger.Error("encode discovery output", "err", err)
			os.Exit(1)
		}
	} else {
		if len(cards) == 0 {
			fmt.Println("No GPUs detected")
		} else {
			fmt.Println("Discovered GPUs:")
		}
		for _, card := range cards {
			fmt.Printf("- %s (PCI: %s, PCIID: %s, Name: %s)\n", card.ID, card.PCI, card.PCIID, card.Name)
		}
	}

	openCounters := func() *counters.Set {
		return counters.Open(opts.sysfsRoot, cards, logger.With("component", "counters"))
	}

	provider := gpuusage.Detect(ctx, gpuusage.Options{
		NvidiaSMIPath: opts.nvidiaSMI,
		RocmSMIPath:   opts.rocmSMI,
	}, gpuusage.NewExecRunner(), openCounters, logger.With("component", "gpuusage"))
	defer func() {
		if err := provider.Close(); err != nil {
			logger.Warn("provider close", "err", err)
		}
	}()

	fmt.Println()
	fmt.Printf("GPU acquisition strategy: %s\n", provider.Strategy())
	if engines := provider.EngineNames(); len(engines) > 0 {
		fmt.Printf("Engine counters: %v\n", engines)
	}

	if opts.samples <= 0 {
		return
	}

	host := sysmon.New(ctx, "", logger.With("component", "sysmon"))

	for i := 0; i < opts.samples; i++ {
		if i > 0 {
			time.Sleep(opts.interval)
		}
		usage := host.Sample(ctx)
		gpuPct := provider.Sample(ctx)
		fmt.Println(overlay.FormatLine(usage.CPUPct, usage.MemPct, gpuPct, usage.DiskPct))
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
