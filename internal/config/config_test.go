package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.ListenAddr != ":8090" {
		t.Errorf("unexpected listen addr %q", cfg.ListenAddr)
	}
	if cfg.SampleInterval != 500*time.Millisecond {
		t.Errorf("unexpected sample interval %s", cfg.SampleInterval)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("unexpected log level %v", cfg.LogLevel)
	}
	if cfg.GPU.NvidiaSMIPath != "nvidia-smi" || cfg.GPU.RocmSMIPath != "rocm-smi" {
		t.Errorf("unexpected tool paths %+v", cfg.GPU)
	}
	if cfg.SysfsRoot != "/sys" {
		t.Errorf("unexpected sysfs root %q", cfg.SysfsRoot)
	}
	if cfg.WS.MaxClients != 64 {
		t.Errorf("unexpected ws max clients %d", cfg.WS.MaxClients)
	}
	if cfg.EnablePrometheus || cfg.EnablePprof {
		t.Errorf("prometheus/pprof should default to disabled")
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STATLINE_LISTEN_ADDR", "127.0.0.1:9999")
	t.Setenv("STATLINE_SAMPLE_INTERVAL", "2s")
	t.Setenv("STATLINE_ALLOWED_ORIGINS", "example.com, overlay.local")
	t.Setenv("STATLINE_ENABLE_PROMETHEUS", "true")
	t.Setenv("STATLINE_LOG_LEVEL", "debug")
	t.Setenv("STATLINE_SYSFS_ROOT", "/fake/sys")
	t.Setenv("STATLINE_DISK_DEVICE", "nvme0n1")
	t.Setenv("STATLINE_NVIDIA_SMI_PATH", "/opt/bin/nvidia-smi")
	t.Setenv("STATLINE_ROCM_SMI_PATH", "/opt/rocm/bin/rocm-smi")
	t.Setenv("STATLINE_WS_MAX_CLIENTS", "8")
	t.Setenv("STATLINE_WS_WRITE_TIMEOUT", "1s")
	t.Setenv("STATLINE_WS_READ_TIMEOUT", "10s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.ListenAddr != "127.0.0.1:9999" {
		t.Errorf("listen addr override not applied: %q", cfg.ListenAddr)
	}
	if cfg.SampleInterval != 2*time.Second {
		t.Errorf("sample interval override not applied: %s", cfg.SampleInterval)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "example.com" || cfg.AllowedOrigins[1] != "overlay.local" {
		t.Errorf("origins override not applied: %v", cfg.AllowedOrigins)
	}
	if !cfg.EnablePrometheus {
		t.Errorf("prometheus override not applied")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("log level override not applied: %v", cfg.LogLevel)
	}
	if cfg.SysfsRoot != "/fake/sys" || cfg.DiskDevice != "nvme0n1" {
		t.Errorf("path overrides not applied: %q %q", cfg.SysfsRoot, cfg.DiskDevice)
	}
	if cfg.GPU.NvidiaSMIPath != "/opt/bin/nvidia-smi" || cfg.GPU.RocmSMIPath != "/opt/rocm/bin/rocm-smi" {
		t.Errorf("tool path overrides not applied: %+v", cfg.GPU)
	}
	if cfg.WS.MaxClients != 8 || cfg.WS.WriteTimeout != time.Second || cfg.WS.ReadTimeout != 10*time.Second {
		t.Errorf("ws overrides not applied: %+v", cfg.WS)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"malformed interval", "STATLINE_SAMPLE_INTERVAL", "soon"},
		{"zero interval", "STATLINE_SAMPLE_INTERVAL", "0s"},
		{"negative interval", "STATLINE_SAMPLE_INTERVAL", "-1s"},
		{"bad prometheus flag", "STATLINE_ENABLE_PROMETHEUS", "maybe"},
		{"bad pprof flag", "STATLINE_ENABLE_PPROF", "2x"},
		{"bad log level", "STATLINE_LOG_LEVEL", "loud"},
		{"bad ws clients", "STATLINE_WS_MAX_CLIENTS", "many"},
		{"zero ws clients", "STATLINE_WS_MAX_CLIENTS", "0"},
		{"bad write timeout", "STATLINE_WS_WRITE_TIMEOUT", "fast"},
		{"zero read timeout", "STATLINE_WS_READ_TIMEOUT", "0s"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", tc.key, tc.value)
			}
		})
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"STATLINE_LISTEN_ADDR",
		"STATLINE_SAMPLE_INTERVAL",
		"STATLINE_ALLOWED_ORIGINS",
		"STATLINE_ENABLE_PROMETHEUS",
		"STATLINE_ENABLE_PPROF",
		"STATLINE_LOG_LEVEL",
		"STATLINE_SYSFS_ROOT",
		"STATLINE_DISK_DEVICE",
		"STATLINE_NVIDIA_SMI_PATH",
		"STATLINE_ROCM_SMI_PATH",
		"STATLINE_WS_MAX_CLIENTS",
		"STATLINE_WS_WRITE_TIMEOUT",
		"STATLINE_WS_READ_TIMEOUT",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
