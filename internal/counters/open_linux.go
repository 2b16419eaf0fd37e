//go:build linux

package counters

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/statline/statline/internal/gpu"
)

const (
	gpuBusyFilename      = "gpu_busy_percent"
	memBusyFilename      = "mem_busy_percent"
	vramUsedFilename     = "mem_info_vram_used"
	vramTotalFilename    = "mem_info_vram_total"
	engineGraphicsSuffix = "gfx"
	engineMemCtlSuffix   = "memctl"
)

// Open builds a counter set from the DRM engine channels of the discovered
// cards. Any channel that fails to open is skipped; an empty set is a valid
// outcome and simply yields zero utilization.
func Open(sysfsRoot string, cards []gpu.Card, logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	openLogger := logger.With("component", "counter_open")

	var engines []Handle
	var memory []Handle
	for _, card := range cards {
		devicePath := gpu.DevicePath(sysfsRoot, card.ID)

		for _, channel := range []struct {
			filename string
			suffix   string
		}{
			{gpuBusyFilename, engineGraphicsSuffix},
			{memBusyFilename, engineMemCtlSuffix},
		} {
			handle, err := openFileHandle(card.ID+"/"+channel.suffix, filepath.Join(devicePath, channel.filename))
			if err != nil {
				openLogger.Debug("engine channel unavailable", "card", card.ID, "channel", channel.suffix, "err", err)
				continue
			}
			engines = append(engines, handle)
		}

		for _, channel := range []struct {
			filename string
			suffix   string
		}{
			{vramUsedFilename, "vram_used_bytes"},
			{vramTotalFilename, "vram_total_bytes"},
		} {
			handle, err := openFileHandle(card.ID+"/"+channel.suffix, filepath.Join(devicePath, channel.filename))
			if err != nil {
				openLogger.Debug("memory channel unavailable", "card", card.ID, "channel", channel.suffix, "err", err)
				continue
			}
			memory = append(memory, handle)
		}
	}

	openLogger.Info("counter set opened", "engines", len(engines), "memory", len(memory))
	return NewSet(engines, memory, logger)
}

// fileHandle is a persistent open file on a sysfs value. The descriptor stays
// open for the provider lifetime; each read re-reads from offset zero.
type fileHandle struct {
	name string
	file *os.File
}

func openFileHandle(name, path string) (*fileHandle, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &fileHandle{name: name, file: file}, nil
}

func (h *fileHandle) Name() string {
	return h.name
}

func (h *fileHandle) Read() (float64, error) {
	buf := make([]byte, 64)
	n, err := h.file.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	text := strings.TrimSpace(string(buf[:n]))
	if text == "" {
		return 0, fmt.Errorf("empty counter value")
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("parse counter value: %w", err)
	}
	return value, nil
}

func (h *fileHandle) Close() error {
	return h.file.Close()
}
