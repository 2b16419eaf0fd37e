// Package gpu enumerates GPU devices exposed through the DRM class in sysfs.
package gpu

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
)

const drmClassPath = "class/drm"

// Card describes a single GPU device discovered via sysfs.
type Card struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
	PCI   string `json:"pci"`
	PCIID string `json:"pci_id"`
	Name  string `json:"name"`
}

// DevicePath returns the sysfs device directory for the given card.
func DevicePath(sysfsRoot, cardID string) string {
	return filepath.Join(sysfsRoot, drmClassPath, cardID, "device")
}

// Discover enumerates DRM cards exposed via sysfs under the provided root.
// A missing DRM class directory yields an empty result, not an error.
func Discover(root string, logger *slog.Logger) ([]Card, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	entries, err := os.ReadDir(filepath.Join(root, drmClassPath))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("drm class path missing", "path", filepath.Join(root, drmClassPath))
			return nil, nil
		}
		return nil, fmt.Errorf("read drm class dir: %w", err)
	}

	var cards []Card
	for _, entry := range entries {
		name := entry.Name()
		index, ok := cardIndex(name)
		if !ok {
			continue
		}
		if !entry.IsDir() && entry.Type()&os.ModeSymlink == 0 {
			continue
		}

		card, err := loadCard(name, index, DevicePath(root, name))
		if err != nil {
			logger.Warn("failed to load card info", "card", name, "err", err)
			continue
		}
		cards = append(cards, card)
	}

	return cards, nil
}

func loadCard(cardID string, index int, devicePath string) (Card, error) {
	if _, err := os.Stat(devicePath); err != nil {
		return Card{}, fmt.Errorf("stat device path: %w", err)
	}

	var (
		pciSlot   string
		pciID     string
		name      string
		subVendor string
		subDevice string
	)

	if data, err := os.ReadFile(filepath.Join(devicePath, "uevent")); err == nil {
		text := string(data)
		pciSlot = parseKeyValue(text, "PCI_SLOT_NAME")
		pciID = parseKeyValue(text, "PCI_ID")
		if subsys := parseKeyValue(text, "PCI_SUBSYS_ID"); subsys != "" {
			if parts := strings.SplitN(subsys, ":", 2); len(parts) == 2 {
				subVendor, subDevice = parts[0], parts[1]
			}
		}
		name = parseKeyValue(text, "DRIVER")
	}

	if pciID == "" {
		vendor := readTrim(filepath.Join(devicePath, "vendor"))
		device := readTrim(filepath.Join(devicePath, "device"))
		if vendor != "" && device != "" {
			pciID = strings.TrimPrefix(vendor, "0x") + ":" + strings.TrimPrefix(device, "0x")
		}
	}

	vendorID, deviceID := splitPCIIdentifier(pciID)
	if resolved := lookupGPUName(vendorID, deviceID, subVendor, subDevice); shouldUseResolvedName(name, resolved) {
		name = resolved
	}

	return Card{
		ID:    cardID,
		Index: index,
		PCI:   pciSlot,
		PCIID: pciID,
		Name:  name,
	}, nil
}

// cardIndex parses "cardN" directory names, rejecting connector entries
// such as "card0-DP-1".
func cardIndex(entry string) (int, bool) {
	if !strings.HasPrefix(entry, "card") {
		return 0, false
	}
	suffix := entry[len("card"):]
	if suffix == "" || strings.ContainsRune(suffix, '-') {
		return 0, false
	}
	for _, r := range suffix {
		if !unicode.IsDigit(r) {
			return 0, false
		}
	}
	index, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, false
	}
	return index, true
}

func parseKeyValue(data, key string) string {
	prefix := key + "="
	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return ""
}

func readTrim(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func splitPCIIdentifier(pciID string) (vendorID string, deviceID string) {
	parts := strings.SplitN(pciID, ":", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}
