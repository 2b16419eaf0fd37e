// Package overlay formats snapshots into the overlay display line.
package overlay

import "fmt"

// ErrorLine is shown when a sampling pass fails outright.
const ErrorLine = "Error reading performance data"

// FormatLine renders the single-line summary with one decimal place per value.
func FormatLine(cpuPct, memPct, gpuPct, diskPct float64) string {
	return fmt.Sprintf("CPU: %.1f%% | RAM: %.1f%% | GPU: %.1f%% | Disk: %.1f%%",
		cpuPct, memPct, gpuPct, diskPct)
}
