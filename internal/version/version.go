// Package version tracks build metadata for the application.
package version

import "sync/atomic"

// Info describes build metadata for the application.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

var current atomic.Pointer[Info]

func init() {
	current.Store(&Info{Version: "dev"})
}

// Set updates the version metadata exposed by the application.
func Set(v Info) {
	if v.Version == "" {
		v.Version = "dev"
	}
	current.Store(&v)
}

// Current returns the currently configured build metadata.
func Current() Info {
	return *current.Load()
}
