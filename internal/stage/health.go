package stage

import (
	"fmt"
	"os"
	"path/filepath"
)

// Health summarizes the readiness of a pipeline stage.
type Health struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// CheckDirs reports the stage healthy when every directory exists and accepts
// new files.
func CheckDirs(name string, dirs ...string) Health {
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil {
			return Unhealthy(name, fmt.Sprintf("%s: %v", dir, err))
		}
		if !info.IsDir() {
			return Unhealthy(name, fmt.Sprintf("%s: not a directory", dir))
		}
		tmp, err := os.CreateTemp(dir, ".health-*")
		if err != nil {
			return Unhealthy(name, fmt.Sprintf("%s: not writable: %v", dir, err))
		}
		tmp.Close()
		os.Remove(filepath.Clean(tmp.Name()))
	}
	return Healthy(name)
}
