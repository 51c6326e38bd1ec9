package instance

import (
	"os"
	"strings"
)

const fallbackID = "local"

// GetID identifies this process in logs: the platform dyno name, then an
// explicit WORKER_ID, then the hostname.
func GetID() string {
	for _, key := range []string{"DYNO", "WORKER_ID"} {
		if id := strings.TrimSpace(os.Getenv(key)); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}
