// Package version carries build metadata for the limiter binaries, populated
// via -ldflags at build time.
package version

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
)

// Overridden at link time, for example:
//
//	go build -ldflags "-X noteprompt/internal/version.Version=v1.2.0 \
//	  -X noteprompt/internal/version.GitCommit=$(git rev-parse --short HEAD) \
//	  -X noteprompt/internal/version.BuildDate=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/limiter
var (
	Version   = "unknown" // tag or commit, "v1.2.0" or "a1b2c3d"
	BuildDate = "unknown" // RFC 3339, UTC
	GitCommit = "unknown"
)

// Info identifies one running limiter process.
type Info struct {
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname"`
}

var (
	once sync.Once
	info Info
)

// GetInfo returns build metadata plus a per-process instance ID and the
// hostname, both computed once.
func GetInfo() Info {
	once.Do(func() {
		info = Info{
			Version:    Version,
			GitCommit:  GitCommit,
			BuildDate:  BuildDate,
			InstanceID: uuid.New().String(),
			Hostname:   getHostname(),
		}
	})
	return info
}

// getHostname falls back to "unknown" so log fields are never empty.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}

// String formats version info for the -version flag.
func (i Info) String() string {
	return fmt.Sprintf("noteprompt-limiter %s (commit: %s, built: %s)", i.Version, i.GitCommit, i.BuildDate)
}

// UserAgent identifies this build in outgoing health probes.
func (i Info) UserAgent() string {
	return "noteprompt-limiter/" + i.Version
}

// LogAttrs returns the build fields attached to every log line. The instance
// ID is included once known so lines from replicas sharing one Redis can be
// told apart.
func (i Info) LogAttrs() []any {
	attrs := []any{
		slog.String("version", i.Version),
		slog.String("git_commit", i.GitCommit),
		slog.String("build_date", i.BuildDate),
	}
	if i.InstanceID != "" {
		attrs = append(attrs, slog.String("instance_id", i.InstanceID))
	}
	return attrs
}
