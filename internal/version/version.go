// Package version holds build metadata for the ratelimiter binaries.
// The variables are populated via -ldflags at build time.
package version

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
)

var (
	// Version is the semantic version or git commit hash (e.g., "v1.0.0" or "a1b2c3d").
	// Set via: -ldflags "-X ratelimiter/internal/version.Version=..."
	Version = "unknown"

	// BuildDate is the ISO 8601 UTC timestamp when the binary was built.
	BuildDate = "unknown"

	// GitCommit is the git commit SHA of the source code.
	GitCommit = "unknown"
)

// Info holds build metadata plus identifiers of the running process.
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

// GetInfo returns the process metadata. The instance id is generated once
// per process; limiter state is per process too, so it identifies which
// replica made a decision.
func GetInfo() Info {
	once.Do(func() {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		info = Info{
			Version:    Version,
			GitCommit:  GitCommit,
			BuildDate:  BuildDate,
			InstanceID: uuid.NewString(),
			Hostname:   hostname,
		}
	})
	return info
}

// LogAttrs returns the attributes attached to every log record.
func (i Info) LogAttrs() []any {
	return []any{
		slog.String("version", i.Version),
		slog.String("git_commit", i.GitCommit),
		slog.String("instance_id", i.InstanceID),
	}
}

// UserAgent identifies outbound requests made by a tool of this repository.
func (i Info) UserAgent(tool string) string {
	return fmt.Sprintf("%s/%s", tool, i.Version)
}

// String formats version info for CLI display.
func (i Info) String() string {
	return fmt.Sprintf("ratelimiter version %s (commit: %s, built: %s)", i.Version, i.GitCommit, i.BuildDate)
}
