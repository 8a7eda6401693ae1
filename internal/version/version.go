// Package version holds build metadata for the kbai binary, stamped via
// -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/kbai-go/internal/version.Version=v0.3.0 \
//	                    -X github.com/54b3r/kbai-go/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                    -X github.com/54b3r/kbai-go/internal/version.BuildDate=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/kbai
//
// Unstamped builds report "dev" / "unknown".
package version

import "fmt"

var (
	// Version is the semantic version of the binary.
	Version = "dev"
	// Commit is the short git SHA the binary was built from.
	Commit = "unknown"
	// BuildDate is the UTC build time in RFC3339.
	BuildDate = "unknown"
)

// String renders the build metadata on one line.
func String() string {
	return fmt.Sprintf("kbai %s (commit %s, built %s)", Version, Commit, BuildDate)
}
