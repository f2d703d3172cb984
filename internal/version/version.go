// Package version carries the build identity stamped in at link time:
//
//	go build -ldflags "-X github.com/tradewatch/alertd/internal/version.Version=0.3.0 \
//	                   -X github.com/tradewatch/alertd/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/tradewatch/alertd/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

var (
	// Version is the release tag, or "dev" for local builds.
	Version = "dev"

	// Commit is the short git hash the binary was built from.
	Commit = "unknown"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"
)

// String formats the full build identity for startup logs.
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}
