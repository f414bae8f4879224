// Package version holds build metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/rickgao/camera-gateway/internal/version.Version=1.2.0 \
//	                   -X github.com/rickgao/camera-gateway/internal/version.Commit=$(git rev-parse --short HEAD)" ./cmd/camerad
package version

import "fmt"

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// String returns "version (commit) built time".
func String() string {
	return fmt.Sprintf("%s (%s) built %s", Version, Commit, BuildTime)
}

// UserAgent identifies the gateway to the native sidecar.
func UserAgent() string {
	return "camerad/" + Version
}
