// Package version exposes the build version reported by the health endpoint
// and the startup banner.
package version

// Version is overridable at build time:
//
//	go build -ldflags "-X github.com/nshfwz/forsaken-mail/internal/version.Version=1.2.3"
var Version = "0.1.0"
