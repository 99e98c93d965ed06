// Package buildinfo exposes build-time version information.
//
// Values are injected via ldflags:
//
//	go build -ldflags "-X github.com/fugue-ai/rhema-sub010/internal/infra/buildinfo.Version=v1.0.0" ./cmd/rhema-store
//
// Commit and GoVersion fall back to the module build info embedded by the
// Go toolchain when not injected.
package buildinfo
