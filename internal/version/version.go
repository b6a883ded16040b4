// Package version holds build metadata set via -ldflags.
package version

// Version is overridden at build time with
// -ldflags "-X github.com/khang26042012/NexoraX-AI/internal/version.Version=v1.2.3".
var Version = "dev"
