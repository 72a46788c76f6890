// Package resolver turns a hostname into the HostInfo the rest of the engine
// needs to open a session and pick a collector: agent id, customer id,
// platform, and OS version.
package resolver

import "strings"

// Platform is a normalized, lower-cased vendor platform string.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformMac     Platform = "mac"
	PlatformLinux   Platform = "linux"
)

// HostInfo is immutable once resolved.
type HostInfo struct {
	Hostname   string
	AgentID    string
	CustomerID string
	Platform   Platform
	OSVersion  string
	CPUName    string
}

// IsUnix reports whether the host runs a UAC-compatible platform.
func (h HostInfo) IsUnix() bool {
	return h.Platform == PlatformMac || h.Platform == PlatformLinux
}

func normalizePlatform(vendorPlatform string) Platform {
	return Platform(strings.ToLower(vendorPlatform))
}
