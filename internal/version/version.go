// Package version provides the server version and debugger version probing.
package version

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// Version is the current version of dbg-mcp
	Version = "0.2.0"

	// Name is the server name announced during MCP initialization
	Name = "dbg-mcp"
)

// Oldest releases whose command syntax and output markers the adapters recognize
const (
	MinLLDBVersion = "10.0.0"
	MinGDBVersion  = "8.0.0"
)

// BackendVersion is the parsed first line of `<debugger> --version`
type BackendVersion struct {
	Backend string `json:"backend"`
	Version string `json:"version"`
	// Vendor builds (Apple's lldb-1500.x) use their own numbering
	Vendor string `json:"vendor,omitempty"`
	Raw    string `json:"raw"`
}

var (
	// "lldb version 17.0.6", "Ubuntu LLDB version 14.0.0", "lldb version 18.1.8 (https://... revision ...)"
	lldbVersionRe = regexp.MustCompile(`(?i)lldb version (\d+(?:\.\d+){0,2})`)
	// "lldb-1500.0.22.8" (Apple)
	appleLLDBRe = regexp.MustCompile(`lldb-(\d+(?:\.\d+)*)`)
	// "GNU gdb (GDB) 14.1", "GNU gdb (GDB) Fedora Linux 13.2-3.fc39"
	gdbVersionRe = regexp.MustCompile(`GNU gdb (?:\([^)]*\))?[^\d\n]*(\d+(?:\.\d+){0,2})`)
)

// ParseBackendVersion extracts the version from `--version` output.
func ParseBackendVersion(backend, output string) (*BackendVersion, error) {
	first := strings.TrimSpace(output)
	if i := strings.IndexByte(first, '\n'); i >= 0 {
		first = strings.TrimSpace(first[:i])
	}
	v := &BackendVersion{Backend: backend, Raw: first}

	switch backend {
	case "lldb":
		if m := lldbVersionRe.FindStringSubmatch(output); m != nil {
			v.Version = m[1]
			return v, nil
		}
		if m := appleLLDBRe.FindStringSubmatch(output); m != nil {
			v.Version = m[1]
			v.Vendor = "apple"
			return v, nil
		}
	case "gdb":
		if m := gdbVersionRe.FindStringSubmatch(output); m != nil {
			v.Version = m[1]
			return v, nil
		}
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
	return nil, fmt.Errorf("unrecognized %s version output: %s", backend, truncateString(first, 120))
}

// Supported reports whether the version meets the adapters' minimum.
// Vendor builds are always accepted.
func (v *BackendVersion) Supported() bool {
	if v.Vendor != "" {
		return true
	}
	switch v.Backend {
	case "lldb":
		return CompareVersions(v.Version, MinLLDBVersion) >= 0
	case "gdb":
		return CompareVersions(v.Version, MinGDBVersion) >= 0
	}
	return false
}

// CompareVersions compares two dotted version strings
// Returns -1 if v1 < v2, 0 if equal, 1 if v1 > v2
func CompareVersions(v1, v2 string) int {
	// Parse version components
	parse := func(v string) (major, minor, patch int) {
		parts := strings.Split(strings.TrimPrefix(v, "v"), ".")
		if len(parts) >= 1 {
			fmt.Sscanf(parts[0], "%d", &major)
		}
		if len(parts) >= 2 {
			fmt.Sscanf(parts[1], "%d", &minor)
		}
		if len(parts) >= 3 {
			// Handle suffixes like "1-0ubuntu1"
			patchStr := strings.Split(parts[2], "-")[0]
			fmt.Sscanf(patchStr, "%d", &patch)
		}
		return
	}

	maj1, min1, pat1 := parse(v1)
	maj2, min2, pat2 := parse(v2)

	if maj1 != maj2 {
		if maj1 < maj2 {
			return -1
		}
		return 1
	}
	if min1 != min2 {
		if min1 < min2 {
			return -1
		}
		return 1
	}
	if pat1 != pat2 {
		if pat1 < pat2 {
			return -1
		}
		return 1
	}
	return 0
}

// truncateString truncates a string to maxLen characters
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// GetVersion returns the current version
func GetVersion() string {
	return Version
}
