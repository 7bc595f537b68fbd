package adapters

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/ctagard/dbg-mcp/internal/logflags"
	"github.com/ctagard/dbg-mcp/internal/version"
	"github.com/ctagard/dbg-mcp/pkg/types"
)

// Detection is the outcome of probing one backend
type Detection struct {
	Kind    types.BackendKind
	Path    string
	Version *version.BackendVersion
	Err     error
}

// Usable reports whether the backend can serve sessions
func (d Detection) Usable() bool {
	return d.Err == nil
}

// Detect resolves every registered backend on PATH and probes its version.
// Backends that cannot be found are removed from the registry. If the
// default backend is gone the first remaining one becomes the default.
// An error is returned when no backend is left.
func (r *Registry) Detect(ctx context.Context, timeout time.Duration) ([]Detection, error) {
	log := logflags.AdapterLogger()

	var results []Detection
	for _, kind := range r.Kinds() {
		adapter := r.adapters[kind]
		d := probe(ctx, adapter, timeout)
		results = append(results, d)

		if d.Err != nil {
			log.WithField("backend", kind).Warnf("backend unavailable: %v", d.Err)
			r.Remove(kind)
			continue
		}
		entry := log.WithField("backend", kind).WithField("path", d.Path)
		if d.Version != nil {
			entry = entry.WithField("version", d.Version.Version)
			if !d.Version.Supported() {
				entry.Warnf("version is older than the oldest tested release")
				continue
			}
		}
		entry.Info("backend available")
	}

	kinds := r.Kinds()
	if len(kinds) == 0 {
		return results, fmt.Errorf("no supported debugger found (tried lldb and gdb); install one or set backends.<name>.path")
	}
	if _, ok := r.adapters[r.fallback]; !ok {
		log.Infof("default backend %s unavailable, using %s", r.fallback, kinds[0])
		r.fallback = kinds[0]
	}
	return results, nil
}

func probe(ctx context.Context, adapter Adapter, timeout time.Duration) Detection {
	d := Detection{Kind: adapter.Kind()}

	path, err := exec.LookPath(adapter.Executable())
	if err != nil {
		d.Err = err
		return d
	}
	d.Path = path

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	//nolint:gosec // G204: the debugger path comes from configuration
	out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	if err != nil {
		d.Err = fmt.Errorf("%s --version failed: %w", path, err)
		return d
	}

	// An unrecognized banner is not fatal; the debugger ran
	if v, verr := version.ParseBackendVersion(string(adapter.Kind()), string(out)); verr == nil {
		d.Version = v
	}
	return d
}
