package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/oshokin/client-launcher/internal/config"
	"github.com/oshokin/client-launcher/internal/domain/failure"
	"github.com/oshokin/client-launcher/internal/domain/manifest"
	"github.com/oshokin/client-launcher/internal/logger"
	"github.com/oshokin/client-launcher/internal/service/hasher"
)

// Reconciler owns the cache directory.
type Reconciler struct {
	// Dir is the flat cache directory.
	Dir string
}

// Plan is the outcome of diffing the cache against a manifest.
type Plan struct {
	// ToDelete lists cached names absent from the manifest, sorted.
	ToDelete []string
	// ToDownload lists artifacts missing or stale on disk, in manifest order.
	ToDownload []manifest.Artifact
	// Cached lists artifacts already present with the declared hash, in manifest order.
	Cached []manifest.Artifact
}

// CachedSize returns the total declared size of the already valid artifacts.
func (p *Plan) CachedSize() int64 {
	var total int64
	for _, artifact := range p.Cached {
		total += artifact.Size
	}

	return total
}

// New returns a Reconciler for dir.
func New(dir string) *Reconciler {
	return &Reconciler{Dir: dir}
}

// Path returns the cache location of the named artifact.
func (r *Reconciler) Path(name string) string {
	return filepath.Join(r.Dir, name)
}

// List returns the sorted names of the regular files in the cache directory,
// creating the directory when it does not exist.
func (r *Reconciler) List() ([]string, error) {
	if err := os.MkdirAll(r.Dir, config.DefaultDirPermissions); err != nil {
		return nil, failure.IO("create cache directory", "", err)
	}

	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		return nil, failure.IO("list cache directory", "", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}

	slices.Sort(names)

	return names, nil
}

// Plan computes which cached files to delete and which artifacts to download.
func (r *Reconciler) Plan(ctx context.Context, m *manifest.Manifest) (*Plan, error) {
	onDisk, err := r.List()
	if err != nil {
		return nil, err
	}

	wanted := m.Names()
	plan := &Plan{}

	for _, name := range onDisk {
		if _, ok := wanted[name]; !ok {
			plan.ToDelete = append(plan.ToDelete, name)
		}
	}

	present := make(map[string]struct{}, len(onDisk))
	for _, name := range onDisk {
		present[name] = struct{}{}
	}

	for _, artifact := range m.Artifacts {
		if err = failure.FromContext(ctx, "reconcile cache"); err != nil {
			return nil, err
		}

		if _, ok := present[artifact.Name]; !ok {
			plan.ToDownload = append(plan.ToDownload, artifact)
			continue
		}

		if r.isCurrent(ctx, artifact) {
			plan.Cached = append(plan.Cached, artifact)
		} else {
			plan.ToDownload = append(plan.ToDownload, artifact)
		}
	}

	logger.InfoKV(ctx, "Cache reconciled",
		"cached", len(plan.Cached), "download", len(plan.ToDownload), "delete", len(plan.ToDelete))

	return plan, nil
}

// isCurrent reports whether the cached copy matches the declared hash.
// A file that cannot be hashed is treated as stale.
func (r *Reconciler) isCurrent(ctx context.Context, artifact manifest.Artifact) bool {
	actual, err := hasher.File(r.Path(artifact.Name), artifact.Algorithm)
	if err != nil {
		logger.WarnKV(ctx, "Unable to hash cached artifact", "artifact", artifact.Name, "error", err)
		return false
	}

	if !hasher.Equal(artifact.Hash, actual) {
		logger.DebugKV(ctx, "Cached artifact is stale", "artifact", artifact.Name,
			"expected", artifact.Hash, "actual", actual)

		return false
	}

	return true
}

// Clean deletes plan.ToDelete. Deletion is best-effort: every failure is logged
// and returned, and the remaining files are still attempted.
func (r *Reconciler) Clean(ctx context.Context, plan *Plan) []error {
	var errs []error

	for _, name := range plan.ToDelete {
		err := os.Remove(r.Path(name))
		if err == nil || errors.Is(err, os.ErrNotExist) {
			logger.DebugKV(ctx, "Deleted stale artifact", "artifact", name)
			continue
		}

		logger.WarnKV(ctx, "Unable to delete stale artifact", "artifact", name, "error", err)
		errs = append(errs, failure.IO("delete stale artifact", name, fmt.Errorf("remove: %w", err)))
	}

	return errs
}
