package verify

import (
	"context"
	"os"
	"path/filepath"

	"github.com/oshokin/client-launcher/internal/domain/failure"
	"github.com/oshokin/client-launcher/internal/domain/manifest"
	"github.com/oshokin/client-launcher/internal/logger"
	"github.com/oshokin/client-launcher/internal/service/hasher"
)

// executableMode is required on the artifact the manifest executes directly.
const executableMode os.FileMode = 0o755

// Verifier checks cache content against a trusted manifest.
type Verifier struct {
	// Dir is the cache directory.
	Dir string
	// EnforceIntegrity makes any mismatch fatal.
	EnforceIntegrity bool
}

// Report is the result of a successful verification pass.
type Report struct {
	// Paths are the absolute cache paths of every artifact, in manifest order.
	Paths []string
	// Mismatches lists the failures tolerated because enforcement is off.
	Mismatches []error
}

// Verify hashes every artifact of m. A missing or unreadable file is always
// a failure.ErrIO; a hash mismatch is a failure.ErrHashMismatch when
// EnforceIntegrity is set and is recorded in the report otherwise.
// The artifact named by Launch.Executable gets its executable bits back
// even when it was served from the cache.
func (v *Verifier) Verify(ctx context.Context, m *manifest.Manifest) (*Report, error) {
	dir, err := filepath.Abs(v.Dir)
	if err != nil {
		return nil, failure.IO("resolve cache directory", "", err)
	}

	report := &Report{Paths: make([]string, 0, len(m.Artifacts))}

	for _, artifact := range m.Artifacts {
		if err = failure.FromContext(ctx, "verify artifacts"); err != nil {
			return nil, err
		}

		path := filepath.Join(dir, artifact.Name)

		actual, hashErr := hasher.File(path, artifact.Algorithm)
		if hashErr != nil {
			return nil, failure.IO("read artifact", artifact.Name, hashErr)
		}

		if !hasher.Equal(artifact.Hash, actual) {
			mismatch := failure.Mismatch(artifact.Name, artifact.Hash, actual)
			if v.EnforceIntegrity {
				return nil, mismatch
			}

			logger.WarnKV(ctx, "Artifact hash mismatch tolerated", "artifact", artifact.Name,
				"expected", artifact.Hash, "actual", actual)

			report.Mismatches = append(report.Mismatches, mismatch)
		}

		if artifact.Name == m.Launch.Executable {
			if err = ensureExecutable(path); err != nil {
				return nil, failure.IO("make artifact executable", artifact.Name, err)
			}
		}

		report.Paths = append(report.Paths, path)
	}

	logger.InfoKV(ctx, "Artifacts verified", "count", len(report.Paths), "mismatches", len(report.Mismatches))

	return report, nil
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if info.Mode().Perm()&executableMode == executableMode {
		return nil
	}

	return os.Chmod(path, info.Mode().Perm()|executableMode)
}
