package download

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/client-launcher/internal/domain/failure"
	"github.com/oshokin/client-launcher/internal/domain/manifest"
	"github.com/oshokin/client-launcher/internal/logger"
	"github.com/oshokin/client-launcher/internal/service/fetcher"
	"github.com/oshokin/client-launcher/internal/service/hasher"
	"github.com/oshokin/client-launcher/internal/service/progress"
	"github.com/oshokin/client-launcher/internal/version"
)

const (
	// DefaultChunkSize is the read buffer used for every transfer.
	DefaultChunkSize = 1 << 20

	// StatusDownloading is reported once before the first transfer.
	StatusDownloading = "Downloading latest update"

	// artifactMode is applied to cache entries.
	artifactMode os.FileMode = 0o644
	// executableMode is applied to the artifact the manifest launches directly.
	executableMode os.FileMode = 0o755
)

var errNilManifest = errors.New("manifest is nil")

// Manager downloads artifacts into Dir.
type Manager struct {
	dir       string
	client    *http.Client
	sink      progress.Sink
	chunkSize int
	allowHTTP bool
	enforce   bool
	userAgent string
	stall     time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithChunkSize overrides DefaultChunkSize.
func WithChunkSize(size int) Option {
	return func(m *Manager) {
		if size > 0 {
			m.chunkSize = size
		}
	}
}

// WithAllowHTTP permits plain http:// sources.
func WithAllowHTTP(allow bool) Option {
	return func(m *Manager) {
		m.allowHTTP = allow
	}
}

// WithEnforceIntegrity refuses to install content that does not match its
// declared hash. Without it the content is installed and left to the
// artifact verifier to report.
func WithEnforceIntegrity(enforce bool) Option {
	return func(m *Manager) {
		m.enforce = enforce
	}
}

// WithStallTimeout aborts a transfer that delivers no data for d.
// Zero disables the watchdog.
func WithStallTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.stall = d
	}
}

// New creates a Manager. A nil client means http.DefaultClient and a nil sink discards progress.
func New(dir string, client *http.Client, sink progress.Sink, opts ...Option) *Manager {
	if client == nil {
		client = http.DefaultClient
	}

	if sink == nil {
		sink = progress.Nop{}
	}

	m := &Manager{
		dir:       dir,
		client:    client,
		sink:      sink,
		chunkSize: DefaultChunkSize,
		enforce:   true,
		userAgent: version.UserAgent(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Download fetches toDownload in order. done is the number of bytes already
// valid in the cache; progress totals always cover the whole manifest, and a
// final (total, total) is reported when every transfer succeeded.
func (m *Manager) Download(ctx context.Context, man *manifest.Manifest, toDownload []manifest.Artifact, done int64) error {
	if man == nil {
		return failure.IO("download artifacts", "", errNilManifest)
	}

	total := man.TotalSize()

	if len(toDownload) > 0 {
		m.sink.Status(StatusDownloading)
	}

	for _, artifact := range toDownload {
		if err := failure.FromContext(ctx, "download artifact"); err != nil {
			return err
		}

		executable := artifact.Name == man.Launch.Executable

		transferred, err := m.fetch(logger.WithKV(ctx, "artifact", artifact.Name), artifact, executable, done, total)
		if err != nil {
			return err
		}

		done += transferred
	}

	m.sink.Progress(total, total)

	return nil
}

// fetch transfers one artifact and swaps it into the cache.
func (m *Manager) fetch(
	ctx context.Context,
	artifact manifest.Artifact,
	executable bool,
	done, total int64,
) (int64, error) {
	const op = "download artifact"

	logger.InfoKV(ctx, "Downloading artifact", "url", artifact.Path, "size", artifact.Size)

	// The watchdog cancels only the request, so a stall is a network failure.
	requestCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	touch := func() {}

	if m.stall > 0 {
		watchdog := time.AfterFunc(m.stall, cancel)
		defer watchdog.Stop()

		touch = func() { watchdog.Reset(m.stall) }
	}

	response, err := fetcher.Get(requestCtx, m.client, artifact.Path, m.userAgent, m.allowHTTP)
	if err != nil {
		return 0, fetcher.Classify(ctx, op, err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	temp, err := os.CreateTemp(m.dir, "."+artifact.Name+".download-*")
	if err != nil {
		return 0, failure.IO("create temporary file", artifact.Name, err)
	}

	tempPath := temp.Name()

	defer func() {
		_ = temp.Close()
		_ = os.Remove(tempPath)
	}()

	touch()

	digest, transferred, err := m.stream(ctx, response.Body, temp, artifact, done, total, touch)
	if err != nil {
		return 0, err
	}

	if err = temp.Close(); err != nil {
		return 0, failure.IO("write temporary file", artifact.Name, err)
	}

	if !hasher.Equal(artifact.Hash, digest) {
		if m.enforce {
			return 0, failure.Mismatch(artifact.Name, artifact.Hash, digest)
		}

		logger.WarnKV(ctx, "Downloaded artifact does not match its hash",
			"expected", artifact.Hash, "actual", digest)
	}

	mode := artifactMode
	if executable {
		mode = executableMode
	}

	if err = m.install(artifact, tempPath, mode); err != nil {
		return 0, err
	}

	logger.DebugKV(ctx, "Artifact installed", "bytes", transferred, "hash", digest)

	return transferred, nil
}

// stream copies body into dst chunk by chunk, reporting progress after every
// chunk and checking for cancellation in between. onChunk runs whenever data arrives.
func (m *Manager) stream(
	ctx context.Context,
	body io.Reader,
	dst io.Writer,
	artifact manifest.Artifact,
	done, total int64,
	onChunk func(),
) (string, int64, error) {
	const op = "download artifact"

	hashFunc, err := artifact.Algorithm.Hash()
	if err != nil {
		return "", 0, failure.IO("hash artifact", artifact.Name, err)
	}

	digest := hashFunc.New()
	buffer := make([]byte, m.chunkSize)

	var transferred int64

	for {
		if err = failure.FromContext(ctx, op); err != nil {
			return "", 0, err
		}

		n, readErr := body.Read(buffer)
		if n > 0 {
			onChunk()

			// A body longer than declared can never match, so stop before it reaches the disk.
			if m.enforce && transferred+int64(n) > artifact.Size {
				return "", 0, failure.Mismatch(artifact.Name, artifact.Hash,
					fmt.Sprintf("body exceeds the declared %d bytes", artifact.Size))
			}

			if _, err = dst.Write(buffer[:n]); err != nil {
				return "", 0, failure.IO("write temporary file", artifact.Name, err)
			}

			_, _ = digest.Write(buffer[:n])
			transferred += int64(n)
			m.sink.Progress(done+transferred, total)
		}

		if errors.Is(readErr, io.EOF) {
			break
		}

		if readErr != nil {
			return "", 0, fetcher.Classify(ctx, op, fmt.Errorf("%s: %w", artifact.Path, readErr))
		}
	}

	return hex.EncodeToString(digest.Sum(nil)), transferred, nil
}

// install swaps the temporary file into the cache entry.
func (m *Manager) install(artifact manifest.Artifact, tempPath string, mode os.FileMode) error {
	const op = "install artifact"

	target := filepath.Join(m.dir, artifact.Name)

	// go-update renames the current target aside, so it has to exist.
	if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
		placeholder, createErr := os.OpenFile(filepath.Clean(target), os.O_CREATE|os.O_WRONLY, mode)
		if createErr != nil {
			return failure.IO(op, artifact.Name, createErr)
		}

		_ = placeholder.Close()
	}

	content, err := os.Open(filepath.Clean(tempPath))
	if err != nil {
		return failure.IO(op, artifact.Name, err)
	}

	defer func() {
		_ = content.Close()
	}()

	options := goupdate.Options{
		TargetPath: target,
		TargetMode: mode,
	}

	if m.enforce {
		checksum, decodeErr := hasher.Decode(artifact.Hash)
		if decodeErr != nil {
			return failure.IO(op, artifact.Name, decodeErr)
		}

		hashFunc, hashErr := artifact.Algorithm.Hash()
		if hashErr != nil {
			return failure.IO(op, artifact.Name, hashErr)
		}

		options.Checksum = checksum
		options.Hash = hashFunc
	}

	if err = goupdate.Apply(content, options); err != nil {
		return failure.IO(op, artifact.Name, err)
	}

	_ = os.Remove(filepath.Join(m.dir, "."+artifact.Name+".old"))

	return nil
}
