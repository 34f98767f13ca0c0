package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/client-launcher/internal/domain/failure"
	"github.com/oshokin/client-launcher/internal/domain/manifest"
	"github.com/oshokin/client-launcher/internal/service/hasher"
	"github.com/oshokin/client-launcher/internal/version"
)

type report struct {
	done, total int64
}

type recordingSink struct {
	mu       sync.Mutex
	reports  []report
	statuses []string
	onReport func()
}

func (s *recordingSink) Progress(done, total int64) {
	s.mu.Lock()
	s.reports = append(s.reports, report{done: done, total: total})
	hook := s.onReport
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
}

func (s *recordingSink) Status(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.statuses = append(s.statuses, text)
}

// fixture serves artifact bodies by name.
type fixture struct {
	server *httptest.Server
	bodies map[string]string

	mu         sync.Mutex
	userAgents []string
}

func (f *fixture) agents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.userAgents...)
}

func newFixture(t *testing.T, bodies map[string]string) *fixture {
	t.Helper()

	f := &fixture{bodies: bodies}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.userAgents = append(f.userAgents, r.UserAgent())
		f.mu.Unlock()

		name := strings.TrimPrefix(r.URL.Path, "/")
		switch {
		case name == "broken":
			http.Error(w, "boom", http.StatusInternalServerError)
		case name == "oversized":
			_, _ = w.Write([]byte(strings.Repeat("o", 4096)))
		case name == "truncated":
			w.Header().Set("Content-Length", "1000")
			_, _ = w.Write([]byte("short"))
		default:
			body, ok := f.bodies[name]
			if !ok {
				http.NotFound(w, r)
				return
			}

			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			_, _ = w.Write([]byte(body))
		}
	}))
	t.Cleanup(f.server.Close)

	return f
}

func (f *fixture) artifact(t *testing.T, name, content string) manifest.Artifact {
	t.Helper()

	sum, err := hasher.Bytes([]byte(content), hasher.SHA256)
	require.NoError(t, err)

	return manifest.Artifact{
		Name:      name,
		Path:      f.server.URL + "/" + name,
		Size:      int64(len(content)),
		Hash:      sum,
		Algorithm: hasher.SHA256,
	}
}

func cacheEntries(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}

	return names
}

// TestDownload_TotalCoversWholeManifest checks that with sizes [100, 200, 300]
// and only the second artifact downloaded, every report has total 600 and the
// final report is (600, 600).
func TestDownload_TotalCoversWholeManifest(t *testing.T) {
	t.Parallel()

	a, b, c := strings.Repeat("a", 100), strings.Repeat("b", 200), strings.Repeat("c", 300)
	f := newFixture(t, map[string]string{"b.jar": b})

	man := &manifest.Manifest{Artifacts: []manifest.Artifact{
		f.artifact(t, "a.jar", a),
		f.artifact(t, "b.jar", b),
		f.artifact(t, "c.jar", c),
	}}

	dir := t.TempDir()
	sink := &recordingSink{}
	m := New(dir, f.server.Client(), sink, WithAllowHTTP(true), WithChunkSize(64))

	require.NoError(t, m.Download(context.Background(), man, man.Artifacts[1:2], 400))

	require.NotEmpty(t, sink.reports)

	previous := int64(400)
	for _, r := range sink.reports {
		require.Equal(t, int64(600), r.total)
		require.GreaterOrEqual(t, r.done, previous)
		previous = r.done
	}

	require.Equal(t, report{done: 600, total: 600}, sink.reports[len(sink.reports)-1])
	require.Equal(t, []string{StatusDownloading}, sink.statuses)

	content, err := os.ReadFile(filepath.Join(dir, "b.jar"))
	require.NoError(t, err)
	require.Equal(t, b, string(content))
	require.Equal(t, []string{"b.jar"}, cacheEntries(t, dir))
	require.Equal(t, []string{version.UserAgent()}, f.agents())
}

// TestDownload_NothingToDo still reports completion.
func TestDownload_NothingToDo(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	man := &manifest.Manifest{Artifacts: []manifest.Artifact{f.artifact(t, "a.jar", "alpha")}}

	sink := &recordingSink{}
	require.NoError(t, New(t.TempDir(), f.server.Client(), sink).Download(context.Background(), man, nil, 5))
	require.Equal(t, []report{{done: 5, total: 5}}, sink.reports)
	require.Empty(t, sink.statuses)
}

// TestDownload_ReplacesStaleEntry overwrites existing content atomically.
func TestDownload_ReplacesStaleEntry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]string{"a.jar": "fresh"})
	man := &manifest.Manifest{Artifacts: []manifest.Artifact{f.artifact(t, "a.jar", "fresh")}}

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jar"), []byte("stale"), 0o600))

	require.NoError(t, New(dir, f.server.Client(), nil, WithAllowHTTP(true)).
		Download(context.Background(), man, man.Artifacts, 0))

	content, err := os.ReadFile(filepath.Join(dir, "a.jar"))
	require.NoError(t, err)
	require.Equal(t, "fresh", string(content))
	require.Equal(t, []string{"a.jar"}, cacheEntries(t, dir))
}

// TestDownload_NetworkErrorsDiscardTemporaryFiles covers error statuses and
// truncated bodies; the cache keeps its previous content.
func TestDownload_NetworkErrorsDiscardTemporaryFiles(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	for _, name := range []string{"broken", "truncated"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("previous"), 0o600))

			man := &manifest.Manifest{Artifacts: []manifest.Artifact{f.artifact(t, name, "whatever")}}

			err := New(dir, f.server.Client(), nil, WithAllowHTTP(true)).
				Download(context.Background(), man, man.Artifacts, 0)
			require.ErrorIs(t, err, failure.ErrNetwork)
			require.Equal(t, []string{name}, cacheEntries(t, dir))

			content, readErr := os.ReadFile(filepath.Join(dir, name))
			require.NoError(t, readErr)
			require.Equal(t, "previous", string(content))
		})
	}
}

// TestDownload_CanceledBetweenChunks stops as soon as the context is canceled.
func TestDownload_CanceledBetweenChunks(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("x", 4096)
	f := newFixture(t, map[string]string{"big.jar": body, "next.jar": "n"})
	man := &manifest.Manifest{Artifacts: []manifest.Artifact{
		f.artifact(t, "big.jar", body),
		f.artifact(t, "next.jar", "n"),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	sink := &recordingSink{onReport: cancel}

	err := New(dir, f.server.Client(), sink, WithAllowHTTP(true), WithChunkSize(16)).
		Download(ctx, man, man.Artifacts, 0)
	require.ErrorIs(t, err, failure.ErrCanceled)
	require.Len(t, sink.reports, 1)
	require.Empty(t, cacheEntries(t, dir))
}

// TestDownload_HashPolicy rejects mismatched content when enforcing and
// installs it otherwise.
func TestDownload_HashPolicy(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]string{"a.jar": "tampered"})

	declared := f.artifact(t, "a.jar", "original")
	man := &manifest.Manifest{Artifacts: []manifest.Artifact{declared}}

	enforced := t.TempDir()
	err := New(enforced, f.server.Client(), nil, WithAllowHTTP(true)).
		Download(context.Background(), man, man.Artifacts, 0)
	require.ErrorIs(t, err, failure.ErrHashMismatch)
	require.Empty(t, cacheEntries(t, enforced))

	relaxed := t.TempDir()
	require.NoError(t, New(relaxed, f.server.Client(), nil, WithAllowHTTP(true), WithEnforceIntegrity(false)).
		Download(context.Background(), man, man.Artifacts, 0))

	content, err := os.ReadFile(filepath.Join(relaxed, "a.jar"))
	require.NoError(t, err)
	require.Equal(t, "tampered", string(content))
}

// TestDownload_StallIsNetworkFailure aborts a transfer that stops delivering data.
func TestDownload_StallIsNetworkFailure(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		_, _ = w.Write([]byte("partial"))
		w.(http.Flusher).Flush()

		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	man := &manifest.Manifest{Artifacts: []manifest.Artifact{{
		Name: "slow.jar", Path: server.URL + "/slow.jar", Size: 100,
		Hash: strings.Repeat("0", 64), Algorithm: hasher.SHA256,
	}}}

	dir := t.TempDir()
	err := New(dir, server.Client(), nil, WithAllowHTTP(true), WithStallTimeout(50*time.Millisecond)).
		Download(context.Background(), man, man.Artifacts, 0)
	require.ErrorIs(t, err, failure.ErrNetwork)
	require.Empty(t, cacheEntries(t, dir))
}

// TestDownload_OversizedBodyIsRejected stops reading once a body passes its
// declared size and leaves no partial file behind.
func TestDownload_OversizedBodyIsRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	man := &manifest.Manifest{Artifacts: []manifest.Artifact{f.artifact(t, "oversized", "tiny")}}

	dir := t.TempDir()
	sink := &recordingSink{}

	err := New(dir, f.server.Client(), sink, WithAllowHTTP(true), WithChunkSize(16)).
		Download(context.Background(), man, man.Artifacts, 0)
	require.ErrorIs(t, err, failure.ErrHashMismatch)
	require.Empty(t, cacheEntries(t, dir))
	require.Empty(t, sink.reports)
}
