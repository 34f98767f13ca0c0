package launcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/oshokin/client-launcher/internal/config"
	"github.com/oshokin/client-launcher/internal/domain/failure"
	"github.com/oshokin/client-launcher/internal/domain/manifest"
	"github.com/oshokin/client-launcher/internal/domain/pipeline"
	"github.com/oshokin/client-launcher/internal/logger"
	"github.com/oshokin/client-launcher/internal/repository/record"
	"github.com/oshokin/client-launcher/internal/service/cache"
	"github.com/oshokin/client-launcher/internal/service/download"
	"github.com/oshokin/client-launcher/internal/service/fetcher"
	"github.com/oshokin/client-launcher/internal/service/hasher"
	"github.com/oshokin/client-launcher/internal/service/instance"
	"github.com/oshokin/client-launcher/internal/service/launch"
	"github.com/oshokin/client-launcher/internal/service/platform"
	"github.com/oshokin/client-launcher/internal/service/progress"
	"github.com/oshokin/client-launcher/internal/service/signature"
	"github.com/oshokin/client-launcher/internal/service/verify"
	"github.com/oshokin/client-launcher/internal/version"
)

// Status texts reported to the progress sink.
const (
	StatusFetching    = "Fetching manifest"
	StatusVerifying   = "Verifying manifest signature"
	StatusReconciling = "Checking local files"
	StatusChecking    = "Verifying artifacts"
	StatusLaunching   = "Launching client"
	statusFailed      = "Failed: "
)

var (
	// ErrAlreadyRunning is returned when single_instance is set and another launcher is alive.
	ErrAlreadyRunning = errors.New("another launcher instance is running")
	// errConfigIsNotSet is returned when Options carry no configuration.
	errConfigIsNotSet = errors.New("configuration is not set")
)

// Options are inputs accepted by the launcher entry point.
type Options struct {
	// Config is the immutable run configuration. Required.
	Config *config.Config
	// Sink receives progress and status; discarded when nil.
	Sink progress.Sink
	// Strategy overrides the strategy selected from Config.LaunchMode.
	Strategy launch.Strategy
	// HTTPClient overrides the client built from Config.Timeout.
	HTTPClient *http.Client
	// TrustAnchor overrides the anchor loaded from Config.TrustAnchor or embedded in the binary.
	TrustAnchor signature.Verifier
	// ClientArgs are passed verbatim to the client.
	ClientArgs []string
	// RuntimeParams override the params derived from Config.
	RuntimeParams []string
	// Records stores the last successful launch; nothing is recorded when nil.
	Records record.Repository
	// InstanceName is the executable name checked for concurrent launchers;
	// defaults to the running binary. Set to "-" to skip the check.
	InstanceName string
}

// Result describes a finished run.
type Result struct {
	// State is Succeeded or Failed.
	State pipeline.State
	// History lists every state the run entered.
	History []pipeline.State
	// Plan is the launch plan handed to the strategy, if the run got that far.
	Plan *launch.Plan
	// Downloaded names the artifacts fetched during this run.
	Downloaded []string
	// Deleted names the orphaned cache files removed during this run.
	Deleted []string
	// Mismatches lists hash mismatches tolerated because enforcement is off.
	Mismatches []error
	// Record is what was stored for this launch, if Options.Records is set.
	Record *record.Record
}

// runner holds the state of a single pipeline execution.
type runner struct {
	cfg      *config.Config
	sink     progress.Sink
	strategy launch.Strategy
	client   *http.Client
	anchor   signature.Verifier
	tracker  *pipeline.Tracker
	opts     *Options
	result   *Result
}

// Run executes the pipeline once. The returned error is a *failure.Error
// whose kind maps to the process exit code.
func Run(ctx context.Context, opts *Options) (*Result, error) {
	ctx = logger.WithName(ctx, "pipeline")

	r, err := newRunner(ctx, opts)
	if err != nil {
		logger.ErrorKV(ctx, "Launcher setup failed", "error", err)
		return nil, err
	}

	ctx = logger.WithKV(ctx, "channel", r.cfg.ChannelName())
	if r.cfg.Debug {
		ctx = logger.WithOptions(ctx, logger.WithLevel(zapcore.DebugLevel))
		platform.LogSystemInfo(ctx)
	}

	err = r.run(ctx)
	if err != nil {
		r.fail(ctx, err)
	}

	r.result.State = r.tracker.Current()
	r.result.History = r.tracker.History()

	if err != nil {
		return r.result, err
	}

	logger.Info(ctx, "Launcher completed")

	return r.result, nil
}

func newRunner(ctx context.Context, opts *Options) (*runner, error) {
	if opts == nil || opts.Config == nil {
		return nil, errConfigIsNotSet
	}

	r := &runner{
		cfg:      opts.Config,
		sink:     opts.Sink,
		strategy: opts.Strategy,
		client:   opts.HTTPClient,
		anchor:   opts.TrustAnchor,
		opts:     opts,
		result:   &Result{},
	}

	if r.sink == nil {
		r.sink = progress.Nop{}
	}

	if r.client == nil {
		r.client = newHTTPClient(r.cfg.Timeout)
	}

	if r.strategy == nil {
		strategy, err := launch.Select(r.cfg)
		if err != nil {
			return nil, failure.Launch("select launch strategy", err)
		}

		r.strategy = strategy
	}

	r.tracker = pipeline.NewTracker(func(from, to pipeline.State) {
		logger.DebugKV(ctx, "Pipeline transition", "from", from.String(), "to", to.String())
	})

	return r, nil
}

// newHTTPClient bounds connection setup and time to first byte by timeout.
// Bodies are not bounded as a whole; the download watchdog handles stalls.
func newHTTPClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = timeout
	transport.ResponseHeaderTimeout = timeout

	return &http.Client{Transport: transport}
}

func (r *runner) run(ctx context.Context) error {
	if err := r.checkInstances(ctx); err != nil {
		return err
	}

	document, err := r.fetchManifest(ctx)
	if err != nil {
		return err
	}

	m, err := r.verifySignature(ctx, document)
	if err != nil {
		return err
	}

	plan, err := r.reconcile(ctx, m)
	if err != nil {
		return err
	}

	if err = r.download(ctx, m, plan); err != nil {
		return err
	}

	report, err := r.verifyArtifacts(ctx, m)
	if err != nil {
		return err
	}

	if err = r.launch(ctx, m, report); err != nil {
		return err
	}

	r.remember(ctx, document, m)

	return nil
}

// remember stores the launch record. Failures are logged and never fail the run.
func (r *runner) remember(ctx context.Context, document *fetcher.Document, m *manifest.Manifest) {
	if r.opts.Records == nil {
		return
	}

	digest, err := hasher.Bytes(document.Manifest, hasher.SHA256)
	if err != nil {
		logger.WarnKV(ctx, "Unable to digest manifest", "error", err)
		return
	}

	if previous, loadErr := r.opts.Records.Load(ctx); loadErr == nil {
		logger.DebugKV(ctx, "Previous launch",
			"launched_at", previous.LaunchedAt, "manifest_changed", previous.ManifestDigest != digest)
	} else if !errors.Is(loadErr, record.ErrNotFound) {
		logger.WarnKV(ctx, "Unable to read launch record", "error", loadErr)
	}

	rec := &record.Record{
		Channel:         r.cfg.ChannelName(),
		ManifestDigest:  digest,
		Artifacts:       make([]string, 0, len(m.Artifacts)),
		Strategy:        r.strategy.Name(),
		LauncherVersion: version.Short(),
		LaunchedAt:      time.Now().UTC(),
	}

	for _, artifact := range m.Artifacts {
		rec.Artifacts = append(rec.Artifacts, artifact.Name)
	}

	if actor, actorErr := record.DetectActor(); actorErr == nil {
		rec.Actor = actor
	}

	if err = r.opts.Records.Save(ctx, rec); err != nil {
		logger.WarnKV(ctx, "Unable to save launch record", "error", err)
		return
	}

	r.result.Record = rec
}

// stage checks for cancellation, then advances the tracker and reports status.
func (r *runner) stage(ctx context.Context, next pipeline.State, status string) error {
	if err := failure.FromContext(ctx, "enter "+next.String()); err != nil {
		return err
	}

	if err := r.tracker.Advance(next); err != nil {
		return err
	}

	if status != "" {
		r.sink.Status(status)
	}

	return nil
}

func (r *runner) checkInstances(ctx context.Context) error {
	name := r.opts.InstanceName
	if name == "-" {
		return nil
	}

	if name == "" {
		name = instance.ExecutableName()
	}

	others, err := instance.Others(name)
	if err != nil {
		logger.WarnKV(ctx, "Unable to list processes", "error", err)
		return nil
	}

	if len(others) == 0 {
		return nil
	}

	if r.cfg.SingleInstance {
		return failure.IO("check running instances", "", fmt.Errorf("%w: pids %v", ErrAlreadyRunning, others))
	}

	logger.WarnKV(ctx, "Another launcher instance is running", "pids", others)

	return nil
}

func (r *runner) fetchManifest(ctx context.Context) (*fetcher.Document, error) {
	if err := r.stage(ctx, pipeline.FetchingManifest, StatusFetching); err != nil {
		return nil, err
	}

	f := fetcher.New(r.client, r.cfg.Channels, fetcher.WithAllowHTTP(r.cfg.AllowHTTP))
	attempts := 1 + r.cfg.ManifestRetries

	var err error

	for attempt := 1; attempt <= attempts; attempt++ {
		var document *fetcher.Document

		document, err = r.fetchOnce(ctx, f)
		if err == nil {
			return document, nil
		}

		if !errors.Is(err, failure.ErrNetwork) || attempt == attempts {
			break
		}

		logger.WarnKV(ctx, "Manifest fetch failed, retrying", "attempt", attempt, "backoff", r.cfg.RetryBackoff, "error", err)

		select {
		case <-ctx.Done():
			return nil, failure.Canceled("fetch manifest", ctx.Err())
		case <-time.After(r.cfg.RetryBackoff):
		}
	}

	return nil, err
}

func (r *runner) fetchOnce(ctx context.Context, f *fetcher.Fetcher) (*fetcher.Document, error) {
	if r.cfg.Timeout <= 0 {
		return f.Fetch(ctx, r.cfg.ChannelName())
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	return f.Fetch(fetchCtx, r.cfg.ChannelName())
}

func (r *runner) verifySignature(ctx context.Context, document *fetcher.Document) (*manifest.Manifest, error) {
	if err := r.stage(ctx, pipeline.VerifyingSignature, StatusVerifying); err != nil {
		return nil, err
	}

	anchor, err := r.trustAnchor()
	if err != nil {
		return nil, err
	}

	if err = signature.Check(anchor, document.Manifest, document.Signature); err != nil {
		return nil, err
	}

	logger.Debug(ctx, "Manifest signature is valid")

	m, err := manifest.Parse(document.Manifest)
	if err != nil {
		return nil, failure.Signature("parse manifest", err)
	}

	logger.InfoKV(ctx, "Manifest accepted", "artifacts", len(m.Artifacts), "bytes", m.TotalSize())

	return m, nil
}

// trustAnchor returns the configured anchor, failing closed when it cannot be read.
//
//nolint:ireturn // The anchor format decides the verifier.
func (r *runner) trustAnchor() (signature.Verifier, error) {
	if r.anchor != nil {
		return r.anchor, nil
	}

	data := signature.Embedded()

	if r.cfg.TrustAnchor != "" {
		var err error

		data, err = os.ReadFile(filepath.Clean(r.cfg.TrustAnchor))
		if err != nil {
			return nil, failure.Signature("read trust anchor", err)
		}
	}

	return signature.LoadTrustAnchor(data)
}

func (r *runner) reconcile(ctx context.Context, m *manifest.Manifest) (*cache.Plan, error) {
	if err := r.stage(ctx, pipeline.Reconciling, StatusReconciling); err != nil {
		return nil, err
	}

	reconciler := cache.New(r.cfg.CacheDir)

	plan, err := reconciler.Plan(ctx, m)
	if err != nil {
		return nil, err
	}

	failed := make(map[string]struct{})

	for _, cleanErr := range reconciler.Clean(ctx, plan) {
		var fe *failure.Error
		if errors.As(cleanErr, &fe) {
			failed[fe.Artifact] = struct{}{}
		}
	}

	for _, name := range plan.ToDelete {
		if _, ok := failed[name]; !ok {
			r.result.Deleted = append(r.result.Deleted, name)
		}
	}

	return plan, nil
}

func (r *runner) download(ctx context.Context, m *manifest.Manifest, plan *cache.Plan) error {
	if err := r.stage(ctx, pipeline.Downloading, ""); err != nil {
		return err
	}

	manager := download.New(r.cfg.CacheDir, r.client, r.sink,
		download.WithAllowHTTP(r.cfg.AllowHTTP),
		download.WithEnforceIntegrity(r.cfg.EnforceIntegrity),
		download.WithStallTimeout(r.cfg.Timeout),
	)

	if err := manager.Download(ctx, m, plan.ToDownload, plan.CachedSize()); err != nil {
		return err
	}

	for _, artifact := range plan.ToDownload {
		r.result.Downloaded = append(r.result.Downloaded, artifact.Name)
	}

	return nil
}

func (r *runner) verifyArtifacts(ctx context.Context, m *manifest.Manifest) (*verify.Report, error) {
	if err := r.stage(ctx, pipeline.VerifyingHashes, StatusChecking); err != nil {
		return nil, err
	}

	verifier := &verify.Verifier{Dir: r.cfg.CacheDir, EnforceIntegrity: r.cfg.EnforceIntegrity}

	report, err := verifier.Verify(ctx, m)
	if err != nil {
		return nil, err
	}

	r.result.Mismatches = report.Mismatches

	return report, nil
}

func (r *runner) launch(ctx context.Context, m *manifest.Manifest, report *verify.Report) error {
	if err := r.stage(ctx, pipeline.Launching, StatusLaunching); err != nil {
		return err
	}

	params := r.opts.RuntimeParams
	if params == nil {
		params = config.ExtraRuntimeParams(r.cfg, runtime.GOOS)
	}

	if r.cfg.RenderMode == "" {
		logger.DebugKV(ctx, "Using default render mode", "render_mode", config.DefaultRenderMode(runtime.GOOS))
	}

	plan := &launch.Plan{
		Artifacts:     report.Paths,
		Args:          r.opts.ClientArgs,
		RuntimeParams: params,
		Env:           config.ClientEnvironment(r.cfg),
		Spec:          m.Launch,
	}
	r.result.Plan = plan

	logger.InfoKV(ctx, "Launching client", "strategy", r.strategy.Name(), "artifacts", len(plan.Artifacts))

	if err := r.strategy.Launch(ctx, plan); err != nil {
		if failure.KindOf(err) == nil {
			err = failure.Launch("launch client", err)
		}

		return err
	}

	return r.tracker.Advance(pipeline.Succeeded)
}

// fail records err on the tracker, logs it and reports it to the sink.
func (r *runner) fail(ctx context.Context, err error) {
	kvs := []any{"state", r.tracker.Current().String()}

	if !r.tracker.Current().IsTerminal() {
		_ = r.tracker.Fail(err)
	}

	var fe *failure.Error
	if errors.As(err, &fe) {
		kvs = append(kvs, fe.KV()...)
	} else {
		kvs = append(kvs, "error", err)
	}

	logger.ErrorKV(ctx, "Launcher run failed", kvs...)
	r.sink.Status(statusFailed + err.Error())
}
