package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/oshokin/client-launcher/internal/config"
	"github.com/oshokin/client-launcher/internal/domain/failure"
	"github.com/oshokin/client-launcher/internal/logger"
	"github.com/oshokin/client-launcher/internal/version"
)

const (
	// MaxManifestSize bounds the manifest body.
	MaxManifestSize int64 = 8 << 20
	// MaxSignatureSize bounds the detached signature body.
	MaxSignatureSize int64 = 64 << 10
)

var (
	// ErrUnknownChannel is returned when the requested channel is not configured.
	ErrUnknownChannel = errors.New("unknown channel")
	// errBadHTTPStatus is returned for any response other than 200 OK.
	errBadHTTPStatus = errors.New("unexpected http status")
	// errBodyTooLarge is returned when a body exceeds its bound.
	errBodyTooLarge = errors.New("response body too large")
)

// Document is a manifest exactly as served, with its detached signature.
type Document struct {
	// Channel is the channel the document was fetched from.
	Channel string
	// Manifest holds the raw manifest bytes.
	Manifest []byte
	// Signature holds the raw detached signature bytes.
	Signature []byte
}

// Fetcher downloads manifest documents over HTTP.
type Fetcher struct {
	client    *http.Client
	channels  config.Channels
	userAgent string
	allowHTTP bool
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithAllowHTTP permits plain http:// locations.
func WithAllowHTTP(allow bool) Option {
	return func(f *Fetcher) {
		f.allowHTTP = allow
	}
}

// WithUserAgent overrides the client identifier sent with every request.
func WithUserAgent(userAgent string) Option {
	return func(f *Fetcher) {
		f.userAgent = userAgent
	}
}

// New creates a Fetcher. A nil client means http.DefaultClient.
func New(client *http.Client, channels config.Channels, opts ...Option) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}

	f := &Fetcher{
		client:    client,
		channels:  channels,
		userAgent: version.UserAgent(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fetch makes a single attempt to download the manifest and its signature.
// Every failure is a failure.ErrNetwork unless ctx was canceled.
func (f *Fetcher) Fetch(ctx context.Context, channel string) (*Document, error) {
	locations, ok := f.channels[channel]
	if !ok {
		return nil, failure.Network("fetch manifest", fmt.Errorf("%s: %w", channel, ErrUnknownChannel))
	}

	ctx = logger.WithKV(ctx, "channel", channel)

	logger.DebugKV(ctx, "Fetching manifest", "url", locations.ManifestURL)

	manifest, err := f.readAll(ctx, "fetch manifest", locations.ManifestURL, MaxManifestSize)
	if err != nil {
		return nil, err
	}

	logger.DebugKV(ctx, "Fetching manifest signature", "url", locations.SignatureURL)

	signature, err := f.readAll(ctx, "fetch signature", locations.SignatureURL, MaxSignatureSize)
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Fetched manifest", "bytes", len(manifest), "signature_bytes", len(signature))

	return &Document{Channel: channel, Manifest: manifest, Signature: signature}, nil
}

func (f *Fetcher) readAll(ctx context.Context, op, rawURL string, limit int64) ([]byte, error) {
	response, err := Get(ctx, f.client, rawURL, f.userAgent, f.allowHTTP)
	if err != nil {
		return nil, Classify(ctx, op, err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(response.Body, limit+1))
	if err != nil {
		return nil, Classify(ctx, op, err)
	}

	if int64(len(data)) > limit {
		return nil, failure.Network(op, fmt.Errorf("%s: %w (limit %d bytes)", rawURL, errBodyTooLarge, limit))
	}

	return data, nil
}

// Get issues a GET request for rawURL with the launcher's User-Agent.
// The caller must close the body of a non-nil response. Responses other
// than 200 OK are closed and reported as errors.
func Get(ctx context.Context, client *http.Client, rawURL, userAgent string, allowHTTP bool) (*http.Response, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	if err = config.CheckScheme(target, allowHTTP); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", userAgent)

	response, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	if response.StatusCode != http.StatusOK {
		_ = response.Body.Close()

		return nil, fmt.Errorf("%s, %s: %w", target.Redacted(), response.Status, errBadHTTPStatus)
	}

	return response, nil
}

// Classify maps a transport error to the failure taxonomy.
// A deadline is a network failure, an explicit cancellation is not.
func Classify(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return failure.Canceled(op, err)
	}

	return failure.Network(op, err)
}
