package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds launcher settings. It is built once at startup and then only read.
type Config struct {
	// CacheDir is the flat directory holding one file per manifest artifact.
	CacheDir string `yaml:"cache_dir"`
	// LogDir optionally receives a copy of the console log.
	LogDir string `yaml:"log_dir,omitempty"`
	// Channels maps channel names to manifest and signature locations.
	Channels Channels `yaml:"channels"`
	// Timeout bounds every manifest and artifact request.
	Timeout time.Duration `yaml:"timeout"`
	// ManifestRetries is the number of extra manifest fetch attempts (0 or 1).
	ManifestRetries int `yaml:"manifest_retries"`
	// RetryBackoff is the delay before a manifest retry.
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	// EnforceIntegrity aborts the run on any artifact hash mismatch.
	EnforceIntegrity bool `yaml:"enforce_integrity"`
	// LaunchMode selects the launch strategy.
	LaunchMode LaunchMode `yaml:"launch_mode"`
	// Runtime overrides the runtime executable named by the manifest.
	Runtime string `yaml:"runtime,omitempty"`
	// RenderMode selects the rendering backend flags; empty means the OS default.
	RenderMode RenderMode `yaml:"render_mode,omitempty"`
	// ClientArgs are extra client arguments, overridden by the command line option.
	ClientArgs string `yaml:"client_args,omitempty"`
	// ClientArgsEnv names the environment variable holding extra client arguments.
	ClientArgsEnv string `yaml:"client_args_env"`
	// ClientEnv is added to the environment of the launched client.
	ClientEnv map[string]string `yaml:"client_env,omitempty"`
	// EnvFile is an optional dotenv file consulted for variables missing from the environment.
	EnvFile string `yaml:"env_file,omitempty"`
	// TrustAnchor is an optional local path replacing the embedded trust anchor.
	TrustAnchor string `yaml:"trust_anchor,omitempty"`
	// AllowHTTP permits plain http:// manifest and artifact locations.
	AllowHTTP bool `yaml:"allow_http,omitempty"`
	// SingleInstance refuses to run while another launcher process is alive.
	SingleInstance bool `yaml:"single_instance,omitempty"`

	// Staging selects the staging channel. It is set from the command line only.
	Staging bool `yaml:"-"`
	// Debug enables verbose diagnostics. It is set from the command line only.
	Debug bool `yaml:"-"`
}

// Channel locates a manifest and its detached signature.
type Channel struct {
	// ManifestURL serves the raw manifest bytes.
	ManifestURL string `yaml:"manifest_url"`
	// SignatureURL serves the detached signature over those bytes.
	SignatureURL string `yaml:"signature_url"`
}

// Channels maps a channel name to its locations.
type Channels map[string]Channel

// LaunchMode selects how the verified artifacts are started.
type LaunchMode string

// Supported launch modes.
const (
	// LaunchChild spawns a new process.
	LaunchChild LaunchMode = "child"
	// LaunchInProcess loads the artifacts into the launcher process.
	LaunchInProcess LaunchMode = "in-process"
)

const (
	// ChannelProduction is used unless staging is requested.
	ChannelProduction = "production"
	// ChannelStaging is used with --staging.
	ChannelStaging = "staging"

	// DefaultConfigFilename is the settings file looked up in the launcher root.
	DefaultConfigFilename = "launcher-settings.yaml"

	// DefaultRootDirname is the per-user launcher root under the home directory.
	DefaultRootDirname = ".client-launcher"

	// DefaultCacheDirname is the artifact cache directory under the launcher root.
	DefaultCacheDirname = "repository"

	// DefaultLogDirname is the log directory under the launcher root.
	DefaultLogDirname = "logs"

	// DefaultClientArgsEnv is the environment variable holding extra client arguments.
	DefaultClientArgsEnv = "CLIENT_LAUNCHER_ARGS"

	// DefaultInProcessEnv switches to the in-process strategy when set to "true".
	DefaultInProcessEnv = "CLIENT_LAUNCHER_IN_PROCESS"

	// DefaultTimeout bounds every network request.
	DefaultTimeout = 30 * time.Second

	// DefaultRetryBackoff is the delay before the optional manifest retry.
	DefaultRetryBackoff = time.Second

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	// DefaultDirPermissions is used for the launcher root, cache and log directories.
	DefaultDirPermissions = 0o755

	// maxManifestRetries caps the single hardening retry.
	maxManifestRetries = 1
)

var (
	// ErrInvalidConfig wraps every validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// ErrSchemeNotAllowed is returned for URLs that are neither https nor permitted http.
	ErrSchemeNotAllowed = errors.New("url scheme not allowed")
	// ErrCacheOverlap is returned when the cache directory would hold files the launcher must keep.
	ErrCacheOverlap = errors.New("cache directory overlaps launcher files")
	// errUnknownChannel is returned when the selected channel is not configured.
	errUnknownChannel = errors.New("channel is not configured")
)

// Production and staging manifest locations shipped with the launcher.
const (
	defaultProductionManifestURL  = "https://updates.client-launcher.dev/live/manifest.yaml"
	defaultProductionSignatureURL = "https://updates.client-launcher.dev/live/manifest.yaml.sig"
	defaultStagingManifestURL     = "https://updates.client-launcher.dev/staging/manifest.yaml"
	defaultStagingSignatureURL    = "https://updates.client-launcher.dev/staging/manifest.yaml.sig"
)

// Default returns the built-in configuration rooted at root (see DefaultRoot).
func Default(root string) *Config {
	return &Config{
		CacheDir: filepath.Join(root, DefaultCacheDirname),
		LogDir:   filepath.Join(root, DefaultLogDirname),
		Channels: Channels{
			ChannelProduction: {
				ManifestURL:  defaultProductionManifestURL,
				SignatureURL: defaultProductionSignatureURL,
			},
			ChannelStaging: {
				ManifestURL:  defaultStagingManifestURL,
				SignatureURL: defaultStagingSignatureURL,
			},
		},
		Timeout:          DefaultTimeout,
		RetryBackoff:     DefaultRetryBackoff,
		EnforceIntegrity: true,
		LaunchMode:       LaunchChild,
		ClientArgsEnv:    DefaultClientArgsEnv,
	}
}

// DefaultRoot returns the per-user launcher root directory.
func DefaultRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	return filepath.Join(home, DefaultRootDirname), nil
}

// Load reads configuration from path on top of Default(root) and validates it.
// When optional is true a missing file yields the defaults.
func Load(path, root string, optional bool) (*Config, error) {
	cfg := Default(root)

	contents, err := os.ReadFile(filepath.Clean(path))
	switch {
	case err == nil:
		if err = yaml.Unmarshal(contents, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	case optional && errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	if err = CheckLayout(cfg, root, path); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the settings and fills defaults for unset optional values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if strings.TrimSpace(cfg.CacheDir) == "" {
		return fmt.Errorf("%w: cache directory must be provided", ErrInvalidConfig)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}

	if cfg.ManifestRetries < 0 || cfg.ManifestRetries > maxManifestRetries {
		return fmt.Errorf("%w: manifest_retries must be between 0 and %d", ErrInvalidConfig, maxManifestRetries)
	}

	if cfg.ClientArgsEnv == "" {
		cfg.ClientArgsEnv = DefaultClientArgsEnv
	}

	if cfg.LaunchMode == "" {
		cfg.LaunchMode = LaunchChild
	}

	if cfg.LaunchMode != LaunchChild && cfg.LaunchMode != LaunchInProcess {
		return fmt.Errorf("%w: unknown launch mode %q", ErrInvalidConfig, cfg.LaunchMode)
	}

	if cfg.RenderMode != "" {
		if _, err := ParseRenderMode(string(cfg.RenderMode)); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	if err := CheckLayout(cfg); err != nil {
		return err
	}

	if len(cfg.Channels) == 0 {
		return fmt.Errorf("%w: at least one channel must be configured", ErrInvalidConfig)
	}

	for name, channel := range cfg.Channels {
		if err := validateURL(channel.ManifestURL, cfg.AllowHTTP); err != nil {
			return fmt.Errorf("%w: channel %s manifest: %w", ErrInvalidConfig, name, err)
		}

		if err := validateURL(channel.SignatureURL, cfg.AllowHTTP); err != nil {
			return fmt.Errorf("%w: channel %s signature: %w", ErrInvalidConfig, name, err)
		}
	}

	return nil
}

// CheckLayout rejects a cache directory that is, or contains, any of the
// protected paths, the log directory, the trust anchor or the env file.
// Everything in the cache directory that the manifest does not list is deleted.
func CheckLayout(cfg *Config, protected ...string) error {
	cache, err := filepath.Abs(cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("%w: cache directory: %w", ErrInvalidConfig, err)
	}

	protected = append(protected, cfg.LogDir, cfg.TrustAnchor, cfg.EnvFile)

	for _, path := range protected {
		if path == "" {
			continue
		}

		target, absErr := filepath.Abs(path)
		if absErr != nil {
			continue
		}

		rel, relErr := filepath.Rel(cache, target)
		if relErr != nil {
			continue
		}

		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("%w: %w: %s holds %s", ErrInvalidConfig, ErrCacheOverlap, cfg.CacheDir, path)
		}
	}

	return nil
}

// ChannelName returns the channel selected by the Staging flag.
func (c *Config) ChannelName() string {
	if c.Staging {
		return ChannelStaging
	}

	return ChannelProduction
}

// SelectedChannel returns the locations of the channel selected by the Staging flag.
func (c *Config) SelectedChannel() (Channel, error) {
	name := c.ChannelName()

	channel, ok := c.Channels[name]
	if !ok {
		return Channel{}, fmt.Errorf("%s: %w", name, errUnknownChannel)
	}

	return channel, nil
}

func validateURL(raw string, allowHTTP bool) error {
	parsed, err := url.ParseRequestURI(raw)
	if err != nil {
		return err
	}

	return CheckScheme(parsed, allowHTTP)
}

// CheckScheme accepts https URLs, and http ones only when allowHTTP is set.
func CheckScheme(u *url.URL, allowHTTP bool) error {
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if allowHTTP {
			return nil
		}

		return fmt.Errorf("%s: plain http requires allow_http: %w", u.Redacted(), ErrSchemeNotAllowed)
	default:
		return fmt.Errorf("%s: %w", u.Redacted(), ErrSchemeNotAllowed)
	}
}
