package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/joho/godotenv"

	"github.com/oshokin/client-launcher/internal/version"
)

// LauncherVersionProperty carries the launcher version into the client runtime.
const LauncherVersionProperty = "client.launcher.version"

// Environment is the subset of process environment the launcher consults.
type Environment func(key string) (string, bool)

// ReadEnvFile returns an Environment looking keys up in lookup first and then
// in the dotenv file at path. A missing file is not an error.
func ReadEnvFile(path string, lookup Environment) (Environment, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	if path == "" {
		return lookup, nil
	}

	values, err := godotenv.Read(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return lookup, nil
		}

		return nil, fmt.Errorf("read env file: %w", err)
	}

	return func(key string) (string, bool) {
		if value, ok := lookup(key); ok {
			return value, true
		}

		value, ok := values[key]

		return value, ok
	}, nil
}

// ResolveClientArgs combines the client argument sources. The command line
// option wins over the configured value, which wins over the environment
// variable. Values are only split on whitespace.
func ResolveClientArgs(flagValue string, flagSet bool, cfg *Config, env Environment) []string {
	raw := ""

	if env != nil {
		if value, ok := env(cfg.ClientArgsEnv); ok {
			raw = value
		}
	}

	if cfg.ClientArgs != "" {
		raw = cfg.ClientArgs
	}

	if flagSet {
		raw = flagValue
	}

	args := strings.Fields(raw)
	if cfg.Debug {
		args = append(args, "--debug")
	}

	return args
}

// ExtraRuntimeParams returns the runtime flags derived from configuration:
// rendering backend, IPv4 preference and the launcher version property.
func ExtraRuntimeParams(cfg *Config, goos string) []string {
	mode := cfg.RenderMode
	if mode == "" {
		mode = DefaultRenderMode(goos)
	}

	params := mode.Params()
	params = append(params,
		"-Djava.net.preferIPv4Stack=true",
		"-Djava.net.preferIPv4Addresses=true",
		"-D"+LauncherVersionProperty+"="+version.Short(),
	)

	return params
}

// ClientEnvironment renders ClientEnv as sorted KEY=VALUE pairs.
func ClientEnvironment(cfg *Config) []string {
	keys := slices.Sorted(maps.Keys(cfg.ClientEnv))

	env := make([]string, 0, len(keys))
	for _, key := range keys {
		env = append(env, key+"="+cfg.ClientEnv[key])
	}

	return env
}

// InProcessRequested reports whether the environment asks for the in-process strategy.
func InProcessRequested(env Environment) bool {
	if env == nil {
		return false
	}

	value, ok := env(DefaultInProcessEnv)

	return ok && strings.EqualFold(strings.TrimSpace(value), "true")
}

// ResolveLaunchMode picks the launch strategy. The command line (flagMode,
// then inProcess) wins over the in-process environment variable, which wins
// over the configured launch_mode.
func ResolveLaunchMode(flagMode string, inProcess bool, cfg *Config, env Environment) LaunchMode {
	switch {
	case flagMode != "":
		return LaunchMode(flagMode)
	case inProcess:
		return LaunchInProcess
	case InProcessRequested(env):
		return LaunchInProcess
	default:
		return cfg.LaunchMode
	}
}
