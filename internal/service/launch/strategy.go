package launch

import (
	"context"
	"errors"
	"fmt"

	"github.com/oshokin/client-launcher/internal/config"
	"github.com/oshokin/client-launcher/internal/domain/manifest"
)

// Plan is everything a strategy needs to start the client.
type Plan struct {
	// Artifacts are absolute paths of the verified artifacts, in manifest order.
	Artifacts []string
	// Args are the client arguments, passed through verbatim.
	Args []string
	// RuntimeParams are launcher-derived runtime flags.
	RuntimeParams []string
	// Env holds extra KEY=VALUE pairs for the client.
	Env []string
	// Spec holds the publisher's launch parameters.
	Spec manifest.Launch
}

// Strategy starts a Plan.
type Strategy interface {
	// Name identifies the strategy in logs.
	Name() string
	// Launch starts the client described by plan.
	Launch(ctx context.Context, plan *Plan) error
}

// ErrUnknownMode is returned by Select for unsupported launch modes.
var ErrUnknownMode = errors.New("unknown launch mode")

// Select returns the strategy for the configured launch mode.
// A child process is awaited only in debug mode.
//
//nolint:ireturn // Callers only need the Strategy behaviour.
func Select(cfg *config.Config) (Strategy, error) {
	switch cfg.LaunchMode {
	case config.LaunchInProcess:
		return &InProcess{Loader: PluginLoader{}}, nil
	case config.LaunchChild, "":
		return &ChildProcess{Runtime: cfg.Runtime, Wait: cfg.Debug}, nil
	default:
		return nil, fmt.Errorf("%q: %w", cfg.LaunchMode, ErrUnknownMode)
	}
}
