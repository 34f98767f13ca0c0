package launch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"plugin"
	"strings"

	"github.com/oshokin/client-launcher/internal/domain/failure"
	"github.com/oshokin/client-launcher/internal/logger"
)

// DefaultSymbol is the entry point looked up when the manifest names none.
const DefaultSymbol = "Main"

var (
	// errNoEntryPoint is returned when no artifact exports the entry symbol.
	errNoEntryPoint = errors.New("no artifact exports the entry point")
	// errBadEntryPoint is returned when the entry symbol has an unsupported type.
	errBadEntryPoint = errors.New("unsupported entry point signature")
	// errEntryPanicked is returned when the entry point panics.
	errEntryPanicked = errors.New("entry point panicked")
	// errBadEnv is returned for environment entries without "=".
	errBadEnv = errors.New("malformed environment entry")
)

// Symbols resolves exported names of a loaded artifact.
type Symbols interface {
	Lookup(name string) (any, error)
}

// Loader loads one artifact into the current process.
type Loader interface {
	Open(path string) (Symbols, error)
}

// PluginLoader loads artifacts built with -buildmode=plugin.
type PluginLoader struct{}

// Open implements Loader.
//
//nolint:ireturn // Symbols hides *plugin.Plugin from tests.
func (PluginLoader) Open(path string) (Symbols, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}

	return pluginSymbols{plugin: p}, nil
}

type pluginSymbols struct {
	plugin *plugin.Plugin
}

func (s pluginSymbols) Lookup(name string) (any, error) {
	return s.plugin.Lookup(name)
}

// InProcess runs the client inside the launcher process.
type InProcess struct {
	// Loader opens artifacts; PluginLoader when nil.
	Loader Loader
}

// Name implements Strategy.
func (s *InProcess) Name() string {
	return "in-process"
}

// Launch loads every artifact in order, then calls the entry symbol of the
// first artifact that exports it with the client arguments. Runtime params
// only apply to child runtimes and are ignored here.
func (s *InProcess) Launch(ctx context.Context, plan *Plan) error {
	loader := s.Loader
	if loader == nil {
		loader = PluginLoader{}
	}

	symbol := plan.Spec.Symbol
	if symbol == "" {
		symbol = DefaultSymbol
	}

	if err := applyEnv(plan.Env); err != nil {
		return failure.Launch("apply client environment", err)
	}

	var entry any

	for _, path := range plan.Artifacts {
		symbols, err := loader.Open(path)
		if err != nil {
			return failure.Launch("load artifact", fmt.Errorf("%s: %w", path, err))
		}

		if entry != nil {
			continue
		}

		if found, lookupErr := symbols.Lookup(symbol); lookupErr == nil {
			logger.DebugKV(ctx, "Entry point found", "artifact", path, "symbol", symbol)

			entry = found
		}
	}

	if entry == nil {
		return failure.Launch("resolve entry point", fmt.Errorf("%s: %w", symbol, errNoEntryPoint))
	}

	if len(plan.RuntimeParams) > 0 {
		logger.DebugKV(ctx, "Runtime params are not used in-process", "params", strings.Join(plan.RuntimeParams, " "))
	}

	logger.InfoKV(ctx, "Running client in-process", "symbol", symbol, "args", len(plan.Args))

	if err := invoke(ctx, entry, plan.Args); err != nil {
		return failure.Launch("run entry point", err)
	}

	return nil
}

func invoke(ctx context.Context, entry any, args []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errEntryPanicked, r)
		}
	}()

	switch fn := entry.(type) {
	case func(context.Context, []string) error:
		return fn(ctx, args)
	case func([]string) error:
		return fn(args)
	case func([]string):
		fn(args)
		return nil
	default:
		return fmt.Errorf("%T: %w", entry, errBadEntryPoint)
	}
}

func applyEnv(env []string) error {
	for _, pair := range env {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return fmt.Errorf("%q: %w", pair, errBadEnv)
		}

		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}

	return nil
}
