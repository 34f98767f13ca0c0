package launch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/client-launcher/internal/config"
	"github.com/oshokin/client-launcher/internal/domain/failure"
	"github.com/oshokin/client-launcher/internal/domain/manifest"
)

const helperEnv = "CLIENT_LAUNCHER_WANT_HELPER_PROCESS"

// TestHelperProcess is not a real test; it is the child started by the
// ChildProcess tests.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}

	fmt.Fprint(os.Stdout, strings.Join(os.Args[1:], "\n"))

	if code := os.Getenv("HELPER_EXIT"); code != "" {
		os.Exit(3)
	}

	os.Exit(0)
}

func samplePlan(dir string) *Plan {
	return &Plan{
		Artifacts:     []string{filepath.Join(dir, "a.jar"), filepath.Join(dir, "b.jar")},
		Args:          []string{"--world", "301", "quoted arg"},
		RuntimeParams: []string{"-Dsun.java2d.opengl=true"},
		Env:           []string{"CLIENT_MODE=test"},
		Spec: manifest.Launch{
			Runtime:       "java",
			ClasspathFlag: "-cp",
			EntryPoint:    "net.client.Main",
			RuntimeArgs:   []string{"-Xmx512m"},
		},
	}
}

// TestChildProcess_RuntimeCommand checks the argument vector with a runtime.
func TestChildProcess_RuntimeCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	plan := samplePlan(dir)

	child := &ChildProcess{Environ: func() []string { return []string{"HOME=/home/user"} }}

	cmd, err := child.Command(context.Background(), plan)
	require.NoError(t, err)
	require.Equal(t, []string{
		"java",
		"-cp",
		plan.Artifacts[0] + string(os.PathListSeparator) + plan.Artifacts[1],
		"-Dsun.java2d.opengl=true",
		"-Xmx512m",
		"net.client.Main",
		"--world", "301", "quoted arg",
	}, cmd.Args)
	require.Equal(t, []string{"HOME=/home/user", "CLIENT_MODE=test"}, cmd.Env)
	require.Equal(t, dir, cmd.Dir)

	override := &ChildProcess{Runtime: "/opt/jre/bin/java"}
	cmd, err = override.Command(context.Background(), plan)
	require.NoError(t, err)
	require.Equal(t, "/opt/jre/bin/java", cmd.Args[0])
}

// TestChildProcess_ExecutableCommand runs the named verified artifact directly.
func TestChildProcess_ExecutableCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	plan := samplePlan(dir)
	plan.Spec = manifest.Launch{Executable: "b.jar"}

	cmd, err := (&ChildProcess{}).Command(context.Background(), plan)
	require.NoError(t, err)
	require.Equal(t, plan.Artifacts[1], cmd.Path)
	require.Equal(t, []string{plan.Artifacts[1], "-Dsun.java2d.opengl=true", "--world", "301", "quoted arg"}, cmd.Args)

	plan.Spec = manifest.Launch{Executable: "missing"}
	_, err = (&ChildProcess{}).Command(context.Background(), plan)
	require.ErrorIs(t, err, failure.ErrLaunch)
	require.ErrorIs(t, err, errExecutableNotVerified)

	plan.Spec = manifest.Launch{}
	_, err = (&ChildProcess{}).Command(context.Background(), plan)
	require.ErrorIs(t, err, errNoExecutable)
}

// TestChildProcess_PassesArgumentsVerbatim starts a real child and reads back its arguments.
func TestChildProcess_PassesArgumentsVerbatim(t *testing.T) {
	t.Parallel()

	plan := samplePlan(t.TempDir())
	plan.Artifacts = nil
	plan.Env = []string{helperEnv + "=1"}
	plan.Spec = manifest.Launch{Runtime: os.Args[0], ClasspathFlag: "-test.run=^TestHelperProcess$"}

	var stdout bytes.Buffer

	child := &ChildProcess{Wait: true, Stdout: &stdout}
	require.NoError(t, child.Launch(context.Background(), plan))

	lines := strings.Split(stdout.String(), "\n")
	require.Equal(t, []string{"--world", "301", "quoted arg"}, lines[len(lines)-3:])
}

// TestChildProcess_Failures reports spawn failures and non-zero exits as launch errors.
func TestChildProcess_Failures(t *testing.T) {
	t.Parallel()

	plan := samplePlan(t.TempDir())
	plan.Spec.Runtime = filepath.Join(t.TempDir(), "no-such-runtime")

	err := (&ChildProcess{}).Launch(context.Background(), plan)
	require.ErrorIs(t, err, failure.ErrLaunch)

	plan.Artifacts = nil
	plan.Env = []string{helperEnv + "=1", "HELPER_EXIT=3"}
	plan.Spec = manifest.Launch{Runtime: os.Args[0], ClasspathFlag: "-test.run=^TestHelperProcess$"}

	err = (&ChildProcess{Wait: true, Stdout: &bytes.Buffer{}}).Launch(context.Background(), plan)
	require.ErrorIs(t, err, failure.ErrLaunch)
}

// fakeLoader serves symbols from memory.
type fakeLoader struct {
	artifacts map[string]map[string]any
	opened    []string
}

type fakeSymbols map[string]any

func (s fakeSymbols) Lookup(name string) (any, error) {
	if sym, ok := s[name]; ok {
		return sym, nil
	}

	return nil, fmt.Errorf("symbol %s not found", name)
}

//nolint:ireturn // Test double.
func (l *fakeLoader) Open(path string) (Symbols, error) {
	l.opened = append(l.opened, path)

	symbols, ok := l.artifacts[path]
	if !ok {
		return nil, os.ErrNotExist
	}

	return fakeSymbols(symbols), nil
}

// TestInProcess_EntryPoints covers every accepted signature and the failure cases.
func TestInProcess_EntryPoints(t *testing.T) {
	t.Parallel()

	var got []string

	cases := map[string]struct {
		entry   any
		wantErr error
	}{
		"context":      {entry: func(_ context.Context, args []string) error { got = args; return nil }},
		"error":        {entry: func(args []string) error { got = args; return nil }},
		"plain":        {entry: func(args []string) { got = args }},
		"failing":      {entry: func([]string) error { return errors.New("boom") }, wantErr: failure.ErrLaunch},
		"panicking":    {entry: func([]string) { panic("bad client") }, wantErr: errEntryPanicked},
		"wrong type":   {entry: 42, wantErr: errBadEntryPoint},
		"wrong params": {entry: func(int) {}, wantErr: errBadEntryPoint},
	}

	for name, tc := range cases {
		got = nil

		loader := &fakeLoader{artifacts: map[string]map[string]any{
			"/cache/lib.so":    {},
			"/cache/client.so": {DefaultSymbol: tc.entry},
		}}
		plan := &Plan{Artifacts: []string{"/cache/lib.so", "/cache/client.so"}, Args: []string{"--x"}}

		err := (&InProcess{Loader: loader}).Launch(context.Background(), plan)
		if tc.wantErr != nil {
			require.ErrorIs(t, err, tc.wantErr, name)
			require.ErrorIs(t, err, failure.ErrLaunch, name)

			continue
		}

		require.NoError(t, err, name)
		require.Equal(t, []string{"--x"}, got, name)
		require.Equal(t, plan.Artifacts, loader.opened, name)
	}
}

// TestInProcess_ResolutionFailures covers load errors, missing symbols and custom symbols.
func TestInProcess_ResolutionFailures(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{artifacts: map[string]map[string]any{
		"/cache/a.so": {"Start": func([]string) {}},
	}}

	err := (&InProcess{Loader: loader}).Launch(context.Background(), &Plan{Artifacts: []string{"/cache/missing.so"}})
	require.ErrorIs(t, err, failure.ErrLaunch)
	require.ErrorIs(t, err, os.ErrNotExist)

	err = (&InProcess{Loader: loader}).Launch(context.Background(), &Plan{Artifacts: []string{"/cache/a.so"}})
	require.ErrorIs(t, err, errNoEntryPoint)

	plan := &Plan{Artifacts: []string{"/cache/a.so"}, Spec: manifest.Launch{Symbol: "Start"}}
	require.NoError(t, (&InProcess{Loader: loader}).Launch(context.Background(), plan))
}

// TestInProcess_AppliesEnvironment exports the plan environment before calling the entry point.
func TestInProcess_AppliesEnvironment(t *testing.T) {
	t.Parallel()

	const key = "CLIENT_LAUNCHER_TEST_IN_PROCESS_ENV"

	t.Cleanup(func() { _ = os.Unsetenv(key) })

	var seen string

	loader := &fakeLoader{artifacts: map[string]map[string]any{
		"/cache/a.so": {DefaultSymbol: func([]string) { seen = os.Getenv(key) }},
	}}

	plan := &Plan{Artifacts: []string{"/cache/a.so"}, Env: []string{key + "=on"}}
	require.NoError(t, (&InProcess{Loader: loader}).Launch(context.Background(), plan))
	require.Equal(t, "on", seen)

	plan.Env = []string{"broken"}
	require.ErrorIs(t, (&InProcess{Loader: loader}).Launch(context.Background(), plan), errBadEnv)
}

// TestSelect maps launch modes to strategies.
func TestSelect(t *testing.T) {
	t.Parallel()

	strategy, err := Select(&config.Config{LaunchMode: config.LaunchInProcess})
	require.NoError(t, err)
	require.IsType(t, &InProcess{}, strategy)

	strategy, err = Select(&config.Config{LaunchMode: config.LaunchChild, Runtime: "java", Debug: true})
	require.NoError(t, err)
	require.Equal(t, &ChildProcess{Runtime: "java", Wait: true}, strategy)

	_, err = Select(&config.Config{LaunchMode: "remote"})
	require.ErrorIs(t, err, ErrUnknownMode)
}
