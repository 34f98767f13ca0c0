package launch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/oshokin/client-launcher/internal/domain/failure"
	"github.com/oshokin/client-launcher/internal/logger"
)

var (
	// errNoExecutable is returned when neither a runtime nor an executable artifact is known.
	errNoExecutable = errors.New("manifest names no runtime and no executable artifact")
	// errExecutableNotVerified is returned when the executable is not among the verified artifacts.
	errExecutableNotVerified = errors.New("executable is not a verified artifact")
)

// ChildProcess runs the client as a new process.
type ChildProcess struct {
	// Runtime overrides the manifest runtime.
	Runtime string
	// Wait blocks until the child exits.
	Wait bool

	// Stdin, Stdout and Stderr default to the launcher's own streams.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Environ returns the base environment, os.Environ by default.
	Environ func() []string
}

// Name implements Strategy.
func (c *ChildProcess) Name() string {
	return "child-process"
}

// Command builds the child command for plan. With a runtime the argument
// vector is: classpath flag, joined artifact paths, runtime params, manifest
// runtime args, entry point, client args. Without one the executable artifact
// is run with runtime params followed by client args.
func (c *ChildProcess) Command(ctx context.Context, plan *Plan) (*exec.Cmd, error) {
	program, args, err := c.argv(plan)
	if err != nil {
		return nil, failure.Launch("build command", err)
	}

	var cmd *exec.Cmd
	if c.Wait {
		cmd = exec.CommandContext(ctx, program, args...)
	} else {
		// A detached child must outlive the launcher's context.
		cmd = exec.Command(program, args...) //nolint:noctx // See above.
	}

	environ := c.Environ
	if environ == nil {
		environ = os.Environ
	}

	cmd.Env = append(environ(), plan.Env...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr

	if c.Stdin != nil {
		cmd.Stdin = c.Stdin
	}

	if c.Stdout != nil {
		cmd.Stdout = c.Stdout
	}

	if c.Stderr != nil {
		cmd.Stderr = c.Stderr
	}

	if len(plan.Artifacts) > 0 {
		cmd.Dir = filepath.Dir(plan.Artifacts[0])
	}

	return cmd, nil
}

// Launch implements Strategy.
func (c *ChildProcess) Launch(ctx context.Context, plan *Plan) error {
	cmd, err := c.Command(ctx, plan)
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Starting client process", "program", cmd.Path, "args", len(cmd.Args)-1)
	logger.DebugKV(ctx, "Client command line", "argv", strings.Join(cmd.Args, " "))

	if err = cmd.Start(); err != nil {
		return failure.Launch("start client process", err)
	}

	if !c.Wait {
		logger.InfoKV(ctx, "Client process started", "pid", cmd.Process.Pid)

		if err = cmd.Process.Release(); err != nil {
			logger.WarnKV(ctx, "Unable to release client process", "error", err)
		}

		return nil
	}

	if err = cmd.Wait(); err != nil {
		return failure.Launch("wait for client process", err)
	}

	logger.Info(ctx, "Client process exited")

	return nil
}

func (c *ChildProcess) argv(plan *Plan) (string, []string, error) {
	runtime := c.Runtime
	if runtime == "" {
		runtime = plan.Spec.Runtime
	}

	if runtime != "" {
		args := make([]string, 0, 3+len(plan.RuntimeParams)+len(plan.Spec.RuntimeArgs)+len(plan.Args))
		if plan.Spec.ClasspathFlag != "" {
			args = append(args, plan.Spec.ClasspathFlag)
		}

		args = append(args, strings.Join(plan.Artifacts, string(os.PathListSeparator)))
		args = append(args, plan.RuntimeParams...)
		args = append(args, plan.Spec.RuntimeArgs...)

		if plan.Spec.EntryPoint != "" {
			args = append(args, plan.Spec.EntryPoint)
		}

		args = append(args, plan.Args...)

		return runtime, args, nil
	}

	if plan.Spec.Executable == "" {
		return "", nil, errNoExecutable
	}

	for _, path := range plan.Artifacts {
		if filepath.Base(path) == plan.Spec.Executable {
			args := append(append([]string{}, plan.RuntimeParams...), plan.Args...)
			return path, args, nil
		}
	}

	return "", nil, fmt.Errorf("%s: %w", plan.Spec.Executable, errExecutableNotVerified)
}
