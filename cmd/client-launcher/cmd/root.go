package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/client-launcher/internal/config"
	"github.com/oshokin/client-launcher/internal/domain/failure"
	"github.com/oshokin/client-launcher/internal/logger"
	"github.com/oshokin/client-launcher/internal/repository/record"
	"github.com/oshokin/client-launcher/internal/service/launcher"
	"github.com/oshokin/client-launcher/internal/service/progress"
	"github.com/oshokin/client-launcher/internal/version"
)

const (
	// logFilename is the launcher log written under log_dir.
	logFilename = "launcher.log"
	// recordFilename is the last successful launch, kept under the launcher root.
	recordFilename = "last-launch.yaml"
)

var (
	// configPath to the configuration YAML file; defaults to the file under the launcher root.
	configPath string
	// staging selects the staging channel.
	staging bool
	// debug enables verbose logging and appends --debug to the client arguments.
	debug bool
	// clientArgs overrides the configured client arguments.
	clientArgs string
	// inProcess selects the in-process launch strategy.
	inProcess bool
	// launchMode overrides launch_mode from the configuration.
	launchMode string
	// logLevel is the minimum level of launcher logs.
	logLevel string

	// errUnknownLogLevel is returned for unsupported --log-level values.
	errUnknownLogLevel = errors.New("unknown log level")
	// errConfigExists is returned by init when the settings file is already present.
	errConfigExists = errors.New("configuration file already exists")

	// rootCmd represents the base command for updating and starting the client.
	rootCmd = &cobra.Command{
		Use:           "client-launcher",
		Short:         "Update the client from the signed manifest and start it",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return run(ctx, cmd)
		},
	}

	// initCmd writes the built-in configuration so it can be edited.
	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, path, err := resolvePaths()
			if err != nil {
				return err
			}

			if _, err = os.Stat(path); err == nil {
				return fmt.Errorf("%w: %s", errConfigExists, path)
			}

			if err = os.MkdirAll(filepath.Dir(path), config.DefaultDirPermissions); err != nil {
				return fmt.Errorf("create configuration directory: %w", err)
			}

			if err = config.Save(path, config.Default(root)); err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "configuration written to", path)

			return nil
		},
	}
)

// Execute runs the client-launcher CLI and exits with the status of the failed stage.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)
	rootCmd.AddCommand(initCmd)

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(failure.ExitCode(err))
	}
}

func run(ctx context.Context, cmd *cobra.Command) error {
	level, ok := logger.ParseLogLevel(logLevel)
	if !ok {
		return fmt.Errorf("%w: %q", errUnknownLogLevel, logLevel)
	}

	logger.SetLevel(level)

	cfg, root, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if cfg.LogDir != "" {
		closeLog, logErr := attachLogFile(cfg.LogDir)
		if logErr != nil {
			return logErr
		}

		defer closeLog()
	}

	ctx = logger.WithName(ctx, version.ClientName)
	logger.InfoKV(ctx, "Starting", "version", version.Short(), "channel", cfg.ChannelName())

	env, err := config.ReadEnvFile(cfg.EnvFile, nil)
	if err != nil {
		return err
	}

	cfg.LaunchMode = config.ResolveLaunchMode(launchMode, inProcess, cfg, env)
	if err = config.Validate(cfg); err != nil {
		return err
	}

	sink := progress.Async(progress.NewLogSink(ctx), progress.DefaultBuffer)
	defer sink.Close()

	_, err = launcher.Run(ctx, &launcher.Options{
		Config:     cfg,
		Sink:       sink,
		Records:    record.NewFileRepository(filepath.Join(root, recordFilename)),
		ClientArgs: config.ResolveClientArgs(clientArgs, cmd.Flags().Changed("clientargs"), cfg, env),
	})

	return err
}

// loadConfig reads the settings file and applies the channel and debug flags.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	root, path, err := resolvePaths()
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(path, root, !cmd.Flags().Changed("config"))
	if err != nil {
		return nil, "", err
	}

	cfg.Staging = staging
	cfg.Debug = debug

	return cfg, root, nil
}

func resolvePaths() (string, string, error) {
	root, err := config.DefaultRoot()
	if err != nil {
		return "", "", err
	}

	path := configPath
	if path == "" {
		path = filepath.Join(root, config.DefaultConfigFilename)
	}

	return root, path, nil
}

// attachLogFile replaces the global logger with one that also writes to log_dir.
func attachLogFile(dir string) (func(), error) {
	if err := os.MkdirAll(dir, config.DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	l, closeFile, err := logger.NewWithFile(nil, filepath.Join(dir, logFilename))
	if err != nil {
		return nil, err
	}

	logger.SetLogger(l)

	return func() {
		_ = l.Sync()

		closeFile()
	}, nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file (default: "+
		filepath.Join("~", config.DefaultRootDirname, config.DefaultConfigFilename)+")")
	rootCmd.Flags().BoolVar(&staging, "staging", false, "use the staging channel")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging and pass --debug to the client")
	rootCmd.Flags().StringVar(&clientArgs, "clientargs", "", "arguments passed to the client, split on whitespace")
	rootCmd.Flags().BoolVar(&inProcess, "in-process", false, "load the client into the launcher process")
	rootCmd.Flags().StringVar(&launchMode, "mode", "", "launch strategy: child or in-process")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "minimum log level")
}
