package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/client-launcher/internal/service/packager"
	"github.com/oshokin/client-launcher/internal/version"
)

var (
	// options collects the flag values passed to the packager.
	options = &packager.Options{}

	// rootCmd represents the base command for preparing a signed release manifest.
	rootCmd = &cobra.Command{
		Use:   "client-packager [artifact-folder] [base-url]",
		Short: "Prepare a signed manifest for distribution",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options.Dir = args[0]
			options.BaseURL = args[1]

			_, err := packager.Run(ctx, options)

			return err
		},
	}
)

// Execute runs the client-packager CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	launch := &options.Launch

	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&options.KeyPath, "key", "k", "", "path to the publisher private key (PEM or armored OpenPGP)")
	rootCmd.Flags().StringVarP(&options.Output, "output", "o", packager.DefaultOutput, "manifest output path")
	rootCmd.Flags().StringVar(&options.AnchorPath, "anchor", "", "trust anchor used to check the new signature")
	rootCmd.Flags().StringVar(&options.Algorithm, "algorithm", "sha256", "hash algorithm: sha1, sha256 or sha512")
	rootCmd.Flags().StringVar(&launch.Runtime, "runtime", "", "runtime that loads the artifacts")
	rootCmd.Flags().StringVar(&launch.ClasspathFlag, "classpath-flag", "", "flag preceding the joined artifact paths")
	rootCmd.Flags().StringVar(&launch.EntryPoint, "entry-point", "", "entry point passed to the runtime")
	rootCmd.Flags().StringVar(&launch.Executable, "executable", "", "artifact executed directly when no runtime is set")
	rootCmd.Flags().StringVar(&launch.Symbol, "symbol", "", "exported symbol used by in-process launches")
	rootCmd.Flags().StringSliceVar(&launch.RuntimeArgs, "runtime-arg", nil, "extra runtime flag (repeatable)")

	_ = rootCmd.MarkFlagRequired("key")
}
