// Package commands implements the spiffsgen command line.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/fatih/color"
	"github.com/maxdollinger/spiffsgen/internal/builder"
	"github.com/maxdollinger/spiffsgen/internal/report"
	"github.com/maxdollinger/spiffsgen/pkg/fs"
	"github.com/maxdollinger/spiffsgen/pkg/lock"
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
)

// Execute runs the command line with os.Args.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "spiffsgen [flags] <image_size> <base_dir> <output_file>",
		Short: "Build a SPIFFS image from a directory",
		Long: `spiffsgen packs the files below base_dir into a SPIFFS filesystem image
of image_size bytes that can be flashed to a device and mounted as is.

image_size accepts decimal, 0x prefixed hex and 0o prefixed octal values.
Every flag can also be set through a SPIFFSGEN_<FLAG> environment variable
or a YAML file passed with --config.`,
		Version:       fmt.Sprintf("%s (%s)", Version, Commit),
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, args, func(s *Settings) (fs.Source, error) {
				return fs.NewDirSource(args[1], s.FollowSymlinks), nil
			})
		},
	}

	addSettingsFlags(rootCmd)
	rootCmd.AddCommand(newImageCmd())
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	return rootCmd
}

type sourceFactory func(s *Settings) (fs.Source, error)

func runBuild(cmd *cobra.Command, args []string, newSource sourceFactory) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cmd.ErrOrStderr(), settings.LogLevel, settings.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	size, err := parseImageSize(args[0])
	if err != nil {
		return err
	}

	src, err := newSource(settings)
	if err != nil {
		return err
	}

	result, err := builder.NewBuilder(lock.NewFileLocker()).Build(cmd.Context(), src, builder.BuildOptions{
		ImageSize:  size,
		Geometry:   settings.Options(),
		OutputPath: args[2],
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if settings.Report {
		report.PrintBlocks(out, result.Blocks)
	}
	printSummary(out, result)
	return nil
}

func printSummary(w io.Writer, result *builder.BuildResult) {
	ok := color.New(color.FgGreen, color.Bold)
	dim := color.New(color.FgHiBlack)

	ok.Fprintf(w, "wrote %s", result.OutputPath)
	fmt.Fprintf(w, ": %d files, %d/%d blocks, %d bytes ", result.Files, result.BlocksUsed, result.BlocksLimit, result.SizeBytes)
	dim.Fprintln(w, result.Digest.String())
}
