package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/gracefulearth/goslide"
	"github.com/gracefulearth/goslide/internal/logging"
	"github.com/gracefulearth/goslide/openslide"
	"github.com/gracefulearth/goslide/tiff"
	"github.com/spf13/cobra"
)

var registerOnce sync.Once

// registerCodecs adds the vendor and TIFF codecs to the default registry, logging through
// the configured default logger.
func registerCodecs(ctx context.Context) {
	registerOnce.Do(func() {
		if err := openslide.Register(goslide.DefaultRegistry, openslide.WithLogger(slog.Default())); err != nil {
			slog.WarnContext(ctx, "openslide codec unavailable", "error", err)
		}
		if err := tiff.Register(goslide.DefaultRegistry, tiff.WithLogger(slog.Default())); err != nil {
			slog.WarnContext(ctx, "tiff codec unavailable", "error", err)
		}
	})
}

func NewRoot(ctx context.Context, gitsha string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "slidectl",
		Short:         "inspect, export and convert whole-slide images",
		Long:          "slidectl reads regions of tiled pyramid images (TIFF, Aperio SVS and, when built with openslide, vendor slides) and writes new pyramids.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logLevel, _ := cmd.Flags().GetString("log-level")
			logJSON, _ := cmd.Flags().GetBool("log-json")
			logFile, _ := cmd.Flags().GetString("log-file")

			var level slog.Level
			levelErr := level.UnmarshalText([]byte(strings.ToUpper(logLevel)))
			if levelErr != nil {
				level = slog.LevelInfo
			}
			var out io.Writer = os.Stderr
			if logFile != "" {
				out = logging.FileWriter(logFile)
			}
			slog.SetDefault(logging.Logger(out, logJSON, level))
			if levelErr != nil {
				slog.WarnContext(ctx, "Invalid log level, defaulting to INFO", "level", logLevel, "error", levelErr)
			}
			registerCodecs(ctx)
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			printCommandTree(cmd, 0)
		},
	}
	cmd.AddCommand(
		NewVersionCmd(ctx, gitsha),
		NewInfoCmd(ctx),
		NewRegionCmd(ctx),
		NewConvertCmd(ctx),
		NewCodecsCmd(ctx),
	)
	pf := cmd.PersistentFlags()
	pf.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	pf.Bool("log-json", false, "log as JSON instead of text")
	pf.String("log-file", "", "write logs to this rotating file instead of stderr")
	return cmd
}

func printCommandTree(cmd *cobra.Command, indent int) {
	fmt.Println(strings.Repeat("\t", indent), cmd.Use+":", cmd.Short)
	for _, subCmd := range cmd.Commands() {
		printCommandTree(subCmd, indent+1)
	}
}

func NewVersionCmd(ctx context.Context, gitsha string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "git sha for this build",
		Long:  "git sha for this build",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), gitsha)
		},
	}
	return cmd
}
