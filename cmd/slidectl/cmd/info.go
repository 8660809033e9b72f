package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gracefulearth/goslide"
	"github.com/gracefulearth/goslide/openslide"
	"github.com/gracefulearth/goslide/tiff"
	"github.com/spf13/cobra"
)

// NewInfoCmd prints the level table of a slide.
func NewInfoCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <path>",
		Short: "print the format, pixel type and pyramid levels of a slide",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := goslide.Open(args[0])
			if err != nil {
				return err
			}
			defer img.Close()
			slog.DebugContext(ctx, "describing slide", "path", args[0])

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "path:     %s\n", img.Path())
			switch c := img.Codec().(type) {
			case *tiff.Codec:
				fmt.Fprintf(out, "format:   tiff\n")
				if desc := c.Description(); desc != "" {
					fmt.Fprintf(out, "desc:     %s\n", strings.ReplaceAll(desc, "\n", " "))
				}
			case *openslide.Codec:
				fmt.Fprintf(out, "format:   openslide (%s)\n", c.Vendor())
			}
			fmt.Fprintf(out, "dtype:    %s\n", img.DType())
			fmt.Fprintf(out, "samples:  %d\n", img.Samples())
			if sp := img.Spacing(); sp != nil {
				fmt.Fprintf(out, "spacing:  %g x %g um/pixel\n", sp[0], sp[1])
			}
			levels := img.Levels()
			for i, info := range levels {
				fmt.Fprintf(out, "level %d:  %dx%d, tiles %dx%d (%d), scale %d\n", i,
					info.Height(), info.Width(), info.TileShape[0], info.TileShape[1], info.Tiles(),
					levels.Scale(goslide.Level(i)))
			}
			return nil
		},
	}
	return cmd
}
