package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gracefulearth/goslide"
	"github.com/gracefulearth/goslide/pyramid"
	"github.com/gracefulearth/goslide/tiff"
	"github.com/spf13/cobra"
)

// NewConvertCmd writes a slide or picture as a new TIFF pyramid.
func NewConvertCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <src> <dst.tif>",
		Short: "write a slide or picture as a tiled TIFF pyramid",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tileSize, _ := cmd.Flags().GetInt("tile-size")
			compName, _ := cmd.Flags().GetString("compression")
			quality, _ := cmd.Flags().GetInt("quality")
			interpName, _ := cmd.Flags().GetString("interpolation")
			spacing, _ := cmd.Flags().GetFloat64Slice("spacing")
			cache, _ := cmd.Flags().GetInt("cache")

			comp, err := tiff.ParseCompression(compName)
			if err != nil {
				return err
			}
			interp, err := pyramid.ParseInterpolation(interpName)
			if err != nil {
				return err
			}

			src, err := openSource(args[0], cache)
			if err != nil {
				return err
			}
			defer src.Close()

			w, err := pyramid.Create(args[1], pyramid.WithLogger(slog.Default()))
			if err != nil {
				return err
			}
			defer w.Close()
			setters := []error{
				w.SetTileSize(tileSize),
				w.SetCompression(comp),
				w.SetQuality(quality),
				w.SetInterpolation(interp),
			}
			if len(spacing) > 0 {
				setters = append(setters, w.SetSpacing(spacing))
			}
			if err := errors.Join(setters...); err != nil {
				return err
			}
			slog.InfoContext(ctx, "converting", "src", args[0], "dst", args[1], "tile", tileSize, "compression", comp)
			return w.WriteImage(src)
		},
	}
	pf := cmd.PersistentFlags()
	pf.Int("tile-size", pyramid.DefaultTileSize, "tile edge in pixels, a multiple of 16")
	pf.String("compression", "lzw", "tile compression (none, lzw, deflate, zstd, jpeg, jpeg2000)")
	pf.Int("quality", pyramid.DefaultQuality, "jpeg quality or jpeg2000 rate (1-100)")
	pf.String("interpolation", "linear", "downsampling (linear, nearest)")
	pf.Float64Slice("spacing", nil, "override the pixel spacing as y,x micrometres per pixel")
	pf.Int("cache", 64<<20, "tile cache of the source slide in bytes")
	return cmd
}

// openSource opens path through the registered codecs, decoding pictures and untiled TIFF
// files whole instead.
func openSource(path string, cache int) (*goslide.Image, error) {
	if isPicture(path) {
		return openPicture(path)
	}
	img, err := goslide.Open(path, goslide.WithCacheCapacity(cache))
	if errors.Is(err, goslide.ErrUnsupportedFormat) {
		slog.Debug("no codec for the file, decoding it whole", "path", path, "error", err)
		return openPicture(path)
	}
	return img, err
}
