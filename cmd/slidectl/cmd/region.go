package cmd

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gracefulearth/goslide"
	"github.com/gracefulearth/image/bmp"
	imgtiff "github.com/gracefulearth/image/tiff"
	"github.com/spf13/cobra"
)

// NewRegionCmd reads one region of a slide and saves it as a picture.
func NewRegionCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "region <path>",
		Short: "read a region of a slide level and save it as png, bmp or tiff",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetInt("level")
			y, _ := cmd.Flags().GetInt("y")
			x, _ := cmd.Flags().GetInt("x")
			height, _ := cmd.Flags().GetInt("height")
			width, _ := cmd.Flags().GetInt("width")
			outPath, _ := cmd.Flags().GetString("out")
			if outPath == "" {
				return fmt.Errorf("output path is required. Use --out")
			}

			img, err := goslide.Open(args[0])
			if err != nil {
				return err
			}
			defer img.Close()
			region, err := img.ReadRegion(goslide.Level(level), y, x, height, width)
			if err != nil {
				return err
			}
			slog.InfoContext(ctx, "read region", "path", args[0], "level", level, "y", y, "x", x, "shape", region.Shape())
			return savePicture(outPath, region)
		},
	}
	pf := cmd.PersistentFlags()
	pf.IntP("level", "l", 0, "pyramid level, 0 is full resolution")
	pf.Int("y", 0, "top edge of the region in level pixels")
	pf.Int("x", 0, "left edge of the region in level pixels")
	pf.Int("height", 512, "region height in level pixels")
	pf.Int("width", 512, "region width in level pixels")
	pf.StringP("out", "o", "", "output picture (.png, .bmp, .tif)")
	return cmd
}

func savePicture(path string, buf goslide.Buffer) (err error) {
	pic, err := goslide.BufferAsImage(buf)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return png.Encode(f, pic)
	case ".bmp":
		return bmp.Encode(f, pic)
	case ".tif", ".tiff":
		return imgtiff.Encode(f, pic, nil)
	default:
		return fmt.Errorf("%w: cannot save %s", goslide.ErrUnsupportedExtension, path)
	}
}
