package cmd

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/gracefulearth/goslide"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := NewRoot(context.Background(), "abc123")
	root.SetOut(&out)
	root.SetArgs(append(args, "--log-level", "warn"))
	require.NoError(t, root.Execute(), "slidectl %v", args)
	return out.String()
}

func writePNG(t *testing.T, path string, h, w int) *image.NRGBA {
	t.Helper()
	pic := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			pic.SetNRGBA(x, y, color.NRGBA{uint8(x), uint8(y), uint8(x ^ y), 0xFF})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, pic))
	require.NoError(t, f.Close())
	return pic
}

func TestConvertInfoRegion(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "picture.png")
	pic := writePNG(t, src, 700, 900)
	dst := filepath.Join(dir, "pyramid.tif")

	run(t, "convert", src, dst, "--tile-size", "128", "--compression", "zstd", "--spacing", "0.5,0.5")

	info := run(t, "info", dst)
	assert.Contains(t, info, "format:   tiff")
	assert.Contains(t, info, "samples:  3")
	assert.Contains(t, info, "level 0:  700x900")
	assert.Contains(t, info, "level 1:  350x450")
	assert.Contains(t, info, "spacing:  0.5 x 0.5")

	out := filepath.Join(dir, "region.png")
	run(t, "region", dst, "--y", "10", "--x", "20", "--height", "30", "--width", "40", "-o", out)
	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	region, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 30), region.Bounds())
	r, g, b, _ := region.At(5, 3).RGBA()
	want := pic.NRGBAAt(25, 13)
	assert.Equal(t, []uint32{uint32(want.R), uint32(want.G), uint32(want.B)}, []uint32{r >> 8, g >> 8, b >> 8})
}

func TestCodecsAndVersion(t *testing.T) {
	assert.Equal(t, "abc123\n", run(t, "version"))
	listing := run(t, "codecs")
	assert.Contains(t, listing, "openslide")
	assert.Contains(t, listing, "tiff       priority 0: .svs .tif .tiff")
}

func TestPictureCodec(t *testing.T) {
	src := filepath.Join(t.TempDir(), "picture.png")
	writePNG(t, src, 20, 30)
	img, err := openSource(src, 0)
	require.NoError(t, err)
	defer img.Close()
	assert.Equal(t, goslide.U8, img.DType())
	region, err := img.ReadRegion(0, 15, 25, 10, 10)
	require.NoError(t, err)
	arr := region.(*goslide.Array[uint8])
	assert.Equal(t, []uint8{29, 19, 29 ^ 19}, arr.Pixel(4, 4))
	assert.Equal(t, []uint8{0, 0, 0}, arr.Pixel(5, 5), "outside the picture")

	_, err = openSource(filepath.Join(t.TempDir(), "missing.png"), 0)
	assert.ErrorIs(t, err, goslide.ErrOpenFailure)
}
