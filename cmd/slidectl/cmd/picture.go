package cmd

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/gracefulearth/goslide"
	"github.com/gracefulearth/image/bmp"
	imgtiff "github.com/gracefulearth/image/tiff"
)

// pictureCodec serves an ordinary decoded picture as a single level image with one tile.
type pictureCodec struct {
	buf  goslide.Buffer
	info goslide.LevelInfo
}

func newPictureCodec(img image.Image) (*pictureCodec, error) {
	buf, err := goslide.ImageAsBuffer(img)
	if err != nil {
		return nil, err
	}
	return &pictureCodec{buf: buf, info: goslide.LevelInfo{Shape: buf.Shape(), TileShape: buf.Shape()}}, nil
}

func (c *pictureCodec) DType() goslide.DType   { return c.buf.DType() }
func (c *pictureCodec) Samples() int           { return c.info.Samples() }
func (c *pictureCodec) Levels() goslide.Levels { return goslide.Levels{c.info} }
func (c *pictureCodec) Close() error           { return nil }

func (c *pictureCodec) Read(box goslide.Box) (goslide.Buffer, error) {
	return goslide.ReadTiled(box, c.info, c.buf.DType(), func(row, col int) (goslide.Buffer, error) {
		return c.buf, nil
	})
}

// isPicture reports whether path names a format decoded whole rather than through a codec.
func isPicture(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".bmp":
		return true
	}
	return false
}

func decodePicture(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, goslide.OpenError{Path: path, Err: err}
	}
	defer f.Close()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return png.Decode(f)
	case ".jpg", ".jpeg":
		return jpeg.Decode(f)
	case ".bmp":
		return bmp.Decode(f)
	case ".tif", ".tiff":
		return imgtiff.Decode(f)
	default:
		return nil, fmt.Errorf("%w: %s", goslide.ErrUnsupportedExtension, path)
	}
}

// openPicture decodes path and wraps it as an image.
func openPicture(path string) (*goslide.Image, error) {
	pic, err := decodePicture(path)
	if err != nil {
		return nil, err
	}
	codec, err := newPictureCodec(pic)
	if err != nil {
		return nil, err
	}
	return goslide.NewImage(path, codec, nil), nil
}
