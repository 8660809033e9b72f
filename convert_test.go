package goslide

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageToArrayGraySubImage(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range gray.Pix {
		gray.Pix[i] = uint8(i)
	}
	sub := gray.SubImage(image.Rect(2, 3, 6, 5)).(*image.Gray)

	arr, err := ImageToArray(sub, 1)
	require.NoError(t, err)
	assert.Equal(t, [3]int{2, 4, 1}, arr.Shape())
	assert.Equal(t, uint8(3*8+2), arr.At(0, 0, 0))
	assert.Equal(t, uint8(4*8+5), arr.At(1, 3, 0))
}

func TestImageToArrayRGB(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	img.SetNRGBA(1, 1, color.NRGBA{R: 10, G: 20, B: 30, A: 40})

	rgb, err := ImageToArray(img, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint8{10, 20, 30}, rgb.Pixel(1, 1))

	rgba, err := ImageToArray(img, 4)
	require.NoError(t, err)
	assert.Equal(t, []uint8{10, 20, 30, 40}, rgba.Pixel(1, 1))

	_, err = ImageToArray(img, 2)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestBufferAsImageRoundTrip(t *testing.T) {
	arr := NewArray[uint8](4, 5, 3)
	for i := range arr.Pix {
		arr.Pix[i] = uint8(i * 3)
	}
	img, err := BufferAsImage(arr)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 5, 4), img.Bounds())

	buf, err := ImageAsBuffer(img)
	require.NoError(t, err)
	back, err := AsArray[uint8](buf)
	require.NoError(t, err)
	assert.Equal(t, arr.Pix, back.Pix)
}

func TestBufferAsImageStretchesFloat(t *testing.T) {
	arr := NewArray[float32](1, 3, 1)
	arr.Pix = []float32{-1, 0, 1}
	img, err := BufferAsImage(arr)
	require.NoError(t, err)
	gray := img.(*image.Gray16)
	assert.Equal(t, uint16(0), gray.Gray16At(0, 0).Y)
	assert.Equal(t, uint16(0xFFFF), gray.Gray16At(2, 0).Y)

	_, err = BufferAsImage(NewArray[float32](1, 1, 3))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
