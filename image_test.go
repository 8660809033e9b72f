package goslide

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemoryImage(t *testing.T, codec *memoryCodec, opts ...Option) *Image {
	t.Helper()
	reg := NewRegistry()
	var calls atomic.Int32
	require.NoError(t, reg.Register(countingDescriptor("mem", 0, []string{".mem"}, &calls, func() (Codec, error) {
		return codec, nil
	})))
	img, err := Open("slide.mem", append([]Option{WithRegistry(reg), WithLogger(slog.New(slog.DiscardHandler))}, opts...)...)
	require.NoError(t, err)
	return img
}

func TestImageAccessors(t *testing.T) {
	codec := newMemoryCodec(30, 40, 3)
	codec.spacing = []float64{0.25, 0.25}
	img := openMemoryImage(t, codec, WithCacheCapacity(4096))
	defer img.Close()

	assert.Equal(t, "slide.mem", img.Path())
	assert.Equal(t, U8, img.DType())
	assert.Equal(t, 3, img.Samples())
	assert.Equal(t, []int{1}, img.Scales())
	assert.Equal(t, []float64{0.25, 0.25}, img.Spacing())
	assert.Equal(t, 4096, codec.cache)

	shape, err := img.Shape(0)
	require.NoError(t, err)
	assert.Equal(t, [3]int{30, 40, 3}, shape)

	level, scale := img.LevelFor(1)
	assert.Equal(t, Level(0), level)
	assert.Equal(t, 1, scale)
}

func TestImageReadRegion(t *testing.T) {
	codec := newMemoryCodec(30, 40, 1)
	img := openMemoryImage(t, codec)
	defer img.Close()

	buf, err := img.ReadRegion(0, 5, 6, 10, 12)
	require.NoError(t, err)
	assert.Equal(t, [3]int{10, 12, 1}, buf.Shape())
	arr, err := AsArray[uint8](buf)
	require.NoError(t, err)
	assert.Equal(t, codec.pixels.At(5, 6, 0), arr.At(0, 0, 0))
	assert.Equal(t, codec.pixels.At(14, 17, 0), arr.At(9, 11, 0))
}

func TestImageReadValidation(t *testing.T) {
	img := openMemoryImage(t, newMemoryCodec(8, 8, 1))

	_, err := img.Read(NewBox(0, 0, 4, 4, 1))
	assert.True(t, errors.Is(err, ErrLevelOutOfRange))

	_, err = img.Read(NewBox(4, 4, 0, 0, 0))
	assert.True(t, errors.Is(err, ErrInvalidBox))

	require.NoError(t, img.Close())
	_, err = img.Read(NewBox(0, 0, 4, 4, 0))
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestImageCloseOnce(t *testing.T) {
	codec := newMemoryCodec(8, 8, 1)
	img := openMemoryImage(t, codec)
	require.NoError(t, img.Close())
	require.NoError(t, img.Close())
	assert.Equal(t, int32(1), codec.closed.Load())
}

func TestRegistryOpenImage(t *testing.T) {
	reg := NewRegistry()
	var calls atomic.Int32
	codec := newMemoryCodec(8, 8, 1)
	require.NoError(t, reg.Register(countingDescriptor("mem", 0, []string{".mem"}, &calls, func() (Codec, error) {
		return codec, nil
	})))
	img, err := reg.OpenImage("a.MEM", WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	defer img.Close()
	assert.Same(t, codec, img.Codec())
	assert.Equal(t, int32(1), calls.Load())

	_, err = reg.OpenImage("a.xyz")
	assert.ErrorIs(t, err, ErrUnsupportedExtension)
}
