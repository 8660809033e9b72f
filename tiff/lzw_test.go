package tiff

import (
	"bytes"
	"io"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/gracefulearth/image/tiff/lzw"
)

func lzwDecode(t *testing.T, data []byte) []byte {
	t.Helper()
	r := lzw.NewReader(bytes.NewReader(data), lzw.MSB, 8)
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestLzwEncodeRandom(t *testing.T) {
	for range 25 {
		chunk := make([]byte, rand.IntN(20000)+1)
		for i := range chunk {
			chunk[i] = byte(rand.IntN(256))
		}
		got := lzwDecode(t, lzwEncode(chunk))
		if !slices.Equal(chunk, got) {
			t.Fatalf("round trip of %d random bytes differs, got %d bytes back", len(chunk), len(got))
		}
	}
}

func TestLzwEncodeRepetitive(t *testing.T) {
	inputs := [][]byte{
		bytes.Repeat([]byte{0}, 1<<20),
		bytes.Repeat([]byte("abcabd"), 5000),
		bytes.Repeat([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9}, 40000),
	}
	for _, chunk := range inputs {
		enc := lzwEncode(chunk)
		if len(enc) >= len(chunk) {
			t.Errorf("expected %d repetitive bytes to shrink, encoded to %d", len(chunk), len(enc))
		}
		if got := lzwDecode(t, enc); !slices.Equal(chunk, got) {
			t.Errorf("round trip of %d repetitive bytes differs", len(chunk))
		}
	}
}

// Lengths around the points where the code width grows or the table is reset.
func TestLzwEncodeTableBoundaries(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for _, n := range []int{1, 2, 253, 254, 255, 256, 509, 510, 511, 1021, 1022, 1023, 2045, 2046, 2047, 3836, 3837, 3838, 3839, 3840, 7000} {
		chunk := make([]byte, n)
		for i := range chunk {
			chunk[i] = byte(rng.IntN(256))
		}
		if got := lzwDecode(t, lzwEncode(chunk)); !slices.Equal(chunk, got) {
			t.Errorf("round trip of %d bytes differs", n)
		}
	}
}

func TestLzwEncodeEmpty(t *testing.T) {
	if got := lzwDecode(t, lzwEncode(nil)); len(got) != 0 {
		t.Errorf("expected empty output, got %d bytes", len(got))
	}
}
