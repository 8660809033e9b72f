// Package tiff reads and writes tiled, multi-resolution TIFF files such as Aperio SVS slides and
// the pyramids produced by the pyramid package.
package tiff

import (
	"strings"

	"github.com/gracefulearth/goslide"
)

// Baseline and extension tags used by the reader and writer.
const (
	tagNewSubfileType      = 254
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagCompression         = 259
	tagPhotometric         = 262
	tagImageDescription    = 270
	tagSamplesPerPixel     = 277
	tagXResolution         = 282
	tagYResolution         = 283
	tagPlanarConfiguration = 284
	tagResolutionUnit      = 296
	tagSoftware            = 305
	tagPredictor           = 317
	tagTileWidth           = 322
	tagTileLength          = 323
	tagTileOffsets         = 324
	tagTileByteCounts      = 325
	tagExtraSamples        = 338
	tagSampleFormat        = 339
	tagSMinSampleValue     = 340
	tagSMaxSampleValue     = 341
	tagJPEGTables          = 347
	tagYCbCrSubSampling    = 530
)

// Field types of IFD entries.
const (
	typeASCII    = 2
	typeShort    = 3
	typeLong     = 4
	typeRational = 5
	typeDouble   = 12
)

const (
	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3

	planarContiguous = 1

	predictorNone       = 1
	predictorHorizontal = 2

	resolutionNone = 1
	resolutionInch = 2
	resolutionCm   = 3

	subfileReduced = 1
	subfileMask    = 4
)

// Compression is the value of the Compression tag of a directory.
type Compression uint16

const (
	CompressionNone       Compression = 1
	CompressionLZW        Compression = 5
	CompressionJPEG       Compression = 7
	CompressionDeflate    Compression = 8
	CompressionDeflateOld Compression = 32946
	CompressionJ2KYCbCr   Compression = 33003 // Aperio JPEG2000 with YCbCr components
	CompressionJ2K        Compression = 33005 // Aperio JPEG2000 with RGB components
	CompressionZstd       Compression = 50000
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZW:
		return "lzw"
	case CompressionJPEG:
		return "jpeg"
	case CompressionDeflate, CompressionDeflateOld:
		return "deflate"
	case CompressionJ2KYCbCr:
		return "jpeg2000-ycbcr"
	case CompressionJ2K:
		return "jpeg2000"
	case CompressionZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// Decodable reports whether tiles of this compression can be read.
func (c Compression) Decodable() bool {
	switch c {
	case CompressionNone, CompressionLZW, CompressionJPEG, CompressionDeflate,
		CompressionDeflateOld, CompressionJ2K, CompressionZstd:
		return true
	default:
		return false
	}
}

// ParseCompression accepts the names printed by Compression.String.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(name) {
	case "none", "raw":
		return CompressionNone, nil
	case "lzw":
		return CompressionLZW, nil
	case "jpeg", "jpg":
		return CompressionJPEG, nil
	case "deflate", "zlib":
		return CompressionDeflate, nil
	case "jpeg2000", "j2k":
		return CompressionJ2K, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, goslide.UnsupportedError("compression '" + name + "'")
	}
}

// Photometric is the value of the PhotometricInterpretation tag.
type Photometric uint16

const (
	PhotometricMinIsWhite Photometric = 0
	PhotometricMinIsBlack Photometric = 1
	PhotometricRGB        Photometric = 2
	PhotometricPalette    Photometric = 3
	PhotometricYCbCr      Photometric = 6
)

func (p Photometric) String() string {
	switch p {
	case PhotometricMinIsWhite:
		return "min-is-white"
	case PhotometricMinIsBlack:
		return "min-is-black"
	case PhotometricRGB:
		return "rgb"
	case PhotometricPalette:
		return "palette"
	case PhotometricYCbCr:
		return "ycbcr"
	default:
		return "unknown"
	}
}
