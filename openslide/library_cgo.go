//go:build openslide

package openslide

/*
#cgo pkg-config: openslide
#include <stdlib.h>
#include <openslide.h>
*/
import "C"

import (
	"errors"
	"fmt"
	"unsafe"
)

type library struct{}

func nativeLibrary() Library {
	return library{}
}

func (library) DetectVendor(path string) (string, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	vendor := C.openslide_detect_vendor(cpath)
	if vendor == nil {
		return "", nil
	}
	return C.GoString(vendor), nil
}

func (library) Open(path string) (Slide, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	osr := C.openslide_open(cpath)
	if osr == nil {
		return nil, errors.New("openslide_open: unrecognized file")
	}
	if msg := C.openslide_get_error(osr); msg != nil {
		err := errors.New(C.GoString(msg))
		C.openslide_close(osr)
		return nil, err
	}
	return &slide{osr: osr}, nil
}

type slide struct {
	osr *C.openslide_t
}

func (s *slide) LevelCount() int {
	return int(C.openslide_get_level_count(s.osr))
}

func (s *slide) LevelDimensions(level int) (w, h int64) {
	var cw, ch C.int64_t
	C.openslide_get_level_dimensions(s.osr, C.int32_t(level), &cw, &ch)
	return int64(cw), int64(ch)
}

func (s *slide) LevelDownsample(level int) float64 {
	return float64(C.openslide_get_level_downsample(s.osr, C.int32_t(level)))
}

func (s *slide) Property(name string) (string, bool) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	value := C.openslide_get_property_value(s.osr, cname)
	if value == nil {
		return "", false
	}
	return C.GoString(value), true
}

func (s *slide) ReadRegion(dst []uint32, x, y int64, level int, w, h int64) error {
	if w <= 0 || h <= 0 {
		return nil
	}
	if int64(len(dst)) < w*h {
		return fmt.Errorf("destination holds %d pixels, region has %d", len(dst), w*h)
	}
	C.openslide_read_region(s.osr, (*C.uint32_t)(unsafe.Pointer(&dst[0])),
		C.int64_t(x), C.int64_t(y), C.int32_t(level), C.int64_t(w), C.int64_t(h))
	if msg := C.openslide_get_error(s.osr); msg != nil {
		return errors.New(C.GoString(msg))
	}
	return nil
}

// SetCacheSize replaces the slide's tile cache; the slide keeps its own reference.
func (s *slide) SetCacheSize(bytes int) {
	cache := C.openslide_cache_create(C.size_t(bytes))
	C.openslide_set_cache(s.osr, cache)
	C.openslide_cache_release(cache)
}

func (s *slide) Close() {
	C.openslide_close(s.osr)
}
