package goslide

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Codec is an open multi-resolution image of one concrete format. The level table, dtype and
// sample count are fixed once the codec is open; Read may be called from several goroutines.
type Codec interface {
	DType() DType
	Samples() int
	Levels() Levels
	// Read returns the pixels of box as a (box.Height(), box.Width(), Samples()) buffer of DType().
	Read(box Box) (Buffer, error)
	Close() error
}

// CacheSizer is implemented by codecs able to cache decoded tiles.
type CacheSizer interface {
	SetCacheCapacity(bytes int)
}

// Spacer is implemented by codecs that know the physical pixel spacing, in micrometres per
// pixel as (y, x), of level 0.
type Spacer interface {
	Spacing() []float64
}

// Descriptor announces a codec implementation to a Registry.
type Descriptor struct {
	Name       string
	Extensions []string // lowercase, with a leading dot
	Priority   int      // lower priorities are tried first for a shared extension
	Open       func(path string) (Codec, error)
}

// Registry maps lowercase file extensions to the codecs able to open them.
type Registry struct {
	lock   sync.RWMutex
	byName map[string]Descriptor
	byExt  map[string][]Descriptor
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Descriptor),
		byExt:  make(map[string][]Descriptor),
	}
}

// Register adds desc to the registry. Registering the same name twice fails.
func (r *Registry) Register(desc Descriptor) error {
	if desc.Name == "" {
		return errors.New("goslide: codec descriptor without a name")
	}
	if desc.Open == nil {
		return fmt.Errorf("goslide: codec '%s' has no open function", desc.Name)
	}
	if len(desc.Extensions) == 0 {
		return fmt.Errorf("goslide: codec '%s' declares no extensions", desc.Name)
	}
	for _, ext := range desc.Extensions {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			return fmt.Errorf("goslide: codec '%s' declares invalid extension '%s'", desc.Name, ext)
		}
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.byName[desc.Name]; ok {
		return fmt.Errorf("goslide: codec '%s' already registered", desc.Name)
	}
	r.byName[desc.Name] = desc
	for _, ext := range desc.Extensions {
		ext = strings.ToLower(ext)
		list := append(r.byExt[ext], desc)
		// stable so that equal priorities keep registration order
		slices.SortStableFunc(list, func(a, b Descriptor) int {
			return a.Priority - b.Priority
		})
		r.byExt[ext] = list
	}
	return nil
}

// Lookup returns the descriptors registered for the extension of path, lowest priority first.
func (r *Registry) Lookup(path string) []Descriptor {
	ext := strings.ToLower(filepath.Ext(path))
	r.lock.RLock()
	defer r.lock.RUnlock()
	return slices.Clone(r.byExt[ext])
}

// Extensions lists every registered extension in sorted order.
func (r *Registry) Extensions() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// Descriptors lists every registered codec sorted by name.
func (r *Registry) Descriptors() []Descriptor {
	r.lock.RLock()
	defer r.lock.RUnlock()
	descs := make([]Descriptor, 0, len(r.byName))
	for _, desc := range r.byName {
		descs = append(descs, desc)
	}
	slices.SortFunc(descs, func(a, b Descriptor) int {
		return strings.Compare(a.Name, b.Name)
	})
	return descs
}

// OpenCodec opens path with the codecs registered for its extension. Codecs are tried lowest
// priority first; a codec rejecting the file hands over to the next one, and the error of the
// last attempt is returned when none accepts it. An unregistered extension fails with
// ErrUnsupportedExtension before any file access.
func (r *Registry) OpenCodec(path string) (Codec, error) {
	descs := r.Lookup(path)
	if len(descs) == 0 {
		return nil, fmt.Errorf("%w: '%s'", ErrUnsupportedExtension, filepath.Ext(path))
	}
	var errs error
	for _, desc := range descs {
		codec, err := desc.Open(path)
		if err == nil {
			return codec, nil
		}
		if !fallsThrough(err) {
			return nil, err
		}
		errs = err
	}
	return nil, errs
}

func fallsThrough(err error) bool {
	return errors.Is(err, ErrOpenFailure) ||
		errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrUnsupportedCodec)
}

// DefaultRegistry is the process-wide registry used by Open. It starts empty; codec packages
// provide a Register function to be called once at startup.
var DefaultRegistry = NewRegistry()

func Register(desc Descriptor) error {
	return DefaultRegistry.Register(desc)
}

func OpenCodec(path string) (Codec, error) {
	return DefaultRegistry.OpenCodec(path)
}
