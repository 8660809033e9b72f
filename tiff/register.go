package tiff

import (
	"github.com/gracefulearth/goslide"
)

var Extensions = []string{".svs", ".tif", ".tiff"}

// Register adds the TIFF codec to r at priority 0, ahead of other codecs for the same
// extensions. Opened codecs use the given options.
func Register(r *goslide.Registry, opts ...Option) error {
	return r.Register(goslide.Descriptor{
		Name:       "tiff",
		Extensions: Extensions,
		Priority:   0,
		Open: func(path string) (goslide.Codec, error) {
			c, err := Open(path, opts...)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	})
}
