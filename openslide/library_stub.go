//go:build !openslide

package openslide

import "errors"

var errNoLibrary = errors.New("built without openslide support")

type library struct{}

func nativeLibrary() Library {
	return library{}
}

func (library) DetectVendor(path string) (string, error) {
	return "", errNoLibrary
}

func (library) Open(path string) (Slide, error) {
	return nil, errNoLibrary
}
