package scm

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
)

var (
	// ErrBadIdentifier is returned for identifiers no resolver understands
	ErrBadIdentifier = errors.New("bad original identifier")
	// ErrNotTracked is returned when a path is outside every repository
	ErrNotTracked = errors.New("path not tracked")
)

// FileURI returns the file:// uri of path, made absolute
func FileURI(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

// PathFromURI returns the local path of a file:// uri
func PathFromURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadIdentifier, err)
	}
	if u.Scheme != "file" || u.Path == "" {
		return "", fmt.Errorf("%w: %s is not a file uri", ErrBadIdentifier, uri)
	}
	return filepath.FromSlash(u.Path), nil
}
