package scm

import (
	"context"
	"net/url"
	"os"
	"strconv"

	"dirtydiff/types"
)

// DiskProvider answers for any regular file on disk, so unsaved edits are
// diffed against the saved file. Register it with PriorityDisk so real
// repositories win.
type DiskProvider struct {
	changed types.Emitter[struct{}]
}

func NewDiskProvider() *DiskProvider {
	return &DiskProvider{}
}

func (d *DiskProvider) ID() string { return "disk" }

func (d *DiskProvider) OnDidChange(fn func()) func() {
	return d.changed.Subscribe(func(struct{}) { fn() })
}

// Notify tells subscribers that files on disk may have changed
func (d *DiskProvider) Notify() {
	d.changed.Emit(struct{}{})
}

// OriginalResource returns a file identifier stamped with the file's
// modification time, so every save produces a new identifier
func (d *DiskProvider) OriginalResource(ctx context.Context, uri string) (string, error) {
	path, err := PathFromURI(uri)
	if err != nil {
		return "", nil
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", nil
	}

	u, _ := url.Parse(uri)
	q := url.Values{}
	q.Set("mtime", strconv.FormatInt(info.ModTime().UnixNano(), 10))
	q.Set("size", strconv.FormatInt(info.Size(), 10))
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String(), nil
}
