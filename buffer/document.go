package buffer

import (
	"slices"

	"dirtydiff/scm"
	"dirtydiff/text"
)

// Document is a Neovim buffer tracked as a types.Document. Its content is
// refreshed from snapshots read by the Client.
type Document struct {
	*text.Document
	bufnr int
	path  string
	tick  int
}

func NewDocument(models *text.Models, snap *Snapshot) *Document {
	return &Document{
		Document: text.NewDocument(scm.FileURI(snap.Name), models, snap.Lines),
		bufnr:    snap.Bufnr,
		path:     snap.Name,
		tick:     snap.Tick,
	}
}

func (d *Document) Bufnr() int { return d.bufnr }

func (d *Document) Path() string { return d.path }

// Apply brings the document up to date with snap and reports whether the
// content changed. An unchanged changedtick skips the comparison entirely.
func (d *Document) Apply(snap *Snapshot) bool {
	if snap.Tick == d.tick {
		return false
	}
	d.tick = snap.Tick
	if slices.Equal(d.Lines(), snap.Lines) {
		return false
	}
	d.SetLines(snap.Lines)
	return true
}
