package text

import "dirtydiff/types"

// Document is an in-memory types.Document whose content lives in Models
// under its uri. Editor adapters embed it and call SetLines on sync.
type Document struct {
	uri     string
	models  *Models
	changed types.Emitter[struct{}]
}

func NewDocument(uri string, models *Models, lines []string) *Document {
	models.Set(uri, lines)
	return &Document{uri: uri, models: models}
}

func (d *Document) URI() string { return d.uri }

// OnDidChangeContent implements types.Document
func (d *Document) OnDidChangeContent(fn func()) (unsubscribe func()) {
	return d.changed.Subscribe(func(struct{}) { fn() })
}

// SetLines replaces the content and notifies subscribers
func (d *Document) SetLines(lines []string) {
	d.models.Set(d.uri, lines)
	d.changed.Emit(struct{}{})
}

// Lines returns the current content
func (d *Document) Lines() []string {
	lines, err := d.models.Lines(d.uri)
	if err != nil {
		return nil
	}
	return lines
}

// Close unregisters the content. Subscribers are not notified.
func (d *Document) Close() {
	d.models.Remove(d.uri)
}
