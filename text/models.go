package text

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/dustin/go-humanize"

	"dirtydiff/logger"
)

// ErrUnknownModel is returned for identifiers that are not registered
var ErrUnknownModel = errors.New("unknown model")

// model holds one registered content snapshot. Live documents keep plain
// lines, originals are read-only and kept brotli-compressed at rest.
type model struct {
	lines      []string
	compressed []byte
	lineCount  int
	version    int
}

// Models maps identifiers (document uris and original ids) to content.
// The diff oracles read both sides of a diff through it.
type Models struct {
	mu      sync.RWMutex
	entries map[string]*model
}

func NewModels() *Models {
	return &Models{entries: make(map[string]*model)}
}

// Set registers or replaces live content for id and bumps its version
func (m *Models) Set(id string, lines []string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	version := 1
	if prev, ok := m.entries[id]; ok {
		version = prev.version + 1
	}
	m.entries[id] = &model{
		lines:     copyLines(lines),
		lineCount: len(lines),
		version:   version,
	}
	return version
}

// SetCompressed registers read-only content for id, stored compressed
func (m *Models) SetCompressed(id string, lines []string) error {
	raw := JoinLines(lines)

	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	if _, err := io.WriteString(w, raw); err != nil {
		return fmt.Errorf("compress %s: %w", id, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("compress %s: %w", id, err)
	}

	logger.Debug("models: stored %s (%s -> %s)", id,
		humanize.Bytes(uint64(len(raw))), humanize.Bytes(uint64(buf.Len())))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = &model{
		compressed: buf.Bytes(),
		lineCount:  len(lines),
		version:    1,
	}
	return nil
}

// Lines returns a copy of the content registered for id
func (m *Models) Lines(id string) ([]string, error) {
	m.mu.RLock()
	entry, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrUnknownModel)
	}

	if entry.compressed == nil {
		return copyLines(entry.lines), nil
	}

	raw, err := io.ReadAll(brotli.NewReader(bytes.NewReader(entry.compressed)))
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", id, err)
	}
	return SplitLines(string(raw)), nil
}

// LineCount reports the number of lines registered for id
func (m *Models) LineCount(id string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[id]
	if !ok {
		return 0, false
	}
	return entry.lineCount, true
}

// Version returns the version of a live model, 0 if unknown
func (m *Models) Version(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if entry, ok := m.entries[id]; ok {
		return entry.version
	}
	return 0
}

// Has reports whether id is registered
func (m *Models) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[id]
	return ok
}

func (m *Models) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
}

// Len returns the number of registered models
func (m *Models) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Diffable reports whether both sides are registered and within maxLines.
// maxLines <= 0 disables the size check.
func (m *Models) Diffable(originalID, modifiedID string, maxLines int) bool {
	for _, id := range []string{originalID, modifiedID} {
		n, ok := m.LineCount(id)
		if !ok {
			return false
		}
		if maxLines > 0 && n > maxLines {
			logger.Debug("models: %s too large to diff (%s lines, limit %s)",
				id, humanize.Comma(int64(n)), humanize.Comma(int64(maxLines)))
			return false
		}
	}
	return true
}
