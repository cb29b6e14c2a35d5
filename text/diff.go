package text

import (
	"context"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"dirtydiff/logger"
	"dirtydiff/types"
)

// DiffTimeout bounds the time diffmatchpatch spends before falling back to
// a coarser result.
const DiffTimeout = time.Second

// DefaultMaxDiffLines is the size above which a side is not diffed
const DefaultMaxDiffLines = 20000

// LineOracle is the default types.DiffOracle. It reads both sides from
// Models and diffs them line by line with diffmatchpatch.
type LineOracle struct {
	models   *Models
	maxLines int
}

func NewLineOracle(models *Models, maxLines int) *LineOracle {
	return &LineOracle{models: models, maxLines: maxLines}
}

func (o *LineOracle) CanDiff(ctx context.Context, originalID, modifiedID string) bool {
	return o.models.Diffable(originalID, modifiedID, o.maxLines)
}

func (o *LineOracle) Diff(ctx context.Context, originalID, modifiedID string, opts types.DiffOptions) (types.ChangeSet, error) {
	defer logger.Trace("text.LineOracle.Diff")()

	original, err := o.models.Lines(originalID)
	if err != nil {
		return nil, err
	}
	modified, err := o.models.Lines(modifiedID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ComputeChanges(original, modified, opts), nil
}

// ComputeChanges returns the line changes turning original into modified
func ComputeChanges(original, modified []string, opts types.DiffOptions) types.ChangeSet {
	if opts.IgnoreTrimWhitespace {
		original = trimLines(original)
		modified = trimLines(modified)
	}

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = DiffTimeout
	chars1, chars2, lineArray := dmp.DiffLinesToRunes(JoinLines(original), JoinLines(modified))
	diffs := dmp.DiffMainRunes(chars1, chars2, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var b changeBuilder
	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			b.flush()
			b.originalLine += n
			b.modifiedLine += n
		case diffmatchpatch.DiffDelete:
			b.deleted += n
			b.originalLine += n
		case diffmatchpatch.DiffInsert:
			b.inserted += n
			b.modifiedLine += n
		}
	}
	b.flush()
	return b.changes
}

// changeBuilder folds runs of deletions/insertions between equal blocks
// into single changes. originalLine/modifiedLine count consumed lines.
type changeBuilder struct {
	originalLine int
	modifiedLine int
	deleted      int
	inserted     int
	changes      types.ChangeSet
}

func (b *changeBuilder) flush() {
	if b.deleted == 0 && b.inserted == 0 {
		return
	}

	var c types.Change
	switch {
	case b.deleted == 0:
		c = types.Change{
			OriginalStart: b.originalLine,
			OriginalEnd:   0,
			ModifiedStart: b.modifiedLine - b.inserted + 1,
			ModifiedEnd:   b.modifiedLine,
		}
	case b.inserted == 0:
		c = types.Change{
			OriginalStart: b.originalLine - b.deleted + 1,
			OriginalEnd:   b.originalLine,
			ModifiedStart: b.modifiedLine,
			ModifiedEnd:   0,
		}
	default:
		c = types.Change{
			OriginalStart: b.originalLine - b.deleted + 1,
			OriginalEnd:   b.originalLine,
			ModifiedStart: b.modifiedLine - b.inserted + 1,
			ModifiedEnd:   b.modifiedLine,
		}
	}

	b.changes = append(b.changes, c)
	b.deleted = 0
	b.inserted = 0
}

func trimLines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = strings.TrimSpace(l)
	}
	return out
}
