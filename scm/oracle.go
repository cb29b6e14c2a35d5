package scm

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"fortio.org/safecast"
	"github.com/bluekeyes/go-gitdiff/gitdiff"

	"dirtydiff/logger"
	"dirtydiff/text"
	"dirtydiff/types"
)

// GitOracle is a types.DiffOracle that shells out to git diff --no-index.
// It produces the same hunks git itself shows, at the cost of a process per
// diff.
type GitOracle struct {
	models   *text.Models
	maxLines int
}

func NewGitOracle(models *text.Models, maxLines int) *GitOracle {
	return &GitOracle{models: models, maxLines: maxLines}
}

func (o *GitOracle) CanDiff(ctx context.Context, originalID, modifiedID string) bool {
	return o.models.Diffable(originalID, modifiedID, o.maxLines)
}

func (o *GitOracle) Diff(ctx context.Context, originalID, modifiedID string, opts types.DiffOptions) (types.ChangeSet, error) {
	defer logger.Trace("scm.GitOracle.Diff")()

	original, err := o.models.Lines(originalID)
	if err != nil {
		return nil, err
	}
	modified, err := o.models.Lines(modifiedID)
	if err != nil {
		return nil, err
	}

	originalPath, err := writeTemp(original)
	if err != nil {
		return nil, err
	}
	defer os.Remove(originalPath)
	modifiedPath, err := writeTemp(modified)
	if err != nil {
		return nil, err
	}
	defer os.Remove(modifiedPath)

	args := []string{"diff", "--no-index", "--no-color", "--no-ext-diff", "-U0"}
	if opts.IgnoreTrimWhitespace {
		args = append(args, "--ignore-space-at-eol")
	}
	args = append(args, "--", originalPath, modifiedPath)

	cmd := exec.CommandContext(ctx, "git", args...)
	out, err := cmd.Output()
	// exit status 1 means the files differ
	if err != nil && exitCode(err) != 1 {
		return nil, fmt.Errorf("git diff: %w", err)
	}
	return ParseUnifiedDiff(string(out))
}

// ParseUnifiedDiff converts a zero-context unified diff of a single file into
// a ChangeSet, one change per hunk
func ParseUnifiedDiff(diff string) (types.ChangeSet, error) {
	if strings.TrimSpace(diff) == "" {
		return nil, nil
	}
	files, _, err := gitdiff.Parse(strings.NewReader(diff))
	if err != nil {
		return nil, fmt.Errorf("parse diff: %w", err)
	}

	var changes types.ChangeSet
	for _, f := range files {
		for _, frag := range f.TextFragments {
			c, err := fragmentChange(frag)
			if err != nil {
				return nil, err
			}
			changes = append(changes, c)
		}
	}
	return changes, nil
}

func fragmentChange(frag *gitdiff.TextFragment) (types.Change, error) {
	oldPos, err := safecast.Conv[int](frag.OldPosition)
	if err != nil {
		return types.Change{}, err
	}
	oldLines, err := safecast.Conv[int](frag.OldLines)
	if err != nil {
		return types.Change{}, err
	}
	newPos, err := safecast.Conv[int](frag.NewPosition)
	if err != nil {
		return types.Change{}, err
	}
	newLines, err := safecast.Conv[int](frag.NewLines)
	if err != nil {
		return types.Change{}, err
	}

	c := types.Change{OriginalStart: oldPos, ModifiedStart: newPos}
	if oldLines > 0 {
		c.OriginalEnd = oldPos + oldLines - 1
	}
	if newLines > 0 {
		c.ModifiedEnd = newPos + newLines - 1
	}
	return c, nil
}

func writeTemp(lines []string) (string, error) {
	f, err := os.CreateTemp("", "dirtydiff-*")
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(text.JoinLines(lines)); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
