package scm

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"dirtydiff/logger"
	"dirtydiff/types"
)

// IndexRef makes a repository diff against the staged content instead of a commit
const IndexRef = "index"

// ErrRepositoryGone is returned by Poll once the work tree has disappeared
var ErrRepositoryGone = errors.New("repository gone")

// repoState is what identifies the current original of every tracked file:
// the commit the ref points at, or the index modification time for IndexRef.
type repoState struct {
	rev        string
	indexStamp int64
}

// GitRepository supplies originals for files tracked in one git work tree
type GitRepository struct {
	root      string
	ref       string
	indexPath string

	mu    sync.Mutex
	state repoState

	changed types.Emitter[struct{}]
}

// OpenGitRepository finds the work tree containing dir and reads its state
func OpenGitRepository(ctx context.Context, dir, ref string) (*GitRepository, error) {
	root, err := gitOutput(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dir, ErrNotTracked)
	}
	indexPath, err := gitOutput(ctx, root, "rev-parse", "--git-path", "index")
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(indexPath) {
		indexPath = filepath.Join(root, indexPath)
	}
	if ref == "" {
		ref = "HEAD"
	}

	r := &GitRepository{
		root:      filepath.Clean(root),
		ref:       ref,
		indexPath: indexPath,
	}
	if _, err := r.Poll(ctx); err != nil {
		return nil, err
	}
	logger.Debug("scm: opened %s at %s (%s)", r.root, r.ref, r.snapshot().rev)
	return r, nil
}

// ID is the work tree root
func (r *GitRepository) ID() string { return r.root }

func (r *GitRepository) Root() string { return r.root }

func (r *GitRepository) OnDidChange(fn func()) func() {
	return r.changed.Subscribe(func(struct{}) { fn() })
}

// OriginalResource returns the identifier of uri's content at the
// repository's ref, or "" when the file is not tracked here
func (r *GitRepository) OriginalResource(ctx context.Context, uri string) (string, error) {
	path, err := PathFromURI(uri)
	if err != nil {
		return "", nil
	}
	rel, ok := r.relative(path)
	if !ok {
		return "", nil
	}

	state := r.snapshot()
	var out string
	if r.ref == IndexRef {
		out, err = runGit(ctx, r.root, "ls-files", "-z", "--", rel)
	} else {
		if state.rev == "" {
			// unborn branch, nothing committed yet
			return "", nil
		}
		// a newly staged file is in the index but not in the commit
		out, err = runGit(ctx, r.root, "ls-tree", "-z", "--name-only", state.rev, "--", rel)
	}
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", nil
	}
	return r.identifier(rel, state), nil
}

func (r *GitRepository) relative(path string) (string, bool) {
	rel, err := filepath.Rel(r.root, filepath.Clean(path))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// identifier encodes everything needed to load the original so that a new
// commit or a restage yields a different identifier
func (r *GitRepository) identifier(rel string, state repoState) string {
	q := url.Values{}
	q.Set("path", rel)
	q.Set("ref", r.ref)
	if r.ref == IndexRef {
		q.Set("stamp", strconv.FormatInt(state.indexStamp, 10))
	} else {
		q.Set("rev", state.rev)
	}
	return (&url.URL{Scheme: "git", Path: filepath.ToSlash(r.root), RawQuery: q.Encode()}).String()
}

func (r *GitRepository) snapshot() repoState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Poll re-reads the ref and the index and notifies subscribers when either
// moved. Returns ErrRepositoryGone once the work tree is deleted.
func (r *GitRepository) Poll(ctx context.Context) (bool, error) {
	if _, err := os.Stat(r.root); err != nil {
		return false, fmt.Errorf("%s: %w", r.root, ErrRepositoryGone)
	}

	var next repoState
	if r.ref != IndexRef {
		rev, err := gitOutput(ctx, r.root, "rev-parse", "--verify", "--quiet", r.ref+"^{commit}")
		if err != nil && exitCode(err) < 0 {
			return false, err
		}
		next.rev = rev
	}
	if r.ref == IndexRef {
		if info, err := os.Stat(r.indexPath); err == nil {
			next.indexStamp = info.ModTime().UnixNano()
		}
	}

	r.mu.Lock()
	prev := r.state
	r.state = next
	r.mu.Unlock()

	if prev == next {
		return false, nil
	}
	logger.Debug("scm: %s moved (%s -> %s)", r.root, prev.rev, next.rev)
	r.changed.Emit(struct{}{})
	return true, nil
}
