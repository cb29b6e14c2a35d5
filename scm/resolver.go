package scm

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sync"
	"sync/atomic"

	"dirtydiff/logger"
	"dirtydiff/text"
	"dirtydiff/types"
)

// Resolver loads original content for git:// and file:// identifiers and
// registers it, compressed, in Models
type Resolver struct {
	models *text.Models
	seq    atomic.Int64
}

func NewResolver(models *text.Models) *Resolver {
	return &Resolver{models: models}
}

// Resolve implements types.OriginalResolver. Each call registers a separate
// model, so handles for the same identifier never share a lifetime.
func (r *Resolver) Resolve(ctx context.Context, id string) (types.OriginalBuffer, error) {
	defer logger.Trace("scm.Resolver.Resolve")()

	content, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	uri := fmt.Sprintf("original:%d/%s", r.seq.Add(1), id)
	if err := r.models.SetCompressed(uri, text.SplitLines(content)); err != nil {
		return nil, err
	}
	return &originalBuffer{id: id, uri: uri, models: r.models}, nil
}

func (r *Resolver) load(ctx context.Context, id string) (string, error) {
	u, err := url.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadIdentifier, err)
	}

	switch u.Scheme {
	case "git":
		q := u.Query()
		rel := q.Get("path")
		if u.Path == "" || rel == "" {
			return "", fmt.Errorf("%w: %s", ErrBadIdentifier, id)
		}
		// an empty rev reads stage 0 of the index
		return runGit(ctx, u.Path, "show", q.Get("rev")+":"+rel)
	case "file":
		data, err := os.ReadFile(u.Path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("%w: unknown scheme %q", ErrBadIdentifier, u.Scheme)
	}
}

type originalBuffer struct {
	id     string
	uri    string
	models *text.Models
	once   sync.Once
}

func (b *originalBuffer) ID() string  { return b.id }
func (b *originalBuffer) URI() string { return b.uri }

func (b *originalBuffer) Lines() []string {
	lines, err := b.models.Lines(b.uri)
	if err != nil {
		return nil
	}
	return lines
}

func (b *originalBuffer) Dispose() {
	b.once.Do(func() {
		b.models.Remove(b.uri)
	})
}
