package types

import "context"

// ChangeKind classifies a line-range change
type ChangeKind int

const (
	ChangeModify ChangeKind = iota
	ChangeAdd
	ChangeDelete
)

// String returns the string representation of ChangeKind for Lua integration
func (k ChangeKind) String() string {
	switch k {
	case ChangeAdd:
		return "add"
	case ChangeDelete:
		return "delete"
	case ChangeModify:
		return "modify"
	default:
		return "unknown"
	}
}

// Change is a single line-range delta between the original and the modified
// document. Line numbers are 1-indexed and inclusive. An end of 0 marks an
// empty side: for an addition OriginalStart is the original line after which
// the lines were inserted, for a deletion ModifiedStart is the modified line
// after which the lines were removed.
type Change struct {
	OriginalStart int
	OriginalEnd   int
	ModifiedStart int
	ModifiedEnd   int
}

// Kind derives the change kind from the empty side, if any
func (c Change) Kind() ChangeKind {
	switch {
	case c.OriginalEnd == 0:
		return ChangeAdd
	case c.ModifiedEnd == 0:
		return ChangeDelete
	default:
		return ChangeModify
	}
}

// ModifiedEndLine returns the last modified line covered by the change.
// Deletions report the line they are anchored to, never less than 1.
func (c Change) ModifiedEndLine() int {
	if c.ModifiedEnd == 0 {
		if c.ModifiedStart == 0 {
			return 1
		}
		return c.ModifiedStart
	}
	return c.ModifiedEnd
}

// CompareChanges is the total order used for ChangeSets: modified start,
// then original start, then the end lines (which also fixes the kind).
func CompareChanges(a, b Change) int {
	if d := a.ModifiedStart - b.ModifiedStart; d != 0 {
		return d
	}
	if d := a.OriginalStart - b.OriginalStart; d != 0 {
		return d
	}
	if d := a.ModifiedEnd - b.ModifiedEnd; d != 0 {
		return d
	}
	return a.OriginalEnd - b.OriginalEnd
}

// ChangeSet is an ordered (by modified start), non-overlapping list of changes
type ChangeSet []Change

// Clone returns a copy that does not alias the receiver
func (cs ChangeSet) Clone() ChangeSet {
	if cs == nil {
		return nil
	}
	out := make(ChangeSet, len(cs))
	copy(out, cs)
	return out
}

// Equal reports whether both sets hold the same changes in the same order
func (cs ChangeSet) Equal(other ChangeSet) bool {
	if len(cs) != len(other) {
		return false
	}
	for i := range cs {
		if cs[i] != other[i] {
			return false
		}
	}
	return true
}

// Splice describes how to turn one ChangeSet into the next: remove
// DeleteCount entries at Start and insert Insert in their place.
type Splice struct {
	Start       int
	DeleteCount int
	Insert      []Change
}

// ChangeEvent is published by a tracker whenever its ChangeSet moves
type ChangeEvent struct {
	URI     string
	Splices []Splice
	Changes ChangeSet // the ChangeSet after applying Splices
}

// CompareOutcome is the terminal decision of a compare session
type CompareOutcome int

const (
	CompareRevert CompareOutcome = iota
	CompareAccept
)

func (o CompareOutcome) String() string {
	switch o {
	case CompareAccept:
		return "accept"
	case CompareRevert:
		return "revert"
	default:
		return "unknown"
	}
}

// ParseCompareOutcome maps the strings sent by the Lua side. ok is false for
// anything that is neither "accept" nor "revert".
func ParseCompareOutcome(s string) (outcome CompareOutcome, ok bool) {
	switch s {
	case "accept":
		return CompareAccept, true
	case "revert":
		return CompareRevert, true
	default:
		return CompareRevert, false
	}
}

// Document is the live, editor-owned document a tracker observes.
// Implemented by text.Document and buffer.Document.
type Document interface {
	URI() string
	OnDidChangeContent(fn func()) (unsubscribe func())
}

// Repository supplies original-resource identifiers for documents it owns.
// Implemented by scm.GitRepository and scm.DiskProvider.
type Repository interface {
	ID() string
	// OriginalResource returns "" when the repository does not own uri
	OriginalResource(ctx context.Context, uri string) (string, error)
	OnDidChange(fn func()) (unsubscribe func())
}

// RepositoryRegistry is the process-wide, ordered set of repositories.
// Implemented by scm.Registry.
type RepositoryRegistry interface {
	// Repositories returns the current repositories in priority order
	Repositories() []Repository
	OnDidAdd(fn func(Repository)) (unsubscribe func())
	OnDidRemove(fn func(Repository)) (unsubscribe func())
}

// OriginalBuffer is a read-only handle to resolved original content.
// ID is the identifier it was resolved from, URI the model the content is
// registered under for diffing. Every acquisition gets its own URI.
// Dispose must be called exactly once.
type OriginalBuffer interface {
	ID() string
	URI() string
	Lines() []string
	Dispose()
}

// OriginalResolver turns an original identifier into a buffer handle.
// Implemented by scm.Resolver.
type OriginalResolver interface {
	Resolve(ctx context.Context, id string) (OriginalBuffer, error)
}

// DiffOptions configures the diff oracle
type DiffOptions struct {
	IgnoreTrimWhitespace bool
	// ComputeCharChanges is never set by the tracker
	ComputeCharChanges bool
}

// DiffOracle computes line changes between two registered models.
// Implemented by text.LineOracle and scm.GitOracle.
type DiffOracle interface {
	CanDiff(ctx context.Context, originalID, modifiedID string) bool
	Diff(ctx context.Context, originalID, modifiedID string, opts DiffOptions) (ChangeSet, error)
}

// ComparePresenter shows and hides compare views.
// Implemented by buffer.Client.
type ComparePresenter interface {
	Open(ctx context.Context, originalRef, modifiedRef, id, label string) error
	Close(ctx context.Context, id string) error
}
