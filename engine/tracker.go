package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"dirtydiff/logger"
	"dirtydiff/metrics"
	"dirtydiff/text"
	"dirtydiff/types"
)

// ErrDetached is returned by operations on a tracker after Detach
var ErrDetached = errors.New("tracker detached")

// Collaborators are the process-wide services a tracker depends on
type Collaborators struct {
	Registry types.RepositoryRegistry
	Resolver types.OriginalResolver
	Oracle   types.DiffOracle
}

// TrackerConfig holds per-tracker settings
type TrackerConfig struct {
	Delay       time.Duration
	DiffOptions types.DiffOptions
}

// Tracker keeps the ChangeSet of one live document against its original
// up to date and publishes every change to it as splices.
//
// Every recompute runs on the gate, so at most one is in flight. Results of
// a recompute that settles after Detach are dropped.
type Tracker struct {
	mu     sync.Mutex
	emitMu sync.Mutex // orders delta emission against Detach

	doc    types.Document
	deps   Collaborators
	config TrackerConfig
	clock  Clock

	ctx    context.Context
	cancel context.CancelFunc
	gate   *Gate

	attached bool
	detached bool
	teardown []func()

	repoSubs map[types.Repository]func()
	winner   types.Repository
	original types.OriginalBuffer
	changes  types.ChangeSet
	failedID string // last identifier the resolver failed on

	deltas types.Emitter[types.ChangeEvent]
}

func NewTracker(doc types.Document, deps Collaborators, config TrackerConfig, clock Clock) *Tracker {
	if clock == nil {
		clock = NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		doc:      doc,
		deps:     deps,
		config:   config,
		clock:    clock,
		ctx:      ctx,
		cancel:   cancel,
		repoSubs: make(map[types.Repository]func()),
	}
}

// URI returns the uri of the tracked document
func (t *Tracker) URI() string { return t.doc.URI() }

// Attach subscribes to the document and the repository registry and
// schedules the first recompute. Calling it again is a no-op.
func (t *Tracker) Attach() error {
	t.mu.Lock()
	if t.detached {
		t.mu.Unlock()
		return ErrDetached
	}
	if t.attached {
		t.mu.Unlock()
		return nil
	}
	t.attached = true

	// teardown runs in reverse, so register in acquisition order
	t.own(t.cancel)
	t.own(t.releaseOriginal)
	t.gate = NewGate(t.ctx, t.clock, t.config.Delay, t.recompute)
	t.own(t.gate.Close)
	t.own(t.doc.OnDidChangeContent(t.Trigger))
	t.own(t.deps.Registry.OnDidAdd(t.onRepositoryAdded))
	t.own(t.deps.Registry.OnDidRemove(t.onRepositoryRemoved))
	t.own(t.releaseRepositories)
	for _, repo := range t.deps.Registry.Repositories() {
		t.subscribeRepositoryLocked(repo)
	}
	gate := t.gate
	t.mu.Unlock()

	metrics.Trackers.Inc()
	gate.Trigger()
	return nil
}

// own must be called with t.mu held
func (t *Tracker) own(fn func()) {
	t.teardown = append(t.teardown, fn)
}

// Detach releases every subscription, cancels in-flight work and disposes
// the original. Idempotent. Must not be called from an OnChangeDelta handler.
func (t *Tracker) Detach() {
	t.emitMu.Lock()
	t.mu.Lock()
	if t.detached {
		t.mu.Unlock()
		t.emitMu.Unlock()
		return
	}
	t.detached = true
	wasAttached := t.attached
	teardown := t.teardown
	t.teardown = nil
	t.changes = nil
	t.mu.Unlock()
	t.emitMu.Unlock()

	for i := len(teardown) - 1; i >= 0; i-- {
		teardown[i]()
	}
	t.cancel()

	if wasAttached {
		metrics.Trackers.Dec()
	}
	logger.Debug("tracker: detached %s", t.doc.URI())
}

// Trigger schedules a recompute
func (t *Tracker) Trigger() {
	t.mu.Lock()
	gate := t.gate
	detached := t.detached
	t.mu.Unlock()

	if detached || gate == nil {
		return
	}
	gate.Trigger()
}

// OnChangeDelta registers fn for every non-empty change delta
func (t *Tracker) OnChangeDelta(fn func(types.ChangeEvent)) (unsubscribe func(), err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.detached {
		return nil, ErrDetached
	}
	return t.deltas.Subscribe(fn), nil
}

// Changes returns a copy of the current ChangeSet
func (t *Tracker) Changes() types.ChangeSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.changes.Clone()
}

// OriginalID returns the identifier of the held original, "" when none
func (t *Tracker) OriginalID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.original == nil {
		return ""
	}
	return t.original.ID()
}

// OriginalLines returns the content of the held original
func (t *Tracker) OriginalLines() ([]string, bool) {
	t.mu.Lock()
	original := t.original
	t.mu.Unlock()
	if original == nil {
		return nil, false
	}
	return original.Lines(), true
}

// FindNextChange returns the index of the change after line, see FindNext
func (t *Tracker) FindNextChange(line int, inclusive bool) int {
	return FindNext(t.Changes(), line, inclusive)
}

// FindPreviousChange returns the index of the change before line, see FindPrevious
func (t *Tracker) FindPreviousChange(line int, inclusive bool) int {
	return FindPrevious(t.Changes(), line, inclusive)
}

// Wait blocks until no recompute is scheduled or running
func (t *Tracker) Wait(ctx context.Context) error {
	t.mu.Lock()
	gate := t.gate
	t.mu.Unlock()
	if gate == nil {
		return nil
	}
	return gate.Wait(ctx)
}

func (t *Tracker) isDetached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.detached
}

// --- Repository subscriptions ---

func (t *Tracker) subscribeRepositoryLocked(repo types.Repository) {
	if _, ok := t.repoSubs[repo]; ok {
		return
	}
	t.repoSubs[repo] = repo.OnDidChange(t.Trigger)
}

func (t *Tracker) onRepositoryAdded(repo types.Repository) {
	t.mu.Lock()
	if t.detached {
		t.mu.Unlock()
		return
	}
	t.subscribeRepositoryLocked(repo)
	t.mu.Unlock()

	t.Trigger()
}

func (t *Tracker) onRepositoryRemoved(repo types.Repository) {
	t.mu.Lock()
	if t.detached {
		t.mu.Unlock()
		return
	}
	unsubscribe, ok := t.repoSubs[repo]
	delete(t.repoSubs, repo)
	wasWinner := t.winner == repo
	if wasWinner {
		t.winner = nil
	}
	t.mu.Unlock()

	if ok {
		unsubscribe()
	}
	if wasWinner {
		t.Trigger()
	}
}

func (t *Tracker) releaseRepositories() {
	t.mu.Lock()
	subs := t.repoSubs
	t.repoSubs = make(map[types.Repository]func())
	t.mu.Unlock()

	for _, unsubscribe := range subs {
		unsubscribe()
	}
}

// --- Original lifetime ---

func (t *Tracker) releaseOriginal() {
	t.mu.Lock()
	original := t.original
	t.original = nil
	t.mu.Unlock()
	disposeOriginal(original)
}

func disposeOriginal(original types.OriginalBuffer) {
	if original == nil {
		return
	}
	original.Dispose()
	metrics.OriginalsReleased.Inc()
}

// firstResponder asks every repository, in priority order, for the
// original of uri. A failing repository is skipped.
func (t *Tracker) firstResponder(ctx context.Context, uri string) (types.Repository, string) {
	for _, repo := range t.deps.Registry.Repositories() {
		if ctx.Err() != nil {
			return nil, ""
		}
		id, err := repo.OriginalResource(ctx, uri)
		if err != nil {
			logger.Debug("tracker: repository %s failed for %s: %v", repo.ID(), uri, err)
			continue
		}
		if id != "" {
			return repo, id
		}
	}
	return nil, ""
}

// resolveOriginal makes the held original match the current first
// responder. ok is false when the tracker got detached meanwhile.
func (t *Tracker) resolveOriginal(ctx context.Context) (originalURI string, ok bool) {
	uri := t.doc.URI()
	repo, id := t.firstResponder(ctx, uri)

	t.mu.Lock()
	if t.detached {
		t.mu.Unlock()
		return "", false
	}
	t.winner = repo
	if t.original != nil && id != "" && t.original.ID() == id {
		originalURI = t.original.URI()
		t.mu.Unlock()
		return originalURI, true
	}
	stale := t.original
	t.original = nil
	t.mu.Unlock()

	disposeOriginal(stale)
	if id == "" {
		return "", true
	}

	buf, err := t.deps.Resolver.Resolve(ctx, id)
	if err != nil {
		if t.isDetached() {
			return "", false
		}
		if t.firstResolveFailure(id) {
			logger.Warn("tracker: resolving %s for %s: %v", id, uri, err)
		} else {
			logger.Debug("tracker: resolving %s for %s: %v", id, uri, err)
		}
		return "", true
	}
	metrics.OriginalsResolved.Inc()

	t.mu.Lock()
	if t.detached {
		t.mu.Unlock()
		disposeOriginal(buf)
		return "", false
	}
	stale = t.original
	t.original = buf
	t.failedID = ""
	t.mu.Unlock()

	disposeOriginal(stale)
	return buf.URI(), true
}

// firstResolveFailure records a resolver failure for id and reports whether
// the previous failure was for a different identifier
func (t *Tracker) firstResolveFailure(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	first := t.failedID != id
	t.failedID = id
	return first
}

// --- Recompute pipeline ---

func (t *Tracker) computeChanges(ctx context.Context) (types.ChangeSet, bool) {
	originalURI, ok := t.resolveOriginal(ctx)
	if !ok {
		return nil, false
	}
	if originalURI == "" {
		return nil, true
	}

	modifiedURI := t.doc.URI()
	if !t.deps.Oracle.CanDiff(ctx, originalURI, modifiedURI) {
		return nil, true
	}

	changes, err := t.deps.Oracle.Diff(ctx, originalURI, modifiedURI, t.config.DiffOptions)
	if t.isDetached() {
		return nil, false
	}
	if err != nil {
		logger.Warn("tracker: diff %s failed: %v", modifiedURI, err)
		metrics.Recomputes.WithLabelValues("error").Inc()
		return nil, true
	}
	return changes, true
}

func (t *Tracker) recompute(ctx context.Context) {
	defer logger.Trace("engine.Tracker.recompute")()

	start := t.clock.Now()
	changes, ok := t.computeChanges(ctx)
	if !ok {
		metrics.Recomputes.WithLabelValues("discarded").Inc()
		return
	}

	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	t.mu.Lock()
	if t.detached {
		t.mu.Unlock()
		metrics.Recomputes.WithLabelValues("discarded").Inc()
		return
	}
	splices := text.SortedDiff(t.changes, changes)
	t.changes = changes.Clone()
	t.mu.Unlock()

	metrics.RecomputeDuration.Observe(t.clock.Now().Sub(start).Seconds())
	metrics.Recomputes.WithLabelValues("ok").Inc()

	if len(splices) == 0 {
		return
	}
	metrics.DeltasEmitted.Inc()
	t.deltas.Emit(types.ChangeEvent{
		URI:     t.doc.URI(),
		Splices: splices,
		Changes: changes.Clone(),
	})
}
