package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dirtydiff/text"
	"dirtydiff/types"
)

// --- Mock implementations ---

// mockClock implements Clock for testing
type mockClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*mockTimer
}

func newMockClock() *mockClock {
	return &mockClock{
		now: time.Now(),
	}
}

func (c *mockClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &mockTimer{
		fireTime: c.now.Add(d),
		f:        f,
	}
	c.timers = append(c.timers, t)
	return t
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var toFire []*mockTimer
	for _, t := range c.timers {
		if !t.fireTime.After(c.now) {
			toFire = append(toFire, t)
		}
	}
	c.mu.Unlock()

	for _, t := range toFire {
		t.fire()
	}
}

// pending returns the number of timers that have neither fired nor stopped
func (c *mockClock) pending() int {
	c.mu.Lock()
	timers := append([]*mockTimer(nil), c.timers...)
	c.mu.Unlock()

	n := 0
	for _, t := range timers {
		t.mu.Lock()
		if !t.stopped {
			n++
		}
		t.mu.Unlock()
	}
	return n
}

type mockTimer struct {
	mu       sync.Mutex
	fireTime time.Time
	f        func()
	stopped  bool
}

func (t *mockTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

func (t *mockTimer) fire() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	f := t.f
	t.mu.Unlock()
	if f != nil {
		f()
	}
}

// mockRepository answers OriginalResource from a fixed map
type mockRepository struct {
	mu      sync.Mutex
	id      string
	answers map[string]string
	err     error
	calls   int
	changed types.Emitter[struct{}]
}

func newMockRepository(id string, answers map[string]string) *mockRepository {
	if answers == nil {
		answers = map[string]string{}
	}
	return &mockRepository{id: id, answers: answers}
}

func (r *mockRepository) ID() string { return r.id }

func (r *mockRepository) OriginalResource(ctx context.Context, uri string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	return r.answers[uri], nil
}

func (r *mockRepository) OnDidChange(fn func()) func() {
	return r.changed.Subscribe(func(struct{}) { fn() })
}

func (r *mockRepository) setAnswer(uri, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers[uri] = id
}

func (r *mockRepository) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// mockRegistry is an ordered repository list with change events
type mockRegistry struct {
	mu      sync.Mutex
	repos   []types.Repository
	added   types.Emitter[types.Repository]
	removed types.Emitter[types.Repository]
}

func newMockRegistry(repos ...types.Repository) *mockRegistry {
	return &mockRegistry{repos: repos}
}

func (r *mockRegistry) Repositories() []types.Repository {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Repository(nil), r.repos...)
}

func (r *mockRegistry) OnDidAdd(fn func(types.Repository)) func() { return r.added.Subscribe(fn) }

func (r *mockRegistry) OnDidRemove(fn func(types.Repository)) func() { return r.removed.Subscribe(fn) }

func (r *mockRegistry) add(repo types.Repository) {
	r.mu.Lock()
	r.repos = append(r.repos, repo)
	r.mu.Unlock()
	r.added.Emit(repo)
}

func (r *mockRegistry) remove(repo types.Repository) {
	r.mu.Lock()
	for i, existing := range r.repos {
		if existing == repo {
			r.repos = append(r.repos[:i], r.repos[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	r.removed.Emit(repo)
}

// mockResolver registers originals in Models under a per-acquisition uri
type mockResolver struct {
	mu       sync.Mutex
	models   *text.Models
	contents map[string][]string
	err      error
	seq      int
	acquired []*mockOriginal

	// when set, Resolve signals started and waits for block
	started chan struct{}
	block   chan struct{}
}

func newMockResolver(models *text.Models, contents map[string][]string) *mockResolver {
	return &mockResolver{models: models, contents: contents}
}

func (r *mockResolver) Resolve(ctx context.Context, id string) (types.OriginalBuffer, error) {
	r.mu.Lock()
	started, block := r.started, r.block
	r.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	lines, ok := r.contents[id]
	if !ok {
		return nil, fmt.Errorf("no content for %s", id)
	}
	r.seq++
	o := &mockOriginal{id: id, uri: fmt.Sprintf("%s#%d", id, r.seq), resolver: r}
	r.models.Set(o.uri, lines)
	r.acquired = append(r.acquired, o)
	return o, nil
}

// live returns the originals not yet disposed
func (r *mockResolver) live() []*mockOriginal {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*mockOriginal
	for _, o := range r.acquired {
		if o.disposed == 0 {
			out = append(out, o)
		}
	}
	return out
}

func (r *mockResolver) all() []*mockOriginal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*mockOriginal(nil), r.acquired...)
}

type mockOriginal struct {
	id       string
	uri      string
	resolver *mockResolver
	disposed int
}

func (o *mockOriginal) ID() string  { return o.id }
func (o *mockOriginal) URI() string { return o.uri }

func (o *mockOriginal) Lines() []string {
	lines, _ := o.resolver.models.Lines(o.uri)
	return lines
}

func (o *mockOriginal) Dispose() {
	o.resolver.mu.Lock()
	defer o.resolver.mu.Unlock()
	o.disposed++
	o.resolver.models.Remove(o.uri)
}

func (o *mockOriginal) disposeCount() int {
	o.resolver.mu.Lock()
	defer o.resolver.mu.Unlock()
	return o.disposed
}

// mockOracle wraps a real oracle. When set, Diff signals started, waits
// for block and signals returned on the way out; err replaces the result.
type mockOracle struct {
	inner types.DiffOracle

	mu       sync.Mutex
	err      error
	started  chan struct{}
	block    chan struct{}
	returned chan struct{}
}

func (o *mockOracle) CanDiff(ctx context.Context, originalID, modifiedID string) bool {
	return o.inner.CanDiff(ctx, originalID, modifiedID)
}

func (o *mockOracle) Diff(ctx context.Context, originalID, modifiedID string, opts types.DiffOptions) (types.ChangeSet, error) {
	o.mu.Lock()
	err, started, block, returned := o.err, o.started, o.block, o.returned
	o.mu.Unlock()

	if returned != nil {
		defer func() { returned <- struct{}{} }()
	}
	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return o.inner.Diff(ctx, originalID, modifiedID, opts)
}

func (o *mockOracle) setErr(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

// deltaRecorder collects change events
type deltaRecorder struct {
	mu     sync.Mutex
	events []types.ChangeEvent
}

func (r *deltaRecorder) record(ev types.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *deltaRecorder) all() []types.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.ChangeEvent(nil), r.events...)
}

// --- Test helpers ---

const testURI = "file:///work/main.go"

type trackerFixture struct {
	clock    *mockClock
	models   *text.Models
	doc      *text.Document
	repo     *mockRepository
	registry *mockRegistry
	resolver *mockResolver
	tracker  *Tracker
	deltas   *deltaRecorder
}

func newTrackerFixture(original, current []string) *trackerFixture {
	clock := newMockClock()
	models := text.NewModels()
	doc := text.NewDocument(testURI, models, current)
	repo := newMockRepository("git", map[string]string{testURI: "orig://main.go"})
	registry := newMockRegistry(repo)
	resolver := newMockResolver(models, map[string][]string{"orig://main.go": original})

	tracker := NewTracker(doc, Collaborators{
		Registry: registry,
		Resolver: resolver,
		Oracle:   text.NewLineOracle(models, 0),
	}, TrackerConfig{Delay: DefaultDelay}, clock)

	deltas := &deltaRecorder{}
	tracker.OnChangeDelta(deltas.record)

	return &trackerFixture{
		clock:    clock,
		models:   models,
		doc:      doc,
		repo:     repo,
		registry: registry,
		resolver: resolver,
		tracker:  tracker,
		deltas:   deltas,
	}
}

// settle fires the pending coalescing timer and waits for the gate to idle
func (f *trackerFixture) settle() error {
	f.clock.Advance(DefaultDelay)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return f.tracker.Wait(ctx)
}

func (f *trackerFixture) runs() int {
	f.tracker.mu.Lock()
	gate := f.tracker.gate
	f.tracker.mu.Unlock()
	if gate == nil {
		return 0
	}
	return gate.Runs()
}
