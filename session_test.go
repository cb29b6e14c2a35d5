package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirtydiff/buffer"
	"dirtydiff/engine"
	"dirtydiff/scm"
	"dirtydiff/types"
)

const waitFor = 3 * time.Second
const tick = 10 * time.Millisecond

type compareDone struct {
	token   int
	outcome types.CompareOutcome
}

type fakeEditor struct {
	mu        sync.Mutex
	buffers   map[int]*buffer.Snapshot
	published map[int][]types.ChangeEvent
	opened    []string
	closed    []string
	done      []compareDone
	openErr   error
}

func newFakeEditor() *fakeEditor {
	return &fakeEditor{
		buffers:   make(map[int]*buffer.Snapshot),
		published: make(map[int][]types.ChangeEvent),
	}
}

func (e *fakeEditor) setBuffer(snap buffer.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffers[snap.Bufnr] = &snap
}

func (e *fakeEditor) ReadBuffer(bufnr int) (*buffer.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap, ok := e.buffers[bufnr]
	if !ok {
		return nil, errors.New("no such buffer")
	}
	out := *snap
	out.Lines = append([]string(nil), snap.Lines...)
	return &out, nil
}

func (e *fakeEditor) Publish(bufnr int, ev types.ChangeEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.published[bufnr] = append(e.published[bufnr], ev)
	return nil
}

func (e *fakeEditor) CompareDone(token int, outcome types.CompareOutcome) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.done = append(e.done, compareDone{token: token, outcome: outcome})
	return nil
}

func (e *fakeEditor) Open(ctx context.Context, originalRef, modifiedRef, id, label string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.openErr != nil {
		return e.openErr
	}
	e.opened = append(e.opened, id)
	return nil
}

func (e *fakeEditor) Close(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = append(e.closed, id)
	return nil
}

// lastChanges returns the ChangeSet of the latest delta for bufnr
func (e *fakeEditor) lastChanges(bufnr int) (types.ChangeSet, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	events := e.published[bufnr]
	if len(events) == 0 {
		return nil, false
	}
	return events[len(events)-1].Changes, true
}

func (e *fakeEditor) snapshot() (opened, closed []string, done []compareDone) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.opened...), append([]string(nil), e.closed...), append([]compareDone(nil), e.done...)
}

type countingKicker struct {
	kicks atomic.Int32
}

func (k *countingKicker) Kick() { k.kicks.Add(1) }

type sessionFixture struct {
	session *Session
	editor  *fakeEditor
	kicker  *countingKicker
	dir     string
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()

	config := defaultConfig()
	config.DiffDelay = 0
	config.DiskFallback = true

	registry := scm.NewRegistry()
	disk := scm.NewDiskProvider()
	registry.Add(disk, scm.PriorityDisk)

	f := &sessionFixture{
		editor: newFakeEditor(),
		kicker: &countingKicker{},
		dir:    t.TempDir(),
	}
	f.session = NewSession(services{
		config:   config,
		registry: registry,
		poller:   f.kicker,
		disk:     disk,
		clock:    engine.NewRealClock(),
	}, f.editor)
	f.session.Start()
	t.Cleanup(f.session.Close)
	return f
}

func (f *sessionFixture) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func (f *sessionFixture) openBuffer(t *testing.T, bufnr int, path string, lines ...string) {
	t.Helper()
	f.editor.setBuffer(buffer.Snapshot{Bufnr: bufnr, Name: path, Lines: lines, Tick: 1})
	f.session.Enqueue(Event{Type: EventBufEnter, Bufnr: bufnr})
}

func (f *sessionFixture) waitChanges(t *testing.T, bufnr int, want types.ChangeSet) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, ok := f.editor.lastChanges(bufnr)
		return ok && got.Equal(want)
	}, waitFor, tick)
}

func TestSession_PublishesChangesAgainstDisk(t *testing.T) {
	f := newSessionFixture(t)
	path := f.writeFile(t, "a.go", "one\ntwo\nthree\n")

	f.openBuffer(t, 1, path, "one", "TWO", "three")
	f.waitChanges(t, 1, types.ChangeSet{{OriginalStart: 2, OriginalEnd: 2, ModifiedStart: 2, ModifiedEnd: 2}})

	lines, err := f.session.Original(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, lines)
}

func TestSession_TextChangedRefreshesBuffer(t *testing.T) {
	f := newSessionFixture(t)
	path := f.writeFile(t, "a.go", "one\ntwo\n")

	f.openBuffer(t, 1, path, "one", "two", "added")
	f.waitChanges(t, 1, types.ChangeSet{{OriginalStart: 2, OriginalEnd: 0, ModifiedStart: 3, ModifiedEnd: 3}})

	f.editor.setBuffer(buffer.Snapshot{Bufnr: 1, Name: path, Lines: []string{"one", "two"}, Tick: 2})
	f.session.Enqueue(Event{Type: EventTextChanged, Bufnr: 1})
	f.waitChanges(t, 1, nil)
}

func TestSession_BufWriteRereadsDisk(t *testing.T) {
	f := newSessionFixture(t)
	path := f.writeFile(t, "a.go", "one\n")

	f.openBuffer(t, 1, path, "uno")
	f.waitChanges(t, 1, types.ChangeSet{{OriginalStart: 1, OriginalEnd: 1, ModifiedStart: 1, ModifiedEnd: 1}})

	f.writeFile(t, "a.go", "uno\n")
	// same size, so push the mtime past the filesystem's resolution
	require.NoError(t, os.Chtimes(path, time.Now().Add(time.Minute), time.Now().Add(time.Minute)))
	f.session.Enqueue(Event{Type: EventBufWrite, Bufnr: 1})

	f.waitChanges(t, 1, nil)
	assert.Positive(t, f.kicker.kicks.Load())
}

func TestSession_NavigationWraps(t *testing.T) {
	f := newSessionFixture(t)
	path := f.writeFile(t, "a.go", "1\n2\n3\n4\n5\n")

	f.openBuffer(t, 1, path, "1", "X", "3", "Y", "5")
	f.waitChanges(t, 1, types.ChangeSet{
		{OriginalStart: 2, OriginalEnd: 2, ModifiedStart: 2, ModifiedEnd: 2},
		{OriginalStart: 4, OriginalEnd: 4, ModifiedStart: 4, ModifiedEnd: 4},
	})

	next, err := f.session.NextChange(1, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, next)

	next, err = f.session.NextChange(1, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, next)

	prev, err := f.session.PreviousChange(1, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, prev)

	prev, err = f.session.PreviousChange(1, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, prev)
}

func TestSession_NavigationWithoutChanges(t *testing.T) {
	f := newSessionFixture(t)
	path := f.writeFile(t, "a.go", "same\n")

	f.openBuffer(t, 1, path, "same")
	require.Eventually(t, func() bool {
		_, err := f.session.Original(1)
		return err == nil
	}, waitFor, tick)

	next, err := f.session.NextChange(1, 1)
	require.NoError(t, err)
	assert.Zero(t, next)
	prev, err := f.session.PreviousChange(1, 1)
	require.NoError(t, err)
	assert.Zero(t, prev)
}

func TestTargetLine(t *testing.T) {
	changes := types.ChangeSet{
		{OriginalStart: 1, OriginalEnd: 2, ModifiedStart: 0, ModifiedEnd: 0},
		{OriginalStart: 5, OriginalEnd: 5, ModifiedStart: 3, ModifiedEnd: 3},
	}
	assert.Equal(t, 1, targetLine(changes, 0))
	assert.Equal(t, 3, targetLine(changes, 1))
	assert.Equal(t, 0, targetLine(changes, -1))
}

func TestSession_BufDeleteUntracks(t *testing.T) {
	f := newSessionFixture(t)
	path := f.writeFile(t, "a.go", "one\n")

	f.openBuffer(t, 1, path, "two")
	f.waitChanges(t, 1, types.ChangeSet{{OriginalStart: 1, OriginalEnd: 1, ModifiedStart: 1, ModifiedEnd: 1}})

	f.session.Enqueue(Event{Type: EventBufDelete, Bufnr: 1})
	require.Eventually(t, func() bool { return f.session.manager.Len() == 0 }, waitFor, tick)
	_, err := f.session.NextChange(1, 1)
	assert.Error(t, err)
}

func TestSession_IgnoresSpecialBuffers(t *testing.T) {
	f := newSessionFixture(t)
	f.editor.setBuffer(buffer.Snapshot{Bufnr: 3, Name: "term://sh", Buftype: "terminal", Tick: 1})
	f.editor.setBuffer(buffer.Snapshot{Bufnr: 4, Name: "", Tick: 1})

	f.session.Enqueue(Event{Type: EventBufEnter, Bufnr: 3})
	f.session.Enqueue(Event{Type: EventBufEnter, Bufnr: 4})
	f.session.Enqueue(Event{Type: EventRepoChanged})

	require.Eventually(t, func() bool { return f.kicker.kicks.Load() == 1 }, waitFor, tick)
	assert.Equal(t, 0, f.session.manager.Len())
	_, err := f.session.Original(3)
	assert.Error(t, err)
}

func TestSession_RenameRetracks(t *testing.T) {
	f := newSessionFixture(t)
	a := f.writeFile(t, "a.go", "a\n")
	b := f.writeFile(t, "b.go", "b\n")

	f.openBuffer(t, 1, a, "changed")
	f.waitChanges(t, 1, types.ChangeSet{{OriginalStart: 1, OriginalEnd: 1, ModifiedStart: 1, ModifiedEnd: 1}})

	f.editor.setBuffer(buffer.Snapshot{Bufnr: 1, Name: b, Lines: []string{"b"}, Tick: 2})
	f.session.Enqueue(Event{Type: EventBufEnter, Bufnr: 1})

	require.Eventually(t, func() bool {
		lines, err := f.session.Original(1)
		return err == nil && len(lines) == 1 && lines[0] == "b"
	}, waitFor, tick)
	assert.Equal(t, 1, f.session.manager.Len())
	_, ok := f.session.manager.Get(scm.FileURI(a))
	assert.False(t, ok)
}

func TestSession_CompareRoundTrip(t *testing.T) {
	f := newSessionFixture(t)

	f.session.Enqueue(Event{Type: EventCompare, Data: compareRequest{
		original: "git:///repo?path=a.go&rev=abc",
		modified: "file:///repo/a.go",
		label:    "a.go (HEAD)",
		token:    7,
	}})

	var id string
	require.Eventually(t, func() bool {
		opened, _, _ := f.editor.snapshot()
		if len(opened) != 1 {
			return false
		}
		id = opened[0]
		return true
	}, waitFor, tick)

	f.session.Enqueue(Event{Type: EventCompareResolve, Data: resolveRequest{id: id, outcome: types.CompareAccept}})

	require.Eventually(t, func() bool {
		_, _, done := f.editor.snapshot()
		return len(done) == 1
	}, waitFor, tick)
	_, closed, done := f.editor.snapshot()
	assert.Equal(t, []string{id}, closed)
	assert.Equal(t, compareDone{token: 7, outcome: types.CompareAccept}, done[0])
}

func TestSession_CompareOpenFailureReverts(t *testing.T) {
	f := newSessionFixture(t)
	f.editor.mu.Lock()
	f.editor.openErr = errors.New("no window")
	f.editor.mu.Unlock()

	f.session.Enqueue(Event{Type: EventCompare, Data: compareRequest{
		original: "o", modified: "m", label: "l", token: 1,
	}})

	require.Eventually(t, func() bool {
		_, _, done := f.editor.snapshot()
		return len(done) == 1
	}, waitFor, tick)
	_, _, done := f.editor.snapshot()
	assert.Equal(t, types.CompareRevert, done[0].outcome)
}

func TestSession_CloseRevertsPendingCompares(t *testing.T) {
	f := newSessionFixture(t)

	f.session.Enqueue(Event{Type: EventCompare, Data: compareRequest{
		original: "o", modified: "m", label: "l", token: 2,
	}})
	require.Eventually(t, func() bool {
		opened, _, _ := f.editor.snapshot()
		return len(opened) == 1
	}, waitFor, tick)

	f.session.Close()

	require.Eventually(t, func() bool {
		_, _, done := f.editor.snapshot()
		return len(done) == 1
	}, waitFor, tick)
	_, closed, done := f.editor.snapshot()
	assert.Len(t, closed, 1)
	assert.Equal(t, compareDone{token: 2, outcome: types.CompareRevert}, done[0])
}

func TestSession_EnqueueAfterCloseIsDropped(t *testing.T) {
	f := newSessionFixture(t)
	f.session.Close()

	f.session.Enqueue(Event{Type: EventRepoChanged})
	time.Sleep(5 * tick)
	assert.Zero(t, f.kicker.kicks.Load())
}

func TestEventTypeFromString(t *testing.T) {
	assert.Equal(t, EventBufEnter, EventTypeFromString("buf_enter"))
	assert.Equal(t, EventRepoChanged, EventTypeFromString("repo_changed"))
	assert.Equal(t, EventType(""), EventTypeFromString("compare"))
	assert.Equal(t, EventType(""), EventTypeFromString("bogus"))
}
