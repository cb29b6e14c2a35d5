package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"dirtydiff/buffer"
	"dirtydiff/compare"
	"dirtydiff/engine"
	"dirtydiff/logger"
	"dirtydiff/scm"
	"dirtydiff/text"
	"dirtydiff/types"
)

// editor is what a session needs from the connected Neovim instance.
// Implemented by buffer.Client.
type editor interface {
	types.ComparePresenter
	ReadBuffer(bufnr int) (*buffer.Snapshot, error)
	Publish(bufnr int, ev types.ChangeEvent) error
	CompareDone(token int, outcome types.CompareOutcome) error
}

// kicker requests an early repository poll
type kicker interface {
	Kick()
}

// services are shared by every session of a daemon
type services struct {
	config   Config
	registry *scm.Registry
	poller   kicker
	disk     *scm.DiskProvider
	clock    engine.Clock
}

type trackedBuffer struct {
	doc         *buffer.Document
	tracker     *engine.Tracker
	unsubscribe func()
}

var sessionSeq atomic.Int64

// Session serves one Neovim connection. Editor events are queued and
// handled one at a time on the session loop, never on the rpc goroutine,
// because handling them calls back into Neovim.
type Session struct {
	id          int64
	services    services
	editor      editor
	models      *text.Models
	manager     *engine.Manager
	coordinator *compare.Coordinator

	mu      sync.Mutex
	buffers map[int]*trackedBuffer

	queueMu sync.Mutex
	queue   []Event
	wake    chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	started   atomic.Bool
	closeOnce sync.Once
}

func NewSession(svc services, ed editor) *Session {
	models := text.NewModels()
	deps := engine.Collaborators{
		Registry: svc.registry,
		Resolver: scm.NewResolver(models),
		Oracle:   svc.config.newOracle(models),
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:          sessionSeq.Add(1),
		services:    svc,
		editor:      ed,
		models:      models,
		manager:     engine.NewManager(deps, svc.config.trackerConfig(), svc.clock),
		coordinator: compare.NewCoordinator(ed),
		buffers:     make(map[int]*trackedBuffer),
		wake:        make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// Start runs the event loop until Close
func (s *Session) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(s.done)
		s.loop()
	}()
}

// Enqueue queues ev for the event loop. It never blocks.
func (s *Session) Enqueue(ev Event) {
	if s.ctx.Err() != nil {
		return
	}
	s.queueMu.Lock()
	s.queue = append(s.queue, ev)
	s.queueMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}

		for {
			s.queueMu.Lock()
			if len(s.queue) == 0 {
				s.queueMu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
			s.queueMu.Unlock()

			if s.ctx.Err() != nil {
				return
			}
			s.dispatch(ev)
		}
	}
}

func (s *Session) dispatch(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("session %d: event handler panic recovered for event %v: %v\n%s", s.id, ev.Type, r, debug.Stack())
		}
	}()

	switch ev.Type {
	case EventBufEnter, EventTextChanged:
		s.syncBuffer(ev.Bufnr)
	case EventBufWrite:
		if s.services.disk != nil {
			s.services.disk.Notify()
		}
		s.kickPoller()
		s.syncBuffer(ev.Bufnr)
	case EventBufDelete:
		s.untrack(ev.Bufnr)
	case EventRepoChanged:
		s.kickPoller()
		s.manager.TriggerAll()
	case EventCompare:
		req, ok := ev.Data.(compareRequest)
		if !ok {
			logger.Warn("session %d: malformed compare event", s.id)
			return
		}
		s.compare(req)
	case EventCompareResolve:
		req, ok := ev.Data.(resolveRequest)
		if !ok {
			logger.Warn("session %d: malformed compare resolve event", s.id)
			return
		}
		s.coordinator.Resolve(req.id, req.outcome)
	default:
		logger.Debug("session %d: ignoring event %q", s.id, ev.Type)
	}
}

func (s *Session) kickPoller() {
	if s.services.poller != nil {
		s.services.poller.Kick()
	}
}

// syncBuffer reads bufnr and starts or refreshes its tracker
func (s *Session) syncBuffer(bufnr int) {
	log := logger.WithField("bufnr", bufnr)

	snap, err := s.editor.ReadBuffer(bufnr)
	if err != nil {
		log.Warnf("session %d: read buffer: %v", s.id, err)
		return
	}

	s.mu.Lock()
	entry, ok := s.buffers[bufnr]
	s.mu.Unlock()

	if ok && entry.doc.Path() == snap.Name && snap.Trackable() {
		entry.doc.Apply(snap)
		return
	}
	if ok {
		// renamed or turned into a special buffer
		s.untrack(bufnr)
	}
	if !snap.Trackable() {
		return
	}
	s.track(snap)
}

func (s *Session) track(snap *buffer.Snapshot) {
	log := logger.WithField("bufnr", snap.Bufnr)

	if _, err := s.services.registry.Discover(s.ctx, filepath.Dir(snap.Name), s.services.config.GitRef); err != nil {
		if errors.Is(err, scm.ErrNotTracked) {
			log.Debugf("session %d: %s is not in a git work tree", s.id, snap.Name)
		} else {
			log.Warnf("session %d: discover repository for %s: %v", s.id, snap.Name, err)
		}
	}

	doc := buffer.NewDocument(s.models, snap)
	tracker, err := s.manager.Track(doc)
	if err != nil {
		log.Warnf("session %d: track %s: %v", s.id, snap.Name, err)
		doc.Close()
		return
	}

	bufnr := snap.Bufnr
	unsubscribe, err := tracker.OnChangeDelta(func(ev types.ChangeEvent) {
		if err := s.editor.Publish(bufnr, ev); err != nil {
			logger.WithField("bufnr", bufnr).Debugf("session %d: publish: %v", s.id, err)
		}
	})
	if err != nil {
		s.manager.Untrack(doc.URI())
		doc.Close()
		return
	}

	s.mu.Lock()
	s.buffers[bufnr] = &trackedBuffer{doc: doc, tracker: tracker, unsubscribe: unsubscribe}
	s.mu.Unlock()
	log.Debugf("session %d: tracking %s", s.id, doc.URI())
}

func (s *Session) untrack(bufnr int) {
	s.mu.Lock()
	entry, ok := s.buffers[bufnr]
	delete(s.buffers, bufnr)
	s.mu.Unlock()

	if !ok {
		return
	}
	entry.unsubscribe()
	s.manager.Untrack(entry.doc.URI())
	entry.doc.Close()
	logger.WithField("bufnr", bufnr).Debugf("session %d: untracked %s", s.id, entry.doc.URI())
}

func (s *Session) tracker(bufnr int) (*engine.Tracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.buffers[bufnr]
	if !ok {
		return nil, fmt.Errorf("buffer %d is not tracked", bufnr)
	}
	return entry.tracker, nil
}

// NextChange returns the line of the first change strictly after the
// 1-based line in bufnr, wrapping around. 0 when there are no changes.
func (s *Session) NextChange(bufnr, line int) (int, error) {
	tracker, err := s.tracker(bufnr)
	if err != nil {
		return 0, err
	}
	changes := tracker.Changes()
	return targetLine(changes, engine.FindNext(changes, line, false)), nil
}

// PreviousChange mirrors NextChange
func (s *Session) PreviousChange(bufnr, line int) (int, error) {
	tracker, err := s.tracker(bufnr)
	if err != nil {
		return 0, err
	}
	changes := tracker.Changes()
	return targetLine(changes, engine.FindPrevious(changes, line, false)), nil
}

// targetLine is where the cursor goes for changes[i]. A deletion at the
// top of the buffer is anchored to line 1.
func targetLine(changes types.ChangeSet, i int) int {
	if i < 0 {
		return 0
	}
	return max(changes[i].ModifiedStart, 1)
}

// Original returns the content bufnr is being diffed against
func (s *Session) Original(bufnr int) ([]string, error) {
	tracker, err := s.tracker(bufnr)
	if err != nil {
		return nil, err
	}
	lines, ok := tracker.OriginalLines()
	if !ok {
		return nil, fmt.Errorf("buffer %d has no original", bufnr)
	}
	return lines, nil
}

func (s *Session) compare(req compareRequest) {
	handle := s.coordinator.Compare(s.ctx, req.original, req.modified, req.label)
	go func() {
		outcome, err := handle.Wait(s.ctx)
		if err != nil {
			outcome = types.CompareRevert
		}
		if err := s.editor.CompareDone(req.token, outcome); err != nil {
			logger.Debug("session %d: compare done for token %d: %v", s.id, req.token, err)
		}
	}()
}

// Close stops the loop, reverts pending compares and detaches every tracker
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.started.Load() {
			<-s.done
		}

		s.coordinator.Close()
		s.manager.Stop()

		s.mu.Lock()
		buffers := s.buffers
		s.buffers = make(map[int]*trackedBuffer)
		s.mu.Unlock()
		for _, entry := range buffers {
			entry.unsubscribe()
			entry.doc.Close()
		}
		logger.Debug("session %d: closed", s.id)
	})
}
