package engine

import (
	"sync"

	"dirtydiff/logger"
	"dirtydiff/types"
)

// Manager owns one Tracker per document uri
type Manager struct {
	mu       sync.Mutex
	deps     Collaborators
	config   TrackerConfig
	clock    Clock
	trackers map[string]*Tracker
	docs     map[string]types.Document
	stopped  bool
}

func NewManager(deps Collaborators, config TrackerConfig, clock Clock) *Manager {
	if clock == nil {
		clock = NewRealClock()
	}
	return &Manager{
		deps:     deps,
		config:   config,
		clock:    clock,
		trackers: make(map[string]*Tracker),
		docs:     make(map[string]types.Document),
	}
}

// Track attaches a tracker to doc. Tracking the same document twice returns
// the existing tracker; a different document under a known uri replaces the
// old tracker.
func (m *Manager) Track(doc types.Document) (*Tracker, error) {
	uri := doc.URI()

	m.mu.Lock()
	for {
		if m.stopped {
			m.mu.Unlock()
			return nil, ErrDetached
		}
		existing, ok := m.trackers[uri]
		if !ok {
			break
		}
		if m.docs[uri] == doc {
			m.mu.Unlock()
			return existing, nil
		}
		delete(m.trackers, uri)
		delete(m.docs, uri)
		m.mu.Unlock()
		// Stop or another Track may get in while the lock is released
		existing.Detach()
		m.mu.Lock()
	}

	tracker := NewTracker(doc, m.deps, m.config, m.clock)
	m.trackers[uri] = tracker
	m.docs[uri] = doc
	m.mu.Unlock()

	if err := tracker.Attach(); err != nil {
		m.mu.Lock()
		if m.trackers[uri] == tracker {
			delete(m.trackers, uri)
			delete(m.docs, uri)
		}
		m.mu.Unlock()
		return nil, err
	}
	logger.Debug("manager: tracking %s", uri)
	return tracker, nil
}

// Untrack detaches the tracker for uri. Reports whether one existed.
func (m *Manager) Untrack(uri string) bool {
	m.mu.Lock()
	tracker, ok := m.trackers[uri]
	delete(m.trackers, uri)
	delete(m.docs, uri)
	m.mu.Unlock()

	if ok {
		tracker.Detach()
	}
	return ok
}

// Get returns the tracker for uri
func (m *Manager) Get(uri string) (*Tracker, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tracker, ok := m.trackers[uri]
	return tracker, ok
}

// TriggerAll schedules a recompute on every tracker
func (m *Manager) TriggerAll() {
	for _, tracker := range m.snapshot() {
		tracker.Trigger()
	}
}

// Len returns the number of tracked documents
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.trackers)
}

// Stop detaches every tracker and rejects further Track calls
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	trackers := make([]*Tracker, 0, len(m.trackers))
	for _, tracker := range m.trackers {
		trackers = append(trackers, tracker)
	}
	m.trackers = make(map[string]*Tracker)
	m.docs = make(map[string]types.Document)
	m.mu.Unlock()

	for _, tracker := range trackers {
		tracker.Detach()
	}
}

func (m *Manager) snapshot() []*Tracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Tracker, 0, len(m.trackers))
	for _, tracker := range m.trackers {
		out = append(out, tracker)
	}
	return out
}
