package compare

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"dirtydiff/logger"
	"dirtydiff/metrics"
	"dirtydiff/types"
)

const (
	scheme = "dirtydiff-compare"
	marker = "comparing"
)

// SyntheticID builds the identifier of the compare view for a triple. It is
// pure and sensitive to the order of originalRef and modifiedRef.
func SyntheticID(originalRef, modifiedRef, label string) string {
	return fmt.Sprintf("%s:%s?original=%s&modified=%s#%s",
		scheme,
		url.PathEscape(label),
		url.QueryEscape(originalRef),
		url.QueryEscape(modifiedRef),
		marker,
	)
}

// Handle is the eventual outcome of a compare session
type Handle struct {
	id      string
	done    chan struct{}
	once    sync.Once
	outcome types.CompareOutcome
}

func newHandle(id string) *Handle {
	return &Handle{id: id, done: make(chan struct{})}
}

// ID returns the synthetic identifier of the session
func (h *Handle) ID() string { return h.id }

// Done is closed once the session is settled
func (h *Handle) Done() <-chan struct{} { return h.done }

// Outcome is only meaningful after Done is closed
func (h *Handle) Outcome() types.CompareOutcome {
	select {
	case <-h.done:
		return h.outcome
	default:
		return types.CompareRevert
	}
}

// Wait blocks until the session settles or ctx is done
func (h *Handle) Wait(ctx context.Context) (types.CompareOutcome, error) {
	select {
	case <-h.done:
		return h.outcome, nil
	case <-ctx.Done():
		return types.CompareRevert, ctx.Err()
	}
}

func (h *Handle) settle(outcome types.CompareOutcome) bool {
	settled := false
	h.once.Do(func() {
		h.outcome = outcome
		close(h.done)
		settled = true
	})
	return settled
}

// Coordinator deduplicates compare requests and settles them when the user
// decides. Every settled session has its view closed through the presenter.
type Coordinator struct {
	mu        sync.Mutex
	presenter types.ComparePresenter
	pending   map[string]*Handle
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewCoordinator(presenter types.ComparePresenter) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		presenter: presenter,
		pending:   make(map[string]*Handle),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Compare presents originalRef against modifiedRef under label. A request
// for a triple that is still pending returns the existing handle and does
// not open another view.
func (c *Coordinator) Compare(ctx context.Context, originalRef, modifiedRef, label string) *Handle {
	id := SyntheticID(originalRef, modifiedRef, label)

	c.mu.Lock()
	if h, ok := c.pending[id]; ok {
		c.mu.Unlock()
		return h
	}
	h := newHandle(id)
	c.pending[id] = h
	c.mu.Unlock()

	metrics.ComparePending.Inc()
	logger.Debug("compare: opening %s", id)

	if err := c.presenter.Open(ctx, originalRef, modifiedRef, id, label); err != nil {
		logger.Warn("compare: opening %s failed: %v", id, err)
		c.Resolve(id, types.CompareRevert)
	}
	return h
}

// Resolve settles the pending session id. Unknown or already settled
// identifiers are ignored and reported as false.
func (c *Coordinator) Resolve(id string, outcome types.CompareOutcome) bool {
	c.mu.Lock()
	h, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		logger.Debug("compare: ignoring %s for unknown %s", outcome, id)
		return false
	}

	h.settle(outcome)
	metrics.ComparePending.Dec()
	metrics.CompareSessions.WithLabelValues(outcome.String()).Inc()

	if err := c.presenter.Close(c.ctx, id); err != nil {
		logger.Warn("compare: closing %s failed: %v", id, err)
	}
	return true
}

// Pending returns the number of unsettled sessions
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close reverts every pending session
func (c *Coordinator) Close() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.Resolve(id, types.CompareRevert)
	}
	c.cancel()
}
