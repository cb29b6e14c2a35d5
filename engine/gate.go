package engine

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"dirtydiff/logger"
	"dirtydiff/metrics"
)

// DefaultDelay is the coalescing window used when none is configured
const DefaultDelay = 200 * time.Millisecond

type gateState int

const (
	gateIdle gateState = iota
	gateScheduled
	gateRunning
	gateRunningRequeued
	gateClosed
)

// String returns a human-readable name for the state
func (s gateState) String() string {
	switch s {
	case gateIdle:
		return "Idle"
	case gateScheduled:
		return "Scheduled"
	case gateRunning:
		return "Running"
	case gateRunningRequeued:
		return "RunningRequeued"
	case gateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Gate merges bursts of triggers into a bounded number of task runs.
//
// State Machine:
//
//	            Trigger                 timer fires
//	  +------+ ---------> +-----------+ -----------> +---------+
//	  | Idle |            | Scheduled |              | Running |
//	  +------+ <--------- +-----------+              +---------+
//	     ^      run done        | Trigger: absorbed    |     ^
//	     |                                     Trigger |     | run done:
//	     +------------------------------------------ +-v-----+---------+
//	                 (from Running, run done)        | RunningRequeued |
//	                                                 +-----------------+
//	                                                   Trigger: absorbed
//
//	Close (any -> Closed): timer stopped, context cancelled, late
//	completions ignored.
//
// Runs never overlap. A trigger during a run queues exactly one follow-up
// run, started as soon as the current one returns.
type Gate struct {
	mu     sync.Mutex
	clock  Clock
	delay  time.Duration
	task   func(ctx context.Context)
	state  gateState
	timer  Timer
	ctx    context.Context
	cancel context.CancelFunc
	runs   int
	idle   chan struct{} // closed while the gate is idle or closed
}

func NewGate(ctx context.Context, clock Clock, delay time.Duration, task func(ctx context.Context)) *Gate {
	if delay < 0 {
		delay = 0
	}
	gctx, cancel := context.WithCancel(ctx)
	idle := make(chan struct{})
	close(idle)
	return &Gate{
		clock:  clock,
		delay:  delay,
		task:   task,
		state:  gateIdle,
		ctx:    gctx,
		cancel: cancel,
		idle:   idle,
	}
}

// Trigger requests a run. It reports whether the request started a new
// schedule or queued a follow-up; absorbed requests return false.
func (g *Gate) Trigger() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case gateIdle:
		g.state = gateScheduled
		g.idle = make(chan struct{})
		g.timer = g.clock.AfterFunc(g.delay, g.fire)
		metrics.GateTriggers.WithLabelValues("scheduled").Inc()
		return true
	case gateRunning:
		g.state = gateRunningRequeued
		metrics.GateTriggers.WithLabelValues("queued").Inc()
		return true
	case gateScheduled, gateRunningRequeued:
		metrics.GateTriggers.WithLabelValues("absorbed").Inc()
		return false
	default:
		return false
	}
}

func (g *Gate) fire() {
	g.mu.Lock()
	if g.state != gateScheduled {
		g.mu.Unlock()
		return
	}
	g.state = gateRunning
	g.timer = nil
	g.mu.Unlock()

	go g.run()
}

func (g *Gate) run() {
	defer g.finish()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("gate task panic recovered: %v\n%s", r, debug.Stack())
		}
	}()

	g.mu.Lock()
	g.runs++
	g.mu.Unlock()

	g.task(g.ctx)
}

func (g *Gate) finish() {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case gateRunning:
		g.state = gateIdle
		close(g.idle)
	case gateRunningRequeued:
		g.state = gateRunning
		go g.run()
	}
}

// Close stops the gate for good. A run in progress is not interrupted,
// but its context is cancelled and no follow-up is started.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == gateClosed {
		return
	}
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	wasIdle := g.state == gateIdle
	g.state = gateClosed
	g.cancel()
	if !wasIdle {
		close(g.idle)
	}
}

// Wait blocks until the gate has nothing scheduled or running
func (g *Gate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		idle := g.idle
		state := g.state
		g.mu.Unlock()

		if state == gateIdle || state == gateClosed {
			return nil
		}
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Runs returns the number of task runs started so far
func (g *Gate) Runs() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.runs
}
