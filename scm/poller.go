package scm

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"dirtydiff/logger"
	"dirtydiff/types"
)

// DefaultPollInterval is how often repositories are checked for moved refs
const DefaultPollInterval = 2 * time.Second

const maxConcurrentPolls = 4

// pollable is implemented by repositories whose state can be refreshed
type pollable interface {
	Poll(ctx context.Context) (bool, error)
}

// Poller refreshes every registered repository on an interval and drops
// repositories whose work tree is gone
type Poller struct {
	registry *Registry
	interval time.Duration
	kick     chan struct{}
}

func NewPoller(registry *Registry, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		registry: registry,
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// Kick requests a poll as soon as possible
func (p *Poller) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-p.kick:
		}
		p.PollOnce(ctx)
	}
}

// PollOnce polls every registered repository and returns how many moved
func (p *Poller) PollOnce(ctx context.Context) int {
	defer logger.Trace("scm.Poller.PollOnce")()

	repos := p.registry.Repositories()
	moved := make([]bool, len(repos))
	gone := make([]bool, len(repos))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPolls)
	for i, repo := range repos {
		pr, ok := repo.(pollable)
		if !ok {
			continue
		}
		g.Go(func() error {
			changed, err := pr.Poll(gctx)
			switch {
			case errors.Is(err, ErrRepositoryGone):
				gone[i] = true
			case err != nil:
				logger.Debug("scm: polling %s: %v", repo.ID(), err)
			default:
				moved[i] = changed
			}
			return nil
		})
	}
	g.Wait()

	n := 0
	for i, repo := range repos {
		if gone[i] {
			p.removeGone(repo)
		}
		if moved[i] {
			n++
		}
	}
	return n
}

func (p *Poller) removeGone(repo types.Repository) {
	if p.registry.Remove(repo) {
		logger.Info("scm: %s no longer exists", repo.ID())
	}
}
