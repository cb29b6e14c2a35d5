package main

import (
	"fmt"

	"github.com/neovim/go-client/nvim"

	"dirtydiff/logger"
	"dirtydiff/types"
)

// registerHandlers exposes s to the Lua module. Notifications are queued on
// the session loop; requests only read tracker state and answer directly.
func registerHandlers(n *nvim.Nvim, s *Session) error {
	handlers := map[string]any{
		"dirtydiff_event": func(_ *nvim.Nvim, event string, bufnr int) {
			eventType := EventTypeFromString(event)
			if eventType == "" {
				logger.Debug("session %d: unknown event %q", s.id, event)
				return
			}
			s.Enqueue(Event{Type: eventType, Bufnr: bufnr})
		},
		"dirtydiff_next": func(_ *nvim.Nvim, bufnr, line int) (int, error) {
			return s.NextChange(bufnr, line)
		},
		"dirtydiff_prev": func(_ *nvim.Nvim, bufnr, line int) (int, error) {
			return s.PreviousChange(bufnr, line)
		},
		"dirtydiff_original": func(_ *nvim.Nvim, bufnr int) ([]string, error) {
			return s.Original(bufnr)
		},
		"dirtydiff_compare": func(_ *nvim.Nvim, original, modified, label string, token int) {
			s.Enqueue(Event{Type: EventCompare, Data: compareRequest{
				original: original,
				modified: modified,
				label:    label,
				token:    token,
			}})
		},
		"dirtydiff_compare_resolve": func(_ *nvim.Nvim, id, outcome string) {
			parsed, ok := types.ParseCompareOutcome(outcome)
			if !ok {
				logger.Warn("session %d: unknown compare outcome %q for %s, reverting", s.id, outcome, id)
			}
			s.Enqueue(Event{Type: EventCompareResolve, Data: resolveRequest{id: id, outcome: parsed}})
		},
	}

	for name, fn := range handlers {
		if err := n.RegisterHandler(name, fn); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	return nil
}
