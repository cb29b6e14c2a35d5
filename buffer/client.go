package buffer

import (
	"context"
	"fmt"

	"github.com/neovim/go-client/nvim"

	"dirtydiff/logger"
	"dirtydiff/types"
)

// Snapshot is the state of one Neovim buffer read in a single round-trip
type Snapshot struct {
	Bufnr   int
	Name    string
	Lines   []string
	Tick    int
	Buftype string
}

// Trackable reports whether the buffer is a named, ordinary file buffer
func (s *Snapshot) Trackable() bool {
	return s.Name != "" && s.Buftype == ""
}

type bufferMeta struct {
	Tick    int    `msgpack:"tick"`
	Buftype string `msgpack:"buftype"`
}

// Client is the Neovim side of a session: it reads buffers, pushes change
// deltas to the Lua module and implements types.ComparePresenter.
type Client struct {
	nvim *nvim.Nvim
}

func NewClient(n *nvim.Nvim) *Client {
	return &Client{nvim: n}
}

// ReadBuffer fetches name, content and changedtick of bufnr
func (c *Client) ReadBuffer(bufnr int) (*Snapshot, error) {
	defer logger.Trace("buffer.Client.ReadBuffer")()
	if c.nvim == nil {
		return nil, fmt.Errorf("nvim client not set")
	}

	batch := c.nvim.NewBatch()

	var name string
	var lines [][]byte
	var meta bufferMeta

	buf := nvim.Buffer(bufnr)
	batch.BufferName(buf, &name)
	batch.BufferLines(buf, 0, -1, false, &lines)
	batch.ExecLua(`
		local b = ...
		return { tick = vim.api.nvim_buf_get_changedtick(b), buftype = vim.bo[b].buftype }
	`, &meta, bufnr)

	if err := batch.Execute(); err != nil {
		return nil, fmt.Errorf("read buffer %d: %w", bufnr, err)
	}

	linesStr := make([]string, len(lines))
	for i, line := range lines {
		linesStr[i] = string(line)
	}

	return &Snapshot{
		Bufnr:   bufnr,
		Name:    name,
		Lines:   linesStr,
		Tick:    meta.Tick,
		Buftype: meta.Buftype,
	}, nil
}

// Publish hands a change delta for bufnr to the Lua module
func (c *Client) Publish(bufnr int, ev types.ChangeEvent) error {
	return c.execLua(`
		local bufnr, splices, changes = ...
		require('dirtydiff').on_changes(bufnr, splices, changes)
	`, bufnr, SplicesToLua(ev.Splices), ChangesToLua(ev.Changes))
}

// Open implements types.ComparePresenter
func (c *Client) Open(ctx context.Context, originalRef, modifiedRef, id, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.execLua(`
		local original, modified, id, label = ...
		require('dirtydiff').open_compare(original, modified, id, label)
	`, originalRef, modifiedRef, id, label)
}

// Close implements types.ComparePresenter
func (c *Client) Close(ctx context.Context, id string) error {
	return c.execLua(`require('dirtydiff').close_compare(...)`, id)
}

// CompareDone reports the outcome of a compare request back to the caller
// that issued token
func (c *Client) CompareDone(token int, outcome types.CompareOutcome) error {
	return c.execLua(`require('dirtydiff').compare_done(...)`, token, outcome.String())
}

func (c *Client) execLua(code string, args ...any) error {
	if c.nvim == nil {
		return fmt.Errorf("nvim client not set")
	}
	batch := c.nvim.NewBatch()
	batch.ExecLua(code, nil, args...)
	if err := batch.Execute(); err != nil {
		logger.Error("error executing lua function: %v", err)
		return err
	}
	return nil
}
