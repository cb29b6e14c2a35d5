package main

import "dirtydiff/types"

type EventType string

// Events sent by the Lua module through dirtydiff_event
const (
	EventBufEnter    EventType = "buf_enter"
	EventTextChanged EventType = "text_changed"
	EventBufWrite    EventType = "buf_write"
	EventBufDelete   EventType = "buf_delete"
	EventRepoChanged EventType = "repo_changed"
)

// Events queued by the rpc handlers themselves
const (
	EventCompare        EventType = "compare"
	EventCompareResolve EventType = "compare_resolve"
)

var editorEvents = map[string]EventType{
	string(EventBufEnter):    EventBufEnter,
	string(EventTextChanged): EventTextChanged,
	string(EventBufWrite):    EventBufWrite,
	string(EventBufDelete):   EventBufDelete,
	string(EventRepoChanged): EventRepoChanged,
}

// EventTypeFromString maps an editor event name to its type, "" if unknown
func EventTypeFromString(s string) EventType {
	return editorEvents[s]
}

type Event struct {
	Type  EventType
	Bufnr int
	Data  any
}

type compareRequest struct {
	original string
	modified string
	label    string
	token    int
}

type resolveRequest struct {
	id      string
	outcome types.CompareOutcome
}
