package engine

import "dirtydiff/types"

// FindNext returns the index of the first change at or after line
// (inclusive) or strictly after it, wrapping to 0. Returns -1 for an empty
// set. Inclusive matching uses the change's last modified line, so a cursor
// inside a change finds that change.
func FindNext(changes types.ChangeSet, line int, inclusive bool) int {
	if len(changes) == 0 {
		return -1
	}
	for i, c := range changes {
		if inclusive {
			if c.ModifiedEndLine() >= line {
				return i
			}
		} else if c.ModifiedStart > line {
			return i
		}
	}
	return 0
}

// FindPrevious returns the index of the last change at or before line
// (inclusive) or strictly before it, wrapping to the last index. Returns -1
// for an empty set.
func FindPrevious(changes types.ChangeSet, line int, inclusive bool) int {
	if len(changes) == 0 {
		return -1
	}
	for i := len(changes) - 1; i >= 0; i-- {
		c := changes[i]
		if inclusive {
			if c.ModifiedStart <= line {
				return i
			}
		} else if c.ModifiedEndLine() < line {
			return i
		}
	}
	return len(changes) - 1
}
