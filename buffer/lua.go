package buffer

import "dirtydiff/types"

// ChangeToLua converts a change to the table shape the Lua module reads
func ChangeToLua(c types.Change) map[string]any {
	return map[string]any{
		"original_start": c.OriginalStart,
		"original_end":   c.OriginalEnd,
		"modified_start": c.ModifiedStart,
		"modified_end":   c.ModifiedEnd,
		"kind":           c.Kind().String(),
	}
}

func ChangesToLua(changes types.ChangeSet) []map[string]any {
	out := make([]map[string]any, len(changes))
	for i, c := range changes {
		out[i] = ChangeToLua(c)
	}
	return out
}

// SplicesToLua converts splices, shifting Start to Lua's 1-based indexing
func SplicesToLua(splices []types.Splice) []map[string]any {
	out := make([]map[string]any, len(splices))
	for i, s := range splices {
		out[i] = map[string]any{
			"start":        s.Start + 1,
			"delete_count": s.DeleteCount,
			"insert":       ChangesToLua(s.Insert),
		}
	}
	return out
}
