package text

import "dirtydiff/types"

// SortedDiff computes the splices that turn before into after. Both sets
// must be sorted by types.CompareChanges. Elements present in both are kept,
// so an unchanged prefix or suffix never shows up in the result, and
// adjacent edits are merged into one splice.
func SortedDiff(before, after types.ChangeSet) []types.Splice {
	var result []types.Splice

	pushSplice := func(start, deleteCount int, insert []types.Change) {
		if deleteCount == 0 && len(insert) == 0 {
			return
		}
		if n := len(result); n > 0 {
			latest := &result[n-1]
			if latest.Start+latest.DeleteCount == start {
				latest.DeleteCount += deleteCount
				latest.Insert = append(latest.Insert, insert...)
				return
			}
		}
		result = append(result, types.Splice{
			Start:       start,
			DeleteCount: deleteCount,
			Insert:      append([]types.Change(nil), insert...),
		})
	}

	beforeIdx, afterIdx := 0, 0
	for {
		if beforeIdx == len(before) {
			pushSplice(beforeIdx, 0, after[afterIdx:])
			break
		}
		if afterIdx == len(after) {
			pushSplice(beforeIdx, len(before)-beforeIdx, nil)
			break
		}

		n := types.CompareChanges(before[beforeIdx], after[afterIdx])
		switch {
		case n == 0:
			beforeIdx++
			afterIdx++
		case n < 0:
			pushSplice(beforeIdx, 1, nil)
			beforeIdx++
		default:
			pushSplice(beforeIdx, 0, []types.Change{after[afterIdx]})
			afterIdx++
		}
	}

	return result
}
