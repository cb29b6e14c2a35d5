package text

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"dirtydiff/types"
)

// applySplices replays splices in order against a copy of changes
func applySplices(changes types.ChangeSet, splices []types.Splice) types.ChangeSet {
	out := changes.Clone()
	offset := 0
	for _, s := range splices {
		start := s.Start + offset
		tail := append(types.ChangeSet{}, out[start+s.DeleteCount:]...)
		out = append(append(out[:start], s.Insert...), tail...)
		offset += len(s.Insert) - s.DeleteCount
	}
	return out
}

func change(origStart, origEnd, modStart, modEnd int) types.Change {
	return types.Change{OriginalStart: origStart, OriginalEnd: origEnd, ModifiedStart: modStart, ModifiedEnd: modEnd}
}

func TestSortedDiff_InsertOnly(t *testing.T) {
	first := change(1, 1, 1, 1)
	second := change(5, 5, 6, 6)

	splices := SortedDiff(types.ChangeSet{first}, types.ChangeSet{first, second})

	assert.Equal(t, []types.Splice{{Start: 1, DeleteCount: 0, Insert: []types.Change{second}}}, splices)
}

func TestSortedDiff(t *testing.T) {
	a := change(1, 1, 1, 1)
	b := change(3, 3, 3, 3)
	c := change(7, 0, 8, 9)
	d := change(12, 14, 14, 0)
	bShifted := change(3, 3, 4, 4)

	tests := []struct {
		name   string
		before types.ChangeSet
		after  types.ChangeSet
		want   []types.Splice
	}{
		{
			name:   "identical",
			before: types.ChangeSet{a, b},
			after:  types.ChangeSet{a, b},
			want:   nil,
		},
		{
			name:   "both empty",
			before: nil,
			after:  nil,
			want:   nil,
		},
		{
			name:   "from empty",
			before: nil,
			after:  types.ChangeSet{a, b},
			want:   []types.Splice{{Start: 0, DeleteCount: 0, Insert: []types.Change{a, b}}},
		},
		{
			name:   "to empty",
			before: types.ChangeSet{a, b},
			after:  nil,
			want:   []types.Splice{{Start: 0, DeleteCount: 2}},
		},
		{
			name:   "replace middle merges delete and insert",
			before: types.ChangeSet{a, b, c},
			after:  types.ChangeSet{a, bShifted, c},
			want:   []types.Splice{{Start: 1, DeleteCount: 1, Insert: []types.Change{bShifted}}},
		},
		{
			name:   "separate edits stay separate",
			before: types.ChangeSet{a, b, c, d},
			after:  types.ChangeSet{b, d},
			want: []types.Splice{
				{Start: 0, DeleteCount: 1},
				{Start: 2, DeleteCount: 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SortedDiff(tt.before, tt.after)
			assert.Equal(t, tt.want, got)
			assert.True(t, applySplices(tt.before, got).Equal(tt.after), "splices must reproduce the new set")
		})
	}
}

func TestSortedDiff_DoesNotAliasInput(t *testing.T) {
	a := change(1, 1, 1, 1)
	b := change(2, 0, 3, 3)
	after := types.ChangeSet{a, b}

	splices := SortedDiff(nil, after)
	splices[0].Insert[0] = change(9, 9, 9, 9)

	assert.Equal(t, a, after[0])
}
