package engine

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/marginalia-wiki/marginalia/moderationapi/types"
)

func TestOrder(t *testing.T) {
	change := func(id int64, kind types.ChangeKind) *types.PendingChange {
		return &types.PendingChange{ID: id, Kind: kind}
	}
	ids := func(changes []*types.PendingChange) []int64 {
		out := make([]int64, len(changes))
		for i, c := range changes {
			out[i] = c.ID
		}
		return out
	}

	tests := []struct {
		name  string
		input []*types.PendingChange
		want  []int64
	}{
		{
			name: "uploads first, moves last",
			input: []*types.PendingChange{
				change(1, types.KindMove),
				change(2, types.KindEdit),
				change(3, types.KindUpload),
			},
			want: []int64{3, 2, 1},
		},
		{
			name: "ties break oldest first",
			input: []*types.PendingChange{
				change(9, types.KindEdit),
				change(3, types.KindEdit),
				change(5, types.KindEdit),
			},
			want: []int64{3, 5, 9},
		},
		{
			name: "mixed batch",
			input: []*types.PendingChange{
				change(6, types.KindMove),
				change(5, types.KindUpload),
				change(4, types.KindEdit),
				change(3, types.KindMove),
				change(2, types.KindUpload),
				change(1, types.KindEdit),
			},
			want: []int64{2, 5, 1, 4, 3, 6},
		},
		{
			name:  "empty",
			input: nil,
			want:  []int64{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			Order(tc.input)
			got := ids(tc.input)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("unexpected order (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOrderIsDeterministic(t *testing.T) {
	a := []*types.PendingChange{
		{ID: 4, Kind: types.KindEdit},
		{ID: 2, Kind: types.KindMove},
		{ID: 7, Kind: types.KindUpload},
	}
	b := []*types.PendingChange{a[2], a[0], a[1]}

	Order(a)
	Order(b)
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Fatalf("order depends on input permutation: %d != %d at %d", a[i].ID, b[i].ID, i)
		}
	}
}
