package engine

import (
	"sort"

	"github.com/marginalia-wiki/marginalia/moderationapi/types"
)

// kindRank orders a batch so that intra-batch dependencies resolve:
// uploads first, since edits may embed the uploaded files; renames
// last, since earlier changes reference pages by their old titles.
func kindRank(kind types.ChangeKind) int {
	switch kind {
	case types.KindUpload:
		return 0
	case types.KindMove:
		return 2
	default:
		return 1
	}
}

// Order sorts a batch in place into safe application order. Within a
// kind, rows apply oldest-first by id. The sort depends only on its
// input, never on clock or storage state.
func Order(changes []*types.PendingChange) {
	sort.SliceStable(changes, func(i, j int) bool {
		ri, rj := kindRank(changes[i].Kind), kindRank(changes[j].Kind)
		if ri != rj {
			return ri < rj
		}
		return changes[i].ID < changes[j].ID
	})
}
