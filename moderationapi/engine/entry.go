package engine

import (
	"time"

	"github.com/marginalia-wiki/marginalia/moderationapi/consequence"
	"github.com/marginalia-wiki/marginalia/moderationapi/types"
)

// applyConsequence picks the pipeline consequence matching the change
// kind. The kind set is closed; anything else indicates row corruption
// and is caught by the pipeline rejecting a zero request.
func applyConsequence(change *types.PendingChange, feedTime time.Time) consequence.Consequence {
	switch change.Kind {
	case types.KindMove:
		return consequence.ApplyMove{Change: change, FeedTime: feedTime}
	case types.KindUpload:
		return consequence.ApplyUpload{Change: change, FeedTime: feedTime}
	default:
		return consequence.ApplyEdit{Change: change, FeedTime: feedTime}
	}
}
