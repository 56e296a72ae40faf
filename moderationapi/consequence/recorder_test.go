package consequence

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marginalia-wiki/marginalia/moderationapi/types"
)

func TestRecorderRecordsInOrder(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()

	_, err := r.Add(ctx, MarkAsConflict{ID: 3})
	require.NoError(t, err)
	_, err = r.Add(ctx, DeletePending{ID: 4})
	require.NoError(t, err)

	require.Len(t, r.Added, 2)
	assert.Equal(t, MarkAsConflict{ID: 3}, r.Added[0])
	assert.Equal(t, DeletePending{ID: 4}, r.Added[1])
}

func TestRecorderQueuedResults(t *testing.T) {
	boom := errors.New("boom")
	r := NewRecorder().
		QueueResult(Result{Changed: true, RowID: 7}).
		QueueError(boom)
	ctx := context.Background()

	res, err := r.Add(ctx, InsertPending{Change: &types.PendingChange{}})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.EqualValues(t, 7, res.RowID)

	_, err = r.Add(ctx, DeletePending{ID: 7})
	assert.ErrorIs(t, err, boom)

	// Queue exhausted: zero results from here on.
	res, err = r.Add(ctx, DeletePending{ID: 8})
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}
