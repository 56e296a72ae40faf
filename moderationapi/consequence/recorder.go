package consequence

import (
	"context"
)

// Recorder is the Manager used by tests: it records consequences
// without executing them and answers from a pre-seeded result queue.
// Decision code exercised against a Recorder is fully deterministic and
// touches no storage.
type Recorder struct {
	// Added lists every consequence requested, in order.
	Added []Consequence

	queued []queuedResult
}

type queuedResult struct {
	result Result
	err    error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// QueueResult pre-seeds the result returned for the next Add call that
// has no earlier unconsumed result.
func (r *Recorder) QueueResult(result Result) *Recorder {
	r.queued = append(r.queued, queuedResult{result: result})
	return r
}

// QueueError pre-seeds a failure.
func (r *Recorder) QueueError(err error) *Recorder {
	r.queued = append(r.queued, queuedResult{err: err})
	return r
}

func (r *Recorder) Add(ctx context.Context, c Consequence) (Result, error) {
	r.Added = append(r.Added, c)
	if len(r.queued) == 0 {
		return Result{}, nil
	}
	next := r.queued[0]
	r.queued = r.queued[1:]
	return next.result, next.err
}
