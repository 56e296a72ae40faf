// Package consequence turns every externally visible side effect of the
// moderation core into a discrete command object. Decision code (the
// builder and the approval engine) never touches storage, mail or the
// save pipeline directly: it requests consequences from a Manager. The
// live manager executes them immediately; the Recorder stores them
// unexecuted so tests can assert "exactly these effects, in this order,
// with these parameters".
package consequence

import (
	"context"

	"github.com/marginalia-wiki/marginalia/internal/caching"
	"github.com/marginalia-wiki/marginalia/internal/email"
	"github.com/marginalia-wiki/marginalia/moderationapi/api"
	"github.com/marginalia-wiki/marginalia/moderationapi/storage"
	"github.com/marginalia-wiki/marginalia/setup/config"
)

// Deps carries the live effectors. Consequences receive it at apply
// time only, so the value objects themselves stay comparable.
type Deps struct {
	DB            storage.Database
	Caches        *caching.Caches
	Mailer        email.Sender
	Pipeline      api.SavePipeline
	Notifications *config.Notifications
}

// Result is the typed outcome of applying a consequence. Each
// consequence documents which fields it fills in.
type Result struct {
	// RowID of an inserted row.
	RowID int64
	// Changed reports whether a conditional write found its row in the
	// required state.
	Changed bool
	// Count of rows affected by a batch write.
	Count int64
	// Noop is the idempotent-success signal of block/unblock.
	Noop bool
	// Save is the outcome of a replay through the save pipeline.
	Save api.SaveResult
}

// Consequence performs exactly one side effect. Apply either fully
// succeeds or reports a structured outcome; it never leaves state
// half-mutated.
type Consequence interface {
	Apply(ctx context.Context, deps *Deps) (Result, error)
}

// Manager accepts consequences from decision code. There is no global
// default: every component receives its Manager explicitly.
type Manager interface {
	Add(ctx context.Context, c Consequence) (Result, error)
}
