package deltas

import (
	"context"
	"database/sql"
	"fmt"
)

// Early deployments stored no request provenance. These columns were
// added so approvals can replay the original network metadata.
func UpPendingProvenance(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `
ALTER TABLE moderation_pending ADD COLUMN IF NOT EXISTS forwarded_for TEXT NOT NULL DEFAULT '';
ALTER TABLE moderation_pending ADD COLUMN IF NOT EXISTS user_agent TEXT NOT NULL DEFAULT '';
ALTER TABLE moderation_pending ADD COLUMN IF NOT EXISTS tags TEXT NOT NULL DEFAULT '';
`); err != nil {
		return fmt.Errorf("failed to add provenance columns: %w", err)
	}
	return nil
}

func DownPendingProvenance(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `
ALTER TABLE moderation_pending DROP COLUMN IF EXISTS forwarded_for;
ALTER TABLE moderation_pending DROP COLUMN IF EXISTS user_agent;
ALTER TABLE moderation_pending DROP COLUMN IF EXISTS tags;
`); err != nil {
		return fmt.Errorf("failed to drop provenance columns: %w", err)
	}
	return nil
}
