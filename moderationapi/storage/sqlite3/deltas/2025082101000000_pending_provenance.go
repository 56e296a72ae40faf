package deltas

import (
	"context"
	"database/sql"
	"fmt"
)

// Early deployments stored no request provenance. These columns were
// added so approvals can replay the original network metadata.
func UpPendingProvenance(ctx context.Context, tx *sql.Tx) error {
	for column, definition := range map[string]string{
		"forwarded_for": "TEXT NOT NULL DEFAULT ''",
		"user_agent":    "TEXT NOT NULL DEFAULT ''",
		"tags":          "TEXT NOT NULL DEFAULT ''",
	} {
		// SQLite doesn't support IF NOT EXISTS for ADD COLUMN, so we need to check first
		var count int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM pragma_table_info('moderation_pending') WHERE name = $1`, column,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check column existence: %w", err)
		}
		if count == 0 {
			_, err = tx.ExecContext(ctx, "ALTER TABLE moderation_pending ADD COLUMN "+column+" "+definition)
			if err != nil {
				return fmt.Errorf("failed to add %s: %w", column, err)
			}
		}
	}
	return nil
}

func DownPendingProvenance(ctx context.Context, tx *sql.Tx) error {
	// SQLite doesn't support DROP COLUMN in older versions, so this is a no-op
	// The columns will remain but be unused
	return nil
}
