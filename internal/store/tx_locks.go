package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// deleteOperationLockKey serializes topic/subscription cascade deletes against
// each other. Publish and consume do not take this lock. The key is the ASCII
// bytes of "pbd_del" read as an int64.
const deleteOperationLockKey int64 = 0x7062645f64656c

func acquireDeleteOperationLock(ctx context.Context, tx pgx.Tx) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, deleteOperationLockKey); err != nil {
		return fmt.Errorf("acquire delete operation lock: %w", err)
	}
	return nil
}
