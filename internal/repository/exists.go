package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ensureUpdated returns notFound when an UPDATE matched no row. MySQL reports
// 0 affected rows when the row exists but nothing changed, so a zero count is
// confirmed with an existence check.
func ensureUpdated(ctx context.Context, db *sqlx.DB, result sql.Result, table string, id any, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists bool
	if err := db.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM "+table+" WHERE id = ?)", id); err != nil {
		return fmt.Errorf("failed to check %s row: %w", table, err)
	}
	if !exists {
		return fmt.Errorf("%w: id %v", notFound, id)
	}

	return nil
}
