package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"reddot-watch/rssfetcher/internal/models"
)

const (
	selectRows = `SELECT ROWID AS rowid, feed_id, rss_id, title, COALESCE(raw, '') AS raw FROM rss`
	upsertRow  = `INSERT INTO rss (feed_id, rss_id, title, raw) VALUES (?, ?, ?, ?)
		ON CONFLICT(feed_id, rss_id) DO NOTHING`
)

// Count returns the number of stored rows.
func (db *DB) Count(ctx context.Context) (int64, error) {
	return count(ctx, db.DB)
}

// MinRowID returns the smallest rowid, or nil on an empty store.
func (db *DB) MinRowID(ctx context.Context) (*int64, error) {
	return aggregateRowID(ctx, db.DB, "MIN")
}

// MaxRowID returns the largest rowid, or nil on an empty store.
func (db *DB) MaxRowID(ctx context.Context) (*int64, error) {
	return aggregateRowID(ctx, db.DB, "MAX")
}

// Status returns the row count and rowid range of the store.
func (db *DB) Status(ctx context.Context) (models.Status, error) {
	var status models.Status
	var err error
	if status.Count, err = db.Count(ctx); err != nil {
		return status, err
	}
	if status.MinID, err = db.MinRowID(ctx); err != nil {
		return status, err
	}
	if status.MaxID, err = db.MaxRowID(ctx); err != nil {
		return status, err
	}
	return status, nil
}

// ReadPage returns at most limit rows with a rowid greater than startRowID,
// in ascending rowid order.
func (db *DB) ReadPage(ctx context.Context, startRowID int64, limit int) ([]models.StoredRow, error) {
	rows := []models.StoredRow{}
	err := db.SelectContext(ctx, &rows, selectRows+` WHERE ROWID > ? ORDER BY ROWID LIMIT ?`, startRowID, limit)
	if err != nil {
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return rows, nil
}

// Batch is one write transaction against the store. Nothing written
// through a Batch is visible to readers before Commit.
type Batch struct {
	tx *sqlx.Tx
}

// Begin opens a write transaction.
func (db *DB) Begin(ctx context.Context) (*Batch, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Batch{tx: tx}, nil
}

// Count returns the number of rows as seen by the transaction.
func (b *Batch) Count(ctx context.Context) (int64, error) {
	return count(ctx, b.tx)
}

// Upsert inserts every record whose (feed_id, rss_id) pair is not stored
// yet. Existing rows are left untouched. It returns the number of rows
// actually inserted.
func (b *Batch) Upsert(ctx context.Context, records []models.ItemRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	stmt, err := b.tx.PreparexContext(ctx, upsertRow)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, record := range records {
		res, err := stmt.ExecContext(ctx, record.FeedID, record.ItemID, record.Title, record.Raw)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert item %s/%s: %w", record.FeedID, record.ItemID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += n
		}
	}
	return inserted, nil
}

// Evict deletes every row except the keptCount most recently inserted
// ones, by rowid. An empty store is left alone.
func (b *Batch) Evict(ctx context.Context, keptCount int) (int64, error) {
	if keptCount <= 0 {
		return 0, fmt.Errorf("keptCount must be positive, got %d", keptCount)
	}

	maxRowID, err := aggregateRowID(ctx, b.tx, "MAX")
	if err != nil {
		return 0, err
	}
	if maxRowID == nil {
		return 0, nil
	}

	res, err := b.tx.ExecContext(ctx, `DELETE FROM rss WHERE ROWID <= ?`, *maxRowID-int64(keptCount))
	if err != nil {
		return 0, fmt.Errorf("failed to evict old items: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected after eviction: %w", err)
	}
	return removed, nil
}

// Commit makes the batch visible.
func (b *Batch) Commit() error {
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback discards the batch. It is a no-op after Commit.
func (b *Batch) Rollback() error {
	return b.tx.Rollback()
}

func count(ctx context.Context, q sqlx.QueryerContext) (int64, error) {
	var n int64
	if err := sqlx.GetContext(ctx, q, &n, `SELECT COUNT(feed_id) FROM rss`); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return n, nil
}

func aggregateRowID(ctx context.Context, q sqlx.QueryerContext, fn string) (*int64, error) {
	var v sql.NullInt64
	if err := sqlx.GetContext(ctx, q, &v, `SELECT `+fn+`(ROWID) FROM rss`); err != nil {
		return nil, fmt.Errorf("failed to read %s rowid: %w", fn, err)
	}
	if !v.Valid {
		return nil, nil
	}
	return &v.Int64, nil
}
