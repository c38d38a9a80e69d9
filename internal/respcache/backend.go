package respcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cinedeck/internal/store"
)

// Entry is one persisted payload.
type Entry struct {
	Payload   []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// MaintenanceResult reports what a maintenance pass removed.
type MaintenanceResult struct {
	Expired int64
	Capped  int64
}

// Stats summarizes the persistent tier.
type Stats struct {
	Rows        int
	ExpiredRows int
	ByType      map[string]int
	MemoryLen   int
}

// Backend is the persistent tier.
type Backend interface {
	Load(ctx context.Context, key, payloadType string) (Entry, bool, error)
	Save(ctx context.Context, key, payloadType string, entry Entry) error
	Delete(ctx context.Context, key, payloadType string) error
	Maintain(ctx context.Context, now time.Time, maxEntries int) (MaintenanceResult, error)
	Stats(ctx context.Context, now time.Time) (Stats, error)
}

// SQLiteBackend keeps entries in the response_cache table.
type SQLiteBackend struct {
	db *store.DB
}

// NewSQLiteBackend wraps an open store.
func NewSQLiteBackend(db *store.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

func (b *SQLiteBackend) Load(ctx context.Context, key, payloadType string) (Entry, bool, error) {
	var (
		entry     Entry
		createdAt int64
		expiresAt int64
	)
	err := b.db.SQL().QueryRowContext(ctx,
		`SELECT payload, created_at, expires_at FROM response_cache WHERE cache_key = ? AND payload_type = ?`,
		key, payloadType,
	).Scan(&entry.Payload, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("load cache entry: %w", err)
	}
	entry.CreatedAt = time.Unix(0, createdAt)
	entry.ExpiresAt = time.Unix(0, expiresAt)
	return entry, true, nil
}

func (b *SQLiteBackend) Save(ctx context.Context, key, payloadType string, entry Entry) error {
	_, err := b.db.Exec(ctx,
		`INSERT INTO response_cache (cache_key, payload_type, payload, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cache_key, payload_type) DO UPDATE SET
			payload = excluded.payload,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		key, payloadType, entry.Payload, entry.CreatedAt.UnixNano(), entry.ExpiresAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save cache entry: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, key, payloadType string) error {
	if _, err := b.db.Exec(ctx,
		`DELETE FROM response_cache WHERE cache_key = ? AND payload_type = ?`, key, payloadType,
	); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Maintain drops expired rows, then keeps only the maxEntries rows with the
// furthest expiry.
func (b *SQLiteBackend) Maintain(ctx context.Context, now time.Time, maxEntries int) (MaintenanceResult, error) {
	var result MaintenanceResult
	res, err := b.db.Exec(ctx, `DELETE FROM response_cache WHERE expires_at <= ?`, now.UnixNano())
	if err != nil {
		return result, fmt.Errorf("delete expired cache rows: %w", err)
	}
	result.Expired, _ = res.RowsAffected()

	if maxEntries <= 0 {
		return result, nil
	}
	res, err = b.db.Exec(ctx,
		`DELETE FROM response_cache WHERE rowid NOT IN (
			SELECT rowid FROM response_cache ORDER BY expires_at DESC LIMIT ?
		)`, maxEntries)
	if err != nil {
		return result, fmt.Errorf("cap cache rows: %w", err)
	}
	result.Capped, _ = res.RowsAffected()
	return result, nil
}

func (b *SQLiteBackend) Stats(ctx context.Context, now time.Time) (Stats, error) {
	stats := Stats{ByType: make(map[string]int)}
	rows, err := b.db.SQL().QueryContext(ctx,
		`SELECT payload_type, COUNT(1), SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END)
		FROM response_cache GROUP BY payload_type`, now.UnixNano())
	if err != nil {
		return stats, fmt.Errorf("cache stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			payloadType string
			count       int
			expired     int
		)
		if err := rows.Scan(&payloadType, &count, &expired); err != nil {
			return stats, fmt.Errorf("scan cache stats: %w", err)
		}
		stats.ByType[payloadType] = count
		stats.Rows += count
		stats.ExpiredRows += expired
	}
	return stats, rows.Err()
}
