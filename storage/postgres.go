package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/lib/pq"

	"xarid-sync/models"
)

// Postgres implements Repository against PostgreSQL. Listings are
// immutable once scraped, so reads go through a small LRU cache; the
// reconciler touches the same listings pass after pass.
type Postgres struct {
	db    *sql.DB
	cache *lru.Cache[string, *models.Listing]
}

// NewPostgres opens a connection, waits for the database to come up,
// runs the additive migration, and returns a ready repository.
func NewPostgres(dsn string, cacheSize int) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, *models.Listing](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing cache: %w", err)
	}

	pg := &Postgres{db: db, cache: cache}
	if err := pg.migrate(); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return pg, nil
}

func (pg *Postgres) migrate() error {
	_, err := pg.db.Exec(`
		CREATE TABLE IF NOT EXISTS listings (
			id         BIGINT      NOT NULL DEFAULT 0,
			listing_id TEXT        PRIMARY KEY,
			raw_data   JSONB       NOT NULL,
			scraped_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS scrape_state (
			id             INT PRIMARY KEY,
			current_offset INT NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS sync_records (
			id              BIGSERIAL   PRIMARY KEY,
			username        TEXT        NOT NULL,
			listing_id      TEXT        NOT NULL,
			procedure_id    BIGINT      NOT NULL,
			fields_updated  BOOLEAN     NOT NULL DEFAULT FALSE,
			last_attempt_at TIMESTAMPTZ,
			synced_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (username, listing_id)
		);

		CREATE INDEX IF NOT EXISTS idx_sync_records_pending ON sync_records(username, fields_updated);
		CREATE INDEX IF NOT EXISTS idx_sync_records_attempt ON sync_records(last_attempt_at);
	`)
	return err
}

// GetSyncQueue implements the retry queue ordering: never-attempted
// records first, then failed records by ascending failure time.
func (pg *Postgres) GetSyncQueue(ctx context.Context, username string, limit int) ([]*models.SyncRecord, error) {
	rows, err := pg.db.QueryContext(ctx, `
		SELECT id, username, listing_id, procedure_id, fields_updated, last_attempt_at, synced_at
		FROM sync_records
		WHERE username = $1 AND fields_updated = FALSE
		ORDER BY last_attempt_at ASC NULLS FIRST, id ASC
		LIMIT $2
	`, username, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: sync queue: %w", err)
	}
	defer rows.Close()

	var records []*models.SyncRecord
	for rows.Next() {
		r := &models.SyncRecord{}
		var lastAttempt sql.NullTime
		if err := rows.Scan(
			&r.ID, &r.Username, &r.ListingID, &r.ProcedureID,
			&r.FieldsUpdated, &lastAttempt, &r.SyncedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan sync record: %w", err)
		}
		if lastAttempt.Valid {
			t := lastAttempt.Time
			r.LastAttemptAt = &t
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// GetListing returns a mirrored listing, serving repeats from cache.
func (pg *Postgres) GetListing(ctx context.Context, listingID string) (*models.Listing, error) {
	if l, ok := pg.cache.Get(listingID); ok {
		return l, nil
	}

	l := &models.Listing{}
	err := pg.db.QueryRowContext(ctx, `
		SELECT id, listing_id, raw_data, scraped_at
		FROM listings
		WHERE listing_id = $1
	`, listingID).Scan(&l.ID, &l.ListingID, &l.RawData, &l.ScrapedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get listing %s: %w", listingID, err)
	}

	pg.cache.Add(listingID, l)
	return l, nil
}

// SaveSyncRecord upserts on the (username, listing_id) unique key.
func (pg *Postgres) SaveSyncRecord(ctx context.Context, record *models.SyncRecord) error {
	var lastAttempt sql.NullTime
	if record.LastAttemptAt != nil {
		lastAttempt = sql.NullTime{Time: *record.LastAttemptAt, Valid: true}
	}

	_, err := pg.db.ExecContext(ctx, `
		INSERT INTO sync_records (username, listing_id, procedure_id, fields_updated, last_attempt_at, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (username, listing_id) DO UPDATE SET
			procedure_id    = EXCLUDED.procedure_id,
			fields_updated  = EXCLUDED.fields_updated,
			last_attempt_at = EXCLUDED.last_attempt_at
	`, record.Username, record.ListingID, record.ProcedureID,
		record.FieldsUpdated, lastAttempt, record.SyncedAt)
	if err != nil {
		return fmt.Errorf("postgres: save sync record %s/%s: %w", record.Username, record.ListingID, err)
	}
	return nil
}

// SaveListings inserts new listings; already-mirrored IDs are skipped.
func (pg *Postgres) SaveListings(ctx context.Context, listings []*models.Listing) (int, int, error) {
	saved, skipped := 0, 0
	for _, l := range listings {
		res, err := pg.db.ExecContext(ctx, `
			INSERT INTO listings (id, listing_id, raw_data, scraped_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (listing_id) DO NOTHING
		`, l.ID, l.ListingID, []byte(l.RawData), l.ScrapedAt)
		if err != nil {
			return saved, skipped, fmt.Errorf("postgres: save listing %s: %w", l.ListingID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			saved++
		} else {
			skipped++
		}
	}
	return saved, skipped, nil
}

// GetUnsynced returns listings without a sync record for the user.
func (pg *Postgres) GetUnsynced(ctx context.Context, username string, limit int) ([]*models.Listing, error) {
	rows, err := pg.db.QueryContext(ctx, `
		SELECT l.id, l.listing_id, l.raw_data, l.scraped_at
		FROM listings l
		LEFT JOIN sync_records s
			ON s.listing_id = l.listing_id AND s.username = $1
		WHERE s.id IS NULL
		ORDER BY l.id ASC
		LIMIT $2
	`, username, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: unsynced listings: %w", err)
	}
	defer rows.Close()

	var listings []*models.Listing
	for rows.Next() {
		l := &models.Listing{}
		if err := rows.Scan(&l.ID, &l.ListingID, &l.RawData, &l.ScrapedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// GetOffset returns the scrape cursor, zero if never set.
func (pg *Postgres) GetOffset(ctx context.Context) (int, error) {
	var offset int
	err := pg.db.QueryRowContext(ctx,
		`SELECT current_offset FROM scrape_state WHERE id = 1`).Scan(&offset)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: get offset: %w", err)
	}
	return offset, nil
}

// SetOffset advances the scrape cursor.
func (pg *Postgres) SetOffset(ctx context.Context, offset int) error {
	_, err := pg.db.ExecContext(ctx, `
		INSERT INTO scrape_state (id, current_offset)
		VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET current_offset = EXCLUDED.current_offset
	`, offset)
	if err != nil {
		return fmt.Errorf("postgres: set offset: %w", err)
	}
	return nil
}

func (pg *Postgres) Close() error {
	return pg.db.Close()
}
