package storage

import (
	"context"
	"errors"

	"xarid-sync/models"
)

// ErrListingNotFound distinguishes a missing listing row from an
// infrastructure failure. The reconciler treats the former as a
// per-record error, the latter as fatal.
var ErrListingNotFound = errors.New("storage: listing not found")

// Repository is the persistence contract the batch jobs depend on.
type Repository interface {
	// GetSyncQueue returns up to limit not-yet-updated records for the
	// user, never-attempted first, then oldest failure first.
	GetSyncQueue(ctx context.Context, username string, limit int) ([]*models.SyncRecord, error)

	// GetListing returns the mirrored listing or ErrListingNotFound.
	GetListing(ctx context.Context, listingID string) (*models.Listing, error)

	// SaveSyncRecord upserts one record keyed on (username, listing_id).
	SaveSyncRecord(ctx context.Context, record *models.SyncRecord) error

	// SaveListings inserts new listings, skipping ones already mirrored.
	SaveListings(ctx context.Context, listings []*models.Listing) (saved, skipped int, err error)

	// GetUnsynced returns listings with no sync record for the user.
	GetUnsynced(ctx context.Context, username string, limit int) ([]*models.Listing, error)

	// GetOffset / SetOffset hold the scrape pagination cursor.
	GetOffset(ctx context.Context) (int, error)
	SetOffset(ctx context.Context, offset int) error

	Close() error
}
