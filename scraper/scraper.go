package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"xarid-sync/models"
	"xarid-sync/storage"
	"xarid-sync/utils"
)

// ListingReader is the remote read side of the scrape job.
type ListingReader interface {
	ReadListings(ctx context.Context, limit, offset int) ([]json.RawMessage, error)
}

// Scraper mirrors one page of remote procurement listings into local
// storage per invocation, advancing a persistent offset cursor.
type Scraper struct {
	repo     storage.Repository
	reader   ListingReader
	logger   *utils.Logger
	pageSize int
}

// New creates a ready-to-use Scraper.
func New(repo storage.Repository, reader ListingReader, logger *utils.Logger, pageSize int) *Scraper {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Scraper{repo: repo, reader: reader, logger: logger, pageSize: pageSize}
}

// Run fetches the next page and inserts listings not yet mirrored.
func (s *Scraper) Run(ctx context.Context) error {
	offset, err := s.repo.GetOffset(ctx)
	if err != nil {
		return fmt.Errorf("scraper: read cursor: %w", err)
	}

	s.logger.Info("[scraper] fetching %d listings at offset %d", s.pageSize, offset)

	entries, err := s.reader.ReadListings(ctx, s.pageSize, offset)
	if err != nil {
		return fmt.Errorf("scraper: read listings: %w", err)
	}
	if len(entries) == 0 {
		s.logger.Info("[scraper] no listings at offset %d", offset)
		return nil
	}

	listings := make([]*models.Listing, 0, len(entries))
	for _, raw := range entries {
		listing, err := parseEntry(raw)
		if err != nil {
			s.logger.Warn("[scraper] skipping malformed entry: %v", err)
			continue
		}
		listings = append(listings, listing)
	}

	saved, skipped, err := s.repo.SaveListings(ctx, listings)
	if err != nil {
		return fmt.Errorf("scraper: save listings: %w", err)
	}

	// The cursor advances by the full page length, including entries
	// that were already mirrored.
	if err := s.repo.SetOffset(ctx, offset+len(entries)); err != nil {
		return fmt.Errorf("scraper: advance cursor: %w", err)
	}

	s.logger.Info("[scraper] saved %d new listings, skipped %d existing, next offset %d",
		saved, skipped, offset+len(entries))
	return nil
}

// parseEntry extracts the stable listing identifier from one raw entry.
// The nested product's product_id wins; the top-level numeric id is the
// fallback.
func parseEntry(raw json.RawMessage) (*models.Listing, error) {
	var entry struct {
		ID      int64 `json:"id"`
		Product struct {
			ProductID string `json:"product_id"`
		} `json:"product"`
	}
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}

	listingID := entry.Product.ProductID
	if listingID == "" {
		if entry.ID == 0 {
			return nil, fmt.Errorf("entry has neither product_id nor id")
		}
		listingID = strconv.FormatInt(entry.ID, 10)
	}

	return &models.Listing{
		ID:        entry.ID,
		ListingID: listingID,
		RawData:   raw,
		ScrapedAt: time.Now(),
	}, nil
}
