package services

import (
	"context"
	"fmt"
	"time"

	"xarid-sync/models"
	"xarid-sync/storage"
	"xarid-sync/utils"
)

// ProcedureCreator is the remote create side of the sync job.
type ProcedureCreator interface {
	CreateProcedure(ctx context.Context, product map[string]any) (int64, error)
}

// Syncer pushes mirrored listings that have no sync record yet to the
// remote create-procedure call and records the assigned procedure ID.
type Syncer struct {
	repo      storage.Repository
	creator   ProcedureCreator
	logger    *utils.Logger
	username  string
	batchSize int
	pacer     *utils.Pacer
	now       func() time.Time
}

// NewSyncer wires a ready-to-run Syncer.
func NewSyncer(repo storage.Repository, creator ProcedureCreator, logger *utils.Logger,
	username string, batchSize int, interRecordDelay time.Duration) *Syncer {

	if batchSize <= 0 {
		batchSize = 5
	}
	return &Syncer{
		repo:      repo,
		creator:   creator,
		logger:    logger,
		username:  username,
		batchSize: batchSize,
		pacer:     utils.NewPacer(interRecordDelay),
		now:       time.Now,
	}
}

// Run creates one batch of unsynced listings remotely. A listing is
// marked synced only when the API returned a procedure ID.
func (s *Syncer) Run(ctx context.Context) (*models.Summary, error) {
	listings, err := s.repo.GetUnsynced(ctx, s.username, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("syncer: load unsynced listings: %w", err)
	}

	summary := &models.Summary{RunID: newRunID(), Total: len(listings)}
	if len(listings) == 0 {
		s.logger.Info("[syncer] no new listings to sync for %s", s.username)
		return summary, nil
	}

	s.logger.Info("[syncer] run %s — %d listings for %s", summary.RunID, len(listings), s.username)

	for i, listing := range listings {
		if err := s.pacer.Wait(ctx); err != nil {
			return summary, err
		}

		s.logger.Info("[syncer] listing %d/%d: %s", i+1, len(listings), listing.ListingID)

		_, product, err := listing.ProductData()
		if err != nil || product == nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, models.RecordError{
				ListingID: listing.ListingID,
				Reason:    "no product section in listing data",
			})
			s.logger.Warn("[syncer] listing %s has no usable product data", listing.ListingID)
			continue
		}

		procID, err := s.creator.CreateProcedure(ctx, product)
		if err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, models.RecordError{
				ListingID: listing.ListingID,
				Reason:    "create: " + err.Error(),
			})
			s.logger.Warn("[syncer] create failed for %s: %v", listing.ListingID, err)
			continue
		}

		record := &models.SyncRecord{
			Username:    s.username,
			ListingID:   listing.ListingID,
			ProcedureID: procID,
			SyncedAt:    s.now(),
		}
		if err := s.repo.SaveSyncRecord(ctx, record); err != nil {
			return summary, fmt.Errorf("syncer: save record %s: %w", listing.ListingID, err)
		}

		summary.Successful++
		s.logger.Info("[syncer] listing %s synced (proc %d)", listing.ListingID, procID)
	}

	s.logger.Info("[syncer] run %s done — total %d, successful %d, failed %d",
		summary.RunID, summary.Total, summary.Successful, summary.Failed)
	return summary, nil
}
