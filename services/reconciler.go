package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"xarid-sync/models"
	"xarid-sync/storage"
	"xarid-sync/utils"
)

// Gateway is the remote side of reconciliation: read a procedure's live
// field set, push one field value.
type Gateway interface {
	FetchLiveFields(ctx context.Context, procID int64) (map[string]models.RemoteField, error)
	SetField(ctx context.Context, procID int64, name string, value any) error
}

// listFields are the remote fields whose emptiness is "empty list".
var listFields = map[string]struct{}{
	"photo":   {},
	"regions": {},
}

// vendorField is the remote field whose emptiness is "empty string".
const vendorField = "producer"

// ReconcilerOptions carries the batch-shape knobs.
type ReconcilerOptions struct {
	BatchSize        int
	InterRecordDelay time.Duration
	InterFieldDelay  time.Duration
}

// Reconciler back-fills empty fields on live marketplace listings. It
// drains a bounded batch of pending sync records, decides per record
// which remote fields need filling, pushes mapped values one call at a
// time, and writes queue state back through the repository.
type Reconciler struct {
	repo        storage.Repository
	gateway     Gateway
	mapper      *FieldMapper
	logger      *utils.Logger
	metrics     *Metrics
	batchSize   int
	recordPacer *utils.Pacer
	fieldPacer  *utils.Pacer
	now         func() time.Time
}

// NewReconciler wires a ready-to-run Reconciler.
func NewReconciler(repo storage.Repository, gateway Gateway, mapper *FieldMapper,
	logger *utils.Logger, metrics *Metrics, opts ReconcilerOptions) *Reconciler {

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 5
	}

	return &Reconciler{
		repo:        repo,
		gateway:     gateway,
		mapper:      mapper,
		logger:      logger,
		metrics:     metrics,
		batchSize:   batchSize,
		recordPacer: utils.NewPacer(opts.InterRecordDelay),
		fieldPacer:  utils.NewPacer(opts.InterFieldDelay),
		now:         time.Now,
	}
}

// ProcessBatch drains one batch of pending records for the user. Per-
// record failures are collected into the summary; only repository
// faults abort the batch.
func (r *Reconciler) ProcessBatch(ctx context.Context, username string) (*models.Summary, error) {
	records, err := r.repo.GetSyncQueue(ctx, username, r.batchSize)
	if err != nil {
		return nil, fmt.Errorf("reconciler: load sync queue: %w", err)
	}

	summary := &models.Summary{
		RunID: newRunID(),
		Total: len(records),
	}

	if len(records) == 0 {
		r.logger.Info("[reconciler] no records need field updates")
		return summary, nil
	}

	r.logger.Info("[reconciler] run %s — %d records for %s", summary.RunID, len(records), username)

	for i, record := range records {
		if err := r.recordPacer.Wait(ctx); err != nil {
			return summary, err
		}

		r.logger.Info("[reconciler] record %d/%d: listing %s (proc %d)",
			i+1, len(records), record.ListingID, record.ProcedureID)

		outcome := r.reconcile(ctx, record)
		switch outcome.Kind {
		case models.OutcomeUpdated:
			record.MarkUpdated()
			summary.Successful++
			r.metrics.IncRecord("updated")
			r.logger.Info("[reconciler] listing %s: pushed %d fields", record.ListingID, outcome.FieldsPushed)
		case models.OutcomeNoOp:
			record.MarkUpdated()
			summary.Successful++
			r.metrics.IncRecord("noop")
			r.logger.Info("[reconciler] listing %s: nothing to fill, marked updated", record.ListingID)
		case models.OutcomeFailed:
			record.MarkFailed(r.now())
			summary.Failed++
			summary.Errors = append(summary.Errors, models.RecordError{
				ListingID:   record.ListingID,
				ProcedureID: record.ProcedureID,
				Reason:      outcome.Reason,
			})
			r.metrics.IncRecord("failed")
			r.logger.Warn("[reconciler] listing %s failed, pushed back in queue: %s",
				record.ListingID, outcome.Reason)
		}

		if err := r.repo.SaveSyncRecord(ctx, record); err != nil {
			return summary, fmt.Errorf("reconciler: save record %s: %w", record.ListingID, err)
		}
	}

	r.logger.Info("[reconciler] run %s done — total %d, successful %d, failed %d",
		summary.RunID, summary.Total, summary.Successful, summary.Failed)
	return summary, nil
}

// reconcile runs one pass over one record. It never returns an
// infrastructure error; every failure mode becomes a Failed outcome so
// the record re-queues.
func (r *Reconciler) reconcile(ctx context.Context, record *models.SyncRecord) models.Outcome {
	liveFields, err := r.gateway.FetchLiveFields(ctx, record.ProcedureID)
	if err != nil {
		return models.Outcome{Kind: models.OutcomeFailed, Reason: "fetch-error: " + err.Error()}
	}

	listing, err := r.repo.GetListing(ctx, record.ListingID)
	if err != nil {
		if errors.Is(err, storage.ErrListingNotFound) {
			return models.Outcome{Kind: models.OutcomeFailed, Reason: "listing-missing"}
		}
		return models.Outcome{Kind: models.OutcomeFailed, Reason: "listing-load: " + err.Error()}
	}

	local, _, err := listing.ProductData()
	if err != nil {
		return models.Outcome{Kind: models.OutcomeFailed, Reason: "listing-json: " + err.Error()}
	}

	updates, stats := r.planUpdates(liveFields, local)
	r.logger.Debug("[reconciler] listing %s: %d empty fields, %d matching, %d to update",
		record.ListingID, stats.empty, stats.matching, len(updates))

	if len(updates) == 0 {
		return models.Outcome{Kind: models.OutcomeNoOp}
	}

	pushed := 0
	var failed []string
	for _, update := range updates {
		if err := r.fieldPacer.Wait(ctx); err != nil {
			failed = append(failed, update.Name)
			break
		}
		if err := r.gateway.SetField(ctx, record.ProcedureID, update.Name, update.Value); err != nil {
			r.logger.Warn("[reconciler] set %s on proc %d failed: %v", update.Name, record.ProcedureID, err)
			failed = append(failed, update.Name)
			r.metrics.IncPushFailure()
			continue
		}
		pushed++
	}
	r.metrics.IncFieldsPushed(pushed)

	// Partial success is not committed: one failed push re-queues the
	// whole record so the next pass re-verifies every field.
	if len(failed) > 0 {
		return models.Outcome{
			Kind:         models.OutcomeFailed,
			FieldsPushed: pushed,
			FieldsFailed: failed,
			Reason: fmt.Sprintf("partial: %d of %d field updates failed: %s",
				len(failed), len(updates), strings.Join(failed, ", ")),
		}
	}
	return models.Outcome{Kind: models.OutcomeUpdated, FieldsPushed: pushed}
}

type planStats struct {
	empty    int
	matching int
}

// planUpdates selects the (field, value) pairs to push: a field must be
// a candidate (managed, or overridden by a mapping table), be empty per
// the per-field policy, and have a usable mapped value. Fields are
// visited in name order so pushes are deterministic.
func (r *Reconciler) planUpdates(liveFields map[string]models.RemoteField, local map[string]any) ([]models.FieldUpdate, planStats) {
	names := make([]string, 0, len(liveFields))
	for name := range liveFields {
		names = append(names, name)
	}
	sort.Strings(names)

	var updates []models.FieldUpdate
	var stats planStats

	for _, name := range names {
		descriptor := liveFields[name]

		// Some descriptors omit the managed marker for fields we still
		// want to populate; the mapping tables override.
		if !descriptor.Managed && !r.mapper.HasStatic(name) && !r.mapper.HasRename(name) {
			continue
		}

		empty := needsFilling(name, descriptor.Value)
		if empty {
			stats.empty++
		}

		value, ok := r.mapper.MapValue(name, local, descriptor)
		if ok {
			stats.matching++
		}

		if empty && ok {
			updates = append(updates, models.FieldUpdate{Name: name, Value: value})
		}
	}
	return updates, stats
}

// needsFilling is the closed per-field emptiness policy: null always,
// empty list for the list-typed fields, empty string for the vendor
// field. Present, non-empty values are never overwritten.
func needsFilling(name string, value any) bool {
	if value == nil {
		return true
	}
	if _, isList := listFields[name]; isList {
		if arr, ok := value.([]any); ok && len(arr) == 0 {
			return true
		}
	}
	if name == vendorField {
		if s, ok := value.(string); ok && s == "" {
			return true
		}
	}
	return false
}

// newRunID stamps one batch run for logs and reports.
func newRunID() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return ulid.MustNew(ulid.Now(), entropy).String()
}
