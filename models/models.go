package models

import (
	"encoding/json"
	"time"
)

// Listing is a remote procurement catalog item mirrored locally by the
// scraper. RawData is the full JSON object exactly as received from the
// remote read call; it is never modified after insert.
type Listing struct {
	ID        int64
	ListingID string
	RawData   json.RawMessage
	ScrapedAt time.Time
}

// ProductData unpacks the nested "product" object inside RawData.
// Returns the full top-level object and the product section.
func (l *Listing) ProductData() (map[string]any, map[string]any, error) {
	var full map[string]any
	if err := json.Unmarshal(l.RawData, &full); err != nil {
		return nil, nil, err
	}
	product, _ := full["product"].(map[string]any)
	return full, product, nil
}

// SyncRecord tracks one (username, listing) synchronization unit.
// A record is created when the listing has been pushed to the remote
// create-procedure call, and mutated by the reconciler on each update
// attempt.
type SyncRecord struct {
	ID            int64
	Username      string
	ListingID     string
	ProcedureID   int64
	FieldsUpdated bool
	// LastAttemptAt is the retry-queue position: nil means never
	// attempted (or succeeded), non-nil means failed at that time.
	LastAttemptAt *time.Time
	SyncedAt      time.Time
}

// BeforeInQueue reports whether r should be retried before other.
// Never-attempted records sort first; among failed records the oldest
// failure goes first. This is the queue contract the storage layer must
// honor (NULLS FIRST, ascending).
func (r *SyncRecord) BeforeInQueue(other *SyncRecord) bool {
	if r.LastAttemptAt == nil {
		return other.LastAttemptAt != nil
	}
	if other.LastAttemptAt == nil {
		return false
	}
	return r.LastAttemptAt.Before(*other.LastAttemptAt)
}

// MarkUpdated records a fully successful pass: all known-empty remote
// fields are filled and the retry backoff is cleared.
func (r *SyncRecord) MarkUpdated() {
	r.FieldsUpdated = true
	r.LastAttemptAt = nil
}

// MarkFailed pushes the record to the back of the retry queue without
// touching FieldsUpdated.
func (r *SyncRecord) MarkFailed(at time.Time) {
	r.LastAttemptAt = &at
}

// RemoteField is one entry of a live listing's remote field set.
type RemoteField struct {
	// Managed mirrors the remote "__field__" marker; descriptors
	// without it are skipped unless a mapping table overrides.
	Managed bool   `json:"__field__"`
	Value   any    `json:"value"`
	Type    string `json:"type"`
}

// FieldUpdate is one (field, value) pair queued for a remote push.
type FieldUpdate struct {
	Name  string
	Value any
}

// OutcomeKind classifies the result of reconciling a single record.
type OutcomeKind int

const (
	// OutcomeUpdated means every queued field push succeeded.
	OutcomeUpdated OutcomeKind = iota
	// OutcomeNoOp means nothing needed filling; no remote pushes issued.
	OutcomeNoOp
	// OutcomeFailed means the fetch failed, the listing was missing,
	// or at least one field push failed.
	OutcomeFailed
)

// Outcome is the result of one reconcile pass over one record.
type Outcome struct {
	Kind         OutcomeKind
	Reason       string
	FieldsPushed int
	FieldsFailed []string
}

// RecordError surfaces a per-record failure in the batch summary.
type RecordError struct {
	ListingID   string
	ProcedureID int64
	Reason      string
}

// Summary aggregates one batch run. Per-record failures are collected
// here rather than aborting the batch.
type Summary struct {
	RunID      string
	Total      int
	Successful int
	Failed     int
	Errors     []RecordError
}
