package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"xarid-sync/models"
)

const (
	testUser = "acct"
	testProc = int64(9001)
)

func newTestReconciler(repo *fakeRepo, gw *fakeGateway) *Reconciler {
	return NewReconciler(repo, gw, NewFieldMapper(testLogger()), testLogger(), nil,
		ReconcilerOptions{BatchSize: 10})
}

func pendingRecord(listingID string, procID int64) *models.SyncRecord {
	return &models.SyncRecord{
		Username:    testUser,
		ListingID:   listingID,
		ProcedureID: procID,
		SyncedAt:    time.Now(),
	}
}

func TestProcessBatchFetchErrorRequeues(t *testing.T) {
	repo := newFakeRepo()
	repo.records = append(repo.records, pendingRecord("p-1", testProc))
	repo.addListing("p-1", `{"product": {"product_id": "p-1"}}`)

	gw := newFakeGateway()
	gw.fetchErr = errors.New("connection reset")

	summary, err := newTestReconciler(repo, gw).ProcessBatch(context.Background(), testUser)
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}

	if summary.Failed != 1 || summary.Successful != 0 {
		t.Errorf("summary: %+v", summary)
	}
	if len(summary.Errors) != 1 {
		t.Fatalf("errors: got %d, want 1", len(summary.Errors))
	}
	recErr := summary.Errors[0]
	if recErr.ListingID != "p-1" || recErr.ProcedureID != testProc {
		t.Errorf("error identity: %+v", recErr)
	}
	if !strings.HasPrefix(recErr.Reason, "fetch-error") {
		t.Errorf("reason: %q", recErr.Reason)
	}

	rec := repo.records[0]
	if rec.FieldsUpdated {
		t.Error("failed record must not be marked updated")
	}
	if rec.LastAttemptAt == nil {
		t.Error("failed record must get a last-attempt time")
	}
}

func TestProcessBatchListingMissing(t *testing.T) {
	repo := newFakeRepo()
	repo.records = append(repo.records, pendingRecord("p-gone", testProc))

	gw := newFakeGateway()
	gw.fields[testProc] = map[string]models.RemoteField{}

	summary, err := newTestReconciler(repo, gw).ProcessBatch(context.Background(), testUser)
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("summary: %+v", summary)
	}
	if summary.Errors[0].Reason != "listing-missing" {
		t.Errorf("reason: %q", summary.Errors[0].Reason)
	}
}

func TestProcessBatchNoOpWhenNothingEmpty(t *testing.T) {
	repo := newFakeRepo()
	repo.records = append(repo.records, pendingRecord("p-1", testProc))
	repo.addListing("p-1", `{"vendor": "Acme", "images": ["img-1"]}`)

	gw := newFakeGateway()
	gw.fields[testProc] = map[string]models.RemoteField{
		"producer": {Managed: true, Value: "Already Set", Type: "text"},
		"photo":    {Managed: true, Value: []any{"remote-img"}, Type: "text"},
		"title":    {Managed: true, Value: "Pens", Type: "text"},
	}

	summary, err := newTestReconciler(repo, gw).ProcessBatch(context.Background(), testUser)
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}

	if summary.Successful != 1 || summary.Failed != 0 {
		t.Errorf("summary: %+v", summary)
	}
	if len(gw.setCalls) != 0 {
		t.Errorf("no pushes expected, got %v", gw.setCalls)
	}

	rec := repo.records[0]
	if !rec.FieldsUpdated {
		t.Error("no-op record must be marked updated")
	}
	if rec.LastAttemptAt != nil {
		t.Error("successful pass must clear the attempt time")
	}
}

// Reconciling a record that reached no-op once is a no-op forever: the
// record leaves the queue and no gateway calls are issued again.
func TestProcessBatchIdempotentAfterNoOp(t *testing.T) {
	repo := newFakeRepo()
	repo.records = append(repo.records, pendingRecord("p-1", testProc))
	repo.addListing("p-1", `{"vendor": "Acme"}`)

	gw := newFakeGateway()
	gw.fields[testProc] = map[string]models.RemoteField{
		"title": {Managed: true, Value: "Pens", Type: "text"},
	}

	r := newTestReconciler(repo, gw)
	if _, err := r.ProcessBatch(context.Background(), testUser); err != nil {
		t.Fatalf("first batch: %v", err)
	}
	fetchesAfterFirst := gw.fetches

	summary, err := r.ProcessBatch(context.Background(), testUser)
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if summary.Total != 0 {
		t.Errorf("second batch total: got %d, want 0", summary.Total)
	}
	if gw.fetches != fetchesAfterFirst || len(gw.setCalls) != 0 {
		t.Error("second batch must not touch the gateway")
	}
}

func TestProcessBatchPushesMappedFields(t *testing.T) {
	repo := newFakeRepo()
	repo.records = append(repo.records, pendingRecord("p-1", testProc))
	repo.addListing("p-1", `{"images": ["img-77"], "vendor": "Acme"}`)

	gw := newFakeGateway()
	gw.fields[testProc] = map[string]models.RemoteField{
		"license":  {Managed: true, Value: nil, Type: "bool"},
		"photo":    {Managed: true, Value: []any{}, Type: "text"},
		"producer": {Managed: true, Value: "", Type: "text"},
	}

	summary, err := newTestReconciler(repo, gw).ProcessBatch(context.Background(), testUser)
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if summary.Successful != 1 {
		t.Fatalf("summary: %+v", summary)
	}

	pushed := map[string]any{}
	for _, call := range gw.setCalls {
		pushed[call.Name] = call.Value
	}
	if v, ok := pushed["license"]; !ok || v != false {
		t.Errorf("license push: got %v, want false", v)
	}
	if v, ok := pushed["photo"]; !ok || v != "img-77" {
		t.Errorf("photo push: got %v, want img-77", v)
	}
	if v, ok := pushed["producer"]; !ok || v != "Acme" {
		t.Errorf("producer push: got %v, want Acme", v)
	}

	rec := repo.records[0]
	if !rec.FieldsUpdated || rec.LastAttemptAt != nil {
		t.Errorf("record state after success: %+v", rec)
	}
}

// One failed push out of three re-queues the whole record even though
// the other two pushes landed.
func TestProcessBatchPartialFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.records = append(repo.records, pendingRecord("p-1", testProc))
	repo.addListing("p-1", `{}`)

	gw := newFakeGateway()
	// Sorted push order: delivery_period, license, regions.
	gw.fields[testProc] = map[string]models.RemoteField{
		"delivery_period": {Managed: true, Value: nil, Type: "number"},
		"license":         {Managed: true, Value: nil, Type: "bool"},
		"regions":         {Managed: true, Value: []any{}, Type: "text"},
	}
	gw.failFields["license"] = errors.New("rejected")

	before := time.Now()
	summary, err := newTestReconciler(repo, gw).ProcessBatch(context.Background(), testUser)
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}

	if summary.Failed != 1 || summary.Successful != 0 {
		t.Errorf("summary: %+v", summary)
	}
	if len(gw.setCalls) != 3 {
		t.Errorf("all queued pushes attempted: got %d calls", len(gw.setCalls))
	}

	reason := summary.Errors[0].Reason
	if !strings.Contains(reason, "1 of 3") || !strings.Contains(reason, "license") {
		t.Errorf("failure reason must name the failed field: %q", reason)
	}

	rec := repo.records[0]
	if rec.FieldsUpdated {
		t.Error("partial success must not mark the record updated")
	}
	if rec.LastAttemptAt == nil || rec.LastAttemptAt.Before(before) {
		t.Errorf("last attempt not stamped with the failure time: %v", rec.LastAttemptAt)
	}
}

// A present, non-empty remote value is never a candidate, regardless of
// what local data holds.
func TestProcessBatchNeverOverwrites(t *testing.T) {
	repo := newFakeRepo()
	repo.records = append(repo.records, pendingRecord("p-1", testProc))
	repo.addListing("p-1", `{"vendor": "Local Vendor"}`)

	gw := newFakeGateway()
	gw.fields[testProc] = map[string]models.RemoteField{
		"producer": {Managed: true, Value: "Remote Vendor", Type: "text"},
	}

	if _, err := newTestReconciler(repo, gw).ProcessBatch(context.Background(), testUser); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(gw.setCalls) != 0 {
		t.Errorf("non-empty field was pushed: %v", gw.setCalls)
	}
}

// An empty producer with no local vendor equivalent has no mapping: the
// field is skipped and the record completes as a no-op.
func TestProcessBatchProducerWithoutVendor(t *testing.T) {
	repo := newFakeRepo()
	repo.records = append(repo.records, pendingRecord("p-1", testProc))
	repo.addListing("p-1", `{"title": "Pens"}`)

	gw := newFakeGateway()
	gw.fields[testProc] = map[string]models.RemoteField{
		"producer": {Managed: true, Value: "", Type: "text"},
	}

	summary, err := newTestReconciler(repo, gw).ProcessBatch(context.Background(), testUser)
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(gw.setCalls) != 0 {
		t.Errorf("unmappable field was pushed: %v", gw.setCalls)
	}
	if summary.Successful != 1 {
		t.Errorf("summary: %+v", summary)
	}
}

// Unmanaged descriptors are skipped unless a mapping table overrides
// the missing marker.
func TestProcessBatchUnmanagedOverride(t *testing.T) {
	repo := newFakeRepo()
	repo.records = append(repo.records, pendingRecord("p-1", testProc))
	repo.addListing("p-1", `{"obscure": "x"}`)

	gw := newFakeGateway()
	gw.fields[testProc] = map[string]models.RemoteField{
		// license is unmanaged here but sits in the static table.
		"license": {Managed: false, Value: nil, Type: "bool"},
		// obscure is unmanaged and unmapped: skipped even though empty
		// and present locally.
		"obscure": {Managed: false, Value: nil, Type: "text"},
	}

	if _, err := newTestReconciler(repo, gw).ProcessBatch(context.Background(), testUser); err != nil {
		t.Fatalf("process batch: %v", err)
	}

	if len(gw.setCalls) != 1 || gw.setCalls[0].Name != "license" {
		t.Errorf("pushes: got %v, want only license", gw.setCalls)
	}
}

func TestProcessBatchMalformedListingJSON(t *testing.T) {
	repo := newFakeRepo()
	repo.records = append(repo.records, pendingRecord("p-1", testProc))
	repo.addListing("p-1", `{not json`)

	gw := newFakeGateway()
	gw.fields[testProc] = map[string]models.RemoteField{}

	summary, err := newTestReconciler(repo, gw).ProcessBatch(context.Background(), testUser)
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("summary: %+v", summary)
	}
	if !strings.HasPrefix(summary.Errors[0].Reason, "listing-json") {
		t.Errorf("reason: %q", summary.Errors[0].Reason)
	}
}

func TestProcessBatchQueueErrorIsFatal(t *testing.T) {
	repo := newFakeRepo()
	repo.queueErr = errors.New("connection refused")

	if _, err := newTestReconciler(repo, newFakeGateway()).ProcessBatch(context.Background(), testUser); err == nil {
		t.Fatal("storage fault must abort the batch")
	}
}

func TestProcessBatchHonorsBatchSize(t *testing.T) {
	repo := newFakeRepo()
	for _, id := range []string{"p-1", "p-2", "p-3"} {
		repo.records = append(repo.records, pendingRecord(id, testProc))
		repo.addListing(id, `{}`)
	}

	gw := newFakeGateway()
	gw.fields[testProc] = map[string]models.RemoteField{}

	r := NewReconciler(repo, gw, NewFieldMapper(testLogger()), testLogger(), nil,
		ReconcilerOptions{BatchSize: 2})
	summary, err := r.ProcessBatch(context.Background(), testUser)
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if summary.Total != 2 {
		t.Errorf("total: got %d, want 2", summary.Total)
	}
}

// Failed records go to the back of the queue: a fresh record is always
// processed before one that failed, and older failures retry first.
func TestRetryQueueOrderingAcrossRuns(t *testing.T) {
	repo := newFakeRepo()

	older := time.Now().Add(-2 * time.Hour)
	newer := time.Now().Add(-1 * time.Hour)

	failedNewer := pendingRecord("p-failed-newer", testProc)
	failedNewer.LastAttemptAt = &newer
	failedOlder := pendingRecord("p-failed-older", testProc)
	failedOlder.LastAttemptAt = &older
	fresh := pendingRecord("p-fresh", testProc)

	repo.records = append(repo.records, failedNewer, failedOlder, fresh)

	queue, err := repo.GetSyncQueue(context.Background(), testUser, 10)
	if err != nil {
		t.Fatalf("get queue: %v", err)
	}

	want := []string{"p-fresh", "p-failed-older", "p-failed-newer"}
	for i, id := range want {
		if queue[i].ListingID != id {
			t.Fatalf("queue[%d]: got %s, want %s", i, queue[i].ListingID, id)
		}
	}
}
