package models

import (
	"sort"
	"testing"
	"time"
)

func TestBeforeInQueue(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	never := &SyncRecord{ListingID: "never"}
	failedOld := &SyncRecord{ListingID: "old", LastAttemptAt: &older}
	failedNew := &SyncRecord{ListingID: "new", LastAttemptAt: &newer}

	tests := []struct {
		name string
		a, b *SyncRecord
		want bool
	}{
		{"never before failed", never, failedOld, true},
		{"failed not before never", failedOld, never, false},
		{"older failure first", failedOld, failedNew, true},
		{"newer failure later", failedNew, failedOld, false},
		{"never vs never is stable", never, &SyncRecord{ListingID: "never2"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.BeforeInQueue(tt.b); got != tt.want {
				t.Errorf("BeforeInQueue(%s, %s) = %v, want %v",
					tt.a.ListingID, tt.b.ListingID, got, tt.want)
			}
		})
	}
}

func TestQueueSortStable(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	records := []*SyncRecord{
		{ListingID: "failed-new", LastAttemptAt: &newer},
		{ListingID: "never-a"},
		{ListingID: "failed-old", LastAttemptAt: &older},
		{ListingID: "never-b"},
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].BeforeInQueue(records[j])
	})

	want := []string{"never-a", "never-b", "failed-old", "failed-new"}
	for i, id := range want {
		if records[i].ListingID != id {
			t.Fatalf("position %d: got %s, want %s", i, records[i].ListingID, id)
		}
	}
}

func TestMarkUpdatedClearsBackoff(t *testing.T) {
	at := time.Now()
	r := &SyncRecord{ListingID: "p-1"}
	r.MarkFailed(at)

	if r.LastAttemptAt == nil || !r.LastAttemptAt.Equal(at) {
		t.Fatalf("MarkFailed: %v", r.LastAttemptAt)
	}
	if r.FieldsUpdated {
		t.Fatal("MarkFailed must not touch FieldsUpdated")
	}

	r.MarkUpdated()
	if !r.FieldsUpdated {
		t.Error("MarkUpdated must set FieldsUpdated")
	}
	if r.LastAttemptAt != nil {
		t.Error("FieldsUpdated=true requires a cleared attempt time")
	}
}

func TestProductData(t *testing.T) {
	l := &Listing{RawData: []byte(`{"id": 7, "product": {"product_id": "p-7"}, "images": ["a"]}`)}

	full, product, err := l.ProductData()
	if err != nil {
		t.Fatalf("product data: %v", err)
	}
	if product["product_id"] != "p-7" {
		t.Errorf("product section: %v", product)
	}
	if _, ok := full["images"]; !ok {
		t.Error("full data must keep top-level keys")
	}
}

func TestProductDataMissingSection(t *testing.T) {
	l := &Listing{RawData: []byte(`{"id": 7}`)}

	_, product, err := l.ProductData()
	if err != nil {
		t.Fatalf("product data: %v", err)
	}
	if product != nil {
		t.Errorf("product: got %v, want nil", product)
	}
}

func TestProductDataMalformed(t *testing.T) {
	l := &Listing{RawData: []byte(`{broken`)}

	if _, _, err := l.ProductData(); err == nil {
		t.Error("expected error for malformed data")
	}
}
