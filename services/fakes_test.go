package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"xarid-sync/models"
	"xarid-sync/storage"
	"xarid-sync/utils"
)

func testLogger() *utils.Logger { return utils.NewLogger(false) }

// fakeRepo is an in-memory Repository honoring the queue ordering
// contract via SyncRecord.BeforeInQueue.
type fakeRepo struct {
	records  []*models.SyncRecord
	listings map[string]*models.Listing
	saves    int
	queueErr error
	saveErr  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{listings: make(map[string]*models.Listing)}
}

func (f *fakeRepo) addListing(listingID, rawJSON string) {
	f.listings[listingID] = &models.Listing{
		ListingID: listingID,
		RawData:   []byte(rawJSON),
		ScrapedAt: time.Now(),
	}
}

func (f *fakeRepo) GetSyncQueue(_ context.Context, username string, limit int) ([]*models.SyncRecord, error) {
	if f.queueErr != nil {
		return nil, f.queueErr
	}
	var pending []*models.SyncRecord
	for _, r := range f.records {
		if r.Username == username && !r.FieldsUpdated {
			pending = append(pending, r)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].BeforeInQueue(pending[j])
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (f *fakeRepo) GetListing(_ context.Context, listingID string) (*models.Listing, error) {
	l, ok := f.listings[listingID]
	if !ok {
		return nil, storage.ErrListingNotFound
	}
	return l, nil
}

func (f *fakeRepo) SaveSyncRecord(_ context.Context, record *models.SyncRecord) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	for i, r := range f.records {
		if r.Username == record.Username && r.ListingID == record.ListingID {
			f.records[i] = record
			return nil
		}
	}
	f.records = append(f.records, record)
	return nil
}

func (f *fakeRepo) SaveListings(_ context.Context, listings []*models.Listing) (int, int, error) {
	saved, skipped := 0, 0
	for _, l := range listings {
		if _, ok := f.listings[l.ListingID]; ok {
			skipped++
			continue
		}
		f.listings[l.ListingID] = l
		saved++
	}
	return saved, skipped, nil
}

func (f *fakeRepo) GetUnsynced(_ context.Context, username string, limit int) ([]*models.Listing, error) {
	synced := make(map[string]struct{})
	for _, r := range f.records {
		if r.Username == username {
			synced[r.ListingID] = struct{}{}
		}
	}
	var ids []string
	for id := range f.listings {
		if _, ok := synced[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*models.Listing, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.listings[id])
	}
	return out, nil
}

func (f *fakeRepo) GetOffset(context.Context) (int, error) { return 0, nil }
func (f *fakeRepo) SetOffset(context.Context, int) error   { return nil }
func (f *fakeRepo) Close() error                           { return nil }

// fakeGateway scripts live field sets and per-field push failures.
type fakeGateway struct {
	fields     map[int64]map[string]models.RemoteField
	fetchErr   error
	failFields map[string]error
	fetches    int
	setCalls   []models.FieldUpdate
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		fields:     make(map[int64]map[string]models.RemoteField),
		failFields: make(map[string]error),
	}
}

func (g *fakeGateway) FetchLiveFields(_ context.Context, procID int64) (map[string]models.RemoteField, error) {
	g.fetches++
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	fields, ok := g.fields[procID]
	if !ok {
		return nil, fmt.Errorf("unknown procedure %d", procID)
	}
	return fields, nil
}

func (g *fakeGateway) SetField(_ context.Context, procID int64, name string, value any) error {
	g.setCalls = append(g.setCalls, models.FieldUpdate{Name: name, Value: value})
	if err, ok := g.failFields[name]; ok {
		return err
	}
	return nil
}

// fakeCreator scripts create_procedure results for the syncer tests.
type fakeCreator struct {
	nextProcID int64
	failFor    map[string]error
	created    []map[string]any
}

func (c *fakeCreator) CreateProcedure(_ context.Context, product map[string]any) (int64, error) {
	name, _ := product["product_id"].(string)
	if err, ok := c.failFor[name]; ok {
		return 0, err
	}
	c.created = append(c.created, product)
	c.nextProcID++
	return c.nextProcID, nil
}
