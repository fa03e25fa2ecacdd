package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	redisad "guest_reviews/internal/adapters/redis"
	"guest_reviews/internal/app"
	"guest_reviews/internal/domain"
	"guest_reviews/internal/storage/memory"
)

// ---- fakes ----

// fakeCache stores JSON like the Redis adapter does, so cached values
// round-trip through the same encoding.
type fakeCache struct {
	mu    sync.Mutex
	store map[string][]byte
	hits  int
	dels  int
}

func (c *fakeCache) Get(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.store[key]
	if !ok {
		return false, nil
	}
	c.hits++
	return true, json.Unmarshal(b, dst)
}

func (c *fakeCache) Set(_ context.Context, key string, v any, _ int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		c.store = map[string][]byte{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.store[key] = b
	return nil
}

func (c *fakeCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dels++
	delete(c.store, key)
	return nil
}

type fakeSource struct {
	p   domain.RawPayload
	err error
}

func (f fakeSource) FetchReviews(context.Context) (domain.RawPayload, error) { return f.p, f.err }

type brokenRepo struct{ *memory.Store }

func (brokenRepo) ListReviews(context.Context, domain.ReviewQuery) ([]domain.CanonicalReview, error) {
	return nil, context.DeadlineExceeded
}

type services struct {
	store     *memory.Store
	cache     *fakeCache
	q         *app.QueryService
	ingest    *app.IngestionService
	approvals *app.ApprovalService
}

func newServices(src domain.ReviewSource) services {
	st := memory.New()
	cache := &fakeCache{}
	q := app.NewQueryService(st, st, cache, time.Minute, time.Second)
	return services{
		store:     st,
		cache:     cache,
		q:         q,
		ingest:    app.NewIngestionService(src, st, q),
		approvals: app.NewApprovalService(st, st, st, q),
	}
}

func scenarioPayload() domain.RawPayload {
	return domain.RawPayload{Status: "success", Result: []domain.RawReview{
		raw(1, "Cozy Downtown Apartment", pfloat(4.5), "2024-01-10 10:00:00", cat("cleanliness", 5)),
		raw(2, "Cozy Downtown Apartment", pfloat(5), "2024-02-10 10:00:00", cat("cleanliness", 4)),
	}}
}

// ---- tests ----

func TestScenario_IngestApproveRead(t *testing.T) {
	s := newServices(nil)
	ctx := context.Background()

	res, err := s.ingest.NormalizeAndStore(ctx, scenarioPayload(), false)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Stored != 2 || len(res.Listings) != 1 {
		t.Fatalf("result: %+v", res)
	}
	agg := res.Listings[0]
	if agg.ListingID != "cozy-downtown-apartment" || agg.AvgOverallRating == nil || *agg.AvgOverallRating != 4.75 {
		t.Fatalf("aggregate: %+v", agg)
	}
	if agg.ApprovalStats != (domain.ApprovalStats{TotalReviews: 2, PendingCount: 2}) {
		t.Fatalf("initial stats: %+v", agg.ApprovalStats)
	}

	conf, err := s.approvals.SetApproval(ctx, "hostaway:1", "cozy-downtown-apartment", true, "manager")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !conf.AuditRecorded || !conf.Decision || conf.Timestamp.IsZero() {
		t.Fatalf("confirmation: %+v", conf)
	}

	aggs, err := s.q.ListListings(ctx, domain.ListingFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if aggs[0].ApprovalStats != (domain.ApprovalStats{TotalReviews: 2, ApprovedCount: 1, PendingCount: 1}) {
		t.Fatalf("stats after approval: %+v", aggs[0].ApprovalStats)
	}

	approved, err := s.q.ListingReviews(ctx, "cozy-downtown-apartment", true)
	if err != nil {
		t.Fatalf("approved reviews: %v", err)
	}
	if len(approved) != 1 || approved[0].ReviewID != "hostaway:1" {
		t.Fatalf("approved: %+v", approved)
	}

	all, err := s.q.ListingReviews(ctx, "cozy-downtown-apartment", false)
	if err != nil {
		t.Fatalf("all reviews: %v", err)
	}
	// newest first
	if len(all) != 2 || all[0].ReviewID != "hostaway:2" {
		t.Fatalf("all: %+v", all)
	}
}

func TestSetApproval_AuditTrail(t *testing.T) {
	s := newServices(nil)
	ctx := context.Background()
	if _, err := s.ingest.NormalizeAndStore(ctx, scenarioPayload(), false); err != nil {
		t.Fatal(err)
	}

	for _, d := range []bool{true, false} {
		if _, err := s.approvals.SetApproval(ctx, "hostaway:2", "cozy-downtown-apartment", d, "manager"); err != nil {
			t.Fatalf("set %v: %v", d, err)
		}
	}
	hist, err := s.approvals.History(ctx, "hostaway:2")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 || !hist[0].Decision || hist[1].Decision {
		t.Fatalf("history: %+v", hist)
	}
	if hist[0].ID == "" || hist[0].ID == hist[1].ID || hist[0].Actor != "manager" {
		t.Fatalf("audit ids/actor: %+v", hist)
	}

	rv, err := s.store.GetReview(ctx, "hostaway:2")
	if err != nil {
		t.Fatal(err)
	}
	if rv.ApprovalState() != domain.StateRejected {
		t.Fatalf("last write should win, got %s", rv.ApprovalState())
	}

	empty, err := s.approvals.History(ctx, "hostaway:1")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("history without decisions: %v %v", empty, err)
	}
}

func TestSetApproval_AuditFailureKeepsApproval(t *testing.T) {
	s := newServices(nil)
	ctx := context.Background()
	if _, err := s.ingest.NormalizeAndStore(ctx, scenarioPayload(), false); err != nil {
		t.Fatal(err)
	}
	s.store.FailAudit = errors.New("disk full")

	conf, err := s.approvals.SetApproval(ctx, "hostaway:1", "cozy-downtown-apartment", true, "manager")
	if err != nil {
		t.Fatalf("audit failure must not fail the approval: %v", err)
	}
	if conf.AuditRecorded {
		t.Fatalf("confirmation should report the missing audit record")
	}
	rv, _ := s.store.GetReview(ctx, "hostaway:1")
	if rv.ApprovalState() != domain.StateApproved {
		t.Fatalf("approval not kept: %s", rv.ApprovalState())
	}
}

func TestSetApproval_Rejections(t *testing.T) {
	s := newServices(nil)
	ctx := context.Background()
	if _, err := s.ingest.NormalizeAndStore(ctx, scenarioPayload(), false); err != nil {
		t.Fatal(err)
	}

	_, err := s.approvals.SetApproval(ctx, "hostaway:99", "cozy-downtown-apartment", true, "manager")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	_, err = s.approvals.SetApproval(ctx, "hostaway:1", "beach-house", true, "manager")
	var me *domain.MismatchError
	if !errors.As(err, &me) || me.Actual != "cozy-downtown-apartment" {
		t.Fatalf("want MismatchError, got %v", err)
	}

	if _, err := s.approvals.History(ctx, "hostaway:99"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("history of unknown review: %v", err)
	}
}

func TestListingReviews_CacheAndInvalidation(t *testing.T) {
	s := newServices(nil)
	ctx := context.Background()
	if _, err := s.ingest.NormalizeAndStore(ctx, scenarioPayload(), false); err != nil {
		t.Fatal(err)
	}

	first, err := s.q.ListingReviews(ctx, "cozy-downtown-apartment", true)
	if err != nil || len(first) != 0 {
		t.Fatalf("first read: %v %v", first, err)
	}
	if _, err := s.q.ListingReviews(ctx, "cozy-downtown-apartment", true); err != nil {
		t.Fatal(err)
	}
	if s.cache.hits != 1 {
		t.Fatalf("second read should hit the cache, hits=%d", s.cache.hits)
	}

	if _, err := s.approvals.SetApproval(ctx, "hostaway:1", "cozy-downtown-apartment", true, "manager"); err != nil {
		t.Fatal(err)
	}
	after, err := s.q.ListingReviews(ctx, "cozy-downtown-apartment", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 1 {
		t.Fatalf("approval must invalidate the cached view, got %d reviews", len(after))
	}
}

func TestPublicListingIndex(t *testing.T) {
	s := newServices(nil)
	ctx := context.Background()
	p := scenarioPayload()
	p.Result = append(p.Result, raw(3, "Beach House", pfloat(2), "2024-03-01 09:00:00"))
	if _, err := s.ingest.NormalizeAndStore(ctx, p, false); err != nil {
		t.Fatal(err)
	}

	idx, err := s.q.PublicListingIndex(ctx)
	if err != nil || len(idx) != 0 {
		t.Fatalf("nothing approved yet: %v %v", idx, err)
	}

	if _, err := s.approvals.SetApproval(ctx, "hostaway:2", "cozy-downtown-apartment", true, "manager"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.approvals.SetApproval(ctx, "hostaway:3", "beach-house", false, "manager"); err != nil {
		t.Fatal(err)
	}
	idx, err = s.q.PublicListingIndex(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(idx) != 1 || idx[0].ListingID != "cozy-downtown-apartment" || idx[0].ApprovedCount != 1 {
		t.Fatalf("public index: %+v", idx)
	}
	if idx[0].AvgRating == nil || *idx[0].AvgRating != 5 {
		t.Fatalf("avg over approved only: %v", deref(idx[0].AvgRating))
	}
}

func TestListListings_Filters(t *testing.T) {
	s := newServices(nil)
	ctx := context.Background()
	p := scenarioPayload()
	p.Result = append(p.Result, raw(3, "Beach House", pfloat(2), "2024-03-01 09:00:00", cat("value", 2)))
	if _, err := s.ingest.NormalizeAndStore(ctx, p, false); err != nil {
		t.Fatal(err)
	}

	minR := 4.0
	got, err := s.q.ListListings(ctx, domain.ListingFilter{MinRating: &minR})
	if err != nil || len(got) != 1 || got[0].ListingID != "cozy-downtown-apartment" {
		t.Fatalf("minRating: %+v %v", got, err)
	}

	from := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 2, 10, 10, 0, 0, 0, time.UTC) // inclusive
	got, err = s.q.ListListings(ctx, domain.ListingFilter{From: &from, To: &to})
	if err != nil || len(got) != 1 || got[0].ReviewCount != 1 || got[0].Reviews[0].ReviewID != "hostaway:2" {
		t.Fatalf("date range: %+v %v", got, err)
	}

	got, err = s.q.ListListings(ctx, domain.ListingFilter{CategoryKey: "value"})
	if err != nil || len(got) != 1 || got[0].ListingID != "beach-house" {
		t.Fatalf("category: %+v %v", got, err)
	}
}

func TestReingest_KeepsApprovalAndSubmittedAt(t *testing.T) {
	s := newServices(nil)
	ctx := context.Background()
	if _, err := s.ingest.NormalizeAndStore(ctx, scenarioPayload(), false); err != nil {
		t.Fatal(err)
	}
	if _, err := s.approvals.SetApproval(ctx, "hostaway:1", "cozy-downtown-apartment", true, "manager"); err != nil {
		t.Fatal(err)
	}

	again := domain.RawPayload{Result: []domain.RawReview{
		raw(1, "Cozy Downtown Apartment", pfloat(3), "2030-01-01 00:00:00", cat("value", 3)),
	}}
	res, err := s.ingest.NormalizeAndStore(ctx, again, false)
	if err != nil {
		t.Fatal(err)
	}
	rv, _ := s.store.GetReview(ctx, "hostaway:1")
	if rv.ApprovalState() != domain.StateApproved {
		t.Fatalf("re-ingest reset approval to %s", rv.ApprovalState())
	}
	if rv.SubmittedAt.Year() != 2024 {
		t.Fatalf("submittedAt overwritten: %v", rv.SubmittedAt)
	}
	if len(rv.Categories) != 1 || rv.Categories[0].Key != "value" {
		t.Fatalf("categories not replaced: %+v", rv.Categories)
	}
	if res.Listings[0].ApprovalStats.ApprovedCount != 1 {
		t.Fatalf("aggregate after re-ingest: %+v", res.Listings[0].ApprovalStats)
	}
}

func TestReingest_RenamedListingKeepsApproval(t *testing.T) {
	stores := []struct {
		name string
		open func(t *testing.T, st *memory.Store) domain.ApprovalStore
	}{
		{"review column", func(_ *testing.T, st *memory.Store) domain.ApprovalStore { return st }},
		{"redis hash", func(t *testing.T, _ *memory.Store) domain.ApprovalStore {
			mr := miniredis.RunT(t)
			c := redisad.NewClient(mr.Addr(), "", 0)
			t.Cleanup(func() { _ = c.Close() })
			return redisad.NewApprovalStore(c)
		}},
	}
	for _, tc := range stores {
		t.Run(tc.name, func(t *testing.T) {
			st := memory.New()
			approvals := tc.open(t, st)
			q := app.NewQueryService(st, approvals, &fakeCache{}, time.Minute, time.Second)
			ingest := app.NewIngestionService(nil, st, q)
			svc := app.NewApprovalService(st, approvals, st, q)
			ctx := context.Background()

			first := domain.RawPayload{Result: []domain.RawReview{raw(1, "Old Name", pfloat(4), "2024-01-10 10:00:00")}}
			if _, err := ingest.NormalizeAndStore(ctx, first, false); err != nil {
				t.Fatal(err)
			}
			if _, err := svc.SetApproval(ctx, "hostaway:1", "old-name", true, "manager"); err != nil {
				t.Fatal(err)
			}
			if idx, err := q.PublicListingIndex(ctx); err != nil || len(idx) != 1 {
				t.Fatalf("public index before rename: %+v %v", idx, err)
			}

			renamed := domain.RawPayload{Result: []domain.RawReview{raw(1, "New Name", pfloat(4), "2024-01-10 10:00:00")}}
			res, err := ingest.NormalizeAndStore(ctx, renamed, false)
			if err != nil {
				t.Fatal(err)
			}
			if len(res.Listings) != 1 || res.Listings[0].ApprovalStats.ApprovedCount != 1 {
				t.Fatalf("aggregate after rename: %+v", res.Listings)
			}

			approved, err := q.ListingReviews(ctx, "new-name", true)
			if err != nil || len(approved) != 1 || approved[0].ApprovalState() != domain.StateApproved {
				t.Fatalf("approved reviews on new listing: %+v %v", approved, err)
			}
			idx, err := q.PublicListingIndex(ctx)
			if err != nil || len(idx) != 1 || idx[0].ListingID != "new-name" {
				t.Fatalf("public index after rename: %+v %v", idx, err)
			}
			if _, err := q.ListingReviews(ctx, "old-name", false); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("old listing should be gone, got %v", err)
			}
		})
	}
}

func TestSetApproval_ConcurrentWritesSettleOnOne(t *testing.T) {
	s := newServices(nil)
	ctx := context.Background()
	if _, err := s.ingest.NormalizeAndStore(ctx, scenarioPayload(), false); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, d := range []bool{true, false} {
		wg.Add(1)
		go func(d bool) {
			defer wg.Done()
			_, err := s.approvals.SetApproval(ctx, "hostaway:1", "cozy-downtown-apartment", d, "manager")
			errs <- err
		}(d)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent approval: %v", err)
		}
	}

	rv, err := s.store.GetReview(ctx, "hostaway:1")
	if err != nil {
		t.Fatal(err)
	}
	if st := rv.ApprovalState(); st != domain.StateApproved && st != domain.StateRejected {
		t.Fatalf("final state %s is neither written value", st)
	}
	hist, err := s.approvals.History(ctx, "hostaway:1")
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 || hist[0].Decision == hist[1].Decision {
		t.Fatalf("want one audit entry per write, got %+v", hist)
	}
}

func TestNormalizeAndStore_StrictPersistsNothing(t *testing.T) {
	s := newServices(nil)
	ctx := context.Background()
	p := scenarioPayload()
	p.Result = append(p.Result, raw(3, "Beach House", nil, "2024-02-30 10:00:00"))

	if _, err := s.ingest.NormalizeAndStore(ctx, p, true); err == nil {
		t.Fatalf("strict batch should fail")
	}
	if rs, _ := s.store.ListReviews(ctx, domain.ReviewQuery{}); len(rs) != 0 {
		t.Fatalf("strict failure persisted %d reviews", len(rs))
	}

	res, err := s.ingest.NormalizeAndStore(ctx, p, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Stored != 2 || len(res.Failures) != 1 {
		t.Fatalf("lenient batch: %+v", res)
	}
	if reason := s.store.Failures()[3]; reason == "" {
		t.Fatalf("failure not recorded")
	}
}

func TestIngestFromSource(t *testing.T) {
	s := newServices(fakeSource{p: scenarioPayload()})
	res, err := s.ingest.IngestFromSource(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Stored != 2 {
		t.Fatalf("stored: %d", res.Stored)
	}

	s = newServices(fakeSource{err: errors.New("upstream down")})
	if _, err := s.ingest.IngestFromSource(context.Background(), false); err == nil {
		t.Fatalf("expected fetch error")
	}
}

func TestQueries_WrapStoreFailures(t *testing.T) {
	st := memory.New()
	q := app.NewQueryService(brokenRepo{st}, st, nil, 0, time.Second)

	_, err := q.ListListings(context.Background(), domain.ListingFilter{})
	var pe *domain.PersistenceError
	if !errors.As(err, &pe) || !pe.Timeout() {
		t.Fatalf("want timed-out PersistenceError, got %v", err)
	}
}
