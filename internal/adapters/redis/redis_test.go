package redisad_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	redisad "guest_reviews/internal/adapters/redis"
)

type view struct {
	ListingID string `json:"listingId"`
	Count     int    `json:"count"`
}

func newClient(t *testing.T) (*miniredis.Miniredis, *redisad.Cache, *redisad.ApprovalStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redisad.NewClient(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = c.Close() })
	return mr, redisad.NewCache(c), redisad.NewApprovalStore(c)
}

func TestCache_SetGetDel(t *testing.T) {
	mr, cache, _ := newClient(t)
	ctx := context.Background()

	var got view
	ok, err := cache.Get(ctx, "reviews:x:true", &got)
	if err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	if err := cache.Set(ctx, "reviews:x:true", view{ListingID: "x", Count: 2}, 60); err != nil {
		t.Fatalf("set: %v", err)
	}
	if ttl := mr.TTL("cache:reviews:x:true"); ttl <= 0 {
		t.Fatalf("expected ttl on key, got %v", ttl)
	}
	ok, err = cache.Get(ctx, "reviews:x:true", &got)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.ListingID != "x" || got.Count != 2 {
		t.Fatalf("unexpected value: %+v", got)
	}

	if err := cache.Del(ctx, "reviews:x:true"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if ok, _ := cache.Get(ctx, "reviews:x:true", &got); ok {
		t.Fatalf("expected miss after del")
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	mr, cache, _ := newClient(t)
	ctx := context.Background()
	if err := cache.Set(ctx, "public:listings", []view{{ListingID: "a"}}, 1); err != nil {
		t.Fatalf("set: %v", err)
	}
	mr.FastForward(2 * time.Second)
	var got []view
	if ok, _ := cache.Get(ctx, "public:listings", &got); ok {
		t.Fatalf("expected entry to expire")
	}
}

func TestApprovalStore_Tristate(t *testing.T) {
	mr, _, store := newClient(t)
	ctx := context.Background()

	got, err := store.Approvals(ctx, "beach-house")
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty map, got %v err=%v", got, err)
	}

	if err := store.SetApproval(ctx, "beach-house", "hostaway:1", true); err != nil {
		t.Fatal(err)
	}
	if err := store.SetApproval(ctx, "beach-house", "hostaway:2", false); err != nil {
		t.Fatal(err)
	}
	// last write wins
	if err := store.SetApproval(ctx, "beach-house", "hostaway:2", true); err != nil {
		t.Fatal(err)
	}

	got, err = store.Approvals(ctx, "beach-house")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || !got["hostaway:1"] || !got["hostaway:2"] {
		t.Fatalf("unexpected approvals: %v", got)
	}
	if v := mr.HGet("approvals:beach-house", "hostaway:2"); v != "1" {
		t.Fatalf("hash field = %q", v)
	}
	if _, ok := got["hostaway:3"]; ok {
		t.Fatalf("undecided review must be absent")
	}
}

func TestApprovalStore_MoveApproval(t *testing.T) {
	mr, _, store := newClient(t)
	ctx := context.Background()

	if err := store.SetApproval(ctx, "old-name", "hostaway:1", true); err != nil {
		t.Fatal(err)
	}
	if err := store.MoveApproval(ctx, "hostaway:1", "old-name", "new-name"); err != nil {
		t.Fatalf("move: %v", err)
	}
	got, err := store.Approvals(ctx, "new-name")
	if err != nil || !got["hostaway:1"] {
		t.Fatalf("new listing approvals: %v err=%v", got, err)
	}
	if mr.Exists("approvals:old-name") {
		t.Fatalf("old hash should be empty")
	}

	// nothing to move: the destination keeps its value
	if err := store.SetApproval(ctx, "new-name", "hostaway:2", false); err != nil {
		t.Fatal(err)
	}
	if err := store.MoveApproval(ctx, "hostaway:2", "old-name", "new-name"); err != nil {
		t.Fatalf("move missing: %v", err)
	}
	if v := mr.HGet("approvals:new-name", "hostaway:2"); v != "0" {
		t.Fatalf("destination overwritten: %q", v)
	}

	// same listing leaves the field in place
	if err := store.MoveApproval(ctx, "hostaway:1", "new-name", "new-name"); err != nil {
		t.Fatal(err)
	}
	if v := mr.HGet("approvals:new-name", "hostaway:1"); v != "1" {
		t.Fatalf("field lost on same-listing move: %q", v)
	}
}
