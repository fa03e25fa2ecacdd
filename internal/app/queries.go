package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"guest_reviews/internal/domain"
)

// approvalFanout bounds concurrent approval lookups per request.
const approvalFanout = 8

const publicIndexKey = "public:listings"

func listingReviewsKey(listingID string, approvedOnly bool) string {
	return fmt.Sprintf("reviews:%s:%t", listingID, approvedOnly)
}

type QueryService struct {
	repo      domain.ReviewRepository
	approvals domain.ApprovalStore
	cache     domain.Cache
	cacheTTL  time.Duration
	timeout   time.Duration
}

func NewQueryService(r domain.ReviewRepository, a domain.ApprovalStore, c domain.Cache, ttl, timeout time.Duration) *QueryService {
	return &QueryService{repo: r, approvals: a, cache: c, cacheTTL: ttl, timeout: timeout}
}

func (s *QueryService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// ListListings returns one reconciled aggregate per listing matching f.
func (s *QueryService) ListListings(ctx context.Context, f domain.ListingFilter) ([]domain.ListingAggregate, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rs, err := s.repo.ListReviews(ctx, domain.ReviewQuery{From: f.From, To: f.To, CategoryKey: f.CategoryKey})
	if err != nil {
		return nil, domain.Persist("list reviews", "", err)
	}
	aggs := Aggregate(rs)
	if err := s.reconcileAll(ctx, aggs); err != nil {
		return nil, err
	}
	if f.MinRating == nil {
		return aggs, nil
	}
	out := aggs[:0]
	for _, a := range aggs {
		if a.AvgOverallRating != nil && *a.AvgOverallRating >= *f.MinRating {
			out = append(out, a)
		}
	}
	return out, nil
}

// ListingReviews returns a listing's reviews newest first. With approvedOnly
// only approved reviews are returned. Unknown listings yield ErrNotFound.
func (s *QueryService) ListingReviews(ctx context.Context, listingID string, approvedOnly bool) ([]domain.CanonicalReview, error) {
	key := listingReviewsKey(listingID, approvedOnly)
	var out []domain.CanonicalReview
	if ok, _ := s.cacheGet(ctx, key, &out); ok {
		return out, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rs, err := s.repo.ListReviews(ctx, domain.ReviewQuery{ListingIDs: []string{listingID}})
	if err != nil {
		return nil, domain.Persist("list reviews", listingID, err)
	}
	if len(rs) == 0 {
		return nil, fmt.Errorf("listing %s: %w", listingID, domain.ErrNotFound)
	}
	approvals, err := s.approvals.Approvals(ctx, listingID)
	if err != nil {
		return nil, domain.Persist("load approvals", listingID, err)
	}
	applyApprovals(rs, approvals)
	if approvedOnly {
		rs = filterApproved(rs)
	}
	s.cacheSet(ctx, key, rs)
	return rs, nil
}

// PublicListingIndex lists listings with at least one approved review.
func (s *QueryService) PublicListingIndex(ctx context.Context) ([]domain.PublicListing, error) {
	var out []domain.PublicListing
	if ok, _ := s.cacheGet(ctx, publicIndexKey, &out); ok {
		return out, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rs, err := s.repo.ListReviews(ctx, domain.ReviewQuery{})
	if err != nil {
		return nil, domain.Persist("list reviews", "", err)
	}
	aggs := Aggregate(rs)
	if err := s.reconcileAll(ctx, aggs); err != nil {
		return nil, err
	}
	out = PublicView(aggs)
	s.cacheSet(ctx, publicIndexKey, out)
	return out, nil
}

// aggregatesFor builds reconciled aggregates for the given listings only.
func (s *QueryService) aggregatesFor(ctx context.Context, listingIDs []string) ([]domain.ListingAggregate, error) {
	if len(listingIDs) == 0 {
		return []domain.ListingAggregate{}, nil
	}
	rs, err := s.repo.ListReviews(ctx, domain.ReviewQuery{ListingIDs: listingIDs})
	if err != nil {
		return nil, domain.Persist("list reviews", "", err)
	}
	aggs := Aggregate(rs)
	if err := s.reconcileAll(ctx, aggs); err != nil {
		return nil, err
	}
	return aggs, nil
}

// reconcileAll loads approval state per listing concurrently; each goroutine
// owns exactly one element of aggs.
func (s *QueryService) reconcileAll(ctx context.Context, aggs []domain.ListingAggregate) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(approvalFanout)
	for i := range aggs {
		agg := &aggs[i]
		g.Go(func() error {
			approvals, err := s.approvals.Approvals(gctx, agg.ListingID)
			if err != nil {
				return domain.Persist("load approvals", agg.ListingID, err)
			}
			Reconcile(agg, approvals)
			return nil
		})
	}
	return g.Wait()
}

// invalidateListing drops every cached view a change to listingID can affect.
func (s *QueryService) invalidateListing(ctx context.Context, listingID string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Del(ctx, listingReviewsKey(listingID, true))
	_ = s.cache.Del(ctx, listingReviewsKey(listingID, false))
	_ = s.cache.Del(ctx, publicIndexKey)
}

func (s *QueryService) cacheGet(ctx context.Context, key string, dst any) (bool, error) {
	if s.cache == nil {
		return false, nil
	}
	return s.cache.Get(ctx, key, dst)
}

func (s *QueryService) cacheSet(ctx context.Context, key string, v any) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}
	// optional size guard
	if b, _ := json.Marshal(v); len(b) < 1_000_000 {
		_ = s.cache.Set(ctx, key, v, int(s.cacheTTL.Seconds()))
	}
}
