package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"guest_reviews/internal/adapters/observability"
	"guest_reviews/internal/domain"
)

type IngestionService struct {
	source domain.ReviewSource
	repo   domain.ReviewRepository
	q      *QueryService

	// Strict is the default for callers that do not choose; it aborts a
	// batch on its first normalization failure.
	Strict bool
}

func NewIngestionService(src domain.ReviewSource, r domain.ReviewRepository, q *QueryService) *IngestionService {
	return &IngestionService{source: src, repo: r, q: q}
}

// IngestResult is what one normalize-and-store call produced.
type IngestResult struct {
	Stored   int                       `json:"stored"`
	Failures []RecordFailure           `json:"failures"`
	Listings []domain.ListingAggregate `json:"listings"`
}

// IngestFromSource pulls one batch from the configured source and stores it.
func (s *IngestionService) IngestFromSource(ctx context.Context, strict bool) (IngestResult, error) {
	if s.source == nil {
		return IngestResult{}, fmt.Errorf("no review source configured")
	}
	p, err := s.source.FetchReviews(ctx)
	if err != nil {
		return IngestResult{}, fmt.Errorf("fetch reviews: %w", err)
	}
	return s.NormalizeAndStore(ctx, p, strict)
}

// NormalizeAndStore normalizes a raw batch, upserts the survivors in one
// atomic step, and returns aggregates for every listing the batch touched.
func (s *IngestionService) NormalizeAndStore(ctx context.Context, p domain.RawPayload, strict bool) (IngestResult, error) {
	// 1) Normalize. Per-record failures are recorded and skipped unless strict.
	b, err := NormalizeBatch(domain.SourceHostaway, p.Result, strict)
	if err != nil {
		observability.ObserveNormalize("failed", 1)
		return IngestResult{}, err
	}
	observability.ObserveNormalize("ok", len(b.Reviews))
	observability.ObserveNormalize("failed", len(b.Failures))

	ctx, cancel := s.q.withTimeout(ctx)
	defer cancel()

	for _, f := range b.Failures {
		log.Warn().Int64("source_id", f.SourceID).Str("field", f.Field).Str("reason", f.Reason).Msg("review skipped")
		if err := s.repo.LogFailure(ctx, f.SourceID, f.Field+": "+f.Reason); err != nil {
			log.Warn().Err(err).Int64("source_id", f.SourceID).Msg("record ingest failure failed")
		}
	}

	res := IngestResult{Failures: b.Failures, Listings: []domain.ListingAggregate{}}
	if res.Failures == nil {
		res.Failures = []RecordFailure{}
	}
	if len(b.Reviews) == 0 {
		return res, nil
	}

	// 2) Decisions follow reviews that moved listing. Done before the upsert so
	// a retry after a failed upsert still sees the old listing.
	left, err := s.relist(ctx, b.Reviews)
	if err != nil {
		return IngestResult{}, err
	}

	// 3) Persist. Review rows and their categories go in together or not at all.
	if err := s.repo.UpsertReviews(ctx, b.Reviews); err != nil {
		return IngestResult{}, domain.Persist("upsert reviews", "", err)
	}
	res.Stored = len(b.Reviews)

	// 4) Evict stale views, then aggregate what is now persisted.
	for _, id := range left {
		s.q.invalidateListing(ctx, id)
	}
	seen := map[string]struct{}{}
	var listingIDs []string
	for _, rv := range b.Reviews {
		if _, ok := seen[rv.ListingID]; ok {
			continue
		}
		seen[rv.ListingID] = struct{}{}
		listingIDs = append(listingIDs, rv.ListingID)
		s.q.invalidateListing(ctx, rv.ListingID)
	}

	aggs, err := s.q.aggregatesFor(ctx, listingIDs)
	if err != nil {
		return IngestResult{}, err
	}
	res.Listings = aggs
	log.Info().Int("stored", res.Stored).Int("failed", len(res.Failures)).Int("listings", len(aggs)).Msg("batch ingested")
	return res, nil
}

// relist moves approval state for reviews re-ingested under another listing
// and returns the listings they left.
func (s *IngestionService) relist(ctx context.Context, rs []domain.CanonicalReview) ([]string, error) {
	ids := make([]string, len(rs))
	for i, rv := range rs {
		ids[i] = rv.ReviewID
	}
	prev, err := s.repo.ListingsOf(ctx, ids)
	if err != nil {
		return nil, domain.Persist("lookup listings", "", err)
	}
	var left []string
	for _, rv := range rs {
		old, ok := prev[rv.ReviewID]
		if !ok || old == rv.ListingID {
			continue
		}
		if err := s.q.approvals.MoveApproval(ctx, rv.ReviewID, old, rv.ListingID); err != nil {
			return nil, domain.Persist("move approval", rv.ReviewID, err)
		}
		log.Info().Str("review_id", rv.ReviewID).Str("from", old).Str("to", rv.ListingID).Msg("review moved listing")
		left = append(left, old)
	}
	return left, nil
}
