package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"guest_reviews/internal/adapters/observability"
	"guest_reviews/internal/domain"
)

type ApprovalService struct {
	repo      domain.ReviewRepository
	approvals domain.ApprovalStore
	audit     domain.AuditLog
	q         *QueryService

	now   func() time.Time
	newID func() string
}

func NewApprovalService(r domain.ReviewRepository, a domain.ApprovalStore, audit domain.AuditLog, q *QueryService) *ApprovalService {
	return &ApprovalService{
		repo:      r,
		approvals: a,
		audit:     audit,
		q:         q,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

type ApprovalConfirmation struct {
	ReviewID      string    `json:"reviewId"`
	ListingID     string    `json:"listingId"`
	Decision      bool      `json:"isApproved"`
	Timestamp     time.Time `json:"timestamp"`
	AuditRecorded bool      `json:"auditRecorded"`
}

// SetApproval moves a review to approved or rejected. Every transition is
// allowed and overwrites the previous state. The audit append is best-effort:
// its failure is logged and reported in the confirmation, never rolled back.
func (s *ApprovalService) SetApproval(ctx context.Context, reviewID, listingID string, approved bool, actor string) (ApprovalConfirmation, error) {
	ctx, cancel := s.q.withTimeout(ctx)
	defer cancel()

	// 1) Validate target.
	rv, err := s.repo.GetReview(ctx, reviewID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ApprovalConfirmation{}, fmt.Errorf("review %s: %w", reviewID, domain.ErrNotFound)
		}
		return ApprovalConfirmation{}, domain.Persist("get review", reviewID, err)
	}
	if rv.ListingID != listingID {
		return ApprovalConfirmation{}, &domain.MismatchError{ReviewID: reviewID, Claimed: listingID, Actual: rv.ListingID}
	}

	// 2) Single authoritative write.
	if err := s.approvals.SetApproval(ctx, listingID, reviewID, approved); err != nil {
		return ApprovalConfirmation{}, domain.Persist("set approval", reviewID, err)
	}
	observability.ObserveApproval(approved)
	s.q.invalidateListing(ctx, listingID)

	conf := ApprovalConfirmation{
		ReviewID:  reviewID,
		ListingID: listingID,
		Decision:  approved,
		Timestamp: s.now().UTC(),
	}

	// 3) Audit append.
	rec := domain.AuditRecord{
		ID:        s.newID(),
		ReviewID:  reviewID,
		ListingID: listingID,
		Decision:  approved,
		Actor:     actor,
		CreatedAt: conf.Timestamp,
	}
	if err := s.audit.AppendAudit(ctx, rec); err != nil {
		aerr := &domain.AuditWriteError{ReviewID: reviewID, Err: err}
		observability.ObserveAuditFailure()
		log.Error().Err(aerr).Str("review_id", reviewID).Bool("decision", approved).Msg("audit append failed; approval kept")
		return conf, nil
	}
	conf.AuditRecorded = true
	return conf, nil
}

// History returns the audit trail for a review in chronological order.
func (s *ApprovalService) History(ctx context.Context, reviewID string) ([]domain.AuditRecord, error) {
	ctx, cancel := s.q.withTimeout(ctx)
	defer cancel()

	if _, err := s.repo.GetReview(ctx, reviewID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("review %s: %w", reviewID, domain.ErrNotFound)
		}
		return nil, domain.Persist("get review", reviewID, err)
	}
	recs, err := s.audit.ListAudit(ctx, reviewID)
	if err != nil {
		return nil, domain.Persist("list audit", reviewID, err)
	}
	if recs == nil {
		recs = []domain.AuditRecord{}
	}
	return recs, nil
}
