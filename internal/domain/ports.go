package domain

import (
	"context"
	"time"
)

type ReviewRepository interface {
	// Write paths
	UpsertReviews(ctx context.Context, rs []CanonicalReview) error
	LogFailure(ctx context.Context, sourceID int64, reason string) error

	// Read paths
	GetReview(ctx context.Context, reviewID string) (CanonicalReview, error)
	// ListingsOf maps each known review id to its stored listing; unknown ids are absent.
	ListingsOf(ctx context.Context, reviewIDs []string) (map[string]string, error)
	ListReviews(ctx context.Context, q ReviewQuery) ([]CanonicalReview, error)
}

// ApprovalStore holds the single authoritative tri-state per review.
// Approvals returns decided reviews only; a missing key means pending.
// MoveApproval carries a decision along when re-ingest moves a review to
// another listing; stores that keep state on the review row do nothing.
type ApprovalStore interface {
	SetApproval(ctx context.Context, listingID, reviewID string, approved bool) error
	Approvals(ctx context.Context, listingID string) (map[string]bool, error)
	MoveApproval(ctx context.Context, reviewID, fromListing, toListing string) error
}

type AuditLog interface {
	AppendAudit(ctx context.Context, rec AuditRecord) error
	ListAudit(ctx context.Context, reviewID string) ([]AuditRecord, error)
}

type ReviewSource interface {
	FetchReviews(ctx context.Context) (RawPayload, error)
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}

// Read models & queries

// ReviewQuery narrows ListReviews. Zero values mean "no constraint".
// Results are ordered newest first.
type ReviewQuery struct {
	ListingIDs  []string
	From, To    *time.Time
	CategoryKey string
}

// ListingFilter is the optional filter for listing aggregates.
type ListingFilter struct {
	From, To    *time.Time
	MinRating   *float64
	CategoryKey string
}
