package domain

import "time"

// SourceHostaway is the only review source wired today.
const SourceHostaway = "hostaway"

// RawPayload is the envelope the source returns: {"status": "...", "result": [...]}.
type RawPayload struct {
	Status string      `json:"status"`
	Result []RawReview `json:"result"`
}

type RawCategory struct {
	Category string  `json:"category"`
	Rating   float64 `json:"rating"`
}

// RawReview is one record as the source emits it.
type RawReview struct {
	ID             int64         `json:"id"`
	Type           string        `json:"type"`
	Status         string        `json:"status"`
	Rating         *float64      `json:"rating"`
	PublicReview   string        `json:"publicReview"`
	ReviewCategory []RawCategory `json:"reviewCategory"`
	SubmittedAt    string        `json:"submittedAt"`
	GuestName      string        `json:"guestName"`
	ListingName    string        `json:"listingName"`
}

type Category struct {
	Key    string  `json:"key"`
	Label  string  `json:"label"`
	Rating float64 `json:"rating"`
}

// CanonicalReview is the source-agnostic review shape used for storage and KPIs.
// IsApproved is tri-state: nil pending, true approved, false rejected.
type CanonicalReview struct {
	ReviewID      string     `json:"reviewId"`
	Source        string     `json:"source"`
	ListingID     string     `json:"listingId"`
	ListingName   string     `json:"listingName"`
	Type          string     `json:"type"`
	Status        string     `json:"status"`
	GuestName     string     `json:"guestName"`
	ReviewText    string     `json:"reviewText"`
	OverallRating *float64   `json:"overallRating"`
	SubmittedAt   time.Time  `json:"submittedAt"`
	Categories    []Category `json:"categories"`
	IssueTags     []string   `json:"issueTags,omitempty"`
	IsApproved    *bool      `json:"isApproved"`
	RawJSON       []byte     `json:"-"`
}

const (
	StatePending  = "pending"
	StateApproved = "approved"
	StateRejected = "rejected"
)

// ApprovalState names the tri-state value.
func (r CanonicalReview) ApprovalState() string {
	switch {
	case r.IsApproved == nil:
		return StatePending
	case *r.IsApproved:
		return StateApproved
	default:
		return StateRejected
	}
}

// AuditRecord is one append-only approval decision.
type AuditRecord struct {
	ID        string    `json:"id"`
	ReviewID  string    `json:"reviewId"`
	ListingID string    `json:"listingId"`
	Decision  bool      `json:"decision"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"timestamp"`
}
