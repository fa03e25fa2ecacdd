package domain

// ListingAggregate is derived on every read and never persisted.
// ApprovalStats partitions ReviewCount exactly.
type ListingAggregate struct {
	ListingID           string             `json:"listingId"`
	ListingName         string             `json:"listingName"`
	ReviewCount         int                `json:"reviewCount"`
	AvgOverallRating    *float64           `json:"avgOverallRating"`
	AvgRatingByCategory map[string]float64 `json:"avgRatingByCategory"`
	WorstCategory       *CategoryScore     `json:"worstCategory"`
	IssueCounts         map[string]int     `json:"issueCounts,omitempty"`
	ApprovalStats       ApprovalStats      `json:"approvalStats"`
	Reviews             []CanonicalReview  `json:"reviews"`
}

type CategoryScore struct {
	Key     string  `json:"key"`
	Average float64 `json:"avg"`
}

type ApprovalStats struct {
	TotalReviews  int `json:"totalReviews"`
	ApprovedCount int `json:"approvedCount"`
	PendingCount  int `json:"pendingCount"`
	RejectedCount int `json:"rejectedCount"`
}

// PublicListing is one row of the public index; only listings with approved reviews appear.
type PublicListing struct {
	ListingID     string   `json:"listingId"`
	ListingName   string   `json:"listingName"`
	ApprovedCount int      `json:"approvedCount"`
	AvgRating     *float64 `json:"avgRating"`
}
