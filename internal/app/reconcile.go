package app

import "guest_reviews/internal/domain"

// Reconcile overlays the authoritative approval state onto the aggregate's
// member reviews and recounts. approvals holds decided reviews only.
func Reconcile(agg *domain.ListingAggregate, approvals map[string]bool) {
	applyApprovals(agg.Reviews, approvals)
	agg.ApprovalStats = countApprovals(agg.Reviews)
}

func applyApprovals(rs []domain.CanonicalReview, approvals map[string]bool) {
	for i := range rs {
		if v, ok := approvals[rs[i].ReviewID]; ok {
			rs[i].IsApproved = &v
		} else {
			rs[i].IsApproved = nil
		}
	}
}

func countApprovals(rs []domain.CanonicalReview) domain.ApprovalStats {
	st := domain.ApprovalStats{TotalReviews: len(rs)}
	for _, r := range rs {
		switch r.ApprovalState() {
		case domain.StateApproved:
			st.ApprovedCount++
		case domain.StateRejected:
			st.RejectedCount++
		default:
			st.PendingCount++
		}
	}
	return st
}

// filterApproved keeps reviews in the approved state, preserving order.
func filterApproved(rs []domain.CanonicalReview) []domain.CanonicalReview {
	out := make([]domain.CanonicalReview, 0, len(rs))
	for _, r := range rs {
		if r.ApprovalState() == domain.StateApproved {
			out = append(out, r)
		}
	}
	return out
}

// PublicView projects reconciled aggregates onto the public index. Listings
// without an approved review are left out.
func PublicView(aggs []domain.ListingAggregate) []domain.PublicListing {
	out := make([]domain.PublicListing, 0, len(aggs))
	for _, a := range aggs {
		if pl, ok := publicEntry(a); ok {
			out = append(out, pl)
		}
	}
	return out
}

// publicEntry builds the public index row for a reconciled aggregate. The
// average covers approved reviews only; ok is false when none are approved.
func publicEntry(agg domain.ListingAggregate) (domain.PublicListing, bool) {
	approved := filterApproved(agg.Reviews)
	if len(approved) == 0 {
		return domain.PublicListing{}, false
	}
	pl := domain.PublicListing{
		ListingID:     agg.ListingID,
		ListingName:   agg.ListingName,
		ApprovedCount: len(approved),
	}
	var sum float64
	var n int
	for _, r := range approved {
		if r.OverallRating != nil {
			sum += *r.OverallRating
			n++
		}
	}
	if n > 0 {
		pl.AvgRating = pfloat(round2(sum / float64(n)))
	}
	return pl, true
}
