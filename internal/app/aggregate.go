package app

import (
	"sort"

	"guest_reviews/internal/domain"
)

type listingAcc struct {
	agg       domain.ListingAggregate
	ratingSum float64
	ratingN   int
	catSum    map[string]float64
	catN      map[string]int
}

// Aggregate groups reviews by listing and computes KPIs. Listings come back
// sorted by id; member reviews keep their input order. Means are computed at
// full precision and rounded to two places for presentation. Ties for the
// worst category go to the lexicographically smallest key.
func Aggregate(reviews []domain.CanonicalReview) []domain.ListingAggregate {
	groups := make(map[string]*listingAcc)
	for _, r := range reviews {
		acc, ok := groups[r.ListingID]
		if !ok {
			acc = &listingAcc{
				agg: domain.ListingAggregate{
					ListingID:   r.ListingID,
					ListingName: r.ListingName,
				},
				catSum: map[string]float64{},
				catN:   map[string]int{},
			}
			groups[r.ListingID] = acc
		}
		acc.agg.Reviews = append(acc.agg.Reviews, r)
		if r.OverallRating != nil {
			acc.ratingSum += *r.OverallRating
			acc.ratingN++
		}
		for _, c := range r.Categories {
			acc.catSum[c.Key] += c.Rating
			acc.catN[c.Key]++
		}
		for _, tag := range r.IssueTags {
			if acc.agg.IssueCounts == nil {
				acc.agg.IssueCounts = map[string]int{}
			}
			acc.agg.IssueCounts[tag]++
		}
	}

	out := make([]domain.ListingAggregate, 0, len(groups))
	for _, acc := range groups {
		out = append(out, acc.finish())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ListingID < out[j].ListingID })
	return out
}

func (acc *listingAcc) finish() domain.ListingAggregate {
	agg := acc.agg
	agg.ReviewCount = len(agg.Reviews)
	if acc.ratingN > 0 {
		agg.AvgOverallRating = pfloat(round2(acc.ratingSum / float64(acc.ratingN)))
	}

	keys := make([]string, 0, len(acc.catSum))
	for k := range acc.catSum {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	agg.AvgRatingByCategory = make(map[string]float64, len(keys))
	var worst *domain.CategoryScore
	var worstAvg float64
	for _, k := range keys {
		avg := acc.catSum[k] / float64(acc.catN[k])
		agg.AvgRatingByCategory[k] = round2(avg)
		if worst == nil || avg < worstAvg {
			worst = &domain.CategoryScore{Key: k}
			worstAvg = avg
		}
	}
	if worst != nil {
		worst.Average = round2(worstAvg)
		agg.WorstCategory = worst
	}
	agg.ApprovalStats = countApprovals(agg.Reviews)
	return agg
}
