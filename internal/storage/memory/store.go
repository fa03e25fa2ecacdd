// Package memory implements the review ports in process. It backs unit tests
// and APP_STORE=memory local runs; it is not durable.
package memory

import (
	"context"
	"sort"
	"sync"

	"guest_reviews/internal/domain"
)

type Store struct {
	mu       sync.RWMutex
	reviews  map[string]domain.CanonicalReview
	failures map[int64]string
	audit    []domain.AuditRecord

	// FailAudit makes AppendAudit return this error when set.
	FailAudit error
}

func New() *Store {
	return &Store{
		reviews:  make(map[string]domain.CanonicalReview),
		failures: make(map[int64]string),
	}
}

// UpsertReviews keeps reviewId, submittedAt and approval state of existing
// rows and replaces everything else, categories included.
func (s *Store) UpsertReviews(_ context.Context, rs []domain.CanonicalReview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rs {
		r = clone(r)
		if old, ok := s.reviews[r.ReviewID]; ok {
			r.SubmittedAt = old.SubmittedAt
			r.IsApproved = old.IsApproved
		} else {
			r.IsApproved = nil
		}
		s.reviews[r.ReviewID] = r
	}
	return nil
}

func (s *Store) LogFailure(_ context.Context, sourceID int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[sourceID] = reason
	return nil
}

// Failures returns the last recorded reason per source id.
func (s *Store) Failures() map[int64]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]string, len(s.failures))
	for k, v := range s.failures {
		out[k] = v
	}
	return out
}

func (s *Store) GetReview(_ context.Context, reviewID string) (domain.CanonicalReview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reviews[reviewID]
	if !ok {
		return domain.CanonicalReview{}, domain.ErrNotFound
	}
	return clone(r), nil
}

func (s *Store) ListingsOf(_ context.Context, reviewIDs []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(reviewIDs))
	for _, id := range reviewIDs {
		if r, ok := s.reviews[id]; ok {
			out[id] = r.ListingID
		}
	}
	return out, nil
}

func (s *Store) ListReviews(_ context.Context, q domain.ReviewQuery) ([]domain.CanonicalReview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var want map[string]struct{}
	if len(q.ListingIDs) > 0 {
		want = make(map[string]struct{}, len(q.ListingIDs))
		for _, id := range q.ListingIDs {
			want[id] = struct{}{}
		}
	}
	var out []domain.CanonicalReview
	for _, r := range s.reviews {
		if want != nil {
			if _, ok := want[r.ListingID]; !ok {
				continue
			}
		}
		if q.From != nil && r.SubmittedAt.Before(*q.From) {
			continue
		}
		if q.To != nil && r.SubmittedAt.After(*q.To) {
			continue
		}
		if q.CategoryKey != "" && !hasCategory(r, q.CategoryKey) {
			continue
		}
		out = append(out, clone(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		return out[i].ReviewID > out[j].ReviewID
	})
	return out, nil
}

func (s *Store) SetApproval(_ context.Context, listingID, reviewID string, approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[reviewID]
	if !ok || r.ListingID != listingID {
		return domain.ErrNotFound
	}
	r.IsApproved = &approved
	s.reviews[reviewID] = r
	return nil
}

func (s *Store) Approvals(_ context.Context, listingID string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[string]bool{}
	for id, r := range s.reviews {
		if r.ListingID == listingID && r.IsApproved != nil {
			out[id] = *r.IsApproved
		}
	}
	return out, nil
}

// MoveApproval is a no-op: the decision is stored on the review itself.
func (s *Store) MoveApproval(context.Context, string, string, string) error { return nil }

func (s *Store) AppendAudit(_ context.Context, rec domain.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAudit != nil {
		return s.FailAudit
	}
	s.audit = append(s.audit, rec)
	return nil
}

func (s *Store) ListAudit(_ context.Context, reviewID string) ([]domain.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AuditRecord
	for _, rec := range s.audit {
		if rec.ReviewID == reviewID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func hasCategory(r domain.CanonicalReview, key string) bool {
	for _, c := range r.Categories {
		if c.Key == key {
			return true
		}
	}
	return false
}

func clone(r domain.CanonicalReview) domain.CanonicalReview {
	out := r
	out.Categories = append([]domain.Category{}, r.Categories...)
	out.IssueTags = append([]string(nil), r.IssueTags...)
	out.RawJSON = append([]byte(nil), r.RawJSON...)
	if r.IsApproved != nil {
		v := *r.IsApproved
		out.IsApproved = &v
	}
	if r.OverallRating != nil {
		v := *r.OverallRating
		out.OverallRating = &v
	}
	return out
}
