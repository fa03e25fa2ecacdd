package redisad

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// ApprovalStore keeps decisions in one hash per listing:
// approvals:{listingId} -> {reviewId: "1"|"0"}. A missing field is pending.
type ApprovalStore struct{ c *redis.Client }

func NewApprovalStore(c *redis.Client) *ApprovalStore { return &ApprovalStore{c: c} }

// moveApproval shifts one field between listing hashes; a missing source
// field leaves the destination untouched.
var moveApproval = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], ARGV[1])
if not v then return 0 end
redis.call('HSET', KEYS[2], ARGV[1], v)
redis.call('HDEL', KEYS[1], ARGV[1])
return 1
`)

func approvalsKey(listingID string) string { return "approvals:" + listingID }

func (s *ApprovalStore) SetApproval(ctx context.Context, listingID, reviewID string, approved bool) error {
	v := "0"
	if approved {
		v = "1"
	}
	return s.c.HSet(ctx, approvalsKey(listingID), reviewID, v).Err()
}

func (s *ApprovalStore) Approvals(ctx context.Context, listingID string) (map[string]bool, error) {
	m, err := s.c.HGetAll(ctx, approvalsKey(listingID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(m))
	for id, v := range m {
		out[id] = v == "1"
	}
	return out, nil
}

// MoveApproval re-homes a review's decision when it changes listing.
func (s *ApprovalStore) MoveApproval(ctx context.Context, reviewID, fromListing, toListing string) error {
	if fromListing == toListing {
		return nil
	}
	return moveApproval.Run(ctx, s.c, []string{approvalsKey(fromListing), approvalsKey(toListing)}, reviewID).Err()
}
