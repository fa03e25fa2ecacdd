package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"guest_reviews/internal/domain"
)

const maxReasonLen = 512

func valF64(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
func valJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// placeholders returns "(?,?,...)" with n marks.
func placeholders(n int) string {
	return "(" + strings.TrimSuffix(strings.Repeat("?,", n), ",") + ")"
}

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

// UpsertReviews writes review rows and fully replaces their categories in a
// single transaction, so a review never lands without its categories.
func (r *Repo) UpsertReviews(ctx context.Context, rs []domain.CanonicalReview) (err error) {
	if len(rs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				log.Error().Err(rbErr).Msg("rollback upsert reviews failed")
			}
		}
	}()

	values := make([]string, 0, len(rs))
	args := make([]any, 0, len(rs)*12) // 12 params per row
	ids := make([]any, 0, len(rs))
	for _, rv := range rs {
		tags, _ := json.Marshal(rv.IssueTags)
		values = append(values, placeholders(12))
		args = append(args,
			rv.ReviewID,
			rv.Source,
			rv.ListingID,
			rv.ListingName,
			rv.Type,
			rv.Status,
			rv.GuestName,
			rv.ReviewText,
			valF64(rv.OverallRating),
			rv.SubmittedAt.UTC(),
			string(tags),
			valJSON(rv.RawJSON),
		)
		ids = append(ids, rv.ReviewID)
	}
	sqlStr := insertReviewsPrefix + strings.Join(values, ",") + insertReviewsOnDup
	if _, err = tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert reviews: %w", err)
	}

	// Replace, never merge: an empty list clears what was stored.
	if _, err = tx.ExecContext(ctx, deleteCategoriesPrefix+placeholders(len(ids)), ids...); err != nil {
		return fmt.Errorf("delete categories: %w", err)
	}

	var catValues []string
	var catArgs []any
	for _, rv := range rs {
		for pos, c := range rv.Categories {
			catValues = append(catValues, "(?,?,?,?,?)")
			catArgs = append(catArgs, rv.ReviewID, c.Key, c.Label, c.Rating, pos)
		}
	}
	if len(catValues) > 0 {
		sqlStr := insertCategoriesPrefix + strings.Join(catValues, ",") + insertCategoriesOnDup
		if _, err = tx.ExecContext(ctx, sqlStr, catArgs...); err != nil {
			return fmt.Errorf("insert categories: %w", err)
		}
	}
	return tx.Commit()
}

func (r *Repo) LogFailure(ctx context.Context, sourceID int64, reason string) error {
	_, err := r.db.ExecContext(ctx, insertFailureSQL, sourceID, truncate(reason, maxReasonLen))
	return err
}

func (r *Repo) GetReview(ctx context.Context, reviewID string) (domain.CanonicalReview, error) {
	rows, err := r.db.QueryContext(ctx, selectReviewColumns+"WHERE r.review_id = ?", reviewID)
	if err != nil {
		return domain.CanonicalReview{}, err
	}
	out, err := r.collect(ctx, rows)
	if err != nil {
		return domain.CanonicalReview{}, err
	}
	if len(out) == 0 {
		return domain.CanonicalReview{}, domain.ErrNotFound
	}
	return out[0], nil
}

// ListingsOf returns the stored listing of each known review id.
func (r *Repo) ListingsOf(ctx context.Context, reviewIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(reviewIDs))
	if len(reviewIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(reviewIDs))
	for i, id := range reviewIDs {
		args[i] = id
	}
	rows, err := r.db.QueryContext(ctx, selectListingsOfPrefix+placeholders(len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, listingID string
		if err := rows.Scan(&id, &listingID); err != nil {
			return nil, err
		}
		out[id] = listingID
	}
	return out, rows.Err()
}

func (r *Repo) ListReviews(ctx context.Context, q domain.ReviewQuery) ([]domain.CanonicalReview, error) {
	var where []string
	var args []any
	if len(q.ListingIDs) > 0 {
		where = append(where, "r.listing_id IN "+placeholders(len(q.ListingIDs)))
		for _, id := range q.ListingIDs {
			args = append(args, id)
		}
	}
	if q.From != nil {
		where = append(where, "r.submitted_at >= ?")
		args = append(args, q.From.UTC())
	}
	if q.To != nil {
		where = append(where, "r.submitted_at <= ?")
		args = append(args, q.To.UTC())
	}
	if q.CategoryKey != "" {
		where = append(where, categoryFilter)
		args = append(args, q.CategoryKey)
	}
	sqlStr := selectReviewColumns
	if len(where) > 0 {
		sqlStr += "WHERE " + strings.Join(where, " AND ")
	}
	sqlStr += orderReviews

	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	return r.collect(ctx, rows)
}

// collect scans review rows, closes them, then attaches categories.
func (r *Repo) collect(ctx context.Context, rows *sql.Rows) ([]domain.CanonicalReview, error) {
	defer rows.Close()

	var out []domain.CanonicalReview
	for rows.Next() {
		var rv domain.CanonicalReview
		var (
			text       sql.NullString
			rating     sql.NullFloat64
			approved   sql.NullBool
			tags, rawB sql.RawBytes
		)
		if err := rows.Scan(
			&rv.ReviewID,
			&rv.Source,
			&rv.ListingID,
			&rv.ListingName,
			&rv.Type,
			&rv.Status,
			&rv.GuestName,
			&text,
			&rating,
			&rv.SubmittedAt,
			&tags,
			&approved,
			&rawB,
		); err != nil {
			return nil, err
		}
		rv.SubmittedAt = rv.SubmittedAt.UTC()
		if text.Valid {
			rv.ReviewText = text.String
		}
		if rating.Valid {
			f := rating.Float64
			rv.OverallRating = &f
		}
		if approved.Valid {
			b := approved.Bool
			rv.IsApproved = &b
		}
		if len(tags) > 0 {
			if err := json.Unmarshal(tags, &rv.IssueTags); err != nil {
				log.Warn().Err(err).Str("review_id", rv.ReviewID).Msg("decode issue tags failed")
			}
		}
		if len(rawB) > 0 {
			rv.RawJSON = append([]byte(nil), rawB...)
		}
		rv.Categories = []domain.Category{}
		out = append(out, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}
	if err := r.attachCategories(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) attachCategories(ctx context.Context, rs []domain.CanonicalReview) error {
	idx := make(map[string]int, len(rs))
	ids := make([]any, 0, len(rs))
	for i, rv := range rs {
		idx[rv.ReviewID] = i
		ids = append(ids, rv.ReviewID)
	}
	rows, err := r.db.QueryContext(ctx, selectCategoriesPrefix+placeholders(len(ids))+orderCategories, ids...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var c domain.Category
		if err := rows.Scan(&id, &c.Key, &c.Label, &c.Rating); err != nil {
			return err
		}
		if i, ok := idx[id]; ok {
			rs[i].Categories = append(rs[i].Categories, c)
		}
	}
	return rows.Err()
}

/********** approval state **********/

func (r *Repo) SetApproval(ctx context.Context, listingID, reviewID string, approved bool) error {
	_, err := r.db.ExecContext(ctx, setApprovalSQL, approved, reviewID, listingID)
	return err
}

func (r *Repo) Approvals(ctx context.Context, listingID string) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, selectApprovalsSQL, listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var id string
		var v bool
		if err := rows.Scan(&id, &v); err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, rows.Err()
}

// MoveApproval is a no-op: is_approved lives on the review row and follows
// it to its new listing.
func (r *Repo) MoveApproval(context.Context, string, string, string) error { return nil }

/********** audit log **********/

func (r *Repo) AppendAudit(ctx context.Context, rec domain.AuditRecord) error {
	_, err := r.db.ExecContext(ctx, insertAuditSQL,
		rec.ID, rec.ReviewID, rec.ListingID, rec.Decision, rec.Actor, rec.CreatedAt.UTC())
	return err
}

func (r *Repo) ListAudit(ctx context.Context, reviewID string) ([]domain.AuditRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectAuditSQL, reviewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.AuditRecord
	for rows.Next() {
		var rec domain.AuditRecord
		var at time.Time
		if err := rows.Scan(&rec.ID, &rec.ReviewID, &rec.ListingID, &rec.Decision, &rec.Actor, &at); err != nil {
			return nil, err
		}
		rec.CreatedAt = at.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
