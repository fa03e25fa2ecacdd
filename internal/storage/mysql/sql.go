package mysql

// Note: `text` is reserved; keep it quoted everywhere.
const insertReviewsPrefix = "INSERT INTO reviews\n" +
	"  (review_id, source, listing_id, listing_name, type, status, guest_name, `text`, rating, submitted_at, issue_tags, raw)\nVALUES "

// review_id and submitted_at are immutable; is_approved is owned by the approval path.
const insertReviewsOnDup = " ON DUPLICATE KEY UPDATE\n" +
	"  listing_id   = VALUES(listing_id),\n" +
	"  listing_name = VALUES(listing_name),\n" +
	"  type         = VALUES(type),\n" +
	"  status       = VALUES(status),\n" +
	"  guest_name   = VALUES(guest_name),\n" +
	"  `text`       = VALUES(`text`),\n" +
	"  rating       = VALUES(rating),\n" +
	"  issue_tags   = VALUES(issue_tags),\n" +
	"  raw          = VALUES(raw),\n" +
	"  updated_at   = CURRENT_TIMESTAMP\n"

const deleteCategoriesPrefix = "DELETE FROM review_categories WHERE review_id IN "

const insertCategoriesPrefix = "INSERT INTO review_categories\n  (review_id, category_key, label, rating, position)\nVALUES "

// a raw review may repeat a key; the last occurrence wins
const insertCategoriesOnDup = " ON DUPLICATE KEY UPDATE\n" +
	"  label    = VALUES(label),\n" +
	"  rating   = VALUES(rating),\n" +
	"  position = VALUES(position)\n"

const insertFailureSQL = `
INSERT INTO ingest_failures (source_id, reason)
VALUES (?, ?)
ON DUPLICATE KEY UPDATE reason = VALUES(reason), seen_at = CURRENT_TIMESTAMP
`

const setApprovalSQL = `
UPDATE reviews SET is_approved = ?, updated_at = CURRENT_TIMESTAMP
WHERE review_id = ? AND listing_id = ?
`

const selectListingsOfPrefix = "SELECT review_id, listing_id FROM reviews WHERE review_id IN "

const selectApprovalsSQL = `
SELECT review_id, is_approved
FROM reviews
WHERE listing_id = ? AND is_approved IS NOT NULL
`

const insertAuditSQL = `
INSERT INTO approval_audit (id, review_id, listing_id, decision, actor, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`

// seq is the append order; created_at alone can tie within a microsecond.
const selectAuditSQL = `
SELECT id, review_id, listing_id, decision, actor, created_at
FROM approval_audit
WHERE review_id = ?
ORDER BY seq
`

// -----------------------------------------------------------------------------
// READ QUERIES
// -----------------------------------------------------------------------------

const selectReviewColumns = "SELECT\n" +
	"  r.review_id, r.source, r.listing_id, r.listing_name, r.type, r.status,\n" +
	"  r.guest_name, r.`text`, r.rating, r.submitted_at, r.issue_tags, r.is_approved, r.raw\n" +
	"FROM reviews r\n"

// Newest first; aligns with idx_reviews_listing_submitted.
const orderReviews = "\nORDER BY r.submitted_at DESC, r.review_id DESC"

const categoryFilter = "EXISTS (SELECT 1 FROM review_categories c WHERE c.review_id = r.review_id AND c.category_key = ?)"

const selectCategoriesPrefix = "SELECT review_id, category_key, label, rating\n" +
	"FROM review_categories\nWHERE review_id IN "

const orderCategories = "\nORDER BY review_id, position"
