package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"guest_reviews/internal/adapters/hostaway"
	"guest_reviews/internal/app"
	"guest_reviews/internal/domain"
	"guest_reviews/internal/shared"
)

const maxBodyBytes = 10 << 20

type Handlers struct {
	Q         *app.QueryService
	Ingest    *app.IngestionService
	Approvals *app.ApprovalService

	// DefaultActor is recorded on approvals that name no actor.
	DefaultActor string
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })

	s.mux.Route("/v1", func(r chi.Router) {
		r.Post("/normalize/hostaway", h.normalize)
		r.Post("/ingest/hostaway", h.ingest)
		r.Post("/enrich/issues", h.enrichIssues)

		r.Get("/listings", h.listListings)
		r.Get("/listings/{listingId}/reviews", h.listingReviews)

		r.Post("/approvals", h.setApproval)
		r.Get("/reviews/{reviewId}/audit", h.auditHistory)

		r.Get("/public/listings", h.publicListings)
	})
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// writeError maps service errors onto problem responses. fallback is used
// for errors no case below recognizes.
func writeError(w http.ResponseWriter, err error, fallback int) {
	var (
		ne  *domain.NormalizationError
		fe  *shared.FormatError
		re  *shared.RangeError
		me  *domain.MismatchError
		pe  *domain.PersistenceError
		mbe *http.MaxBytesError
	)
	switch {
	case errors.As(err, &ne), errors.As(err, &fe), errors.As(err, &re):
		writeProblem(w, http.StatusBadRequest, "Invalid Review", err.Error())
	case errors.As(err, &mbe):
		writeProblem(w, http.StatusRequestEntityTooLarge, "Payload Too Large", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &me):
		writeProblem(w, http.StatusConflict, "Listing Mismatch", err.Error())
	case errors.As(err, &pe):
		log.Error().Err(err).Str("op", pe.Op).Str("entity_id", pe.EntityID).Bool("timeout", pe.Timeout()).Msg("store failure")
		w.Header().Set("Retry-After", "1")
		writeProblem(w, http.StatusServiceUnavailable, "Store Unavailable", "temporary storage failure, retry later")
	case errors.Is(err, context.DeadlineExceeded):
		writeProblem(w, http.StatusGatewayTimeout, "Timeout", err.Error())
	default:
		log.Error().Err(err).Msg("request failed")
		writeProblem(w, fallback, http.StatusText(fallback), err.Error())
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

// writeCacheable writes a GET response with a weak ETag, answering 304 when
// the client already holds this version.
func writeCacheable(w http.ResponseWriter, r *http.Request, v any) {
	etag, body := calcETagAndBody(v)
	if body == nil {
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "encode response")
		return
	}
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("failed to write body")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON body")
	}
}

func strictParam(r *http.Request, def bool) (bool, error) {
	v := r.URL.Query().Get("strict")
	if v == "" {
		return def, nil
	}
	return strconv.ParseBool(v)
}

/********** normalization & ingestion **********/

type normalizeResponse struct {
	Normalized []domain.CanonicalReview `json:"normalized"`
	Failures   []app.RecordFailure      `json:"failures"`
}

// normalize maps a raw payload without persisting anything.
func (h *Handlers) normalize(w http.ResponseWriter, r *http.Request) {
	strict, err := strictParam(r, false)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid strict", "strict must be a boolean")
		return
	}
	p, err := hostaway.DecodePayload(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, badPayload(err), http.StatusBadRequest)
		return
	}
	b, err := app.NormalizeBatch(domain.SourceHostaway, p.Result, strict)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	resp := normalizeResponse{Normalized: b.Reviews, Failures: b.Failures}
	if resp.Failures == nil {
		resp.Failures = []app.RecordFailure{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ingest stores the posted payload, or pulls from the configured source when
// the body is empty.
func (h *Handlers) ingest(w http.ResponseWriter, r *http.Request) {
	strict, err := strictParam(r, h.Ingest.Strict)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid strict", "strict must be a boolean")
		return
	}
	if r.ContentLength == 0 {
		res, err := h.Ingest.IngestFromSource(r.Context(), strict)
		if err != nil {
			writeError(w, err, http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
	p, err := hostaway.DecodePayload(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, badPayload(err), http.StatusBadRequest)
		return
	}
	res, err := h.Ingest.NormalizeAndStore(r.Context(), p, strict)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func badPayload(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return err
	}
	return fmt.Errorf("invalid payload: %w", err)
}

func (h *Handlers) enrichIssues(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text *string `json:"text"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil || req.Text == nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Body", `expected {"text": "..."}`)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": app.ExtractIssueTags(*req.Text)})
}

/********** read views **********/

// parseTime accepts the source layout or RFC 3339.
func parseTime(s string) (time.Time, error) {
	if t, err := shared.ParseTimestamp(s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither %q nor RFC 3339", s, shared.SourceTimeLayout)
	}
	return t.UTC(), nil
}

func parseListingFilter(r *http.Request) (domain.ListingFilter, error) {
	q := r.URL.Query()
	var f domain.ListingFilter
	if v := strings.TrimSpace(q.Get("from")); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return f, fmt.Errorf("from: %w", err)
		}
		f.From = &t
	}
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return f, fmt.Errorf("to: %w", err)
		}
		f.To = &t
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return f, fmt.Errorf("to must not be before from")
	}
	if v := strings.TrimSpace(q.Get("minRating")); v != "" {
		mr, err := strconv.ParseFloat(v, 64)
		if err != nil || mr < 0 {
			return f, fmt.Errorf("minRating must be a non-negative number")
		}
		f.MinRating = &mr
	}
	f.CategoryKey = strings.TrimSpace(q.Get("category"))
	return f, nil
}

func (h *Handlers) listListings(w http.ResponseWriter, r *http.Request) {
	f, err := parseListingFilter(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Filter", err.Error())
		return
	}
	out, err := h.Q.ListListings(r.Context(), f)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeCacheable(w, r, map[string]any{"listings": out})
}

func (h *Handlers) listingReviews(w http.ResponseWriter, r *http.Request) {
	listingID := chi.URLParam(r, "listingId")
	approvedOnly := false
	if v := r.URL.Query().Get("approved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid approved", "approved must be a boolean")
			return
		}
		approvedOnly = b
	}
	out, err := h.Q.ListingReviews(r.Context(), listingID, approvedOnly)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeCacheable(w, r, map[string]any{"listingId": listingID, "reviews": out})
}

func (h *Handlers) publicListings(w http.ResponseWriter, r *http.Request) {
	out, err := h.Q.PublicListingIndex(r.Context())
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeCacheable(w, r, map[string]any{"listings": out})
}

/********** approvals **********/

type approvalRequest struct {
	ReviewID   string `json:"reviewId"`
	ListingID  string `json:"listingId"`
	IsApproved *bool  `json:"isApproved"`
	Actor      string `json:"actor"`
}

func (h *Handlers) setApproval(w http.ResponseWriter, r *http.Request) {
	var req approvalRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if req.ReviewID == "" || req.ListingID == "" || req.IsApproved == nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Body", "reviewId, listingId and isApproved are required")
		return
	}
	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		actor = h.DefaultActor
	}
	conf, err := h.Approvals.SetApproval(r.Context(), req.ReviewID, req.ListingID, *req.IsApproved, actor)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, conf)
}

func (h *Handlers) auditHistory(w http.ResponseWriter, r *http.Request) {
	reviewID := chi.URLParam(r, "reviewId")
	recs, err := h.Approvals.History(r.Context(), reviewID)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeCacheable(w, r, map[string]any{"reviewId": reviewID, "history": recs})
}
