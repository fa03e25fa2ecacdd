package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"guest_reviews/internal/domain"
	"guest_reviews/internal/shared"
)

var errMissing = errors.New("missing required field")

/********** issue keywords (single source of truth) **********/

// Order here is the order tags are reported in.
var issueKeywords = []struct {
	tag   string
	words []string
}{
	{"wifi", []string{"wifi", "wi-fi", "internet", "connection", "online"}},
	{"noise", []string{"noise", "noisy", "loud", "quiet", "sound"}},
	{"cleanliness", []string{"clean", "dirty", "mess", "hygiene", "sanitation", "filth"}},
	{"check-in", []string{"check-in", "check in", "checkin", "arrival", "key", "lock", "entry"}},
	{"heating", []string{"heat", "heating", "cold", "warm", "temperature", "ac", "air conditioning", "aircon"}},
	{"communication", []string{"communication", "respond", "reply", "contact", "message", "reach"}},
}

// acWord keeps "ac" from firing inside words like "place" or "academy".
var acWord = regexp.MustCompile(`\bac\b`)

func mentions(low, keyword string) bool {
	if keyword == "ac" {
		return acWord.MatchString(low)
	}
	return strings.Contains(low, keyword)
}

/********** tiny helpers **********/

// round2 rounds half away from zero to two decimal places.
func round2(f float64) float64 {
	return decimal.NewFromFloat(f).Round(2).InexactFloat64()
}

func pfloat(f float64) *float64 { return &f }

// humanizeCategory: "respect_house_rules" -> "Respect house rules".
func humanizeCategory(key string) string {
	words := strings.Fields(strings.ReplaceAll(key, "_", " "))
	if len(words) == 0 {
		return key
	}
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		if i == 0 {
			r[0] = unicode.ToUpper(r[0])
		}
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// overallRating prefers the direct rating, then the category mean, else nil.
func overallRating(raw domain.RawReview) *float64 {
	if raw.Rating != nil {
		return pfloat(*raw.Rating)
	}
	if len(raw.ReviewCategory) == 0 {
		return nil
	}
	var sum float64
	for _, c := range raw.ReviewCategory {
		sum += c.Rating
	}
	return pfloat(round2(sum / float64(len(raw.ReviewCategory))))
}

// ExtractIssueTags reports which known issue themes a review text mentions.
func ExtractIssueTags(text string) []string {
	low := strings.ToLower(text)
	tags := []string{}
	for _, ik := range issueKeywords {
		for _, w := range ik.words {
			if mentions(low, w) {
				tags = append(tags, ik.tag)
				break
			}
		}
	}
	return tags
}

/********** review mapper **********/

// NormalizeReview maps one raw record to the canonical shape. Pure.
func NormalizeReview(source string, raw domain.RawReview) (domain.CanonicalReview, error) {
	if raw.ID == 0 {
		return domain.CanonicalReview{}, &domain.NormalizationError{Field: "id", Err: errMissing}
	}
	listingID := shared.Slugify(raw.ListingName)
	if listingID == "" {
		return domain.CanonicalReview{}, &domain.NormalizationError{
			SourceID: raw.ID,
			Field:    "listingName",
			Err:      fmt.Errorf("cannot derive listing id from %q", raw.ListingName),
		}
	}
	rating := overallRating(raw)
	submitted, err := shared.ParseTimestamp(raw.SubmittedAt)
	if err != nil {
		return domain.CanonicalReview{}, &domain.NormalizationError{SourceID: raw.ID, Field: "submittedAt", Err: err}
	}

	cats := make([]domain.Category, 0, len(raw.ReviewCategory))
	for _, c := range raw.ReviewCategory {
		cats = append(cats, domain.Category{Key: c.Category, Label: humanizeCategory(c.Category), Rating: c.Rating})
	}

	rv := domain.CanonicalReview{
		ReviewID:      fmt.Sprintf("%s:%d", source, raw.ID),
		Source:        source,
		ListingID:     listingID,
		ListingName:   raw.ListingName,
		Type:          raw.Type,
		Status:        raw.Status,
		GuestName:     raw.GuestName,
		ReviewText:    raw.PublicReview,
		OverallRating: rating,
		SubmittedAt:   submitted,
		Categories:    cats,
		IssueTags:     ExtractIssueTags(raw.PublicReview),
	}
	if b, err := json.Marshal(raw); err == nil {
		rv.RawJSON = b
	} else {
		log.Error().Err(err).Str("context", "NormalizeReview").Int64("source_id", raw.ID).Msg("marshal raw review failed")
	}
	return rv, nil
}

/********** batch **********/

// RecordFailure describes one record that could not be normalized.
type RecordFailure struct {
	SourceID int64  `json:"sourceId"`
	Field    string `json:"field"`
	Reason   string `json:"reason"`
}

type Batch struct {
	Reviews  []domain.CanonicalReview
	Failures []RecordFailure
}

// NormalizeBatch normalizes records independently. With strict set the first
// failure aborts the batch and is returned as the error.
func NormalizeBatch(source string, raws []domain.RawReview, strict bool) (Batch, error) {
	out := Batch{Reviews: make([]domain.CanonicalReview, 0, len(raws))}
	for _, raw := range raws {
		rv, err := NormalizeReview(source, raw)
		if err != nil {
			if strict {
				return Batch{}, err
			}
			out.Failures = append(out.Failures, toFailure(raw.ID, err))
			continue
		}
		out.Reviews = append(out.Reviews, rv)
	}
	return out, nil
}

func toFailure(sourceID int64, err error) RecordFailure {
	f := RecordFailure{SourceID: sourceID, Reason: err.Error()}
	var ne *domain.NormalizationError
	if errors.As(err, &ne) {
		f.Field = ne.Field
		f.Reason = ne.Err.Error()
	}
	return f
}
