package hostaway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"guest_reviews/internal/domain"
)

// FileSource serves a recorded API response from disk. Used when no
// credentials are configured and by the ingestor CLI.
type FileSource struct{ Path string }

func NewFileSource(path string) *FileSource { return &FileSource{Path: path} }

func (f *FileSource) FetchReviews(ctx context.Context) (domain.RawPayload, error) {
	if err := ctx.Err(); err != nil {
		return domain.RawPayload{}, err
	}
	fh, err := os.Open(f.Path)
	if err != nil {
		return domain.RawPayload{}, fmt.Errorf("open %s: %w", f.Path, err)
	}
	defer fh.Close()
	p, err := DecodePayload(fh)
	if err != nil {
		return domain.RawPayload{}, fmt.Errorf("%s: %w", f.Path, err)
	}
	return p, nil
}

// DecodePayload reads one {"status", "result"} envelope. Unknown fields are
// ignored; a missing result array is an error.
func DecodePayload(r io.Reader) (domain.RawPayload, error) {
	var env struct {
		Status string              `json:"status"`
		Result *[]domain.RawReview `json:"result"`
	}
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return domain.RawPayload{}, fmt.Errorf("decode payload: %w", err)
	}
	if env.Result == nil {
		return domain.RawPayload{}, fmt.Errorf("decode payload: missing result")
	}
	return domain.RawPayload{Status: env.Status, Result: *env.Result}, nil
}
