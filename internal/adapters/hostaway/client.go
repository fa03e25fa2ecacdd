package hostaway

import (
	"context"
	crand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"guest_reviews/internal/adapters/observability"
	"guest_reviews/internal/domain"
)

const maxAttempts = 4

var (
	ErrNotFound     = errors.New("hostaway: not found")
	ErrUnauthorized = errors.New("hostaway: unauthorized")
	ErrForbidden    = errors.New("hostaway: forbidden")
)

// Client pulls reviews from the Hostaway public API. Access tokens come from
// the client-credentials grant and are reused until the API rejects them.
type Client struct {
	base    string
	account string
	secret  string
	hc      *http.Client
	rl      *rate.Limiter

	mu    sync.Mutex
	token string
}

func New(base, accountID, apiKey string, rps int) (*Client, error) {
	if accountID == "" || apiKey == "" {
		return nil, fmt.Errorf("hostaway account id and API key are required")
	}
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		base:    strings.TrimRight(base, "/"),
		account: accountID,
		secret:  apiKey,
		hc:      &http.Client{Timeout: 20 * time.Second},
		rl:      rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

// FetchReviews returns the raw review envelope as the API emits it.
func (c *Client) FetchReviews(ctx context.Context) (domain.RawPayload, error) {
	var out domain.RawPayload
	err := c.authed(ctx, func(tok string) error {
		return c.do(ctx, "reviews", http.MethodGet, c.base+"/v1/reviews", nil, tok, &out)
	})
	if err != nil {
		return domain.RawPayload{}, err
	}
	if out.Status != "" && out.Status != "success" {
		return domain.RawPayload{}, fmt.Errorf("hostaway: status %q", out.Status)
	}
	return out, nil
}

// authed runs call with a token, refreshing it once on 401.
func (c *Client) authed(ctx context.Context, call func(tok string) error) error {
	tok, err := c.accessToken(ctx, false)
	if err != nil {
		return err
	}
	err = call(tok)
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}
	if tok, err = c.accessToken(ctx, true); err != nil {
		return err
	}
	return call(tok)
}

func (c *Client) accessToken(ctx context.Context, refresh bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && !refresh {
		return c.token, nil
	}
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.account},
		"client_secret": {c.secret},
		"scope":         {"general"},
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.do(ctx, "token", http.MethodPost, c.base+"/v1/accessTokens", form, "", &resp); err != nil {
		return "", fmt.Errorf("hostaway token: %w", err)
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("hostaway token: empty access_token")
	}
	c.token = resp.AccessToken
	return c.token, nil
}

// do performs one logical request with client-side rate limiting, retries and
// JSON decode into out. Retries on 429 and transient 5xx, honoring Retry-After.
func (c *Client) do(ctx context.Context, endpoint, method, u string, form url.Values, tok string, out any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}

	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		// fresh request (and body) each attempt
		var body io.Reader
		if form != nil {
			body = strings.NewReader(form.Encode())
		}
		req, err := http.NewRequestWithContext(ctx, method, u, body)
		if err != nil {
			return err
		}
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("User-Agent", "guest-reviews/1.0")

		start := time.Now()
		resp, err := c.hc.Do(req)
		if err != nil {
			observability.ObserveExternal("hostaway", endpoint, 0, time.Since(start))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			if i < maxAttempts-1 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr
		}
		observability.ObserveExternal("hostaway", endpoint, resp.StatusCode, time.Since(start))

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated:
			err := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("decode %s: %w", endpoint, err)
			}
			return nil

		case http.StatusNotFound:
			resp.Body.Close()
			return ErrNotFound

		case http.StatusUnauthorized:
			resp.Body.Close()
			return ErrUnauthorized

		case http.StatusForbidden:
			resp.Body.Close()
			return ErrForbidden

		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			wait := retryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = backoff(i)
			}
			lastErr = fmt.Errorf("hostaway %s: remote %d", endpoint, resp.StatusCode)
			if i < maxAttempts-1 && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr

		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return fmt.Errorf("hostaway %s: bad status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(b)))
		}
	}
	return lastErr
}

// sleepCtx waits for d or returns false early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After (seconds or HTTP-date). 0 if absent or invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff: 200ms, 400ms, 800ms... plus up to 50% jitter.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	return base + time.Duration(0.5*f*float64(base))
}
