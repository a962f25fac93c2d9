package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang/snappy"

	"github.com/mesh-intelligence/flightbag/internal/jsonl"
	"github.com/mesh-intelligence/flightbag/pkg/types"
)

// DefaultTimeout bounds one HTTP pull when none is configured.
const DefaultTimeout = 30 * time.Second

// snappyContentType marks a snappy-framed JSONL body.
const snappyContentType = "application/x-snappy-framed"

// HTTPFeed pulls JSONL from URL with a since query parameter.
type HTTPFeed struct {
	URL    string
	Client *http.Client
}

// NewHTTPFeed returns an HTTPFeed with its own client.
func NewHTTPFeed(rawURL string, timeout time.Duration) *HTTPFeed {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPFeed{URL: rawURL, Client: &http.Client{Timeout: timeout}}
}

// PullUpdatesSince implements Feed. Transport failures and non-2xx
// responses match ErrFeedUnavailable.
func (f *HTTPFeed) PullUpdatesSince(ctx context.Context, since time.Time) ([]types.RawRecord, error) {
	u, err := url.Parse(f.URL)
	if err != nil {
		return nil, fmt.Errorf("feed url: %w", err)
	}
	if !since.IsZero() {
		q := u.Query()
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("feed request: %w", err)
	}
	req.Header.Set("Accept", "application/x-ndjson")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", types.ErrFeedUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %s returned %s", types.ErrFeedUnavailable, u.Redacted(), resp.Status)
	}

	var body io.Reader = resp.Body
	if strings.HasPrefix(resp.Header.Get("Content-Type"), snappyContentType) {
		body = snappy.NewReader(resp.Body)
	}
	lines, _, err := jsonl.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", types.ErrFeedUnavailable, err)
	}
	recs, _ := decodeRaw(lines, since)
	return recs, nil
}
