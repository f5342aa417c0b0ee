package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/ratelimit"
)

// ErrTokenNotFound is returned by Source.Token for unknown mints.
var ErrTokenNotFound = errors.New("market: token not found")

// httpSource is the shared JSON GET client of the HTTP sources.
type httpSource struct {
	client  *http.Client
	limiter ratelimit.Limiter
}

func newHTTPSource(timeout time.Duration, rps int) httpSource {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if rps <= 0 {
		rps = 5
	}
	return httpSource{
		client:  &http.Client{Timeout: timeout},
		limiter: ratelimit.New(rps),
	}
}

func (h httpSource) getJSON(ctx context.Context, url string, out any) error {
	h.limiter.Take()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return fmt.Errorf("GET %s: HTTP %d: %s", url, resp.StatusCode, snippet)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}
