package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// ErrRateLimited is returned while the profile server asked us to back off.
var ErrRateLimited = errors.New("rate limited")

// errNotModified means the server has nothing newer than the last fetch.
var errNotModified = errors.New("not modified")

// fetch downloads the remote profile and returns it with its ETag. The caller
// closes the body.
func (w *Watcher) fetch(ctx context.Context) (io.ReadCloser, string, error) {
	if w.rateLimitUntil.After(time.Now()) {
		return nil, "", fmt.Errorf("%w until %s", ErrRateLimited, w.rateLimitUntil.Format(time.RFC3339))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.URL.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("new request: %w", err)
	}
	if w.etag != "" {
		req.Header.Set("If-None-Match", w.etag)
	}

	resp, err := w.auth.AuthenticatedRequest(w.cli, req)
	if err != nil {
		return nil, "", fmt.Errorf("do request: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, resp.Header.Get("ETag"), nil
	case http.StatusNotModified:
		_ = resp.Body.Close()
		return nil, "", errNotModified
	case http.StatusTooManyRequests:
		_ = resp.Body.Close()
		w.rateLimitUntil = backoffUntil(resp.Header, time.Now())
		w.logger.Error().
			Time("reset", w.rateLimitUntil).
			Msg("rate limit hit")
		return nil, "", fmt.Errorf("%w until %s", ErrRateLimited, w.rateLimitUntil.Format(time.RFC3339))
	}

	_ = resp.Body.Close()
	return nil, "", fmt.Errorf("non-200 status code: %d", resp.StatusCode)
}

// backoffUntil reads Retry-After seconds, or an X-RateLimit-Reset unix
// timestamp. Without either it waits ten minutes.
func backoffUntil(h http.Header, now time.Time) time.Time {
	if after := h.Get("Retry-After"); after != "" {
		if secs, err := strconv.ParseInt(after, 10, 64); err == nil {
			return now.Add(time.Duration(secs) * time.Second)
		}
	}
	if reset := h.Get("X-RateLimit-Reset"); reset != "" {
		if resetAt, err := strconv.ParseInt(reset, 10, 64); err == nil {
			return time.Unix(resetAt, 0).Add(time.Second * 5)
		}
	}
	return now.Add(time.Minute * 10)
}
