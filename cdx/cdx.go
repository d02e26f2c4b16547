// Package cdx implements a minimal client for the archive's CDX index
// API, giving the batch rewriter a list of captures to iterate over.
package cdx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Entry is one CDX result row: a single capture of a URL at a point in
// time.
type Entry struct {
	Timestamp   string
	OriginalURL string
	StatusCode  string
}

// Client queries a CDX-compatible search API.
type Client struct {
	HTTPClient *http.Client
	Limiter    *rate.Limiter
	BaseURL    string // e.g. "https://web.archive.org/cdx/search/xd"
	MaxRetries int
}

// NewClient returns a Client with the archive.org default endpoint, a
// 60s HTTP timeout, and a 1-request-per-second limiter.
func NewClient() *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Limiter:    rate.NewLimiter(rate.Every(time.Second), 5),
		BaseURL:    "https://web.archive.org/cdx/search/xd",
		MaxRetries: 5,
	}
}

// retryDelay returns how long to wait before the next attempt, honouring
// Retry-After when present and otherwise backing off exponentially,
// capped at 60s.
func retryDelay(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				d := time.Duration(secs) * time.Second
				if d > 120*time.Second {
					d = 120 * time.Second
				}
				return d
			}
		}
	}
	d := 5 * time.Second << uint(attempt)
	if d > 60*time.Second {
		d = 60 * time.Second
	}
	return d
}

// FetchPage fetches a single page of CDX results for targetURL. pageIndex
// < 0 means no pagination parameter (fetch everything at once).
func (c *Client) FetchPage(ctx context.Context, targetURL string, pageIndex int, fromTS, toTS string) ([]Entry, error) {
	params := url.Values{}
	params.Set("output", "json")
	params.Set("fl", "timestamp,original,statuscode")
	params.Set("collapse", "digest")
	params.Set("gzip", "false")
	params.Set("filter", "statuscode:200")
	if fromTS != "" {
		params.Set("from", fromTS)
	}
	if toTS != "" {
		params.Set("to", toTS)
	}
	params.Set("url", targetURL)
	if pageIndex >= 0 {
		params.Set("page", strconv.Itoa(pageIndex))
	}

	apiURL := c.BaseURL + "?" + params.Encode()

	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("cdx rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
		if err != nil {
			return nil, fmt.Errorf("cdx create request: %w", err)
		}
		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("cdx GET: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			body, err := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("cdx read body: %w", err)
			}
			return parseRows(body)
		}

		retriable := resp.StatusCode == http.StatusTooManyRequests ||
			resp.StatusCode == http.StatusServiceUnavailable ||
			(resp.StatusCode >= 500 && resp.StatusCode < 600)
		if !retriable || attempt == c.MaxRetries {
			status := resp.StatusCode
			_ = resp.Body.Close()
			return nil, fmt.Errorf("cdx HTTP %d for %s", status, apiURL)
		}

		delay := retryDelay(attempt, resp)
		_ = resp.Body.Close()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("cdx: exhausted retries for %s", apiURL)
}

// parseRows decodes the CDX API's array-of-arrays JSON response, the
// first row being a header naming the requested fields.
func parseRows(body []byte) ([]Entry, error) {
	var rows [][]string
	if err := json.Unmarshal(body, &rows); err != nil {
		if strings.TrimSpace(string(body)) == "" {
			return nil, nil
		}
		return nil, fmt.Errorf("cdx json decode: %w", err)
	}
	var entries []Entry
	for i, row := range rows {
		if i == 0 {
			continue
		}
		if len(row) < 2 {
			continue
		}
		e := Entry{Timestamp: row[0], OriginalURL: row[1]}
		if len(row) > 2 {
			e.StatusCode = row[2]
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// FetchSnapshots collects every CDX entry for targetURL. When exact is
// false, targetURL is queried as a wildcard prefix ("url/*") and
// paginated until an empty page is returned, for at most 100 pages.
func FetchSnapshots(ctx context.Context, c *Client, targetURL string, exact bool, fromTS, toTS string) ([]Entry, error) {
	seen := make(map[string]bool)
	var all []Entry
	add := func(entries []Entry) {
		for _, e := range entries {
			key := e.Timestamp + "|" + e.OriginalURL
			if !seen[key] {
				seen[key] = true
				all = append(all, e)
			}
		}
	}

	if exact {
		entries, err := c.FetchPage(ctx, targetURL, -1, fromTS, toTS)
		if err != nil {
			return nil, err
		}
		add(entries)
		return all, nil
	}

	wildcard := strings.TrimRight(targetURL, "/") + "/*"
	for page := 0; page < 100; page++ {
		entries, err := c.FetchPage(ctx, wildcard, page, fromTS, toTS)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			break
		}
		add(entries)
	}
	return all, nil
}
