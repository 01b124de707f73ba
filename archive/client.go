// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package archive talks to the release archive: it fetches sidecar
// metadata files and directory listings, and knows how to interpret
// inventory keys pointing into the archive.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

var (
	mon = monkit.Package()

	// Error is the default error class for archive failures.
	Error = errs.Class("archive")
	// ErrNotFound is returned when a resource does not exist and the
	// caller did not ask to retry on missing files.
	ErrNotFound = errs.Class("archive: not found")
	// ErrMalformed is returned when a response cannot be interpreted.
	// Retrying does not help with these.
	ErrMalformed = errs.Class("archive: malformed response")
	// ErrBackend is returned when the retry budget is exhausted.
	ErrBackend = errs.Class("archive: backend")
	// ErrTimeout is returned when the caller-imposed deadline expired.
	// Timeouts are never retried internally.
	ErrTimeout = errs.Class("archive: timeout")
)

// fetchRetryCount is how many times a failed request is reissued, so a
// fetch makes at most fetchRetryCount+1 attempts.
const fetchRetryCount = 3

// ClientConfig configures the archive client.
type ClientConfig struct {
	BaseURL        string        `help:"root URL of the release archive" default:"https://archive.mozilla.org/"`
	RequestTimeout time.Duration `help:"timeout for a single archive request" default:"1m"`
}

// Client fetches sidecar metadata files and directory listings from the
// release archive.
type Client struct {
	log    *zap.Logger
	config ClientConfig
	http   http.Client
}

// NewClient creates an archive client.
func NewClient(log *zap.Logger, config ClientConfig) *Client {
	if !strings.HasSuffix(config.BaseURL, "/") {
		config.BaseURL += "/"
	}
	return &Client{
		log:    log,
		config: config,
		http: http.Client{
			Timeout: config.RequestTimeout,
		},
	}
}

// BaseURL returns the archive root URL, always slash-terminated.
func (client *Client) BaseURL() string { return client.config.BaseURL }

// FetchJSON fetches url and parses the body as a JSON object. Bodies
// labeled as JSON or as a generic binary content type are accepted; any
// other content type fails with ErrMalformed. A 404 fails immediately
// with ErrNotFound unless retryOnNotFound is set, in which case it is
// retried like any other failure and reported as ErrBackend once the
// budget is exhausted.
func (client *Client) FetchJSON(ctx context.Context, url string, retryOnNotFound bool) (_ map[string]any, err error) {
	defer mon.Task()(&ctx)(&err)

	body, err := client.fetch(ctx, url, retryOnNotFound, true)
	if err != nil {
		return nil, err
	}
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, ErrMalformed.New("%s: %v", url, err)
	}
	return parsed, nil
}

// FetchText fetches url and returns the body as a string, with the same
// retry and not-found semantics as FetchJSON but no content type check.
func (client *Client) FetchText(ctx context.Context, url string, retryOnNotFound bool) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	body, err := client.fetch(ctx, url, retryOnNotFound, false)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// ListedFile is one file entry in a directory listing.
type ListedFile struct {
	Name         string `json:"name"`
	Size         int64  `json:"size,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

// FetchListing fetches a directory resource and splits it into
// sub-directories and files. A parsed body missing either field is an
// ErrMalformed failure: retrying will not fix a shape mismatch.
func (client *Client) FetchListing(ctx context.Context, url string, retryOnNotFound bool) (prefixes []string, files []ListedFile, err error) {
	defer mon.Task()(&ctx)(&err)

	body, err := client.fetch(ctx, url, retryOnNotFound, true)
	if err != nil {
		return nil, nil, err
	}
	var listing struct {
		Prefixes *[]string     `json:"prefixes"`
		Files    *[]ListedFile `json:"files"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, nil, ErrMalformed.New("%s: %v", url, err)
	}
	if listing.Prefixes == nil || listing.Files == nil {
		return nil, nil, ErrMalformed.New("listing at %s is missing prefixes or files", url)
	}
	return *listing.Prefixes, *listing.Files, nil
}

func (client *Client) fetch(ctx context.Context, url string, retryOnNotFound, wantJSON bool) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= fetchRetryCount; attempt++ {
		body, retryable, err := client.fetchOnce(ctx, url, retryOnNotFound, wantJSON)
		if err == nil {
			return body, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ErrTimeout.Wrap(ctx.Err())
		}
		client.log.Debug("retrying fetch", zap.String("url", url), zap.Error(err))
	}
	return nil, ErrBackend.New("giving up on %s after %d attempts: %v", url, fetchRetryCount+1, lastErr)
}

func (client *Client) fetchOnce(ctx context.Context, url string, retryOnNotFound, wantJSON bool) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, Error.Wrap(err)
	}
	resp, err := client.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, false, ErrTimeout.Wrap(err)
		}
		return nil, true, Error.Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound && !retryOnNotFound:
		return nil, false, ErrNotFound.New("%s", url)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, true, Error.New("unexpected status %d for %s", resp.StatusCode, url)
	}

	if wantJSON {
		contentType := resp.Header.Get("Content-Type")
		if !strings.Contains(contentType, "json") && !strings.Contains(contentType, "octet-stream") {
			return nil, false, ErrMalformed.New("unexpected content type %q for %s", contentType, url)
		}
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, Error.Wrap(err)
	}
	return body, false, nil
}
