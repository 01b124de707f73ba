// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package kinto is a minimal client for the document store records are
// published into: server settings, paginated record listing, and the
// transactional batch endpoint.
package kinto

import (
	"bytes"
	"context"
	"encoding/json"
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

	// Error is the default error class for document store failures.
	Error = errs.Class("kinto")
)

// Config configures the document store client.
type Config struct {
	Server         string        `help:"root URL of the document store" default:"http://localhost:8888/v1"`
	Bucket         string        `help:"bucket records are published into" default:"build-hub"`
	Collection     string        `help:"collection records are published into" default:"releases"`
	Auth           string        `help:"basic auth credentials as user:password" default:""`
	RequestTimeout time.Duration `help:"timeout for a single document store request" default:"1m"`
}

// Client talks to a document store server.
type Client struct {
	log    *zap.Logger
	config Config
	http   http.Client
}

// NewClient creates a document store client.
func NewClient(log *zap.Logger, config Config) *Client {
	config.Server = strings.TrimSuffix(config.Server, "/")
	return &Client{
		log:    log,
		config: config,
		http: http.Client{
			Timeout: config.RequestTimeout,
		},
	}
}

// Server returns the normalized server root URL.
func (client *Client) Server() string { return client.config.Server }

// Bucket returns the configured bucket.
func (client *Client) Bucket() string { return client.config.Bucket }

// Collection returns the configured collection.
func (client *Client) Collection() string { return client.config.Collection }

// RecordsPath is the collection records path relative to the server
// root.
func (client *Client) RecordsPath() string {
	return "/buckets/" + client.config.Bucket + "/collections/" + client.config.Collection + "/records"
}

// RecordPath is the path of one record relative to the server root.
func (client *Client) RecordPath(id string) string {
	return client.RecordsPath() + "/" + id
}

// ServerInfo is the root resource of the server.
type ServerInfo struct {
	Settings struct {
		BatchMaxRequests int `json:"batch_max_requests"`
	} `json:"settings"`
}

// ServerInfo fetches the server root resource, including the maximum
// number of sub-requests a batch may carry.
func (client *Client) ServerInfo(ctx context.Context) (info ServerInfo, err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = client.request(ctx, http.MethodGet, client.config.Server+"/", nil, &info)
	return info, err
}

// Records pages through the collection, calling page with each batch of
// records the server returns. A non-empty since value asks only for
// records modified after that timestamp. Pagination follows the
// Next-Page header until the server stops sending one.
func (client *Client) Records(ctx context.Context, since string, page func([]map[string]any) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	url := client.config.Server + client.RecordsPath()
	if since != "" {
		url += "?_since=" + since
	}
	for url != "" {
		var body struct {
			Data []map[string]any `json:"data"`
		}
		headers, err := client.request(ctx, http.MethodGet, url, nil, &body)
		if err != nil {
			return err
		}
		if err := page(body.Data); err != nil {
			return err
		}
		url = headers.Get("Next-Page")
	}
	return nil
}

// BatchRequest is one sub-request of a batch.
type BatchRequest struct {
	Method string         `json:"method"`
	Path   string         `json:"path"`
	Body   map[string]any `json:"body,omitempty"`
}

// BatchResponse is one sub-response of a batch.
type BatchResponse struct {
	Status int            `json:"status"`
	Path   string         `json:"path"`
	Body   map[string]any `json:"body,omitempty"`
}

// Batch sends sub-requests through the batch endpoint and returns their
// individual responses. The batch call itself succeeding does not mean
// every sub-request did; callers inspect the response statuses.
func (client *Client) Batch(ctx context.Context, requests []BatchRequest) (_ []BatchResponse, err error) {
	defer mon.Task()(&ctx)(&err)

	payload := map[string]any{"requests": requests}
	var body struct {
		Responses []BatchResponse `json:"responses"`
	}
	if _, err := client.request(ctx, http.MethodPost, client.config.Server+"/batch", payload, &body); err != nil {
		return nil, err
	}
	return body.Responses, nil
}

func (client *Client) request(ctx context.Context, method, url string, payload, result any) (http.Header, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if client.config.Auth != "" {
		user, password, _ := strings.Cut(client.config.Auth, ":")
		req.SetBasicAuth(user, password)
	}

	resp, err := client.http.Do(req)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, Error.New("%s %s: status %d: %s", method, url, resp.StatusCode, string(snippet))
	}
	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return nil, Error.New("%s %s: %v", method, url, err)
		}
	}
	return resp.Header, nil
}
