// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package resolver_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"storj.io/buildhub/archive"
	"storj.io/buildhub/resolver"
)

type testResolver struct {
	*resolver.Resolver

	caches *resolver.Caches
	client *archive.Client
	url    string
}

func newTestResolver(t *testing.T, handler http.Handler) *testResolver {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := archive.NewClient(zaptest.NewLogger(t), archive.ClientConfig{
		BaseURL:        server.URL + "/",
		RequestTimeout: 10 * time.Second,
	})
	caches := resolver.NewCaches()
	return &testResolver{
		Resolver: resolver.NewResolver(zaptest.NewLogger(t), client, caches),
		caches:   caches,
		client:   client,
		url:      server.URL,
	}
}

func jsonHandler(payload any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func listing(prefixes []string, files ...string) http.HandlerFunc {
	type file struct {
		Name string `json:"name"`
	}
	named := make([]file, 0, len(files))
	for _, name := range files {
		named = append(named, file{Name: name})
	}
	if prefixes == nil {
		prefixes = []string{}
	}
	return jsonHandler(map[string]any{
		"prefixes": prefixes,
		"files":    named,
	})
}
