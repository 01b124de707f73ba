// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package kinto_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/buildhub/kinto"
	"storj.io/common/testcontext"
)

func newTestClient(t *testing.T, handler http.Handler) (*kinto.Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := kinto.NewClient(zaptest.NewLogger(t), kinto.Config{
		Server:         server.URL,
		Bucket:         "build-hub",
		Collection:     "releases",
		Auth:           "user:pass",
		RequestTimeout: 10 * time.Second,
	})
	return client, server
}

func TestServerInfo(t *testing.T) {
	ctx := testcontext.New(t)

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "user", user)
		require.Equal(t, "pass", pass)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"settings": {"batch_max_requests": 25}}`)
	}))

	info, err := client.ServerInfo(ctx)
	require.NoError(t, err)
	require.Equal(t, 25, info.Settings.BatchMaxRequests)
}

func TestRecordsPagination(t *testing.T) {
	ctx := testcontext.New(t)

	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/buckets/build-hub/collections/releases/records", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"data": [{"id": "b"}]}`)
			return
		}
		require.Equal(t, `"12345"`, r.URL.Query().Get("_since"))
		w.Header().Set("Next-Page", server.URL+"/buckets/build-hub/collections/releases/records?page=2")
		fmt.Fprint(w, `{"data": [{"id": "a"}]}`)
	})
	client, srv := newTestClient(t, mux)
	server = srv

	var ids []string
	err := client.Records(ctx, `"12345"`, func(records []map[string]any) error {
		for _, record := range records {
			ids = append(ids, record["id"].(string))
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids)
}

func TestBatch(t *testing.T) {
	ctx := testcontext.New(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/batch", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var payload struct {
			Requests []kinto.BatchRequest `json:"requests"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Len(t, payload.Requests, 2)
		require.Equal(t, http.MethodPut, payload.Requests[0].Method)
		require.Equal(t, http.MethodPost, payload.Requests[1].Method)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"responses": [
			{"status": 200, "path": "/buckets/build-hub/collections/releases/records/a"},
			{"status": 201, "path": "/buckets/build-hub/collections/releases/records"}
		]}`)
	})
	client, _ := newTestClient(t, mux)

	responses, err := client.Batch(ctx, []kinto.BatchRequest{
		{
			Method: http.MethodPut,
			Path:   client.RecordPath("a"),
			Body:   map[string]any{"data": map[string]any{"id": "a"}},
		},
		{
			Method: http.MethodPost,
			Path:   client.RecordsPath(),
			Body:   map[string]any{"data": map[string]any{}},
		},
	})
	require.NoError(t, err)
	require.Len(t, responses, 2)
	require.Equal(t, 200, responses[0].Status)
	require.Equal(t, 201, responses[1].Status)
}

func TestRequestFailure(t *testing.T) {
	ctx := testcontext.New(t)

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))

	_, err := client.ServerInfo(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "403")
}

func TestParseItem(t *testing.T) {
	item, err := kinto.ParseItem([]byte(`{"data": {"id": "a", "title": "x"}}`))
	require.NoError(t, err)
	require.Equal(t, "a", item.Data["id"])
	require.Nil(t, item.Permissions)

	item, err = kinto.ParseItem([]byte(`{"permissions": {"read": ["system.Everyone"]}}`))
	require.NoError(t, err)
	require.Nil(t, item.Data)
	require.NotNil(t, item.Permissions)

	// The legacy singular spelling is accepted.
	item, err = kinto.ParseItem([]byte(`{"permission": {"read": []}}`))
	require.NoError(t, err)
	require.NotNil(t, item.Permissions)

	_, err = kinto.ParseItem([]byte(`{"other": 1}`))
	require.Error(t, err)

	_, err = kinto.ParseItem([]byte(`{{{`))
	require.Error(t, err)
}
