// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package resolver_test

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/buildhub/archive"
	"storj.io/common/testcontext"
)

func releaseRecord(product, version, platform string) *archive.Record {
	return &archive.Record{
		ID:     "a",
		Source: archive.Source{Product: product},
		Target: archive.Target{
			Version:  version,
			Platform: platform,
			Locale:   "fr-FR",
		},
	}
}

func seedCandidates(res *testResolver) {
	res.caches.SetCandidates("firefox", map[string]string{
		"54.0":   "build3/",
		"57.0b4": "build1/",
		"47.0.1": "build1/",
	})
}

func TestReleaseMetadataUnknownVersion(t *testing.T) {
	ctx := testcontext.New(t)

	res := newTestResolver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL)
	}))
	seedCandidates(res)

	metadata, err := res.ReleaseMetadata(ctx, releaseRecord("firefox", "1.0", "p"))
	require.NoError(t, err)
	require.Nil(t, metadata)
}

func TestReleaseMetadata(t *testing.T) {
	ctx := testcontext.New(t)

	var requests atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/pub/firefox/candidates/57.0b4-candidates/build1/mac/en-US/", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.URL.Path == "/pub/firefox/candidates/57.0b4-candidates/build1/mac/en-US/firefox-57.0b4.json" {
			jsonHandler(map[string]any{"buildid": "20170928180207"})(w, r)
			return
		}
		listing(nil, "firefox-57.0b4.json")(w, r)
	})
	res := newTestResolver(t, mux)
	seedCandidates(res)

	record := releaseRecord("firefox", "57.0b4", "macosx")
	metadata, err := res.ReleaseMetadata(ctx, record)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"buildid": "20170928180207", "buildnumber": 1}, metadata)

	// The second lookup is served from the cache.
	fetched := requests.Load()
	metadata, err = res.ReleaseMetadata(ctx, record)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"buildid": "20170928180207", "buildnumber": 1}, metadata)
	require.Equal(t, fetched, requests.Load())
}

func TestReleaseMetadataMissingCandidateRun(t *testing.T) {
	ctx := testcontext.New(t)

	var requests atomic.Int64
	res := newTestResolver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.NotFound(w, r)
	}))
	seedCandidates(res)

	record := releaseRecord("firefox", "47.0.1", "win64")
	metadata, err := res.ReleaseMetadata(ctx, record)
	require.NoError(t, err)
	require.Nil(t, metadata)

	// The failed listing is remembered as absent.
	fetched := requests.Load()
	metadata, err = res.ReleaseMetadata(ctx, record)
	require.NoError(t, err)
	require.Nil(t, metadata)
	require.Equal(t, fetched, requests.Load())
}

func TestReleaseMetadataNoMetadataFile(t *testing.T) {
	ctx := testcontext.New(t)

	var requests atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/pub/firefox/candidates/54.0-candidates/build3/win64/en-US/", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		listing(nil, "only-a-random-file.json")(w, r)
	})
	res := newTestResolver(t, mux)
	seedCandidates(res)

	record := releaseRecord("firefox", "54.0", "win64")
	_, err := res.ReleaseMetadata(ctx, record)
	require.Error(t, err)

	// The failure is reported once and then remembered as absent.
	fetched := requests.Load()
	metadata, err := res.ReleaseMetadata(ctx, record)
	require.NoError(t, err)
	require.Nil(t, metadata)
	require.Equal(t, fetched, requests.Load())
}

func TestReleaseMetadataMalformedSidecar(t *testing.T) {
	ctx := testcontext.New(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/pub/firefox/candidates/54.0-candidates/build3/win64/en-US/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/pub/firefox/candidates/54.0-candidates/build3/win64/en-US/firefox-54.0.json" {
			w.Header().Set("Content-Type", "application/xml")
			fmt.Fprint(w, "<pim><pooom/></pim>")
			return
		}
		listing(nil, "firefox-54.0.json")(w, r)
	})
	res := newTestResolver(t, mux)
	seedCandidates(res)

	_, err := res.ReleaseMetadata(ctx, releaseRecord("firefox", "54.0", "win64"))
	require.True(t, archive.ErrMalformed.Has(err))
}

func TestReleaseMetadataNormalizesPlatform(t *testing.T) {
	ctx := testcontext.New(t)

	mux := http.NewServeMux()
	for _, folder := range []string{"mac", "linux-x86_64", "win64"} {
		prefix := "/pub/firefox/candidates/54.0-candidates/build3/" + folder + "/en-US/"
		mux.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == prefix+"firefox-54.0.json" {
				jsonHandler(map[string]any{"buildid": "20170512"})(w, r)
				return
			}
			listing(nil, "firefox-54.0.json")(w, r)
		})
	}
	res := newTestResolver(t, mux)
	seedCandidates(res)

	for _, platform := range []string{"mac-EME-free", "linux-x86_64-eme-free", "win64-sha1", "macosx"} {
		metadata, err := res.ReleaseMetadata(ctx, releaseRecord("firefox", "54.0", platform))
		require.NoError(t, err, platform)
		require.Equal(t, map[string]any{"buildid": "20170512", "buildnumber": 3}, metadata, platform)
	}
}

func TestReleaseMetadataLocalizedSidecarName(t *testing.T) {
	ctx := testcontext.New(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/pub/firefox/candidates/54.0-candidates/build3/linux-x86_64/en-US/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/pub/firefox/candidates/54.0-candidates/build3/linux-x86_64/en-US/firefox-54.0.en-US.linux-x86_64.json" {
			jsonHandler(map[string]any{"buildid": "20170512"})(w, r)
			return
		}
		listing(nil, "firefox-54.0.en-US.linux-x86_64.json")(w, r)
	})
	res := newTestResolver(t, mux)
	seedCandidates(res)

	metadata, err := res.ReleaseMetadata(ctx, releaseRecord("firefox", "54.0", "linux-x86_64"))
	require.NoError(t, err)
	require.Equal(t, map[string]any{"buildid": "20170512", "buildnumber": 3}, metadata)
}
