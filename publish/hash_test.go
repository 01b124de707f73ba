// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package publish_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/buildhub/publish"
)

func TestHashRecord(t *testing.T) {
	record := map[string]any{
		"id":     "firefox_51-0_win64_fy-nl",
		"target": map[string]any{"version": "51.0"},
	}
	hash, err := publish.HashRecord(record)
	require.NoError(t, err)
	require.Len(t, hash, 32)

	// Server managed fields do not change the hash.
	withVolatile := map[string]any{
		"id":            "firefox_51-0_win64_fy-nl",
		"target":        map[string]any{"version": "51.0"},
		"last_modified": float64(1498140377629),
		"schema":        float64(123),
	}
	same, err := publish.HashRecord(withVolatile)
	require.NoError(t, err)
	require.Equal(t, hash, same)

	// Content changes do.
	withVolatile["target"] = map[string]any{"version": "52.0"}
	different, err := publish.HashRecord(withVolatile)
	require.NoError(t, err)
	require.NotEqual(t, hash, different)
}
