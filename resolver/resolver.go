// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package resolver turns partial build records into complete ones by
// locating and fetching their sidecar metadata on the release archive.
// Resolution strategy depends on the channel: nightlies keep their
// metadata next to the artifact, while releases and release candidates
// keep it in the candidates tree.
package resolver

import (
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/buildhub/archive"
)

var (
	mon = monkit.Package()

	// Error is the default error class for resolution failures.
	Error = errs.Class("resolver")
)

// Resolver fetches sidecar metadata for build records, memoizing
// results so that repeated inventory entries for the same build cost one
// request.
type Resolver struct {
	log    *zap.Logger
	client *archive.Client
	caches *Caches
}

// NewResolver creates a resolver around an archive client and a fresh
// or shared set of caches.
func NewResolver(log *zap.Logger, client *archive.Client, caches *Caches) *Resolver {
	return &Resolver{
		log:    log,
		client: client,
		caches: caches,
	}
}

// BaseURL returns the archive root the resolver operates against.
func (resolver *Resolver) BaseURL() string { return resolver.client.BaseURL() }
