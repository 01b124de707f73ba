// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package resolver

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// scanConcurrency bounds how many version folders are listed at once
// while walking a product's candidates tree.
const scanConcurrency = 8

var buildFolderRx = regexp.MustCompile(`^build(\d+)/$`)

// ScanCandidates walks pub/{product}/candidates/ once per run and
// remembers, for every version that had a candidates run, the highest
// numbered build folder. Subsequent calls for the same product are
// no-ops.
func (resolver *Resolver) ScanCandidates(ctx context.Context, product string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if resolver.caches.CandidatesScanned(product) {
		return nil
	}

	candidatesURL := resolver.client.BaseURL() + "pub/" + product + "/candidates/"
	versions, _, err := resolver.client.FetchListing(ctx, candidatesURL, false)
	if err != nil {
		return Error.Wrap(err)
	}

	var mu sync.Mutex
	folders := make(map[string]string)

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(scanConcurrency)
	for _, prefix := range versions {
		if prefix == "archived/" || !strings.HasSuffix(prefix, "-candidates/") {
			continue
		}
		version := strings.TrimSuffix(prefix, "-candidates/")
		versionURL := candidatesURL + prefix
		group.Go(func() error {
			builds, _, err := resolver.client.FetchListing(ctx, versionURL, false)
			if err != nil {
				return Error.Wrap(err)
			}
			newest, found := "", -1
			for _, build := range builds {
				match := buildFolderRx.FindStringSubmatch(build)
				if match == nil {
					continue
				}
				number, err := strconv.Atoi(match[1])
				if err != nil || number <= found {
					continue
				}
				newest, found = build, number
			}
			if found >= 0 {
				mu.Lock()
				folders[version] = newest
				mu.Unlock()
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	resolver.caches.SetCandidates(product, folders)
	resolver.log.Debug("scanned candidates",
		zap.String("product", product),
		zap.Int("versions", len(folders)))
	return nil
}
