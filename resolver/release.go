// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package resolver

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"storj.io/buildhub/archive"
)

// ReleaseMetadata fetches the sidecar metadata of a final release
// artifact. Releases carry no metadata of their own; the release was
// promoted from its last candidate build, so the candidates tree is
// scanned once per product and the metadata read from there. Versions
// that never had a candidates run (chemspill updates predating the
// tree, partial updates) resolve to nil. A candidate folder that lists
// no recognizable metadata file is reported once and remembered as
// absent.
func (resolver *Resolver) ReleaseMetadata(ctx context.Context, record *archive.Record) (_ map[string]any, err error) {
	defer mon.Task()(&ctx)(&err)

	product := record.Source.Product
	version := record.Target.Version
	platform := normalizeReleasePlatform(record.Target.Platform)

	cacheKey := product + "-" + version + "-" + platform
	if metadata, ok := resolver.caches.Release(cacheKey); ok {
		return metadata, nil
	}

	if err := resolver.ScanCandidates(ctx, product); err != nil {
		return nil, err
	}
	folder, ok := resolver.caches.CandidateFolder(product, version)
	if !ok {
		folder, ok = resolver.caches.CandidateFolder(product, strings.TrimSuffix(version, "esr"))
	}
	if !ok {
		return nil, nil
	}
	buildNumber, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(folder, "build"), "/"))
	if err != nil {
		return nil, Error.New("unrecognized build folder %q for %s %s", folder, product, version)
	}

	folderURL := resolver.client.BaseURL() +
		"pub/" + product + "/candidates/" + version + "-candidates/" +
		folder + platform + "/en-US/"
	_, files, err := resolver.client.FetchListing(ctx, folderURL, true)
	if err != nil {
		resolver.log.Warn("candidate folder unavailable",
			zap.String("record", record.ID),
			zap.String("url", folderURL),
			zap.Error(err))
		resolver.caches.SetRelease(cacheKey, nil)
		return nil, nil
	}

	sidecarProduct := product
	if sidecarProduct == "devedition" {
		sidecarProduct = "firefox"
	}
	exact := sidecarProduct + "-" + version + ".json"
	localizedPrefix := sidecarProduct + "-" + version + ".en-US."

	var metadataURL string
	for _, file := range files {
		if file.Name == exact ||
			(strings.HasPrefix(file.Name, localizedPrefix) && strings.HasSuffix(file.Name, ".json")) {
			metadataURL = folderURL + file.Name
			break
		}
	}
	if metadataURL == "" {
		resolver.caches.SetRelease(cacheKey, nil)
		return nil, Error.New("no metadata file in %s", folderURL)
	}

	metadata, err := resolver.client.FetchJSON(ctx, metadataURL, true)
	if err != nil {
		return nil, err
	}
	metadata["buildnumber"] = buildNumber
	resolver.caches.SetRelease(cacheKey, metadata)
	return metadata, nil
}

// normalizeReleasePlatform maps a download platform to the folder name
// the candidates tree uses: eme-free and sha1 repacks share the plain
// platform's metadata, and mac releases live under mac regardless of
// the macosx name in release paths.
func normalizeReleasePlatform(platform string) string {
	platform = strings.ToLower(platform)
	platform = strings.TrimSuffix(platform, "-eme-free")
	platform = strings.TrimSuffix(platform, "-sha1")
	if strings.HasPrefix(platform, "macosx") {
		platform = "mac"
	}
	return platform
}
