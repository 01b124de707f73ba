// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package resolver

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"storj.io/buildhub/archive"
)

var (
	rcSuffixRx    = regexp.MustCompile(`rc\d+$`)
	buildNumberRx = regexp.MustCompile(`/build(\d+)/`)
)

// CandidateMetadata fetches the sidecar metadata of a release candidate
// artifact. Candidate metadata lives in the en-US locale folder of the
// same build, under the product's own name except for devedition, which
// builds from the firefox tree. The build number comes from the folder
// in the download URL. Fetch failures propagate: a candidate build
// without reachable metadata is a data problem, not an expected state.
func (resolver *Resolver) CandidateMetadata(ctx context.Context, record *archive.Record) (_ map[string]any, err error) {
	defer mon.Task()(&ctx)(&err)

	downloadURL := record.Download.URL
	if metadata, ok := resolver.caches.RC(downloadURL); ok {
		return metadata, nil
	}

	match := buildNumberRx.FindStringSubmatch(downloadURL)
	if match == nil {
		return nil, Error.New("no build folder in candidate url %q", downloadURL)
	}
	buildNumber, err := strconv.Atoi(match[1])
	if err != nil {
		return nil, Error.Wrap(err)
	}

	parts := strings.Split(downloadURL, "/")
	if len(parts) < 2 {
		return nil, Error.New("unrecognized candidate url %q", downloadURL)
	}
	parts[len(parts)-2] = "en-US"

	filename := parts[len(parts)-1]
	if record.Source.Product == "fennec" {
		base, _ := archive.SplitExtension(filename)
		nameParts := strings.Split(base, ".")
		if len(nameParts) >= 2 {
			nameParts[len(nameParts)-2] = "en-US"
		}
		filename = strings.Join(nameParts, ".") + ".json"
	} else {
		product := record.Source.Product
		if product == "devedition" {
			product = "firefox"
		}
		version := rcSuffixRx.ReplaceAllString(record.Target.Version, "")
		filename = product + "-" + version + ".json"
	}
	parts[len(parts)-1] = filename
	metadataURL := strings.Join(parts, "/")

	metadata, err := resolver.client.FetchJSON(ctx, metadataURL, true)
	if err != nil {
		return nil, err
	}
	metadata["buildnumber"] = buildNumber
	resolver.caches.SetRC(downloadURL, metadata)
	return metadata, nil
}
