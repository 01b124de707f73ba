// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package resolver

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"storj.io/buildhub/archive"
)

// mozillaCentralRepo is the source repository the oldest nightly
// metadata files assume without saying so.
const mozillaCentralRepo = "http://hg.mozilla.org/mozilla-central"

// NightlyMetadata fetches the sidecar metadata published next to a
// nightly artifact. Only the en-US artifact carries metadata, so
// localized download URLs are rewritten to their en-US counterpart
// first. Historical nightlies used .txt sidecars instead of .json, in
// several layouts; those are parsed too. A missing sidecar resolves to
// nil metadata and is remembered; a transient fetch failure resolves to
// nil without being remembered, so a later entry for the same build can
// try again.
func (resolver *Resolver) NightlyMetadata(ctx context.Context, record *archive.Record) (_ map[string]any, err error) {
	defer mon.Task()(&ctx)(&err)

	base := localizeNightlyURL(record.Download.URL)
	if metadata, ok := resolver.caches.Nightly(base); ok {
		return metadata, nil
	}

	metadata, err := resolver.client.FetchJSON(ctx, base+".json", false)
	if err == nil {
		resolver.caches.SetNightly(base, metadata)
		return metadata, nil
	}
	if archive.ErrNotFound.Has(err) {
		text, txtErr := resolver.client.FetchText(ctx, base+".txt", false)
		if txtErr == nil {
			metadata := parseLegacyNightly(text)
			resolver.caches.SetNightly(base, metadata)
			return metadata, nil
		}
		if archive.ErrNotFound.Has(txtErr) {
			resolver.caches.SetNightly(base, nil)
			return nil, nil
		}
		err = txtErr
	}
	if archive.ErrBackend.Has(err) {
		resolver.log.Warn("nightly metadata unavailable",
			zap.String("record", record.ID),
			zap.Error(err))
		return nil, nil
	}
	return nil, err
}

// localizeNightlyURL rewrites a nightly download URL to the en-US
// metadata location, without the file extension. Localized builds live
// in a sibling -l10n folder and encode the locale in the second to last
// dotted filename segment.
func localizeNightlyURL(downloadURL string) string {
	localized := strings.Replace(downloadURL, "-l10n/", "/", 1)
	base, _ := archive.SplitExtension(localized)
	base = strings.TrimSuffix(base, ".installer-stub")
	base = strings.TrimSuffix(base, ".installer")
	parts := strings.Split(base, ".")
	if len(parts) >= 2 {
		parts[len(parts)-2] = "en-US"
	}
	return strings.Join(parts, ".")
}

// parseLegacyNightly interprets the historical .txt sidecar layouts:
// either a single line with the build id (optionally followed by the
// source stamp), or a build id line followed by a source URL line with
// a /rev/ component.
func parseLegacyNightly(text string) map[string]any {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil
	}

	if len(lines) == 1 {
		fields := strings.Fields(lines[0])
		switch len(fields) {
		case 1:
			return map[string]any{"buildid": fields[0]}
		case 2:
			return map[string]any{
				"buildid":          fields[0],
				"moz_source_stamp": fields[1],
				"moz_source_repo":  mozillaCentralRepo,
			}
		default:
			return nil
		}
	}

	metadata := map[string]any{"buildid": strings.TrimSpace(lines[0])}
	second := strings.TrimSpace(lines[1])
	if repo, stamp, found := strings.Cut(second, "/rev/"); found {
		metadata["moz_source_repo"] = repo
		metadata["moz_source_stamp"] = stamp
	} else {
		metadata["moz_source_repo"] = mozillaCentralRepo
		metadata["moz_source_stamp"] = second
	}
	return metadata
}
