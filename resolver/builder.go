// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package resolver

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"storj.io/buildhub/archive"
)

// BuilderConfig configures record building.
type BuilderConfig struct {
	MinLastModified string `help:"skip inventory entries modified before this RFC3339 timestamp" default:""`
	SkipIncomplete  bool   `help:"drop records still missing build details after resolution" default:"true"`
}

// Options returns the parsed form of the config.
func (config BuilderConfig) Options() (Options, error) {
	options := Options{SkipIncomplete: config.SkipIncomplete}
	if config.MinLastModified != "" {
		parsed, err := time.Parse(time.RFC3339, config.MinLastModified)
		if err != nil {
			return Options{}, Error.New("min last modified %q: %v", config.MinLastModified, err)
		}
		options.MinLastModified = parsed
	}
	return options, nil
}

// Options control record building.
type Options struct {
	MinLastModified time.Time
	SkipIncomplete  bool
}

// Builder completes partial records with resolved sidecar metadata and
// applies the record level filters.
type Builder struct {
	log      *zap.Logger
	resolver *Resolver
	options  Options
}

// NewBuilder creates a record builder.
func NewBuilder(log *zap.Logger, resolver *Resolver, options Options) *Builder {
	return &Builder{
		log:      log,
		resolver: resolver,
		options:  options,
	}
}

// Build completes a partial record for an inventory entry. It returns
// nil without error when the entry is filtered out: older than the
// modification cutoff, or still incomplete after resolution while
// incomplete records are being dropped.
func (builder *Builder) Build(ctx context.Context, entry archive.Entry, record *archive.Record) (_ *archive.Record, err error) {
	defer mon.Task()(&ctx)(&err)

	if !builder.options.MinLastModified.IsZero() &&
		entry.LastModified.Before(builder.options.MinLastModified) {
		return nil, nil
	}

	var metadata map[string]any
	switch {
	case strings.Contains(entry.Key, "/nightly/"):
		metadata, err = builder.resolver.NightlyMetadata(ctx, record)
	case strings.Contains(entry.Key, "/candidates/"):
		metadata, err = builder.resolver.CandidateMetadata(ctx, record)
	default:
		metadata, err = builder.resolver.ReleaseMetadata(ctx, record)
	}
	if err != nil {
		return nil, err
	}
	mergeMetadata(record, metadata)

	if builder.options.SkipIncomplete && record.Incomplete() {
		builder.log.Info("skipping incomplete record", zap.String("record", record.ID))
		return nil, nil
	}
	return record, nil
}

func mergeMetadata(record *archive.Record, metadata map[string]any) {
	if metadata == nil {
		return
	}

	var build archive.Build
	if buildID, ok := metadata["buildid"].(string); ok && buildID != "" {
		build.ID = buildID
		if date, err := archive.BuildDate(buildID); err == nil {
			build.Date = date
		}
	}
	switch number := metadata["buildnumber"].(type) {
	case int:
		build.Number = number
	case float64:
		build.Number = int(number)
	}
	build.AS = metadata["as"]
	build.CC = metadata["cc"]
	build.CXX = metadata["cxx"]
	build.LD = metadata["ld"]
	build.Host, _ = metadata["host_alias"].(string)
	build.Target, _ = metadata["target_alias"].(string)
	if build.ID != "" || build.Number != 0 {
		record.Build = &build
	}

	if repository, ok := metadata["moz_source_repo"].(string); ok && repository != "" {
		repository = strings.TrimPrefix(repository, "MOZ_SOURCE_REPO=")
		record.Source.Repository = repository
		record.Source.Tree = archive.RepositoryTree(repository)
	}
	if revision, ok := metadata["moz_source_stamp"].(string); ok {
		record.Source.Revision = revision
	}
}
