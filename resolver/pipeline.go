// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package resolver

import (
	"context"
	"encoding/csv"
	"errors"
	"io"

	"go.uber.org/zap"

	"storj.io/buildhub/archive"
)

// Pipeline streams inventory CSV into complete records. Entries that
// fail individually are logged and skipped; only input stream failures
// and context cancellation abort the run.
type Pipeline struct {
	log     *zap.Logger
	builder *Builder
	baseURL string
}

// NewPipeline creates a resolution pipeline. baseURL is the archive
// root download URLs are built from.
func NewPipeline(log *zap.Logger, builder *Builder, baseURL string) *Pipeline {
	return &Pipeline{
		log:     log,
		builder: builder,
		baseURL: baseURL,
	}
}

// Run reads inventory CSV lines from input and calls emit with every
// complete record, in input order. Multiple inventory entries resolving
// to the same record id (the .zip and .exe forms of one build, for
// instance) produce the record once, for the first entry seen.
func (pipeline *Pipeline) Run(ctx context.Context, input io.Reader, emit func(*archive.Record) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	reader := csv.NewReader(input)
	reader.FieldsPerRecord = -1

	seen := make(map[string]struct{})
	for {
		if err := ctx.Err(); err != nil {
			return Error.Wrap(err)
		}

		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return Error.Wrap(err)
		}

		entry, err := archive.ParseInventoryLine(fields)
		if err != nil {
			pipeline.log.Warn("skipping malformed inventory line", zap.Error(err))
			continue
		}
		if !archive.IsBuildFile(entry.Key) {
			continue
		}

		record, err := archive.NewRecord(entry, pipeline.baseURL)
		if err != nil {
			pipeline.log.Debug("skipping unrecognized entry",
				zap.String("key", entry.Key),
				zap.Error(err))
			continue
		}
		if _, ok := seen[record.ID]; ok {
			continue
		}
		seen[record.ID] = struct{}{}

		record, err = pipeline.builder.Build(ctx, entry, record)
		if err != nil {
			pipeline.log.Warn("skipping entry after resolution failure",
				zap.String("key", entry.Key),
				zap.Error(err))
			continue
		}
		if record == nil {
			continue
		}
		if err := emit(record); err != nil {
			return err
		}
	}
}
