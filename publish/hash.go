// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package publish pushes resolved records into the document store
// through a bounded queue, a batching consumer, and a small pool of
// batch workers, skipping records the server already has.
package publish

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var (
	mon = monkit.Package()

	// Error is the default error class for publish failures.
	Error = errs.Class("publish")
)

// HashRecord computes the content hash of a record: an md5 digest over
// the canonically marshaled record without its server-managed fields.
// Two records with the same hash carry the same content even when the
// server assigned them different modification timestamps. This is a
// change detector, not a security primitive.
func HashRecord(record map[string]any) (string, error) {
	stripped := make(map[string]any, len(record))
	for key, value := range record {
		if key == "last_modified" || key == "schema" {
			continue
		}
		stripped[key] = value
	}
	encoded, err := json.Marshal(stripped)
	if err != nil {
		return "", Error.Wrap(err)
	}
	sum := md5.Sum(encoded)
	return hex.EncodeToString(sum[:]), nil
}
