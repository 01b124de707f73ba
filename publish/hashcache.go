// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"storj.io/buildhub/kinto"
)

// Entry is one cached record state: the server modification timestamp
// and the content hash. On disk it is stored as a two element array.
type Entry struct {
	LastModified int64
	Hash         string
}

// MarshalJSON implements json.Marshaler.
func (entry Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{entry.LastModified, entry.Hash})
}

// UnmarshalJSON implements json.Unmarshaler.
func (entry *Entry) UnmarshalJSON(data []byte) error {
	var parsed []any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Error.Wrap(err)
	}
	if len(parsed) != 2 {
		return Error.New("hash cache entry has %d elements, want 2", len(parsed))
	}
	lastModified, ok := parsed[0].(float64)
	if !ok {
		return Error.New("hash cache entry timestamp is %T", parsed[0])
	}
	hash, ok := parsed[1].(string)
	if !ok {
		return Error.New("hash cache entry hash is %T", parsed[1])
	}
	entry.LastModified = int64(lastModified)
	entry.Hash = hash
	return nil
}

// HashCache remembers the content hash of every record the server
// holds, so that unchanged records are not re-published. It persists as
// one JSON file per (server, bucket, collection).
type HashCache struct {
	log     *zap.Logger
	path    string
	entries map[string]Entry
}

// LoadHashCache opens the hash cache for a server, bucket and
// collection, reading the cache file when one exists.
func LoadHashCache(log *zap.Logger, folder, serverURL, bucket, collection string) (*HashCache, error) {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	filename := fmt.Sprintf(".records-hashes-%s-%s-%s.json", parsed.Hostname(), bucket, collection)

	cache := &HashCache{
		log:     log,
		path:    filepath.Join(folder, filename),
		entries: make(map[string]Entry),
	}
	data, err := os.ReadFile(cache.path)
	if os.IsNotExist(err) {
		return cache, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if err := json.Unmarshal(data, &cache.entries); err != nil {
		return nil, Error.New("corrupt hash cache %s: %v", cache.path, err)
	}
	return cache, nil
}

// Len returns the number of cached records.
func (cache *HashCache) Len() int { return len(cache.entries) }

// Refresh pulls the server state into the cache. When the cache already
// holds records, only records modified since the newest cached
// timestamp are fetched; an empty cache pulls the full collection page
// by page.
func (cache *HashCache) Refresh(ctx context.Context, client *kinto.Client) (err error) {
	defer mon.Task()(&ctx)(&err)

	since := ""
	if len(cache.entries) > 0 {
		var highest int64
		for _, entry := range cache.entries {
			if entry.LastModified > highest {
				highest = entry.LastModified
			}
		}
		since = fmt.Sprintf("%q", fmt.Sprintf("%d", highest))
	}

	return client.Records(ctx, since, func(records []map[string]any) error {
		for _, record := range records {
			id, _ := record["id"].(string)
			if id == "" {
				continue
			}
			lastModified, _ := record["last_modified"].(float64)
			hash, err := HashRecord(record)
			if err != nil {
				return err
			}
			cache.entries[id] = Entry{
				LastModified: int64(lastModified),
				Hash:         hash,
			}
		}
		return nil
	})
}

// Save writes the cache file atomically. An empty cache leaves the
// filesystem untouched.
func (cache *HashCache) Save() error {
	if len(cache.entries) == 0 {
		return nil
	}
	data, err := json.MarshalIndent(cache.entries, "", "  ")
	if err != nil {
		return Error.Wrap(err)
	}
	tmp := cache.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(os.Rename(tmp, cache.path))
}

// Unchanged reports whether a record with this id and content hash is
// already on the server.
func (cache *HashCache) Unchanged(id, hash string) bool {
	entry, ok := cache.entries[id]
	return ok && entry.Hash == hash
}
