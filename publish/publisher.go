// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package publish

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/sync2"

	"storj.io/buildhub/kinto"
)

// Config configures the publisher.
type Config struct {
	CacheFolder   string        `help:"directory the hash cache file lives in" default:"."`
	MaxBatchSize  int           `help:"maximum records per batch request" default:"9999"`
	BatchTimeout  time.Duration `help:"flush a partial batch after this long without input" default:"5s"`
	Workers       int           `help:"concurrent batch requests" default:"3"`
	QueueSize     int           `help:"bounded queue between input parsing and batching" default:"1000"`
	SkipUnchanged bool          `help:"skip records whose content hash the server already holds" default:"false"`
}

// Publisher moves items from an input stream into the document store.
// A producer parses input lines into a bounded queue; a single consumer
// drains the queue into batches, skipping records the hash cache marks
// unchanged, and dispatches every full (or timed out) batch to a worker
// pool. Closing the queue is the completion signal: Run returns only
// after every dispatched batch finished.
type Publisher struct {
	log    *zap.Logger
	client *kinto.Client
	config Config
	cache  *HashCache

	queue chan kinto.Item

	mu         sync.Mutex
	failures   errs.Group
	dispatched int
	completed  int
	published  int
	skipped    int
}

// NewPublisher creates a publisher. cache may be nil when unchanged
// records are not being skipped.
func NewPublisher(log *zap.Logger, client *kinto.Client, config Config, cache *HashCache) *Publisher {
	return &Publisher{
		log:    log,
		client: client,
		config: config,
		cache:  cache,
		queue:  make(chan kinto.Item, config.QueueSize),
	}
}

// Produce parses input lines into the queue and closes the queue when
// the input ends, successfully or not. An unparsable line aborts the
// run: silently dropping part of the input would leave the collection
// inconsistent with no trace.
func (publisher *Publisher) Produce(ctx context.Context, input io.Reader) (err error) {
	defer mon.Task()(&ctx)(&err)
	defer close(publisher.queue)

	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		item, err := kinto.ParseItem(line)
		if err != nil {
			return err
		}
		select {
		case publisher.queue <- item:
		case <-ctx.Done():
			return Error.Wrap(ctx.Err())
		}
	}
	return Error.Wrap(scanner.Err())
}

// Run consumes the queue until it closes and returns the combined
// failures of every batch. The batch size is the smaller of the
// configured maximum and what the server allows.
func (publisher *Publisher) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	info, err := publisher.client.ServerInfo(ctx)
	if err != nil {
		return err
	}
	limit := publisher.config.MaxBatchSize
	if serverLimit := info.Settings.BatchMaxRequests; serverLimit > 0 && serverLimit < limit {
		limit = serverLimit
	}

	limiter := sync2.NewLimiter(publisher.config.Workers)
	for {
		batch, done := publisher.fill(ctx, limit)
		if len(batch) > 0 {
			publisher.mu.Lock()
			publisher.dispatched++
			publisher.mu.Unlock()

			started := limiter.Go(ctx, func() {
				err := publisher.publishBatch(ctx, batch)
				publisher.mu.Lock()
				publisher.completed++
				if err != nil {
					publisher.failures.Add(err)
				}
				publisher.mu.Unlock()
			})
			if !started {
				publisher.mu.Lock()
				publisher.completed++
				publisher.failures.Add(Error.Wrap(ctx.Err()))
				publisher.mu.Unlock()
				break
			}
		}
		if done {
			break
		}
	}
	limiter.Wait()

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	publisher.log.Info("publish finished",
		zap.Int("published", publisher.published),
		zap.Int("skipped", publisher.skipped),
		zap.Int("batches", publisher.completed))
	return errs.Combine(publisher.failures.Err(), ctx.Err())
}

// fill collects the next batch: up to limit items, flushed early when
// the queue stays idle for the batch timeout. done is true once the
// queue closed or the context died.
func (publisher *Publisher) fill(ctx context.Context, limit int) (batch []kinto.Item, done bool) {
	timer := time.NewTimer(publisher.config.BatchTimeout)
	defer timer.Stop()

	for len(batch) < limit {
		select {
		case item, ok := <-publisher.queue:
			if !ok {
				return batch, true
			}
			if publisher.skipUnchanged(item) {
				continue
			}
			batch = append(batch, item)
		case <-timer.C:
			return batch, false
		case <-ctx.Done():
			return batch, true
		}
	}
	return batch, false
}

func (publisher *Publisher) skipUnchanged(item kinto.Item) bool {
	if publisher.cache == nil || !publisher.config.SkipUnchanged || item.Data == nil {
		return false
	}
	id, _ := item.Data["id"].(string)
	if id == "" {
		return false
	}
	hash, err := HashRecord(item.Data)
	if err != nil {
		return false
	}
	if !publisher.cache.Unchanged(id, hash) {
		return false
	}
	mon.Counter("publish_skipped_unchanged").Inc(1)
	publisher.mu.Lock()
	publisher.skipped++
	publisher.mu.Unlock()
	return true
}

// publishBatch sends one batch request and inspects every sub-response.
// Sub-request failures do not fail the batch call itself, so each one
// is turned into an error and they are all reported together.
func (publisher *Publisher) publishBatch(ctx context.Context, batch []kinto.Item) (err error) {
	defer mon.Task()(&ctx)(&err)

	requests := make([]kinto.BatchRequest, 0, len(batch))
	for _, item := range batch {
		body := make(map[string]any, 2)
		if item.Data != nil {
			body["data"] = item.Data
		}
		if item.Permissions != nil {
			body["permissions"] = item.Permissions
		}

		var id string
		if item.Data != nil {
			id, _ = item.Data["id"].(string)
		}
		if id != "" {
			mon.Counter("publish_update_record").Inc(1)
			requests = append(requests, kinto.BatchRequest{
				Method: http.MethodPut,
				Path:   publisher.client.RecordPath(id),
				Body:   body,
			})
		} else {
			mon.Counter("publish_create_record").Inc(1)
			requests = append(requests, kinto.BatchRequest{
				Method: http.MethodPost,
				Path:   publisher.client.RecordsPath(),
				Body:   body,
			})
		}
	}

	responses, err := publisher.client.Batch(ctx, requests)
	if err != nil {
		return err
	}

	var group errs.Group
	succeeded := 0
	for _, response := range responses {
		switch {
		case response.Status == http.StatusPreconditionFailed:
			group.Add(Error.New("record %q already exists at %s", existingID(response.Body), response.Path))
		case response.Status == http.StatusBadRequest:
			group.Add(Error.New("invalid record at %s: %v", response.Path, response.Body))
		case response.Status >= 400:
			group.Add(Error.New("request at %s failed with status %d", response.Path, response.Status))
		default:
			succeeded++
		}
	}
	publisher.mu.Lock()
	publisher.published += succeeded
	publisher.mu.Unlock()
	return group.Err()
}

func existingID(body map[string]any) string {
	details, _ := body["details"].(map[string]any)
	existing, _ := details["existing"].(map[string]any)
	id, _ := existing["id"].(string)
	return id
}
