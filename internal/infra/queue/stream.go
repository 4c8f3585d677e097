// Package queue implements the durable proof-job queue on Redis Streams.
// Delivery is at-least-once: an entry is acknowledged only after its
// handler returns without error, so handlers must be idempotent or rely on
// job-id deduplication upstream. Entries whose handler keeps failing are
// moved to a dead-letter stream for operator-driven reprocessing.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// payloadField is the single wire field carrying the opaque JSON body.
	payloadField = "payload"
	reasonField  = "reason"
	originField  = "origin_id"

	defaultClaimCount = 10
	defaultMinIdle    = 30 * time.Second
)

// Entry is one queue element as seen by handlers.
type Entry struct {
	ID      string
	Payload []byte
}

// DeadEntry is a parked element with its failure reason.
type DeadEntry struct {
	Entry
	OriginID string
	Reason   string
}

// Handler processes a claimed entry. A nil return acknowledges the entry;
// an error leaves it claimed-but-unacknowledged for later redelivery.
type Handler func(ctx context.Context, entry Entry) error

type Queue struct {
	client     *redis.Client
	stream     string
	group      string
	claimCount int64
	minIdle    time.Duration
	log        zerolog.Logger
}

type Option func(*Queue)

// WithClaimCount bounds how many entries one Process call claims.
func WithClaimCount(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.claimCount = int64(n)
		}
	}
}

// WithMinIdle sets how long an unacknowledged claim must sit idle before
// another consumer may steal it.
func WithMinIdle(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.minIdle = d
		}
	}
}

func New(client *redis.Client, stream, group string, log zerolog.Logger, opts ...Option) (*Queue, error) {
	if client == nil {
		return nil, errors.New("queue: redis client is required")
	}
	if stream == "" || group == "" {
		return nil, errors.New("queue: stream and group names are required")
	}
	q := &Queue{
		client:     client,
		stream:     stream,
		group:      group,
		claimCount: defaultClaimCount,
		minIdle:    defaultMinIdle,
		log:        log.With().Str("component", "queue").Str("stream", stream).Logger(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// EnsureGroup creates the consumer group at the start of the stream,
// tolerating a group that already exists.
func (q *Queue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("queue: create group %s: %w", q.group, err)
	}
	return nil
}

// Add appends an entry and returns its stream id. Stream ids are unique
// and monotonically ordered.
func (q *Queue) Add(ctx context.Context, payload []byte) (string, error) {
	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{payloadField: string(payload)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("queue: add: %w", err)
	}
	return id, nil
}

// Process claims up to the configured count of entries for the given
// consumer, invoking handler per entry and acknowledging only entries
// whose handler succeeded. It first reclaims entries another consumer left
// idle past the min-idle threshold, then reads fresh ones. Returns the
// number of entries acknowledged.
func (q *Queue) Process(ctx context.Context, consumer string, handler Handler) (int, error) {
	if consumer == "" {
		return 0, errors.New("queue: consumer name is required")
	}
	if handler == nil {
		return 0, errors.New("queue: handler is required")
	}
	if err := q.EnsureGroup(ctx); err != nil {
		return 0, err
	}

	entries, err := q.claim(ctx, consumer)
	if err != nil {
		return 0, err
	}

	acked := 0
	for _, entry := range entries {
		if err := handler(ctx, entry); err != nil {
			q.log.Warn().Err(err).Str("entry_id", entry.ID).Msg("handler failed, leaving entry pending")
			continue
		}
		if err := q.client.XAck(ctx, q.stream, q.group, entry.ID).Err(); err != nil {
			return acked, fmt.Errorf("queue: ack %s: %w", entry.ID, err)
		}
		acked++
	}
	return acked, nil
}

func (q *Queue) claim(ctx context.Context, consumer string) ([]Entry, error) {
	var entries []Entry

	// Steal stale claims abandoned by dead consumers.
	stale, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.minIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("queue: autoclaim: %w", err)
	}
	for _, msg := range stale {
		entries = append(entries, messageToEntry(msg))
	}

	remaining := q.claimCount - int64(len(entries))
	if remaining <= 0 {
		return entries, nil
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumer,
		Streams:  []string{q.stream, ">"},
		Count:    remaining,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return entries, nil
		}
		return nil, fmt.Errorf("queue: read group: %w", err)
	}
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			entries = append(entries, messageToEntry(msg))
		}
	}
	return entries, nil
}

// DeadLetter parks an entry on the dead stream and acknowledges it on the
// live one so it is no longer redelivered.
func (q *Queue) DeadLetter(ctx context.Context, entry Entry, reason string) error {
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.deadStream(),
		Values: map[string]any{
			payloadField: string(entry.Payload),
			reasonField:  reason,
			originField:  entry.ID,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("queue: dead-letter %s: %w", entry.ID, err)
	}
	if err := q.client.XAck(ctx, q.stream, q.group, entry.ID).Err(); err != nil {
		return fmt.Errorf("queue: ack dead-lettered %s: %w", entry.ID, err)
	}
	q.log.Warn().Str("entry_id", entry.ID).Str("reason", reason).Msg("entry dead-lettered")
	return nil
}

// ListDead returns every parked entry.
func (q *Queue) ListDead(ctx context.Context) ([]DeadEntry, error) {
	msgs, err := q.client.XRange(ctx, q.deadStream(), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("queue: list dead: %w", err)
	}
	entries := make([]DeadEntry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, deadMessageToEntry(msg))
	}
	return entries, nil
}

// Reprocess moves one dead entry back onto the live stream as a fresh
// delivery and removes it from the dead stream. Returns the new entry id.
func (q *Queue) Reprocess(ctx context.Context, deadID string) (string, error) {
	msgs, err := q.client.XRange(ctx, q.deadStream(), deadID, deadID).Result()
	if err != nil {
		return "", fmt.Errorf("queue: load dead %s: %w", deadID, err)
	}
	if len(msgs) == 0 {
		return "", fmt.Errorf("queue: dead entry %s not found", deadID)
	}
	entry := deadMessageToEntry(msgs[0])
	newID, err := q.Add(ctx, entry.Payload)
	if err != nil {
		return "", err
	}
	if err := q.client.XDel(ctx, q.deadStream(), deadID).Err(); err != nil {
		return "", fmt.Errorf("queue: delete dead %s: %w", deadID, err)
	}
	return newID, nil
}

// ReprocessAll re-enqueues every dead entry. Returns how many moved.
func (q *Queue) ReprocessAll(ctx context.Context) (int, error) {
	dead, err := q.ListDead(ctx)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, entry := range dead {
		if _, err := q.Reprocess(ctx, entry.ID); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

func (q *Queue) deadStream() string {
	return q.stream + ":dead"
}

func messageToEntry(msg redis.XMessage) Entry {
	entry := Entry{ID: msg.ID}
	if raw, ok := msg.Values[payloadField].(string); ok {
		entry.Payload = []byte(raw)
	}
	return entry
}

func deadMessageToEntry(msg redis.XMessage) DeadEntry {
	entry := DeadEntry{Entry: messageToEntry(msg)}
	if reason, ok := msg.Values[reasonField].(string); ok {
		entry.Reason = reason
	}
	if origin, ok := msg.Values[originField].(string); ok {
		entry.OriginID = origin
	}
	return entry
}
