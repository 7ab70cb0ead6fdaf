package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlguard/internal/clock"
	"github.com/JakeFAU/crawlguard/internal/clock/system"
	"github.com/JakeFAU/crawlguard/internal/events"
)

const (
	streamReadBlock = 5 * time.Second
	streamReadCount = 128
	streamRetryWait = time.Second
)

// RedisQueue reads backlog depth and lifecycle events from the queue engine's
// Redis keyspace. The engine keeps waiting jobs in <prefix>:<name>:wait (plus
// <prefix>:<name>:paused while paused) and appends lifecycle entries to the
// <prefix>:<name>:events stream.
type RedisQueue struct {
	client *redis.Client
	name   string
	prefix string
	clk    clock.Clock
	logger *zap.Logger
}

// NewRedisQueue builds a RedisQueue for the named queue. A nil clock falls
// back to the wall clock.
func NewRedisQueue(client *redis.Client, prefix, name string, clk clock.Clock, logger *zap.Logger) *RedisQueue {
	if clk == nil {
		clk = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisQueue{
		client: client,
		name:   name,
		prefix: prefix,
		clk:    clk,
		logger: logger,
	}
}

func (q *RedisQueue) key(suffix string) string {
	return fmt.Sprintf("%s:%s:%s", q.prefix, q.name, suffix)
}

// WaitingCount sums the wait and paused lists. Jobs parked by a queue pause
// still count as backlog for admission purposes.
func (q *RedisQueue) WaitingCount(ctx context.Context) (int64, error) {
	pipe := q.client.Pipeline()
	waitCmd := pipe.LLen(ctx, q.key("wait"))
	pausedCmd := pipe.LLen(ctx, q.key("paused"))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("read waiting count: %w", err)
	}
	return waitCmd.Val() + pausedCmd.Val(), nil
}

// StreamEvents tails the queue's event stream and forwards each recognized
// lifecycle transition to the emitter. It blocks until ctx is done; transient
// read errors are logged and retried after a fixed wait.
func (q *RedisQueue) StreamEvents(ctx context.Context, emitter events.Emitter) error {
	stream := q.key("events")
	lastID := "$"
	for {
		res, err := q.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Block:   streamReadBlock,
			Count:   streamReadCount,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("event stream stopped: %w", ctx.Err())
			}
			if errors.Is(err, redis.Nil) {
				continue // block timeout, nothing new
			}
			q.logger.Warn("event stream read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return fmt.Errorf("event stream stopped: %w", ctx.Err())
			case <-q.clk.After(streamRetryWait):
			}
			continue
		}
		for _, str := range res {
			for _, msg := range str.Messages {
				lastID = msg.ID
				evt, err := eventFromStreamEntry(msg.ID, msg.Values)
				if err != nil {
					q.logger.Debug("skipping unrecognized stream entry",
						zap.String("entry_id", msg.ID), zap.Error(err))
					continue
				}
				emitter.Emit(evt)
			}
		}
	}
}

// eventFromStreamEntry maps one stream entry onto a lifecycle Event. The entry
// timestamp comes from the stream ID's millisecond prefix.
func eventFromStreamEntry(id string, values map[string]interface{}) (events.Event, error) {
	name, ok := values["event"].(string)
	if !ok {
		return events.Event{}, errors.New("entry has no event field")
	}
	kind, err := events.ParseKind(name)
	if err != nil {
		return events.Event{}, err
	}
	jobID, _ := values["jobId"].(string)
	if jobID == "" {
		return events.Event{}, errors.New("entry has no jobId field")
	}
	ts, err := streamEntryTime(id)
	if err != nil {
		return events.Event{}, err
	}
	return events.Event{JobID: jobID, Kind: kind, TS: ts}, nil
}

// streamEntryTime parses the "<ms>-<seq>" stream entry ID into a timestamp.
func streamEntryTime(id string) (time.Time, error) {
	msPart, _, found := strings.Cut(id, "-")
	if !found {
		return time.Time{}, fmt.Errorf("malformed stream id %q", id)
	}
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed stream id %q: %w", id, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
