package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"liblend/internal/util"
)

// Notification kinds used by the lending engine.
const (
	KindReminder            = "reminder"
	KindReservationApproved = "reservation-approved"
)

// Notification is a templated message awaiting delivery.
type Notification struct {
	ID       string         `json:"id"`
	Kind     string         `json:"kind"`
	Payload  map[string]any `json:"payload"`
	Attempts int            `json:"attempts"`
	Enqueued time.Time      `json:"enqueued"`
}

// Notifier enqueues templated messages for asynchronous, at-least-once
// delivery. Enqueue never blocks on the actual send and must never be called
// in a way that could roll back a lending transaction.
type Notifier interface {
	Enqueue(ctx context.Context, kind string, payload map[string]any) error
}

// RedisNotifyQueue is a Notifier backed by a Redis stream with a consumer
// group. Failed deliveries are retried up to maxRetries; messages stalled on
// a dead consumer are reclaimed after claimIdle.
type RedisNotifyQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
}

type RedisNotifyConfig struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

func NewRedisNotifyQueue(cfg RedisNotifyConfig) (*RedisNotifyQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("notify stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "default"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}

	return &RedisNotifyQueue{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
	}, nil
}

// Enqueue appends a notification to the stream.
func (q *RedisNotifyQueue) Enqueue(ctx context.Context, kind string, payload map[string]any) error {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return errors.New("kind required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":       util.NewID(),
			"kind":     kind,
			"payload":  string(data),
			"attempts": "0",
			"enqueued": time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}

// Start launches the delivery consumers. handler performs one delivery
// attempt; a non-nil error requeues the message until maxRetries.
func (q *RedisNotifyQueue) Start(ctx context.Context, concurrency int, handler func(context.Context, Notification) error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
}

func (q *RedisNotifyQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			slog.Warn("create consumer group", "stream", q.stream, "err", err)
		}
	})
}

func (q *RedisNotifyQueue) consumeLoop(ctx context.Context, consumer string, handler func(context.Context, Notification) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisNotifyQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *RedisNotifyQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler func(context.Context, Notification) error) {
	note, ok := decodeNotification(msg)
	if !ok {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	note.Attempts++
	if err := handler(ctx, note); err == nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if note.Attempts >= q.maxRetries {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if q.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.retryDelay):
		}
	}
	_ = q.requeueAndAck(ctx, msg.ID, note)
}

func (q *RedisNotifyQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

// requeueAndAck re-appends the message with its incremented attempt count and
// acks the original in one pipeline, so the message is never lost between the
// two steps.
func (q *RedisNotifyQueue) requeueAndAck(ctx context.Context, msgID string, note Notification) error {
	data, err := json.Marshal(note.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":       note.ID,
			"kind":     note.Kind,
			"payload":  string(data),
			"attempts": strconv.Itoa(note.Attempts),
			"enqueued": note.Enqueued.Format(time.RFC3339Nano),
		},
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err = pipe.Exec(ctx)
	return err
}

func decodeNotification(msg redis.XMessage) (Notification, bool) {
	kind, _ := msg.Values["kind"].(string)
	if kind == "" {
		return Notification{}, false
	}
	note := Notification{Kind: kind}
	if v, _ := msg.Values["id"].(string); v != "" {
		note.ID = v
	}
	if v, _ := msg.Values["payload"].(string); v != "" {
		_ = json.Unmarshal([]byte(v), &note.Payload)
	}
	if v, _ := msg.Values["attempts"].(string); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			note.Attempts = n
		}
	}
	if v, _ := msg.Values["enqueued"].(string); v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			note.Enqueued = t
		}
	}
	return note, true
}
