package kanban

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Channels events are published on.
const (
	EventJobMoved    = "EVENT_JOB_MOVED"
	EventJobAnalyzed = "EVENT_JOB_ANALYZED"
)

// Publisher broadcasts lifecycle events. Publishing is best effort: a
// failure is logged and never undoes the change it reports.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any)
}

// RedisPublisher publishes JSON payloads on Redis pub/sub.
type RedisPublisher struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewRedisPublisher returns a Publisher backed by rdb.
func NewRedisPublisher(rdb *redis.Client, logger *slog.Logger) *RedisPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPublisher{rdb: rdb, logger: logger}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload any) {
	event, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn("encode event failed", "channel", channel, "err", err)
		return
	}
	if err := p.rdb.Publish(ctx, channel, event).Err(); err != nil {
		p.logger.Warn("publish "+channel+" failed", "err", err)
	}
}

// NopPublisher drops every event. Used when no Redis is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) {}

// JobMovedEvent is the payload of EventJobMoved.
type JobMovedEvent struct {
	Type  string `json:"type"`
	JobID int64  `json:"jobId"`
	From  string `json:"from"`
	To    string `json:"to"`
	At    string `json:"at"`
}

// JobAnalyzedEvent is the payload of EventJobAnalyzed.
type JobAnalyzedEvent struct {
	Type   string `json:"type"`
	JobID  int64  `json:"jobId"`
	Score  int    `json:"score"`
	Method string `json:"method"`
	RunID  string `json:"runId,omitempty"`
}
