// internal/relay/redis.go
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"lendingdesk/internal/notification"
)

// RedisConfig configures a RedisRelay.
type RedisConfig struct {
	Addr     string
	Password string
	Stream   string
	MaxLen   int64
}

// RedisRelay appends every published notification to a Redis stream so
// that other processes (mailers, push gateways) can consume them.
type RedisRelay struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisRelay connects lazily to the Redis server at cfg.Addr.
func NewRedisRelay(cfg RedisConfig) (*RedisRelay, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "lendingdesk:notifications"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisRelay{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream: stream,
		maxLen: maxLen,
	}, nil
}

// Stream returns the stream key notifications are written to.
func (r *RedisRelay) Stream() string {
	return r.stream
}

// Ping checks the Redis connection for /readyz.
func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRelay) Close() error {
	return r.client.Close()
}

// Forward implements circulation.Relay. All notifications of one commit go
// out in a single pipeline.
func (r *RedisRelay) Forward(ctx context.Context, notes []notification.Notification) error {
	if len(notes) == 0 {
		return nil
	}
	pipe := r.client.TxPipeline()
	for _, n := range notes {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: r.stream,
			MaxLen: r.maxLen,
			Approx: true,
			Values: encode(n),
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("relay %d notifications: %w", len(notes), err)
	}
	return nil
}

// Recent returns up to count of the newest relayed notifications, newest first.
func (r *RedisRelay) Recent(ctx context.Context, count int64) ([]notification.Notification, error) {
	msgs, err := r.client.XRevRangeN(ctx, r.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.stream, err)
	}
	notes := make([]notification.Notification, 0, len(msgs))
	for _, msg := range msgs {
		n, err := decode(msg.Values)
		if err != nil {
			return nil, fmt.Errorf("decode message %s: %w", msg.ID, err)
		}
		notes = append(notes, n)
	}
	return notes, nil
}

func encode(n notification.Notification) map[string]any {
	return map[string]any{
		"id":         n.ID.String(),
		"kind":       n.Kind.String(),
		"recipient":  n.Recipient,
		"book_title": n.BookTitle,
		"message":    n.Message,
		"timestamp":  n.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

func decode(values map[string]interface{}) (notification.Notification, error) {
	str := func(key string) string {
		s, _ := values[key].(string)
		return s
	}
	id, err := uuid.Parse(str("id"))
	if err != nil {
		return notification.Notification{}, err
	}
	kind, err := notification.ParseKind(str("kind"))
	if err != nil {
		return notification.Notification{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, str("timestamp"))
	if err != nil {
		return notification.Notification{}, err
	}
	return notification.Notification{
		ID:        id,
		Kind:      kind,
		Message:   str("message"),
		Timestamp: ts,
		BookTitle: str("book_title"),
		Recipient: str("recipient"),
	}, nil
}
