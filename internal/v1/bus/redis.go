// Package bus implements the cross-instance pub/sub fabric used to route
// per-user SendMessage events to whichever instance currently holds the
// recipient's socket (see the Connection Manager), plus the set/hash
// primitives the Redis-backed State store uses to share session and room
// membership data across instances.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/yummyhq/yummy/internal/v1/metrics"
	"github.com/yummyhq/yummy/internal/v1/tracing"
)

// SendMessagePayload is the envelope carried over a server-instance channel.
type SendMessagePayload struct {
	ToUserID string          `json:"toUserId"`
	Message  json.RawMessage `json:"message"`
}

// Service handles all interaction with the Redis cluster: pub/sub fan-out
// plus set/hash primitives for the Redis-backed state store.
type Service struct {
	client *redis.Client
	prefix string
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService creates a Redis connection guarded by a circuit breaker.
func NewService(url, prefix string) (*Service, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = 10 * time.Second
	opts.ReadTimeout = 30 * time.Second
	opts.WriteTimeout = 30 * time.Second

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	slog.Info("connected to redis", "prefix", prefix)
	return &Service{client: rdb, prefix: prefix, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

// Key namespaces a bare key under the configured REDIS_PREFIX.
func (s *Service) Key(parts ...string) string {
	key := s.prefix
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

func serverChannel(prefix, serverID string) string {
	return fmt.Sprintf("%s:m-%s", prefix, serverID)
}

// PublishSendMessage publishes a SendMessage event onto the channel owned by
// the instance currently holding the recipient's socket.
func (s *Service) PublishSendMessage(ctx context.Context, serverID, toUserID string, message json.RawMessage) error {
	if s == nil || s.client == nil {
		return nil // single-instance mode
	}

	ctx, span := tracing.Start(ctx, "bus.PublishSendMessage")
	defer span.End()

	_, err := s.cb.Execute(func() (interface{}, error) {
		data, err := json.Marshal(SendMessagePayload{ToUserID: toUserID, Message: message})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal send-message envelope: %w", err)
		}
		return nil, s.client.Publish(ctx, serverChannel(s.prefix, serverID), data).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("redis circuit breaker open: dropping send-message publish", "toUserId", toUserID)
			return nil
		}
		slog.Error("redis publish failed", "toUserId", toUserID, "error", err)
		return err
	}
	return nil
}

// Subscribe starts a background goroutine that dispatches SendMessage events
// addressed to this server instance. The handler runs once per received
// message until ctx is cancelled.
func (s *Service) Subscribe(ctx context.Context, serverID string, wg *sync.WaitGroup, handler func(SendMessagePayload)) {
	if s == nil || s.client == nil {
		return
	}

	channel := serverChannel(s.prefix, serverID)
	pubsub := s.client.Subscribe(ctx, channel)

	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer pubsub.Close()
		if wg != nil {
			defer wg.Done()
		}

		slog.Info("subscribed to redis channel", "channel", channel)
		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					slog.Warn("redis subscription channel closed", "channel", channel)
					return
				}
				var payload SendMessagePayload
				if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
					slog.Error("failed to unmarshal redis message", "error", err)
					continue
				}
				_, span := tracing.Start(ctx, "bus.Dispatch")
				handler(payload)
				span.End()
			}
		}
	}()
}

// Ping checks Redis connectivity.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	if err != nil && err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
	}
	return err
}

// Close gracefully shuts down the Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// SetAdd adds a member to a Redis Set.
func (s *Service) SetAdd(ctx context.Context, key, member string) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.SAdd(ctx, key, member).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			return nil
		}
		return fmt.Errorf("failed to add to set: %w", err)
	}
	return nil
}

// SetRem removes a member from a Redis Set.
func (s *Service) SetRem(ctx context.Context, key, member string) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.SRem(ctx, key, member).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			return nil
		}
		return fmt.Errorf("failed to remove from set: %w", err)
	}
	return nil
}

// SetMembers retrieves all members of a Redis Set.
func (s *Service) SetMembers(ctx context.Context, key string) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.SMembers(ctx, key).Result()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get set members: %w", err)
	}
	return res.([]string), nil
}

// SetIsMember checks whether member is present in a Redis Set.
func (s *Service) SetIsMember(ctx context.Context, key, member string) (bool, error) {
	if s == nil || s.client == nil {
		return false, nil
	}
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.SIsMember(ctx, key, member).Result()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			return false, nil
		}
		return false, fmt.Errorf("failed to check set membership: %w", err)
	}
	return res.(bool), nil
}

// HashSet stores a field on a Redis hash.
func (s *Service) HashSet(ctx context.Context, key, field, value string) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.HSet(ctx, key, field, value).Err()
	})
	if err != nil && err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		return nil
	}
	return err
}

// HashGet reads a field from a Redis hash. ok is false on miss.
func (s *Service) HashGet(ctx context.Context, key, field string) (value string, ok bool, err error) {
	if s == nil || s.client == nil {
		return "", false, nil
	}
	res, err := s.cb.Execute(func() (interface{}, error) {
		v, err := s.client.HGet(ctx, key, field).Result()
		if err == redis.Nil {
			return "", nil
		}
		return v, err
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			return "", false, nil
		}
		return "", false, err
	}
	v, _ := res.(string)
	return v, v != "", nil
}

// HashDel removes a field from a Redis hash.
func (s *Service) HashDel(ctx context.Context, key, field string) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.HDel(ctx, key, field).Err()
	})
	if err != nil && err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		return nil
	}
	return err
}

// HashGetAll returns every field/value pair of a Redis hash.
func (s *Service) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.HGetAll(ctx, key).Result()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			return nil, nil
		}
		return nil, err
	}
	return res.(map[string]string), nil
}

// Del removes a key outright.
func (s *Service) Del(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Del(ctx, key).Err()
	})
	if err != nil && err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		return nil
	}
	return err
}

// Keys returns every key matching a glob pattern. Used sparingly (room
// discovery scans); acceptable for the bounded room-set sizes this system targets.
func (s *Service) Keys(ctx context.Context, pattern string) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.Keys(ctx, pattern).Result()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			return nil, nil
		}
		return nil, err
	}
	return res.([]string), nil
}
