// Package ratelimit throttles connection attempts and per-user message traffic
// using Redis when Yummy runs stateless, or an in-memory store otherwise.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/yummyhq/yummy/internal/v1/logging"
	"github.com/yummyhq/yummy/internal/v1/metrics"
)

const (
	defaultWSConnectIPRate = "100-M"
	defaultMessageUserRate = "120-M"
)

// Limiter throttles WebSocket connection attempts (per IP) and room message
// traffic (per user).
type Limiter struct {
	wsConnectIP *limiter.Limiter
	messageUser *limiter.Limiter
}

// New builds a Limiter. When redisClient is non-nil, limits are tracked in
// Redis so every instance shares the same counters; otherwise an in-memory
// store is used (single instance only).
func New(redisClient *redis.Client) (*Limiter, error) {
	ipRate, err := limiter.NewRateFromFormatted(defaultWSConnectIPRate)
	if err != nil {
		return nil, fmt.Errorf("invalid ws connect rate: %w", err)
	}
	userRate, err := limiter.NewRateFromFormatted(defaultMessageUserRate)
	if err != nil {
		return nil, fmt.Errorf("invalid message rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "yummy:limiter:"})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis limiter store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Info(context.Background(), "rate limiter using in-memory store")
	}

	return &Limiter{
		wsConnectIP: limiter.New(store, ipRate),
		messageUser: limiter.New(store, userRate),
	}, nil
}

// AllowConnect checks whether a new WebSocket connection from remoteIP is
// permitted, writing a 429 response and returning false if not.
func (l *Limiter) AllowConnect(w http.ResponseWriter, ctx context.Context, remoteIP string) bool {
	lc, err := l.wsConnectIP.Get(ctx, remoteIP)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed for connect check")
		return true // fail open
	}
	if lc.Reached {
		metrics.RateLimitExceeded.WithLabelValues("ws_connect", "ip").Inc()
		w.Header().Set("Retry-After", strconv.FormatInt(lc.Reset, 10))
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return false
	}
	metrics.RateLimitRequests.WithLabelValues("ws_connect").Inc()
	return true
}

// AllowMessage checks whether userID may send another MessageToRoom/Play
// event right now.
func (l *Limiter) AllowMessage(ctx context.Context, userID string) bool {
	lc, err := l.messageUser.Get(ctx, userID)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed for message check")
		return true // fail open
	}
	if lc.Reached {
		metrics.RateLimitExceeded.WithLabelValues("message_to_room", "user").Inc()
		return false
	}
	metrics.RateLimitRequests.WithLabelValues("message_to_room").Inc()
	return true
}
