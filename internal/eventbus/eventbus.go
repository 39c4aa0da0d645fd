// Package eventbus mirrors stack-transition and invocation-completion
// notices onto an optional Redis pub/sub channel. It is never required
// for correctness — every operation works with no Redis configured —
// and a publish failure is logged, never returned to the caller.
package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/conorvenus/microstack/internal/config"
)

const channel = "microstack:events"

// Bus publishes fire-and-forget event notices. A nil *redis.Client
// makes every publish a no-op.
type Bus struct {
	client *redis.Client
	logger zerolog.Logger
}

// Connect builds a Bus from cfg.RedisURL. If RedisURL is empty, or the
// URL cannot be parsed, or the initial ping fails, Connect returns a
// Bus with no client — publishing becomes a no-op rather than a fatal
// startup error.
func Connect(cfg *config.Config, logger zerolog.Logger) *Bus {
	if cfg.RedisURL == "" {
		return &Bus{logger: logger}
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("invalid MICROSTACK_REDIS_URL — continuing without event mirror")
		return &Bus{logger: logger}
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis ping failed — continuing without event mirror")
		return &Bus{logger: logger}
	}

	logger.Info().Msg("redis event mirror connected")
	return &Bus{client: client, logger: logger}
}

// Notice is the JSON shape published on the channel.
type Notice struct {
	Kind      string `json:"kind"` // "stack-transition" | "invocation-completed"
	Name      string `json:"name"`
	Status    string `json:"status,omitempty"`
	Timestamp string `json:"timestamp"`
}

// PublishStackTransition mirrors a stack's current status.
func (b *Bus) PublishStackTransition(stackName, status string) {
	b.publish(Notice{Kind: "stack-transition", Name: stackName, Status: status, Timestamp: time.Now().UTC().Format(time.RFC3339)})
}

// PublishInvocationCompleted mirrors the completion of one invocation.
func (b *Bus) PublishInvocationCompleted(functionName, functionError string) {
	b.publish(Notice{Kind: "invocation-completed", Name: functionName, Status: functionError, Timestamp: time.Now().UTC().Format(time.RFC3339)})
}

func (b *Bus) publish(n Notice) {
	if b.client == nil {
		return
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		b.logger.Debug().Err(err).Msg("event mirror publish failed")
	}
}

// Close releases the underlying Redis connection, if any.
func (b *Bus) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}
