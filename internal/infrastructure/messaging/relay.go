package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/shared"
	"github.com/Jose-Baigorria/tracking-carrera/internal/infrastructure/persistence/redis"
	"github.com/Jose-Baigorria/tracking-carrera/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDIS RELAY
// ══════════════════════════════════════════════════════════════════════════════

// Publisher publishes a JSON-encodable message on a channel. *redis.Cache
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// RedisRelay forwards every local event to pubsub:<event type> so other
// processes can observe unlocks and evaluation summaries.
type RedisRelay struct {
	publisher Publisher
	timeout   time.Duration
	log       *logger.Logger
}

// NewRedisRelay creates a relay. A non-positive timeout uses two seconds.
func NewRedisRelay(publisher Publisher, timeout time.Duration, log *logger.Logger) *RedisRelay {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &RedisRelay{
		publisher: publisher,
		timeout:   timeout,
		log:       log.With(logger.Component("redis_relay")),
	}
}

// Attach subscribes the relay to every event on bus.
func (r *RedisRelay) Attach(bus shared.EventSubscriber) error {
	return bus.SubscribeAll(r.Handle)
}

// Handle implements shared.EventHandler.
func (r *RedisRelay) Handle(event shared.Event) error {
	env, err := shared.NewEventEnvelope(uuid.NewString(), event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	channel := redis.PubSubChannel(string(event.EventType()))
	if err := r.publisher.Publish(ctx, channel, env); err != nil {
		return shared.WrapError("relay", "Publish", shared.ErrServiceUnavailable, "cannot publish to "+channel, err)
	}

	r.log.Debug("event relayed",
		logger.EventType(string(event.EventType())),
		logger.UserID(event.AggregateID()),
	)
	return nil
}
