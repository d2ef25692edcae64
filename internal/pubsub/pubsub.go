package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/meshwork-io/consortiumd/internal/observability"
	"github.com/meshwork-io/consortiumd/internal/wire"
)

var (
	ErrAddrRequired  = errors.New("pubsub: queue address required")
	ErrTopicRequired = errors.New("pubsub: queue topic required")
)

// Publisher delivers one envelope per call. No buffering or retry: a failed
// publish is surfaced to the caller and the event is not replayed.
type Publisher interface {
	Publish(ctx context.Context, env wire.Envelope) error
}

// StreamPublisher appends envelopes to one redis stream. The underlying
// client is safe for concurrent publishes from both classifiers.
type StreamPublisher struct {
	client  *redis.Client
	topic   string
	timeout time.Duration
}

type StreamConfig struct {
	Addr     string
	Password string
	DB       int
	Topic    string
	Timeout  time.Duration
}

func NewStreamPublisher(cfg StreamConfig) (*StreamPublisher, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, ErrAddrRequired
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, ErrTopicRequired
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &StreamPublisher{client: client, topic: cfg.Topic, timeout: cfg.Timeout}, nil
}

func (p *StreamPublisher) Publish(ctx context.Context, env wire.Envelope) error {
	body, err := wire.EncodeEnvelope(env)
	if err != nil {
		observability.RecordPublish(env.Type.String(), false)
		return fmt.Errorf("pubsub: encode envelope: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.topic,
		Values: map[string]interface{}{
			"message_id":   uuid.NewString(),
			"message_type": env.Type.String(),
			"body":         body,
		},
	}).Err()
	observability.RecordPublish(env.Type.String(), err == nil)
	if err != nil {
		return fmt.Errorf("pubsub: publish %s: %w", env.Type, err)
	}
	return nil
}

func (p *StreamPublisher) Close() error {
	return p.client.Close()
}
