package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/itohio/hydromon/pkg/config"
	"github.com/itohio/hydromon/pkg/sample"
)

// DefaultTimeout bounds one publish issued from a sample callback.
const DefaultTimeout = 500 * time.Millisecond

// Client is the subset of *redis.Client the publisher uses.
type Client interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// Publisher fans samples out over Redis pub/sub. Nothing is stored in Redis.
type Publisher struct {
	client  Client
	channel string
	timeout time.Duration
	log     logrus.FieldLogger
}

// Dial connects to the configured Redis server and verifies it with PING.
func Dial(ctx context.Context, cfg config.RedisConfig, log logrus.FieldLogger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	p := New(client, cfg, log)
	p.log.WithField("addr", cfg.Addr).Info("connected to redis")
	return p, nil
}

// New wraps an existing client.
func New(client Client, cfg config.RedisConfig, log logrus.FieldLogger) *Publisher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Publisher{
		client:  client,
		channel: cfg.Channel,
		timeout: DefaultTimeout,
		log:     log.WithField("component", "publish"),
	}
}

// Publish sends s as JSON on the channel.
func (p *Publisher) Publish(ctx context.Context, s sample.Sample) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal sample: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish sample: %w", err)
	}
	return nil
}

// OnSample returns a callback suitable for acquire.Scheduler.OnSample.
// Each publish is bounded by DefaultTimeout; errors are logged.
func (p *Publisher) OnSample(ctx context.Context) func(sample.Sample) {
	return func(s sample.Sample) {
		pctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		if err := p.Publish(pctx, s); err != nil {
			p.log.WithError(err).Warn("sample not published")
		}
	}
}

// Close closes the underlying client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
