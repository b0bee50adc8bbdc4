// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Publisher publishes JSON payloads to Pub/Sub topics, one publisher handle per topic.
type Publisher struct {
	client       *pubsub.Client
	defaultTopic string
	ownsClient   bool
	logger       *zap.Logger

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// Option customizes a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l.Named("pubsub")
		}
	}
}

// New creates a Publisher on an existing client. An empty topic passed to
// Publish falls back to defaultTopic.
func New(client *pubsub.Client, defaultTopic string, opts ...Option) *Publisher {
	p := &Publisher{
		client:       client,
		defaultTopic: defaultTopic,
		logger:       zap.NewNop(),
		publishers:   make(map[string]*pubsub.Publisher),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Connect creates a client for projectID and a Publisher that owns it.
func Connect(ctx context.Context, projectID, defaultTopic string, clientOpts []option.ClientOption, opts ...Option) (*Publisher, error) {
	if projectID == "" {
		return nil, fmt.Errorf("pubsub.project_id is required")
	}
	client, err := pubsub.NewClient(ctx, projectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	p := New(client, defaultTopic, opts...)
	p.ownsClient = true
	return p, nil
}

// Publish marshals the payload to JSON, attaches the trace context and waits for the server ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.client == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	if topic == "" {
		topic = p.defaultTopic
	}
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	attrs := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, attrs)
	msg := &pubsub.Message{Data: data, Attributes: attrs}

	result := p.publisher(topic).Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message to %s: %w", topic, err)
	}
	return id, nil
}

func (p *Publisher) publisher(topic string) *pubsub.Publisher {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pub, ok := p.publishers[topic]; ok {
		return pub
	}
	pub := p.client.Publisher(topic)
	p.publishers[topic] = pub
	return pub
}

// Close flushes every topic publisher and closes the client when owned.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for topic, pub := range p.publishers {
		pub.Stop()
		delete(p.publishers, topic)
	}
	p.mu.Unlock()
	if !p.ownsClient {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("failed to close pubsub client: %w", err)
	}
	return nil
}
