// Package eventbus publishes generation run events on NATS.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher sends an event payload on a subject
type Publisher interface {
	Publish(subject string, v any) error
}

// Bus is a NATS connection with an optional JetStream event store
type Bus struct {
	nc     *nats.Conn
	store  *JetStreamStore
	logger *zap.Logger
}

// Connect dials NATS. When JetStream is available, events are also
// appended to the run event stream.
func Connect(url string, logger *zap.Logger) (*Bus, error) {
	nc, err := nats.Connect(url,
		nats.Name("si-copilot"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(3),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	b := &Bus{nc: nc, logger: logger}
	js, err := nc.JetStream()
	if err != nil {
		logger.Warn("JetStream unavailable, publishing core NATS only", zap.Error(err))
		return b, nil
	}
	store, err := NewJetStreamStore(js, RunStream, RunSubjects)
	if err != nil {
		logger.Warn("failed to provision run event stream", zap.Error(err))
		return b, nil
	}
	b.store = store
	return b, nil
}

// Publish encodes v as JSON and publishes it on subject
func (b *Bus) Publish(subject string, v any) error {
	if b == nil || b.nc == nil {
		return nats.ErrConnectionClosed
	}
	if b.store != nil {
		return b.store.Append(subject, v)
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.nc.Publish(subject, payload)
}

// Subscribe delivers raw messages on subject to handler
func (b *Bus) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	if b == nil || b.nc == nil {
		return nil, nats.ErrConnectionClosed
	}
	return b.nc.Subscribe(subject, handler)
}

// Ping reports whether the connection is up
func (b *Bus) Ping(ctx context.Context) error {
	if b == nil || b.nc == nil || !b.nc.IsConnected() {
		return nats.ErrConnectionClosed
	}
	return b.nc.FlushWithContext(ctx)
}

// Store returns the JetStream event store, or nil without JetStream
func (b *Bus) Store() *JetStreamStore {
	return b.store
}

func (b *Bus) Close() {
	if b != nil && b.nc != nil {
		b.nc.Close()
	}
}
