// Package scheduler moves continuation triggers between batches: it
// publishes them to NATS and runs the worker that hands them back to the
// engine. A small delay between batches keeps the mail API polling honest.
package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectContinue carries continuation triggers for running jobs.
const SubjectContinue = "jobs.continue"

// Bus is a thin JSON wrapper over a NATS connection.
type Bus struct {
	nc *nats.Conn
}

// ConnectBus dials NATS with unlimited reconnects.
func ConnectBus(url string) (*Bus, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Bus{nc: nc}, nil
}

// Close drains the connection, letting in-flight handlers finish.
func (b *Bus) Close() {
	if b.nc != nil {
		_ = b.nc.Drain()
	}
}

// Ping reports whether the connection is currently up.
func (b *Bus) Ping() error {
	if !b.nc.IsConnected() {
		return nats.ErrConnectionClosed
	}
	return nil
}

// PublishJSON marshals v and publishes it on subject.
func (b *Bus) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.nc.Publish(subject, data)
}

// SubscribeJSON subscribes to subject, invoking handler with a bounded
// context per message.
func (b *Bus) SubscribeJSON(subject string, handler func(ctx context.Context, data []byte)) (*nats.Subscription, error) {
	return b.nc.Subscribe(subject, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		handler(ctx, msg.Data)
	})
}
