// Package notify implements the "wake the external spool-retry daemon"
// signal the event loop sends on every tick (spec.md §4.8 "call the
// external spool_drain to let the spool retry drainer run"). The original
// daemon calls a function in the same process image; this daemon models it
// as a pluggable Drainer so a deployment can instead publish a message for
// a separate spool-retry process to consume.
package notify

import (
	"context"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// Drainer is notified once per daemon tick so an external spool-retry
// process can wake up and attempt redelivery of spooled records.
type Drainer interface {
	Drain(ctx context.Context) error
}

// NoopDrainer satisfies Drainer without sending anything, for deployments
// that run without a separate spool-retry process.
type NoopDrainer struct{}

// Drain is a no-op.
func (NoopDrainer) Drain(ctx context.Context) error { return nil }

// NATSDrainer publishes a "drain" message to subject on every tick,
// for deployments running the spool-retry drainer as a separate process
// subscribed to subject.
type NATSDrainer struct {
	conn    *nats.Conn
	subject string
}

// NewNATSDrainer connects to url and returns a Drainer that publishes to
// subject. The connection is kept open for the daemon's lifetime.
func NewNATSDrainer(url, subject string) (*NATSDrainer, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("notify: nats disconnected: %v", err)
			}
		}),
	)
	if err != nil {
		return nil, err
	}
	return &NATSDrainer{conn: conn, subject: subject}, nil
}

// Drain publishes a single message with payload "drain" to the configured
// subject.
func (d *NATSDrainer) Drain(ctx context.Context) error {
	return d.conn.Publish(d.subject, []byte("drain"))
}

// Close closes the underlying NATS connection without draining it first.
func (d *NATSDrainer) Close() {
	d.conn.Close()
}
