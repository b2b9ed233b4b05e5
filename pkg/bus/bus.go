// Package bus wraps a NATS JetStream connection for durable job delivery.
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

var errNilBus = errors.New("nil bus")

// DefaultAckWait is how long JetStream waits for an ack before redelivering.
const DefaultAckWait = 2 * time.Minute

// Bus holds a NATS connection and its JetStream context.
type Bus struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	ackWait time.Duration
}

// New connects to url and opens JetStream.
func New(url string, opts ...nats.Option) (*Bus, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &Bus{conn: nc, js: js, ackWait: DefaultAckWait}, nil
}

// SetAckWait overrides the consumer ack wait. Non-positive values keep the
// default. An existing durable created with another ack wait must be
// removed before Pull can bind to it.
func (b *Bus) SetAckWait(d time.Duration) {
	if b == nil || d <= 0 {
		return
	}
	b.ackWait = d
}

// EnsureStream creates the stream when it does not exist yet.
func (b *Bus) EnsureStream(name string, subjects ...string) error {
	if b == nil {
		return errNilBus
	}
	if _, err := b.js.StreamInfo(name); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", name, err)
	}
	_, err := b.js.AddStream(&nats.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("add stream %s: %w", name, err)
	}
	return nil
}

// Close drains the connection.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// Publish publishes data to subj and waits for the JetStream ack.
func (b *Bus) Publish(ctx context.Context, subj string, data []byte, headers map[string]string) error {
	if b == nil {
		return errNilBus
	}
	msg := nats.NewMsg(subj)
	msg.Data = data
	for k, v := range headers {
		msg.Header.Set(k, v)
	}
	_, err := b.js.PublishMsg(msg, nats.Context(ctx))
	return err
}

// Pull fetches messages for a durable pull consumer bound to subj and calls
// fn for each. A nil return acks the message, an error naks it. While fn
// runs the message is marked in progress so handlers that retry with
// backoff are not redelivered to another worker. Pull blocks until ctx is
// done; several Pull calls may share the same durable.
func (b *Bus) Pull(ctx context.Context, subj, durable string, fn func(ctx context.Context, data []byte) error) error {
	if b == nil {
		return errNilBus
	}
	if fn == nil {
		return errors.New("nil handler")
	}

	sub, err := b.js.PullSubscribe(subj, durable, nats.ManualAck(), nats.AckExplicit(), nats.AckWait(b.ackWait))
	if err != nil {
		return fmt.Errorf("pull subscribe %s: %w", subj, err)
	}
	defer sub.Unsubscribe() //nolint:errcheck

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		msgs, err := sub.Fetch(1, nats.Context(fetchCtx))
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("fetch %s: %w", subj, err)
		}
		for _, msg := range msgs {
			stop := keepAlive(ctx, heartbeat(b.ackWait), func() error { return msg.InProgress() })
			err := fn(ctx, msg.Data)
			stop()
			if err != nil {
				_ = msg.Nak()
				continue
			}
			_ = msg.Ack()
		}
	}
}

// heartbeat is how often an in-flight message is touched. Three touches
// fit in one ack wait so a single lost one does not trigger redelivery.
func heartbeat(ackWait time.Duration) time.Duration {
	if ackWait <= 0 {
		ackWait = DefaultAckWait
	}
	return ackWait / 3
}

// keepAlive calls touch every interval until stop is called or ctx is done.
// stop waits for the ticker goroutine to exit.
func keepAlive(ctx context.Context, every time.Duration, touch func() error) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_ = touch()
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
