// Package nats broadcasts job status transitions on a NATS subject. Delivery
// is fire-and-forget: live subscribers see each event at most once, nothing
// is buffered or replayed, and publish failures never reach the pipeline.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nkuznetsov/docpipe/internal/core/domain"
)

const publishAttemptBudget = 2 * time.Second

type Notifier struct {
	conn    *nats.Conn
	subject string
}

// New wraps an existing connection; the notifier does not own it.
func New(conn *nats.Conn, subject string) *Notifier {
	return &Notifier{conn: conn, subject: subject}
}

func (n *Notifier) Publish(ctx context.Context, event domain.StatusEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}

	// Bounded attempt: a slow broker must not stall the worker.
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > publishAttemptBudget {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, publishAttemptBudget)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := n.conn.Publish(n.subject, payload); err != nil {
		return fmt.Errorf("publish status event: %w", err)
	}
	return nil
}

// Subscribe delivers live status events to handler until the returned stop
// function is called or ctx ends. Events published before the subscription
// are not seen.
func (n *Notifier) Subscribe(ctx context.Context, handler func(domain.StatusEvent)) (func(), error) {
	sub, err := n.conn.Subscribe(n.subject, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		var event domain.StatusEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return
		}
		handler(event)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe status events: %w", err)
	}
	if err := n.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush status subscription: %w", err)
	}

	return func() { _ = sub.Unsubscribe() }, nil
}
