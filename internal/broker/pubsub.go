// Package broker relays live messages between server instances over NATS.
// An instance that does not hold the receiver's connection publishes the
// message; every other instance delivers it if the receiver is connected there.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/johndosdos/dmchat/internal/model"
)

type envelope struct {
	Origin  string        `json:"origin"`
	Message model.Message `json:"message"`
}

// DeliverFunc hands a relayed message to the local gateway.
type DeliverFunc func(ctx context.Context, msg model.Message)

// Relay publishes and consumes relayed messages.
type Relay struct {
	nc     *nats.Conn
	origin string
}

// NewRelay returns a Relay identified as origin; messages it published
// itself are ignored on receipt.
func NewRelay(nc *nats.Conn, origin string) *Relay {
	return &Relay{nc: nc, origin: origin}
}

// Publish sends msg to the other instances.
func (r *Relay) Publish(ctx context.Context, msg model.Message) error {
	if r.nc == nil {
		return fmt.Errorf("nats connection is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p, err := json.Marshal(envelope{Origin: r.origin, Message: msg})
	if err != nil {
		return fmt.Errorf("could not encode payload to JSON: %w", err)
	}

	subject := Subject(msg.ReceiverID.String())
	if err := r.nc.Publish(subject, p); err != nil {
		return fmt.Errorf("failed to publish to [%s]: %w", subject, err)
	}
	return nil
}

// Subscribe consumes relayed messages until ctx is cancelled.
func (r *Relay) Subscribe(ctx context.Context, deliver DeliverFunc) error {
	if r.nc == nil {
		return fmt.Errorf("nats connection is nil")
	}

	sub, err := r.nc.Subscribe(SubjectDirect, func(msg *nats.Msg) {
		r.handle(ctx, msg.Data, deliver)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to [%s]: %w", SubjectDirect, err)
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			slog.Warn("couldn't drain relay subscription", "error", err)
		}
	}()

	return nil
}

func (r *Relay) handle(ctx context.Context, data []byte, deliver DeliverFunc) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.WarnContext(ctx, "could not decode relayed payload", "error", err)
		return
	}
	if env.Origin == r.origin {
		return
	}
	deliver(ctx, env.Message)
}
