package notification

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Dispatcher records published notifications in the Store. Delivery is at
// least once; Store.Save ignores ids it has already seen.
type Dispatcher struct {
	store Store
	log   zerolog.Logger
}

func NewDispatcher(store Store, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{store: store, log: logger.With().Str("component", "notification-dispatcher").Logger()}
}

// Handle validates and stores one notification.
func (d *Dispatcher) Handle(ctx context.Context, n Notification) error {
	if err := n.validate(); err != nil {
		return err
	}
	if n.Category == "" {
		n.Category = CategoryAppointment
	}
	if n.Type == "" {
		n.Type = TypeInfo
	}
	if err := d.store.Save(ctx, n); err != nil {
		return fmt.Errorf("save notification %s: %w", n.ID, err)
	}
	return nil
}

// RunBus drains the bus until it is closed or ctx is done. Messages still
// buffered when ctx ends are stored before it returns.
func (d *Dispatcher) RunBus(ctx context.Context, bus *Bus) {
	for {
		select {
		case <-ctx.Done():
			d.drain(ctx, bus)
			return
		case n, ok := <-bus.Messages():
			if !ok {
				return
			}
			d.handleBus(ctx, n)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context, bus *Bus) {
	for {
		select {
		case n, ok := <-bus.Messages():
			if !ok {
				return
			}
			d.handleBus(ctx, n)
		default:
			return
		}
	}
}

func (d *Dispatcher) handleBus(ctx context.Context, n Notification) {
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if err := d.Handle(ctx, n); err != nil {
		d.log.Error().Err(err).Str("notification_id", n.ID.String()).Msg("dispatch failed")
	}
}

// RunDeliveries consumes broker deliveries until the channel closes or ctx
// is done. Undecodable messages are rejected to the dead-letter queue;
// store failures are requeued.
func (d *Dispatcher) RunDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-deliveries:
			if !ok {
				return
			}
			d.handleDelivery(ctx, msg)
		}
	}
}

func (d *Dispatcher) handleDelivery(ctx context.Context, msg amqp.Delivery) {
	var n Notification
	if err := json.Unmarshal(msg.Body, &n); err != nil {
		d.log.Error().Err(err).Str("message_id", msg.MessageId).Msg("undecodable notification, dead-lettering")
		d.settle(msg.Nack(false, false))
		return
	}
	if err := n.validate(); err != nil {
		d.log.Error().Err(err).Str("message_id", msg.MessageId).Msg("invalid notification, dead-lettering")
		d.settle(msg.Nack(false, false))
		return
	}
	if err := d.Handle(ctx, n); err != nil {
		d.log.Warn().Err(err).Str("notification_id", n.ID.String()).Msg("store failed, requeueing")
		d.settle(msg.Nack(false, true))
		return
	}
	d.settle(msg.Ack(false))
}

func (d *Dispatcher) settle(err error) {
	if err != nil {
		d.log.Error().Err(err).Msg("settle delivery")
	}
}
