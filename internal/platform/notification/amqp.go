package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ---------------------------------------------------------------------------
// RabbitMQ transport
// ---------------------------------------------------------------------------

const contentTypeJSON = "application/json"

// DeadLetterQueue names the queue receiving rejected deliveries of queue.
func DeadLetterQueue(queue string) string { return queue + ".dlq" }

type queueDeclarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
}

// DeclareQueues declares the durable work queue and its dead-letter queue.
func DeclareQueues(ch queueDeclarer, queue string) error {
	dlq := DeadLetterQueue(queue)
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", dlq, err)
	}
	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return nil
}

// confirmation resolves to the broker's ack or nack of one publish.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

type publishChannel interface {
	PublishConfirmed(ctx context.Context, key string, msg amqp.Publishing) (confirmation, error)
}

// confirmChannel adapts a confirm-mode channel so every publish carries its
// own deferred confirmation.
type confirmChannel struct{ ch *amqp.Channel }

func (c confirmChannel) PublishConfirmed(ctx context.Context, key string, msg amqp.Publishing) (confirmation, error) {
	dc, err := c.ch.PublishWithDeferredConfirmWithContext(ctx, "", key, false, false, msg)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, errors.New("channel is not in confirm mode")
	}
	return dc, nil
}

// ErrNotConfirmed is returned when the broker nacks a published message.
var ErrNotConfirmed = errors.New("message not confirmed by broker")

// AMQPPublisher publishes persistent JSON messages and waits for the broker
// confirm of each one.
type AMQPPublisher struct {
	ch    publishChannel
	queue string
	close func() error
}

// NewAMQPPublisher opens a confirm-mode channel on conn and declares queue.
func NewAMQPPublisher(conn *amqp.Connection, queue string) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := DeclareQueues(ch, queue); err != nil {
		ch.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	return &AMQPPublisher{
		ch:    confirmChannel{ch: ch},
		queue: queue,
		close: ch.Close,
	}, nil
}

// Publish returns nil only once the broker has acked this very message.
func (p *AMQPPublisher) Publish(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    n.ID.String(),
		Timestamp:    n.CreatedAt,
		Type:         n.Category,
		Body:         body,
	}

	confirm, err := p.ch.PublishConfirmed(ctx, p.queue, msg)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.queue, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.queue, err)
	}
	if !acked {
		return ErrNotConfirmed
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.close == nil {
		return nil
	}
	return p.close()
}

// Consume starts a manual-ack consumer on queue with the given prefetch.
func Consume(ch *amqp.Channel, queue, consumer string, prefetch int) (<-chan amqp.Delivery, error) {
	if err := DeclareQueues(ch, queue); err != nil {
		return nil, err
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(queue, consumer, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}
	return deliveries, nil
}
