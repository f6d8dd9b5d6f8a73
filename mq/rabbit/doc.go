package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"tripsync/mq/mq"
)

const (
	exchangeName     = "doc_events_exchange"
	routingKeyPrefix = "doc."
)

func routingKey(topic uuid.UUID) string {
	return routingKeyPrefix + topic.String()
}

type consumer struct {
	tag     string
	channel *amqp091.Channel
	out     chan mq.DocMessage
	done    chan struct{}
}

// rabbitDocMessageQueue implements mq.DocMessageQueue on a RabbitMQ topic exchange.
// Each subscriber gets its own exclusive auto-delete queue bound to its topic.
type rabbitDocMessageQueue struct {
	conn      *amqp091.Connection
	channel   *amqp091.Channel
	pubMu     sync.Mutex
	mu        sync.Mutex
	consumers map[uuid.UUID]*consumer
}

// NewRabbitDocMessageQueue creates a queue on conn and declares the exchange.
func NewRabbitDocMessageQueue(conn *amqp091.Connection) (mq.DocMessageQueue, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := DeclareExchange(ch, exchangeName); err != nil {
		ch.Close()
		return nil, err
	}
	return &rabbitDocMessageQueue{
		conn:      conn,
		channel:   ch,
		consumers: make(map[uuid.UUID]*consumer),
	}, nil
}

// Publish sends a DocMessage to the exchange under the topic of its path.
func (q *rabbitDocMessageQueue) Publish(msg mq.DocMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// amqp channels are not safe for concurrent publishing
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	err = q.channel.PublishWithContext(ctx,
		exchangeName,               // exchange
		routingKey(msg.GetTopic()), // routing key
		false,                      // mandatory
		false,                      // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Timestamp:   msg.UpdatedAt,
			Body:        body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Subscribe binds a private queue to topic and starts consuming it.
func (q *rabbitDocMessageQueue) Subscribe(topic uuid.UUID) (uuid.UUID, <-chan mq.DocMessage, error) {
	ch, err := q.conn.Channel()
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	queue, err := ch.QueueDeclare(
		"",    // name, server generated
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return uuid.Nil, nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(queue.Name, routingKey(topic), exchangeName, false, nil); err != nil {
		ch.Close()
		return uuid.Nil, nil, fmt.Errorf("failed to bind queue %s: %w", queue.Name, err)
	}

	subscriberID := uuid.New()
	tag := "sub-" + subscriberID.String()
	deliveries, err := ch.Consume(
		queue.Name, // queue
		tag,        // consumer
		true,       // auto-ack
		true,       // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		ch.Close()
		return uuid.Nil, nil, fmt.Errorf("failed to register a consumer: %w", err)
	}

	c := &consumer{tag: tag, channel: ch, out: make(chan mq.DocMessage, 16), done: make(chan struct{})}
	q.mu.Lock()
	q.consumers[subscriberID] = c
	q.mu.Unlock()

	go func() {
		defer close(c.out)
		for {
			select {
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var msg mq.DocMessage
				if err := json.Unmarshal(d.Body, &msg); err != nil {
					slog.Warn("failed to unmarshal DocMessage", "subscriber", subscriberID, "error", err)
					continue
				}
				select {
				case c.out <- msg:
				case <-time.After(time.Second):
					slog.Warn("timeout sending DocMessage to consumer, skipping", "subscriber", subscriberID)
				case <-c.done:
					return
				}
			case <-c.done:
				return
			}
		}
	}()

	return subscriberID, c.out, nil
}

// DeSubscribe cancels the consumer; its queue is deleted by the broker.
func (q *rabbitDocMessageQueue) DeSubscribe(subscriberID uuid.UUID) error {
	q.mu.Lock()
	c, ok := q.consumers[subscriberID]
	delete(q.consumers, subscriberID)
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("consumer with ID %s not found", subscriberID)
	}

	close(c.done)
	if err := c.channel.Cancel(c.tag, false); err != nil {
		slog.Debug("failed to cancel consumer", "subscriber", subscriberID, "error", err)
	}
	return c.channel.Close()
}

// Close cancels every consumer and closes the publishing channel and the connection.
func (q *rabbitDocMessageQueue) Close() {
	q.mu.Lock()
	ids := make([]uuid.UUID, 0, len(q.consumers))
	for id := range q.consumers {
		ids = append(ids, id)
	}
	q.mu.Unlock()
	for _, id := range ids {
		_ = q.DeSubscribe(id)
	}
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		q.conn.Close()
	}
}
