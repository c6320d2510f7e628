package rabbitmq

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/neko-client/internal/chat"
)

// Publisher sends stream lifecycle events to a durable queue so other
// processes (desktop notifier, usage accounting) can follow chat activity.
type Publisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

type StreamEventMessage struct {
	ChatID        string    `json:"chat_id"`
	Status        string    `json:"status"`
	ContentLength int       `json:"content_length"`
	At            time.Time `json:"at"`
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "amqp dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "amqp channel")
	}

	// events nobody consumed within an hour are dropped
	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		amqp.Table{"x-message-ttl": int32(time.Hour / time.Millisecond)},
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrapf(err, "declare queue %s", queue)
	}

	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// PublishStreamEvent implements chat.EventSink.
func (p *Publisher) PublishStreamEvent(ctx context.Context, ev chat.LifecycleEvent) error {
	body, err := json.Marshal(StreamEventMessage{
		ChatID:        ev.ChatID,
		Status:        string(ev.Status),
		ContentLength: ev.ContentLength,
		At:            ev.At,
	})
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    ev.At,
			Type:         "stream." + string(ev.Status),
		},
	)
}

var _ chat.EventSink = (*Publisher)(nil)
