// Package notify publishes love pings to a RabbitMQ queue consumed by the
// external push-delivery service.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/logging"
	"github.com/dmitrijs2005/couplesync/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
)

// LovePingMessage is the body of a queued notification.
type LovePingMessage struct {
	PingID      string    `json:"ping_id"`
	CoupleID    string    `json:"couple_id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Note        string    `json:"note,omitempty"`
	SentAt      time.Time `json:"sent_at"`
}

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

var dial = func(url string) (closer, channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

type closer interface{ Close() error }

// Publisher keeps one connection and reopens it after a failure.
type Publisher struct {
	url    string
	queue  string
	logger logging.Logger

	mu   sync.Mutex
	conn closer
	ch   channel
}

func NewPublisher(url, queue string, logger logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Publisher{url: url, queue: queue, logger: logger.With("module", "notify")}
}

// openChannel must be called with p.mu held.
func (p *Publisher) openChannel() (channel, error) {
	if p.ch != nil {
		return p.ch, nil
	}
	conn, ch, err := dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq queue declare: %w", err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

// reset must be called with p.mu held.
func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

// NotifyLovePing queues a persistent JSON message for recipientID.
func (p *Publisher) NotifyLovePing(ctx context.Context, recipientID string, rec models.Record) error {
	ping, err := models.DecodeLovePing(rec)
	if err != nil {
		return err
	}
	body, err := json.Marshal(LovePingMessage{
		PingID:      rec.ID,
		CoupleID:    rec.CoupleID,
		SenderID:    rec.AuthorID,
		RecipientID: recipientID,
		Note:        ping.Note,
		SentAt:      rec.ServerTime,
	})
	if err != nil {
		return fmt.Errorf("marshal love ping: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.openChannel()
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    rec.ID,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		p.reset()
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	p.logger.Debug(ctx, "love ping queued", "ping_id", rec.ID)
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}
