package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultExchange = "fixdesk.events"

const (
	dialTimeout = time.Second
	redialPause = 5 * time.Second
)

// ErrBrokerUnavailable wraps a failed dial. Until redialPause has passed,
// Publish returns it without dialing again.
var ErrBrokerUnavailable = errors.New("amqp broker unavailable")

// AMQPPublisher sends events to a durable topic exchange, routed by event
// type. The connection is reopened on demand if the broker dropped it.
type AMQPPublisher struct {
	url      string
	exchange string

	mu          sync.Mutex
	conn        *amqp.Connection
	redialAfter time.Time
	now         func() time.Time
}

func NewAMQPPublisher(url string, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	p := &AMQPPublisher{url: url, exchange: exchange, now: time.Now}

	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channelLocked()
	if err != nil {
		return nil, err
	}
	defer func() { _ = ch.Close() }()
	if err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	); err != nil {
		_ = p.conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return p, nil
}

func (p *AMQPPublisher) channelLocked() (*amqp.Channel, error) {
	if p.conn == nil || p.conn.IsClosed() {
		if p.now().Before(p.redialAfter) {
			return nil, ErrBrokerUnavailable
		}
		conn, err := amqp.DialConfig(p.url, amqp.Config{
			Heartbeat: 10 * time.Second,
			Locale:    "en_US",
			Dial:      amqp.DefaultDial(dialTimeout),
		})
		if err != nil {
			p.redialAfter = p.now().Add(redialPause)
			log.Printf("[events] dial failed: %v", err)
			return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
		}
		p.conn = conn
	}
	ch, err := p.conn.Channel()
	if err != nil {
		log.Printf("[events] channel open failed: %v", err)
		return nil, err
	}
	return ch, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	ch, err := p.channelLocked()
	p.mu.Unlock()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	return ch.PublishWithContext(ctx,
		p.exchange,
		event.Type,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID,
			Timestamp:    event.OccurredAt,
			Type:         event.Type,
			Body:         body,
		},
	)
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Close()
}
