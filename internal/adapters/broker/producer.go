package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"pandaconnect/internal/domain/event"
)

// DefaultExchange is the topic exchange change notifications are published to.
const DefaultExchange = "pandaconnect.events"

// ErrProducerClosed is returned by Publish after Close.
var ErrProducerClosed = errors.New("amqp producer closed")

// Message is the JSON body of a change notification. Routing key is Name.
type Message struct {
	Name       string      `json:"name"`
	Event      event.Event `json:"event"`
	OccurredAt time.Time   `json:"occurredAt"`
}

// publisher is the part of *amqp.Channel the producer uses.
type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// dialFunc opens a channel with the exchange declared and returns it with a func that closes the connection.
type dialFunc func() (publisher, func(), error)

// Producer publishes event changes to RabbitMQ. A dropped connection is redialled on the next Publish.
type Producer struct {
	connStr  string
	exchange string
	now      func() time.Time
	dial     dialFunc

	mu        sync.Mutex
	channel   publisher
	closeConn func()
	closed    bool
}

// NewProducer creates a producer for the given AMQP DSN. Call Open before Publish.
func NewProducer(connStr, exchange string) *Producer {
	if exchange == "" {
		exchange = DefaultExchange
	}
	p := &Producer{connStr: connStr, exchange: exchange, now: time.Now}
	p.dial = p.dialAMQP
	return p
}

// Open dials the broker and declares the exchange.
// PRE: connStr is non-empty
// POST: producer is ready to publish
func (p *Producer) Open() error {
	if p.connStr == "" {
		return fmt.Errorf("amqp connection string required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectLocked()
}

func (p *Producer) dialAMQP() (publisher, func(), error) {
	conn, err := amqp.Dial(p.connStr)
	if err != nil {
		return nil, nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("amqp declare %s: %w", p.exchange, err)
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if amqpErr, ok := <-closed; ok && amqpErr != nil {
			slog.Warn("amqp_connection_lost", "exchange", p.exchange, "error", amqpErr.Error())
		}
		p.invalidate(ch)
	}()
	return ch, func() { conn.Close() }, nil
}

func (p *Producer) connectLocked() error {
	ch, closeConn, err := p.dial()
	if err != nil {
		return err
	}
	p.channel, p.closeConn = ch, closeConn
	slog.Info("amqp_connected", "exchange", p.exchange)
	return nil
}

func (p *Producer) dropLocked() {
	if p.closeConn != nil {
		p.closeConn()
	}
	p.channel, p.closeConn = nil, nil
}

// invalidate forgets ch if it is still the live channel, so the next Publish redials.
func (p *Producer) invalidate(ch publisher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel == ch {
		p.channel, p.closeConn = nil, nil
	}
}

// Close releases the channel and connection. Publish fails afterwards.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.dropLocked()
}

// Publish sends one change notification with routing key name. When the connection has
// dropped it redials once before giving up.
// PRE: Open was called
func (p *Producer) Publish(ctx context.Context, name string, e event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(Message{Name: name, Event: e, OccurredAt: p.now().UTC()})
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.now(),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrProducerClosed
	}
	if p.channel == nil {
		if err := p.connectLocked(); err != nil {
			return fmt.Errorf("amqp reconnect: %w", err)
		}
	}
	err = p.channel.Publish(p.exchange, name, false, false, msg)
	if errors.Is(err, amqp.ErrClosed) {
		slog.Warn("amqp_reconnecting", "exchange", p.exchange, "name", name)
		p.dropLocked()
		if err := p.connectLocked(); err != nil {
			return fmt.Errorf("amqp reconnect: %w", err)
		}
		err = p.channel.Publish(p.exchange, name, false, false, msg)
	}
	return err
}

// NoopPublisher discards notifications. Used when no broker is configured.
type NoopPublisher struct{}

// Publish implements the publisher contract.
func (NoopPublisher) Publish(_ context.Context, name string, e event.Event) error {
	slog.Debug("noop_publish", "name", name, "event_id", e.ID)
	return nil
}
