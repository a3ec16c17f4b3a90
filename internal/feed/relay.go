package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	originHeader   = "x-feed-origin"
	routingPrefix  = "feed."
	outboundBuffer = 256
)

type relayMessage struct {
	Topic string `json:"topic"`
}

// AMQPRelay carries bus notifications between service instances over a topic exchange.
type AMQPRelay struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	queue    string
	exchange string
	origin   string
	bus      *Bus
	out      chan string
	logger   zerolog.Logger
}

// NewAMQPRelay declares the exchange and an exclusive queue bound to every feed topic,
// then registers itself as the bus forwarder.
func NewAMQPRelay(url, exchange, origin string, bus *Bus, logger zerolog.Logger) (*AMQPRelay, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, routingPrefix+"#", exchange, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	r := newRelay(exchange, origin, bus, logger)
	r.conn = conn
	r.ch = ch
	r.queue = q.Name
	bus.SetForwarder(r)
	return r, nil
}

func newRelay(exchange, origin string, bus *Bus, logger zerolog.Logger) *AMQPRelay {
	return &AMQPRelay{
		exchange: exchange,
		origin:   origin,
		bus:      bus,
		out:      make(chan string, outboundBuffer),
		logger:   logger.With().Str("component", "feed_relay").Logger(),
	}
}

// Forward queues topic for publication. It never blocks the notifier.
func (r *AMQPRelay) Forward(topic string) {
	select {
	case r.out <- topic:
	default:
		r.logger.Warn().Str("topic", topic).Str("room_id", RoomOf(topic)).Msg("relay buffer full, dropping notification")
	}
}

// Run publishes forwarded topics and delivers remote ones until ctx is done.
func (r *AMQPRelay) Run(ctx context.Context) error {
	deliveries, err := r.ch.Consume(r.queue, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case topic := <-r.out:
			if err := r.publish(ctx, topic); err != nil {
				r.logger.Error().Err(err).Str("topic", topic).Str("room_id", RoomOf(topic)).Msg("relay publish failed")
			}
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("relay delivery channel closed")
			}
			r.handle(d)
		}
	}
}

func (r *AMQPRelay) publish(ctx context.Context, topic string) error {
	body, err := json.Marshal(relayMessage{Topic: topic})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.ch.PublishWithContext(ctx, r.exchange, routingKey(topic), false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Headers:     amqp.Table{originHeader: r.origin},
		Body:        body,
	})
}

func (r *AMQPRelay) handle(d amqp.Delivery) {
	if origin, _ := d.Headers[originHeader].(string); origin == r.origin {
		return
	}
	var msg relayMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil || msg.Topic == "" {
		r.logger.Warn().Str("routing_key", d.RoutingKey).Msg("relay dropped malformed message")
		return
	}
	r.logger.Debug().Str("topic", msg.Topic).Str("room_id", RoomOf(msg.Topic)).Msg("remote change delivered")
	r.bus.Deliver(msg.Topic)
}

// Close releases the channel and connection.
func (r *AMQPRelay) Close() error {
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

func routingKey(topic string) string {
	return routingPrefix + strings.ReplaceAll(topic, "/", ".")
}
