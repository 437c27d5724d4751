package notify

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

// AMQPConsumer feeds balance events published by other processes, such as
// the queue worker, into a local observer. Events carrying this process's
// own origin are skipped since they were delivered in process already.
type AMQPConsumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	msgs    <-chan amqp.Delivery

	origin string
	target Observer
	log    zerolog.Logger
}

func NewAMQPConsumer(origin string, target Observer, log zerolog.Logger) *AMQPConsumer {
	return &AMQPConsumer{origin: origin, target: target, log: log}
}

// DialAMQPConsumer binds a private, auto-deleted queue to the balance
// routing key of exchange.
func DialAMQPConsumer(uri, exchange, origin string, target Observer, log zerolog.Logger) (*AMQPConsumer, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	fail := func(err error) (*AMQPConsumer, error) {
		ch.Close()
		conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fail(err)
	}

	q, err := ch.QueueDeclare(
		"",    // name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fail(err)
	}

	if err := ch.QueueBind(q.Name, BalanceRoutingKey, exchange, false, nil); err != nil {
		return fail(err)
	}

	msgs, err := ch.Consume(
		q.Name, // queue
		"",     // consumer
		true,   // auto-ack
		true,   // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return fail(err)
	}

	c := NewAMQPConsumer(origin, target, log)
	c.conn = conn
	c.channel = ch
	c.msgs = msgs
	return c, nil
}

// Start consumes in the background until ctx is done or the connection closes.
func (c *AMQPConsumer) Start(ctx context.Context) {
	go c.Run(ctx, c.msgs)
}

func (c *AMQPConsumer) Run(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				c.log.Warn().Msg("balance event consumer stopped")
				return
			}
			c.handle(ctx, d)
		}
	}
}

func (c *AMQPConsumer) handle(ctx context.Context, d amqp.Delivery) {
	if c.origin != "" && d.AppId == c.origin {
		return
	}

	var ev BalanceEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		c.log.Warn().Err(err).Msg("dropping malformed balance event")
		return
	}
	if ev.UserID == "" {
		return
	}
	if err := c.target.Notify(ctx, ev); err != nil {
		c.log.Warn().Err(err).Str("user_id", ev.UserID).Msg("failed to forward balance event")
	}
}

func (c *AMQPConsumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
