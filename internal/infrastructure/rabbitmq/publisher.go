package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const confirmWait = 300 * time.Millisecond

// Publisher delivers outbox messages to a topic exchange with publisher
// confirms and mandatory routing. It is driven by a single outbox worker
// goroutine and is not safe for concurrent use.
type Publisher struct {
	rabbitURL string
	exchange  string

	conn     *amqp.Connection
	ch       *amqp.Channel
	confirms <-chan amqp.Confirmation
	returns  <-chan amqp.Return
}

func NewPublisher(rabbitURL, exchange string) *Publisher {
	return &Publisher{
		rabbitURL: strings.TrimSpace(rabbitURL),
		exchange:  strings.TrimSpace(exchange),
	}
}

func (p *Publisher) Connect() error {
	conn, err := amqp.Dial(p.rabbitURL)
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}

	// Ensure exchange exists (idempotent)
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	// Publisher confirms + mandatory returns
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	p.conn = conn
	p.ch = ch
	p.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 100))
	p.returns = ch.NotifyReturn(make(chan amqp.Return, 100))
	return nil
}

// Publish sends one message and blocks until the broker outcome is known.
func (p *Publisher) Publish(ctx context.Context, routingKey string, body []byte, messageID, traceID string) error {
	// Drain stale notifications from a previous publish
DrainLoop:
	for {
		select {
		case <-p.returns:
			continue
		case <-p.confirms:
			continue
		default:
			break DrainLoop
		}
	}

	pub := amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		MessageId:     messageID,
		CorrelationId: traceID,
		AppId:         "registration-service",
	}

	// 1) transport publish
	if err := p.ch.PublishWithContext(ctx, p.exchange, routingKey, true, false, pub); err != nil {
		return fmt.Errorf("publish error: %w", err)
	}

	// 2) Wait for Confirm AND possible Return (mandatory)
	// Usually Return arrives BEFORE Confirm, and the broker still acks an
	// unroutable publish, so keep waiting for the confirm after a Return to
	// avoid it bleeding into the next publish.
	deadline := time.After(confirmWait * 2)
	var retErr error
	for {
		select {
		case ret := <-p.returns:
			retErr = fmt.Errorf("NO_ROUTE: code=%d text=%s exchange=%s rk=%s",
				ret.ReplyCode, ret.ReplyText, ret.Exchange, ret.RoutingKey)
		case c := <-p.confirms:
			if retErr != nil {
				return retErr
			}
			if !c.Ack {
				return fmt.Errorf("NACK: delivery_tag=%d", c.DeliveryTag)
			}
			return nil
		case <-deadline:
			if retErr != nil {
				return retErr
			}
			return errors.New("confirm/return timeout")
		}
	}
}

func (p *Publisher) Close() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
