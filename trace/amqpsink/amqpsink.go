// Package amqpsink publishes trace entries to an AMQP queue as an external
// trace.Sink, grounded on the teacher's queue/rabbit.go dialer-interface
// pattern (injectable Dialer/Connection/Channel for testing) applied to
// trace.Entry instead of eve.FlowProcessMessage.
package amqpsink

import (
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"

	"rulesengine/trace"
)

// Connection abstracts an amqp.Connection.
type Connection interface {
	Channel() (Channel, error)
	Close() error
}

// Channel abstracts an amqp.Channel.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Dialer abstracts amqp.Dial for dependency injection in tests.
type Dialer interface {
	Dial(url string) (Connection, error)
}

type realConnection struct{ conn *amqp.Connection }

func (r *realConnection) Channel() (Channel, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}
func (r *realConnection) Close() error { return r.conn.Close() }

// RealDialer dials a live AMQP broker.
type RealDialer struct{}

func (RealDialer) Dial(url string) (Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &realConnection{conn: conn}, nil
}

// Sink publishes every trace.Entry to a durable AMQP queue as JSON.
type Sink struct {
	conn      Connection
	channel   Channel
	queueName string
}

// New connects via dialer, declares queueName as a durable queue, and
// returns a ready Sink.
func New(dialer Dialer, url, queueName string) (*Sink, error) {
	conn, err := dialer.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqpsink: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqpsink: channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqpsink: queue declare: %w", err)
	}
	return &Sink{conn: conn, channel: ch, queueName: queueName}, nil
}

// Publish implements trace.Sink. Marshal/publish errors are swallowed: a
// broken trace export must never affect rule dispatch.
func (s *Sink) Publish(e trace.Entry) {
	body, err := json.Marshal(e)
	if err != nil {
		return
	}
	_ = s.channel.Publish("", s.queueName, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Close releases the channel and connection.
func (s *Sink) Close() error {
	if s.channel != nil {
		s.channel.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
