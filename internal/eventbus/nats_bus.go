package eventbus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// natsConnection is the subset of *nats.Conn the bus needs, so tests can
// substitute a fake without a live NATS server — mirrors
// dpolishuk-yolo-runner/internal/distributed/nats_bus.go's
// natsBusConnection seam.
type natsConnection interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (natsSubscription, error)
	Close()
}

type natsSubscription interface {
	Unsubscribe() error
}

// realNATSConn adapts *nats.Conn to natsConnection.
type realNATSConn struct{ conn *nats.Conn }

func (r realNATSConn) Publish(subject string, data []byte) error { return r.conn.Publish(subject, data) }
func (r realNATSConn) Subscribe(subject string, cb nats.MsgHandler) (natsSubscription, error) {
	return r.conn.Subscribe(subject, cb)
}
func (r realNATSConn) Close() { r.conn.Close() }

// NATSBus publishes and subscribes over a NATS connection.
type NATSBus struct {
	conn natsConnection
}

// DialNATS connects to a NATS server at url.
func DialNATS(url string) (*NATSBus, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("eventbus: dial nats: %w", err)
	}
	return &NATSBus{conn: realNATSConn{conn}}, nil
}

func (b *NATSBus) Publish(subject string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("eventbus: marshal: %w", err)
	}
	return b.conn.Publish(subject, raw)
}

func (b *NATSBus) Subscribe(subject string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 64)
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		select {
		case ch <- msg.Data:
		default:
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("eventbus: subscribe %s: %w", subject, err)
	}
	cancel := func() {
		_ = sub.Unsubscribe()
		close(ch)
	}
	return ch, cancel, nil
}

func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}
