package pubsub

import (
	"fmt"

	zmq "github.com/pebbe/zmq4"
)

// ZMQConfig matches the --zmq/--zmq_port/--zmq_iface/--zmq_transport CLI
// surface. There is no ZeroMQ usage anywhere in the example
// pack; zmq4 is named here as the ecosystem's standard CGo binding rather
// than grounded on a pack file (see DESIGN.md).
type ZMQConfig struct {
	Port int
	Iface string
	Transport string // "tcp", "ipc", ...
}

// ZMQPublisher publishes rendered templates on a ZeroMQ PUB socket, one
// multipart message per Publish call: topic frame, then payload frame, the
// conventional ZMQ pub/sub framing so subscribers can filter by topic
// prefix without parsing the payload.
type ZMQPublisher struct {
	sock *zmq.Socket
}

// NewZMQPublisher binds a PUB socket at cfg.Transport://cfg.Iface:cfg.Port.
func NewZMQPublisher(cfg ZMQConfig) (*ZMQPublisher, error) {
	sock, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, fmt.Errorf("pubsub: creating zmq PUB socket: %w", err)
	}
	transport := cfg.Transport
	if transport == "" {
		transport = "tcp"
	}
	endpoint := fmt.Sprintf("%s://%s:%d", transport, cfg.Iface, cfg.Port)
	if err := sock.Bind(endpoint); err != nil {
		sock.Close()
		return nil, fmt.Errorf("pubsub: binding zmq PUB socket to %q: %w", endpoint, err)
	}
	return &ZMQPublisher{sock: sock}, nil
}

// Publish implements event.Publisher.
func (z *ZMQPublisher) Publish(topic string, data []byte) error {
	if _, err := z.sock.SendMessage(topic, data); err != nil {
		return fmt.Errorf("pubsub: zmq publish on %q: %w", topic, err)
	}
	return nil
}

// Close releases the underlying socket.
func (z *ZMQPublisher) Close() error {
	return z.sock.Close()
}
