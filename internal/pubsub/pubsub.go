// Package pubsub implements the two ways catcierge hands a rendered event
// template to the outside world: a broadcast websocket hub for the local
// status viewer, and an optional ZeroMQ PUB socket for the --zmq CLI
// surface. Both satisfy event.Publisher.
package pubsub

// Publisher publishes a message on a topic. It matches
// internal/event.Publisher's shape exactly; it's redeclared here rather
// than imported so pubsub has no dependency on the event package.
type Publisher interface {
	Publish(topic string, data []byte) error
}

// Multi fans a single Publish call out to every configured publisher,
// stopping at the first error.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(topic string, data []byte) error {
	for _, p := range m {
		if err := p.Publish(topic, data); err != nil {
			return err
		}
	}
	return nil
}
