package pubsub

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/maruel/interrupt"
	"golang.org/x/net/websocket"
)

// message is one queued (topic, payload) pair waiting to be broadcast.
type message struct {
	topic string
	data  []byte
}

const defaultBacklog = 32

// WSHub is a broadcast-only websocket hub: every template published
// through it is fanned out to every currently connected viewer, replaying
// a bounded backlog to newly-connected ones. It is the transport the
// optional local status page (statusweb package) subscribes to, adapted
// from lepton's WebServer/stream pair in cmd/lepton/server.go, generalized
// from a single fixed image ring buffer to an arbitrary topic/payload
// stream.
type WSHub struct {
	cond    sync.Cond
	backlog int
	history []message
	dropped int // count of messages trimmed off the front of history so far
	closed  bool
}

// NewWSHub returns a ready-to-use hub that replays up to backlog recent
// messages to each newly-connected viewer. backlog <= 0 uses
// defaultBacklog.
func NewWSHub(backlog int) *WSHub {
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	h := &WSHub{cond: *sync.NewCond(&sync.Mutex{}), backlog: backlog}
	go func() {
		<-interrupt.Channel
		h.cond.L.Lock()
		h.closed = true
		h.cond.Broadcast()
		h.cond.L.Unlock()
	}()
	return h
}

// Publish implements event.Publisher.
func (h *WSHub) Publish(topic string, data []byte) error {
	h.cond.L.Lock()
	defer h.cond.L.Unlock()
	h.history = append(h.history, message{topic: topic, data: append([]byte(nil), data...)})
	if over := len(h.history) - h.backlog; over > 0 {
		h.history = h.history[over:]
		h.dropped += over
	}
	h.cond.Broadcast()
	return nil
}

// Handler returns an http.Handler suitable for mux.Handle("/stream", ...),
// streaming every publish as a newline-delimited "topic\n<payload>" frame.
func (h *WSHub) Handler() http.Handler {
	return websocket.Handler(h.stream)
}

func (h *WSHub) stream(conn *websocket.Conn) {
	slog.Info("status viewer connected", "origin", conn.Config().Origin)
	defer conn.Close()

	h.cond.L.Lock()
	defer h.cond.L.Unlock()
	sent := h.dropped + len(h.history) // total index of the next unseen message

	var err error
	for !h.closed && err == nil {
		for ; !h.closed && err == nil && sent < h.dropped+len(h.history); sent++ {
			m := h.history[sent-h.dropped]
			h.cond.L.Unlock()
			_, err = conn.Write(append([]byte(m.topic+"\n"), m.data...))
			h.cond.L.Lock()
		}
		if h.closed || err != nil {
			break
		}
		h.cond.Wait()
	}
	if err != nil {
		slog.Info("status viewer disconnected", "origin", conn.Config().Origin, "err", err)
	}
}
