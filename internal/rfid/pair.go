package rfid

import (
	"bytes"
	"log/slog"

	"github.com/catcierge/catcierge/internal/matcher"
)

// Match is the per-reader state: the latest tag data, whether it
// completed, and whether it is in the allowed set.
type Match struct {
	Triggered bool
	Data []byte
	Complete bool
	IsAllowed bool
}

// Pair drives an inner and an outer reader and fuses their completion
// order into a direction. Direction assignment is monotonic within a
// group: once set it is never rewritten.
type Pair struct {
	Inner, Outer *Reader
	InnerMatch Match
	OuterMatch Match
	Allowed [][]byte

	direction matcher.Direction
	innerFirst bool
	outerFirst bool
	anyTriggered bool
}

// NewPair wires the callbacks of both readers into the pair's own match
// bookkeeping and returns a ready-to-use Pair. Call Reset before each new
// match group.
func NewPair(inner, outer *Reader, allowed [][]byte) *Pair {
	p := &Pair{Inner: inner, Outer: outer, Allowed: allowed}
	inner.callback = p.onInner
	outer.callback = p.onOuter
	return p
}

// Reset clears per-group state so the next obstruction can start fresh.
func (p *Pair) Reset() {
	p.InnerMatch = Match{}
	p.OuterMatch = Match{}
	p.direction = matcher.DirectionUnknown
	p.innerFirst = false
	p.outerFirst = false
	p.anyTriggered = false
}

// Direction returns the direction fused from reader completion order so
// far. It is matcher.DirectionUnknown until one reader has triggered.
func (p *Pair) Direction() matcher.Direction {
	return p.direction
}

func (p *Pair) onInner(r *Reader, complete bool, data []byte) {
	p.onReply(&p.InnerMatch, true, complete, data)
}

func (p *Pair) onOuter(r *Reader, complete bool, data []byte) {
	p.onReply(&p.OuterMatch, false, complete, data)
}

// onReply implements the direction fusion rules:
// - a reader that already triggered ignores subsequent reads (noise
// immunity — a group's direction is never reversed);
// - the first reader to trigger fixes the animal's origin side, and
// fixes the group's direction as soon as the second reader triggers;
// - a match's stored data is only replaced by a longer complete payload.
func (p *Pair) onReply(m *Match, isInner bool, complete bool, data []byte) {
	if m.Triggered && len(data) > 0 && data[0] != '?' {
		return
	}
	if len(data) > 0 && data[0] == '?' {
		slog.Warn("rfid protocol error", "inner", isInner, "reply", string(data))
		return
	}

	if complete && len(data) > len(m.Data) {
		m.Data = append([]byte(nil), data...)
		m.IsAllowed = p.isAllowed(m.Data)
	}
	m.Complete = m.Complete || complete

	wasTriggered := m.Triggered
	m.Triggered = true

	if !wasTriggered {
		if !p.anyTriggered {
			p.anyTriggered = true
			p.innerFirst = isInner
			p.outerFirst = !isInner
		} else if p.direction == matcher.DirectionUnknown {
			// The other reader already triggered first: inner-first means the
			// animal came in, outer-first means it went out.
			if p.innerFirst {
				p.direction = matcher.DirectionIn
			} else {
				p.direction = matcher.DirectionOut
			}
		}
	}
}

func (p *Pair) isAllowed(tag []byte) bool {
	for _, a := range p.Allowed {
		if bytes.Equal(a, tag) {
			return true
		}
	}
	return false
}

// Poll services both readers' non-blocking fd-style queues. The main loop
// calls this once per iteration.
func (p *Pair) Poll() error {
	if err := p.Inner.Poll(); err != nil {
		return err
	}
	return p.Outer.Poll()
}

// BothDisallowed reports whether both readers have completed and neither
// saw an allowed tag — the veto condition 5 describes.
func (p *Pair) BothDisallowed() bool {
	return p.InnerMatch.Complete && p.OuterMatch.Complete &&
		!p.InnerMatch.IsAllowed && !p.OuterMatch.IsAllowed
}
