package bridge

import (
	"sync"
	"time"
)

// historyCap bounds each session's replay buffer.
const historyCap = 4000

// sessionStream is the hub's per-session state: the event sequence
// counter, the bounded replay history, and the live subscribers.
type sessionStream struct {
	seq     uint64
	history []UIEvent
	subs    map[chan UIEvent]struct{}
}

// Hub owns event ordering per session. It stamps every published event
// with the session's next sequence number, keeps a bounded history so
// reconnecting clients can resume with from_seq, and fans live events
// out to subscribers. Publishing never blocks: a subscriber that cannot
// keep up misses events and is expected to reconnect and replay.
type Hub struct {
	mu      sync.Mutex
	streams map[string]*sessionStream
}

func NewHub() *Hub {
	return &Hub{streams: map[string]*sessionStream{}}
}

// caller must hold h.mu.
func (h *Hub) streamLocked(sessionID string) *sessionStream {
	st, ok := h.streams[sessionID]
	if !ok {
		st = &sessionStream{subs: map[chan UIEvent]struct{}{}}
		h.streams[sessionID] = st
	}
	return st
}

// Publish assigns the session's next sequence number, records the event
// for replay, and delivers it to live subscribers.
func (h *Hub) Publish(sessionID, eventType string, payload map[string]any) UIEvent {
	h.mu.Lock()
	st := h.streamLocked(sessionID)
	st.seq++
	ev := UIEvent{
		SessionID: sessionID,
		Seq:       st.seq,
		TS:        time.Now().UTC().Format(time.RFC3339Nano),
		Type:      eventType,
		Payload:   payload,
	}
	st.history = append(st.history, ev)
	if len(st.history) > historyCap {
		st.history = st.history[len(st.history)-historyCap:]
	}
	targets := make([]chan UIEvent, 0, len(st.subs))
	for ch := range st.subs {
		targets = append(targets, ch)
	}
	h.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

func (h *Hub) Subscribe(sessionID string, buf int) (<-chan UIEvent, func()) {
	ch := make(chan UIEvent, buf)
	h.mu.Lock()
	h.streamLocked(sessionID).subs[ch] = struct{}{}
	h.mu.Unlock()
	unsub := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		st, ok := h.streams[sessionID]
		if !ok {
			return
		}
		if _, live := st.subs[ch]; live {
			delete(st.subs, ch)
			close(ch)
		}
	}
	return ch, unsub
}

// Replay returns the session's buffered events with Seq greater than
// fromSeq.
func (h *Hub) Replay(sessionID string, fromSeq uint64) []UIEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.streams[sessionID]
	if !ok {
		return nil
	}
	out := make([]UIEvent, 0, len(st.history))
	for _, ev := range st.history {
		if ev.Seq > fromSeq {
			out = append(out, ev)
		}
	}
	return out
}

// Drop discards the session's stream, history included, and closes its
// subscribers. Used when the session is deleted.
func (h *Hub) Drop(sessionID string) {
	h.mu.Lock()
	st, ok := h.streams[sessionID]
	if ok {
		delete(h.streams, sessionID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	for ch := range st.subs {
		close(ch)
	}
}
