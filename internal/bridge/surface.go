package bridge

// A UIEvent is one rendering instruction for whatever front end is
// watching the session: a transient status line, a transcript entry,
// an error banner, or a send-button toggle. Seq is monotonic per
// session so a reconnecting client can resume from where it left off.
type UIEvent struct {
	SessionID string         `json:"session_id"`
	Seq       uint64         `json:"seq"`
	TS        string         `json:"ts"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
}

const (
	EventStatusApply  = "status_apply"
	EventStatusRemove = "status_remove"
	EventAmbient      = "ambient"
	EventTranscript   = "transcript"
	EventError        = "error"
	EventSendState    = "send_state"
)

// wsSurface translates surface calls into published UIEvents. Ordering,
// replay, and fan-out live in the hub; this type only names the event
// shapes.
type wsSurface struct {
	sessionID string
	hub       *Hub
}

func newWSSurface(sessionID string, hub *Hub) *wsSurface {
	return &wsSurface{sessionID: sessionID, hub: hub}
}

func (s *wsSurface) SetStatus(text string, healthy bool) {
	s.hub.Publish(s.sessionID, EventAmbient, map[string]any{"text": text, "healthy": healthy})
}

func (s *wsSurface) ShowError(text string) {
	s.hub.Publish(s.sessionID, EventError, map[string]any{"message": text})
}

func (s *wsSurface) AppendTranscriptEntry(role, content string) {
	s.hub.Publish(s.sessionID, EventTranscript, map[string]any{"role": role, "content": content})
}

func (s *wsSurface) SetSendEnabled(enabled bool) {
	s.hub.Publish(s.sessionID, EventSendState, map[string]any{"enabled": enabled})
}

func (s *wsSurface) ApplyStatus(id, text string) {
	s.hub.Publish(s.sessionID, EventStatusApply, map[string]any{"id": id, "text": text})
}

func (s *wsSurface) RemoveStatus(id string) {
	s.hub.Publish(s.sessionID, EventStatusRemove, map[string]any{"id": id})
}
