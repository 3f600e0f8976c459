package chat

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"sahaay/internal/events"
	"sahaay/internal/metrics"
	"sahaay/internal/status"
	"sahaay/internal/stream"
)

const (
	statusConnected = "Connected to agent"
	statusReady     = "Ready"
)

// dispatcher routes the frames of a single request. A malformed frame is
// logged and dropped; the stream keeps going. Frames are handled strictly in
// arrival order.
type dispatcher struct {
	session   *Session
	indicator string
	queue     *status.Queue
	ui        Surface
	log       zerolog.Logger

	terminal bool
}

func newDispatcher(s *Session, indicator string) *dispatcher {
	return &dispatcher{
		session:   s,
		indicator: indicator,
		queue:     s.queue,
		ui:        s.ui,
		log:       s.log.With().Str("indicator", indicator).Logger(),
	}
}

func (d *dispatcher) Dispatch(f stream.Frame) error {
	ev, err := events.Parse(f)
	if err != nil {
		metrics.MalformedPayloads.Inc()
		d.log.Warn().Err(err).Str("event", f.Event).Msg("dropping malformed frame")
		return nil
	}
	metrics.EventsDispatched.WithLabelValues(ev.Type()).Inc()

	switch ev := ev.(type) {
	case events.Connected:
		d.queue.Enqueue(d.indicator, statusConnected)
	case events.Thinking:
		d.queue.Enqueue(d.indicator, ev.Status)
		d.ui.SetStatus(ev.Status, true)
	case events.Tool:
		d.queue.Enqueue(d.indicator, fmt.Sprintf("%s (%d/%d)", ev.DisplayName, ev.ToolCount, ev.MaxTools))
		d.ui.SetStatus(ev.DisplayName, true)
	case events.Done:
		d.terminal = true
		d.ui.RemoveStatus(d.indicator)
		if ev.Response != "" {
			d.session.completeTurn(ev)
		}
		d.ui.SetStatus(statusReady, true)
	case events.Error:
		d.terminal = true
		d.ui.RemoveStatus(d.indicator)
		d.ui.ShowError(ev.Message)
		d.log.Warn().Str("kind", ev.Kind).Str("message", ev.Message).Msg("agent reported error")
	case events.Cancelled:
		d.terminal = true
		d.ui.RemoveStatus(d.indicator)
		d.log.Debug().Msg("agent cancelled the request")
	case events.Unknown:
		d.log.Debug().Str("event", ev.Tag).Msg("ignoring unrecognized event")
	}
	return nil
}

// completeTurn appends the assistant reply and forwards it, with any usage
// metadata, to persistence. Persistence failures do not unwind UI state.
func (s *Session) completeTurn(ev events.Done) {
	s.mu.Lock()
	s.transcript = append(s.transcript, Turn{Role: RoleAssistant, Content: ev.Response})
	s.mu.Unlock()

	s.ui.AppendTranscriptEntry(RoleAssistant, ev.Response)

	ctx := context.Background()
	if err := s.store.SaveMessage(ctx, s.id, RoleAssistant, ev.Response); err != nil {
		s.log.Warn().Err(err).Msg("persisting assistant turn failed")
	}
	if ev.CostINR != nil || ev.CostUSD != nil || len(ev.Tokens) > 0 {
		usage := Usage{CostINR: ev.CostINR, CostUSD: ev.CostUSD, Tokens: ev.Tokens}
		if err := s.store.RecordUsage(ctx, s.id, usage); err != nil {
			s.log.Warn().Err(err).Msg("persisting usage failed")
		}
	}
}
