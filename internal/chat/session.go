package chat

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sahaay/internal/metrics"
	"sahaay/internal/status"
	"sahaay/internal/stream"
)

const (
	DefaultHistoryWindow = 10

	statusWorking = "Agent is working..."
)

type SessionConfig struct {
	// HistoryWindow caps how many prior turns ride along with each request.
	// Older turns stay in the transcript for display but are not resent.
	HistoryWindow int
	// TitleBudget caps the derived session title, in characters.
	TitleBudget       int
	MinStatusInterval time.Duration
}

func (c *SessionConfig) applyDefaults() {
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = DefaultHistoryWindow
	}
	if c.TitleBudget <= 0 {
		c.TitleBudget = DefaultTitleBudget
	}
	if c.MinStatusInterval <= 0 {
		c.MinStatusInterval = status.DefaultMinInterval
	}
}

// Session is the state machine for one conversation. It owns the transcript
// exclusively and enforces at-most-one in-flight request; every failure path
// returns it to idle so the user can retry.
type Session struct {
	id     string
	cfg    SessionConfig
	client *Client
	store  Persistence
	ui     Surface
	queue  *status.Queue
	log    zerolog.Logger

	mu         sync.Mutex
	transcript []Turn
	inFlight   bool
}

func NewSession(id string, cfg SessionConfig, client *Client, store Persistence, ui Surface, log zerolog.Logger) *Session {
	cfg.applyDefaults()
	s := &Session{
		id:     id,
		cfg:    cfg,
		client: client,
		store:  store,
		ui:     ui,
		log:    log.With().Str("session_id", id).Logger(),
	}
	s.queue = status.NewQueue(cfg.MinStatusInterval, func(indicatorID, text string) {
		metrics.StatusUpdatesApplied.Inc()
		ui.ApplyStatus(indicatorID, text)
	})
	return s
}

func (s *Session) ID() string { return s.id }

// Seed preloads the transcript, typically from the ledger when resuming a
// stored session. It must not be called while a request is in flight.
func (s *Session) Seed(turns []Turn) {
	s.mu.Lock()
	s.transcript = append([]Turn(nil), turns...)
	s.mu.Unlock()
}

// Transcript returns a copy of the conversation so far.
func (s *Session) Transcript() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.transcript...)
}

// InFlight reports whether a request is outstanding.
func (s *Session) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Send runs one full request/response cycle: optimistic append, stream open,
// frame dispatch, terminal reconciliation. It blocks until the stream ends
// and is safe to call from any goroutine; a second call while one is in
// flight is rejected with ErrBusy and has no side effects.
func (s *Session) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if s.id == "" {
		s.ui.ShowError("No active conversation. Create a session first.")
		metrics.Sends.WithLabelValues("rejected").Inc()
		return ErrNoSession
	}

	// Check-then-set under one lock: the single-flight invariant.
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		s.log.Warn().Msg("send rejected: request already in flight")
		metrics.Sends.WithLabelValues("rejected").Inc()
		return ErrBusy
	}
	s.inFlight = true
	firstTurn := len(s.transcript) == 0
	s.transcript = append(s.transcript, Turn{Role: RoleUser, Content: text})
	history := s.historyWindowLocked()
	s.mu.Unlock()

	started := time.Now()
	defer func() {
		metrics.SendDuration.Observe(time.Since(started).Seconds())
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
		s.ui.SetSendEnabled(true)
	}()

	s.ui.SetSendEnabled(false)
	s.ui.AppendTranscriptEntry(RoleUser, text)

	if err := s.store.SaveMessage(ctx, s.id, RoleUser, text); err != nil {
		s.log.Warn().Err(err).Msg("persisting user turn failed")
	}
	if firstTurn {
		title := DeriveTitle(text, s.cfg.TitleBudget)
		if err := s.store.UpdateSessionTitle(ctx, s.id, title); err != nil {
			s.log.Warn().Err(err).Str("title", title).Msg("persisting session title failed")
		}
	}

	indicator := uuid.NewString()
	s.queue.Enqueue(indicator, statusWorking)

	body, err := s.client.Stream(ctx, Request{
		Message:             text,
		ConversationHistory: history,
		SessionID:           s.id,
	})
	if err != nil {
		s.failTransport(ctx, indicator, err)
		return err
	}
	defer body.Close()

	d := newDispatcher(s, indicator)
	decodeErr := stream.Decode(ctx, body, func(f stream.Frame) error {
		metrics.FramesDecoded.Inc()
		return d.Dispatch(f)
	})

	switch {
	case d.terminal:
		// A terminal frame settled the request; anything the transport did
		// afterwards no longer matters.
		metrics.Sends.WithLabelValues("completed").Inc()
		return nil
	case ctx.Err() != nil:
		// Local cancellation: not a terminal frame and not a failure. The
		// optimistic turn stays; the indicator goes away.
		s.ui.RemoveStatus(indicator)
		s.log.Debug().Msg("stream cancelled locally")
		metrics.Sends.WithLabelValues("cancelled").Inc()
		return ctx.Err()
	case decodeErr != nil:
		s.failTransport(ctx, indicator, decodeErr)
		return decodeErr
	default:
		// Stream ended cleanly but no terminal frame arrived: the transport
		// broke mid-flight.
		s.failTransport(ctx, indicator, io.ErrUnexpectedEOF)
		return io.ErrUnexpectedEOF
	}
}

// failTransport handles a stream that could not be opened or broke before a
// terminal frame: clear the indicator, surface a categorized message, and
// undo the optimistic append if it is still the newest turn.
func (s *Session) failTransport(ctx context.Context, indicator string, err error) {
	if ctx.Err() != nil {
		s.ui.RemoveStatus(indicator)
		metrics.Sends.WithLabelValues("cancelled").Inc()
		return
	}
	metrics.Sends.WithLabelValues("transport_error").Inc()
	s.ui.RemoveStatus(indicator)
	s.ui.ShowError(classifyTransport(err))
	s.log.Warn().Err(err).Msg("transport failure")

	s.mu.Lock()
	if n := len(s.transcript); n > 0 && s.transcript[n-1].Role == RoleUser {
		s.transcript = s.transcript[:n-1]
	}
	s.mu.Unlock()
}

// historyWindowLocked returns the turns to resend, oldest first, excluding
// the optimistic turn that was just appended. Callers hold s.mu.
func (s *Session) historyWindowLocked() []Turn {
	prior := s.transcript[:len(s.transcript)-1]
	if len(prior) > s.cfg.HistoryWindow {
		prior = prior[len(prior)-s.cfg.HistoryWindow:]
	}
	return append([]Turn(nil), prior...)
}

// Queue exposes the session's status queue so frontends can wait for paced
// updates to settle (tests, graceful shutdown).
func (s *Session) Queue() *status.Queue {
	return s.queue
}
