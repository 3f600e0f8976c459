// Package bridge owns the daemon-side lifetime of chat sessions: it
// lazily materializes an in-memory session per stored conversation,
// runs agent requests in the background, and fans rendering events out
// to WebSocket subscribers through the hub.
package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sahaay/internal/chat"
	"sahaay/internal/ledger"
)

const DefaultTitle = "New Chat"

type Config struct {
	AgentBaseURL      string
	HistoryWindow     int
	TitleBudget       int
	MinStatusInterval time.Duration
	// RequestTimeout bounds a single agent round trip, including the
	// streamed response. Zero means no deadline.
	RequestTimeout time.Duration
}

type Service struct {
	cfg    Config
	store  *ledger.Store
	client *chat.Client
	hub    *Hub
	log    zerolog.Logger

	mu     sync.Mutex
	active map[string]*activeSession
}

type activeSession struct {
	session *chat.Session

	// mu guards request admission. sending covers the window between
	// admitting a request here and the session marking itself in
	// flight on its own goroutine.
	mu      sync.Mutex
	sending bool
	cancel  context.CancelFunc
}

func NewService(cfg Config, store *ledger.Store, log zerolog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		store:  store,
		client: chat.NewClient(cfg.AgentBaseURL),
		hub:    NewHub(),
		log:    log,
		active: map[string]*activeSession{},
	}
}

func (s *Service) Hub() *Hub { return s.hub }

func (s *Service) CreateSession(ctx context.Context, title string) (ledger.SessionRecord, error) {
	if title == "" {
		title = DefaultTitle
	}
	return s.store.CreateSession(ctx, uuid.NewString(), title)
}

// resolve returns the live session for id, creating it on first use.
// The stored record is the source of truth: unknown ids fail before
// anything is materialized.
func (s *Service) resolve(ctx context.Context, id string) (*activeSession, error) {
	s.mu.Lock()
	if as, ok := s.active[id]; ok {
		s.mu.Unlock()
		return as, nil
	}
	s.mu.Unlock()

	if _, err := s.store.GetSession(ctx, id); err != nil {
		return nil, err
	}
	turns, err := s.store.Turns(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if as, ok := s.active[id]; ok {
		return as, nil
	}
	session := chat.NewSession(id, chat.SessionConfig{
		HistoryWindow:     s.cfg.HistoryWindow,
		TitleBudget:       s.cfg.TitleBudget,
		MinStatusInterval: s.cfg.MinStatusInterval,
	}, s.client, s.store, newWSSurface(id, s.hub), s.log)
	session.Seed(turns)
	as := &activeSession{session: session}
	s.active[id] = as
	return as, nil
}

// Send kicks off one agent request for the session and returns as soon
// as the request is admitted. Progress and the reply arrive as UIEvents
// on the session's event feed, not on this call. Only the admitted
// request owns the stored cancel func.
func (s *Service) Send(ctx context.Context, id, message string) error {
	if strings.TrimSpace(message) == "" {
		return chat.ErrEmptyMessage
	}
	as, err := s.resolve(ctx, id)
	if err != nil {
		return err
	}

	as.mu.Lock()
	if as.sending || as.session.InFlight() {
		as.mu.Unlock()
		return chat.ErrBusy
	}
	reqCtx := context.Background()
	var cancel context.CancelFunc
	if s.cfg.RequestTimeout > 0 {
		reqCtx, cancel = context.WithTimeout(reqCtx, s.cfg.RequestTimeout)
	} else {
		reqCtx, cancel = context.WithCancel(reqCtx)
	}
	as.sending = true
	as.cancel = cancel
	as.mu.Unlock()

	go func() {
		defer cancel()
		err := as.session.Send(reqCtx, message)
		as.mu.Lock()
		as.sending = false
		as.cancel = nil
		as.mu.Unlock()
		if err != nil {
			s.log.Warn().Err(err).Str("session_id", id).Msg("send failed")
		}
	}()
	return nil
}

// Cancel aborts the session's in-flight request, if any.
func (s *Service) Cancel(id string) {
	s.mu.Lock()
	as, ok := s.active[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	as.mu.Lock()
	cancel := as.cancel
	as.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// DeleteSession removes the stored conversation and tears down any live
// state for it, event history included.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	s.Cancel(id)
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
	s.hub.Drop(id)
	return s.store.DeleteSession(ctx, id)
}

// Replay returns buffered UIEvents for the session newer than fromSeq.
func (s *Service) Replay(id string, fromSeq uint64) []UIEvent {
	return s.hub.Replay(id, fromSeq)
}

// Subscribe attaches a live event feed for the session.
func (s *Service) Subscribe(id string, buf int) (<-chan UIEvent, func()) {
	return s.hub.Subscribe(id, buf)
}

// Shutdown cancels every in-flight request.
func (s *Service) Shutdown() {
	s.mu.Lock()
	actives := make([]*activeSession, 0, len(s.active))
	for _, as := range s.active {
		actives = append(actives, as)
	}
	s.mu.Unlock()
	for _, as := range actives {
		as.mu.Lock()
		cancel := as.cancel
		as.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
}
