package bridge

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sahaay/internal/chat"
	"sahaay/internal/ledger"
	"sahaay/internal/mock"
)

func TestHubFanout(t *testing.T) {
	hub := NewHub()
	a, unsubA := hub.Subscribe("s1", 4)
	b, unsubB := hub.Subscribe("s1", 4)
	other, unsubOther := hub.Subscribe("s2", 4)
	defer unsubB()
	defer unsubOther()

	hub.Publish("s1", EventAmbient, map[string]any{"text": "Ready"})

	require.Equal(t, uint64(1), (<-a).Seq)
	require.Equal(t, uint64(1), (<-b).Seq)
	select {
	case ev := <-other:
		t.Fatalf("subscriber for other session got %+v", ev)
	default:
	}

	unsubA()
	_, open := <-a
	assert.False(t, open, "unsubscribe should close the channel")

	// A full subscriber buffer must not block the publisher.
	for i := 0; i < 10; i++ {
		hub.Publish("s1", EventAmbient, nil)
	}
}

func TestHubSequencesAndReplays(t *testing.T) {
	hub := NewHub()
	s := newWSSurface("s1", hub)

	s.SetSendEnabled(false)
	s.ApplyStatus("ind-1", "Thinking...")
	s.AppendTranscriptEntry("assistant", "hello")
	s.RemoveStatus("ind-1")

	all := hub.Replay("s1", 0)
	require.Len(t, all, 4)
	for i, ev := range all {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.Equal(t, "s1", ev.SessionID)
		assert.NotEmpty(t, ev.TS)
	}
	assert.Equal(t, EventSendState, all[0].Type)
	assert.Equal(t, EventStatusApply, all[1].Type)
	assert.Equal(t, EventTranscript, all[2].Type)
	assert.Equal(t, EventStatusRemove, all[3].Type)

	tail := hub.Replay("s1", 2)
	require.Len(t, tail, 2)
	assert.Equal(t, uint64(3), tail[0].Seq)

	// Sessions the hub has never seen replay nothing.
	assert.Empty(t, hub.Replay("s2", 0))
}

func TestHubDropDiscardsStream(t *testing.T) {
	hub := NewHub()
	sub, unsub := hub.Subscribe("s1", 4)
	defer unsub()
	hub.Publish("s1", EventAmbient, nil)

	hub.Drop("s1")

	<-sub // the buffered event published before Drop
	_, open := <-sub
	assert.False(t, open, "drop should close subscribers")
	assert.Empty(t, hub.Replay("s1", 0))

	// The id is reusable afterwards, starting a fresh sequence.
	ev := hub.Publish("s1", EventAmbient, nil)
	assert.Equal(t, uint64(1), ev.Seq)
}

func newTestService(t *testing.T, agentURL string) *Service {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "bridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Init(t.Context()))

	svc := NewService(Config{
		AgentBaseURL:      agentURL,
		MinStatusInterval: time.Millisecond,
		RequestTimeout:    10 * time.Second,
	}, store, zerolog.Nop())
	t.Cleanup(svc.Shutdown)
	return svc
}

func newMockAgentService(t *testing.T) *Service {
	t.Helper()
	agent := httptest.NewServer((&mock.Agent{}).Handler())
	t.Cleanup(agent.Close)
	return newTestService(t, agent.URL)
}

func TestSendUnknownSession(t *testing.T) {
	svc := newMockAgentService(t)
	err := svc.Send(t.Context(), "no-such-id", "hi")
	assert.True(t, errors.Is(err, ledger.ErrNotFound), "got %v", err)
}

func TestSendStreamsEventsAndReplay(t *testing.T) {
	svc := newMockAgentService(t)
	rec, err := svc.CreateSession(t.Context(), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, rec.Title)

	sub, unsub := svc.Subscribe(rec.ID, 64)
	defer unsub()

	require.NoError(t, svc.Send(t.Context(), rec.ID, "hello"))

	deadline := time.After(10 * time.Second)
	sawReply := false
	for !sawReply {
		select {
		case ev := <-sub:
			if ev.Type == EventTranscript && ev.Payload["role"] == "assistant" {
				sawReply = true
			}
		case <-deadline:
			t.Fatal("no assistant transcript event arrived")
		}
	}

	replay := svc.Replay(rec.ID, 0)
	assert.NotEmpty(t, replay)
	assert.Equal(t, uint64(1), replay[0].Seq)
}

// stallingAgent answers the stream endpoint with a connected frame and
// then holds the response open until the request is cancelled.
func stallingAgent(t *testing.T) *httptest.Server {
	t.Helper()
	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat/stream" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: connected\ndata: {\"status\": \"connected\"}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(agent.Close)
	return agent
}

func TestSecondSendRejectedAndCancelStopsWinner(t *testing.T) {
	svc := newTestService(t, stallingAgent(t).URL)
	rec, err := svc.CreateSession(t.Context(), "")
	require.NoError(t, err)

	sub, unsub := svc.Subscribe(rec.ID, 64)
	defer unsub()

	require.NoError(t, svc.Send(t.Context(), rec.ID, "first"))

	// Admission is settled synchronously, so the loser is rejected
	// even before the winner's goroutine reaches the agent.
	err = svc.Send(t.Context(), rec.ID, "second")
	assert.True(t, errors.Is(err, chat.ErrBusy), "got %v", err)

	// Cancel must stop the admitted request, not the rejected one.
	svc.Cancel(rec.ID)

	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-sub:
			if ev.Type == EventSendState && ev.Payload["enabled"] == true {
				// The winner settled; a new request is admitted again.
				require.NoError(t, svc.Send(t.Context(), rec.ID, "again"))
				return
			}
		case <-deadline:
			t.Fatal("cancelled request never settled")
		}
	}
}
