package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sahaay/internal/bridge"
	"sahaay/internal/ledger"
	"sahaay/internal/mock"
)

const testToken = "test-token"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	agent := httptest.NewServer((&mock.Agent{}).Handler())
	t.Cleanup(agent.Close)

	store, err := ledger.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Init(t.Context()); err != nil {
		t.Fatalf("init store: %v", err)
	}

	svc := bridge.NewService(bridge.Config{
		AgentBaseURL:      agent.URL,
		MinStatusInterval: time.Millisecond,
		RequestTimeout:    10 * time.Second,
	}, store, zerolog.Nop())
	t.Cleanup(svc.Shutdown)

	srv := New(":0", testToken, svc, store, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp.StatusCode, raw
}

func createSession(t *testing.T, ts *httptest.Server, title string) string {
	t.Helper()
	status, body := doJSON(t, ts, "POST", "/api/v1/sessions", map[string]any{"title": title})
	if status != http.StatusCreated {
		t.Fatalf("create session status=%d body=%s", status, string(body))
	}
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatalf("missing session id in create response")
	}
	return resp.SessionID
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)
	id := createSession(t, ts, "")

	status, body := doJSON(t, ts, "GET", "/api/v1/sessions/"+id, nil)
	if status != http.StatusOK {
		t.Fatalf("get session status=%d body=%s", status, string(body))
	}
	var got struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if got.Title != bridge.DefaultTitle {
		t.Fatalf("expected default title, got %q", got.Title)
	}

	status, body = doJSON(t, ts, "PATCH", "/api/v1/sessions/"+id, map[string]any{"title": "Renamed"})
	if status != http.StatusOK {
		t.Fatalf("rename status=%d body=%s", status, string(body))
	}

	status, body = doJSON(t, ts, "GET", "/api/v1/sessions", nil)
	if status != http.StatusOK {
		t.Fatalf("list status=%d", status)
	}
	var list struct {
		Items []struct {
			SessionID string `json:"session_id"`
			Title     string `json:"title"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].SessionID != id || list.Items[0].Title != "Renamed" {
		t.Fatalf("unexpected list: %s", string(body))
	}

	status, _ = doJSON(t, ts, "DELETE", "/api/v1/sessions/"+id, nil)
	if status != http.StatusOK {
		t.Fatalf("delete status=%d", status)
	}
	status, _ = doJSON(t, ts, "GET", "/api/v1/sessions/"+id, nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", status)
	}
}

func TestMessagesEndpoint(t *testing.T) {
	ts := newTestServer(t)
	id := createSession(t, ts, "imported")

	status, body := doJSON(t, ts, "POST", "/api/v1/sessions/"+id+"/messages", map[string]any{
		"role": "user", "content": "hello",
	})
	if status != http.StatusCreated {
		t.Fatalf("add message status=%d body=%s", status, string(body))
	}

	status, body = doJSON(t, ts, "POST", "/api/v1/sessions/"+id+"/messages", map[string]any{
		"role": "system", "content": "nope",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad role, got %d body=%s", status, string(body))
	}

	status, body = doJSON(t, ts, "GET", "/api/v1/sessions/"+id+"/messages", nil)
	if status != http.StatusOK {
		t.Fatalf("list messages status=%d", status)
	}
	var list struct {
		Items []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].Content != "hello" {
		t.Fatalf("unexpected messages: %s", string(body))
	}
}

func TestChatRoundTripOverWebSocket(t *testing.T) {
	ts := newTestServer(t)
	id := createSession(t, ts, "")

	status, body := doJSON(t, ts, "POST", "/api/v1/sessions/"+id+"/chat", map[string]any{
		"message": "hello there",
	})
	if status != http.StatusAccepted {
		t.Fatalf("chat status=%d body=%s", status, string(body))
	}

	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) +
		"/api/v1/sessions/" + url.PathEscape(id) + "/events?token=" + url.QueryEscape(testToken)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		code := 0
		if resp != nil {
			code = resp.StatusCode
		}
		t.Fatalf("websocket dial failed status=%d err=%v", code, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	sawAssistant := false
	for !sawAssistant {
		var ev struct {
			SessionID string         `json:"session_id"`
			Type      string         `json:"type"`
			Payload   map[string]any `json:"payload"`
		}
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if ev.SessionID != id {
			t.Fatalf("event for wrong session: %#v", ev)
		}
		if ev.Type == bridge.EventTranscript && ev.Payload["role"] == "assistant" {
			sawAssistant = true
		}
	}

	// The reply is persisted once the stream settles.
	deadline := time.Now().Add(5 * time.Second)
	for {
		status, body = doJSON(t, ts, "GET", "/api/v1/sessions/"+id+"?include_messages=true", nil)
		if status != http.StatusOK {
			t.Fatalf("get session status=%d", status)
		}
		var got struct {
			Messages []struct {
				Role string `json:"role"`
			} `json:"messages"`
		}
		if err := json.Unmarshal(body, &got); err != nil {
			t.Fatalf("decode session: %v", err)
		}
		if len(got.Messages) >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("reply never persisted: %s", string(body))
		}
		time.Sleep(20 * time.Millisecond)
	}

	status, body = doJSON(t, ts, "GET", "/api/v1/sessions/"+id+"/usage", nil)
	if status != http.StatusOK {
		t.Fatalf("usage status=%d", status)
	}
	var usage struct {
		Replies int64 `json:"replies"`
	}
	if err := json.Unmarshal(body, &usage); err != nil {
		t.Fatalf("decode usage: %v", err)
	}
	if usage.Replies != 1 {
		t.Fatalf("expected 1 recorded reply, got %d", usage.Replies)
	}
}

func TestChatRejections(t *testing.T) {
	ts := newTestServer(t)

	status, _ := doJSON(t, ts, "POST", "/api/v1/sessions/no-such-id/chat", map[string]any{"message": "hi"})
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", status)
	}

	id := createSession(t, ts, "")
	status, _ = doJSON(t, ts, "POST", "/api/v1/sessions/"+id+"/chat", map[string]any{"message": "   "})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank message, got %d", status)
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/sessions")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status=%d", resp.StatusCode)
	}
}
