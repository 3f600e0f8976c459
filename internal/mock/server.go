// Package mock is a stand-in agent service speaking the real event-stream
// contract. It backs integration-style tests and lets the frontends run
// without a live agent.
package mock

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Agent serves /health and /api/chat/stream with a scripted event sequence:
// connected, thinking, optional tool events keyed off the message, then done.
type Agent struct {
	// Delay between emitted events. Zero means no artificial pacing, which
	// is what tests want.
	Delay time.Duration
}

func (a *Agent) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc("/api/chat/stream", a.handleChatStream)
	return mux
}

func (a *Agent) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}

func (a *Agent) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Message             string `json:"message"`
		ConversationHistory []any  `json:"conversation_history"`
		SessionID           string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	a.emit(w, flusher, "connected", map[string]any{"status": "connected"})
	a.emit(w, flusher, "thinking", map[string]any{"status": "Thinking..."})

	toolCount := 0
	lower := strings.ToLower(req.Message)
	if strings.Contains(lower, "search") {
		toolCount++
		a.emit(w, flusher, "tool", map[string]any{
			"status":       "Searching the web",
			"tool_name":    "google_search_with_context",
			"display_name": "Searching the web",
			"tool_count":   toolCount,
			"max_tools":    5,
		})
	}
	if strings.Contains(lower, "time") {
		toolCount++
		a.emit(w, flusher, "tool", map[string]any{
			"status":       "Getting current time",
			"tool_name":    "get_current_datetime_ist",
			"display_name": "Getting current time",
			"tool_count":   toolCount,
			"max_tools":    5,
		})
	}

	fmt.Fprint(w, ": heartbeat\n\n")
	flusher.Flush()

	doneStatus := "Done!"
	if toolCount > 0 {
		plural := ""
		if toolCount > 1 {
			plural = "s"
		}
		doneStatus = fmt.Sprintf("Done! (used %d tool%s)", toolCount, plural)
	}
	a.emit(w, flusher, "done", map[string]any{
		"status":     doneStatus,
		"response":   a.reply(req.Message),
		"tool_count": toolCount,
		"cost_inr":   0.42,
		"cost_usd":   0.005,
		"tokens":     map[string]any{"input": 120, "output": 60},
	})
}

func (a *Agent) reply(message string) string {
	if strings.TrimSpace(message) == "" {
		return "I did not catch that."
	}
	return "You said: " + message
}

func (a *Agent) emit(w http.ResponseWriter, flusher http.Flusher, event string, data map[string]any) {
	if a.Delay > 0 {
		time.Sleep(a.Delay)
	}
	payload, _ := json.Marshal(data)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}
