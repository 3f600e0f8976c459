package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"sahaay/internal/stream"
)

const (
	TypeConnected = "connected"
	TypeThinking  = "thinking"
	TypeTool      = "tool"
	TypeDone      = "done"
	TypeError     = "error"
	TypeCancelled = "cancelled"
)

// ErrMalformedPayload marks a frame whose data was not valid JSON. The frame
// is dropped; the stream it came from is unaffected.
var ErrMalformedPayload = errors.New("malformed event payload")

// Event is the validated interpretation of one frame. The variant set is
// closed: everything the wire can carry maps to exactly one of the types
// below, with Unknown absorbing tags this client does not recognize.
type Event interface {
	Type() string
}

type Connected struct{}

type Thinking struct {
	Status string `json:"status"`
}

type Tool struct {
	DisplayName string `json:"display_name"`
	ToolName    string `json:"tool_name"`
	ToolCount   int    `json:"tool_count"`
	MaxTools    int    `json:"max_tools"`
}

type Done struct {
	Response  string         `json:"response"`
	Status    string         `json:"status"`
	ToolCount int            `json:"tool_count"`
	CostINR   *float64       `json:"cost_inr"`
	CostUSD   *float64       `json:"cost_usd"`
	Tokens    map[string]any `json:"tokens"`
}

type Error struct {
	Message string `json:"error"`
	Kind    string `json:"type"`
}

type Cancelled struct{}

type Unknown struct {
	Tag  string
	Data string
}

func (Connected) Type() string { return TypeConnected }
func (Thinking) Type() string  { return TypeThinking }
func (Tool) Type() string      { return TypeTool }
func (Done) Type() string      { return TypeDone }
func (Error) Type() string     { return TypeError }
func (Cancelled) Type() string { return TypeCancelled }
func (u Unknown) Type() string { return u.Tag }

// Parse decodes a frame's payload into its typed event. Invalid JSON yields
// ErrMalformedPayload regardless of tag; an unrecognized tag yields Unknown.
func Parse(f stream.Frame) (Event, error) {
	if !json.Valid([]byte(f.Data)) {
		return nil, fmt.Errorf("%w: event %q", ErrMalformedPayload, f.Event)
	}
	switch f.Event {
	case TypeConnected:
		return Connected{}, nil
	case TypeThinking:
		var ev Thinking
		if err := json.Unmarshal([]byte(f.Data), &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return ev, nil
	case TypeTool:
		var ev Tool
		if err := json.Unmarshal([]byte(f.Data), &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return ev, nil
	case TypeDone:
		var ev Done
		if err := json.Unmarshal([]byte(f.Data), &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return ev, nil
	case TypeError:
		var ev Error
		if err := json.Unmarshal([]byte(f.Data), &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return ev, nil
	case TypeCancelled:
		return Cancelled{}, nil
	default:
		return Unknown{Tag: f.Event, Data: f.Data}, nil
	}
}

// Terminal reports whether ev ends the request it belongs to.
func Terminal(ev Event) bool {
	switch ev.(type) {
	case Done, Error, Cancelled:
		return true
	default:
		return false
	}
}
