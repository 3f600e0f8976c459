package stream

import (
	"context"
	"errors"
	"io"
	"strings"
)

const (
	DefaultEvent = "message"

	eventPrefix   = "event:"
	dataPrefix    = "data:"
	commentPrefix = ":"
)

// Frame is one decoded block of the agent's event stream: an event tag plus
// its raw JSON payload.
type Frame struct {
	Event string
	Data  string
}

// Parser reassembles protocol blocks from chunks whose boundaries carry no
// meaning. A chunk may end mid-line; the unfinished tail is carried into the
// next Feed call.
type Parser struct {
	buf     strings.Builder
	event   string
	data    string
	hasData bool
}

func NewParser() *Parser {
	return &Parser{event: DefaultEvent}
}

// Feed appends a chunk and returns every frame completed by it, in stream
// order.
func (p *Parser) Feed(chunk []byte) []Frame {
	if len(chunk) == 0 {
		return nil
	}
	p.buf.Write(chunk)
	text := p.buf.String()

	last := strings.LastIndexByte(text, '\n')
	if last < 0 {
		return nil
	}
	complete := text[:last]
	remainder := text[last+1:]
	p.buf.Reset()
	p.buf.WriteString(remainder)

	var out []Frame
	for _, line := range strings.Split(complete, "\n") {
		if f, ok := p.consumeLine(line); ok {
			out = append(out, f)
		}
	}
	return out
}

func (p *Parser) consumeLine(line string) (Frame, bool) {
	line = strings.TrimSuffix(line, "\r")

	switch {
	case line == "":
		if !p.hasData {
			return Frame{}, false
		}
		f := Frame{Event: p.event, Data: p.data}
		p.event = DefaultEvent
		p.data = ""
		p.hasData = false
		return f, true
	case strings.HasPrefix(line, eventPrefix):
		p.event = strings.TrimSpace(line[len(eventPrefix):])
	case strings.HasPrefix(line, dataPrefix):
		// Last data line before the terminator wins. The agent service
		// emits at most one per block; nothing is concatenated.
		p.data = strings.TrimSpace(line[len(dataPrefix):])
		p.hasData = true
	case strings.HasPrefix(line, commentPrefix):
		// heartbeat
	}
	return Frame{}, false
}

// Decode reads r until EOF, feeding a Parser and invoking fn for each frame.
// A block left unterminated at EOF is protocol-incomplete input and is
// discarded. Decode returns nil on EOF, ctx.Err() on cancellation, the read
// error otherwise, or the first error returned by fn.
func Decode(ctx context.Context, r io.Reader, fn func(Frame) error) error {
	p := NewParser()
	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			for _, f := range p.Feed(buf[:n]) {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := fn(f); err != nil {
					return err
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
