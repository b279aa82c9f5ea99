// Package protocol implements the NDJSON wire format exchanged between
// Conduit and an agent subprocess, plus the tagged message types carried
// over it.
package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/conduit-run/conduitd/internal/logging"
)

var log = logging.For("protocol")

// Serialize produces the UTF-8 encoding of v followed by a single '\n'.
func Serialize(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// LineHandler receives one decoded JSON value per complete NDJSON line.
type LineHandler func(raw json.RawMessage)

// Parser is a stateful NDJSON decoder. A single Parser is not safe for
// concurrent use; the bridge owns one per connected socket.
type Parser struct {
	buf     bytes.Buffer
	onValue LineHandler
}

// NewParser constructs a Parser that invokes onValue for every complete,
// well-formed, non-blank line fed to it.
func NewParser(onValue LineHandler) *Parser {
	return &Parser{onValue: onValue}
}

// Feed appends chunk to the internal buffer, hands every complete line to
// the callback, and retains any trailing partial line for the next call.
func (p *Parser) Feed(chunk []byte) {
	p.buf.Write(chunk)

	for {
		data := p.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}

		line := data[:idx]
		p.buf.Next(idx + 1)
		p.dispatch(line)
	}
}

// Flush attempts one last parse of whatever partial data remains in the
// buffer. A whitespace-only remainder is a no-op.
func (p *Parser) Flush() {
	remaining := p.buf.Bytes()
	if len(bytes.TrimSpace(remaining)) == 0 {
		p.buf.Reset()
		return
	}
	p.dispatch(remaining)
	p.buf.Reset()
}

func (p *Parser) dispatch(line []byte) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return
	}

	var raw json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		log.WithError(err).Warn("dropping malformed NDJSON line")
		return
	}

	if p.onValue != nil {
		p.onValue(raw)
	}
}

// EnsureTerminated appends a trailing '\n' to data if it does not already
// end in one. WebSocket text frames may arrive without one; this is the
// only place that concession is made.
func EnsureTerminated(data []byte) []byte {
	if len(data) == 0 || data[len(data)-1] == '\n' {
		return data
	}
	out := make([]byte, len(data)+1)
	copy(out, data)
	out[len(data)] = '\n'
	return out
}
