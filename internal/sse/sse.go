// Package sse turns a chunked text/event-stream body into JSON messages.
// The Assembler splits decoded text into newline-terminated frames and
// ParseFrame classifies a single frame.
package sse

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// DataPrefix marks a frame that carries a payload.
	DataPrefix = "data:"

	// TypeDone is the discriminator value that ends the logical stream.
	TypeDone = "done"
)

// Message is one parsed payload. Type is the value of the "type" field when
// the payload is an object with a string "type"; Data is the payload itself.
type Message struct {
	Type string
	Data json.RawMessage
}

// IsDone reports whether the message is the terminal sentinel.
func (m Message) IsDone() bool {
	return m.Type == TypeDone
}

// Decode unmarshals the full payload into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// MarshalJSON returns the payload verbatim.
func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Data) == 0 {
		return []byte("null"), nil
	}
	return m.Data, nil
}

func (m Message) String() string {
	return string(m.Data)
}

// ParseError is returned by ParseFrame when a data payload is not valid JSON.
type ParseError struct {
	Payload string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing SSE payload %q: %v", truncate(e.Payload, 120), e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseFrame classifies one frame. Frames without the data prefix, or whose
// payload is blank, return ok=false and no error.
func ParseFrame(frame string) (msg Message, ok bool, err error) {
	payload, found := strings.CutPrefix(frame, DataPrefix)
	if !found {
		return Message{}, false, nil
	}

	payload = strings.TrimSpace(payload)
	if payload == "" {
		return Message{}, false, nil
	}

	msg, err = ParseMessage([]byte(payload))
	if err != nil {
		return Message{}, false, &ParseError{Payload: payload, Err: err}
	}
	return msg, true, nil
}

// ParseMessage parses a JSON payload. Any valid JSON value is accepted; only
// objects can carry a discriminator.
func ParseMessage(data []byte) (Message, error) {
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, err
	}

	msg := Message{Data: raw}
	if raw[0] == '{' {
		// Struct tags match keys case-insensitively; only "type" counts.
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err == nil {
			var typ string
			if err := json.Unmarshal(fields["type"], &typ); err == nil {
				msg.Type = typ
			}
		}
	}
	return msg, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
