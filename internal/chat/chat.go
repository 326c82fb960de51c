// Package chat wraps the knowledge-base chat streaming endpoint.
package chat

import (
	"context"
	"fmt"

	"github.com/qm4/kbchat/internal/sse"
	"github.com/qm4/kbchat/internal/stream"
)

// SendRequest is the body of a chat send call.
type SendRequest struct {
	Message       string  `json:"message"`
	EnableRAG     bool    `json:"enableRag"`
	AttachmentIDs []int64 `json:"attachmentIds"`
}

// Chunk is the subset of a streamed message that carries answer text.
// Servers use either field name.
type Chunk struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Text    string `json:"text"`
}

// Body returns whichever text field is set.
func (c Chunk) Body() string {
	if c.Content != "" {
		return c.Content
	}
	return c.Text
}

// Streamer starts streaming sessions. *stream.Client satisfies it.
type Streamer interface {
	Stream(ctx context.Context, endpoint string, payload any, h stream.Handlers) *stream.Session
}

// Client sends chat messages.
type Client struct {
	streamer Streamer
}

// New returns a chat client backed by s.
func New(s Streamer) *Client {
	return &Client{streamer: s}
}

// SendEndpoint returns the streaming endpoint for a chat session.
func SendEndpoint(sessionID int64) string {
	return fmt.Sprintf("/chat/%d/send/stream", sessionID)
}

// SendStream posts req to the session and streams the reply into h.
func (c *Client) SendStream(ctx context.Context, sessionID int64, req SendRequest, h stream.Handlers) *stream.Session {
	if req.AttachmentIDs == nil {
		req.AttachmentIDs = []int64{}
	}
	return c.streamer.Stream(ctx, SendEndpoint(sessionID), req, h)
}

// TextHandler adapts fn to receive the answer text of each non-terminal
// message. Messages without text are skipped.
func TextHandler(fn func(string)) func(sse.Message) {
	return func(m sse.Message) {
		if m.IsDone() {
			return
		}
		var c Chunk
		if err := m.Decode(&c); err != nil {
			return
		}
		if text := c.Body(); text != "" {
			fn(text)
		}
	}
}
