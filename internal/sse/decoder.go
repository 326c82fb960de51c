package sse

import (
	"mime"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultDecoder returns a UTF-8 decoder that replaces invalid sequences
// with U+FFFD.
func DefaultDecoder() transform.Transformer {
	return unicode.UTF8.NewDecoder()
}

// DecoderFor picks a decoder from a Content-Type header value. A missing or
// unknown charset falls back to DefaultDecoder. Each call returns a fresh
// decoder; decoders keep state and must not be shared between streams.
func DecoderFor(contentType string) transform.Transformer {
	if contentType == "" {
		return DefaultDecoder()
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return DefaultDecoder()
	}

	charset := strings.TrimSpace(params["charset"])
	if charset == "" {
		return DefaultDecoder()
	}

	enc, err := htmlindex.Get(charset)
	if err != nil || enc == unicode.UTF8 {
		return DefaultDecoder()
	}
	return enc.NewDecoder()
}
