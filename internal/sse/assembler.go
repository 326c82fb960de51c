package sse

import (
	"errors"
	"io"
	"iter"
	"strings"

	"golang.org/x/text/transform"
)

const (
	readSize    = 32 * 1024
	scratchSize = 4 * 1024
)

// Assembler accumulates raw chunks and emits complete frames. A frame is the
// text between two '\n' terminators with one trailing '\r' removed, so CRLF
// streams yield the same frames as LF streams.
//
// The decoder is kept across chunks so a multi-byte sequence split between
// two reads is decoded once both halves have arrived. The buffer holds at
// most one unterminated frame between calls.
type Assembler struct {
	dec     transform.Transformer
	pending []byte
	scratch []byte
	buf     strings.Builder
}

// NewAssembler returns an Assembler that decodes with dec. A nil dec uses
// UTF-8 with invalid sequences replaced by U+FFFD.
func NewAssembler(dec transform.Transformer) *Assembler {
	if dec == nil {
		dec = DefaultDecoder()
	}
	dec.Reset()
	return &Assembler{
		dec:     dec,
		scratch: make([]byte, scratchSize),
	}
}

// Write decodes chunk and returns the frames it completed, in order.
func (a *Assembler) Write(chunk []byte) ([]string, error) {
	text, err := a.decode(chunk, false)
	if err != nil {
		return nil, err
	}
	return a.split(text), nil
}

// Flush ends decoding at true end of stream. It returns any frames completed
// by the final decoder output. The unterminated remainder stays available
// through Remainder.
func (a *Assembler) Flush() ([]string, error) {
	text, err := a.decode(nil, true)
	if err != nil {
		return nil, err
	}
	return a.split(text), nil
}

// Remainder returns the current unterminated frame.
func (a *Assembler) Remainder() string {
	return a.buf.String()
}

// Frames reads r to the end and yields each complete frame as soon as the
// chunk holding its terminator has been read. A read error other than
// io.EOF is yielded once and ends the sequence. Stopping early leaves r
// unread; closing it is the caller's job.
func (a *Assembler) Frames(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		chunk := make([]byte, readSize)
		for {
			n, err := r.Read(chunk)
			if n > 0 {
				frames, derr := a.Write(chunk[:n])
				if derr != nil {
					yield("", derr)
					return
				}
				for _, f := range frames {
					if !yield(f, nil) {
						return
					}
				}
			}

			if errors.Is(err, io.EOF) {
				frames, ferr := a.Flush()
				if ferr != nil {
					yield("", ferr)
					return
				}
				for _, f := range frames {
					if !yield(f, nil) {
						return
					}
				}
				return
			}
			if err != nil {
				yield("", err)
				return
			}
		}
	}
}

func (a *Assembler) decode(chunk []byte, atEOF bool) (string, error) {
	src := chunk
	if len(a.pending) > 0 {
		src = append(a.pending, chunk...)
		a.pending = nil
	}

	var out strings.Builder
	for {
		nDst, nSrc, err := a.dec.Transform(a.scratch, src, atEOF)
		out.Write(a.scratch[:nDst])
		src = src[nSrc:]

		switch {
		case err == nil:
			return out.String(), nil
		case errors.Is(err, transform.ErrShortDst):
			if nDst == 0 && nSrc == 0 {
				a.scratch = make([]byte, 2*len(a.scratch))
			}
		case errors.Is(err, transform.ErrShortSrc) && !atEOF:
			a.pending = append([]byte(nil), src...)
			return out.String(), nil
		default:
			return out.String(), err
		}
	}
}

func (a *Assembler) split(text string) []string {
	if text == "" {
		return nil
	}
	a.buf.WriteString(text)
	if strings.IndexByte(text, '\n') < 0 {
		return nil
	}

	parts := strings.Split(a.buf.String(), "\n")
	last := parts[len(parts)-1]
	a.buf.Reset()
	a.buf.WriteString(last)

	frames := parts[:len(parts)-1]
	for i, f := range frames {
		frames[i] = strings.TrimSuffix(f, "\r")
	}
	return frames
}
