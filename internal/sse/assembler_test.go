package sse_test

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/qm4/kbchat/internal/sse"
)

const sampleStream = "data: {\"type\":\"token\",\"text\":\"知识图谱\"}\n" +
	": keep-alive\n" +
	"data: {\"type\":\"token\",\"text\":\"🚀 rocket\"}\r\n" +
	"event: ignored\n" +
	"data: {\"type\":\"rag\",\"nodes\":[{\"id\":1,\"name\":\"Ünïcode\"}]}\n" +
	"\n" +
	"data: {\"type\":\"done\"}\n"

// chunkReader returns one chunk per Read call.
type chunkReader struct {
	chunks [][]byte
	err    error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n < len(r.chunks[0]) {
		r.chunks[0] = r.chunks[0][n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func splitAt(data []byte, cuts ...int) [][]byte {
	var chunks [][]byte
	prev := 0
	for _, c := range cuts {
		chunks = append(chunks, data[prev:c])
		prev = c
	}
	return append(chunks, data[prev:])
}

func everyByte(data []byte) [][]byte {
	chunks := make([][]byte, len(data))
	for i := range data {
		chunks[i] = data[i : i+1]
	}
	return chunks
}

func randomSplit(data []byte, seed int64) [][]byte {
	rng := rand.New(rand.NewSource(seed))
	var chunks [][]byte
	for len(data) > 0 {
		n := 1 + rng.Intn(7)
		if n > len(data) {
			n = len(data)
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}

func collectFrames(t *testing.T, a *sse.Assembler, r io.Reader) []string {
	t.Helper()
	var frames []string
	for f, err := range a.Frames(r) {
		require.NoError(t, err)
		frames = append(frames, f)
	}
	return frames
}

func collectMessages(t *testing.T, frames []string) []string {
	t.Helper()
	var msgs []string
	for _, f := range frames {
		msg, ok, err := sse.ParseFrame(f)
		require.NoError(t, err)
		if ok {
			msgs = append(msgs, msg.String())
		}
	}
	return msgs
}

func TestAssembler_ChunkBoundaryInvariance(t *testing.T) {
	t.Parallel()

	data := []byte(sampleStream)
	rocket := bytes.Index(data, []byte("🚀"))
	require.Positive(t, rocket)
	han := bytes.Index(data, []byte("知"))
	require.Positive(t, han)

	splits := map[string][][]byte{
		"single chunk":        {data},
		"two chunks":          splitAt(data, len(data)/2),
		"inside rune":         splitAt(data, han+1, rocket+2),
		"inside json payload": splitAt(data, 12, 30, 31),
		"every byte":          everyByte(data),
		"random 1":            randomSplit(data, 1),
		"random 2":            randomSplit(data, 42),
	}

	want := []string{
		`{"type":"token","text":"知识图谱"}`,
		`{"type":"token","text":"🚀 rocket"}`,
		`{"type":"rag","nodes":[{"id":1,"name":"Ünïcode"}]}`,
		`{"type":"done"}`,
	}

	for name, chunks := range splits {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			a := sse.NewAssembler(nil)
			frames := collectFrames(t, a, &chunkReader{chunks: chunks})
			assert.Equal(t, want, collectMessages(t, frames))
			assert.Empty(t, a.Remainder())
		})
	}
}

func TestAssembler_RetainsPartialFrame(t *testing.T) {
	t.Parallel()

	a := sse.NewAssembler(nil)

	frames, err := a.Write([]byte(`data: {"type":"tok`))
	require.NoError(t, err)
	assert.Empty(t, frames)
	assert.Equal(t, `data: {"type":"tok`, a.Remainder())

	frames, err = a.Write([]byte("en\"}\ndata: {\"ty"))
	require.NoError(t, err)
	assert.Equal(t, []string{`data: {"type":"token"}`}, frames)
	assert.Equal(t, `data: {"ty`, a.Remainder())

	frames, err = a.Write([]byte("pe\":\"done\"}\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{`data: {"type":"done"}`}, frames)
	assert.Empty(t, a.Remainder())
}

func TestAssembler_EmptyLinesAreFrames(t *testing.T) {
	t.Parallel()

	a := sse.NewAssembler(nil)
	frames, err := a.Write([]byte("\n\r\ndata: x\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"", "", "data: x"}, frames)
}

func TestAssembler_CRLFTrimsOneCarriageReturn(t *testing.T) {
	t.Parallel()

	a := sse.NewAssembler(nil)
	frames, err := a.Write([]byte("data: {\"type\":\"token\"}\r"))
	require.NoError(t, err)
	assert.Empty(t, frames)
	assert.Equal(t, "data: {\"type\":\"token\"}\r", a.Remainder())

	frames, err = a.Write([]byte("\nkeep\r\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{`data: {"type":"token"}`, "keep\r"}, frames)
}

func TestAssembler_UnterminatedTailIsNotYielded(t *testing.T) {
	t.Parallel()

	a := sse.NewAssembler(nil)
	r := strings.NewReader("data: {\"type\":\"token\"}\ndata: {\"type\":\"done\"}")

	frames := collectFrames(t, a, r)
	assert.Equal(t, []string{`data: {"type":"token"}`}, frames)
	assert.Equal(t, `data: {"type":"done"}`, a.Remainder())
}

func TestAssembler_SplitRuneHeldUntilComplete(t *testing.T) {
	t.Parallel()

	a := sse.NewAssembler(nil)
	euro := []byte("€") // 3 bytes

	frames, err := a.Write(append([]byte("data: "), euro[:2]...))
	require.NoError(t, err)
	assert.Empty(t, frames)
	assert.Equal(t, "data: ", a.Remainder())

	frames, err = a.Write(append(euro[2:], '\n'))
	require.NoError(t, err)
	assert.Equal(t, []string{"data: €"}, frames)
}

func TestAssembler_InvalidBytesReplaced(t *testing.T) {
	t.Parallel()

	a := sse.NewAssembler(nil)
	frames, err := a.Write([]byte("data: a\xffb\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"data: a�b"}, frames)
}

func TestAssembler_DanglingBytesAtEOF(t *testing.T) {
	t.Parallel()

	a := sse.NewAssembler(nil)
	euro := []byte("€")
	r := &chunkReader{chunks: [][]byte{[]byte("data: ok\n"), euro[:1]}}

	frames := collectFrames(t, a, r)
	assert.Equal(t, []string{"data: ok"}, frames)
	assert.Equal(t, "�", a.Remainder())
}

func TestAssembler_ReadError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	a := sse.NewAssembler(nil)
	r := &chunkReader{chunks: [][]byte{[]byte("data: 1\ndata: 2")}, err: boom}

	var frames []string
	var gotErr error
	for f, err := range a.Frames(r) {
		if err != nil {
			gotErr = err
			continue
		}
		frames = append(frames, f)
	}
	assert.Equal(t, []string{"data: 1"}, frames)
	assert.ErrorIs(t, gotErr, boom)
}

func TestAssembler_StopEarly(t *testing.T) {
	t.Parallel()

	a := sse.NewAssembler(nil)
	r := strings.NewReader("data: 1\ndata: 2\ndata: 3\n")

	var frames []string
	for f, err := range a.Frames(r) {
		require.NoError(t, err)
		frames = append(frames, f)
		if len(frames) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"data: 1", "data: 2"}, frames)
}

func TestAssembler_LongLineGrowsBuffer(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("x", 100*1024)
	a := sse.NewAssembler(nil)
	frames := collectFrames(t, a, strings.NewReader("data: "+text+"\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "data: "+text, frames[0])
}

func TestDecoderFor(t *testing.T) {
	t.Parallel()

	encoded, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("data: 你好\n"))
	require.NoError(t, err)

	a := sse.NewAssembler(sse.DecoderFor("text/event-stream; charset=GBK"))
	// "data: " is 6 bytes; cut inside the first two-byte character.
	frames := collectFrames(t, a, &chunkReader{chunks: splitAt(encoded, 7)})
	assert.Equal(t, []string{"data: 你好"}, frames)
}

func TestDecoderFor_Fallbacks(t *testing.T) {
	t.Parallel()

	for _, ct := range []string{"", "text/event-stream", "text/event-stream; charset=utf-8", "text/event-stream; charset=bogus", ";;;"} {
		a := sse.NewAssembler(sse.DecoderFor(ct))
		frames, err := a.Write([]byte("data: é\n"))
		require.NoError(t, err, ct)
		assert.Equal(t, []string{"data: é"}, frames, ct)
	}
}
