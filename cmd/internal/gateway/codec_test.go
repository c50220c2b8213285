package gateway

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "medgate/shared/contracts/auth/v1"
)

// chunkReader returns one chunk per Read call.
type chunkReader struct{ chunks []string }

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

func drain(t *testing.T, f *FrameReader) (frames []string, codes []string) {
	t.Helper()
	for {
		frame, err := f.Next()
		if err == nil {
			frames = append(frames, string(frame))
			continue
		}
		var perr *ProtocolError
		if errors.As(err, &perr) {
			codes = append(codes, perr.Code)
			continue
		}
		require.ErrorIs(t, err, io.EOF)
		return frames, codes
	}
}

func TestFrameReader_BackToBack(t *testing.T) {
	t.Parallel()
	in := `{"action":"login"}{"action":"logout"}` + "\n  " + `{"action":"whoami"}` + "\r\n"

	frames, codes := drain(t, NewFrameReader(strings.NewReader(in), 0))
	assert.Empty(t, codes)
	assert.Equal(t, []string{`{"action":"login"}`, `{"action":"logout"}`, `{"action":"whoami"}`}, frames)
}

func TestFrameReader_SplitAcrossReads(t *testing.T) {
	t.Parallel()
	in := `{"action":"login","data":{"username":"alice123","password":"p{}\"w"}}{"action":"whoami"}`

	frames, codes := drain(t, NewFrameReader(iotest.OneByteReader(strings.NewReader(in)), 0))
	assert.Empty(t, codes)
	require.Len(t, frames, 2)
	assert.Equal(t, `{"action":"whoami"}`, frames[1])
}

func TestFrameReader_SyntaxErrorResyncs(t *testing.T) {
	t.Parallel()
	r := &chunkReader{chunks: []string{`{"action":"login"}`, `{bad json}`, `{"action":"whoami"}`}}

	frames, codes := drain(t, NewFrameReader(r, 0))
	assert.Equal(t, []string{v1.ErrCodeBadJSON}, codes)
	assert.Equal(t, []string{`{"action":"login"}`, `{"action":"whoami"}`}, frames)
}

func TestFrameReader_TooLarge(t *testing.T) {
	t.Parallel()

	t.Run("complete", func(t *testing.T) {
		r := &chunkReader{chunks: []string{`{"data":"` + strings.Repeat("x", 40) + `"}`, `{"a":1}`}}
		frames, codes := drain(t, NewFrameReader(r, 16))
		assert.Equal(t, []string{v1.ErrCodeFrameTooLarge}, codes)
		assert.Equal(t, []string{`{"a":1}`}, frames)
	})

	t.Run("unterminated", func(t *testing.T) {
		r := &chunkReader{chunks: []string{`{"data":"` + strings.Repeat("x", 40)}}
		_, codes := drain(t, NewFrameReader(r, 16))
		assert.Equal(t, []string{v1.ErrCodeFrameTooLarge}, codes)
	})
}

func TestFrameReader_RejectedDocumentIsSkippedWhole(t *testing.T) {
	t.Parallel()

	chunked := func(s string, size int) *chunkReader {
		r := &chunkReader{}
		for len(s) > size {
			r.chunks = append(r.chunks, s[:size])
			s = s[size:]
		}
		r.chunks = append(r.chunks, s)
		return r
	}

	t.Run("oversized with nested object at the cut", func(t *testing.T) {
		head := `{"pad":"`
		tail := `","n":[`
		cut := 17 * tcpReadChunk
		pad := strings.Repeat("x", cut-len(head)-len(tail))
		in := head + pad + tail + `{"action":"logout"}]}` + `{"action":"whoami"}`
		require.Equal(t, cut, strings.Index(in, `{"action":"logout"}`))

		frames, codes := drain(t, NewFrameReader(chunked(in, tcpReadChunk), 0))
		assert.Equal(t, []string{v1.ErrCodeFrameTooLarge}, codes)
		assert.Equal(t, []string{`{"action":"whoami"}`}, frames)
	})

	t.Run("malformed and split across reads", func(t *testing.T) {
		r := &chunkReader{chunks: []string{
			`{"a":1,x,"s":"}{","n":[`,
			`{"action":"logout"}]}`,
			`{"action":"whoami"}`,
		}}
		frames, codes := drain(t, NewFrameReader(r, 0))
		assert.Equal(t, []string{v1.ErrCodeBadJSON}, codes)
		assert.Equal(t, []string{`{"action":"whoami"}`}, frames)
	})

	t.Run("malformed followed by a frame in the same read", func(t *testing.T) {
		r := &chunkReader{chunks: []string{`{bad json}{"action":"whoami"}`}}
		frames, codes := drain(t, NewFrameReader(r, 0))
		assert.Equal(t, []string{v1.ErrCodeBadJSON}, codes)
		assert.Equal(t, []string{`{"action":"whoami"}`}, frames)
	})

	t.Run("oversized string document", func(t *testing.T) {
		r := &chunkReader{chunks: []string{`"` + strings.Repeat("y", 20), `{\"action\":\"logout\"}"`, `{"a":1}`}}
		frames, codes := drain(t, NewFrameReader(r, 16))
		assert.Equal(t, []string{v1.ErrCodeFrameTooLarge}, codes)
		assert.Equal(t, []string{`{"a":1}`}, frames)
	})
}

func TestDecodeRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     string
		code   string
		wantID string
	}{
		{name: "bad json", in: `{"action":`, code: v1.ErrCodeBadJSON},
		{name: "not an object", in: `[1,2]`, code: v1.ErrCodeBadJSON},
		{name: "missing action", in: `{"id":"r1"}`, code: v1.ErrCodeUnknownAction, wantID: "r1"},
		{name: "unknown action", in: `{"action":"chat","id":"r2"}`, code: v1.ErrCodeUnknownAction, wantID: "r2"},
		{name: "id too long", in: `{"action":"login","id":"` + strings.Repeat("i", 65) + `"}`, code: v1.ErrCodeBadPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequest([]byte(tt.in))
			var perr *ProtocolError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.code, perr.Code)
			assert.Equal(t, tt.wantID, perr.ID)

			resp := perr.Response()
			assert.Equal(t, v1.ActionError, resp.Action)
			assert.False(t, resp.Success)
		})
	}

	req, err := DecodeRequest([]byte(` {"action":" login ","id":"x","data":{"username":"a"}}`))
	require.NoError(t, err)
	assert.Equal(t, v1.ActionLogin, req.Action)
	assert.Equal(t, "x", req.ID)
}

func TestDecodeData_Loose(t *testing.T) {
	t.Parallel()

	var d v1.RegisterData
	req := v1.Request{Action: v1.ActionRegister, Data: []byte(`{"username":"bob","age":"thirty","phone":13800138000}`)}
	require.NoError(t, decodeData(req, &d))
	assert.Equal(t, "bob", d.Username.String())
	assert.Equal(t, 0, d.Age.Int())
	assert.Equal(t, "", d.Phone.String())

	var l v1.LoginData
	require.NoError(t, decodeData(v1.Request{Action: v1.ActionLogin}, &l))

	err := decodeData(v1.Request{Action: v1.ActionLogin, ID: "q", Data: []byte(`"str"`)}, &l)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, v1.ErrCodeBadPayload, perr.Code)
	assert.Equal(t, "q", perr.ID)
}
