package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/samber/oops"

	v1 "medgate/shared/contracts/auth/v1"
)

// ProtocolError is a frame the router could not act on. The connection
// stays open; the client gets an error frame carrying Code.
type ProtocolError struct {
	Code    string
	Message string
	// ID echoes the client's request id when the frame got far enough to have one.
	ID  string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("protocol error %s: %s", e.Code, e.Message)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Response renders the error frame sent back to the client.
func (e *ProtocolError) Response() v1.Response {
	return v1.Response{
		Action:  v1.ActionError,
		ID:      e.ID,
		Success: false,
		Message: e.Message,
		Code:    e.Code,
	}
}

func protocolError(code, msg, id string, err error) *ProtocolError {
	if err != nil {
		err = oops.In("codec").Code("FRAME_DECODE").With("protocol_code", code).Wrap(err)
	}
	return &ProtocolError{Code: code, Message: msg, ID: id, Err: err}
}

// FrameReader splits a byte stream into JSON documents. Documents may be
// back to back or separated by whitespace. A rejected document, oversized
// or malformed, is skipped to its closing bracket before decoding resumes,
// so nothing nested inside it is ever returned as a frame.
type FrameReader struct {
	r     io.Reader
	max   int
	buf   []byte
	chunk []byte
	err   error
	skip  *skipper
}

// NewFrameReader reads from r. maxFrame <= 0 means 64 KiB.
func NewFrameReader(r io.Reader, maxFrame int) *FrameReader {
	if maxFrame <= 0 {
		maxFrame = maxFrameBytes
	}
	return &FrameReader{r: r, max: maxFrame, chunk: make([]byte, tcpReadChunk)}
}

// Next returns the next complete document. A *ProtocolError means the
// stream is still usable; any other error comes from the reader and ends
// the stream.
func (f *FrameReader) Next() ([]byte, error) {
	for {
		frame, perr, ok := f.scan()
		if perr != nil {
			return nil, perr
		}
		if ok {
			return frame, nil
		}
		if f.err != nil {
			return nil, f.err
		}

		n, err := f.r.Read(f.chunk)
		f.buf = append(f.buf, f.chunk[:n]...)
		if err != nil {
			f.err = err
		}
	}
}

// scan tries to cut one document off the front of the buffer.
func (f *FrameReader) scan() ([]byte, *ProtocolError, bool) {
	if f.skip != nil {
		n, done := f.skip.feed(f.buf)
		f.buf = f.buf[n:]
		if !done {
			f.buf = nil
			return nil, nil, false
		}
		f.skip = nil
	}

	f.buf = bytes.TrimLeft(f.buf, " \t\r\n")
	if len(f.buf) == 0 {
		f.buf = nil
		return nil, nil, false
	}

	dec := json.NewDecoder(bytes.NewReader(f.buf))
	var raw json.RawMessage
	err := dec.Decode(&raw)
	switch {
	case err == nil:
		n := int(dec.InputOffset())
		if n > f.max {
			f.buf = f.buf[n:]
			return nil, protocolError(v1.ErrCodeFrameTooLarge, "frame too large", "", nil), false
		}
		frame := make([]byte, n)
		copy(frame, f.buf[:n])
		f.buf = f.buf[n:]
		return frame, nil, true

	case errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF):
		if len(f.buf) > f.max {
			f.discard()
			return nil, protocolError(v1.ErrCodeFrameTooLarge, "frame too large", "", nil), false
		}
		return nil, nil, false

	default:
		f.discard()
		return nil, protocolError(v1.ErrCodeBadJSON, "invalid JSON", "", err), false
	}
}

// discard drops the rejected document at the front of the buffer. If it is
// still open, the rest of it is skipped as it arrives. A document that does
// not start with a bracket or a quote has no extent to follow, so only the
// buffer is dropped.
func (f *FrameReader) discard() {
	switch f.buf[0] {
	case '{', '[', '"':
	default:
		f.buf = nil
		return
	}
	s := &skipper{}
	n, done := s.feed(f.buf)
	f.buf = f.buf[n:]
	if !done {
		f.skip = s
	}
}

// skipper follows bracket depth and string state through a rejected
// document.
type skipper struct {
	depth   int
	inStr   bool
	escaped bool
}

// feed consumes p up to the end of the document. It returns the number of
// bytes consumed and whether the document ended.
func (s *skipper) feed(p []byte) (int, bool) {
	for i, b := range p {
		if s.inStr {
			switch {
			case s.escaped:
				s.escaped = false
			case b == '\\':
				s.escaped = true
			case b == '"':
				s.inStr = false
				if s.depth == 0 {
					return i + 1, true
				}
			}
			continue
		}
		switch b {
		case '"':
			s.inStr = true
		case '{', '[':
			s.depth++
		case '}', ']':
			s.depth--
			if s.depth <= 0 {
				return i + 1, true
			}
		}
	}
	return len(p), false
}

// DecodeRequest parses one frame into a validated request.
func DecodeRequest(frame []byte) (v1.Request, error) {
	var req v1.Request
	if err := json.Unmarshal(frame, &req); err != nil {
		return v1.Request{}, protocolError(v1.ErrCodeBadJSON, "invalid JSON", "", err)
	}
	req.Action = strings.TrimSpace(req.Action)
	if err := req.Validate(); err != nil {
		code := v1.ErrCodeUnknownAction
		if len(req.ID) > v1.MaxClientIDLen {
			code = v1.ErrCodeBadPayload
			req.ID = ""
		}
		return v1.Request{}, protocolError(code, err.Error(), req.ID, nil)
	}
	return req, nil
}

// decodeData unmarshals req.Data into dst. Missing data decodes as {}.
func decodeData(req v1.Request, dst any) error {
	data := bytes.TrimSpace(req.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		data = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return protocolError(v1.ErrCodeBadPayload, "invalid data for "+req.Action, req.ID, err)
	}
	return nil
}
