package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/go-msgpack/codec"
)

// MaxFrameLength is the largest payload (length-prefix value) the
// decoder accepts before surfacing ErrFrameTooLarge (spec.md §4.1).
const MaxFrameLength = 2 * 1024 * 1024 // 2 MiB

// ErrFrameTooLarge is returned when a frame's declared length exceeds
// MaxFrameLength. It is connection-fatal: the caller (component D)
// tears the connection down on receiving it.
var ErrFrameTooLarge = errors.New("wire: frame length exceeds MAX_FRAME_LENGTH")

// ErrCorruptFrame is returned when a frame's payload fails schema
// decoding. It is connection-fatal, same as ErrFrameTooLarge.
var ErrCorruptFrame = errors.New("wire: frame payload failed to decode")

var msgpackHandle = &codec.MsgpackHandle{}

// Codec is the pair of encode/decode entry points the connection state
// machine uses on its single stream. One Codec wraps one net.Conn for
// the lifetime of a connection.
type Codec struct {
	r *bufio.Reader
	w *bufio.Writer
}

// NewCodec wraps raw reader/writer halves of a connected stream.
func NewCodec(r *bufio.Reader, w *bufio.Writer) *Codec {
	return &Codec{r: r, w: w}
}

// EncodeRequest frames and writes exactly one of req.Add/req.Read,
// flushing the underlying writer. It is safe to call concurrently with
// DecodeResponse on the same Codec (reads and writes use independent
// buffers) but not with another concurrent EncodeRequest — the caller
// (component D/E) serializes writes per connection.
func (c *Codec) EncodeRequest(req *Request) error {
	var opType OpType
	var payload interface{}
	switch {
	case req.Add != nil:
		opType = OpAdd
		payload = req.Add
	case req.Read != nil:
		opType = OpRead
		payload = req.Read
	default:
		return fmt.Errorf("wire: empty request envelope")
	}

	body, err := encodeBody(opType, payload)
	if err != nil {
		return err
	}

	if len(body) > MaxFrameLength {
		return ErrFrameTooLarge
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := c.w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := c.w.Write(body); err != nil {
		return err
	}
	return c.w.Flush()
}

func encodeBody(opType OpType, payload interface{}) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, msgpackHandle)
	if err := enc.Encode(uint8(opType)); err != nil {
		return nil, err
	}
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodeResponse blocks reading the next length-prefixed frame off the
// stream and decodes it into a Response envelope. Returns
// ErrFrameTooLarge or ErrCorruptFrame for malformed frames; both are
// connection-fatal per spec.md §4.1, but this function itself does no
// socket teardown — that is the connection state machine's job.
func (c *Codec) DecodeResponse() (*Response, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxFrameLength {
		// Drain is not attempted: the connection is considered
		// poisoned and must be torn down by the caller.
		return nil, ErrFrameTooLarge
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(c.r, body); err != nil {
		return nil, err
	}

	dec := codec.NewDecoderBytes(body, msgpackHandle)
	var opByte uint8
	if err := dec.Decode(&opByte); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
	}

	resp := &Response{}
	switch OpType(opByte) {
	case OpAdd:
		var add AddResponse
		if err := dec.Decode(&add); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
		}
		resp.Add = &add
	case OpRead:
		var read ReadResponse
		if err := dec.Decode(&read); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
		}
		resp.Read = &read
	default:
		return nil, fmt.Errorf("%w: unknown op type %d", ErrCorruptFrame, opByte)
	}
	return resp, nil
}

// EncodeResponse is the encoding counterpart of DecodeResponse, used by tests to build a
// synthetic server reply without standing up a real bookie.
func EncodeResponse(w *bufio.Writer, resp *Response) error {
	var opType OpType
	var payload interface{}
	switch {
	case resp.Add != nil:
		opType = OpAdd
		payload = resp.Add
	case resp.Read != nil:
		opType = OpRead
		payload = resp.Read
	default:
		return fmt.Errorf("wire: empty response envelope")
	}

	body, err := encodeBody(opType, payload)
	if err != nil {
		return err
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	return w.Flush()
}

// DecodeRequest is the decoding counterpart used by a test server/fake
// peer to read what a real client sent.
func DecodeRequest(r *bufio.Reader) (*Request, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxFrameLength {
		return nil, ErrFrameTooLarge
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	dec := codec.NewDecoderBytes(body, msgpackHandle)
	var opByte uint8
	if err := dec.Decode(&opByte); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
	}

	req := &Request{}
	switch OpType(opByte) {
	case OpAdd:
		var add AddRequest
		if err := dec.Decode(&add); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
		}
		req.Add = &add
	case OpRead:
		var read ReadRequest
		if err := dec.Decode(&read); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
		}
		req.Read = &read
	default:
		return nil, fmt.Errorf("%w: unknown op type %d", ErrCorruptFrame, opByte)
	}
	return req, nil
}
