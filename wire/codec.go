package wire

import (
	"io"

	"github.com/ipfs/go-cid"
	"github.com/pkg/errors"
	"github.com/multiformats/go-varint"
)

// Codec encodes and decodes wire frames. It is stateless apart from a
// reusable scratch buffer sized for the largest payload it will ever
// handle, so a single Codec may be reused across many frames on the same
// stream without reallocating.
type Codec struct {
	maxBlockSize int
	scratch      []byte
}

// NewCodec sizes the scratch buffer to the larger of a request frame and
// a block-response frame of maxBlockSize bytes.
func NewCodec(maxBlockSize int) *Codec {
	size := MaxCIDSize + 1
	if maxBlockSize+1 > size {
		size = maxBlockSize + 1
	}
	return &Codec{maxBlockSize: maxBlockSize, scratch: make([]byte, size)}
}

// WriteRequest emits exactly one write of the length prefix and one of
// the payload.
func (c *Codec) WriteRequest(w io.Writer, req Request) error {
	cidBytes := req.Cid.Bytes()
	payload := c.buf(1 + len(cidBytes))
	payload[0] = byte(req.Type)
	copy(payload[1:], cidBytes)
	return writeFrame(w, payload)
}

// ReadRequest reads one length-prefixed request frame.
func (c *Codec) ReadRequest(r io.Reader) (Request, error) {
	payload, err := readFrame(r, MaxCIDSize+1)
	if err != nil {
		return Request{}, err
	}
	if len(payload) < 1 {
		return Request{}, errors.New("wire: empty request frame")
	}
	parsed, err := cid.Cast(payload[1:])
	if err != nil {
		return Request{}, errors.Wrap(err, "wire: decode request cid")
	}
	return Request{Type: RequestType(payload[0]), Cid: parsed}, nil
}

// WriteResponse emits exactly one write of the length prefix and one of
// the payload.
func (c *Codec) WriteResponse(w io.Writer, resp Response) error {
	switch resp.Kind {
	case KindHave:
		payload := c.buf(2)
		payload[0] = byte(KindHave)
		if resp.Have {
			payload[1] = 1
		} else {
			payload[1] = 0
		}
		return writeFrame(w, payload)
	case KindBlock:
		payload := c.buf(1 + len(resp.Block))
		payload[0] = byte(KindBlock)
		copy(payload[1:], resp.Block)
		return writeFrame(w, payload)
	default:
		return errors.Errorf("wire: unknown response kind %d", resp.Kind)
	}
}

// ReadResponse reads one length-prefixed response frame.
func (c *Codec) ReadResponse(r io.Reader) (Response, error) {
	payload, err := readFrame(r, c.maxBlockSize+1)
	if err != nil {
		return Response{}, err
	}
	if len(payload) < 1 {
		return Response{}, errors.New("wire: empty response frame")
	}
	switch ResponseKind(payload[0]) {
	case KindHave:
		if len(payload) != 2 {
			return Response{}, errors.New("wire: malformed have response")
		}
		return Response{Kind: KindHave, Have: payload[1] != 0}, nil
	case KindBlock:
		data := make([]byte, len(payload)-1)
		copy(data, payload[1:])
		return Response{Kind: KindBlock, Block: data}, nil
	default:
		return Response{}, errors.Errorf("wire: unknown response kind %d", payload[0])
	}
}

// buf returns the codec's scratch buffer truncated/grown to exactly n
// bytes, reusing its backing array when large enough.
func (c *Codec) buf(n int) []byte {
	if cap(c.scratch) < n {
		c.scratch = make([]byte, n)
	}
	return c.scratch[:n]
}

func writeFrame(w io.Writer, payload []byte) error {
	if _, err := w.Write(varint.ToUvarint(uint64(len(payload)))); err != nil {
		return errors.Wrap(err, "wire: write length prefix")
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "wire: write payload")
	}
	return nil
}

func readFrame(r io.Reader, maxLen int) ([]byte, error) {
	length, err := varint.ReadUvarint(r)
	if err != nil {
		return nil, errors.Wrap(err, "wire: read length prefix")
	}
	if length > uint64(maxLen) {
		return nil, errors.Wrapf(ErrMessageTooLarge, "frame of %d bytes exceeds limit %d", length, maxLen)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.Wrap(err, "wire: read payload")
	}
	return payload, nil
}
