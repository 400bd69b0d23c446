package compat

import (
	"io"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-varint"
	"github.com/pkg/errors"

	"github.com/ipfs-embed/bitswap/query"
)

// ID is the legacy Bitswap protocol this package speaks in addition to
// the primary /ipfs-embed/bitswap/1.0.0 protocol.
const ID protocol.ID = "/ipfs/bitswap/1.2.0"

// MaxBufSize bounds a single legacy protobuf message, matching the
// reference implementation's own framing limit.
const MaxBufSize = 2 << 20

// ReadMessage reads one varint length-prefixed protobuf message, up to
// MaxBufSize bytes.
func ReadMessage(r io.Reader) (*Message, error) {
	length, err := varint.ReadUvarint(r)
	if err != nil {
		return nil, errors.Wrap(err, "compat: read length prefix")
	}
	if length > MaxBufSize {
		return nil, errors.Errorf("compat: message of %d bytes exceeds %d byte limit", length, MaxBufSize)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "compat: read message body")
	}
	return Unmarshal(buf)
}

// WriteMessage writes m as one varint length-prefixed protobuf message.
func WriteMessage(w io.Writer, m *Message) error {
	body := m.Marshal()
	if _, err := w.Write(varint.ToUvarint(uint64(len(body)))); err != nil {
		return errors.Wrap(err, "compat: write length prefix")
	}
	if _, err := w.Write(body); err != nil {
		return errors.Wrap(err, "compat: write message body")
	}
	return nil
}

// RequestMessage builds the single-entry wantlist message the legacy
// protocol uses to carry one outbound have/block request.
func RequestMessage(req query.Request) (*Message, error) {
	var c cid.Cid
	var wantType WantType
	switch r := req.(type) {
	case query.HaveRequest:
		c, wantType = r.Cid, WantHave
	case query.BlockRequest:
		c, wantType = r.Cid, WantBlock
	default:
		return nil, errors.Errorf("compat: %T has no legacy request encoding", req)
	}
	return &Message{
		Wantlist: &Wantlist{Entries: []Entry{{
			Block:        c.Bytes(),
			Priority:     1,
			WantType:     wantType,
			SendDontHave: true,
		}}},
	}, nil
}

// HaveResponseMessage builds a block-presence reply.
func HaveResponseMessage(c cid.Cid, have bool) *Message {
	presenceType := PresenceDontHave
	if have {
		presenceType = PresenceHave
	}
	return &Message{BlockPresences: []BlockPresence{{Cid: c.Bytes(), Type: presenceType}}}
}

// BlockResponseMessage builds a payload reply carrying c's content.
func BlockResponseMessage(c cid.Cid, data []byte) *Message {
	return &Message{Payload: []PayloadBlock{{Prefix: NewPrefix(c).Bytes(), Data: data}}}
}

// Requests translates every wantlist entry in m into an internal
// request. A single legacy message may carry several entries; each
// becomes an independent request, per the protocol's batching design.
// The Peer field of each request is left zero; the caller fills it in
// from the stream's remote peer.
func Requests(m *Message) ([]query.Request, error) {
	if m.Wantlist == nil {
		return nil, nil
	}
	reqs := make([]query.Request, 0, len(m.Wantlist.Entries))
	for _, e := range m.Wantlist.Entries {
		c, err := cid.Cast(e.Block)
		if err != nil {
			return nil, errors.Wrap(err, "compat: decode wantlist entry cid")
		}
		switch e.WantType {
		case WantHave:
			reqs = append(reqs, query.HaveRequest{Cid: c})
		case WantBlock:
			reqs = append(reqs, query.BlockRequest{Cid: c})
		default:
			return nil, errors.Errorf("compat: unknown want type %d", e.WantType)
		}
	}
	return reqs, nil
}

// ResolvedBlock is a payload block translated back into an internal
// (cid, bytes) pair, with the CID reconstructed from its carried prefix.
type ResolvedBlock struct {
	Cid  cid.Cid
	Data []byte
}

// Blocks translates every payload entry in m into a ResolvedBlock.
func Blocks(m *Message) ([]ResolvedBlock, error) {
	out := make([]ResolvedBlock, 0, len(m.Payload))
	for _, b := range m.Payload {
		c, err := CidFromBlock(b.Prefix, b.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, ResolvedBlock{Cid: c, Data: b.Data})
	}
	return out, nil
}

// ResolvedPresence is a block-presence entry translated back into a
// (cid, have) pair. The orchestrator needs the CID to tell which
// outstanding have-query a batched legacy message's entry answers.
type ResolvedPresence struct {
	Cid  cid.Cid
	Have bool
}

// Presences translates every block-presence entry in m into a
// ResolvedPresence.
func Presences(m *Message) ([]ResolvedPresence, error) {
	out := make([]ResolvedPresence, 0, len(m.BlockPresences))
	for _, p := range m.BlockPresences {
		c, err := cid.Cast(p.Cid)
		if err != nil {
			return nil, errors.Wrap(err, "compat: decode block presence cid")
		}
		out = append(out, ResolvedPresence{Cid: c, Have: p.Type == PresenceHave})
	}
	return out, nil
}
