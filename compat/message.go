package compat

import (
	"github.com/gogo/protobuf/proto"
	"github.com/pkg/errors"
)

// WantType mirrors bitswap_pb's Message.Wantlist.WantType enum.
type WantType int32

const (
	WantBlock WantType = 0
	WantHave  WantType = 1
)

// Entry mirrors bitswap_pb's Message.Wantlist.Entry.
type Entry struct {
	Block        []byte
	Priority     int32
	Cancel       bool
	WantType     WantType
	SendDontHave bool
}

// Wantlist mirrors bitswap_pb's Message.Wantlist.
type Wantlist struct {
	Entries []Entry
}

// BlockPresenceType mirrors bitswap_pb's Message.BlockPresenceType enum.
type BlockPresenceType int32

const (
	PresenceHave     BlockPresenceType = 0
	PresenceDontHave BlockPresenceType = 1
)

// BlockPresence mirrors bitswap_pb's Message.BlockPresence.
type BlockPresence struct {
	Cid  []byte
	Type BlockPresenceType
}

// PayloadBlock mirrors bitswap_pb's Message.Block: a block's CID prefix
// plus its raw content bytes.
type PayloadBlock struct {
	Prefix []byte
	Data   []byte
}

// Message mirrors the legacy bitswap_pb.Message schema: an optional
// wantlist, any number of delivered blocks, and any number of have/
// don't-have presence replies.
type Message struct {
	Wantlist       *Wantlist
	Payload        []PayloadBlock
	BlockPresences []BlockPresence
}

// protobuf wire types, per the standard protobuf wire format.
const (
	wireVarint = 0
	wireBytes  = 2
)

func appendTag(buf []byte, field, wireType int) []byte {
	return append(buf, proto.EncodeVarint(uint64(field<<3|wireType))...)
}

func appendVarint(buf []byte, field int, v uint64) []byte {
	buf = appendTag(buf, field, wireVarint)
	return append(buf, proto.EncodeVarint(v)...)
}

func appendBool(buf []byte, field int, v bool) []byte {
	if v {
		return appendVarint(buf, field, 1)
	}
	return appendVarint(buf, field, 0)
}

func appendBytes(buf []byte, field int, data []byte) []byte {
	buf = appendTag(buf, field, wireBytes)
	buf = append(buf, proto.EncodeVarint(uint64(len(data)))...)
	return append(buf, data...)
}

// Marshal encodes m in protobuf wire format.
func (m *Message) Marshal() []byte {
	var out []byte
	if m.Wantlist != nil {
		out = appendBytes(out, 1, m.Wantlist.marshal())
	}
	for _, b := range m.Payload {
		out = appendBytes(out, 3, b.marshal())
	}
	for _, p := range m.BlockPresences {
		out = appendBytes(out, 4, p.marshal())
	}
	return out
}

func (w *Wantlist) marshal() []byte {
	var out []byte
	for _, e := range w.Entries {
		out = appendBytes(out, 1, e.marshal())
	}
	return out
}

func (e *Entry) marshal() []byte {
	var out []byte
	out = appendBytes(out, 1, e.Block)
	out = appendVarint(out, 2, uint64(e.Priority))
	out = appendBool(out, 3, e.Cancel)
	out = appendVarint(out, 4, uint64(e.WantType))
	out = appendBool(out, 5, e.SendDontHave)
	return out
}

func (b *PayloadBlock) marshal() []byte {
	var out []byte
	out = appendBytes(out, 1, b.Prefix)
	out = appendBytes(out, 2, b.Data)
	return out
}

func (p *BlockPresence) marshal() []byte {
	var out []byte
	out = appendBytes(out, 1, p.Cid)
	out = appendVarint(out, 2, uint64(p.Type))
	return out
}

// Unmarshal decodes data into a fresh Message.
func Unmarshal(data []byte) (*Message, error) {
	m := &Message{}
	for len(data) > 0 {
		field, wireType, n, err := readTag(data)
		if err != nil {
			return nil, err
		}
		data = data[n:]

		switch wireType {
		case wireVarint:
			_, n, err := readVarint(data)
			if err != nil {
				return nil, err
			}
			data = data[n:]
			// Top-level message carries no scalar fields; any varint
			// field here belongs to a future extension and is skipped.
			_ = field

		case wireBytes:
			payload, n, err := readBytes(data)
			if err != nil {
				return nil, err
			}
			data = data[n:]

			switch field {
			case 1:
				wl, err := unmarshalWantlist(payload)
				if err != nil {
					return nil, err
				}
				m.Wantlist = wl
			case 3:
				b, err := unmarshalPayloadBlock(payload)
				if err != nil {
					return nil, err
				}
				m.Payload = append(m.Payload, b)
			case 4:
				p, err := unmarshalBlockPresence(payload)
				if err != nil {
					return nil, err
				}
				m.BlockPresences = append(m.BlockPresences, p)
			}

		default:
			return nil, errors.Errorf("compat: unsupported wire type %d", wireType)
		}
	}
	return m, nil
}

func unmarshalWantlist(data []byte) (*Wantlist, error) {
	wl := &Wantlist{}
	for len(data) > 0 {
		field, wireType, n, err := readTag(data)
		if err != nil {
			return nil, err
		}
		data = data[n:]
		if wireType != wireBytes || field != 1 {
			return nil, errors.New("compat: malformed wantlist")
		}
		payload, n, err := readBytes(data)
		if err != nil {
			return nil, err
		}
		data = data[n:]
		e, err := unmarshalEntry(payload)
		if err != nil {
			return nil, err
		}
		wl.Entries = append(wl.Entries, e)
	}
	return wl, nil
}

func unmarshalEntry(data []byte) (Entry, error) {
	var e Entry
	for len(data) > 0 {
		field, wireType, n, err := readTag(data)
		if err != nil {
			return Entry{}, err
		}
		data = data[n:]

		switch {
		case field == 1 && wireType == wireBytes:
			b, n, err := readBytes(data)
			if err != nil {
				return Entry{}, err
			}
			data = data[n:]
			e.Block = b
		case wireType == wireVarint:
			v, n, err := readVarint(data)
			if err != nil {
				return Entry{}, err
			}
			data = data[n:]
			switch field {
			case 2:
				e.Priority = int32(v)
			case 3:
				e.Cancel = v != 0
			case 4:
				e.WantType = WantType(v)
			case 5:
				e.SendDontHave = v != 0
			}
		default:
			return Entry{}, errors.New("compat: malformed wantlist entry")
		}
	}
	return e, nil
}

func unmarshalPayloadBlock(data []byte) (PayloadBlock, error) {
	var b PayloadBlock
	for len(data) > 0 {
		field, wireType, n, err := readTag(data)
		if err != nil {
			return PayloadBlock{}, err
		}
		data = data[n:]
		if wireType != wireBytes {
			return PayloadBlock{}, errors.New("compat: malformed payload block")
		}
		payload, n, err := readBytes(data)
		if err != nil {
			return PayloadBlock{}, err
		}
		data = data[n:]
		switch field {
		case 1:
			b.Prefix = payload
		case 2:
			b.Data = payload
		}
	}
	return b, nil
}

func unmarshalBlockPresence(data []byte) (BlockPresence, error) {
	var p BlockPresence
	for len(data) > 0 {
		field, wireType, n, err := readTag(data)
		if err != nil {
			return BlockPresence{}, err
		}
		data = data[n:]
		switch {
		case field == 1 && wireType == wireBytes:
			b, n, err := readBytes(data)
			if err != nil {
				return BlockPresence{}, err
			}
			data = data[n:]
			p.Cid = b
		case field == 2 && wireType == wireVarint:
			v, n, err := readVarint(data)
			if err != nil {
				return BlockPresence{}, err
			}
			data = data[n:]
			p.Type = BlockPresenceType(v)
		default:
			return BlockPresence{}, errors.New("compat: malformed block presence")
		}
	}
	return p, nil
}

func readVarint(data []byte) (uint64, int, error) {
	v, n := proto.DecodeVarint(data)
	if n == 0 {
		return 0, 0, errors.New("compat: truncated varint")
	}
	return v, n, nil
}

func readTag(data []byte) (field, wireType, n int, err error) {
	v, n, err := readVarint(data)
	if err != nil {
		return 0, 0, 0, errors.Wrap(err, "compat: truncated tag")
	}
	return int(v >> 3), int(v & 0x7), n, nil
}

func readBytes(data []byte) ([]byte, int, error) {
	length, n, err := readVarint(data)
	if err != nil {
		return nil, 0, errors.Wrap(err, "compat: truncated length")
	}
	end := n + int(length)
	if end > len(data) {
		return nil, 0, errors.New("compat: truncated length-delimited field")
	}
	out := make([]byte, length)
	copy(out, data[n:end])
	return out, end, nil
}
