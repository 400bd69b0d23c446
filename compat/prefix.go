// Package compat implements the legacy /ipfs/bitswap/1.2.0 wire protocol:
// a protobuf-encoded message translated to and from the same internal
// request/response vocabulary the primary protocol uses, so the
// orchestrator never needs to know which wire format a peer speaks.
package compat

import (
	"github.com/gogo/protobuf/proto"
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/pkg/errors"
)

// Prefix is the version/codec/multihash-type/multihash-length quad a CID
// reduces to once its content is stripped away. It round-trips through
// Bytes/NewPrefixFromBytes using the same unsigned-varint sequence the
// legacy protocol's Block.prefix field carries.
type Prefix struct {
	Version uint64
	Codec   uint64
	MhType  uint64
	MhLen   uint64
}

// NewPrefix extracts the Prefix of c.
func NewPrefix(c cid.Cid) Prefix {
	p := c.Prefix()
	return Prefix{
		Version: uint64(p.Version),
		Codec:   p.Codec,
		MhType:  uint64(p.MhType),
		MhLen:   uint64(p.MhLength),
	}
}

// Bytes encodes the prefix as varint(version)·varint(codec)·varint(mh_type)·varint(mh_len).
func (p Prefix) Bytes() []byte {
	out := proto.EncodeVarint(p.Version)
	out = append(out, proto.EncodeVarint(p.Codec)...)
	out = append(out, proto.EncodeVarint(p.MhType)...)
	out = append(out, proto.EncodeVarint(p.MhLen)...)
	return out
}

// NewPrefixFromBytes decodes a Prefix previously produced by Bytes.
func NewPrefixFromBytes(data []byte) (Prefix, error) {
	version, n := proto.DecodeVarint(data)
	if n == 0 {
		return Prefix{}, errors.New("compat: truncated prefix (version)")
	}
	data = data[n:]

	codec, n := proto.DecodeVarint(data)
	if n == 0 {
		return Prefix{}, errors.New("compat: truncated prefix (codec)")
	}
	data = data[n:]

	mhType, n := proto.DecodeVarint(data)
	if n == 0 {
		return Prefix{}, errors.New("compat: truncated prefix (multihash type)")
	}
	data = data[n:]

	mhLen, n := proto.DecodeVarint(data)
	if n == 0 {
		return Prefix{}, errors.New("compat: truncated prefix (multihash length)")
	}

	return Prefix{Version: version, Codec: codec, MhType: mhType, MhLen: mhLen}, nil
}

// CidFromBlock reconstructs the CID of a legacy payload block by
// recomputing the multihash of data under the digest algorithm named by
// the prefix and validating its declared length.
func CidFromBlock(prefixBytes, data []byte) (cid.Cid, error) {
	p, err := NewPrefixFromBytes(prefixBytes)
	if err != nil {
		return cid.Undef, err
	}
	sum, err := mh.Sum(data, mh.Code(p.MhType), int(p.MhLen))
	if err != nil {
		return cid.Undef, errors.Wrap(err, "compat: recompute multihash")
	}
	switch p.Version {
	case 0:
		return cid.NewCidV0(sum), nil
	default:
		return cid.NewCidV1(p.Codec, sum), nil
	}
}
