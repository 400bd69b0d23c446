// Package wire implements the primary Bitswap frame codec: every message
// is a single unsigned-varint length prefix followed by a payload, read
// and written in one shot per frame.
package wire

import (
	"github.com/ipfs/go-cid"
	"github.com/pkg/errors"
)

// MaxCIDSize bounds the canonical binary form of any CID this codec will
// accept: ReadRequest rejects request frames over MaxCIDSize+1 bytes (the
// leading request-type byte plus the CID). WriteRequest does not check
// the CID's length.
const MaxCIDSize = 40

// ErrMessageTooLarge is returned when a frame's declared length exceeds
// the bound for its message kind.
var ErrMessageTooLarge = errors.New("wire: message too large")

// RequestType discriminates the two request kinds.
type RequestType byte

const (
	Have  RequestType = 0
	Block RequestType = 1
)

// Request is either a have-probe or a block-fetch for Cid.
type Request struct {
	Type RequestType
	Cid  cid.Cid
}

// ResponseKind discriminates the two response kinds.
type ResponseKind byte

const (
	KindHave  ResponseKind = 0
	KindBlock ResponseKind = 1
)

// Response is a Have(bool) or a Block(bytes), never both.
type Response struct {
	Kind  ResponseKind
	Have  bool
	Block []byte
}
