package query

import (
	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Request is a sub-request the manager wants issued, either to a peer
// over the wire or to the local block store.
type Request interface {
	requestLabel() Label
}

// HaveRequest asks a peer whether it holds a block.
type HaveRequest struct {
	Peer peer.ID
	Cid  cid.Cid
}

func (HaveRequest) requestLabel() Label { return LabelHave }

// BlockRequest asks a peer to send a block's bytes.
type BlockRequest struct {
	Peer peer.ID
	Cid  cid.Cid
}

func (BlockRequest) requestLabel() Label { return LabelBlock }

// MissingBlocksRequest asks the local block store which CIDs are still
// needed to materialise the DAG rooted at Cid.
type MissingBlocksRequest struct {
	Cid cid.Cid
}

func (MissingBlocksRequest) requestLabel() Label { return LabelMissingBlocks }

// Response is delivered back into the manager via Manager.InjectResponse.
type Response interface {
	isResponse()
}

// HaveResponse answers a HaveRequest.
type HaveResponse struct {
	Peer peer.ID
	Have bool
}

func (HaveResponse) isResponse() {}

// BlockResponse answers a BlockRequest. Valid is true only once the
// caller has verified the received bytes hash to the requested CID.
type BlockResponse struct {
	Peer  peer.ID
	Valid bool
}

func (BlockResponse) isResponse() {}

// MissingBlocksResponse answers a MissingBlocksRequest.
type MissingBlocksResponse struct {
	Missing []cid.Cid
}

func (MissingBlocksResponse) isResponse() {}

// Event is emitted by a Manager and drained with Manager.Next.
type Event interface {
	isEvent()
}

// RequestEvent carries a sub-request the orchestrator must dispatch,
// either to a peer (HaveRequest/BlockRequest) or to the block store
// (MissingBlocksRequest).
type RequestEvent struct {
	ID      ID
	Request Request
}

func (RequestEvent) isEvent() {}

// ProgressEvent reports that the sync tree rooted at Root still has
// Missing outstanding get sub-queries at the moment of emission.
type ProgressEvent struct {
	Root    ID
	Missing int
}

func (ProgressEvent) isEvent() {}

// CompleteEvent is terminal: Err is nil on success, or a *BlockNotFoundError
// (or the block store's own MissingBlocks error) describing why the root
// query failed.
type CompleteEvent struct {
	Root ID
	Err  error
}

func (CompleteEvent) isEvent() {}

// BlockNotFoundError is the error carried by a failed CompleteEvent when a
// get query exhausted every provider and probe without locating the block.
type BlockNotFoundError struct {
	Cid cid.Cid
}

func (e *BlockNotFoundError) Error() string {
	return "bitswap: block not found: " + e.Cid.String()
}
