package bitswap

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/ipfs-embed/bitswap/compat"
	"github.com/ipfs-embed/bitswap/wire"
)

// RequestID identifies one outbound request in flight on the transport.
// The engine never interprets it beyond using it as a map key; it is
// whatever value the concrete transport hands back from SendRequest.
type RequestID uint64

// ResponseChannel is the transport's own handle for replying to one
// inbound request. The engine passes it back to SendResponse unexamined.
type ResponseChannel interface{}

// OutboundFailureReason labels why an outbound request did not complete.
// Values double as the "reason" label on bitswap_outbound_failure_total.
type OutboundFailureReason string

const (
	ReasonUnsupportedProtocols OutboundFailureReason = "unsupported_protocols"
	ReasonTimeout              OutboundFailureReason = "timeout"
	ReasonConnectionClosed     OutboundFailureReason = "connection_closed"
	ReasonDialFailure          OutboundFailureReason = "dial_failure"
	ReasonOmission             OutboundFailureReason = "omission"
)

// InboundFailureReason labels why an inbound request could not be
// served. Values double as the "reason" label on
// bitswap_inbound_failure_total.
type InboundFailureReason string

const (
	ReasonResponseOmission   InboundFailureReason = "response_omission"
	ReasonInboundTimeout     InboundFailureReason = "timeout"
	ReasonConnectionClosedIn InboundFailureReason = "connection_closed"
)

// TransportEvent is one of InboundRequestEvent, InboundResponseEvent,
// OutboundFailureEvent or InboundFailureEvent.
type TransportEvent interface {
	isTransportEvent()
}

// InboundRequestEvent is a request a remote peer sent us, awaiting a
// reply on Channel.
type InboundRequestEvent struct {
	Channel ResponseChannel
	Peer    peer.ID
	Request wire.Request
}

func (InboundRequestEvent) isTransportEvent() {}

// InboundResponseEvent is the reply to one of our own outbound requests.
type InboundResponseEvent struct {
	ID       RequestID
	Peer     peer.ID
	Response wire.Response
}

func (InboundResponseEvent) isTransportEvent() {}

// OutboundFailureEvent reports that one of our own outbound requests
// did not complete.
type OutboundFailureEvent struct {
	ID     RequestID
	Peer   peer.ID
	Reason OutboundFailureReason
}

func (OutboundFailureEvent) isTransportEvent() {}

// InboundFailureEvent reports that an inbound request could not be
// served.
type InboundFailureEvent struct {
	Peer   peer.ID
	Reason InboundFailureReason
}

func (InboundFailureEvent) isTransportEvent() {}

// Transport is the contract the engine consumes from the (out-of-scope)
// network layer: a request/response framing abstraction addressed by
// peer.ID, with connection lifecycle managed elsewhere. A concrete
// implementation wraps a go-libp2p host.Host and its
// network.Stream-based request/response protocol.
type Transport interface {
	// AddAddress and RemoveAddress record or forget a candidate address
	// for p, used when the transport needs to dial.
	AddAddress(p peer.ID, addr multiaddr.Multiaddr)
	RemoveAddress(p peer.ID, addr multiaddr.Multiaddr)

	// SendRequest dispatches req to p asynchronously; its outcome
	// (InboundResponseEvent or OutboundFailureEvent carrying the returned
	// RequestID) arrives later on Events().
	SendRequest(ctx context.Context, p peer.ID, req wire.Request) (RequestID, error)

	// SendResponse replies to the inbound request associated with ch.
	SendResponse(ch ResponseChannel, resp wire.Response) error

	// Events yields inbound requests, inbound responses, and failures of
	// both directions. The engine's event loop receives one event per
	// iteration.
	Events() <-chan TransportEvent
}

// CompatTransport is implemented by a Transport that also speaks the
// legacy /ipfs/bitswap/1.2.0 protocol. The engine type-asserts for it
// when a peer rejects the primary protocol with
// ReasonUnsupportedProtocols; a Transport that never implements it
// simply never receives a fallback retry.
type CompatTransport interface {
	SendCompatRequest(ctx context.Context, p peer.ID, msg *compat.Message) (RequestID, error)
}
