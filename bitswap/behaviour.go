package bitswap

import (
	"context"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/ipfs-embed/bitswap/compat"
	"github.com/ipfs-embed/bitswap/query"
	"github.com/ipfs-embed/bitswap/store"
	"github.com/ipfs-embed/bitswap/wire"
)

// missingBlocksTag correlates a store-worker MissingBlocks response back
// to the query.ID of the probe that issued it.
type missingBlocksTag query.ID

// inboundTag correlates a store-worker Have/Block response back to the
// inbound peer request it is answering.
type inboundTag struct {
	channel ResponseChannel
	peer    peer.ID
	kind    wire.RequestType
}

// drainManager drains query.Manager.Next() to exhaustion, dispatching
// each sub-request and surfacing Progress/Complete events to the host.
// This is step 2 of the reference's three-step poll loop.
func (e *Engine) drainManager(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		ev, ok := e.manager.Next()
		if !ok {
			return
		}
		switch ev := ev.(type) {
		case query.RequestEvent:
			e.dispatchRequestLocked(ctx, ev.ID, ev.Request)
		case query.ProgressEvent:
			e.progressFeed.Send(ev)
		case query.CompleteEvent:
			e.completeFeed.Send(ev)
		}
	}
}

func (e *Engine) dispatchRequestLocked(ctx context.Context, id query.ID, req query.Request) {
	switch r := req.(type) {
	case query.HaveRequest:
		e.sendPeerRequestLocked(ctx, id, r.Peer, wire.Request{Type: wire.Have, Cid: r.Cid})
	case query.BlockRequest:
		e.sendPeerRequestLocked(ctx, id, r.Peer, wire.Request{Type: wire.Block, Cid: r.Cid})
	case query.MissingBlocksRequest:
		e.storeReqs <- store.Request{Kind: store.KindMissingBlocks, Cid: r.Cid, Tag: missingBlocksTag(id)}
	}
}

// sendPeerRequestLocked dispatches req to p over the primary protocol,
// falling back to the legacy protocol immediately for peers already
// known to speak only it. A synchronous dispatch failure is treated as
// an immediate negative response rather than leaving the leaf parked
// forever with no transport event ever able to resolve it.
func (e *Engine) sendPeerRequestLocked(ctx context.Context, id query.ID, p peer.ID, req wire.Request) {
	if _, isCompat := e.compatPeer.Get(p); isCompat {
		if e.sendCompatRequestLocked(ctx, id, p, toQueryRequest(req, p)) {
			return
		}
	}

	rid, err := e.transport.SendRequest(ctx, p, req)
	if err != nil {
		log.WithError(err).WithField("peer", p).Debug("send request failed synchronously")
		e.metrics.OutboundFailureTotal.WithLabelValues(string(ReasonDialFailure)).Inc()
		e.failLeafLocked(id, req.Type, p)
		return
	}
	e.requests[rid] = id
}

func toQueryRequest(req wire.Request, p peer.ID) query.Request {
	if req.Type == wire.Block {
		return query.BlockRequest{Peer: p, Cid: req.Cid}
	}
	return query.HaveRequest{Peer: p, Cid: req.Cid}
}

// sendCompatRequestLocked dispatches req over the legacy protocol when
// the transport implements CompatTransport. It reuses the same
// e.requests correlation map as the primary protocol, since both
// protocols' responses are folded into the same InboundResponseEvent
// vocabulary by the transport before reaching the engine. Returns false
// if no compat transport is available, leaving the caller to fall back
// to the primary protocol.
func (e *Engine) sendCompatRequestLocked(ctx context.Context, id query.ID, p peer.ID, req query.Request) bool {
	ct, ok := e.transport.(CompatTransport)
	if !ok {
		return false
	}
	msg, err := compat.RequestMessage(req)
	if err != nil {
		return false
	}
	reqType := wire.Have
	if _, isBlock := req.(query.BlockRequest); isBlock {
		reqType = wire.Block
	}
	rid, err := ct.SendCompatRequest(ctx, p, msg)
	if err != nil {
		log.WithError(err).WithField("peer", p).Debug("compat send request failed synchronously")
		e.metrics.OutboundFailureTotal.WithLabelValues(string(ReasonDialFailure)).Inc()
		e.failLeafLocked(id, reqType, p)
		return true
	}
	e.requests[rid] = id
	return true
}

// failLeafLocked injects the negative response a have/block leaf expects
// when the transport could never deliver one.
func (e *Engine) failLeafLocked(id query.ID, reqType wire.RequestType, p peer.ID) {
	switch reqType {
	case wire.Have:
		e.manager.InjectResponse(id, query.HaveResponse{Peer: p, Have: false})
	case wire.Block:
		e.manager.InjectResponse(id, query.BlockResponse{Peer: p, Valid: false})
	}
}

// handleStoreResponse is step 1 of the reference's poll loop: drain the
// block-store worker's responses.
func (e *Engine) handleStoreResponse(ctx context.Context, resp store.Response) {
	switch tag := resp.Tag.(type) {
	case missingBlocksTag:
		e.handleMissingBlocksResponseLocked(query.ID(tag), resp)
	case inboundTag:
		e.handleInboundStoreResponseLocked(tag, resp)
	default:
		// Insert responses (and any other untagged request) carry no
		// further action; the worker has already logged failures.
	}
}

func (e *Engine) handleMissingBlocksResponseLocked(id query.ID, resp store.Response) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if resp.Err != nil {
		hdr, ok := e.manager.Info(id)
		if !ok {
			return
		}
		e.manager.Cancel(hdr.Root)
		e.completeFeed.Send(query.CompleteEvent{Root: hdr.Root, Err: resp.Err})
		return
	}
	e.metrics.MissingBlocksTotal.Add(float64(len(resp.Missing)))
	e.manager.InjectResponse(id, query.MissingBlocksResponse{Missing: resp.Missing})
}

func (e *Engine) handleInboundStoreResponseLocked(tag inboundTag, resp store.Response) {
	var wireResp wire.Response
	switch tag.kind {
	case wire.Have:
		wireResp = wire.Response{Kind: wire.KindHave, Have: resp.Have}
		e.metrics.ResponsesTotal.WithLabelValues(responseLabel(resp.Have)).Inc()
	case wire.Block:
		if !resp.Have {
			wireResp = wire.Response{Kind: wire.KindHave, Have: false}
			e.metrics.ResponsesTotal.WithLabelValues("dont_have").Inc()
		} else {
			wireResp = wire.Response{Kind: wire.KindBlock, Block: resp.Data}
			e.metrics.SentBlockBytesTotal.Add(float64(len(resp.Data)))
			e.metrics.ResponsesTotal.WithLabelValues("block").Inc()
		}
	}
	if err := e.transport.SendResponse(tag.channel, wireResp); err != nil {
		log.WithError(err).WithField("peer", tag.peer).Debug("send response failed")
	}
}

func responseLabel(have bool) string {
	if have {
		return "have"
	}
	return "dont_have"
}

// handleTransportEvent is step 3 of the reference's poll loop: drain the
// transport's inbound requests, inbound responses and failures.
func (e *Engine) handleTransportEvent(ctx context.Context, ev TransportEvent) {
	switch ev := ev.(type) {
	case InboundRequestEvent:
		e.handleInboundRequest(ev)
	case InboundResponseEvent:
		e.handleInboundResponse(ev)
	case OutboundFailureEvent:
		e.handleOutboundFailure(ctx, ev)
	case InboundFailureEvent:
		e.metrics.InboundFailureTotal.WithLabelValues(string(ev.Reason)).Inc()
	}
}

func (e *Engine) handleInboundRequest(ev InboundRequestEvent) {
	kind := store.KindHave
	if ev.Request.Type == wire.Block {
		kind = store.KindBlock
	}
	e.storeReqs <- store.Request{
		Kind: kind,
		Cid:  ev.Request.Cid,
		Tag:  inboundTag{channel: ev.Channel, peer: ev.Peer, kind: ev.Request.Type},
	}
}

func (e *Engine) handleInboundResponse(ev InboundResponseEvent) {
	e.mu.Lock()
	id, ok := e.requests[ev.ID]
	if ok {
		delete(e.requests, ev.ID)
	}
	if !ok {
		e.mu.Unlock()
		return
	}
	hdr, ok := e.manager.Info(id)
	e.mu.Unlock()
	if !ok {
		// Already completed or cancelled; the response is simply stale.
		return
	}

	switch ev.Response.Kind {
	case wire.KindHave:
		e.mu.Lock()
		e.manager.InjectResponse(id, query.HaveResponse{Peer: ev.Peer, Have: ev.Response.Have})
		e.mu.Unlock()

	case wire.KindBlock:
		valid := validateBlock(hdr.Cid, ev.Response.Block)
		if valid {
			e.metrics.ReceivedBlockBytesTotal.Add(float64(len(ev.Response.Block)))
			e.storeReqs <- store.Request{
				Kind:  store.KindInsert,
				Block: store.Block{Cid: hdr.Cid, Data: ev.Response.Block},
			}
		} else {
			e.metrics.ReceivedInvalidBlockBytesTotal.Add(float64(len(ev.Response.Block)))
		}
		e.mu.Lock()
		e.manager.InjectResponse(id, query.BlockResponse{Peer: ev.Peer, Valid: valid})
		e.mu.Unlock()
	}
}

// validateBlock verifies data hashes to want under want's own multihash
// algorithm and length, per the "no content validation beyond the hash
// check" contract.
func validateBlock(want cid.Cid, data []byte) bool {
	prefix := want.Prefix()
	got, err := prefix.Sum(data)
	if err != nil {
		return false
	}
	return got.Equals(want)
}

func (e *Engine) handleOutboundFailure(ctx context.Context, ev OutboundFailureEvent) {
	e.mu.Lock()
	id, ok := e.requests[ev.ID]
	if ok {
		delete(e.requests, ev.ID)
	}
	e.mu.Unlock()

	e.metrics.OutboundFailureTotal.WithLabelValues(string(ev.Reason)).Inc()

	if ev.Reason != ReasonUnsupportedProtocols || !ok {
		// The sub-query is left parked in the map. No further event
		// arrives for this request, so its query stays open until another
		// sub-query completes it or the host cancels it.
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	hdr, ok := e.manager.Info(id)
	if !ok {
		return
	}
	e.compatPeer.Add(ev.Peer, true)

	var req query.Request
	switch hdr.Label {
	case query.LabelHave:
		req = query.HaveRequest{Peer: ev.Peer, Cid: hdr.Cid}
	case query.LabelBlock:
		req = query.BlockRequest{Peer: ev.Peer, Cid: hdr.Cid}
	default:
		return
	}
	if !e.sendCompatRequestLocked(ctx, id, ev.Peer, req) {
		e.failLeafLocked(id, wireTypeOf(hdr.Label), ev.Peer)
	}
}

func wireTypeOf(label query.Label) wire.RequestType {
	if label == query.LabelBlock {
		return wire.Block
	}
	return wire.Have
}
