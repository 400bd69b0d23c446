// Package query implements the Bitswap query engine: a single-threaded,
// lock-free state machine that tracks in-flight have/block/missing-blocks
// probes and the get/sync composites built out of them. A Manager has no
// internal locking and none of its methods may be called concurrently;
// package bitswap serialises every call through one mutex.
package query

import (
	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/ipfs-embed/bitswap/metrics"
)

var log = logrus.WithField("prefix", "query")

// Manager holds the set of live queries and sub-queries and the FIFO
// queue of events waiting to be drained.
type Manager struct {
	nextID  uint64
	queries map[ID]*record
	events  eventQueue
	metrics *metrics.Metrics
}

// NewManager creates an empty Manager. m must not be nil; use
// metrics.New() if the host has no registry of its own yet.
func NewManager(m *metrics.Metrics) *Manager {
	return &Manager{
		queries: make(map[ID]*record),
		metrics: m,
	}
}

func (mgr *Manager) allocID() ID {
	id := ID(mgr.nextID)
	mgr.nextID++
	return id
}

// transition is the result of a state-transition closure passed to
// withGet/withSync: either "keep going" (done == false) or "finalize with
// this result" (done == true; err == nil means success).
type transition struct {
	done bool
	err  error
}

func (mgr *Manager) startQuery(root ID, parent *ID, c cid.Cid, label Label, req Request) ID {
	id := mgr.allocID()
	timer := prometheus.NewTimer(mgr.metrics.RequestDurationSeconds.WithLabelValues(string(label)))
	mgr.queries[id] = &record{
		hdr: header{
			id:     id,
			root:   root,
			parent: parent,
			cid:    c,
			label:  label,
			timer:  timer,
		},
		state: nilState{},
	}
	log.WithField("root", root).WithField("id", id).Tracef("%s %s", label, c)
	mgr.events.push(RequestEvent{ID: id, Request: req})
	return id
}

func (mgr *Manager) have(root, parent ID, p peer.ID, c cid.Cid) ID {
	return mgr.startQuery(root, &parent, c, LabelHave, HaveRequest{Peer: p, Cid: c})
}

func (mgr *Manager) block(root, parent ID, p peer.ID, c cid.Cid) ID {
	return mgr.startQuery(root, &parent, c, LabelBlock, BlockRequest{Peer: p, Cid: c})
}

func (mgr *Manager) missingBlocks(parent ID, c cid.Cid) ID {
	return mgr.startQuery(parent, &parent, c, LabelMissingBlocks, MissingBlocksRequest{Cid: c})
}

// get starts a "get" composite. When root is nil the new query is itself a
// root (a top-level Get); otherwise it is a sync-spawned sub-query whose
// root and parent both equal *root. providers must be non-empty; callers
// (Get and Sync) are responsible for rejecting empty provider lists before
// reaching here.
func (mgr *Manager) get(root *ID, c cid.Cid, providers []peer.ID) ID {
	id := mgr.allocID()
	rootID := id
	var parent *ID
	if root != nil {
		rootID = *root
		parent = root
	}

	st := &getState{have: make(map[ID]struct{})}
	for _, p := range providers {
		if st.block == nil {
			bid := mgr.block(rootID, id, p, c)
			st.block = &bid
		} else {
			hid := mgr.have(rootID, id, p, c)
			st.have[hid] = struct{}{}
		}
	}

	timer := prometheus.NewTimer(mgr.metrics.RequestDurationSeconds.WithLabelValues(string(LabelGet)))
	mgr.queries[id] = &record{
		hdr: header{id: id, root: rootID, parent: parent, cid: c, label: LabelGet, timer: timer},
		state: st,
	}
	return id
}

// Get starts a query to locate and retrieve a single block. The first
// element of providers is used immediately as the block fetch target;
// every remaining provider becomes a have probe. Fails if providers is
// empty.
func (mgr *Manager) Get(c cid.Cid, providers []peer.ID) (ID, error) {
	if len(providers) == 0 {
		return 0, errors.New("query: Get requires at least one provider")
	}
	return mgr.get(nil, c, providers), nil
}

// Sync starts a query to recursively materialise the DAG rooted at c. For
// each CID in missing a get sub-query is spawned immediately; if missing
// is empty a missing-blocks probe is queued for c itself instead.
// providers is retained and propagated to every descendant get. Fails if
// providers is empty, since every get spawned now or later by the DAG walk
// would otherwise violate Get's own precondition.
func (mgr *Manager) Sync(c cid.Cid, providers []peer.ID, missing []cid.Cid) (ID, error) {
	if len(providers) == 0 {
		return 0, errors.New("query: Sync requires at least one provider")
	}

	id := mgr.allocID()
	st := &syncState{
		missing:   make(map[ID]struct{}),
		children:  make(map[ID]struct{}),
		providers: append([]peer.ID(nil), providers...),
	}
	for _, mc := range missing {
		gid := mgr.get(&id, mc, providers)
		st.missing[gid] = struct{}{}
	}
	if len(st.missing) == 0 {
		cid_ := mgr.missingBlocks(id, c)
		st.children[cid_] = struct{}{}
	}

	timer := prometheus.NewTimer(mgr.metrics.RequestDurationSeconds.WithLabelValues(string(LabelSync)))
	mgr.queries[id] = &record{
		hdr: header{id: id, root: id, parent: nil, cid: c, label: LabelSync, timer: timer},
		state: st,
	}
	return id, nil
}

// Cancel removes root and every descendant sub-query. Already-queued
// Request and Progress events for the tree are dropped; already-queued
// Complete events are retained, since they are already commitments made
// to the caller. Returns false if root is unknown, or refers to a live
// sub-query rather than a started root.
func (mgr *Manager) Cancel(root ID) bool {
	rec, ok := mgr.queries[root]
	if !ok {
		return false
	}
	if _, isNil := rec.state.(nilState); isNil || rec.hdr.parent != nil {
		return false
	}

	delete(mgr.queries, root)
	queries := mgr.queries
	mgr.events.filter(func(e Event) bool {
		switch ev := e.(type) {
		case RequestEvent:
			r, ok := queries[ev.ID]
			if !ok {
				return true
			}
			return r.hdr.root != root
		case ProgressEvent:
			return ev.Root != root
		default: // CompleteEvent retained unconditionally
			return true
		}
	})

	rec.hdr.release(mgr.metrics)
	mgr.deleteDescendants(rec.state)
	mgr.metrics.RequestsCanceledTotal.Inc()
	log.WithField("root", root).Trace("cancel")
	return true
}

// releaseAndDelete releases id's header, if it is still live, and removes
// its record from the map. Safe to call on an id that is no longer
// present.
func (mgr *Manager) releaseAndDelete(id ID) {
	rec, ok := mgr.queries[id]
	if !ok {
		return
	}
	rec.hdr.release(mgr.metrics)
	delete(mgr.queries, id)
}

// deleteDescendants releases and removes every sub-query record reachable
// from st, recursing into a sync composite's own get children. Leaf
// queries (have/block/missing-blocks probes) carry nilState and have no
// further descendants of their own. Every record it touches has its
// header released exactly once, same as a normal completion, so a
// discarded subtree is not silently missing from
// bitswap_requests_total/bitswap_request_duration_seconds.
func (mgr *Manager) deleteDescendants(st state) {
	switch st := st.(type) {
	case *getState:
		for hid := range st.have {
			mgr.releaseAndDelete(hid)
		}
		if st.block != nil {
			mgr.releaseAndDelete(*st.block)
		}
	case *syncState:
		for cid_ := range st.children {
			mgr.releaseAndDelete(cid_)
		}
		for gid := range st.missing {
			if child, ok := mgr.queries[gid]; ok {
				mgr.deleteDescendants(child.state)
			}
			mgr.releaseAndDelete(gid)
		}
	}
}

// InjectResponse drives the state machine with the response to a
// previously issued sub-request. Unknown ids (already cancelled or
// completed) are silently discarded.
func (mgr *Manager) InjectResponse(id ID, resp Response) {
	rec, ok := mgr.queries[id]
	if !ok {
		return
	}
	delete(mgr.queries, id)
	rec.hdr.release(mgr.metrics)

	switch r := resp.(type) {
	case HaveResponse:
		mgr.recvHave(rec.hdr, r.Peer, r.Have)
	case BlockResponse:
		mgr.recvBlock(rec.hdr, r.Peer, r.Valid)
	case MissingBlocksResponse:
		mgr.recvMissingBlocks(rec.hdr, r.Missing)
	}
}

// Next drains the next pending event, if any.
func (mgr *Manager) Next() (Event, bool) {
	return mgr.events.pop()
}

// Info returns a read-only view of a live query.
func (mgr *Manager) Info(id ID) (Header, bool) {
	rec, ok := mgr.queries[id]
	if !ok {
		return Header{}, false
	}
	return Header{
		ID:     rec.hdr.id,
		Root:   rec.hdr.root,
		Parent: rec.hdr.parent,
		Cid:    rec.hdr.cid,
		Label:  rec.hdr.label,
	}, true
}

// withGet removes the get composite id from the map, if present, and
// applies f to its state. f mutates the state in place; its return value
// says whether the composite should be reinserted (continue) or finalized
// (done).
func (mgr *Manager) withGet(id ID, f func(hdr *header, st *getState) transition) {
	rec, ok := mgr.queries[id]
	if !ok {
		return
	}
	st, ok := rec.state.(*getState)
	if !ok {
		return
	}
	delete(mgr.queries, id)
	t := f(&rec.hdr, st)
	if !t.done {
		mgr.queries[id] = rec
		return
	}
	mgr.finalizeGet(rec.hdr, t.err)
}

// withSync is the sync-composite analogue of withGet.
func (mgr *Manager) withSync(id ID, f func(hdr *header, st *syncState) transition) {
	rec, ok := mgr.queries[id]
	if !ok {
		return
	}
	st, ok := rec.state.(*syncState)
	if !ok {
		return
	}
	delete(mgr.queries, id)
	t := f(&rec.hdr, st)
	if !t.done {
		mgr.queries[id] = rec
		return
	}
	mgr.finalizeSync(rec.hdr, t.err)
}

// recvHave processes the response of a have sub-query (leaf already
// removed from the map by the caller). It also serves as the fallback
// path for a failed block response: the leaf's own id is simply absent
// from state.have in that case, so removing it from the set is a no-op.
func (mgr *Manager) recvHave(leaf header, p peer.ID, have bool) {
	mgr.withGet(*leaf.parent, func(hdr *header, st *getState) transition {
		delete(st.have, leaf.id)
		if st.block != nil && *st.block == leaf.id {
			st.block = nil
		}
		if have {
			st.providers = append(st.providers, p)
			mgr.metrics.ProvidersTotal.Inc()
		}
		if st.block == nil && len(st.providers) > 0 {
			next := st.providers[len(st.providers)-1]
			st.providers = st.providers[:len(st.providers)-1]
			bid := mgr.block(hdr.root, hdr.id, next, hdr.cid)
			st.block = &bid
		}
		if len(st.have) == 0 && st.block == nil && len(st.providers) == 0 {
			// Every probe and fallback is exhausted and no Block response
			// ever succeeded (a success short-circuits before this point).
			return transition{done: true, err: &BlockNotFoundError{Cid: hdr.cid}}
		}
		return transition{}
	})
}

// recvBlock processes the response of a block sub-query.
func (mgr *Manager) recvBlock(leaf header, p peer.ID, valid bool) {
	if !valid {
		mgr.recvHave(leaf, p, false)
		return
	}
	mgr.withGet(*leaf.parent, func(hdr *header, st *getState) transition {
		st.providers = append(st.providers, p)
		return transition{done: true, err: nil}
	})
}

// finalizeGet is called exactly once per get composite, when it completes.
// A top-level get (parent == nil) surfaces a Complete event directly; a
// sync-spawned get instead feeds its result back into the parent sync.
func (mgr *Manager) finalizeGet(hdr header, err error) {
	hdr.release(mgr.metrics)
	if err != nil {
		mgr.metrics.BlockNotFoundTotal.Inc()
	}
	if hdr.parent == nil {
		mgr.events.push(CompleteEvent{Root: hdr.root, Err: err})
		log.WithField("root", hdr.root).WithField("id", hdr.id).Trace("get complete")
		return
	}
	mgr.recvGet(*hdr.parent, hdr.id, hdr.cid, err)
}

// recvGet folds the completion of a child get into its parent sync. A
// failed child discards every other in-flight missing-get and
// missing-blocks probe the sync still owns -- the sync is about to
// complete with an error, and none of its siblings may be left as
// orphans in mgr.queries.
func (mgr *Manager) recvGet(syncID, getID ID, c cid.Cid, err error) {
	mgr.withSync(syncID, func(hdr *header, st *syncState) transition {
		delete(st.missing, getID)
		if err != nil {
			mgr.deleteDescendants(st)
			return transition{done: true, err: err}
		}
		cid_ := mgr.missingBlocks(hdr.id, c)
		st.children[cid_] = struct{}{}
		if len(st.missing) == 0 && len(st.children) == 0 {
			return transition{done: true}
		}
		return transition{}
	})
}

// recvMissingBlocks processes the response of a missing-blocks probe. The
// get sub-queries it spawns are queued first, and the Progress event
// announcing them is pushed only once every spawn has happened, matching
// the ordering rule "sub-query Requests (deepest first), then Progress,
// then Complete".
func (mgr *Manager) recvMissingBlocks(leaf header, missing []cid.Cid) {
	mgr.withSync(*leaf.parent, func(hdr *header, st *syncState) transition {
		delete(st.children, leaf.id)
		for _, c := range missing {
			gid := mgr.get(&hdr.id, c, st.providers)
			st.missing[gid] = struct{}{}
		}
		if len(missing) > 0 {
			mgr.events.push(ProgressEvent{Root: hdr.root, Missing: len(st.missing)})
		}
		if len(st.missing) == 0 && len(st.children) == 0 {
			return transition{done: true}
		}
		return transition{}
	})
}

// finalizeSync is called exactly once per sync composite, when it
// completes. A sync is always a root, so it always surfaces a Complete
// event; it never has a parent of its own.
func (mgr *Manager) finalizeSync(hdr header, err error) {
	hdr.release(mgr.metrics)
	mgr.events.push(CompleteEvent{Root: hdr.root, Err: err})
	log.WithField("root", hdr.root).Trace("sync complete")
}
