package query

import "github.com/libp2p/go-libp2p/core/peer"

// state distinguishes a leaf query (no state) from the two composite
// kinds. A leaf's record carries nilState.
type state interface {
	isState()
}

type nilState struct{}

func (nilState) isState() {}

// getState is the state of a "get" composite: races have-probes against
// a single in-flight block fetch over a FIFO/LIFO fallback list of
// confirmed providers.
type getState struct {
	have      map[ID]struct{}
	block     *ID
	providers []peer.ID
}

func (*getState) isState() {}

// syncState is the state of a "sync" composite: drives a recursive DAG
// walk by interleaving missing-blocks probes with get sub-queries.
type syncState struct {
	missing   map[ID]struct{}
	children  map[ID]struct{}
	providers []peer.ID
}

func (*syncState) isState() {}

// record pairs a query's header with its state.
type record struct {
	hdr   header
	state state
}
