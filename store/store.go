// Package store drives an embedder-supplied content-addressed block store
// on a single dedicated goroutine, exactly the way the query engine's
// host is expected to run its own blocking I/O: requests arrive on a
// channel and are executed strictly in receive order, with results
// published on a second channel back to the orchestrator.
package store

import (
	"github.com/ipfs/go-cid"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "store")

// Block is a content-addressed byte buffer identified by its CID.
type Block struct {
	Cid  cid.Cid
	Data []byte
}

// Params bounds the sizes the worker and codec enforce.
type Params struct {
	// MaxBlockSize is the largest payload Insert/Block will accept,
	// matching the legacy protocol's own buffer ceiling. The worker skips
	// a larger Insert and reports a larger stored block as absent.
	MaxBlockSize int
}

// DefaultParams matches the legacy shim's MAX_BUF_SIZE.
func DefaultParams() Params {
	return Params{MaxBlockSize: 2 << 20}
}

// BlockStore is the embedder-supplied abstraction over a local
// content-addressed store. Implementations are assumed blocking; the
// Worker is solely responsible for keeping them off the orchestrator's
// goroutine.
type BlockStore interface {
	Contains(cid.Cid) (bool, error)
	Get(cid.Cid) ([]byte, error)
	Insert(Block) error
	MissingBlocks(cid.Cid) ([]cid.Cid, error)
}
