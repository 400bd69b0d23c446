package store

import (
	"context"

	"github.com/ipfs/go-cid"
)

// Kind discriminates the four operations a Worker executes.
type Kind int

const (
	KindHave Kind = iota
	KindBlock
	KindInsert
	KindMissingBlocks
)

func (k Kind) String() string {
	switch k {
	case KindHave:
		return "have"
	case KindBlock:
		return "block"
	case KindInsert:
		return "insert"
	case KindMissingBlocks:
		return "missing-blocks"
	default:
		return "unknown"
	}
}

// Request is one operation queued to the worker. Tag is an opaque
// correlation token the caller attaches and receives back unchanged on
// the matching Response; the orchestrator uses it to carry the
// originating query.ID or transport response channel.
type Request struct {
	Kind  Kind
	Cid   cid.Cid
	Block Block
	Tag   interface{}
}

// Response answers a Request in the order it was issued.
type Response struct {
	Kind    Kind
	Tag     interface{}
	Have    bool
	Data    []byte
	Missing []cid.Cid
	// Err is set for KindMissingBlocks and for an unknown Kind;
	// Contains/Get errors are degraded to "absent" by the worker itself,
	// and Insert errors are logged and swallowed, per the error-handling
	// contract.
	Err error
}

// Worker drains Requests strictly in receive order on a single dedicated
// goroutine and publishes one Response per Request. It is not reentrant:
// callers must never invoke the wrapped BlockStore directly.
type Worker struct {
	store  BlockStore
	params Params
	reqCh  chan Request
	respCh chan Response
}

// workerChanCapacity bounds the single-producer/single-consumer request
// and response channels. Go has no unbounded channel primitive; the
// orchestrator's event loop can issue several store requests back to
// back (an inbound block's insert followed by the next recursive probe
// it unblocks) from within the same synchronous handler, before it
// next reaches the select arm that drains responses. A generous buffer
// approximates the reference's unbounded queue for that burst without
// ever requiring the orchestrator and the worker to rendezvous.
const workerChanCapacity = 256

// NewWorker wraps store. Request and response channels are buffered
// per workerChanCapacity rather than truly unbounded.
func NewWorker(store BlockStore, params Params) *Worker {
	return &Worker{
		store:  store,
		params: params,
		reqCh:  make(chan Request, workerChanCapacity),
		respCh: make(chan Response, workerChanCapacity),
	}
}

// Requests returns the channel used to submit work to the worker.
func (w *Worker) Requests() chan<- Request { return w.reqCh }

// Responses returns the channel on which results are published.
func (w *Worker) Responses() <-chan Response { return w.respCh }

// Run executes the worker loop until ctx is cancelled or the request
// channel is closed by its only writer, matching the reference's "when
// the request channel closes, the worker exits" contract. It must be run
// on its own goroutine and must never be called from more than one.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.respCh)
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-w.reqCh:
			if !ok {
				return
			}
			resp := w.execute(req)
			select {
			case w.respCh <- resp:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *Worker) execute(req Request) Response {
	switch req.Kind {
	case KindHave:
		ok, err := w.store.Contains(req.Cid)
		if err != nil {
			log.WithError(err).WithField("cid", req.Cid).Debug("contains degraded to absent")
			ok = false
		}
		return Response{Kind: KindHave, Tag: req.Tag, Have: ok}

	case KindBlock:
		data, err := w.store.Get(req.Cid)
		if err != nil {
			log.WithError(err).WithField("cid", req.Cid).Debug("get degraded to absent")
			return Response{Kind: KindBlock, Tag: req.Tag, Have: false}
		}
		if len(data) > w.params.MaxBlockSize {
			log.WithField("cid", req.Cid).Debug("block exceeds max block size, degraded to absent")
			return Response{Kind: KindBlock, Tag: req.Tag, Have: false}
		}
		return Response{Kind: KindBlock, Tag: req.Tag, Have: true, Data: data}

	case KindInsert:
		if len(req.Block.Data) > w.params.MaxBlockSize {
			log.WithField("cid", req.Block.Cid).Warn("insert of oversized block, swallowed")
			return Response{Kind: KindInsert, Tag: req.Tag}
		}
		if err := w.store.Insert(req.Block); err != nil {
			log.WithError(err).WithField("cid", req.Block.Cid).Warn("insert failed, swallowed")
		}
		return Response{Kind: KindInsert, Tag: req.Tag}

	case KindMissingBlocks:
		missing, err := w.store.MissingBlocks(req.Cid)
		return Response{Kind: KindMissingBlocks, Tag: req.Tag, Missing: missing, Err: err}

	default:
		return Response{Kind: req.Kind, Tag: req.Tag, Err: errUnknownKind(req.Kind)}
	}
}

type errUnknownKind Kind

func (e errUnknownKind) Error() string { return "store: unknown request kind" }
