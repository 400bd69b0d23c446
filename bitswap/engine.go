// Package bitswap wires the wire codec, block-store worker and query
// manager into a host-facing engine: a single event-loop goroutine that
// handles one transport event or store response per wakeup and then
// drains the manager's own event queue. Every access to the query.Manager,
// from the loop or from the host methods, is serialised by one mutex.
package bitswap

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/event"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/ipfs-embed/bitswap/metrics"
	"github.com/ipfs-embed/bitswap/query"
	"github.com/ipfs-embed/bitswap/store"
)

var log = logrus.WithField("prefix", "bitswap")

// compatCacheSize bounds the set of peers remembered as "speaks only the
// legacy protocol", mirroring the bounded LRU peer caches elsewhere in
// this lineage.
const compatCacheSize = 1024

// ProgressEvent is surfaced to the host exactly as query.ProgressEvent.
type ProgressEvent = query.ProgressEvent

// CompleteEvent is surfaced to the host exactly as query.CompleteEvent.
type CompleteEvent = query.CompleteEvent

// Engine is the host-facing Bitswap entry point. Every exported method
// except Run is safe to call from any goroutine; Run itself must be
// called exactly once.
type Engine struct {
	cfg       Config
	transport Transport
	worker    *store.Worker
	metrics   *metrics.Metrics

	mu      sync.Mutex
	manager *query.Manager
	wake    chan struct{}

	requests   map[RequestID]query.ID
	compatPeer *lru.Cache[peer.ID, bool]

	progressFeed event.Feed
	completeFeed event.Feed
	scope        event.SubscriptionScope

	storeReqs chan<- store.Request
	storeResp <-chan store.Response
}

// New constructs an Engine over store and transport. The store worker's
// own goroutine is started by Run, not by New.
func New(cfg Config, bs store.BlockStore, transport Transport) (*Engine, error) {
	if bs == nil {
		return nil, errors.New("bitswap: store must not be nil")
	}
	if transport == nil {
		return nil, errors.New("bitswap: transport must not be nil")
	}
	compatPeer, err := lru.New[peer.ID, bool](compatCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "bitswap: allocate compat peer cache")
	}

	m := metrics.New()
	worker := store.NewWorker(bs, store.DefaultParams())

	return &Engine{
		cfg:        cfg.WithDefaults(),
		transport:  transport,
		worker:     worker,
		metrics:    m,
		manager:    query.NewManager(m),
		wake:       make(chan struct{}, 1),
		requests:   make(map[RequestID]query.ID),
		compatPeer: compatPeer,
		storeReqs:  worker.Requests(),
		storeResp:  worker.Responses(),
	}, nil
}

// AddAddress records a candidate address for p with the transport.
func (e *Engine) AddAddress(p peer.ID, addr multiaddr.Multiaddr) {
	e.transport.AddAddress(p, addr)
}

// RemoveAddress forgets a candidate address for p.
func (e *Engine) RemoveAddress(p peer.ID, addr multiaddr.Multiaddr) {
	e.transport.RemoveAddress(p, addr)
}

// Get starts a query to locate and retrieve a single block from peers.
func (e *Engine) Get(c cid.Cid, peers []peer.ID) (query.ID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, err := e.manager.Get(c, peers)
	if err != nil {
		return 0, err
	}
	e.signalWake()
	return id, nil
}

// Sync starts a query to recursively materialise the DAG rooted at c.
func (e *Engine) Sync(c cid.Cid, peers []peer.ID, missing []cid.Cid) (query.ID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, err := e.manager.Sync(c, peers, missing)
	if err != nil {
		return 0, err
	}
	e.signalWake()
	return id, nil
}

// Cancel cancels a previously started root query and all its
// descendants.
func (e *Engine) Cancel(id query.ID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	ok := e.manager.Cancel(id)
	if ok {
		e.signalWake()
	}
	return ok
}

// SubscribeProgress delivers every ProgressEvent the engine emits to ch
// until the returned Subscription is cancelled.
func (e *Engine) SubscribeProgress(ch chan<- ProgressEvent) event.Subscription {
	return e.scope.Track(e.progressFeed.Subscribe(ch))
}

// SubscribeComplete delivers every CompleteEvent the engine emits to ch
// until the returned Subscription is cancelled.
func (e *Engine) SubscribeComplete(ch chan<- CompleteEvent) event.Subscription {
	return e.scope.Track(e.completeFeed.Subscribe(ch))
}

// RegisterMetrics registers the engine's collectors against reg.
// Registering the same Engine against the same registry twice returns
// reg's own AlreadyRegisteredError; registering against distinct
// registries is always safe.
func (e *Engine) RegisterMetrics(reg *prometheus.Registry) error {
	return e.metrics.Register(reg)
}

// signalWake nudges Run's event loop without blocking; a pending signal
// already queued is enough, so a full channel is not an error.
func (e *Engine) signalWake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Run drives the engine until ctx is cancelled. It starts the block
// store's dedicated worker goroutine and then runs the event loop, sharing
// the query manager with Get/Sync/Cancel under e.mu.
func (e *Engine) Run(ctx context.Context) error {
	defer e.scope.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.worker.Run(ctx)
	}()
	defer wg.Wait()

	e.drainManager(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case resp, ok := <-e.storeResp:
			if !ok {
				return nil
			}
			e.handleStoreResponse(ctx, resp)
			e.drainManager(ctx)

		case <-e.wake:
			e.drainManager(ctx)

		case ev, ok := <-e.transport.Events():
			if !ok {
				return nil
			}
			e.handleTransportEvent(ctx, ev)
			e.drainManager(ctx)
		}
	}
}
