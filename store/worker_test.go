package store

import (
	"context"
	"sync"
	"testing"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is a trivial in-memory BlockStore used only by tests in this
// package.
type memStore struct {
	mu     sync.Mutex
	blocks map[cid.Cid][]byte
	// missing maps a cid to the list MissingBlocks returns verbatim for it,
	// letting tests control the DAG-walk fan-out directly.
	missing    map[cid.Cid][]cid.Cid
	missingErr error
}

func newMemStore() *memStore {
	return &memStore{blocks: make(map[cid.Cid][]byte), missing: make(map[cid.Cid][]cid.Cid)}
}

func (m *memStore) Contains(c cid.Cid) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blocks[c]
	return ok, nil
}

func (m *memStore) Get(c cid.Cid) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blocks[c]
	if !ok {
		return nil, errors.Errorf("store: no such block %s", c)
	}
	return data, nil
}

func (m *memStore) Insert(b Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[b.Cid] = b.Data
	return nil
}

func (m *memStore) MissingBlocks(c cid.Cid) ([]cid.Cid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.missingErr != nil {
		return nil, m.missingErr
	}
	return m.missing[c], nil
}

func testCid(t *testing.T, s string) cid.Cid {
	t.Helper()
	sum, err := mh.Sum([]byte(s), mh.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, sum)
}

func startWorker(t *testing.T, bs BlockStore) (*Worker, context.CancelFunc) {
	t.Helper()
	w := NewWorker(bs, DefaultParams())
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	t.Cleanup(cancel)
	return w, cancel
}

func TestWorkerHaveReportsAbsentBlock(t *testing.T) {
	bs := newMemStore()
	w, _ := startWorker(t, bs)
	c := testCid(t, "a")

	w.Requests() <- Request{Kind: KindHave, Cid: c, Tag: "tag-1"}
	resp := <-w.Responses()
	assert.Equal(t, "tag-1", resp.Tag)
	assert.False(t, resp.Have)
}

func TestWorkerInsertThenHave(t *testing.T) {
	bs := newMemStore()
	w, _ := startWorker(t, bs)
	c := testCid(t, "b")

	w.Requests() <- Request{Kind: KindInsert, Block: Block{Cid: c, Data: []byte("hello")}}
	<-w.Responses()

	w.Requests() <- Request{Kind: KindHave, Cid: c}
	resp := <-w.Responses()
	assert.True(t, resp.Have)

	w.Requests() <- Request{Kind: KindBlock, Cid: c}
	resp = <-w.Responses()
	assert.True(t, resp.Have)
	assert.Equal(t, []byte("hello"), resp.Data)
}

func TestWorkerBlockDegradesMissingToAbsent(t *testing.T) {
	bs := newMemStore()
	w, _ := startWorker(t, bs)
	c := testCid(t, "missing")

	w.Requests() <- Request{Kind: KindBlock, Cid: c}
	resp := <-w.Responses()
	assert.False(t, resp.Have)
	assert.Nil(t, resp.Data)
}

func TestWorkerMissingBlocksPropagatesError(t *testing.T) {
	bs := newMemStore()
	bs.missingErr = errors.New("boom")
	w, _ := startWorker(t, bs)
	c := testCid(t, "root")

	w.Requests() <- Request{Kind: KindMissingBlocks, Cid: c, Tag: 42}
	resp := <-w.Responses()
	require.Error(t, resp.Err)
	assert.Equal(t, 42, resp.Tag)
}

func TestWorkerProcessesInReceiveOrder(t *testing.T) {
	bs := newMemStore()
	w, _ := startWorker(t, bs)

	for i := 0; i < 8; i++ {
		w.Requests() <- Request{Kind: KindInsert, Tag: i, Block: Block{Cid: testCid(t, string(rune('a' + i)))}}
	}
	for i := 0; i < 8; i++ {
		resp := <-w.Responses()
		assert.Equal(t, i, resp.Tag)
	}
}

func TestWorkerExitsWhenRequestChannelClosed(t *testing.T) {
	bs := newMemStore()
	w := NewWorker(bs, DefaultParams())
	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	close(w.reqCh)
	<-done

	_, ok := <-w.Responses()
	assert.False(t, ok, "responses channel is closed once the worker exits")
}
