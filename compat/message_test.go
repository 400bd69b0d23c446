package compat

import (
	"bytes"
	"testing"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/multiformats/go-varint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipfs-embed/bitswap/query"
)

func testCid(t *testing.T, s string) cid.Cid {
	t.Helper()
	sum, err := mh.Sum([]byte(s), mh.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, sum)
}

func TestMessageMarshalUnmarshalRoundTrip(t *testing.T) {
	c1 := testCid(t, "wanted-1")
	c2 := testCid(t, "wanted-2")

	m := &Message{
		Wantlist: &Wantlist{Entries: []Entry{
			{Block: c1.Bytes(), Priority: 1, WantType: WantHave, SendDontHave: true},
			{Block: c2.Bytes(), Priority: 1, WantType: WantBlock, SendDontHave: true},
		}},
		Payload: []PayloadBlock{
			{Prefix: NewPrefix(c1).Bytes(), Data: []byte("block bytes")},
		},
		BlockPresences: []BlockPresence{
			{Cid: c2.Bytes(), Type: PresenceHave},
		},
	}

	got, err := Unmarshal(m.Marshal())
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestRequestMessageTranslatesHaveAndBlock(t *testing.T) {
	c := testCid(t, "req")

	haveMsg, err := RequestMessage(query.HaveRequest{Cid: c})
	require.NoError(t, err)
	reqs, err := Requests(haveMsg)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	hr, ok := reqs[0].(query.HaveRequest)
	require.True(t, ok)
	assert.True(t, c.Equals(hr.Cid))

	blockMsg, err := RequestMessage(query.BlockRequest{Cid: c})
	require.NoError(t, err)
	reqs, err = Requests(blockMsg)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	_, ok = reqs[0].(query.BlockRequest)
	assert.True(t, ok)
}

func TestBlockResponseMessageRoundTripsThroughBlocks(t *testing.T) {
	data := []byte("payload bytes")
	sum, err := mh.Sum(data, mh.SHA2_256, -1)
	require.NoError(t, err)
	c := cid.NewCidV1(cid.Raw, sum)

	msg := BlockResponseMessage(c, data)
	blocks, err := Blocks(msg)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.True(t, c.Equals(blocks[0].Cid))
	assert.Equal(t, data, blocks[0].Data)
}

func TestHaveResponseMessageRoundTripsThroughPresences(t *testing.T) {
	c := testCid(t, "presence")
	msg := HaveResponseMessage(c, true)
	presences, err := Presences(msg)
	require.NoError(t, err)
	require.Len(t, presences, 1)
	assert.True(t, presences[0].Have)
	assert.True(t, c.Equals(presences[0].Cid))
}

func TestReadWriteMessageRoundTrip(t *testing.T) {
	c := testCid(t, "framed")
	msg := &Message{BlockPresences: []BlockPresence{{Cid: c.Bytes(), Type: PresenceDontHave}}}

	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, msg))

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestReadMessageRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(varint.ToUvarint(uint64(MaxBufSize + 1)))
	_, err := ReadMessage(&buf)
	assert.Error(t, err)
}
