package wire

import (
	"bytes"
	"testing"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCid(t *testing.T, s string) cid.Cid {
	t.Helper()
	sum, err := mh.Sum([]byte(s), mh.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, sum)
}

func TestRequestRoundTrip(t *testing.T) {
	c := NewCodec(2 << 20)
	want := Request{Type: Block, Cid: testCid(t, "round-trip")}

	var buf bytes.Buffer
	require.NoError(t, c.WriteRequest(&buf, want))

	got, err := c.ReadRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestHaveResponseRoundTrip(t *testing.T) {
	c := NewCodec(2 << 20)
	for _, have := range []bool{true, false} {
		var buf bytes.Buffer
		want := Response{Kind: KindHave, Have: have}
		require.NoError(t, c.WriteResponse(&buf, want))

		got, err := c.ReadResponse(&buf)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestBlockResponseRoundTrip(t *testing.T) {
	c := NewCodec(2 << 20)
	want := Response{Kind: KindBlock, Block: []byte("some block bytes")}

	var buf bytes.Buffer
	require.NoError(t, c.WriteResponse(&buf, want))

	got, err := c.ReadResponse(&buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRequestFrameAtExactlyMaxCIDSizePlusOneDecodes(t *testing.T) {
	payload := append([]byte{byte(Have)}, bytes.Repeat([]byte{0xAA}, MaxCIDSize)...)
	require.Len(t, payload, MaxCIDSize+1)

	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, payload))

	got, err := readFrame(&buf, MaxCIDSize+1)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestRequestFrameExceedingBoundIsRejected(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAA}, MaxCIDSize+2)

	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, payload))

	_, err := readFrame(&buf, MaxCIDSize+1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestResponseFrameAtExactlyMaxBlockSizePlusOneDecodes(t *testing.T) {
	const maxBlockSize = 64
	c := NewCodec(maxBlockSize)
	resp := Response{Kind: KindBlock, Block: bytes.Repeat([]byte{0x01}, maxBlockSize)}

	var buf bytes.Buffer
	require.NoError(t, c.WriteResponse(&buf, resp))

	got, err := c.ReadResponse(&buf)
	require.NoError(t, err)
	assert.Equal(t, resp, got)
}

func TestResponseFrameExceedingBoundIsRejected(t *testing.T) {
	const maxBlockSize = 64
	c := NewCodec(maxBlockSize)
	oversized := Response{Kind: KindBlock, Block: bytes.Repeat([]byte{0x01}, maxBlockSize+1)}

	var buf bytes.Buffer
	require.NoError(t, c.WriteResponse(&buf, oversized))

	_, err := c.ReadResponse(&buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestReadRequestRejectsEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, nil))

	c := NewCodec(2 << 20)
	_, err := c.ReadRequest(&buf)
	assert.Error(t, err)
}
