package compat

import (
	"testing"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixRoundTrip(t *testing.T) {
	sum, err := mh.Sum([]byte("round-trip-me"), mh.SHA2_256, -1)
	require.NoError(t, err)
	c := cid.NewCidV1(cid.Raw, sum)

	want := NewPrefix(c)
	got, err := NewPrefixFromBytes(want.Bytes())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCidFromBlockReconstructsOriginalCid(t *testing.T) {
	data := []byte("legacy payload bytes")
	sum, err := mh.Sum(data, mh.SHA2_256, -1)
	require.NoError(t, err)
	original := cid.NewCidV1(cid.Raw, sum)

	prefixBytes := NewPrefix(original).Bytes()
	got, err := CidFromBlock(prefixBytes, data)
	require.NoError(t, err)
	assert.True(t, original.Equals(got))
}

func TestNewPrefixFromBytesRejectsTruncatedInput(t *testing.T) {
	_, err := NewPrefixFromBytes(nil)
	assert.Error(t, err)
}
