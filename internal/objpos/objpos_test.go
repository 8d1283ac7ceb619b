package objpos

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		offset uint64
		length uint32
		tag    Tag
	}{
		{0, 0, TagLeaf},
		{0, MaxObjectSize, TagEntry},
		{MaxDatabaseSize - 1, 4096, TagBranch},
		{123456789, 65535, TagEntry},
	}

	for _, c := range cases {
		p := New(c.offset, c.length, c.tag)
		require.Equal(t, c.offset, p.Offset())
		require.Equal(t, c.length, p.Length())
		require.Equal(t, c.tag, p.Tag())
	}
}

func TestRoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		offset := uint64(rng.Int63n(MaxDatabaseSize))
		length := uint32(rng.Int63n(MaxObjectSize + 1))
		tag := Tag(rng.Intn(3))

		p := New(offset, length, tag)
		require.Equal(t, offset, p.Offset())
		require.Equal(t, length, p.Length())
		require.Equal(t, tag, p.Tag())
	}
}

func TestIsEmpty(t *testing.T) {
	require.True(t, Pos(0).IsEmpty())
	require.False(t, New(1, 0, TagLeaf).IsEmpty())
}

func TestAddSubLen(t *testing.T) {
	p := New(100, 50, TagEntry)
	p2 := p.AddLen(10)
	require.Equal(t, uint32(60), p2.Length())

	p3 := p2.SubLen(10)
	require.Equal(t, p, p3)
}

func TestNewPanicsOnOversizedOffset(t *testing.T) {
	require.Panics(t, func() {
		New(MaxDatabaseSize, 0, TagLeaf)
	})
}

func TestNewPanicsOnOversizedLength(t *testing.T) {
	require.Panics(t, func() {
		New(0, MaxObjectSize+1, TagLeaf)
	})
}
