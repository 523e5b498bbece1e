package shadowindex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shadowtick/swmr/codec"
)

func TestUpsertInsertsSorted(t *testing.T) {
	m := New(4)

	m.Upsert(9, []byte("img9"), 4096)
	m.Upsert(3, []byte("img3"), 4096)
	m.Upsert(7, []byte("img7"), 4096)

	entries := m.Entries()
	require.Len(t, entries, 3)
	require.Equal(t, []uint32{3, 7, 9}, []uint32{
		entries[0].DataPageOffset, entries[1].DataPageOffset, entries[2].DataPageOffset,
	})

	bad, _ := codec.ValidateOrder(toCodecEntries(entries))
	require.Equal(t, -1, bad)
}

func TestUpsertReplacesExisting(t *testing.T) {
	m := New(4)

	r1 := m.Upsert(3, []byte("v1"), 4096)
	require.False(t, r1.Replaced)

	m.entries[0].ShadowPageOffset = 5
	m.entries[0].Length = 4096

	r2 := m.Upsert(3, []byte("v2"), 8192)
	require.True(t, r2.Replaced)
	require.Equal(t, uint32(5), r2.OldShadowPageOffset)
	require.Equal(t, uint32(4096), r2.OldLength)
	require.Equal(t, 1, m.Len())
}

func TestLookup(t *testing.T) {
	m := New(4)
	m.Upsert(3, nil, 0)
	m.Upsert(9, nil, 0)

	e, found := m.Lookup(9)
	require.True(t, found)
	require.Equal(t, uint32(9), e.DataPageOffset)

	_, found = m.Lookup(5)
	require.False(t, found)
}

func TestFullAndEnlarge(t *testing.T) {
	m := New(2)
	m.Upsert(1, nil, 0)
	m.Upsert(2, nil, 0)
	require.True(t, m.Full())

	oldCap := m.Enlarge()
	require.Equal(t, 2, oldCap)
	require.Equal(t, 4, m.Cap())
	require.False(t, m.Full())

	// Entries survive the grow.
	require.Equal(t, 2, m.Len())
	e, found := m.Lookup(2)
	require.True(t, found)
	require.Equal(t, uint32(2), e.DataPageOffset)
}

func toCodecEntries(entries []Entry) []codec.Entry {
	out := make([]codec.Entry, len(entries))
	for i, e := range entries {
		out[i] = e.Entry
	}

	return out
}
