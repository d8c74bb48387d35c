package mem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newAlloc(t *testing.T, npages int) (*Allocator, Pa, Pa) {
	t.Helper()
	var a Allocator
	end := Pa(0x1000)
	top := end + Pa(npages*PGSIZE)
	a.Init(end, top)
	return &a, end, top
}

func TestAllocFreeRoundTrip(t *testing.T) {
	a, _, _ := newAlloc(t, 4)
	require.Equal(t, 4, a.Nfree())

	page, pa, ok := a.Alloc()
	require.True(t, ok)
	require.True(t, pa.Aligned())
	require.Equal(t, 3, a.Nfree())
	for _, b := range page {
		require.Zero(t, b)
	}

	a.Free(pa)
	require.Equal(t, 4, a.Nfree())
}

func TestAllocExhaustion(t *testing.T) {
	a, _, _ := newAlloc(t, 1)
	_, _, ok := a.Alloc()
	require.True(t, ok)

	_, _, ok = a.Alloc()
	require.False(t, ok, "second allocation must fail when exactly one page was free")
}

func TestAllocZeroesPriorContent(t *testing.T) {
	a, _, _ := newAlloc(t, 2)
	page, pa, ok := a.Alloc()
	require.True(t, ok)
	for i := range page {
		page[i] = 0xaa
	}
	a.Free(pa)

	page2, pa2, ok := a.Alloc()
	require.True(t, ok)
	require.Equal(t, pa, pa2)
	for _, b := range page2 {
		require.Zero(t, b, "allocator must zero pages to avoid leaking prior contents")
	}
}

func TestFreeOutOfRangeIsFatal(t *testing.T) {
	a, _, top := newAlloc(t, 2)
	require.Panics(t, func() { a.Free(top) })
}

func TestFreeUnalignedIsFatal(t *testing.T) {
	a, end, _ := newAlloc(t, 2)
	require.Panics(t, func() { a.Free(end + 1) })
}
