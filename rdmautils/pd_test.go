package rdmautils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPdTableAllocDealloc(t *testing.T) {
	tbl := NewPdTable()
	h0, err := tbl.Alloc()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), h0)

	h1, err := tbl.Alloc()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), h1)

	require.NoError(t, tbl.Dealloc(h0))
	assert.False(t, tbl.IsAllocated(h0))

	h2, err := tbl.Alloc()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), h2, "freed handle should be reused")
}

func TestPdTableExhausted(t *testing.T) {
	tbl := NewPdTable()
	for i := 0; i < MaxPdCnt; i++ {
		_, err := tbl.Alloc()
		require.NoError(t, err)
	}
	_, err := tbl.Alloc()
	assert.Error(t, err)
}
