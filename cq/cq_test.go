package cq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateLookupDestroy(t *testing.T) {
	tbl := NewTable()
	handle, c, err := tbl.Create()
	require.NoError(t, err)
	got, err := tbl.Lookup(handle)
	require.NoError(t, err)
	assert.Same(t, c, got)

	require.NoError(t, tbl.Destroy(handle))
	_, err = tbl.Lookup(handle)
	assert.Error(t, err)
}

func TestRegisterPendingAndComplete(t *testing.T) {
	_, c, _ := NewTable().Create()
	c.RegisterPending(1, 5, 0xABCD)

	ok := c.CompleteMSN(1, 5, KindRecv, 0, 64)
	assert.True(t, ok)

	out := make([]Completion, 4)
	n := c.Poll(out)
	require.Equal(t, 1, n)
	assert.Equal(t, uint64(0xABCD), out[0].WrID)
}

func TestCompleteMSNWithoutRegistrationReturnsFalse(t *testing.T) {
	_, c, _ := NewTable().Create()
	assert.False(t, c.CompleteMSN(1, 1, KindRecv, 0, 0))
}

func TestPollOrderingMonotoneInMSN(t *testing.T) {
	_, c, _ := NewTable().Create()
	for msn := uint16(0); msn < 3; msn++ {
		c.RegisterPending(1, msn, uint64(msn))
		c.CompleteMSN(1, msn, KindRecv, 0, 0)
	}
	out := make([]Completion, 3)
	n := c.Poll(out)
	require.Equal(t, 3, n)
	assert.Equal(t, uint64(0), out[0].WrID)
	assert.Equal(t, uint64(1), out[1].WrID)
	assert.Equal(t, uint64(2), out[2].WrID)
}
