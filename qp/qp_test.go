package qp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQPNIndexAndKey(t *testing.T) {
	q := NewQPN(5, 1234)
	assert.Equal(t, uint32(1234), q.Index())
	assert.Equal(t, uint8(5), q.Key())
}

func TestTableCreateLookupDestroy(t *testing.T) {
	tbl := NewTable()
	qpn, err := tbl.Create(Attrs{Pmtu: PMTU1024})
	require.NoError(t, err)

	attrs, err := tbl.Lookup(qpn)
	require.NoError(t, err)
	assert.Equal(t, StateReset, attrs.State)

	require.NoError(t, tbl.Destroy(qpn))
	_, err = tbl.Lookup(qpn)
	assert.Error(t, err)
}

func TestStaleHandleAfterRecycle(t *testing.T) {
	tbl := NewTable()
	qpn, err := tbl.Create(Attrs{})
	require.NoError(t, err)
	require.NoError(t, tbl.Destroy(qpn))

	qpn2, err := tbl.Create(Attrs{})
	require.NoError(t, err)
	assert.Equal(t, qpn.Index(), qpn2.Index())
	assert.NotEqual(t, qpn.Key(), qpn2.Key())

	_, err = tbl.Lookup(qpn)
	assert.Error(t, err, "stale handle from before recycle must fail")
}

func TestModifyLegalAndIllegalTransitions(t *testing.T) {
	tbl := NewTable()
	qpn, _ := tbl.Create(Attrs{})
	require.NoError(t, tbl.Modify(qpn, StateInit, nil))
	require.NoError(t, tbl.Modify(qpn, StateRtr, nil))
	require.NoError(t, tbl.Modify(qpn, StateRts, nil))

	err := tbl.Modify(qpn, StateInit, nil)
	assert.Error(t, err, "RTS -> INIT is illegal")
}
