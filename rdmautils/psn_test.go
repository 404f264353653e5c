package rdmautils

import "testing"

import "github.com/stretchr/testify/assert"

func TestPsnCmpBasic(t *testing.T) {
	a := NewPsn(100)
	b := NewPsn(200)
	assert.True(t, a.Less(b))
	assert.True(t, b.Greater(a))
	assert.Equal(t, 0, a.Cmp(a))
}

func TestPsnCmpWraparound(t *testing.T) {
	near := NewPsn(PsnMask)
	next := near.Add(1)
	assert.Equal(t, Psn(0), next)
	assert.True(t, near.Less(next))
	assert.True(t, next.Greater(near))
}

func TestPsnCmpHalfWindow(t *testing.T) {
	a := NewPsn(0)
	b := NewPsn(MaxPsnWindow)
	// exactly at the boundary, the original treats x>MAX_PSN_WINDOW as Less;
	// x==MAX_PSN_WINDOW falls to the Greater arm.
	assert.Equal(t, 1, a.Cmp(b))
}

func TestPsnSub(t *testing.T) {
	a := NewPsn(10)
	b := NewPsn(5)
	assert.Equal(t, uint32(5), a.Sub(b))
}
