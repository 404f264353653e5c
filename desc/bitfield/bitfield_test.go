package bitfield

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetSetRoundTrip(t *testing.T) {
	buf := make([]byte, 32)
	f := Field{Offset: 4, Width: 4}
	Set(buf, f, 0xA)
	assert.Equal(t, uint64(0xA), Get(buf, f))
	assert.Equal(t, byte(0xA0), buf[0])
}

func TestGetSetCrossByteBoundary(t *testing.T) {
	buf := make([]byte, 32)
	f := Field{Offset: 6, Width: 10}
	Set(buf, f, 0x3FF)
	assert.Equal(t, uint64(0x3FF), Get(buf, f))
}

func TestBoolField(t *testing.T) {
	buf := make([]byte, 32)
	SetBool(buf, 0, true)
	assert.True(t, GetBool(buf, 0))
	assert.False(t, GetBool(buf, 1))
}
