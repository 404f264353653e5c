package fragmenter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpecLiteralExample(t *testing.T) {
	frags := All(1024, 256, 0x1, 2048)
	want := []Fragment{
		{Addr: 0x1, Len: 1023, Pos: First},
		{Addr: 0x400, Len: 1024, Pos: Middle},
		{Addr: 0x800, Len: 1, Pos: Last},
	}
	assert.Equal(t, want, frags)
}

func TestSingleFragmentIsOnly(t *testing.T) {
	frags := All(1024, 256, 0x0, 100)
	assert.Len(t, frags, 1)
	assert.Equal(t, Only, frags[0].Pos)
}

func TestFragmentationLawSumEqualsLength(t *testing.T) {
	frags := All(256, 256, 0x0, 4096)
	var total uint32
	for _, f := range frags {
		total += f.Len
	}
	assert.Equal(t, uint32(4096), total)
	assert.Equal(t, uint64(0), frags[0].Addr)
	last := frags[len(frags)-1]
	assert.Equal(t, uint64(4096), last.Addr+uint64(last.Len))
}
