package rdmautils

import (
	"math/bits"

	"github.com/blue-rdma/rdma-driver/rdmaerr"
)

// MaxPdCnt bounds the number of protection domains the device can track.
const MaxPdCnt = 256

// PdTable is a fixed-size bitmap allocator for protection-domain handles,
// word-scanned the way unsafex/malloc.BitmapAllocator scans its block
// bitmap for a free run, narrowed here to single-bit alloc/free.
type PdTable struct {
	words [MaxPdCnt / 64]uint64
}

// NewPdTable returns an empty table (all handles free).
func NewPdTable() *PdTable {
	return &PdTable{}
}

// Alloc returns the lowest-numbered free handle and marks it used.
func (t *PdTable) Alloc() (uint32, error) {
	for i := range t.words {
		w := t.words[i]
		if w == ^uint64(0) {
			continue
		}
		bit := bits.TrailingZeros64(^w)
		t.words[i] |= 1 << uint(bit)
		return uint32(i*64 + bit), nil
	}
	return 0, rdmaerr.New(rdmaerr.KindResourceExhausted, "pd.Alloc", nil)
}

// Dealloc frees a previously allocated handle. It is a no-op if the handle
// was already free, matching the original's idempotent dealloc.
func (t *PdTable) Dealloc(handle uint32) error {
	if handle >= MaxPdCnt {
		return rdmaerr.New(rdmaerr.KindInvalidInput, "pd.Dealloc", nil)
	}
	t.words[handle/64] &^= 1 << (handle % 64)
	return nil
}

// IsAllocated reports whether handle is currently in use.
func (t *PdTable) IsAllocated(handle uint32) bool {
	if handle >= MaxPdCnt {
		return false
	}
	return t.words[handle/64]&(1<<(handle%64)) != 0
}
