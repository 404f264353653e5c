// Package mtt implements the Memory Translation Table and Page Translation
// Table: R-key metadata storage, the PGT bitmap page allocator, and the
// registration/deregistration pipeline.
package mtt

import (
	"math/bits"

	"github.com/blue-rdma/rdma-driver/rdmaerr"
)

// PGTLen is the number of physical-page-address slots in the device's
// page translation table.
const PGTLen = 131072

// PageSize2MB is the granularity of one PGT entry.
const PageSize2MB = 1 << 21

// PageAllocator is a bitmap allocator over PGT slots, scanning for a
// contiguous free run with the same 64-bit word-scan technique as
// unsafex/malloc.BitmapAllocator.findFreeRun, narrowed to single-bit-per-page
// granularity instead of arbitrary byte blocks.
type PageAllocator struct {
	bitmap  []uint64 // PGTLen bits, packed 64 per word
	numBits int
	nextIdx int
}

func NewPageAllocator() *PageAllocator {
	return &PageAllocator{
		bitmap:  make([]uint64, PGTLen/64),
		numBits: PGTLen,
	}
}

func (a *PageAllocator) isSet(idx int) bool {
	return a.bitmap[idx/64]&(1<<(uint(idx)%64)) != 0
}

func (a *PageAllocator) setRun(idx, count int, set bool) {
	for i := idx; i < idx+count; i++ {
		word, bit := i/64, uint(i)%64
		if set {
			a.bitmap[word] |= 1 << bit
		} else {
			a.bitmap[word] &^= 1 << bit
		}
	}
}

// findFreeRun scans for `count` contiguous free bits starting at startIdx,
// word-at-a-time when a whole 64-bit word is free or full.
func (a *PageAllocator) findFreeRun(startIdx, count int) int {
	runStart := -1
	runLen := 0
	i := startIdx
	n := a.numBits

	for i < n {
		if i%64 == 0 && i+64 <= n {
			word := a.bitmap[i/64]
			if word == ^uint64(0) {
				runStart, runLen = -1, 0
				i += 64
				continue
			}
			if word == 0 {
				if runStart == -1 {
					runStart = i
				}
				runLen += 64
				if runLen >= count {
					return runStart
				}
				i += 64
				continue
			}
			// mixed word: fall through to bit-at-a-time scan below
		}
		if a.isSet(i) {
			runStart, runLen = -1, 0
		} else {
			if runStart == -1 {
				runStart = i
			}
			runLen++
			if runLen >= count {
				return runStart
			}
		}
		i++
	}
	return -1
}

// Alloc finds and marks `count` contiguous free PGT slots, returning the
// starting offset. Scanning wraps once from the allocator's next-fit
// cursor, matching the bitmap allocator's next-fit policy.
func (a *PageAllocator) Alloc(count int) (uint32, error) {
	if count <= 0 || count > a.numBits {
		return 0, rdmaerr.New(rdmaerr.KindInvalidInput, "mtt.Alloc", nil)
	}
	if start := a.findFreeRun(a.nextIdx, count); start != -1 {
		a.setRun(start, count, true)
		a.nextIdx = (start + count) % a.numBits
		return uint32(start), nil
	}
	if a.nextIdx != 0 {
		if start := a.findFreeRun(0, count); start != -1 {
			a.setRun(start, count, true)
			a.nextIdx = (start + count) % a.numBits
			return uint32(start), nil
		}
	}
	return 0, rdmaerr.New(rdmaerr.KindResourceExhausted, "mtt.Alloc", nil)
}

// Free releases count slots starting at offset.
func (a *PageAllocator) Free(offset uint32, count int) {
	a.setRun(int(offset), count, false)
}

// PopCount reports the total number of allocated slots.
func (a *PageAllocator) PopCount() int {
	total := 0
	for _, w := range a.bitmap {
		total += bits.OnesCount64(w)
	}
	return total
}
