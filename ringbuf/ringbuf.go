/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package ringbuf implements the fixed-capacity, power-of-two descriptor
// ring shared by every DMA-backed queue: command request/response, send,
// meta-report, and simple-NIC tx/rx. Head and tail are k+1-bit counters so
// that empty (head==tail) and full (head^tail==N) are distinguishable
// without a separate flag, the same trick iouring's SubmissionQueue/
// CompletionQueue use over their mmap'd kernel-shared index pointers.
package ringbuf

import (
	"sync/atomic"

	"github.com/blue-rdma/rdma-driver/csr"
	"github.com/blue-rdma/rdma-driver/rdmaerr"
)

// DescSize is the fixed width of every hardware descriptor slot.
const DescSize = 32

// Desc is one raw 32-byte descriptor slot.
type Desc [DescSize]byte

// Direction marks which side of the ring owns the producer pointer.
type Direction int

const (
	// HostToCard rings: the host owns head, the device owns tail.
	HostToCard Direction = iota
	// CardToHost rings: the device owns head, the host owns tail.
	CardToHost
)

// Ring is a power-of-two capacity descriptor ring backed by a
// contiguous, page-aligned buffer. head/tail are k+1-bit counters wrapping
// at 2N, matching the "extra bit disambiguates empty vs full" invariant.
type Ring struct {
	buf  []Desc
	n    uint32 // capacity, power of two
	mask uint32 // n-1

	// head/tail are atomic so the CSR-refresh path and the produce/consume
	// path can run on different goroutines without a ring-wide lock.
	head uint32
	tail uint32

	dir Direction
	csr csr.ReadWriter
	// headOff/tailOff are the CSR word offsets of this ring's head and
	// tail registers, passed in by the caller of New.
	headOff uint32
	tailOff uint32
}

// New creates a ring of capacity n (must be a power of two) over buf
// (len(buf) must equal n), wired to the CSR offsets for its block/channel.
func New(buf []Desc, n uint32, dir Direction, rw csr.ReadWriter, headOff, tailOff uint32) (*Ring, error) {
	if n == 0 || n&(n-1) != 0 {
		return nil, rdmaerr.New(rdmaerr.KindInvalidInput, "ringbuf.New", nil)
	}
	if uint32(len(buf)) != n {
		return nil, rdmaerr.New(rdmaerr.KindInvalidInput, "ringbuf.New", nil)
	}
	return &Ring{
		buf:     buf,
		n:       n,
		mask:    n - 1,
		dir:     dir,
		csr:     rw,
		headOff: headOff,
		tailOff: tailOff,
	}, nil
}

func (r *Ring) Cap() uint32 { return r.n }

// Len returns the number of occupied slots, always in [0, N].
func (r *Ring) Len() uint32 {
	h := atomic.LoadUint32(&r.head)
	t := atomic.LoadUint32(&r.tail)
	return (h - t) & (2*r.n - 1)
}

func (r *Ring) IsEmpty() bool { return atomic.LoadUint32(&r.head) == atomic.LoadUint32(&r.tail) }
func (r *Ring) IsFull() bool {
	return atomic.LoadUint32(&r.head)^atomic.LoadUint32(&r.tail) == r.n
}

// Push writes desc at head%N and advances head. Fails with ErrQueueFull
// (WouldBlock) if the ring is full. Only valid when the host owns head
// (HostToCard rings).
func (r *Ring) Push(desc Desc) error {
	if r.IsFull() {
		return rdmaerr.ErrQueueFull
	}
	h := atomic.LoadUint32(&r.head)
	r.buf[h&r.mask] = desc
	// Fence: the slot write must be globally visible before we publish the
	// new head to the device, otherwise the card could DMA a torn slot.
	atomic.StoreUint32(&r.head, (h+1)&(2*r.n-1))
	return nil
}

// FlushHead publishes the current head pointer to the device CSR. Callers
// batch Push calls and flush once, matching the send worker's
// "push both descriptors, then publish head" discipline.
func (r *Ring) FlushHead() error {
	return r.csr.Write32(r.headOff, atomic.LoadUint32(&r.head))
}

// RefreshTail reads the device-owned tail CSR into the local shadow,
// required before Push can know how much free space exists beyond one
// optimistic slot.
func (r *Ring) RefreshTail() error {
	t, err := r.csr.Read32(r.tailOff)
	if err != nil {
		return err
	}
	atomic.StoreUint32(&r.tail, t)
	return nil
}

// Pop reads the slot at tail%N and advances tail. Returns ok=false when
// empty. Only valid when the host owns tail (CardToHost rings); the
// descriptor's valid bit (checked by the caller via desc package) is what
// actually signals new data — Pop itself is a raw pointer-advance helper
// used once the caller has confirmed validity.
func (r *Ring) Pop() (Desc, bool) {
	if r.IsEmpty() {
		return Desc{}, false
	}
	t := atomic.LoadUint32(&r.tail)
	d := r.buf[t&r.mask]
	atomic.StoreUint32(&r.tail, (t+1)&(2*r.n-1))
	return d, true
}

// FlushTail publishes the current tail pointer to the device CSR (used by
// CardToHost rings after consuming descriptors).
func (r *Ring) FlushTail() error {
	return r.csr.Write32(r.tailOff, atomic.LoadUint32(&r.tail))
}

// RefreshHead reads the device-owned head CSR into the local shadow
// (CardToHost rings, before polling for new descriptors).
func (r *Ring) RefreshHead() error {
	h, err := r.csr.Read32(r.headOff)
	if err != nil {
		return err
	}
	atomic.StoreUint32(&r.head, h)
	return nil
}
