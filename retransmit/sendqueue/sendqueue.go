// Package sendqueue implements the per-QP shadow send queue the
// retransmit worker replays from, ported from
// original_source/rust-driver/src/packet_retransmit.rs's IbvSendQueue.
package sendqueue

import (
	"github.com/blue-rdma/rdma-driver/rdmautils"
	"github.com/blue-rdma/rdma-driver/send"
)

// Elem is one already-dispatched chunk kept in PSN order, shadowed so a
// later retransmit can re-run the fragmenter at packet granularity over
// Chunk's byte range rather than needing the original work request. Pmtu
// is the QP's PMTU at the time the chunk was sent, needed to split it back
// into its constituent packets.
type Elem struct {
	Psn   uint32
	Pmtu  uint32
	Chunk send.WrChunk
}

// Queue is the shadow queue for one QP: entries are appended in PSN order
// as chunks are sent, and trimmed as PSNs are acknowledged.
type Queue struct {
	inner   []Elem
	basePsn uint32
}

func New() *Queue { return &Queue{} }

func (q *Queue) Push(e Elem) {
	q.inner = append(q.inner, e)
}

// partitionPointLess returns the count of leading elements whose Psn is
// modularly less than target.
func (q *Queue) partitionPointLess(target uint32) int {
	t := rdmautils.NewPsn(target)
	i := 0
	for i < len(q.inner) && rdmautils.NewPsn(q.inner[i].Psn).Less(t) {
		i++
	}
	return i
}

func (q *Queue) partitionPointLessEq(target uint32) int {
	t := rdmautils.NewPsn(target)
	i := 0
	for i < len(q.inner) && rdmautils.NewPsn(q.inner[i].Psn).LessEq(t) {
		i++
	}
	return i
}

// PopUntil drops every entry whose Psn is strictly before psn, except the
// one immediately preceding it (kept so a retransmit range starting
// exactly at psn can still find its entry), and advances basePsn to psn.
func (q *Queue) PopUntil(psn uint32) {
	a := q.partitionPointLess(psn)
	drop := a - 1
	if drop < 0 {
		drop = 0
	}
	q.inner = q.inner[drop:]
	q.basePsn = psn
}

// Range returns the shadow entries covering [psnLow, psnHigh), including
// the entry immediately before psnLow so a partially-covered chunk is not
// missed.
func (q *Queue) Range(psnLow, psnHigh uint32) []Elem {
	a := q.partitionPointLessEq(psnLow)
	b := q.partitionPointLess(psnHigh)
	a--
	if a < 0 {
		a = 0
	}
	if a >= b {
		return nil
	}
	out := make([]Elem, b-a)
	copy(out, q.inner[a:b])
	return out
}

// All returns every shadow entry from basePsn onward, used by
// RetransmitAll.
func (q *Queue) All() []Elem {
	return append([]Elem(nil), q.inner...)
}

func (q *Queue) BasePsn() uint32 { return q.basePsn }

func (q *Queue) Len() int { return len(q.inner) }
