package tracker

import "github.com/blue-rdma/rdma-driver/rdmautils"

// MessageMeta records one outstanding message's completion PSN, used to
// resolve an acknowledged PSN back to the MSN that completes a send.
type MessageMeta struct {
	Msn    rdmautils.Msn
	Psn    uint32
	AckReq bool
}

// MessageTracker keeps pending MessageMeta entries ordered by Msn so that
// Ack can pop every message whose completion PSN has been acknowledged.
type MessageTracker struct {
	inner []MessageMeta
}

func NewMessageTracker() *MessageTracker {
	return &MessageTracker{}
}

// Append inserts meta in Msn order. Sends normally arrive in order, so the
// common case is an append; the scan only triggers on reordered delivery.
// TODO: a skiplist keyed by Msn would make reordered inserts O(log n)
// instead of O(n); not worth it below the 32K outstanding-WR window.
func (t *MessageTracker) Append(meta MessageMeta) {
	n := len(t.inner)
	if n == 0 || t.inner[n-1].Msn.LessEq(meta.Msn) {
		t.inner = append(t.inner, meta)
		return
	}
	pos := n
	for i, m := range t.inner {
		if meta.Msn.Less(m.Msn) {
			pos = i
			break
		}
	}
	t.inner = append(t.inner, MessageMeta{})
	copy(t.inner[pos+1:], t.inner[pos:])
	t.inner[pos] = meta
}

// Ack pops and returns every leading entry whose Psn has been acknowledged
// by basePsn, in Msn order. The original source's loop never breaks on a
// not-yet-acknowledged front entry, which spins forever; this stops as
// soon as the front entry's Psn is not below basePsn.
func (t *MessageTracker) Ack(basePsn uint32) []MessageMeta {
	var elements []MessageMeta
	base := rdmautils.NewPsn(basePsn)
	i := 0
	for i < len(t.inner) {
		if !rdmautils.NewPsn(t.inner[i].Psn).Less(base) {
			break
		}
		elements = append(elements, t.inner[i])
		i++
	}
	t.inner = t.inner[i:]
	return elements
}

func (t *MessageTracker) Len() int { return len(t.inner) }

// DrainAll pops every outstanding entry regardless of Psn, used when a QP
// moves to the error state and every outstanding WR must be flushed.
func (t *MessageTracker) DrainAll() []MessageMeta {
	all := t.inner
	t.inner = nil
	return all
}
