package sendqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blue-rdma/rdma-driver/send"
)

func pushRange(q *Queue, psns ...uint32) {
	for _, p := range psns {
		q.Push(Elem{Psn: p, Chunk: send.WrChunk{Psn: p}})
	}
}

func TestRangeReturnsOverlappingEntries(t *testing.T) {
	q := New()
	pushRange(q, 0, 10, 20, 30, 40)

	got := q.Range(15, 35)
	var psns []uint32
	for _, e := range got {
		psns = append(psns, e.Psn)
	}
	assert.Equal(t, []uint32{10, 20, 30}, psns)
}

func TestPopUntilTrimsButKeepsOnePrecedingEntry(t *testing.T) {
	q := New()
	pushRange(q, 0, 10, 20, 30)

	q.PopUntil(20)
	var psns []uint32
	for _, e := range q.All() {
		psns = append(psns, e.Psn)
	}
	assert.Equal(t, []uint32{10, 20, 30}, psns)
	assert.Equal(t, uint32(20), q.BasePsn())
}

func TestRangeEmptyWhenNoOverlap(t *testing.T) {
	q := New()
	pushRange(q, 100, 200)
	assert.Empty(t, q.Range(0, 50))
}
