// Package cq implements the Completion Queue table: a FIFO of completion
// events per handle plus an event registry binding (QPN, MSN) pairs to a
// pending WR id.
package cq

import (
	"sync"

	"github.com/blue-rdma/rdma-driver/rdmaerr"
)

// MaxCqCnt bounds the number of completion queues the device can track.
const MaxCqCnt = 1024

// CompletionKind distinguishes the verbs-visible completion variants.
type CompletionKind uint8

const (
	KindSend CompletionKind = iota
	KindRecv
	KindRecvWithImm
	KindWriteWithImmNotify
	KindReadRespDone
	KindFlushErr
)

// Completion is one verbs-visible completion entry.
type Completion struct {
	WrID   uint64
	Qpn    uint32
	Kind   CompletionKind
	ImmData uint32
	ByteLen uint32
	Err     error // non-nil only for KindFlushErr
}

// pendingKey binds an outstanding WR to the MSN that must be fully
// acknowledged before it completes.
type pendingKey struct {
	qpn uint32
	msn uint16
}

// CQ is one completion queue: a FIFO plus its event registry.
type CQ struct {
	mu       sync.Mutex
	fifo     []Completion
	pending  map[pendingKey]uint64 // -> WrID
}

func newCQ() *CQ {
	return &CQ{pending: make(map[pendingKey]uint64)}
}

// RegisterPending binds (qpn, msn) to wrID so a later CompleteMSN call
// knows which WR to report.
func (c *CQ) RegisterPending(qpn uint32, msn uint16, wrID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[pendingKey{qpn, msn}] = wrID
}

// CompleteMSN looks up the WR registered for (qpn, msn) and enqueues a
// completion of kind for it. Returns false if nothing was registered
// (e.g. an unsignalled send).
func (c *CQ) CompleteMSN(qpn uint32, msn uint16, kind CompletionKind, immData, byteLen uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := pendingKey{qpn, msn}
	wrID, ok := c.pending[key]
	if !ok {
		return false
	}
	delete(c.pending, key)
	c.fifo = append(c.fifo, Completion{WrID: wrID, Qpn: qpn, Kind: kind, ImmData: immData, ByteLen: byteLen})
	return true
}

// TakePending removes and returns the WR id registered for (qpn, msn),
// without enqueueing a completion, for callers that need to build the
// completion themselves (e.g. a flush-with-error).
func (c *CQ) TakePending(qpn uint32, msn uint16) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := pendingKey{qpn, msn}
	wrID, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	return wrID, ok
}

// Push enqueues a completion directly, used for unsolicited recv
// completions that have no prior RegisterPending call.
func (c *CQ) Push(comp Completion) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fifo = append(c.fifo, comp)
}

// Poll pops up to len(out) completions in FIFO order, returning the count
// popped, matching the verbs poll_cq contract.
func (c *CQ) Poll(out []Completion) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := copy(out, c.fifo)
	c.fifo = c.fifo[n:]
	return n
}

// Table is the fixed-size CQ handle table.
type Table struct {
	mu    sync.Mutex
	slots [MaxCqCnt]*CQ
}

func NewTable() *Table {
	return &Table{}
}

// Create allocates the lowest-numbered free handle.
func (t *Table) Create() (uint32, *CQ, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		if t.slots[i] == nil {
			c := newCQ()
			t.slots[i] = c
			return uint32(i), c, nil
		}
	}
	return 0, nil, rdmaerr.New(rdmaerr.KindResourceExhausted, "cq.Create", nil)
}

func (t *Table) Lookup(handle uint32) (*CQ, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if handle >= MaxCqCnt || t.slots[handle] == nil {
		return nil, rdmaerr.New(rdmaerr.KindNotFound, "cq.Lookup", nil)
	}
	return t.slots[handle], nil
}

func (t *Table) Destroy(handle uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if handle >= MaxCqCnt || t.slots[handle] == nil {
		return rdmaerr.New(rdmaerr.KindNotFound, "cq.Destroy", nil)
	}
	t.slots[handle] = nil
	return nil
}
