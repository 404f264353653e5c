// Package qp implements the Queue Pair table: handle allocation, attribute
// storage, and the RC state machine.
package qp

import (
	"sync"

	"github.com/blue-rdma/rdma-driver/rdmaerr"
)

// MaxQpCnt bounds the number of queue pairs the device can track.
const MaxQpCnt = 1024

const (
	qpnKeyPartWidth = 8
	qpnIdxPartWidth = 24
	qpnIdxMask      = (1 << qpnIdxPartWidth) - 1
)

// QPN is the 32-bit queue-pair number: an 8-bit generation key over a
// 24-bit table index, per the "per-QP indexing" design note.
type QPN uint32

func NewQPN(key uint8, index uint32) QPN {
	return QPN(uint32(key)<<qpnIdxPartWidth | (index & qpnIdxMask))
}

func (q QPN) Index() uint32 { return uint32(q) & qpnIdxMask }
func (q QPN) Key() uint8    { return uint8(uint32(q) >> qpnIdxPartWidth) }

// TableIndex maps a QPN to its QpTable slot, modulo MaxQpCnt as the design
// note specifies.
func (q QPN) TableIndex() uint32 { return q.Index() % MaxQpCnt }

// State is the RC queue-pair state machine: RESET -> INIT -> RTR -> RTS ->
// {SQD, ERR}.
type State uint8

const (
	StateReset State = iota
	StateInit
	StateRtr
	StateRts
	StateSqd
	StateErr
)

var legalTransitions = map[State]map[State]bool{
	StateReset: {StateInit: true, StateErr: true},
	StateInit:  {StateRtr: true, StateErr: true, StateReset: true},
	StateRtr:   {StateRts: true, StateErr: true},
	StateRts:   {StateSqd: true, StateErr: true, StateRts: true},
	StateSqd:   {StateRts: true, StateErr: true},
	StateErr:   {StateReset: true},
}

// CanTransition reports whether moving from 'from' to 'to' is legal.
func CanTransition(from, to State) bool {
	return legalTransitions[from][to]
}

// PMTU is the path MTU of the RDMA fabric.
type PMTU uint8

const (
	PMTU256 PMTU = iota
	PMTU512
	PMTU1024
	PMTU2048
	PMTU4096
)

func (p PMTU) Bytes() uint32 {
	switch p {
	case PMTU256:
		return 256
	case PMTU512:
		return 512
	case PMTU1024:
		return 1024
	case PMTU2048:
		return 2048
	case PMTU4096:
		return 4096
	default:
		return 256
	}
}

// AccessFlags mirrors the verbs access-flag bitmask.
type AccessFlags uint32

const (
	AccessLocalWrite AccessFlags = 1 << iota
	AccessRemoteWrite
	AccessRemoteRead
)

// Attrs holds the mutable attributes of a queue pair.
type Attrs struct {
	LocalQpn  QPN
	PeerQpn   QPN
	PeerIP    [4]byte
	PeerMac   [6]byte
	Pmtu      PMTU
	Access    AccessFlags
	SendCq    uint32
	RecvCq    uint32
	State     State
	Generation uint8
}

type slot struct {
	mu         sync.Mutex
	generation uint8
	attrs      *Attrs // nil when the slot is free
}

// Table is the fixed-size, generation-stamped QP table: index reuse is
// safe because a stale QPN's generation key no longer matches the slot's
// current generation.
type Table struct {
	slots [MaxQpCnt]slot
}

func NewTable() *Table {
	return &Table{}
}

// Create allocates index-free slot and returns its QPN. Returns
// ResourceExhausted if every slot is occupied.
func (t *Table) Create(attrs Attrs) (QPN, error) {
	for i := range t.slots {
		s := &t.slots[i]
		s.mu.Lock()
		if s.attrs == nil {
			gen := s.generation
			qpn := NewQPN(gen, uint32(i))
			a := attrs
			a.LocalQpn = qpn
			a.State = StateReset
			a.Generation = gen
			s.attrs = &a
			s.mu.Unlock()
			return qpn, nil
		}
		s.mu.Unlock()
	}
	return 0, rdmaerr.New(rdmaerr.KindResourceExhausted, "qp.Create", nil)
}

// Lookup returns a copy of the attributes for qpn, validating the
// generation key to reject stale handles.
func (t *Table) Lookup(qpn QPN) (Attrs, error) {
	idx := qpn.TableIndex()
	s := &t.slots[idx]
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attrs == nil || s.generation != qpn.Key() {
		return Attrs{}, rdmaerr.New(rdmaerr.KindNotFound, "qp.Lookup", nil)
	}
	return *s.attrs, nil
}

// Modify transitions qpn to newState and applies mutate under the slot's
// lock, failing InvalidInput on an illegal transition.
func (t *Table) Modify(qpn QPN, newState State, mutate func(*Attrs)) error {
	idx := qpn.TableIndex()
	s := &t.slots[idx]
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attrs == nil || s.generation != qpn.Key() {
		return rdmaerr.New(rdmaerr.KindNotFound, "qp.Modify", nil)
	}
	if newState != s.attrs.State && !CanTransition(s.attrs.State, newState) {
		return rdmaerr.New(rdmaerr.KindInvalidInput, "qp.Modify", nil)
	}
	if mutate != nil {
		mutate(s.attrs)
	}
	s.attrs.State = newState
	return nil
}

// Destroy frees qpn's slot and bumps the generation so any outstanding
// stale handle fails subsequent lookups.
func (t *Table) Destroy(qpn QPN) error {
	idx := qpn.TableIndex()
	s := &t.slots[idx]
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attrs == nil || s.generation != qpn.Key() {
		return rdmaerr.New(rdmaerr.KindNotFound, "qp.Destroy", nil)
	}
	s.attrs = nil
	s.generation++
	return nil
}
