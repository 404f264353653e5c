package mtt

import (
	"sync"

	"github.com/blue-rdma/rdma-driver/cmdqueue"
	"github.com/blue-rdma/rdma-driver/rdmaerr"
)

// MaxMrCnt bounds the number of memory regions the device can track.
const MaxMrCnt = 8192

const (
	lrKeyKeyPartWidth = 8
	lrKeyIdxMask      = (1 << 24) - 1
)

// RKey is the 32-bit R/L-key: an 8-bit key over a 24-bit MR table index.
type RKey uint32

func NewRKey(key uint8, index uint32) RKey {
	return RKey(uint32(key)<<24 | (index & lrKeyIdxMask))
}

func (k RKey) Index() uint32 { return uint32(k) & lrKeyIdxMask }
func (k RKey) Key() uint8    { return uint8(uint32(k) >> 24) }

// AccessFlags mirrors the verbs MR access-flag bitmask.
type AccessFlags uint32

const (
	AccessLocalWrite AccessFlags = 1 << iota
	AccessRemoteWrite
	AccessRemoteRead
)

// Entry is one memory region's metadata.
type Entry struct {
	BaseVA    uint64
	Length    uint64
	PD        uint32
	Access    AccessFlags
	PGTOffset uint32
	PGTCount  int
}

// V2PResolver translates a virtual address to its physical page address.
// The only implementation in this package is FixedOffsetResolver, the
// emulator one; there is no /proc/self/pagemap-based resolver.
type V2PResolver interface {
	Resolve(va uint64) (uint64, error)
}

// FixedOffsetResolver is the emulator-mode V2PResolver: physical address
// is the virtual address plus a constant offset (no real paging).
type FixedOffsetResolver struct {
	Offset uint64
}

func (r FixedOffsetResolver) Resolve(va uint64) (uint64, error) {
	return va + r.Offset, nil
}

// Table is the MR/MTT table: R-key allocation plus attribute storage, and
// the registration/deregistration pipeline driving the PGT allocator and
// command controller.
type Table struct {
	mu      sync.Mutex
	entries [MaxMrCnt]*Entry
	keygen  [MaxMrCnt]uint8
	pgt     *PageAllocator
	v2p     V2PResolver
	cmds    *cmdqueue.Controller
	inUse   map[uint32]int // PGT index -> reference count from in-flight WRs
}

func NewTable(pgt *PageAllocator, v2p V2PResolver, cmds *cmdqueue.Controller) *Table {
	return &Table{pgt: pgt, v2p: v2p, cmds: cmds, inUse: make(map[uint32]int)}
}

// Register allocates a PGT range, resolves the physical address of each
// 2 MiB page of [va, va+length), and issues UpdatePGT then UpdateMrTable,
// in that order. The pages are not pinned. Returns the newly minted R-key.
func (t *Table) Register(va, length uint64, pd uint32, access AccessFlags) (RKey, error) {
	if length == 0 || va+length < va {
		return 0, rdmaerr.New(rdmaerr.KindInvalidInput, "mtt.Register", nil)
	}

	numPages := int((length + PageSize2MB - 1) / PageSize2MB)
	pgtOffset, err := t.pgt.Alloc(numPages)
	if err != nil {
		return 0, err
	}

	phys := make([]uint64, numPages)
	for i := 0; i < numPages; i++ {
		p, err := t.v2p.Resolve(va + uint64(i)*PageSize2MB)
		if err != nil {
			t.pgt.Free(pgtOffset, numPages)
			return 0, rdmaerr.New(rdmaerr.KindDeviceError, "mtt.Register", err)
		}
		phys[i] = p
	}

	t.mu.Lock()
	idx, err := t.allocIndexLocked()
	if err != nil {
		t.mu.Unlock()
		t.pgt.Free(pgtOffset, numPages)
		return 0, err
	}
	key := t.keygen[idx]
	rkey := NewRKey(key, idx)
	t.entries[idx] = &Entry{BaseVA: va, Length: length, PD: pd, Access: access, PGTOffset: pgtOffset, PGTCount: numPages}
	t.mu.Unlock()

	if t.cmds != nil {
		for i, addr := range phys {
			if err := t.cmds.SubmitUpdatePGT(pgtOffset+uint32(i), addr); err != nil {
				return 0, err
			}
		}
		if err := t.cmds.SubmitUpdateMrTable(uint32(rkey), pd, uint8(access), va, uint32(length), pgtOffset); err != nil {
			return 0, err
		}
	}
	return rkey, nil
}

func (t *Table) allocIndexLocked() (uint32, error) {
	for i := range t.entries {
		if t.entries[i] == nil {
			return uint32(i), nil
		}
	}
	return 0, rdmaerr.New(rdmaerr.KindResourceExhausted, "mtt.allocIndex", nil)
}

// Lookup returns the entry for rkey, validating the generation key.
func (t *Table) Lookup(rkey RKey) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := rkey.Index()
	if idx >= MaxMrCnt || t.entries[idx] == nil || t.keygen[idx] != rkey.Key() {
		return nil, rdmaerr.New(rdmaerr.KindNotFound, "mtt.Lookup", nil)
	}
	return t.entries[idx], nil
}

// Deregister removes rkey's entry, bumps its generation key and frees its
// PGT range. It issues no device command and unpins nothing. It refuses
// when inUse holds a nonzero count for the entry's PGT offset; nothing in
// this package increments that count.
func (t *Table) Deregister(rkey RKey) error {
	t.mu.Lock()
	idx := rkey.Index()
	if idx >= MaxMrCnt || t.entries[idx] == nil || t.keygen[idx] != rkey.Key() {
		t.mu.Unlock()
		return rdmaerr.New(rdmaerr.KindNotFound, "mtt.Deregister", nil)
	}
	e := t.entries[idx]
	if t.inUse[e.PGTOffset] > 0 {
		t.mu.Unlock()
		return rdmaerr.New(rdmaerr.KindInvalidInput, "mtt.Deregister", nil)
	}
	t.entries[idx] = nil
	t.keygen[idx]++
	t.mu.Unlock()

	t.pgt.Free(e.PGTOffset, e.PGTCount)
	return nil
}
