// Package rdmautils holds small fixed-width arithmetic types shared across
// the driver: PSN/MSN sequence numbers and the PD handle allocator.
package rdmautils

// PSN bit-width constants, carried verbatim from the device's wire format.
const (
	PsnSizeBits = 24
	PsnMask     = (1 << PsnSizeBits) - 1
	MaxPsnWindow = 1 << (PsnSizeBits - 1)
)

// Psn is a 24-bit modular packet sequence number. Comparisons wrap at
// PsnMask using a half-window rule: the value with the shorter forward
// distance is considered "less".
type Psn uint32

// NewPsn masks v down to the 24-bit PSN space.
func NewPsn(v uint32) Psn {
	return Psn(v & PsnMask)
}

func (p Psn) Value() uint32 {
	return uint32(p)
}

// Add returns p+n wrapped into the PSN space.
func (p Psn) Add(n uint32) Psn {
	return Psn((uint32(p) + n) & PsnMask)
}

// Sub returns the forward distance from other to p, i.e. how many wraps of
// Add(1) from other land on p.
func (p Psn) Sub(other Psn) uint32 {
	return (uint32(p) - uint32(other)) & PsnMask
}

// Cmp implements the modular ordering: 0 if equal, -1 if p < other, 1 if
// p > other, using MaxPsnWindow as the wraparound threshold. Ported from
// rdma_utils::psn::Psn's wrapping_sub half-window comparison.
func (p Psn) Cmp(other Psn) int {
	x := (uint32(p) - uint32(other)) & PsnMask
	switch {
	case x == 0:
		return 0
	case x > MaxPsnWindow:
		return -1
	default:
		return 1
	}
}

func (p Psn) Less(other Psn) bool    { return p.Cmp(other) < 0 }
func (p Psn) LessEq(other Psn) bool  { return p.Cmp(other) <= 0 }
func (p Psn) Greater(other Psn) bool { return p.Cmp(other) > 0 }
func (p Psn) Equal(other Psn) bool   { return p == other }
