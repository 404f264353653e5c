// Package tracker implements the PSN-based PacketTracker and the
// MSN-ordered MessageTracker, the sliding-window reliability bookkeeping
// kept per QP per direction, ported from original_source's tracker module.
package tracker

import "github.com/blue-rdma/rdma-driver/rdmautils"

// PacketTracker is a per-direction, per-QP sliding bitmap over PSNs: bit i
// means basePsn+i is acknowledged. Advancing consumes the leading run of
// 1-bits and shifts the bitmap left.
type PacketTracker struct {
	basePsn uint32
	inner   []bool
}

// NewPacketTracker returns a tracker with basePsn at 0.
func NewPacketTracker() *PacketTracker {
	return &PacketTracker{}
}

func (t *PacketTracker) BasePsn() uint32 { return t.basePsn }

// rstart returns psn's signed offset from basePsn, treating both as plain
// 24-bit values promoted to int32 (never overflows since both fit in 24
// bits).
func (t *PacketTracker) rstart(psn uint32) int {
	return int(int32(psn)) - int(int32(t.basePsn))
}

func (t *PacketTracker) ensureLen(n int) {
	if n > len(t.inner) {
		grown := make([]bool, n)
		copy(grown, t.inner)
		t.inner = grown
	}
}

// AckOne sets bit psn-basePsn. Returns (newBasePsn, true) if the window
// advanced.
func (t *PacketTracker) AckOne(psn uint32) (uint32, bool) {
	rstart := t.rstart(psn)
	if rstart < 0 {
		return 0, false
	}
	t.ensureLen(rstart + 1)
	t.inner[rstart] = true
	return t.tryAdvance()
}

// AckRange ORs up to 128 bits of bitmap (lo = bits 0..63, hi = bits
// 64..127) starting at nowPsn-basePsn, then advances.
func (t *PacketTracker) AckRange(nowPsn uint32, bitmapLo, bitmapHi uint64) (uint32, bool) {
	rstart := t.rstart(nowPsn)
	rend := rstart + 128
	if rend <= 0 {
		return t.tryAdvance()
	}
	t.ensureLen(rend)
	start := rstart
	if start < 0 {
		start = 0
	}
	for i := start; i < rend; i++ {
		x := uint(i - rstart)
		var bit uint64
		if x < 64 {
			bit = (bitmapLo >> x) & 1
		} else {
			bit = (bitmapHi >> (x - 64)) & 1
		}
		if bit == 1 {
			t.inner[i] = true
		}
	}
	return t.tryAdvance()
}

// AckBefore force-advances basePsn to psn, shifting (or clearing) the
// bitmap, used when the device reports a cumulative watermark directly.
// A stale or duplicate report (psn not ahead of basePsn, measured modulo
// the 24-bit PSN space so a report just past a wraparound still counts as
// forward progress) is a no-op: basePsn only ever moves forward.
func (t *PacketTracker) AckBefore(psn uint32) (uint32, bool) {
	advance := (psn - t.basePsn) & rdmautils.PsnMask
	if advance == 0 || advance >= rdmautils.MaxPsnWindow {
		return t.basePsn, false
	}
	rstart := int(advance)
	t.basePsn = psn
	if rstart >= len(t.inner) {
		t.inner = t.inner[:0]
	} else {
		t.inner = append(t.inner[:0], t.inner[rstart:]...)
	}
	return psn, true
}

// NakBitmap ORs both the "now" and "pre" spans in, then advances, per the
// two-segment hardware NAK report.
func (t *PacketTracker) NakBitmap(psnPre uint32, preLo, preHi uint64, psnNow uint32, nowLo, nowHi uint64) (uint32, bool) {
	t.AckRange(psnPre, preLo, preHi)
	return t.AckRange(psnNow, nowLo, nowHi)
}

// AllAcked reports whether every PSN up to and including psnTo has been
// acknowledged (i.e. basePsn has advanced strictly past it).
func (t *PacketTracker) AllAcked(psnTo uint32) bool {
	x := (t.basePsn - psnTo) & rdmautils.PsnMask
	return x > 0 && x < rdmautils.MaxPsnWindow
}

// tryAdvance consumes the leading run of 1-bits, advancing basePsn by
// their count modulo the PSN space.
func (t *PacketTracker) tryAdvance() (uint32, bool) {
	pos := len(t.inner)
	for i, b := range t.inner {
		if !b {
			pos = i
			break
		}
	}
	if pos == 0 {
		return 0, false
	}
	t.inner = append([]bool{}, t.inner[pos:]...)
	t.basePsn = (t.basePsn + uint32(pos)) & rdmautils.PsnMask
	return t.basePsn, true
}
