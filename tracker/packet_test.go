package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blue-rdma/rdma-driver/rdmautils"
)

func TestPacketTrackerAckOne(t *testing.T) {
	tr := NewPacketTracker()
	tr.AckOne(5)
	for i := 0; i < 5; i++ {
		assert.False(t, tr.inner[i])
	}
	assert.True(t, tr.inner[5])
}

func TestPacketTrackerAckRange(t *testing.T) {
	tr := NewPacketTracker()
	tr.AckRange(0, 0b11, 0)
	assert.Equal(t, uint32(2), tr.BasePsn())

	tr = &PacketTracker{basePsn: 5}
	tr.AckRange(5, 0b11, 0)
	assert.Equal(t, uint32(7), tr.BasePsn())

	tr = &PacketTracker{basePsn: 10}
	tr.AckRange(5, 0b11, 0)
	assert.Equal(t, uint32(10), tr.BasePsn())
	tr.AckRange(20, 0b11, 0)
	assert.Equal(t, uint32(10), tr.BasePsn())
	assert.True(t, tr.inner[10])
	assert.True(t, tr.inner[11])
}

func TestPacketTrackerAllAcked(t *testing.T) {
	tr := &PacketTracker{basePsn: 10}
	assert.True(t, tr.AllAcked(9))
	assert.False(t, tr.AllAcked(10))
	assert.False(t, tr.AllAcked(11))
}

func TestPacketTrackerAckBefore(t *testing.T) {
	tr := &PacketTracker{basePsn: 10}
	newBase, advanced := tr.AckBefore(20)
	assert.True(t, advanced)
	assert.Equal(t, uint32(20), newBase)
	assert.Equal(t, uint32(20), tr.BasePsn())
}

func TestPacketTrackerAckBeforeStaleReportIsNoOp(t *testing.T) {
	tr := &PacketTracker{basePsn: 20}

	newBase, advanced := tr.AckBefore(10)
	assert.False(t, advanced)
	assert.Equal(t, uint32(20), newBase)
	assert.Equal(t, uint32(20), tr.BasePsn())

	// A duplicate report of the current base is likewise not an advance.
	newBase, advanced = tr.AckBefore(20)
	assert.False(t, advanced)
	assert.Equal(t, uint32(20), newBase)
	assert.Equal(t, uint32(20), tr.BasePsn())
}

func TestPacketTrackerAckBeforeAdvancesAcrossWraparound(t *testing.T) {
	tr := &PacketTracker{basePsn: rdmautils.PsnMask - 15}
	newBase, advanced := tr.AckBefore(100)
	assert.True(t, advanced)
	assert.Equal(t, uint32(100), newBase)
	assert.Equal(t, uint32(100), tr.BasePsn())
}

func TestPacketTrackerWrappingAckDoesNotPanic(t *testing.T) {
	tr := &PacketTracker{basePsn: rdmautils.PsnMask - 1}
	assert.NotPanics(t, func() {
		tr.AckRange(0, 0b11, 0)
	})
}
