package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blue-rdma/rdma-driver/rdmautils"
)

func TestMessageTrackerAckPopsCompletedEntries(t *testing.T) {
	mt := NewMessageTracker()
	mt.Append(MessageMeta{Msn: rdmautils.NewMsn(0), Psn: 10, AckReq: true})
	mt.Append(MessageMeta{Msn: rdmautils.NewMsn(1), Psn: 20, AckReq: false})
	mt.Append(MessageMeta{Msn: rdmautils.NewMsn(2), Psn: 30, AckReq: true})

	acked := mt.Ack(25)
	assert.Len(t, acked, 2)
	assert.Equal(t, rdmautils.NewMsn(0), acked[0].Msn)
	assert.Equal(t, rdmautils.NewMsn(1), acked[1].Msn)
	assert.Equal(t, 1, mt.Len())
}

func TestMessageTrackerAckStopsAtFirstUnacked(t *testing.T) {
	mt := NewMessageTracker()
	mt.Append(MessageMeta{Msn: rdmautils.NewMsn(0), Psn: 50})

	acked := mt.Ack(10)
	assert.Empty(t, acked)
	assert.Equal(t, 1, mt.Len())
}

func TestMessageTrackerDrainAllReturnsEverythingAndEmpties(t *testing.T) {
	mt := NewMessageTracker()
	mt.Append(MessageMeta{Msn: rdmautils.NewMsn(0), Psn: 10})
	mt.Append(MessageMeta{Msn: rdmautils.NewMsn(1), Psn: 99999})

	drained := mt.DrainAll()
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, mt.Len())
}

func TestMessageTrackerAppendOutOfOrderInsertsSorted(t *testing.T) {
	mt := NewMessageTracker()
	mt.Append(MessageMeta{Msn: rdmautils.NewMsn(5), Psn: 100})
	mt.Append(MessageMeta{Msn: rdmautils.NewMsn(2), Psn: 40})
	mt.Append(MessageMeta{Msn: rdmautils.NewMsn(8), Psn: 200})

	assert.Equal(t, rdmautils.NewMsn(2), mt.inner[0].Msn)
	assert.Equal(t, rdmautils.NewMsn(5), mt.inner[1].Msn)
	assert.Equal(t, rdmautils.NewMsn(8), mt.inner[2].Msn)
}
