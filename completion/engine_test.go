package completion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blue-rdma/rdma-driver/cq"
	"github.com/blue-rdma/rdma-driver/rdmautils"
	"github.com/blue-rdma/rdma-driver/tracker"
)

func TestOnRecvAdvanceDeliversPoppedMessages(t *testing.T) {
	cqs := cq.NewTable()
	handle, c, err := cqs.Create()
	require.NoError(t, err)

	mt := tracker.NewMessageTracker()
	mt.Append(tracker.MessageMeta{Msn: rdmautils.NewMsn(0), Psn: 10})
	mt.Append(tracker.MessageMeta{Msn: rdmautils.NewMsn(1), Psn: 20})

	e := New(cqs)
	err = e.OnRecvAdvance(7, mt, 15, handle, func(tracker.MessageMeta) cq.CompletionKind {
		return cq.KindRecv
	})
	require.NoError(t, err)

	out := make([]cq.Completion, 4)
	n := c.Poll(out)
	require.Equal(t, 1, n)
	assert.Equal(t, cq.KindRecv, out[0].Kind)
	assert.Equal(t, uint32(7), out[0].Qpn)
}

func TestOnSendAdvanceCompletesOnlySignalled(t *testing.T) {
	cqs := cq.NewTable()
	handle, c, err := cqs.Create()
	require.NoError(t, err)
	c.RegisterPending(3, 0, 0xAAAA)

	mt := tracker.NewMessageTracker()
	mt.Append(tracker.MessageMeta{Msn: rdmautils.NewMsn(0), Psn: 10, AckReq: true})
	mt.Append(tracker.MessageMeta{Msn: rdmautils.NewMsn(1), Psn: 20, AckReq: false})

	e := New(cqs)
	require.NoError(t, e.OnSendAdvance(3, mt, 25, handle))

	out := make([]cq.Completion, 4)
	n := c.Poll(out)
	require.Equal(t, 1, n)
	assert.Equal(t, uint64(0xAAAA), out[0].WrID)
}

func TestFlushErrProducesErrCompletions(t *testing.T) {
	cqs := cq.NewTable()
	handle, c, err := cqs.Create()
	require.NoError(t, err)
	c.RegisterPending(1, 5, 0x1234)

	e := New(cqs)
	require.NoError(t, e.FlushErr(1, handle, []uint16{5}))

	out := make([]cq.Completion, 4)
	n := c.Poll(out)
	require.Equal(t, 1, n)
	assert.Equal(t, cq.KindFlushErr, out[0].Kind)
	assert.Error(t, out[0].Err)
}
