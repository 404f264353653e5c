package send

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blue-rdma/rdma-driver/csr"
	"github.com/blue-rdma/rdma-driver/desc"
	"github.com/blue-rdma/rdma-driver/ringbuf"
)

func newSendRing(t *testing.T) *ringbuf.Ring {
	t.Helper()
	mem := csr.NewMemReadWriter(make([]byte, 64))
	r, err := ringbuf.New(make([]ringbuf.Desc, 16), 16, ringbuf.HostToCard, mem, 0, 4)
	require.NoError(t, err)
	return r
}

func TestSchedulerDispatchesThroughSingleWorker(t *testing.T) {
	ring := newSendRing(t)
	sched := NewScheduler()
	workers := NewWorkers(sched.Injector(), []*ringbuf.Ring{ring})

	require.NoError(t, sched.Send(WrChunk{Op: desc.OpWrite, Pos: desc.PosOnly, Qpn: 3, Msn: 1, Psn: 10, TotalLen: 64}))

	stop := make(chan struct{})
	go workers[0].Run(stop)
	defer close(stop)

	assert.Eventually(t, func() bool {
		return !ring.IsEmpty()
	}, time.Second, time.Millisecond)

	d0, ok := ring.Pop()
	require.True(t, ok)
	seg0 := desc.DecodeSendQueueReqDescSeg0(desc.Raw(d0))
	assert.Equal(t, uint32(3), seg0.Qpn)
	assert.Equal(t, uint32(10), seg0.Psn)

	d1, ok := ring.Pop()
	require.True(t, ok)
	assert.True(t, desc.DecodeHeader(ptr(desc.Raw(d1))).Valid)
}

func ptr(r desc.Raw) *desc.Raw { return &r }

func TestWorkerStealsFromPeerWhenLocalAndGlobalEmpty(t *testing.T) {
	ring1 := newSendRing(t)
	ring2 := newSendRing(t)
	injector := NewInjector()
	workers := NewWorkers(injector, []*ringbuf.Ring{ring1, ring2})

	workers[1].local.push(WrChunk{Op: desc.OpSend, Pos: desc.PosOnly, Qpn: 9, TotalLen: 8})

	wr, ok := workers[0].FindTask()
	require.True(t, ok)
	assert.Equal(t, uint32(9), wr.Qpn)
}

func TestDequeStealBatchSplitsRoughlyInHalf(t *testing.T) {
	var src, dst deque
	for i := 0; i < 5; i++ {
		src.push(WrChunk{Qpn: uint32(i)})
	}
	first, ok := src.stealBatch(&dst)
	require.True(t, ok)
	assert.Equal(t, uint32(0), first.Qpn)
	assert.Equal(t, 2, len(dst.items))
	assert.Equal(t, 2, len(src.items))
}
