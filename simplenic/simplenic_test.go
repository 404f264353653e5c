package simplenic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blue-rdma/rdma-driver/csr"
	"github.com/blue-rdma/rdma-driver/ringbuf"
)

func TestControllerSendPublishesTxDescriptor(t *testing.T) {
	mem := csr.NewMemReadWriter(make([]byte, 64))
	txRing, err := ringbuf.New(make([]ringbuf.Desc, 8), 8, ringbuf.HostToCard, mem, 0, 4)
	require.NoError(t, err)
	rxRing, err := ringbuf.New(make([]ringbuf.Desc, 8), 8, ringbuf.CardToHost, mem, 8, 12)
	require.NoError(t, err)

	txBuf := make([]byte, SlotSize*4)
	rxBuf := make([]byte, SlotSize*4)
	c := NewController(txRing, rxRing, txBuf, rxBuf, 0x9000, 0xA000)

	frame := []byte("hello frame")
	require.NoError(t, c.Send(frame))

	assert.Equal(t, frame, txBuf[:len(frame)])
	assert.False(t, txRing.IsEmpty())
}

func TestControllerRecvNonblockingReturnsWouldBlockWhenEmpty(t *testing.T) {
	mem := csr.NewMemReadWriter(make([]byte, 64))
	txRing, err := ringbuf.New(make([]ringbuf.Desc, 8), 8, ringbuf.HostToCard, mem, 0, 4)
	require.NoError(t, err)
	rxRing, err := ringbuf.New(make([]ringbuf.Desc, 8), 8, ringbuf.CardToHost, mem, 8, 12)
	require.NoError(t, err)

	c := NewController(txRing, rxRing, make([]byte, SlotSize), make([]byte, SlotSize), 0, 0)
	_, err = c.RecvNonblocking()
	assert.ErrorIs(t, err, ErrWouldBlock)
}

func TestLoopbackSendRecvRoundTrip(t *testing.T) {
	lb := NewLoopback(4)
	require.NoError(t, lb.Send([]byte("ping")))

	got, err := lb.RecvNonblocking()
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), got)

	_, err = lb.RecvNonblocking()
	assert.ErrorIs(t, err, ErrWouldBlock)
}
