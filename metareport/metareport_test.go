package metareport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blue-rdma/rdma-driver/csr"
	"github.com/blue-rdma/rdma-driver/desc"
	"github.com/blue-rdma/rdma-driver/ringbuf"
)

func newReportRing(t *testing.T) *ringbuf.Ring {
	t.Helper()
	mem := csr.NewMemReadWriter(make([]byte, 64))
	r, err := ringbuf.New(make([]ringbuf.Desc, 8), 8, ringbuf.CardToHost, mem, 0, 4)
	require.NoError(t, err)
	return r
}

func TestPollOnceDecodesSingleSegmentEvent(t *testing.T) {
	r := newReportRing(t)
	ack := desc.MetaAckLocalHw{Qpn: 7, PsnNow: 200, NowBitmap: [2]uint64{0b111, 0}}
	require.NoError(t, r.Push(ringbuf.Desc(ack.Encode())))
	require.NoError(t, r.FlushHead())

	var gotQpn, gotPsn uint32
	in := New([]*ringbuf.Ring{r}, 0, Handlers{
		OnAckLocalHw: func(qpn, psnNow uint32, bitmap [2]uint64) {
			gotQpn, gotPsn = qpn, psnNow
		},
	})

	consumed, err := in.PollOnce()
	require.NoError(t, err)
	assert.True(t, consumed)
	assert.Equal(t, uint32(7), gotQpn)
	assert.Equal(t, remapPsn(200), gotPsn)
}

func TestPollOnceDecodesTwoSegmentEvent(t *testing.T) {
	r := newReportRing(t)
	read := desc.MetaHeaderRead{Dqpn: 3, RAddr: 0x1000, RKey: 99, TotalLen: 64, LAddr: 0x2000, LKey: 7, AckReq: true, Msn: 1, Psn: 50}
	seg0, seg1 := read.Encode()
	require.NoError(t, r.Push(ringbuf.Desc(seg0)))
	require.NoError(t, r.Push(ringbuf.Desc(seg1)))
	require.NoError(t, r.FlushHead())

	var got desc.MetaHeaderRead
	in := New([]*ringbuf.Ring{r}, 0, Handlers{
		OnHeaderRead: func(d desc.MetaHeaderRead) { got = d },
	})

	consumed, err := in.PollOnce()
	require.NoError(t, err)
	assert.True(t, consumed)
	assert.Equal(t, read, got)
}

func TestPollOnceRoundRobinsAcrossRings(t *testing.T) {
	r1 := newReportRing(t)
	r2 := newReportRing(t)
	cnp := desc.MetaCnp{Qpn: 1}
	require.NoError(t, r2.Push(ringbuf.Desc(cnp.Encode())))
	require.NoError(t, r2.FlushHead())

	var calls int
	in := New([]*ringbuf.Ring{r1, r2}, 0, Handlers{
		OnCnp: func(desc.MetaCnp) { calls++ },
	})

	// r1 is empty so the scan falls through to r2 within the same call.
	consumed, err := in.PollOnce()
	require.NoError(t, err)
	assert.True(t, consumed)
	assert.Equal(t, 1, calls)
}

func TestNakLocalHwAppliesRemapAndWindow(t *testing.T) {
	r := newReportRing(t)
	nak := desc.MetaNakHw{Qpn: 5, PsnNow: 1000, PsnPre: 900, Msn: 3}
	seg0, seg1 := nak.EncodeLocal()
	require.NoError(t, r.Push(ringbuf.Desc(seg0)))
	require.NoError(t, r.Push(ringbuf.Desc(seg1)))
	require.NoError(t, r.FlushHead())

	var gotPsnNow, gotEnd uint32
	in := New([]*ringbuf.Ring{r}, 128, Handlers{
		OnNakLocalHw: func(qpn, psnNow uint32, bitmap [2]uint64, retransmitEnd uint32) {
			gotPsnNow, gotEnd = psnNow, retransmitEnd
		},
	})

	consumed, err := in.PollOnce()
	require.NoError(t, err)
	assert.True(t, consumed)
	assert.Equal(t, remapPsn(1000), gotPsnNow)
	assert.Equal(t, remapPsn(1000)+128, gotEnd)
}
