package retransmit

import (
	"github.com/sirupsen/logrus"

	"github.com/blue-rdma/rdma-driver/desc"
	"github.com/blue-rdma/rdma-driver/fragmenter"
	"github.com/blue-rdma/rdma-driver/qp"
	"github.com/blue-rdma/rdma-driver/rdmautils"
	"github.com/blue-rdma/rdma-driver/retransmit/sendqueue"
	"github.com/blue-rdma/rdma-driver/send"
)

var log = logrus.WithField("component", "retransmit")

// TaskKind tags a PacketRetransmitTask's variant.
type TaskKind uint8

const (
	TaskNewWr TaskKind = iota
	TaskRetransmitRange
	TaskRetransmitAll
	TaskAck
)

// PacketRetransmitTask is the packet-retransmit worker's single inbound
// message type, mirroring the four-variant enum in the original.
type PacketRetransmitTask struct {
	Kind    TaskKind
	Qpn     uint32
	Elem    sendqueue.Elem // TaskNewWr
	PsnLow  uint32         // TaskRetransmitRange, inclusive
	PsnHigh uint32         // TaskRetransmitRange, exclusive
	Psn     uint32         // TaskAck
}

// PacketRetransmitWorker owns one shadow send queue per QP and replays
// entries into the send scheduler on NAK.
type PacketRetransmitWorker struct {
	tasks  chan PacketRetransmitTask
	sender *send.Scheduler
	table  [qp.MaxQpCnt]*sendqueue.Queue
}

func NewPacketRetransmitWorker(sender *send.Scheduler) *PacketRetransmitWorker {
	return &PacketRetransmitWorker{
		tasks:  make(chan PacketRetransmitTask, 256),
		sender: sender,
	}
}

func (w *PacketRetransmitWorker) Tasks() chan<- PacketRetransmitTask { return w.tasks }

func (w *PacketRetransmitWorker) queueFor(qpn uint32) *sendqueue.Queue {
	idx := qp.QPN(qpn).TableIndex()
	if w.table[idx] == nil {
		w.table[idx] = sendqueue.New()
	}
	return w.table[idx]
}

// Run processes tasks until stop is closed or the task channel is closed.
func (w *PacketRetransmitWorker) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case task, ok := <-w.tasks:
			if !ok {
				return
			}
			w.handle(task)
		}
	}
}

func (w *PacketRetransmitWorker) handle(task PacketRetransmitTask) {
	sq := w.queueFor(task.Qpn)
	switch task.Kind {
	case TaskNewWr:
		sq.Push(task.Elem)
	case TaskRetransmitRange:
		log.WithField("qpn", task.Qpn).WithField("low", task.PsnLow).WithField("high", task.PsnHigh).
			Debug("retransmit range")
		low, high := rdmautils.NewPsn(task.PsnLow), rdmautils.NewPsn(task.PsnHigh)
		for _, e := range sq.Range(task.PsnLow, task.PsnHigh) {
			for _, pkt := range regeneratePackets(e) {
				p := rdmautils.NewPsn(pkt.Psn)
				if p.Less(low) || !p.Less(high) {
					continue
				}
				w.resend(pkt)
			}
		}
	case TaskRetransmitAll:
		log.WithField("qpn", task.Qpn).Debug("retransmit all")
		for _, e := range sq.All() {
			for _, pkt := range regeneratePackets(e) {
				w.resend(pkt)
			}
		}
	case TaskAck:
		sq.PopUntil(task.Psn)
	}
}

// regeneratePackets re-splits a Chunk-level shadow entry into independent
// PMTU-sized packets, each resubmitted as its own retried chunk rather
// than resending the original, possibly much larger, DMA chunk verbatim.
func regeneratePackets(e sendqueue.Elem) []send.WrChunk {
	pmtu := e.Pmtu
	if pmtu == 0 || pmtu > e.Chunk.TotalLen {
		pmtu = e.Chunk.TotalLen
	}
	frags := fragmenter.All(pmtu, pmtu, e.Chunk.LAddr, uint64(e.Chunk.TotalLen))
	out := make([]send.WrChunk, 0, len(frags))
	for i, fr := range frags {
		pos := packetPosition(e.Chunk.Pos, desc.ChunkPos(fr.Pos))
		pkt := e.Chunk
		pkt.Pos = pos
		pkt.Psn = (e.Psn + uint32(i)) & rdmautils.PsnMask
		pkt.TotalLen = fr.Len
		pkt.LAddr = fr.Addr
		pkt.RAddr = e.Chunk.RAddr + (fr.Addr - e.Chunk.LAddr)
		pkt.IsRetry = true
		// AckReq is only meaningful on the literal last packet of the
		// chunk; otherwise every regenerated sub-packet would redundantly
		// request an ACK.
		pkt.AckReq = e.Chunk.AckReq && (pos == desc.PosLast || pos == desc.PosOnly)
		out = append(out, pkt)
	}
	return out
}

// packetPosition derives a retransmitted packet's message-boundary tag.
// The card only marks message completion on Last/Only, so a packet only
// carries one of those if it is both the last packet of its chunk and its
// chunk was itself the message's terminal one.
func packetPosition(chunkPos, fragPos desc.ChunkPos) desc.ChunkPos {
	fragIsFirst := fragPos == desc.PosFirst || fragPos == desc.PosOnly
	fragIsLast := fragPos == desc.PosLast || fragPos == desc.PosOnly
	chunkIsFirst := chunkPos == desc.PosFirst || chunkPos == desc.PosOnly
	chunkIsLast := chunkPos == desc.PosLast || chunkPos == desc.PosOnly
	switch {
	case fragIsFirst && fragIsLast && chunkIsFirst && chunkIsLast:
		return desc.PosOnly
	case fragIsLast && chunkIsLast:
		return desc.PosLast
	case fragIsFirst && chunkIsFirst:
		return desc.PosFirst
	default:
		return desc.PosMiddle
	}
}

func (w *PacketRetransmitWorker) resend(chunk send.WrChunk) {
	if err := w.sender.Send(chunk); err != nil {
		log.WithError(err).WithField("qpn", chunk.Qpn).Error("failed to resend chunk")
	}
}
