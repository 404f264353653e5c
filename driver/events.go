package driver

import (
	"github.com/blue-rdma/rdma-driver/cq"
	"github.com/blue-rdma/rdma-driver/desc"
	"github.com/blue-rdma/rdma-driver/fragmenter"
	"github.com/blue-rdma/rdma-driver/metareport"
	"github.com/blue-rdma/rdma-driver/qp"
	"github.com/blue-rdma/rdma-driver/rdmautils"
	"github.com/blue-rdma/rdma-driver/retransmit"
	"github.com/blue-rdma/rdma-driver/send"
	"github.com/blue-rdma/rdma-driver/tracker"
)

// handlers wires every meta-report event to the driver's per-QP trackers
// and completion/retransmit machinery.
func (d *Driver) handlers() metareport.Handlers {
	return metareport.Handlers{
		OnHeaderWrite:     d.onHeaderWrite,
		OnHeaderRead:      d.onHeaderRead,
		OnCnp:             d.onCnp,
		OnAckLocalHw:      d.onAckLocalHw,
		OnAckRemoteDriver: d.onAckRemoteDriver,
		OnNakLocalHw:      d.onNakLocalHw,
		OnNakRemoteHw:     d.onNakRemoteHw,
		OnNakRemoteDriver: d.onNakRemoteDriver,
	}
}

// headerCompletionKind maps a header report's opcode to the recv-side
// completion it produces; plain Write carries no completion at all,
// matching verbs semantics (only Write-with-immediate notifies the peer).
func headerCompletionKind(ht desc.HeaderType) (cq.CompletionKind, bool) {
	switch ht {
	case desc.HeaderWriteImm:
		return cq.KindWriteWithImmNotify, true
	case desc.HeaderSend:
		return cq.KindRecv, true
	case desc.HeaderSendImm:
		return cq.KindRecvWithImm, true
	default:
		return 0, false
	}
}

// onHeaderWrite records one completed inbound message. A read response is
// completing the local requester's own posted READ, so it is folded into
// the send-side tracker instead of the recv side.
func (d *Driver) onHeaderWrite(hw desc.MetaHeaderWrite) {
	rt := d.runtimeFor(hw.Dqpn)
	if hw.HeaderType == desc.HeaderReadResp {
		rt.mu.Lock()
		rt.sendMsg.Append(tracker.MessageMeta{Msn: rdmautils.NewMsn(hw.Msn), Psn: hw.Psn, AckReq: true})
		rt.mu.Unlock()
		return
	}
	kind, deliver := headerCompletionKind(hw.HeaderType)
	if !deliver {
		return
	}
	rt.mu.Lock()
	rt.recvMsg.Append(tracker.MessageMeta{Msn: rdmautils.NewMsn(hw.Msn), Psn: hw.Psn, AckReq: hw.AckReq})
	rt.pendingKind[hw.Msn] = kind
	rt.mu.Unlock()
}

// onHeaderRead fragments the requested local range into RDMA-READ-response
// chunks and schedules them on the requesting QP's channel, the only
// meta-report event that itself produces outbound traffic.
func (d *Driver) onHeaderRead(hr desc.MetaHeaderRead) {
	attrs, err := d.qps.Lookup(qp.QPN(hr.Dqpn))
	if err != nil {
		log.WithError(err).WithField("qpn", hr.Dqpn).Warn("read request for unknown qp")
		return
	}
	pmtu := attrs.Pmtu.Bytes()
	frags := fragmenter.All(fragmenter.ChunkMaxSize, fragmenter.ChunkAlign, hr.LAddr, uint64(hr.TotalLen))
	if len(frags) == 0 {
		return
	}

	rt := d.runtimeFor(hr.Dqpn)
	rt.mu.Lock()
	psn := hr.Psn
	for i, fr := range frags {
		offset := fr.Addr - hr.LAddr
		chunk := send.WrChunk{
			Op:       desc.OpRdmaReadResp,
			Pos:      desc.ChunkPos(fr.Pos),
			AckReq:   i == len(frags)-1,
			Qpn:      hr.Dqpn,
			Msn:      hr.Msn,
			Psn:      psn,
			TotalLen: fr.Len,
			LAddr:    fr.Addr,
			RAddr:    hr.RAddr + offset,
			RKey:     hr.RKey,
		}
		d.enqueueChunk(chunk)
		psn = (psn + ceilDiv(fr.Len, pmtu)) & rdmautils.PsnMask
	}
	rt.mu.Unlock()
}

func (d *Driver) onCnp(ev desc.MetaCnp) {
	log.WithField("qpn", ev.Qpn).Debug("congestion notification received")
}

func (d *Driver) onAckLocalHw(qpn, psnNow uint32, bitmap [2]uint64) {
	rt := d.runtimeFor(qpn)
	rt.mu.Lock()
	newBase, advanced := rt.recvPacket.AckRange(psnNow, bitmap[0], bitmap[1])
	rt.mu.Unlock()
	if advanced {
		d.deliverRecvAdvance(qpn, newBase)
	}
}

func (d *Driver) onNakLocalHw(qpn, psnNow uint32, bitmap [2]uint64, _ uint32) {
	rt := d.runtimeFor(qpn)
	rt.mu.Lock()
	newBase, advanced := rt.recvPacket.AckRange(psnNow, bitmap[0], bitmap[1])
	rt.mu.Unlock()
	if advanced {
		d.deliverRecvAdvance(qpn, newBase)
	}
}

func (d *Driver) onAckRemoteDriver(ev desc.MetaAckRemoteDriver) {
	rt := d.runtimeFor(ev.Qpn)
	rt.mu.Lock()
	newBase, advanced := rt.sendPacket.AckBefore(ev.PsnNow)
	rt.mu.Unlock()
	if advanced {
		d.deliverSendAdvance(ev.Qpn, newBase)
	}
}

func (d *Driver) onNakRemoteHw(qpn, psnNow uint32, bitmap [2]uint64, retransmitEnd uint32) {
	rt := d.runtimeFor(qpn)
	rt.mu.Lock()
	newBase, advanced := rt.sendPacket.AckRange(psnNow, bitmap[0], bitmap[1])
	rt.mu.Unlock()
	if advanced {
		d.deliverSendAdvance(qpn, newBase)
	}
	d.requestRetransmit(qpn, newBase, retransmitEnd, "nak_remote_hw")
}

func (d *Driver) onNakRemoteDriver(ev desc.MetaNakRemoteDriver) {
	d.requestRetransmit(ev.Qpn, ev.PsnPre, ev.PsnNow, "nak_remote_driver")
}

func (d *Driver) requestRetransmit(qpn, low, high uint32, cause string) {
	select {
	case d.pktRetrans.Tasks() <- retransmit.PacketRetransmitTask{Kind: retransmit.TaskRetransmitRange, Qpn: qpn, PsnLow: low, PsnHigh: high}:
	default:
		log.WithField("qpn", qpn).Warn("packet retransmit worker busy, dropping retransmit request")
	}
	d.metrics.retransmitTotal.WithLabelValues(cause).Inc()
}

func (d *Driver) deliverRecvAdvance(qpn, newBase uint32) {
	attrs, err := d.qps.Lookup(qp.QPN(qpn))
	if err != nil {
		return
	}
	rt := d.runtimeFor(qpn)
	kindFor := func(m tracker.MessageMeta) cq.CompletionKind {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		k, ok := rt.pendingKind[m.Msn.Value()]
		if !ok {
			return cq.KindRecv
		}
		delete(rt.pendingKind, m.Msn.Value())
		return k
	}
	if err := d.completion.OnRecvAdvance(qpn, rt.recvMsg, newBase, attrs.RecvCq, kindFor); err != nil {
		log.WithError(err).WithField("qpn", qpn).Warn("recv completion delivery failed")
	}
}

func (d *Driver) deliverSendAdvance(qpn, newBase uint32) {
	attrs, err := d.qps.Lookup(qp.QPN(qpn))
	if err != nil {
		return
	}
	rt := d.runtimeFor(qpn)
	if err := d.completion.OnSendAdvance(qpn, rt.sendMsg, newBase, attrs.SendCq); err != nil {
		log.WithError(err).WithField("qpn", qpn).Warn("send completion delivery failed")
	}
	select {
	case d.pktRetrans.Tasks() <- retransmit.PacketRetransmitTask{Kind: retransmit.TaskAck, Qpn: qpn, Psn: newBase}:
	default:
	}
	select {
	case d.tmoRetrans.Tasks() <- retransmit.RetransmitTask{Kind: retransmit.TaskReceiveACK, Qpn: qpn}:
	default:
	}
}

// enqueueChunk dispatches wr to the channel its QP hashes to.
func (d *Driver) enqueueChunk(wr send.WrChunk) {
	d.channelFor(wr.Qpn).Push(wr)
}
