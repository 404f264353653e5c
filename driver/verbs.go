package driver

import (
	"encoding/binary"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blue-rdma/rdma-driver/cq"
	"github.com/blue-rdma/rdma-driver/desc"
	"github.com/blue-rdma/rdma-driver/fragmenter"
	"github.com/blue-rdma/rdma-driver/mtt"
	"github.com/blue-rdma/rdma-driver/qp"
	"github.com/blue-rdma/rdma-driver/rdmaerr"
	"github.com/blue-rdma/rdma-driver/rdmautils"
	"github.com/blue-rdma/rdma-driver/retransmit"
	"github.com/blue-rdma/rdma-driver/retransmit/sendqueue"
	"github.com/blue-rdma/rdma-driver/send"
	"github.com/blue-rdma/rdma-driver/tracker"
)

// DeviceInfo answers query_device_ex.
type DeviceInfo struct {
	MaxQp int
	MaxCq int
	MaxMr int
}

// QueryDevice returns the device's fixed capability limits.
func (d *Driver) QueryDevice() DeviceInfo {
	return DeviceInfo{MaxQp: qp.MaxQpCnt, MaxCq: cq.MaxCqCnt, MaxMr: mtt.MaxMrCnt}
}

// PortInfo answers query_port.
type PortInfo struct {
	IPAddr  string
	NetMask string
	MacAddr string
}

// QueryPort returns the link configuration loaded at startup.
func (d *Driver) QueryPort() PortInfo {
	return PortInfo{IPAddr: d.cfg.Network.IPAddr, NetMask: d.cfg.Network.NetMask, MacAddr: d.cfg.Network.MacAddr}
}

// AllocPD allocates a protection domain handle.
func (d *Driver) AllocPD() (uint32, error) {
	return d.pds.Alloc()
}

// DeallocPD releases a protection domain handle.
func (d *Driver) DeallocPD(handle uint32) error {
	return d.pds.Dealloc(handle)
}

// RegMR registers [va, va+length) under pd and returns its R-key. The
// pages are not pinned.
func (d *Driver) RegMR(va, length uint64, pd uint32, access mtt.AccessFlags) (mtt.RKey, error) {
	if !d.pds.IsAllocated(pd) {
		return 0, rdmaerr.New(rdmaerr.KindInvalidInput, "driver.RegMR", nil)
	}
	return d.mrs.Register(va, length, pd, access)
}

// DeregMR unpins a memory region.
func (d *Driver) DeregMR(rkey mtt.RKey) error {
	return d.mrs.Deregister(rkey)
}

// CreateCQ allocates a completion queue handle.
func (d *Driver) CreateCQ() (uint32, error) {
	handle, _, err := d.cqs.Create()
	return handle, err
}

// DestroyCQ releases a completion queue handle.
func (d *Driver) DestroyCQ(handle uint32) error {
	return d.cqs.Destroy(handle)
}

// CreateQP allocates a queue pair in RESET state and registers it with the
// card's own QP table.
func (d *Driver) CreateQP(attrs qp.Attrs) (qp.QPN, error) {
	qpn, err := d.qps.Create(attrs)
	if err != nil {
		return 0, err
	}
	d.runtimeFor(uint32(qpn))
	if err := d.submitQpManagement(qpn, attrs); err != nil {
		_ = d.qps.Destroy(qpn)
		return 0, err
	}
	return qpn, nil
}

// ModifyQP drives the RC state machine (and any attribute mutation)
// forward; an illegal transition is reported as invalid input rather than
// silently ignored. The resulting attributes are reprogrammed onto the
// card so the hardware's own QP table stays in step with qps.
func (d *Driver) ModifyQP(qpn qp.QPN, newState qp.State, mutate func(*qp.Attrs)) error {
	if err := d.qps.Modify(qpn, newState, mutate); err != nil {
		return err
	}
	attrs, err := d.qps.Lookup(qpn)
	if err != nil {
		return err
	}
	return d.submitQpManagement(qpn, attrs)
}

// submitQpManagement pushes attrs onto the command queue as a QP
// management request, timing the round trip into cmdLatency.
func (d *Driver) submitQpManagement(qpn qp.QPN, attrs qp.Attrs) error {
	timer := prometheus.NewTimer(d.metrics.cmdLatency)
	defer timer.ObserveDuration()
	return d.cmds.SubmitQpManagement(desc.CmdQueueReqDescQpManagement{
		Qpn:     uint32(qpn),
		State:   uint8(attrs.State),
		Pmtu:    uint8(attrs.Pmtu),
		Access:  uint8(attrs.Access),
		PeerQpn: uint32(attrs.PeerQpn),
		PeerIP:  binary.BigEndian.Uint32(attrs.PeerIP[:]),
		SendCq:  attrs.SendCq,
		RecvCq:  attrs.RecvCq,
	})
}

// QueryQP returns a queue pair's current attributes.
func (d *Driver) QueryQP(qpn qp.QPN) (qp.Attrs, error) {
	return d.qps.Lookup(qpn)
}

// DestroyQP tears down a queue pair, flushing any outstanding work with
// errors first.
func (d *Driver) DestroyQP(qpn qp.QPN) error {
	rt := d.runtimeFor(uint32(qpn))
	attrs, err := d.qps.Lookup(qpn)
	if err == nil {
		rt.mu.Lock()
		msns := pendingMsns(rt.sendMsg)
		rt.mu.Unlock()
		if len(msns) > 0 {
			_ = d.completion.FlushErr(uint32(qpn), attrs.SendCq, msns)
		}
	}
	return d.qps.Destroy(qpn)
}

// WorkRequest is the verbs-facing send work request: one RDMA operation
// over a single contiguous local buffer.
type WorkRequest struct {
	WrID     uint64
	Op       desc.WorkReqOpCode
	LAddr    uint64
	Length   uint64
	RAddr    uint64
	RKey     uint32
	Imm      uint32
	Signaled bool
}

// PostSend fragments wr to 64 KiB/256 B-aligned chunks, assigns it the QP's
// next MSN and PSN run, and dispatches every chunk to the QP's channel. A
// chunk is the unit the device's DMA engine consumes in one descriptor;
// its PSN run spans ceil(chunk_len/pmtu) packets, the unit only used when
// a NAK forces a retransmit to re-fragment at.
func (d *Driver) PostSend(qpn uint32, wr WorkRequest) error {
	attrs, err := d.qps.Lookup(qp.QPN(qpn))
	if err != nil {
		return err
	}
	if attrs.State != qp.StateRts {
		return rdmaerr.New(rdmaerr.KindInvalidInput, "driver.PostSend", nil)
	}

	pmtu := attrs.Pmtu.Bytes()
	frags := fragmenter.All(fragmenter.ChunkMaxSize, fragmenter.ChunkAlign, wr.LAddr, wr.Length)
	if len(frags) == 0 {
		return rdmaerr.New(rdmaerr.KindInvalidInput, "driver.PostSend", nil)
	}

	rt := d.runtimeFor(qpn)
	rt.mu.Lock()
	defer rt.mu.Unlock()

	msn := rt.sendMsn
	rt.sendMsn = rt.sendMsn.Advance()

	if wr.Signaled {
		if c, err := d.cqs.Lookup(attrs.SendCq); err == nil {
			c.RegisterPending(qpn, msn.Value(), wr.WrID)
		}
	}

	psn := rt.sendPsn
	var lastChunk send.WrChunk
	for i, fr := range frags {
		chunk := send.WrChunk{
			Op:       wr.Op,
			Pos:      desc.ChunkPos(fr.Pos),
			AckReq:   wr.Signaled && i == len(frags)-1,
			Qpn:      qpn,
			Msn:      msn.Value(),
			Psn:      psn,
			TotalLen: fr.Len,
			LAddr:    fr.Addr,
			RAddr:    wr.RAddr + (fr.Addr - wr.LAddr),
			RKey:     wr.RKey,
			Imm:      wr.Imm,
		}
		d.enqueueChunk(chunk)
		select {
		case d.pktRetrans.Tasks() <- retransmit.PacketRetransmitTask{Kind: retransmit.TaskNewWr, Qpn: qpn, Elem: sendqueue.Elem{Psn: psn, Pmtu: pmtu, Chunk: chunk}}:
		default:
			log.WithField("qpn", qpn).Warn("packet retransmit worker busy, chunk unshadowed")
		}
		lastChunk = chunk
		psn = (psn + ceilDiv(fr.Len, pmtu)) & rdmautils.PsnMask
	}
	rt.sendPsn = psn

	if lastChunk.AckReq {
		select {
		case d.tmoRetrans.Tasks() <- retransmit.RetransmitTask{Kind: retransmit.TaskNewAckReq, Qpn: qpn, LastPacketChunk: lastChunk}:
		default:
		}
	}

	// Write/Send complete on local ACK; a READ's completion PSN isn't
	// known until its response header arrives, so onHeaderWrite appends
	// it to the send tracker instead.
	if wr.Op != desc.OpRead {
		endPsn := (psn - 1) & rdmautils.PsnMask
		rt.sendMsg.Append(tracker.MessageMeta{Msn: msn, Psn: endPsn, AckReq: wr.Signaled})
	}
	return nil
}

// ceilDiv returns the number of PMTU-sized packets a chunk of n bytes
// consumes.
func ceilDiv(n, pmtu uint32) uint32 {
	return (n + pmtu - 1) / pmtu
}

// PostRecv records a posted receive buffer. The device matches inbound
// SEND messages to receive buffers in hardware; the driver only counts
// how many have been posted. The count is not reported by QueryQP and
// wrID is not kept.
func (d *Driver) PostRecv(qpn uint32, wrID uint64) error {
	attrs, err := d.qps.Lookup(qp.QPN(qpn))
	if err != nil {
		return err
	}
	if attrs.State == qp.StateErr {
		return rdmaerr.New(rdmaerr.KindQpError, "driver.PostRecv", nil)
	}
	rt := d.runtimeFor(qpn)
	rt.mu.Lock()
	rt.recvWrCount++
	rt.mu.Unlock()
	_ = wrID
	return nil
}

// PollCQ drains up to len(out) completions from handle's FIFO.
func (d *Driver) PollCQ(handle uint32, out []cq.Completion) (int, error) {
	c, err := d.cqs.Lookup(handle)
	if err != nil {
		return 0, err
	}
	return c.Poll(out), nil
}
