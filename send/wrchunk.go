// Package send implements the §4.6 send scheduler: a global injector feeds
// one worker per channel, each draining its own local queue first and
// falling back to stealing from the injector or its peers, grounded on
// original_source/rust-driver/src/protocol_impl_hardware/send.rs's
// crossbeam_deque Injector/Worker/Stealer shape. The pack carries no
// lock-free work-stealing deque, so both the local deque and the global
// injector are mutex-protected FIFOs here (see DESIGN.md).
package send

import "github.com/blue-rdma/rdma-driver/desc"

// WrChunk is one fragmenter-produced unit ready for wire encoding: the
// fields needed to build a SendQueueReqDescSeg0/Seg1 pair.
type WrChunk struct {
	Op       desc.WorkReqOpCode
	Pos      desc.ChunkPos
	IsRetry  bool
	AckReq   bool
	Qpn      uint32
	Msn      uint16
	Psn      uint32
	TotalLen uint32
	LAddr    uint64
	RAddr    uint64
	RKey     uint32
	Imm      uint32
}

func (wr WrChunk) toDescs() (desc.SendQueueReqDescSeg0, desc.SendQueueReqDescSeg1) {
	seg0 := desc.SendQueueReqDescSeg0{
		OpCode:   wr.Op,
		Pos:      wr.Pos,
		IsRetry:  wr.IsRetry,
		AckReq:   wr.AckReq,
		Qpn:      wr.Qpn,
		Msn:      wr.Msn,
		Psn:      wr.Psn,
		TotalLen: wr.TotalLen,
	}
	seg1 := desc.SendQueueReqDescSeg1{
		LAddr: wr.LAddr,
		RAddr: wr.RAddr,
		RKey:  wr.RKey,
		Imm:   wr.Imm,
	}
	return seg0, seg1
}
