package desc

import "github.com/blue-rdma/rdma-driver/desc/bitfield"

// WorkReqOpCode identifies the RDMA operation a WrChunk carries.
type WorkReqOpCode uint8

const (
	OpWrite WorkReqOpCode = iota
	OpWriteWithImm
	OpSend
	OpSendWithImm
	OpRead
	OpRdmaReadResp
)

// ChunkPos marks a chunk's position within its fragmented message; the
// card only marks message boundaries on Last/Only, so this field is load
// bearing for completion generation.
type ChunkPos uint8

const (
	PosFirst ChunkPos = iota
	PosMiddle
	PosLast
	PosOnly
)

// SendQueueReqDescSeg0 carries the chunk's addressing and sequencing
// fields; a send WR is always exactly two descriptors, Seg0 then Seg1.
type SendQueueReqDescSeg0 struct {
	OpCode   WorkReqOpCode
	Pos      ChunkPos
	IsRetry  bool
	AckReq   bool
	Qpn      uint32
	Msn      uint16
	Psn      uint32
	TotalLen uint32
}

var (
	s0OpCode   = bitfield.Field{Offset: 8, Width: 4}
	s0Pos      = bitfield.Field{Offset: 12, Width: 2}
	s0IsRetry  = bitfield.Field{Offset: 14, Width: 1}
	s0AckReq   = bitfield.Field{Offset: 15, Width: 1}
	s0Qpn      = bitfield.Field{Offset: 16, Width: 32}
	s0Msn      = bitfield.Field{Offset: 48, Width: 16}
	s0Psn      = bitfield.Field{Offset: 64, Width: 24}
	s0TotalLen = bitfield.Field{Offset: 88, Width: 32}
)

func (d SendQueueReqDescSeg0) Encode() Raw {
	var r Raw
	Header{Valid: true, Opcode: OpSendReqSeg0, HasNext: true}.Encode(&r)
	bitfield.Set(r[:], s0OpCode, uint64(d.OpCode))
	bitfield.Set(r[:], s0Pos, uint64(d.Pos))
	bitfield.SetBool(r[:], s0IsRetry.Offset, d.IsRetry)
	bitfield.SetBool(r[:], s0AckReq.Offset, d.AckReq)
	bitfield.Set(r[:], s0Qpn, uint64(d.Qpn))
	bitfield.Set(r[:], s0Msn, uint64(d.Msn))
	bitfield.Set(r[:], s0Psn, uint64(d.Psn))
	bitfield.Set(r[:], s0TotalLen, uint64(d.TotalLen))
	return r
}

func DecodeSendQueueReqDescSeg0(r Raw) SendQueueReqDescSeg0 {
	return SendQueueReqDescSeg0{
		OpCode:   WorkReqOpCode(bitfield.Get(r[:], s0OpCode)),
		Pos:      ChunkPos(bitfield.Get(r[:], s0Pos)),
		IsRetry:  bitfield.GetBool(r[:], s0IsRetry.Offset),
		AckReq:   bitfield.GetBool(r[:], s0AckReq.Offset),
		Qpn:      uint32(bitfield.Get(r[:], s0Qpn)),
		Msn:      uint16(bitfield.Get(r[:], s0Msn)),
		Psn:      uint32(bitfield.Get(r[:], s0Psn)),
		TotalLen: uint32(bitfield.Get(r[:], s0TotalLen)),
	}
}

// SendQueueReqDescSeg1 carries the chunk's local/remote addressing.
type SendQueueReqDescSeg1 struct {
	LAddr uint64
	RAddr uint64
	RKey  uint32
	Imm   uint32
}

var (
	s1LAddr = bitfield.Field{Offset: 8, Width: 64}
	s1RAddr = bitfield.Field{Offset: 72, Width: 64}
	s1RKey  = bitfield.Field{Offset: 136, Width: 32}
	s1Imm   = bitfield.Field{Offset: 168, Width: 32}
)

func (d SendQueueReqDescSeg1) Encode() Raw {
	var r Raw
	Header{Valid: true, Opcode: OpSendReqSeg1}.Encode(&r)
	bitfield.Set(r[:], s1LAddr, d.LAddr)
	bitfield.Set(r[:], s1RAddr, d.RAddr)
	bitfield.Set(r[:], s1RKey, uint64(d.RKey))
	bitfield.Set(r[:], s1Imm, uint64(d.Imm))
	return r
}

func DecodeSendQueueReqDescSeg1(r Raw) SendQueueReqDescSeg1 {
	return SendQueueReqDescSeg1{
		LAddr: bitfield.Get(r[:], s1LAddr),
		RAddr: bitfield.Get(r[:], s1RAddr),
		RKey:  uint32(bitfield.Get(r[:], s1RKey)),
		Imm:   uint32(bitfield.Get(r[:], s1Imm)),
	}
}
