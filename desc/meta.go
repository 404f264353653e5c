package desc

import "github.com/blue-rdma/rdma-driver/desc/bitfield"

// HeaderType distinguishes the RDMA operation a HeaderWrite report
// completes.
type HeaderType uint8

const (
	HeaderWrite HeaderType = iota
	HeaderWriteImm
	HeaderSend
	HeaderSendImm
	HeaderReadResp
)

// MetaHeaderWrite reports completion of a Write/Send-family packet.
type MetaHeaderWrite struct {
	Pos        ChunkPos
	Msn        uint16
	Psn        uint32
	Solicited  bool
	AckReq     bool
	IsRetry    bool
	Dqpn       uint32
	TotalLen   uint32
	RAddr      uint64
	RKey       uint32
	Imm        uint32
	HeaderType HeaderType
}

var (
	hwPos        = bitfield.Field{Offset: 8, Width: 2}
	hwMsn        = bitfield.Field{Offset: 10, Width: 16}
	hwPsn        = bitfield.Field{Offset: 26, Width: 24}
	hwSolicited  = bitfield.Field{Offset: 50, Width: 1}
	hwAckReq     = bitfield.Field{Offset: 51, Width: 1}
	hwIsRetry    = bitfield.Field{Offset: 52, Width: 1}
	hwDqpn       = bitfield.Field{Offset: 53, Width: 32}
	hwTotalLen   = bitfield.Field{Offset: 85, Width: 32}
	hwRAddr      = bitfield.Field{Offset: 117, Width: 64}
	hwRKey       = bitfield.Field{Offset: 181, Width: 32}
	hwImm        = bitfield.Field{Offset: 213, Width: 32}
	hwHeaderType = bitfield.Field{Offset: 245, Width: 3}
)

func (d MetaHeaderWrite) Encode() Raw {
	var r Raw
	Header{Valid: true, Opcode: OpMetaHeaderWrite}.Encode(&r)
	bitfield.Set(r[:], hwPos, uint64(d.Pos))
	bitfield.Set(r[:], hwMsn, uint64(d.Msn))
	bitfield.Set(r[:], hwPsn, uint64(d.Psn))
	bitfield.SetBool(r[:], hwSolicited.Offset, d.Solicited)
	bitfield.SetBool(r[:], hwAckReq.Offset, d.AckReq)
	bitfield.SetBool(r[:], hwIsRetry.Offset, d.IsRetry)
	bitfield.Set(r[:], hwDqpn, uint64(d.Dqpn))
	bitfield.Set(r[:], hwTotalLen, uint64(d.TotalLen))
	bitfield.Set(r[:], hwRAddr, d.RAddr)
	bitfield.Set(r[:], hwRKey, uint64(d.RKey))
	bitfield.Set(r[:], hwImm, uint64(d.Imm))
	bitfield.Set(r[:], hwHeaderType, uint64(d.HeaderType))
	return r
}

func DecodeMetaHeaderWrite(r Raw) MetaHeaderWrite {
	return MetaHeaderWrite{
		Pos:        ChunkPos(bitfield.Get(r[:], hwPos)),
		Msn:        uint16(bitfield.Get(r[:], hwMsn)),
		Psn:        uint32(bitfield.Get(r[:], hwPsn)),
		Solicited:  bitfield.GetBool(r[:], hwSolicited.Offset),
		AckReq:     bitfield.GetBool(r[:], hwAckReq.Offset),
		IsRetry:    bitfield.GetBool(r[:], hwIsRetry.Offset),
		Dqpn:       uint32(bitfield.Get(r[:], hwDqpn)),
		TotalLen:   uint32(bitfield.Get(r[:], hwTotalLen)),
		RAddr:      bitfield.Get(r[:], hwRAddr),
		RKey:       uint32(bitfield.Get(r[:], hwRKey)),
		Imm:        uint32(bitfield.Get(r[:], hwImm)),
		HeaderType: HeaderType(bitfield.Get(r[:], hwHeaderType)),
	}
}

// MetaHeaderRead reports an inbound RDMA READ request; it spans two
// descriptors (has-next set on the first).
type MetaHeaderRead struct {
	Dqpn     uint32
	RAddr    uint64
	RKey     uint32
	TotalLen uint32
	LAddr    uint64
	LKey     uint32
	AckReq   bool
	Msn      uint16
	Psn      uint32
}

var (
	hrDqpn     = bitfield.Field{Offset: 8, Width: 32}
	hrRAddr    = bitfield.Field{Offset: 40, Width: 64}
	hrRKey     = bitfield.Field{Offset: 104, Width: 32}
	hrTotalLen = bitfield.Field{Offset: 136, Width: 32}
	// second segment
	hrLAddr  = bitfield.Field{Offset: 8, Width: 64}
	hrLKey   = bitfield.Field{Offset: 72, Width: 32}
	hrAckReq = bitfield.Field{Offset: 104, Width: 1}
	hrMsn    = bitfield.Field{Offset: 105, Width: 16}
	hrPsn    = bitfield.Field{Offset: 121, Width: 24}
)

func (d MetaHeaderRead) Encode() (Raw, Raw) {
	var seg0, seg1 Raw
	Header{Valid: true, Opcode: OpMetaHeaderRead, HasNext: true}.Encode(&seg0)
	bitfield.Set(seg0[:], hrDqpn, uint64(d.Dqpn))
	bitfield.Set(seg0[:], hrRAddr, d.RAddr)
	bitfield.Set(seg0[:], hrRKey, uint64(d.RKey))
	bitfield.Set(seg0[:], hrTotalLen, uint64(d.TotalLen))

	Header{Valid: true, Opcode: OpMetaHeaderRead}.Encode(&seg1)
	bitfield.Set(seg1[:], hrLAddr, d.LAddr)
	bitfield.Set(seg1[:], hrLKey, uint64(d.LKey))
	bitfield.SetBool(seg1[:], hrAckReq.Offset, d.AckReq)
	bitfield.Set(seg1[:], hrMsn, uint64(d.Msn))
	bitfield.Set(seg1[:], hrPsn, uint64(d.Psn))
	return seg0, seg1
}

func DecodeMetaHeaderRead(seg0, seg1 Raw) MetaHeaderRead {
	return MetaHeaderRead{
		Dqpn:     uint32(bitfield.Get(seg0[:], hrDqpn)),
		RAddr:    bitfield.Get(seg0[:], hrRAddr),
		RKey:     uint32(bitfield.Get(seg0[:], hrRKey)),
		TotalLen: uint32(bitfield.Get(seg0[:], hrTotalLen)),
		LAddr:    bitfield.Get(seg1[:], hrLAddr),
		LKey:     uint32(bitfield.Get(seg1[:], hrLKey)),
		AckReq:   bitfield.GetBool(seg1[:], hrAckReq.Offset),
		Msn:      uint16(bitfield.Get(seg1[:], hrMsn)),
		Psn:      uint32(bitfield.Get(seg1[:], hrPsn)),
	}
}

// MetaCnp reports an ECN-marked congestion notification packet.
type MetaCnp struct {
	Qpn uint32
}

var cnpQpn = bitfield.Field{Offset: 8, Width: 32}

func (d MetaCnp) Encode() Raw {
	var r Raw
	Header{Valid: true, Opcode: OpMetaCnp}.Encode(&r)
	bitfield.Set(r[:], cnpQpn, uint64(d.Qpn))
	return r
}

func DecodeMetaCnp(r Raw) MetaCnp {
	return MetaCnp{Qpn: uint32(bitfield.Get(r[:], cnpQpn))}
}

// MetaAckLocalHw reports a receiver-side cumulative ACK generated by the
// card's own hardware. PsnNow is reported as seen on the wire; the -112
// remap (Open Question a) is applied by the metareport decoder, not here.
type MetaAckLocalHw struct {
	Qpn       uint32
	PsnNow    uint32
	NowBitmap [2]uint64 // 128-bit ack bitmap, low word first
}

var (
	alhQpn       = bitfield.Field{Offset: 8, Width: 32}
	alhPsnNow    = bitfield.Field{Offset: 40, Width: 24}
	alhBitmapLo  = bitfield.Field{Offset: 64, Width: 64}
	alhBitmapHi  = bitfield.Field{Offset: 128, Width: 64}
)

func (d MetaAckLocalHw) Encode() Raw {
	var r Raw
	Header{Valid: true, Opcode: OpMetaAckLocalHw}.Encode(&r)
	bitfield.Set(r[:], alhQpn, uint64(d.Qpn))
	bitfield.Set(r[:], alhPsnNow, uint64(d.PsnNow))
	bitfield.Set(r[:], alhBitmapLo, d.NowBitmap[0])
	bitfield.Set(r[:], alhBitmapHi, d.NowBitmap[1])
	return r
}

func DecodeMetaAckLocalHw(r Raw) MetaAckLocalHw {
	return MetaAckLocalHw{
		Qpn:       uint32(bitfield.Get(r[:], alhQpn)),
		PsnNow:    uint32(bitfield.Get(r[:], alhPsnNow)),
		NowBitmap: [2]uint64{bitfield.Get(r[:], alhBitmapLo), bitfield.Get(r[:], alhBitmapHi)},
	}
}

// MetaAckRemoteDriver reports a software-generated point-in-time ACK.
type MetaAckRemoteDriver struct {
	Qpn    uint32
	PsnNow uint32
}

var (
	ardQpn    = bitfield.Field{Offset: 8, Width: 32}
	ardPsnNow = bitfield.Field{Offset: 40, Width: 24}
)

func (d MetaAckRemoteDriver) Encode() Raw {
	var r Raw
	Header{Valid: true, Opcode: OpMetaAckRemoteDriver}.Encode(&r)
	bitfield.Set(r[:], ardQpn, uint64(d.Qpn))
	bitfield.Set(r[:], ardPsnNow, uint64(d.PsnNow))
	return r
}

func DecodeMetaAckRemoteDriver(r Raw) MetaAckRemoteDriver {
	return MetaAckRemoteDriver{
		Qpn:    uint32(bitfield.Get(r[:], ardQpn)),
		PsnNow: uint32(bitfield.Get(r[:], ardPsnNow)),
	}
}

// MetaNakHw is the shared shape of NakLocalHw/NakRemoteHw: two
// descriptors, the "now" span in the first and the "pre" span plus msn in
// the second.
type MetaNakHw struct {
	Qpn       uint32
	PsnNow    uint32
	NowBitmap [2]uint64
	PsnPre    uint32
	PreBitmap [2]uint64
	Msn       uint16
}

var (
	nhQpn      = bitfield.Field{Offset: 8, Width: 32}
	nhPsnNow   = bitfield.Field{Offset: 40, Width: 24}
	nhNowLo    = bitfield.Field{Offset: 64, Width: 64}
	nhNowHi    = bitfield.Field{Offset: 128, Width: 64}
	// second segment
	nhPsnPre = bitfield.Field{Offset: 8, Width: 24}
	nhPreLo  = bitfield.Field{Offset: 32, Width: 64}
	nhPreHi  = bitfield.Field{Offset: 96, Width: 64}
	nhMsn    = bitfield.Field{Offset: 160, Width: 16}
)

// EncodeLocal and EncodeRemote differ only in the opcode tag so
// the meta-report decoder can tell which hardware path produced the NAK.
func (d MetaNakHw) encode(op Opcode) (Raw, Raw) {
	var seg0, seg1 Raw
	Header{Valid: true, Opcode: op, HasNext: true}.Encode(&seg0)
	bitfield.Set(seg0[:], nhQpn, uint64(d.Qpn))
	bitfield.Set(seg0[:], nhPsnNow, uint64(d.PsnNow))
	bitfield.Set(seg0[:], nhNowLo, d.NowBitmap[0])
	bitfield.Set(seg0[:], nhNowHi, d.NowBitmap[1])

	Header{Valid: true, Opcode: op}.Encode(&seg1)
	bitfield.Set(seg1[:], nhPsnPre, uint64(d.PsnPre))
	bitfield.Set(seg1[:], nhPreLo, d.PreBitmap[0])
	bitfield.Set(seg1[:], nhPreHi, d.PreBitmap[1])
	bitfield.Set(seg1[:], nhMsn, uint64(d.Msn))
	return seg0, seg1
}

func (d MetaNakHw) EncodeLocal() (Raw, Raw)  { return d.encode(OpMetaNakLocalHw) }
func (d MetaNakHw) EncodeRemote() (Raw, Raw) { return d.encode(OpMetaNakRemoteHw) }

func DecodeMetaNakHw(seg0, seg1 Raw) MetaNakHw {
	return MetaNakHw{
		Qpn:       uint32(bitfield.Get(seg0[:], nhQpn)),
		PsnNow:    uint32(bitfield.Get(seg0[:], nhPsnNow)),
		NowBitmap: [2]uint64{bitfield.Get(seg0[:], nhNowLo), bitfield.Get(seg0[:], nhNowHi)},
		PsnPre:    uint32(bitfield.Get(seg1[:], nhPsnPre)),
		PreBitmap: [2]uint64{bitfield.Get(seg1[:], nhPreLo), bitfield.Get(seg1[:], nhPreHi)},
		Msn:       uint16(bitfield.Get(seg1[:], nhMsn)),
	}
}

// MetaNakRemoteDriver reports a software-generated selective NAK.
type MetaNakRemoteDriver struct {
	Qpn    uint32
	PsnNow uint32
	PsnPre uint32
}

var (
	nrdQpn    = bitfield.Field{Offset: 8, Width: 32}
	nrdPsnNow = bitfield.Field{Offset: 40, Width: 24}
	nrdPsnPre = bitfield.Field{Offset: 64, Width: 24}
)

func (d MetaNakRemoteDriver) Encode() Raw {
	var r Raw
	Header{Valid: true, Opcode: OpMetaNakRemoteDriver}.Encode(&r)
	bitfield.Set(r[:], nrdQpn, uint64(d.Qpn))
	bitfield.Set(r[:], nrdPsnNow, uint64(d.PsnNow))
	bitfield.Set(r[:], nrdPsnPre, uint64(d.PsnPre))
	return r
}

func DecodeMetaNakRemoteDriver(r Raw) MetaNakRemoteDriver {
	return MetaNakRemoteDriver{
		Qpn:    uint32(bitfield.Get(r[:], nrdQpn)),
		PsnNow: uint32(bitfield.Get(r[:], nrdPsnNow)),
		PsnPre: uint32(bitfield.Get(r[:], nrdPsnPre)),
	}
}
