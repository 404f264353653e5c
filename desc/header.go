// Package desc implements bit-exact 32-byte pack/unpack for every hardware
// descriptor subtype: command request/response, send WR segments, meta-report
// variants, and simple-NIC tx/rx. Every struct here is a thin accessor view
// over a desc.Raw backing array; fields are read/written through the
// offset/width schema in desc/bitfield, never via a Go struct literal laid
// directly over memory, so the wire format stays auditable per field.
package desc

import "github.com/blue-rdma/rdma-driver/desc/bitfield"

// Size is the fixed width of every hardware descriptor.
const Size = 32

// Raw is one descriptor slot, the same width as ringbuf.Desc.
type Raw [Size]byte

// Opcode identifies a descriptor's subtype within its ring. The numeric
// values are a closed, auditable schema private to this driver (the
// hardware appendix tables are treated as an external contract).
type Opcode uint8

const (
	OpCmdReqUpdateMrTable Opcode = iota
	OpCmdReqUpdatePGT
	OpCmdReqQpManagement
	OpCmdReqSetNetworkParam
	OpCmdReqSetRawPacketRecvBuf
	OpCmdResp

	OpSendReqSeg0
	OpSendReqSeg1

	OpMetaHeaderWrite
	OpMetaHeaderRead
	OpMetaCnp
	OpMetaAckLocalHw
	OpMetaAckRemoteDriver
	OpMetaNakLocalHw
	OpMetaNakRemoteHw
	OpMetaNakRemoteDriver

	OpSimpleNicTx
	OpSimpleNicRx
)

// Header fields, bit-exact per §6: byte 0 of chunk 0 is
// {valid(1), has-next(1), is-send-by-local-hw(1), is-send-by-driver(1), opcode(4)}.
var (
	fieldValid           = bitfield.Field{Offset: 0, Width: 1}
	fieldHasNext         = bitfield.Field{Offset: 1, Width: 1}
	fieldIsSendByLocalHw = bitfield.Field{Offset: 2, Width: 1}
	fieldIsSendByDriver  = bitfield.Field{Offset: 3, Width: 1}
	fieldOpcode          = bitfield.Field{Offset: 4, Width: 4}
)

// Header is the common 1-byte descriptor header shared by every subtype.
type Header struct {
	Valid            bool
	HasNext          bool
	IsSendByLocalHw  bool
	IsSendByDriver   bool
	Opcode           Opcode
}

func DecodeHeader(r *Raw) Header {
	return Header{
		Valid:           bitfield.GetBool(r[:], fieldValid.Offset),
		HasNext:         bitfield.GetBool(r[:], fieldHasNext.Offset),
		IsSendByLocalHw: bitfield.GetBool(r[:], fieldIsSendByLocalHw.Offset),
		IsSendByDriver:  bitfield.GetBool(r[:], fieldIsSendByDriver.Offset),
		Opcode:          Opcode(bitfield.Get(r[:], fieldOpcode)),
	}
}

func (h Header) Encode(r *Raw) {
	bitfield.SetBool(r[:], fieldValid.Offset, h.Valid)
	bitfield.SetBool(r[:], fieldHasNext.Offset, h.HasNext)
	bitfield.SetBool(r[:], fieldIsSendByLocalHw.Offset, h.IsSendByLocalHw)
	bitfield.SetBool(r[:], fieldIsSendByDriver.Offset, h.IsSendByDriver)
	bitfield.Set(r[:], fieldOpcode, uint64(h.Opcode))
}

// ClearValid clears the valid bit in place after the host consumes a
// card-produced descriptor, per §4.1 ("the host clears after reading so the
// bit also functions as a generation toggle").
func ClearValid(r *Raw) {
	bitfield.SetBool(r[:], fieldValid.Offset, false)
}
