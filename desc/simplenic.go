package desc

import "github.com/blue-rdma/rdma-driver/desc/bitfield"

// SimpleNicTxDesc queues one raw Ethernet frame for transmission through
// the simple-NIC side channel.
type SimpleNicTxDesc struct {
	Addr uint64
	Len  uint32
}

var (
	snTxAddr = bitfield.Field{Offset: 8, Width: 64}
	snTxLen  = bitfield.Field{Offset: 72, Width: 32}
)

func (d SimpleNicTxDesc) Encode() Raw {
	var r Raw
	Header{Valid: true, Opcode: OpSimpleNicTx}.Encode(&r)
	bitfield.Set(r[:], snTxAddr, d.Addr)
	bitfield.Set(r[:], snTxLen, uint64(d.Len))
	return r
}

func DecodeSimpleNicTxDesc(r Raw) SimpleNicTxDesc {
	return SimpleNicTxDesc{
		Addr: bitfield.Get(r[:], snTxAddr),
		Len:  uint32(bitfield.Get(r[:], snTxLen)),
	}
}

// SimpleNicRxDesc reports a received raw Ethernet frame.
type SimpleNicRxDesc struct {
	Addr uint64
	Len  uint32
}

var (
	snRxAddr = bitfield.Field{Offset: 8, Width: 64}
	snRxLen  = bitfield.Field{Offset: 72, Width: 32}
)

func (d SimpleNicRxDesc) Encode() Raw {
	var r Raw
	Header{Valid: true, Opcode: OpSimpleNicRx}.Encode(&r)
	bitfield.Set(r[:], snRxAddr, d.Addr)
	bitfield.Set(r[:], snRxLen, uint64(d.Len))
	return r
}

func DecodeSimpleNicRxDesc(r Raw) SimpleNicRxDesc {
	return SimpleNicRxDesc{
		Addr: bitfield.Get(r[:], snRxAddr),
		Len:  uint32(bitfield.Get(r[:], snRxLen)),
	}
}
