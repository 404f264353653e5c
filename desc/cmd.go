package desc

import "github.com/blue-rdma/rdma-driver/desc/bitfield"

// CmdQueueReqDescUpdateMrTable carries an MTT update: bind an R-key's
// metadata (PD, access, PGT range) for a registered memory region.
type CmdQueueReqDescUpdateMrTable struct {
	ID        uint16
	RKey      uint32
	PD        uint16
	Access    uint8
	BaseVA    uint64
	Length    uint32
	PGTOffset uint32
}

var (
	umtID        = bitfield.Field{Offset: 8, Width: 16}
	umtRKey      = bitfield.Field{Offset: 24, Width: 32}
	umtPD        = bitfield.Field{Offset: 56, Width: 16}
	umtAccess    = bitfield.Field{Offset: 72, Width: 8}
	umtBaseVA    = bitfield.Field{Offset: 80, Width: 64}
	umtLength    = bitfield.Field{Offset: 144, Width: 32}
	umtPGTOffset = bitfield.Field{Offset: 176, Width: 32}
)

func (d CmdQueueReqDescUpdateMrTable) Encode() Raw {
	var r Raw
	Header{Valid: true, Opcode: OpCmdReqUpdateMrTable}.Encode(&r)
	bitfield.Set(r[:], umtID, uint64(d.ID))
	bitfield.Set(r[:], umtRKey, uint64(d.RKey))
	bitfield.Set(r[:], umtPD, uint64(d.PD))
	bitfield.Set(r[:], umtAccess, uint64(d.Access))
	bitfield.Set(r[:], umtBaseVA, d.BaseVA)
	bitfield.Set(r[:], umtLength, uint64(d.Length))
	bitfield.Set(r[:], umtPGTOffset, uint64(d.PGTOffset))
	return r
}

func DecodeCmdQueueReqDescUpdateMrTable(r Raw) CmdQueueReqDescUpdateMrTable {
	return CmdQueueReqDescUpdateMrTable{
		ID:        uint16(bitfield.Get(r[:], umtID)),
		RKey:      uint32(bitfield.Get(r[:], umtRKey)),
		PD:        uint16(bitfield.Get(r[:], umtPD)),
		Access:    uint8(bitfield.Get(r[:], umtAccess)),
		BaseVA:    bitfield.Get(r[:], umtBaseVA),
		Length:    uint32(bitfield.Get(r[:], umtLength)),
		PGTOffset: uint32(bitfield.Get(r[:], umtPGTOffset)),
	}
}

// CmdQueueReqDescUpdatePGT writes one contiguous run of physical page
// addresses into the device's page translation table.
type CmdQueueReqDescUpdatePGT struct {
	ID        uint16
	PGTOffset uint32
	DmaAddr   uint64
	Length    uint32
}

var (
	upgtID        = bitfield.Field{Offset: 8, Width: 16}
	upgtPGTOffset = bitfield.Field{Offset: 24, Width: 32}
	upgtDmaAddr   = bitfield.Field{Offset: 56, Width: 64}
	upgtLength    = bitfield.Field{Offset: 120, Width: 32}
)

func NewCmdQueueReqDescUpdatePGT(id uint16, pgtOffset uint32, dmaAddr uint64, length uint32) CmdQueueReqDescUpdatePGT {
	return CmdQueueReqDescUpdatePGT{ID: id, PGTOffset: pgtOffset, DmaAddr: dmaAddr, Length: length}
}

func (d CmdQueueReqDescUpdatePGT) Encode() Raw {
	var r Raw
	Header{Valid: true, Opcode: OpCmdReqUpdatePGT}.Encode(&r)
	bitfield.Set(r[:], upgtID, uint64(d.ID))
	bitfield.Set(r[:], upgtPGTOffset, uint64(d.PGTOffset))
	bitfield.Set(r[:], upgtDmaAddr, d.DmaAddr)
	bitfield.Set(r[:], upgtLength, uint64(d.Length))
	return r
}

func DecodeCmdQueueReqDescUpdatePGT(r Raw) CmdQueueReqDescUpdatePGT {
	return CmdQueueReqDescUpdatePGT{
		ID:        uint16(bitfield.Get(r[:], upgtID)),
		PGTOffset: uint32(bitfield.Get(r[:], upgtPGTOffset)),
		DmaAddr:   bitfield.Get(r[:], upgtDmaAddr),
		Length:    uint32(bitfield.Get(r[:], upgtLength)),
	}
}

// CmdQueueReqDescQpManagement programs a QP's attributes on the device.
type CmdQueueReqDescQpManagement struct {
	ID       uint16
	Qpn      uint32
	State    uint8
	Pmtu     uint8
	Access   uint8
	PeerQpn  uint32
	PeerIP   uint32
	SendCq   uint32
	RecvCq   uint32
}

var (
	qpmID      = bitfield.Field{Offset: 8, Width: 16}
	qpmQpn     = bitfield.Field{Offset: 24, Width: 32}
	qpmState   = bitfield.Field{Offset: 56, Width: 8}
	qpmPmtu    = bitfield.Field{Offset: 64, Width: 8}
	qpmAccess  = bitfield.Field{Offset: 72, Width: 8}
	qpmPeerQpn = bitfield.Field{Offset: 80, Width: 32}
	qpmPeerIP  = bitfield.Field{Offset: 112, Width: 32}
	qpmSendCq  = bitfield.Field{Offset: 144, Width: 32}
	qpmRecvCq  = bitfield.Field{Offset: 176, Width: 32}
)

func (d CmdQueueReqDescQpManagement) Encode() Raw {
	var r Raw
	Header{Valid: true, Opcode: OpCmdReqQpManagement}.Encode(&r)
	bitfield.Set(r[:], qpmID, uint64(d.ID))
	bitfield.Set(r[:], qpmQpn, uint64(d.Qpn))
	bitfield.Set(r[:], qpmState, uint64(d.State))
	bitfield.Set(r[:], qpmPmtu, uint64(d.Pmtu))
	bitfield.Set(r[:], qpmAccess, uint64(d.Access))
	bitfield.Set(r[:], qpmPeerQpn, uint64(d.PeerQpn))
	bitfield.Set(r[:], qpmPeerIP, uint64(d.PeerIP))
	bitfield.Set(r[:], qpmSendCq, uint64(d.SendCq))
	bitfield.Set(r[:], qpmRecvCq, uint64(d.RecvCq))
	return r
}

func DecodeCmdQueueReqDescQpManagement(r Raw) CmdQueueReqDescQpManagement {
	return CmdQueueReqDescQpManagement{
		ID:      uint16(bitfield.Get(r[:], qpmID)),
		Qpn:     uint32(bitfield.Get(r[:], qpmQpn)),
		State:   uint8(bitfield.Get(r[:], qpmState)),
		Pmtu:    uint8(bitfield.Get(r[:], qpmPmtu)),
		Access:  uint8(bitfield.Get(r[:], qpmAccess)),
		PeerQpn: uint32(bitfield.Get(r[:], qpmPeerQpn)),
		PeerIP:  uint32(bitfield.Get(r[:], qpmPeerIP)),
		SendCq:  uint32(bitfield.Get(r[:], qpmSendCq)),
		RecvCq:  uint32(bitfield.Get(r[:], qpmRecvCq)),
	}
}

// CmdQueueReqDescSetNetworkParam programs the device's link identity.
type CmdQueueReqDescSetNetworkParam struct {
	ID      uint16
	IPAddr  uint32
	NetMask uint32
	Gateway uint32
}

var (
	snpID      = bitfield.Field{Offset: 8, Width: 16}
	snpIPAddr  = bitfield.Field{Offset: 24, Width: 32}
	snpNetMask = bitfield.Field{Offset: 56, Width: 32}
	snpGateway = bitfield.Field{Offset: 88, Width: 32}
)

func (d CmdQueueReqDescSetNetworkParam) Encode() Raw {
	var r Raw
	Header{Valid: true, Opcode: OpCmdReqSetNetworkParam}.Encode(&r)
	bitfield.Set(r[:], snpID, uint64(d.ID))
	bitfield.Set(r[:], snpIPAddr, uint64(d.IPAddr))
	bitfield.Set(r[:], snpNetMask, uint64(d.NetMask))
	bitfield.Set(r[:], snpGateway, uint64(d.Gateway))
	return r
}

func DecodeCmdQueueReqDescSetNetworkParam(r Raw) CmdQueueReqDescSetNetworkParam {
	return CmdQueueReqDescSetNetworkParam{
		ID:      uint16(bitfield.Get(r[:], snpID)),
		IPAddr:  uint32(bitfield.Get(r[:], snpIPAddr)),
		NetMask: uint32(bitfield.Get(r[:], snpNetMask)),
		Gateway: uint32(bitfield.Get(r[:], snpGateway)),
	}
}

// CmdQueueReqDescSetRawPacketRecvBuffer points the simple-NIC rx ring at a
// DMA-visible receive buffer.
type CmdQueueReqDescSetRawPacketRecvBuffer struct {
	ID      uint16
	BaseVA  uint64
	Length  uint32
}

var (
	srbID     = bitfield.Field{Offset: 8, Width: 16}
	srbBaseVA = bitfield.Field{Offset: 24, Width: 64}
	srbLength = bitfield.Field{Offset: 88, Width: 32}
)

func (d CmdQueueReqDescSetRawPacketRecvBuffer) Encode() Raw {
	var r Raw
	Header{Valid: true, Opcode: OpCmdReqSetRawPacketRecvBuf}.Encode(&r)
	bitfield.Set(r[:], srbID, uint64(d.ID))
	bitfield.Set(r[:], srbBaseVA, d.BaseVA)
	bitfield.Set(r[:], srbLength, uint64(d.Length))
	return r
}

func DecodeCmdQueueReqDescSetRawPacketRecvBuffer(r Raw) CmdQueueReqDescSetRawPacketRecvBuffer {
	return CmdQueueReqDescSetRawPacketRecvBuffer{
		ID:     uint16(bitfield.Get(r[:], srbID)),
		BaseVA: bitfield.Get(r[:], srbBaseVA),
		Length: uint32(bitfield.Get(r[:], srbLength)),
	}
}

// CmdQueueRespDesc is the card's response to any submitted command: the
// same 16-bit id plus a success flag, matched back to the notifier that
// submitted it.
type CmdQueueRespDesc struct {
	ID      uint16
	Success bool
}

var (
	respID      = bitfield.Field{Offset: 8, Width: 16}
	respSuccess = bitfield.Field{Offset: 24, Width: 1}
)

func (d CmdQueueRespDesc) Encode() Raw {
	var r Raw
	Header{Valid: true, Opcode: OpCmdResp}.Encode(&r)
	bitfield.Set(r[:], respID, uint64(d.ID))
	bitfield.SetBool(r[:], respSuccess.Offset, d.Success)
	return r
}

func DecodeCmdQueueRespDesc(r Raw) CmdQueueRespDesc {
	return CmdQueueRespDesc{
		ID:      uint16(bitfield.Get(r[:], respID)),
		Success: bitfield.GetBool(r[:], respSuccess.Offset),
	}
}
