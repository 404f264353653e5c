// Package simplenic implements the §6 Simple NIC side channel: a
// descriptor-ring-backed frame transmitter/receiver plus the minimal
// FrameTx/FrameRx interfaces an external TUN/TAP collaborator would
// implement, grounded on
// original_source/rust-driver/src/device_protocol/mod.rs's FrameTx/FrameRx
// traits.
package simplenic

import (
	"errors"

	"github.com/blue-rdma/rdma-driver/desc"
	"github.com/blue-rdma/rdma-driver/ringbuf"
)

// FrameTx transmits one raw Ethernet frame.
type FrameTx interface {
	Send(buf []byte) error
}

// FrameRx receives one raw Ethernet frame without blocking.
type FrameRx interface {
	RecvNonblocking() ([]byte, error)
}

// ErrWouldBlock is returned by RecvNonblocking when no frame is pending.
var ErrWouldBlock = errors.New("simplenic: no frame available")

// SlotSize bounds a single frame's DMA slot; larger frames are rejected.
const SlotSize = 2048

// Controller drives the simple-NIC tx/rx descriptor rings over a
// pre-allocated, slot-indexed DMA buffer.
type Controller struct {
	txRing   *ringbuf.Ring
	rxRing   *ringbuf.Ring
	txBuf    []byte
	rxBuf    []byte
	txBase   uint64
	rxBase   uint64
	nextSlot uint32
	numSlots uint32
}

// NewController wires the tx/rx rings to DMA buffers of len(txBuf)/SlotSize
// and len(rxBuf)/SlotSize slots respectively; txBase/rxBase are the
// bus addresses the buffers are mapped at.
func NewController(txRing, rxRing *ringbuf.Ring, txBuf, rxBuf []byte, txBase, rxBase uint64) *Controller {
	return &Controller{
		txRing:   txRing,
		rxRing:   rxRing,
		txBuf:    txBuf,
		rxBuf:    rxBuf,
		txBase:   txBase,
		rxBase:   rxBase,
		numSlots: uint32(len(txBuf) / SlotSize),
	}
}

// Send copies buf into the next free tx slot and publishes a
// SimpleNicTxDesc for it.
func (c *Controller) Send(buf []byte) error {
	if len(buf) > SlotSize {
		return errors.New("simplenic: frame exceeds slot size")
	}
	slot := c.nextSlot
	c.nextSlot = (c.nextSlot + 1) % c.numSlots
	off := slot * SlotSize
	copy(c.txBuf[off:], buf)

	d := desc.SimpleNicTxDesc{Addr: c.txBase + uint64(off), Len: uint32(len(buf))}
	if err := c.txRing.Push(ringbuf.Desc(d.Encode())); err != nil {
		return err
	}
	return c.txRing.FlushHead()
}

// RecvNonblocking pops one rx descriptor, if any, and returns the frame
// bytes it names.
func (c *Controller) RecvNonblocking() ([]byte, error) {
	if err := c.rxRing.RefreshHead(); err != nil {
		return nil, err
	}
	raw, ok := c.rxRing.Pop()
	if !ok {
		return nil, ErrWouldBlock
	}
	d := desc.DecodeSimpleNicRxDesc(desc.Raw(raw))
	off := d.Addr - c.rxBase
	return c.rxBuf[off : off+uint64(d.Len)], nil
}

// Loopback is an in-memory FrameTx/FrameRx pair for tests: everything sent
// becomes immediately receivable.
type Loopback struct {
	frames chan []byte
}

func NewLoopback(capacity int) *Loopback {
	return &Loopback{frames: make(chan []byte, capacity)}
}

func (l *Loopback) Send(buf []byte) error {
	frame := append([]byte(nil), buf...)
	select {
	case l.frames <- frame:
		return nil
	default:
		return errors.New("simplenic: loopback buffer full")
	}
}

func (l *Loopback) RecvNonblocking() ([]byte, error) {
	select {
	case frame := <-l.frames:
		return frame, nil
	default:
		return nil, ErrWouldBlock
	}
}
