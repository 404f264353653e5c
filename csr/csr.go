// Package csr models the device's control-and-status register space: a
// capability set of 32-bit aligned reads/writes, backed either by a mapped
// BAR or by an RPC client in emulator mode.
package csr

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/blue-rdma/rdma-driver/rdmaerr"
)

// ReadWriter is the capability set every CSR-driven component depends on.
// Command controller and ring proxies are generic over any implementation,
// per the "dynamic dispatch over CSR back-ends" design note.
type ReadWriter interface {
	Read32(offset uint32) (uint32, error)
	Write32(offset uint32, value uint32) error
}

// Ring block bases, bit-exact per the CSR register map.
const (
	BlockQPData    uint32 = 0x00
	BlockCommand   uint32 = 0x40
	BlockSimpleNIC uint32 = 0x50
)

// BlockOffsets computes the four word offsets (in bytes) for a ring block
// at base B, channel c, card-to-host or host-to-card.
func BlockOffsets(base uint32, channel uint32, isC2H bool) (baseLo, baseHi, head, tail uint32) {
	var dir uint32
	if isC2H {
		dir = 4
	}
	word := base + dir + channel*16
	return (word + 0) << 2, (word + 1) << 2, (word + 2) << 2, (word + 3) << 2
}

// checkAlign rejects any access not naturally aligned to 4 bytes, matching
// the CSR adaptor's "natural-alignment enforcement" contract.
func checkAlign(offset uint32) error {
	if offset%4 != 0 {
		return rdmaerr.New(rdmaerr.KindInvalidInput, "csr.align", fmt.Errorf("offset %#x not 4-byte aligned", offset))
	}
	return nil
}

// MemReadWriter backs the CSR space with a plain byte slice. The hardware
// backend below mmaps this slice from a BAR fd; tests and the emulator's
// in-process mode can also use it directly.
type MemReadWriter struct {
	mu   sync.Mutex
	mem  []byte
}

func NewMemReadWriter(mem []byte) *MemReadWriter {
	return &MemReadWriter{mem: mem}
}

func (m *MemReadWriter) Read32(offset uint32) (uint32, error) {
	if err := checkAlign(offset); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(offset)+4 > len(m.mem) {
		return 0, rdmaerr.New(rdmaerr.KindDeviceError, "csr.Read32", fmt.Errorf("offset %#x out of range", offset))
	}
	return binary.LittleEndian.Uint32(m.mem[offset:]), nil
}

func (m *MemReadWriter) Write32(offset uint32, value uint32) error {
	if err := checkAlign(offset); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(offset)+4 > len(m.mem) {
		return rdmaerr.New(rdmaerr.KindDeviceError, "csr.Write32", fmt.Errorf("offset %#x out of range", offset))
	}
	binary.LittleEndian.PutUint32(m.mem[offset:], value)
	return nil
}

// EmulatorBackend frames each access as a fixed 13-byte record
// {is_write:1, addr:4, value:4, reserved:4} over any io.ReadWriter,
// standing in for the original's JSON-over-UDP RPC client in an idiom
// closer to this corpus's explicit binary wire codecs.
type EmulatorBackend struct {
	mu   sync.Mutex
	conn io.ReadWriter
}

func NewEmulatorBackend(conn io.ReadWriter) *EmulatorBackend {
	return &EmulatorBackend{conn: conn}
}

const emulatorRecordSize = 13

func (e *EmulatorBackend) roundTrip(isWrite bool, addr, value uint32) (uint32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var buf [emulatorRecordSize]byte
	if isWrite {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint32(buf[1:5], addr)
	binary.LittleEndian.PutUint32(buf[5:9], value)
	if _, err := e.conn.Write(buf[:]); err != nil {
		return 0, rdmaerr.New(rdmaerr.KindDeviceError, "csr.emulator.write", err)
	}

	var resp [emulatorRecordSize]byte
	if _, err := io.ReadFull(e.conn, resp[:]); err != nil {
		return 0, rdmaerr.New(rdmaerr.KindDeviceError, "csr.emulator.read", err)
	}
	return binary.LittleEndian.Uint32(resp[5:9]), nil
}

func (e *EmulatorBackend) Read32(offset uint32) (uint32, error) {
	if err := checkAlign(offset); err != nil {
		return 0, err
	}
	return e.roundTrip(false, offset, 0)
}

func (e *EmulatorBackend) Write32(offset uint32, value uint32) error {
	if err := checkAlign(offset); err != nil {
		return err
	}
	_, err := e.roundTrip(true, offset, value)
	return err
}
