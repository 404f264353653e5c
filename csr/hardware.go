//go:build linux

package csr

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/blue-rdma/rdma-driver/rdmaerr"
)

// HardwareBackend mmaps a BAR resource file and exposes it as a
// ReadWriter, grounded on the teacher's internal/iouring mmap discipline
// (unix.Mmap over a raw fd, unix.Munmap on close).
type HardwareBackend struct {
	*MemReadWriter
	file *os.File
	mem  []byte
}

// OpenHardwareBackend mmaps length bytes of the BAR resource at path
// (typically /sys/bus/pci/devices/<bdf>/resource0).
func OpenHardwareBackend(path string, length int) (*HardwareBackend, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, rdmaerr.New(rdmaerr.KindDeviceError, "csr.OpenHardwareBackend", err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, rdmaerr.New(rdmaerr.KindDeviceError, "csr.OpenHardwareBackend", fmt.Errorf("mmap: %w", err))
	}
	return &HardwareBackend{
		MemReadWriter: NewMemReadWriter(mem),
		file:          f,
		mem:           mem,
	}, nil
}

// Close unmaps the BAR and closes the resource file.
func (h *HardwareBackend) Close() error {
	if err := unix.Munmap(h.mem); err != nil {
		return rdmaerr.New(rdmaerr.KindDeviceError, "csr.Close", err)
	}
	return h.file.Close()
}
