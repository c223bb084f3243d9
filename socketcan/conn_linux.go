//go:build linux

package socketcan

import (
	"fmt"
	"net"
	"os"

	"github.com/soypat/canard"
	"golang.org/x/sys/unix"
)

// Conn is a raw CAN socket bound to one interface. It reads and writes
// struct can_frame records and programs the kernel acceptance filters.
type Conn struct {
	fd   int
	file *os.File
}

// Dial opens a raw CAN socket bound to iface, e.g. "can0".
func Dial(iface string) (*Conn, error) {
	netIf, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socketcan: socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: netIf.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("socketcan: bind %s: %w", iface, err)
	}
	// Non-blocking so the runtime poller owns the fd and Close unblocks readers.
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &Conn{fd: fd, file: os.NewFile(uintptr(fd), "socketcan:"+iface)}, nil
}

func (c *Conn) Read(b []byte) (int, error)  { return c.file.Read(b) }
func (c *Conn) Write(b []byte) (int, error) { return c.file.Write(b) }
func (c *Conn) Close() error                { return c.file.Close() }

// SetFilters replaces the kernel acceptance filters of the socket.
// An empty list stops all reception.
func (c *Conn) SetFilters(filters []canard.Filter) error {
	err := unix.SetsockoptCanRawFilter(c.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, KernelFilters(filters))
	if err != nil {
		return fmt.Errorf("socketcan: set filters: %w", err)
	}
	return nil
}

// AcceptAll programs the socket to pass every extended data frame.
func (c *Conn) AcceptAll() error {
	return c.SetFilters([]canard.Filter{canard.AcceptAll()})
}

// KernelFilters converts acceptance filters to the SocketCAN layout. Every
// resulting filter only matches extended data frames.
func KernelFilters(filters []canard.Filter) []unix.CanFilter {
	out := make([]unix.CanFilter, len(filters))
	for i, f := range filters {
		out[i] = unix.CanFilter{
			Id:   f.ID&unix.CAN_EFF_MASK | unix.CAN_EFF_FLAG,
			Mask: f.Mask&unix.CAN_EFF_MASK | unix.CAN_EFF_FLAG | unix.CAN_RTR_FLAG,
		}
	}
	return out
}
