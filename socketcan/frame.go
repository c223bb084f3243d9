package socketcan

import (
	"errors"

	"github.com/brutella/can"
	"github.com/soypat/canard"
)

// Flags of the Linux can_frame identifier word.
const (
	flagEFF = 0x80000000 // Extended frame format.
	flagRTR = 0x40000000 // Remote transmission request.
	flagERR = 0x20000000 // Error message frame.
	maskEFF = 0x1FFFFFFF
)

// classicMTU is the data length of a classic CAN frame, the only kind the
// brutella/can frame layout carries.
const classicMTU = 8

var (
	// ErrNotCyphal is returned for frames that cannot carry Cyphal transfers:
	// standard identifiers, remote requests and error frames.
	ErrNotCyphal = errors.New("socketcan: not an extended data frame")
	// ErrFrameTooLong is returned when converting a CAN FD frame to the classic layout.
	ErrFrameTooLong = errors.New("socketcan: frame longer than 8 bytes")
)

// ToCAN converts a Cyphal frame to the classic SocketCAN layout.
func ToCAN(f *canard.Frame) (can.Frame, error) {
	var out can.Frame
	if f.Len > classicMTU {
		return out, ErrFrameTooLong
	}
	out.ID = f.ID&maskEFF | flagEFF
	out.Length = f.Len
	copy(out.Data[:], f.Data[:f.Len])
	return out, nil
}

// FromCAN converts a received SocketCAN frame stamped with ts.
func FromCAN(f can.Frame, ts canard.Microsecond) (canard.Frame, error) {
	switch {
	case f.ID&flagEFF == 0, f.ID&(flagRTR|flagERR) != 0:
		return canard.Frame{}, ErrNotCyphal
	case f.Length > classicMTU:
		return canard.Frame{}, ErrFrameTooLong
	}
	return canard.NewFrame(ts, f.ID&maskEFF, f.Data[:f.Length]), nil
}
