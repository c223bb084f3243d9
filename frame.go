package canard

import (
	"fmt"
	"strings"
)

// Frame is one CAN 2.0B or CAN FD data frame with an extended identifier.
// Frames are plain values so they can be queued and copied without allocating.
type Frame struct {
	Timestamp Microsecond
	// ID is the 29 bit extended CAN identifier.
	ID   uint32
	Len  uint8
	Data [MTU_CAN_FD]byte
}

// NewFrame builds a frame from an identifier and payload. It panics if the
// payload does not fit a CAN FD frame; use it for tests and fixed data.
func NewFrame(ts Microsecond, id uint32, payload []byte) Frame {
	if len(payload) > MTU_CAN_FD {
		panic(ErrPayloadTooLarge)
	}
	f := Frame{Timestamp: ts, ID: id, Len: uint8(len(payload))}
	copy(f.Data[:], payload)
	return f
}

// Payload returns the frame data, tail byte included.
func (f *Frame) Payload() []byte { return f.Data[:f.Len] }

// Tail returns the tail byte. The frame must not be empty.
func (f *Frame) Tail() Tail {
	if f.Len == 0 {
		panic("empty payload")
	}
	return Tail(f.Data[f.Len-1])
}

func (f *Frame) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%08X [%d]", f.ID, f.Len)
	for _, b := range f.Data[:f.Len] {
		fmt.Fprintf(&sb, " %02X", b)
	}
	return sb.String()
}

// Tail is the last byte of the payload and contains transfer
// control flow data such as if the transfer is a start/end frame
// and if toggle bit is set.
type Tail byte

func (t Tail) IsToggled() bool { return t&TAIL_TOGGLE != 0 }
func (t Tail) IsStart() bool   { return t&TAIL_START_OF_TRANSFER != 0 }
func (t Tail) IsEnd() bool     { return t&TAIL_END_OF_TRANSFER != 0 }
func (t Tail) TransferID() TID { return TID(t & TRANSFER_ID_MAX) }

func tailByte(start, end, toggle bool, tid TID) (tail byte) {
	tail = byte(tid & TRANSFER_ID_MAX)
	tail |= byte(b2i(toggle) << 5)
	tail |= byte(b2i(end) << 6)
	tail |= byte(b2i(start) << 7)
	return tail
}

// roundPayloadSizeUp returns the smallest valid CAN (FD) frame length holding x bytes.
func roundPayloadSizeUp(x int) int {
	return int(canDLCToLength[canLengthToDLC[x]])
}

// adjustPresentationLayerMTU maps a requested MTU onto the nearest valid frame
// length not smaller than classic CAN and returns the payload bytes available
// per frame once the tail byte is accounted for.
func adjustPresentationLayerMTU(mtuBytes int) (mtu int) {
	switch {
	case mtuBytes < MTU_CAN_CLASSIC:
		mtu = MTU_CAN_CLASSIC
	case mtuBytes <= len(canLengthToDLC)-1:
		mtu = roundPayloadSizeUp(mtuBytes)
	default:
		mtu = MTU_CAN_FD
	}
	return mtu - 1
}

// frameModel is a parsed frame: routing fields from the identifier plus the tail byte.
type frameModel struct {
	Metadata
	timestamp Microsecond
	txStart   bool
	txEnd     bool
	toggle    bool
	// payload excludes the tail byte.
	payload []byte
}

func rxTryParseFrame(frame *Frame, out *frameModel) error {
	switch {
	case frame == nil || out == nil:
		return ErrInvalidArgument
	case frame.Len == 0:
		return errEmptyPayload
	case frame.Len > MTU_CAN_FD:
		return errInvalidFrame
	}
	meta, err := ParseCANID(frame.ID)
	if err != nil {
		return err
	}
	tail := frame.Tail()
	meta.TID = tail.TransferID()
	out.Metadata = meta
	out.timestamp = frame.Timestamp
	out.payload = frame.Data[:frame.Len-1] // Cut off the tail byte.
	out.txStart = tail.IsStart()
	out.txEnd = tail.IsEnd()
	out.toggle = tail.IsToggled()

	// Protocol version check: if SOT is set, then the toggle shall also be set.
	valid := !out.txStart || out.toggle
	// Anonymous transfers can be only single-frame transfers.
	valid = valid && ((out.txStart && out.txEnd) || out.Source.IsSet())
	// Non-last frames of a multi-frame transfer shall utilize the MTU fully.
	valid = valid && (len(out.payload) >= MFT_NON_LAST_FRAME_PAYLOAD_MIN || out.txEnd)
	// A frame that is a part of a multi-frame transfer cannot be empty (tail byte not included).
	valid = valid && (len(out.payload) > 0 || (out.txStart && out.txEnd))
	if !valid {
		return errInvalidFrame
	}
	return nil
}
