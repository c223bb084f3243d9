package canard

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Contains OpenCyphal transmission/transfer logic.

// Transmitter splits outgoing transfers into CAN frames.
// It holds no locks; callers sharing one Transmitter must serialize access.
type Transmitter struct {
	// Presentation layer MTU: data bytes per frame excluding the tail byte.
	plMTU      int
	maxPayload int
	log        logrus.FieldLogger
	stats      TxStats
}

// NewTransmitter returns a Transmitter configured by cfg.
func NewTransmitter(cfg TransmitterConfig) (*Transmitter, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Transmitter{
		plMTU:      adjustPresentationLayerMTU(cfg.MTU),
		maxPayload: cfg.MaxPayload,
		log:        cfg.Logger,
	}, nil
}

// SetMTU changes the frame size used by subsequent calls. Invalid values are
// treated as the nearest valid CAN frame length not smaller than 8.
func (t *Transmitter) SetMTU(mtu int) { t.plMTU = adjustPresentationLayerMTU(mtu) }

// MTU returns the frame size in bytes, tail byte included.
func (t *Transmitter) MTU() int { return t.plMTU + 1 }

// Stats returns the transfer counters.
func (t *Transmitter) Stats() TxStats { return t.stats }

// Frames validates tr and returns an iterator over its frames. The iterator
// reads tr.Payload lazily so the payload must not be modified until the
// iterator is exhausted.
func (t *Transmitter) Frames(tr *Transfer) (FrameIter, error) {
	var it FrameIter
	if tr == nil {
		return it, ErrInvalidArgument
	}
	if len(tr.Payload) > t.maxPayload {
		return it, fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(tr.Payload), t.maxPayload)
	}
	if !tr.Source.IsSet() && len(tr.Payload) > t.plMTU {
		return it, fmt.Errorf("%w: anonymous transfers must fit in a single frame", ErrPayloadTooLarge)
	}
	canID, err := MakeCANID(&tr.Metadata, tr.Payload)
	if err != nil {
		return it, err
	}
	it.reset(canID, tr.TID, tr.Timestamp, t.plMTU, tr.Payload)
	return it, nil
}

// Push breaks tr into frames and inserts them into q. Either all frames are
// queued or none is: if the queue cannot hold the whole transfer
// ErrTxQueueFull is returned and q is left untouched.
func (t *Transmitter) Push(q *TxQueue, deadline Microsecond, tr *Transfer) error {
	if q == nil {
		return ErrInvalidArgument
	}
	err := t.push(q, deadline, tr)
	if err != nil {
		t.stats.Errors++
		t.log.WithError(err).WithField("port", portOf(tr)).Debug("transfer not queued")
		return err
	}
	t.stats.Transfers++
	return nil
}

func (t *Transmitter) push(q *TxQueue, deadline Microsecond, tr *Transfer) error {
	it, err := t.Frames(tr)
	if err != nil {
		return err
	}
	if q.Len()+it.Remaining() > q.Cap {
		return fmt.Errorf("%w: %d frames needed, %d free", ErrTxQueueFull, it.Remaining(), q.Cap-q.Len())
	}
	var frame Frame
	for it.Next(&frame) {
		q.push(deadline, frame)
	}
	return nil
}

func portOf(tr *Transfer) PortID {
	if tr == nil {
		return 0
	}
	return tr.Port
}

// FrameIter yields the frames of one transfer in transmission order.
// It is single use: once Next returns false it stays exhausted.
type FrameIter struct {
	canID   uint32
	tid     TID
	ts      Microsecond
	plMTU   int
	payload []byte
	single  bool
	// Bytes of the padded last frame inserted between payload and CRC.
	padding int
	// Total bytes to emit: payload, padding and CRC for multi-frame transfers.
	total  int
	offset int
	frames int
	crc    CRC
	toggle bool
	done   bool
}

func (it *FrameIter) reset(canID uint32, tid TID, ts Microsecond, plMTU int, payload []byte) {
	*it = FrameIter{
		canID:   canID,
		tid:     tid,
		ts:      ts,
		plMTU:   plMTU,
		payload: payload,
		single:  len(payload) <= plMTU,
		crc:     newCRC(),
		toggle:  true, // initial toggle state
	}
	if it.single {
		it.total = len(payload)
		it.frames = 1
		return
	}
	payloadSizeWithCRC := len(payload) + crcSize
	it.frames = (payloadSizeWithCRC + plMTU - 1) / plMTU
	lastFrameBytes := payloadSizeWithCRC - (it.frames-1)*plMTU
	it.padding = roundPayloadSizeUp(lastFrameBytes+1) - 1 - lastFrameBytes
	it.total = payloadSizeWithCRC + it.padding
}

// CANID returns the identifier shared by all frames of the transfer.
func (it *FrameIter) CANID() uint32 { return it.canID }

// Remaining returns the number of frames not yet produced.
func (it *FrameIter) Remaining() int { return it.frames }

// Next writes the next frame into f and reports whether there was one.
func (it *FrameIter) Next(f *Frame) bool {
	if it.done || it.frames == 0 || f == nil {
		return false
	}
	f.ID = it.canID
	f.Timestamp = it.ts
	if it.single {
		framePayloadSize := roundPayloadSizeUp(len(it.payload) + 1)
		n := copy(f.Data[:], it.payload)
		for ; n < framePayloadSize-1; n++ {
			f.Data[n] = 0 // Padding value.
		}
		f.Data[n] = tailByte(true, true, true, it.tid)
		f.Len = uint8(framePayloadSize)
		it.frames = 0
		it.done = true
		return true
	}

	start := it.offset == 0
	n := 0
	if it.offset < len(it.payload) {
		n = copy(f.Data[:it.plMTU], it.payload[it.offset:])
		it.crc = it.crc.Add(f.Data[:n])
		it.offset += n
	}
	dataEnd := len(it.payload) + it.padding
	for n < it.plMTU && it.offset < it.total {
		switch {
		case it.offset < dataEnd:
			// Padding of the last frame is covered by the CRC.
			f.Data[n] = 0
			it.crc = it.crc.AddByte(0)
		case it.offset == dataEnd:
			f.Data[n] = byte(it.crc.Value() >> 8)
		default:
			f.Data[n] = byte(it.crc.Value())
		}
		n++
		it.offset++
	}
	end := it.offset >= it.total
	f.Data[n] = tailByte(start, end, it.toggle, it.tid)
	f.Len = uint8(n + 1)
	it.toggle = !it.toggle
	it.frames--
	if end {
		if it.frames != 0 {
			panic("canard: frame count mismatch in multi-frame transfer")
		}
		it.done = true
	}
	return true
}
