package canard

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestReceiver(t *testing.T, local OptNodeID, capacity int) *Receiver {
	t.Helper()
	rx, err := NewReceiver(ReceiverConfig{
		LocalNode:       local,
		SessionCapacity: capacity,
		Logger:          discardLogger(),
	})
	require.NoError(t, err)
	return rx
}

func newTestTransmitter(t *testing.T, mtu int) *Transmitter {
	t.Helper()
	tx, err := NewTransmitter(TransmitterConfig{MTU: mtu, Logger: discardLogger()})
	require.NoError(t, err)
	return tx
}

// seqPayload returns n bytes counting up from 0.
func seqPayload(n int) []byte {
	payload := make([]byte, n)
	for i := range payload {
		payload[i] = byte(i & 0xff)
	}
	return payload
}

func messageTransfer(subject PortID, src NodeID, tid TID, payload []byte) *Transfer {
	return &Transfer{
		Metadata: Metadata{
			Priority: PriorityNominal,
			TxKind:   TxKindMessage,
			Port:     subject,
			Source:   SomeNode(src),
			TID:      tid,
		},
		Payload: payload,
	}
}

func requestTransfer(service PortID, src, dst NodeID, tid TID, payload []byte) *Transfer {
	return &Transfer{
		Metadata: Metadata{
			Priority:    PriorityHigh,
			TxKind:      TxKindRequest,
			Port:        service,
			Source:      SomeNode(src),
			Destination: SomeNode(dst),
			TID:         tid,
		},
		Payload: payload,
	}
}

// collectFrames returns all frames of tr, each stamped with ts.
func collectFrames(t *testing.T, tx *Transmitter, tr *Transfer, ts Microsecond) []Frame {
	t.Helper()
	it, err := tx.Frames(tr)
	require.NoError(t, err)
	var frames []Frame
	var f Frame
	for it.Next(&f) {
		f.Timestamp = ts
		frames = append(frames, f)
	}
	require.Zero(t, it.Remaining())
	return frames
}

// feed passes frames to rx and returns copies of the transfers it emitted.
func feed(t *testing.T, rx *Receiver, frames ...Frame) []Transfer {
	t.Helper()
	var out []Transfer
	var tr Transfer
	for i := range frames {
		ok, err := rx.Accept(&frames[i], &tr)
		require.NoError(t, err)
		if ok {
			cp := tr
			cp.Payload = append([]byte(nil), tr.Payload...)
			out = append(out, cp)
		}
	}
	return out
}
