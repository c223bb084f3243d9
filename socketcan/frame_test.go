package socketcan

import (
	"testing"

	"github.com/brutella/can"
	"github.com/soypat/canard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameConversion(t *testing.T) {
	in := canard.NewFrame(0, 0x107D552A, []byte{1, 2, 3, 0xE0})
	out, err := ToCAN(&in)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x107D552A|flagEFF), out.ID)
	assert.Equal(t, uint8(4), out.Length)
	assert.Equal(t, []byte{1, 2, 3, 0xE0}, out.Data[:out.Length])

	back, err := FromCAN(out, 42)
	require.NoError(t, err)
	assert.Equal(t, in.ID, back.ID)
	assert.Equal(t, in.Payload(), back.Payload())
	assert.Equal(t, canard.Microsecond(42), back.Timestamp)
}

func TestToCANRejectsFD(t *testing.T) {
	in := canard.NewFrame(0, 0x1000, make([]byte, 12))
	_, err := ToCAN(&in)
	assert.ErrorIs(t, err, ErrFrameTooLong)
}

func TestFromCANRejectsForeign(t *testing.T) {
	tests := []struct {
		name  string
		frame can.Frame
	}{
		{name: "standard id", frame: can.Frame{ID: 0x123, Length: 1}},
		{name: "remote request", frame: can.Frame{ID: 0x1000 | flagEFF | flagRTR}},
		{name: "error frame", frame: can.Frame{ID: flagEFF | flagERR, Length: 8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromCAN(tt.frame, 0)
			assert.ErrorIs(t, err, ErrNotCyphal)
		})
	}
	_, err := FromCAN(can.Frame{ID: flagEFF, Length: 9}, 0)
	assert.ErrorIs(t, err, ErrFrameTooLong)
}
