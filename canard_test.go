package canard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceiverSubscribe(t *testing.T) {
	const extendedCANID = 0b001_00_0_11_0110011001100_0_0100111
	rx := newTestReceiver(t, SomeNode(42), 4)
	var tr Transfer
	f := NewFrame(1000e6, extendedCANID, []byte{tailByte(true, true, true, 0)})
	ok, err := rx.Accept(&f, &tr)
	require.NoError(t, err)
	assert.False(t, ok, "no subscription yet")
	assert.Equal(t, uint64(1), rx.Stats().Ignored)

	// Create a message subscription.
	var subMsg Subscription
	const portid = 0xccc
	require.NoError(t, rx.Subscribe(TxKindMessage, portid, 32, 2e6, &subMsg))
	// Replacement should annihilate values written in first call to Subscribe.
	const replacedExtent, replacedTimeout = 16, 1e6
	require.NoError(t, rx.Subscribe(TxKindMessage, portid, replacedExtent, replacedTimeout, &subMsg))
	subs, err := rx.Subscriptions(TxKindMessage)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	got := subs[0]
	assert.Same(t, &subMsg, got)
	assert.Equal(t, PortID(portid), got.Port())
	assert.Equal(t, replacedExtent, got.Extent())
	assert.Equal(t, Microsecond(replacedTimeout), got.TIDTimeout())

	// Create request subscription.
	subReq := &Subscription{UserRef: "handler"}
	const reqPort, reqExtent, reqTimeout = 0b0000110011, 20, 3e6
	require.NoError(t, rx.Subscribe(TxKindRequest, reqPort, reqExtent, reqTimeout, subReq))
	subs, err = rx.Subscriptions(TxKindMessage)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Same(t, &subMsg, subs[0])
	subs, err = rx.Subscriptions(TxKindRequest)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	got = subs[0]
	assert.Same(t, subReq, got)
	assert.Equal(t, TxKindRequest, got.Kind())
	assert.Equal(t, "handler", got.UserRef, "user reference survives Subscribe")

	// A linked subscription cannot be reused for another port.
	err = rx.Subscribe(TxKindMessage, 1, 8, 1e6, subReq)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestReceiverSubscribeErrors(t *testing.T) {
	rx, err := NewReceiver(ReceiverConfig{BufferSize: 64, Logger: discardLogger()})
	require.NoError(t, err)
	var sub Subscription
	tests := []struct {
		name   string
		kind   TxKind
		port   PortID
		extent int
		want   error
	}{
		{"kind", numberOfTxKinds, 1, 8, ErrTransferKind},
		{"subject", TxKindMessage, SUBJECT_ID_MAX + 1, 8, ErrInvalidArgument},
		{"service", TxKindResponse, SERVICE_ID_MAX + 1, 8, ErrInvalidArgument},
		{"negative extent", TxKindMessage, 1, -1, ErrInvalidArgument},
		{"extent", TxKindMessage, 1, 64, ErrSubscriptionExtent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rx.Subscribe(tt.kind, tt.port, tt.extent, DefaultTIDTimeout, &sub)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.ErrorIs(t, rx.Subscribe(TxKindMessage, 1, 8, 1, nil), ErrInvalidArgument)
	subs, err := rx.Subscriptions(TxKindMessage)
	assert.NoError(t, err)
	assert.Empty(t, subs)

	_, err = rx.Subscriptions(numberOfTxKinds)
	assert.ErrorIs(t, err, ErrTransferKind)
}

func TestReceiverConfig(t *testing.T) {
	_, err := NewReceiver(ReceiverConfig{SessionCapacity: -1})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewReceiver(ReceiverConfig{BufferSize: 4})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewReceiver(ReceiverConfig{LocalNode: SomeNode(128)})
	assert.ErrorIs(t, err, ErrInvalidNodeID)
}

func TestReceiverAccept(t *testing.T) {
	const (
		extendedCANID ecID = 0b001_00_0_11_0110011001100_0_0100111
		port               = 0xccc
		timeout            = 1e8 + 1
	)
	rx := newTestReceiver(t, AnonymousNode, 1)
	var sub Subscription
	require.NoError(t, rx.Subscribe(TxKindMessage, port, 16, timeout, &sub))

	f := NewFrame(timeout, uint32(extendedCANID), []byte{tailByte(true, true, true, 0)})
	var tr Transfer
	ok, err := rx.Accept(&f, &tr)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, extendedCANID.PortID(), sub.Port())
	assert.Equal(t, Microsecond(timeout), tr.Timestamp)
	assert.Equal(t, TxKindMessage, tr.TxKind)
	assert.Equal(t, SomeNode(0b0100111), tr.Source)
	assert.Equal(t, PriorityImmediate, tr.Priority)
	assert.Empty(t, tr.Payload)

	_, err = rx.Accept(nil, &tr)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestReceiverMalformed(t *testing.T) {
	rx := newTestReceiver(t, SomeNode(1), 1)
	var sub Subscription
	require.NoError(t, rx.Subscribe(TxKindMessage, 100, 64, DefaultTIDTimeout, &sub))
	id := uint32(0x1060640A)
	frames := []Frame{
		NewFrame(0, id|FLAG_RESERVED_23, []byte{0xE0}),
		NewFrame(0, id, nil),
		// Start without toggle.
		NewFrame(0, id, []byte{1, 0xC0}),
		// Anonymous multi-frame.
		NewFrame(0, id|FLAG_ANONYMOUS_MESSAGE, []byte{1, 2, 3, 4, 5, 6, 7, 0xA0}),
		// Short non-last frame.
		NewFrame(0, id, []byte{1, 2, 0xA0}),
	}
	assert.Empty(t, feed(t, rx, frames...))
	st := rx.Stats()
	assert.Equal(t, uint64(len(frames)), st.Malformed)
	assert.Equal(t, uint64(len(frames)), st.Frames)
	assert.Zero(t, rx.Sessions())
}
