package canard

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// ReceiverConfig configures a Receiver. Zero fields take their defaults.
type ReceiverConfig struct {
	// LocalNode is the address of this node. Service transfers addressed to
	// other nodes are dropped; an anonymous node receives no service transfers.
	LocalNode OptNodeID
	// SessionCapacity is the number of multi-frame transfers that can be
	// reassembled concurrently across all subscriptions.
	SessionCapacity int
	// BufferSize is the reassembly buffer of each session in bytes,
	// CRC and padding included. It bounds the extent of every subscription.
	BufferSize int
	Logger     logrus.FieldLogger
}

func (c ReceiverConfig) withDefaults() ReceiverConfig {
	if c.SessionCapacity == 0 {
		c.SessionCapacity = DefaultSessionCapacity
	}
	if c.BufferSize == 0 {
		c.BufferSize = DefaultSessionBufferSize
	}
	if c.Logger == nil {
		c.Logger = logrus.WithField("component", "canard.rx")
	}
	return c
}

// Validate checks the configuration for values no Receiver can work with.
func (c ReceiverConfig) Validate() error {
	if id, ok := c.LocalNode.Get(); ok && !id.IsValid() {
		return ErrInvalidNodeID
	}
	if c.SessionCapacity < 1 {
		return fmt.Errorf("%w: session capacity %d", ErrInvalidArgument, c.SessionCapacity)
	}
	if c.BufferSize < sessionCeiling(0) {
		return fmt.Errorf("%w: session buffer size %d", ErrInvalidArgument, c.BufferSize)
	}
	return nil
}

// TransmitterConfig configures a Transmitter. Zero fields take their defaults.
type TransmitterConfig struct {
	// MTU is the frame size in bytes, tail byte included. Only the standard
	// values 8 (classic CAN) and 64 (CAN FD) should be used;
	// otherwise, networking interoperability issues may arise.
	MTU int
	// MaxPayload is the largest transfer payload accepted.
	MaxPayload int
	Logger     logrus.FieldLogger
}

func (c TransmitterConfig) withDefaults() TransmitterConfig {
	if c.MTU == 0 {
		c.MTU = MTU_CAN_CLASSIC
	}
	if c.MaxPayload == 0 {
		c.MaxPayload = DefaultMaxPayload
	}
	if c.Logger == nil {
		c.Logger = logrus.WithField("component", "canard.tx")
	}
	return c
}

// Validate checks the configuration for values no Transmitter can work with.
func (c TransmitterConfig) Validate() error {
	if c.MTU < 0 {
		return fmt.Errorf("%w: mtu %d", ErrInvalidArgument, c.MTU)
	}
	if c.MaxPayload < 0 {
		return fmt.Errorf("%w: max payload %d", ErrInvalidArgument, c.MaxPayload)
	}
	return nil
}
