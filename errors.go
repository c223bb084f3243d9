package canard

import (
	"errors"
	"strconv"
)

var (
	ErrInvalidArgument     = errors.New("invalid arg")
	ErrMalformedIdentifier = errors.New("malformed CAN identifier")
	ErrPayloadTooLarge     = errors.New("payload too large")
	ErrInvalidNodeID       = errors.New("node id must be in 0.." + strconv.FormatUint(NODE_ID_MAX, 10))
	ErrBadTransferID       = errors.New("transfer id must be in 0.." + strconv.FormatUint(TRANSFER_ID_MAX, 10))
	ErrTransferKind        = errors.New("undefined transfer kind")
	ErrTxQueueFull         = errors.New("tx queue full")
	ErrNoFilterBanks       = errors.New("no hardware filter banks available")
	ErrSubscriptionExtent  = errors.New("subscription extent exceeds session buffer")

	errEmptyPayload = errors.New("empty or nil payload")
	errInvalidFrame = errors.New("invalid frame")
)
