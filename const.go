package canard

// Parameter ranges are inclusive; the lower bound is zero for all. See Cyphal/CAN Specification for background.
const (
	SUBJECT_ID_MAX         = 8191
	SERVICE_ID_MAX         = 511
	NODE_ID_MAX            = 127
	PRIORITY_MAX           = 7
	TRANSFER_ID_BIT_LENGTH = 5
	TRANSFER_ID_MAX        = ((1 << TRANSFER_ID_BIT_LENGTH) - 1)
)

const (
	FLAG_SERVICE_NOT_MESSAGE  = 1 << 25
	FLAG_ANONYMOUS_MESSAGE    = 1 << 24
	FLAG_REQUEST_NOT_RESPONSE = 1 << 24
	FLAG_RESERVED_23          = 1 << 23
	FLAG_RESERVED_07          = 1 << 7
	// Bits 21 and 22 of message identifiers are always set on transmission
	// for compatibility with UAVCAN v0 nodes and ignored on reception.
	FLAG_COMPAT_MESSAGE = 1<<21 | 1<<22
)

const (
	TAIL_START_OF_TRANSFER         = 128
	TAIL_END_OF_TRANSFER           = 64
	TAIL_TOGGLE                    = 32
	MFT_NON_LAST_FRAME_PAYLOAD_MIN = 7
)

// Transfer kinds.
const (
	TxKindMessage  TxKind = iota // Multicast, from publisher to all subscribers.
	TxKindResponse               // Point-to-point, from server to client.
	TxKindRequest                // Point-to-point, from client to server.
	numberOfTxKinds
)

// Transfer priority level mnemonics per the recommendations given in the Cyphal Specification.
const (
	PriorityExceptional Priority = iota
	PriorityImmediate
	PriorityFast
	PriorityHigh
	PriorityNominal // Nominal priority level should be the default.
	PriorityLow
	PrioritySlow
	PriorityOptional
	numOfPriorities
)

const priorityMask = PRIORITY_MAX

const (
	offset_Priority  = 26
	offset_SubjectID = 8
	offset_ServiceID = 14
	offset_DstNodeID = 7
)

// Frame payload sizes, tail byte included.
const (
	MTU_CAN_CLASSIC = 8
	MTU_CAN_FD      = 64
)

const (
	_CAN_EXT_ID_MASK = (1 << 29) - 1
	_CAN_EXT_ID_BITS = 29
	crcSize          = 2
	// Largest number of zero bytes a CAN FD frame can be padded with (33 bytes -> 48).
	fdPaddingMax = 15
	// The first node ID reserved for diagnostic and debugging tools.
	// Pseudo IDs of anonymous transfers never land on it or above it.
	nodeIDDiagnosticMin = 126
	// Seed of the XOR fold used to derive anonymous pseudo IDs.
	pseudoIDSeed = 0x55
)

const (
	// DefaultTIDTimeout is the transfer-ID timeout recommended by the Cyphal specification.
	DefaultTIDTimeout Microsecond = 2_000_000
	DefaultMaxPayload             = 65535
	DefaultSessionCapacity        = 16
	DefaultSessionBufferSize      = 1024
)

// canDLCToLength maps a CAN FD data length code to the number of payload bytes.
var canDLCToLength = [16]uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// canLengthToDLC maps a payload length to the smallest DLC that can hold it.
var canLengthToDLC = [65]uint8{
	0, 1, 2, 3, 4, 5, 6, 7, 8, // 0-8
	9, 9, 9, 9, // 9-12
	10, 10, 10, 10, // 13-16
	11, 11, 11, 11, // 17-20
	12, 12, 12, 12, // 21-24
	13, 13, 13, 13, 13, 13, 13, 13, // 25-32
	14, 14, 14, 14, 14, 14, 14, 14, 14, 14, 14, 14, 14, 14, 14, 14, // 33-48
	15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, // 49-64
}
