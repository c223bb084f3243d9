package canard

import "strconv"

// Microsecond is a caller-supplied monotonic timestamp or duration.
// The time system may be arbitrary as long as the clock is monotonic (steady).
type Microsecond uint64

// Priority of a transfer. Lower values win bus arbitration.
type Priority uint8

// IsValid reports whether p is one of the eight priority levels.
func (p Priority) IsValid() bool { return p < numOfPriorities }

// TxKind is the transfer kind: message, request or response.
type TxKind uint8

func (k TxKind) String() string {
	switch k {
	case TxKindMessage:
		return "message"
	case TxKindResponse:
		return "response"
	case TxKindRequest:
		return "request"
	}
	return "TxKind(" + strconv.Itoa(int(k)) + ")"
}

// IsService reports whether k is a request or a response.
func (k TxKind) IsService() bool { return k == TxKindRequest || k == TxKindResponse }

// NodeID is a Cyphal node address in 0..127.
type NodeID uint8

//go:inline
func (n NodeID) IsValid() bool { return n <= NODE_ID_MAX }

// OptNodeID is a node ID that may be absent, i.e. anonymous.
// The zero value is anonymous.
type OptNodeID struct {
	id  NodeID
	set bool
}

// AnonymousNode is the absent node ID.
var AnonymousNode = OptNodeID{}

// SomeNode returns a present node ID.
func SomeNode(id NodeID) OptNodeID { return OptNodeID{id: id, set: true} }

// Get returns the node ID and whether it is present.
func (o OptNodeID) Get() (NodeID, bool) { return o.id, o.set }

// IsSet reports whether the node ID is present.
func (o OptNodeID) IsSet() bool { return o.set }

func (o OptNodeID) String() string {
	if !o.set {
		return "anonymous"
	}
	return strconv.Itoa(int(o.id))
}

// PortID is a subject ID (messages) or a service ID (requests and responses).
type PortID uint16

// TID is the 5 bit transfer ID.
type TID uint8

// TIDDistance returns the forward distance from a to b in the cyclic
// transfer ID space, i.e. how many increments take a to b.
func TIDDistance(a, b TID) uint8 {
	diff := int16(b&TRANSFER_ID_MAX) - int16(a&TRANSFER_ID_MAX)
	if diff < 0 {
		diff += 1 << TRANSFER_ID_BIT_LENGTH
	}
	return uint8(diff)
}

// Next returns the transfer ID that follows t.
func (t TID) Next() TID { return (t + 1) & TRANSFER_ID_MAX }

// Metadata holds the routing fields of a transfer.
type Metadata struct {
	Priority Priority
	TxKind   TxKind
	Port     PortID
	// Source is absent for anonymous messages.
	Source OptNodeID
	// Destination is only set for requests and responses.
	Destination OptNodeID
	TID         TID
}

// Transfer is one logical message or service call, independent of how
// many CAN frames carry it.
type Transfer struct {
	Metadata
	// The timestamp of the first received CAN frame of this transfer.
	Timestamp Microsecond
	Payload   []byte
}

// sessionKey identifies one reassembly stream.
type sessionKey struct {
	kind TxKind
	port PortID
	src  NodeID
	dst  OptNodeID
}

func (m *Metadata) sessionKey() sessionKey {
	src, _ := m.Source.Get()
	return sessionKey{kind: m.TxKind, port: m.Port, src: src, dst: m.Destination}
}

//go:inline
func bsign(b bool) int8 {
	if b {
		return 1
	}
	return -1
}

//go:inline
func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
