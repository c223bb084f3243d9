package canard

import "fmt"

// ecID represents an extended CAN ID.
type ecID uint32

func (can ecID) Priority() Priority  { return Priority(can>>offset_Priority) & priorityMask }
func (can ecID) Source() NodeID      { return NodeID(can & NODE_ID_MAX) }
func (can ecID) Destination() NodeID { return NodeID((can >> offset_DstNodeID) & NODE_ID_MAX) }
func (can ecID) IsMessage() bool     { return can&FLAG_SERVICE_NOT_MESSAGE == 0 }
func (can ecID) IsRequest() bool {
	return !can.IsMessage() && can&FLAG_REQUEST_NOT_RESPONSE != 0
}
func (can ecID) IsAnonymous() bool { return can.IsMessage() && can&FLAG_ANONYMOUS_MESSAGE != 0 }
func (can ecID) PortID() PortID {
	if can.IsMessage() {
		return PortID(can>>offset_SubjectID) & SUBJECT_ID_MAX
	}
	return PortID(can>>offset_ServiceID) & SERVICE_ID_MAX
}

func (can ecID) Kind() TxKind {
	switch {
	case can.IsMessage():
		return TxKindMessage
	case can.IsRequest():
		return TxKindRequest
	}
	return TxKindResponse
}

// MakeCANID encodes the routing fields of m into a 29 bit extended CAN ID.
// The payload is only used to derive the pseudo node ID of anonymous messages.
func MakeCANID(m *Metadata, payload []byte) (uint32, error) {
	switch {
	case m == nil:
		return 0, ErrInvalidArgument
	case !m.Priority.IsValid():
		return 0, fmt.Errorf("%w: priority %d", ErrInvalidArgument, m.Priority)
	case m.TID > TRANSFER_ID_MAX:
		return 0, ErrBadTransferID
	}
	src, hasSrc := m.Source.Get()
	if hasSrc && !src.IsValid() {
		return 0, ErrInvalidNodeID
	}
	var out uint32
	switch m.TxKind {
	case TxKindMessage:
		if m.Port > SUBJECT_ID_MAX {
			return 0, fmt.Errorf("%w: subject id %d", ErrInvalidArgument, m.Port)
		}
		if m.Destination.IsSet() {
			return 0, fmt.Errorf("%w: message with destination", ErrInvalidArgument)
		}
		if hasSrc {
			out = makeMessageSessionSpecifier(m.Port, src)
		} else {
			out = makeMessageSessionSpecifier(m.Port, newPseudoID(payload)) | FLAG_ANONYMOUS_MESSAGE
		}

	case TxKindRequest, TxKindResponse:
		dst, hasDst := m.Destination.Get()
		switch {
		case m.Port > SERVICE_ID_MAX:
			return 0, fmt.Errorf("%w: service id %d", ErrInvalidArgument, m.Port)
		case !hasSrc || !hasDst:
			return 0, fmt.Errorf("%w: service transfers need source and destination", ErrInvalidArgument)
		case !dst.IsValid():
			return 0, ErrInvalidNodeID
		case src == dst:
			return 0, fmt.Errorf("%w: source equals destination", ErrInvalidArgument)
		}
		out = makeServiceSessionSpecifier(m.Port, m.TxKind, src, dst)

	default:
		return 0, ErrTransferKind
	}
	out |= uint32(m.Priority) << offset_Priority
	if out > _CAN_EXT_ID_MASK {
		panic("canard: generated CAN ID exceeds 29 bits")
	}
	return out, nil
}

// ParseCANID decodes the routing fields of an extended CAN ID. The returned
// metadata has its TID left at zero since the TID lives in the tail byte.
func ParseCANID(canID uint32) (Metadata, error) {
	var m Metadata
	if canID > _CAN_EXT_ID_MASK {
		return m, fmt.Errorf("%w: wider than 29 bits", ErrMalformedIdentifier)
	}
	id := ecID(canID)
	m.Priority = id.Priority()
	m.TxKind = id.Kind()
	m.Port = id.PortID()
	if id.IsMessage() {
		// Reserved bits may be unreserved in the future.
		if canID&FLAG_RESERVED_23 != 0 || canID&FLAG_RESERVED_07 != 0 {
			return m, fmt.Errorf("%w: reserved bit set", ErrMalformedIdentifier)
		}
		if !id.IsAnonymous() {
			m.Source = SomeNode(id.Source())
		}
		return m, nil
	}
	// The reserved bit may be unreserved in the future. It may be used to extend the service-ID to 10 bits.
	if canID&FLAG_RESERVED_23 != 0 {
		return m, fmt.Errorf("%w: reserved bit set", ErrMalformedIdentifier)
	}
	// Per Cyphal/CAN, source cannot be the same as the destination.
	if id.Source() == id.Destination() {
		return m, fmt.Errorf("%w: source equals destination", ErrMalformedIdentifier)
	}
	m.Source = SomeNode(id.Source())
	m.Destination = SomeNode(id.Destination())
	return m, nil
}

// newPseudoID derives the source field of an anonymous message from its payload.
func newPseudoID(payload []byte) NodeID {
	var bits byte = pseudoIDSeed
	for _, b := range payload {
		bits ^= b
	}
	id := NodeID(bits & NODE_ID_MAX)
	for id >= nodeIDDiagnosticMin {
		id--
	}
	return id
}

func makeMessageSessionSpecifier(subject PortID, src NodeID) uint32 {
	if src > NODE_ID_MAX || subject > SUBJECT_ID_MAX {
		panic("bad src or subject")
	}
	return uint32(src) | uint32(subject)<<offset_SubjectID | FLAG_COMPAT_MESSAGE
}

func makeServiceSessionSpecifier(service PortID, kind TxKind, src, dst NodeID) (spec uint32) {
	switch {
	case !kind.IsService():
		panic("kind must be response or request")
	case !src.IsValid() || !dst.IsValid():
		panic("src and dst must be valid")
	case service > SERVICE_ID_MAX:
		panic("serviceID > max")
	}
	spec = uint32(src) | uint32(dst)<<offset_DstNodeID
	spec |= uint32(service) << offset_ServiceID
	spec |= uint32(b2i(kind == TxKindRequest)) << 24
	spec |= FLAG_SERVICE_NOT_MESSAGE
	return spec
}
