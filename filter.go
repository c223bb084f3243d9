package canard

import (
	"fmt"
	"math/bits"
)

// Filter is a hardware acceptance filter over 29 bit extended identifiers.
// A frame is accepted iff its ID matches ID on every bit set in Mask.
type Filter struct {
	ID   uint32
	Mask uint32
}

// NewFilter returns the filter accepting identifiers equal to id on the bits of mask.
func NewFilter(id, mask uint32) Filter {
	return Filter{ID: id, Mask: mask}.normalized()
}

// AcceptAll returns the filter that accepts every extended identifier.
func AcceptAll() Filter { return Filter{} }

func (f Filter) normalized() Filter {
	f.Mask &= _CAN_EXT_ID_MASK
	f.ID &= f.Mask
	return f
}

// Accepts reports whether the filter lets canID through.
func (f Filter) Accepts(canID uint32) bool {
	return (canID^f.ID)&f.Mask&_CAN_EXT_ID_MASK == 0
}

// Covers reports whether every identifier accepted by g is also accepted by f.
func (f Filter) Covers(g Filter) bool {
	f, g = f.normalized(), g.normalized()
	return f.Mask&^g.Mask == 0 && (f.ID^g.ID)&f.Mask == 0
}

// AcceptanceSize returns how many distinct identifiers the filter accepts.
func (f Filter) AcceptanceSize() uint64 {
	return 1 << (_CAN_EXT_ID_BITS - bits.OnesCount32(f.Mask&_CAN_EXT_ID_MASK))
}

// Merge returns the most specific filter accepting everything f and g accept:
// it keeps only the mask bits both share on which their IDs agree.
func (f Filter) Merge(g Filter) Filter {
	commonIDBits := ^(f.ID ^ g.ID)
	var out Filter
	out.Mask = f.Mask & g.Mask & commonIDBits
	return out.normalizedWith(f.ID)
}

func (f Filter) normalizedWith(id uint32) Filter {
	f.ID = id
	return f.normalized()
}

func (f Filter) String() string {
	return fmt.Sprintf("id=%08X mask=%08X", f.ID, f.Mask)
}

// intersectionSize returns how many identifiers both filters accept.
func intersectionSize(a, b Filter) uint64 {
	if (a.ID^b.ID)&a.Mask&b.Mask != 0 {
		return 0
	}
	return Filter{Mask: a.Mask | b.Mask}.AcceptanceSize()
}

// mergeWaste returns the merge of a and b together with the number of
// identifiers it accepts that neither a nor b accepted.
func mergeWaste(a, b Filter) (Filter, uint64) {
	m := a.Merge(b)
	union := a.AcceptanceSize() + b.AcceptanceSize() - intersectionSize(a, b)
	return m, m.AcceptanceSize() - union
}

// OptimizeFilters reduces filters to at most maxFilters entries whose union
// accepts every identifier the input accepted. While there are too many
// filters it merges the pair that adds the fewest unwanted identifiers,
// preferring the lowest merged ID on ties. The result reuses the storage of
// filters, which is modified.
//
// This is a greedy heuristic: it runs in polynomial time on every
// reconfiguration but does not guarantee the least possible waste.
//
// With maxFilters == 0 no hardware filter can be programmed; if any frame is
// required ErrNoFilterBanks is returned and the caller should leave the
// controller accepting everything, relying on the Receiver to discard
// unwanted frames.
func OptimizeFilters(filters []Filter, maxFilters int) ([]Filter, error) {
	switch {
	case maxFilters < 0:
		return filters[:0], fmt.Errorf("%w: max filters %d", ErrInvalidArgument, maxFilters)
	case len(filters) == 0:
		return filters[:0], nil
	case maxFilters == 0:
		return filters[:0], ErrNoFilterBanks
	}
	for i := range filters {
		filters[i] = filters[i].normalized()
	}
	n := len(filters)
	for n > maxFilters {
		bi, bj := -1, -1
		var best Filter
		var bestWaste uint64
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				m, w := mergeWaste(filters[i], filters[j])
				if bi < 0 || w < bestWaste || (w == bestWaste && m.ID < best.ID) {
					bi, bj, best, bestWaste = i, j, m, w
				}
			}
		}
		filters[bi] = best
		copy(filters[bj:n], filters[bj+1:n])
		n--
	}
	return filters[:n], nil
}

// MakeSubjectFilter returns the filter accepting every message on subject,
// from any source and at any priority, anonymous ones included.
func MakeSubjectFilter(subject PortID) Filter {
	return NewFilter(
		uint32(subject)<<offset_SubjectID,
		FLAG_SERVICE_NOT_MESSAGE|FLAG_RESERVED_23|FLAG_RESERVED_07|SUBJECT_ID_MAX<<offset_SubjectID,
	)
}

// MakeSubjectFilterFrom is like MakeSubjectFilter but only accepts messages
// published by src.
func MakeSubjectFilterFrom(subject PortID, src NodeID) Filter {
	f := MakeSubjectFilter(subject)
	return NewFilter(f.ID|uint32(src&NODE_ID_MAX), f.Mask|FLAG_ANONYMOUS_MESSAGE|NODE_ID_MAX)
}

// MakeServiceFilter returns the filter accepting service transfers of kind on
// service addressed to local, from any client or server.
func MakeServiceFilter(kind TxKind, service PortID, local NodeID) Filter {
	id := uint32(FLAG_SERVICE_NOT_MESSAGE) |
		uint32(service)<<offset_ServiceID |
		uint32(local&NODE_ID_MAX)<<offset_DstNodeID
	if kind == TxKindRequest {
		id |= FLAG_REQUEST_NOT_RESPONSE
	}
	return NewFilter(id,
		FLAG_SERVICE_NOT_MESSAGE|FLAG_REQUEST_NOT_RESPONSE|FLAG_RESERVED_23|
			SERVICE_ID_MAX<<offset_ServiceID|NODE_ID_MAX<<offset_DstNodeID,
	)
}

// MakeServicesFilter returns the filter accepting every service transfer addressed to local.
func MakeServicesFilter(local NodeID) Filter {
	return NewFilter(
		FLAG_SERVICE_NOT_MESSAGE|uint32(local&NODE_ID_MAX)<<offset_DstNodeID,
		FLAG_SERVICE_NOT_MESSAGE|FLAG_RESERVED_23|NODE_ID_MAX<<offset_DstNodeID,
	)
}
