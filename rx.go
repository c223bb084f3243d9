package canard

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// Contains OpenCyphal receive logic. Exported functions first.

// Receiver reassembles transfers from CAN frames for a set of subscriptions.
// All memory it needs is allocated by NewReceiver. It holds no locks: callers
// feeding one Receiver from several goroutines must serialize access.
type Receiver struct {
	local OptNodeID
	// There are 3 kinds of transfer modes.
	subs  [numberOfTxKinds]avlTree[*Subscription]
	table sessionTable
	log   logrus.FieldLogger
	stats RxStats
}

// Subscription declares interest in one port. It is owned by the caller and
// must stay alive while subscribed.
type Subscription struct {
	node    avlNode[*Subscription]
	kind    TxKind
	port    PortID
	extent  int
	timeout Microsecond
	// Last completed transfer per source node, for duplicate suppression.
	history [NODE_ID_MAX + 1]tidRecord
	// UserRef is not used by the Receiver.
	UserRef any
}

type tidRecord struct {
	at    Microsecond
	tid   TID
	valid bool
}

func (s *Subscription) Kind() TxKind            { return s.kind }
func (s *Subscription) Port() PortID            { return s.port }
func (s *Subscription) Extent() int             { return s.extent }
func (s *Subscription) TIDTimeout() Microsecond { return s.timeout }

// NewReceiver allocates a Receiver and its session table.
func NewReceiver(cfg ReceiverConfig) (*Receiver, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Receiver{
		local: cfg.LocalNode,
		table: newSessionTable(cfg.SessionCapacity, cfg.BufferSize),
		log:   cfg.Logger,
	}, nil
}

// Subscribe starts accepting transfers of the given kind on port. Transfers
// whose payload is longer than extent bytes are dropped. On CAN FD the zeros
// padding the last frame cannot be told apart from data: they are delivered
// with the payload and up to 15 of them are tolerated beyond extent. Classic
// CAN frames carry no padding and get no such allowance. timeout bounds both
// the reassembly of a transfer and the window in which a retransmission is
// recognized as a duplicate. An existing subscription on the same port is
// replaced and its sessions dropped.
func (r *Receiver) Subscribe(kind TxKind, port PortID, extent int, timeout Microsecond, sub *Subscription) error {
	switch {
	case sub == nil || extent < 0:
		return ErrInvalidArgument
	case kind >= numberOfTxKinds:
		return ErrTransferKind
	case kind == TxKindMessage && port > SUBJECT_ID_MAX:
		return fmt.Errorf("%w: subject id %d", ErrInvalidArgument, port)
	case kind.IsService() && port > SERVICE_ID_MAX:
		return fmt.Errorf("%w: service id %d", ErrInvalidArgument, port)
	case sessionCeiling(extent) > r.table.slotSize:
		return fmt.Errorf("%w: %d > %d", ErrSubscriptionExtent, sessionCeiling(extent), r.table.slotSize)
	}
	if err := r.Unsubscribe(kind, port); err != nil {
		return err
	}
	if r.linked(sub) {
		return fmt.Errorf("%w: subscription in use on another port", ErrInvalidArgument)
	}
	*sub = Subscription{
		kind:    kind,
		port:    port,
		extent:  extent,
		timeout: timeout,
		UserRef: sub.UserRef,
	}
	sub.node.value = sub
	_, inserted := r.subs[kind].insert(&sub.node, predicateOnPortID(port))
	if !inserted {
		panic("bad search result")
	}
	return nil
}

// Unsubscribe removes the subscription for port, if any, and drops its sessions.
func (r *Receiver) Unsubscribe(kind TxKind, port PortID) error {
	if kind >= numberOfTxKinds {
		return ErrTransferKind
	}
	sub := r.subscription(kind, port)
	if sub == nil {
		return nil // Node not exist, no need to remove.
	}
	r.table.releaseFunc(func(a *accumulation) bool { return a.sub == sub })
	r.subs[kind].remove(&sub.node)
	return nil
}

// Subscriptions returns the subscriptions of kind sorted by port.
func (r *Receiver) Subscriptions(kind TxKind) (subs []*Subscription, err error) {
	if kind >= numberOfTxKinds {
		return nil, ErrTransferKind
	}
	r.subs[kind].each(func(s *Subscription) bool {
		subs = append(subs, s)
		return true
	})
	return subs, nil
}

// Sessions returns the number of transfers currently being reassembled.
func (r *Receiver) Sessions() int { return r.table.active }

// Stats returns the diagnostic counters.
func (r *Receiver) Stats() RxStats { return r.stats }

// Accept feeds one frame into the Receiver. When the frame completes a
// transfer it is written to out and Accept returns true. The payload is
// copied into out.Payload, reusing its capacity.
//
// Malformed frames, frames nobody subscribed to and protocol violations are
// not errors: they are dropped and counted in Stats. An error is only returned
// for invalid arguments.
func (r *Receiver) Accept(frame *Frame, out *Transfer) (bool, error) {
	if frame == nil || out == nil {
		return false, ErrInvalidArgument
	}
	r.stats.Frames++
	var model frameModel
	if err := rxTryParseFrame(frame, &model); err != nil {
		r.stats.Malformed++
		r.dropFrame("can_id", frame.ID, err.Error())
		return false, nil
	}
	if model.TxKind.IsService() {
		local, ok := r.local.Get()
		dst, _ := model.Destination.Get()
		if !ok || dst != local {
			r.stats.Ignored++
			return false, nil
		}
	}
	sub := r.subscription(model.TxKind, model.Port)
	if sub == nil {
		r.stats.Ignored++
		return false, nil
	}
	return r.acceptFrame(sub, &model, out), nil
}

// Cleanup drops every session whose deadline is before now and returns how
// many were dropped. It should be called at least as often as the shortest
// subscription timeout.
func (r *Receiver) Cleanup(now Microsecond) int {
	n := r.table.releaseFunc(func(a *accumulation) bool { return a.deadline < now })
	if n > 0 {
		r.stats.Expired += uint64(n)
		r.log.WithField("sessions", n).Debug("expired sessions dropped")
	}
	return n
}

// Filters writes into dst the acceptance filters that admit every frame the
// current subscriptions need, merged down to at most maxFilters entries.
func (r *Receiver) Filters(dst []Filter, maxFilters int) ([]Filter, error) {
	dst = dst[:0]
	r.subs[TxKindMessage].each(func(s *Subscription) bool {
		dst = append(dst, MakeSubjectFilter(s.port))
		return true
	})
	if local, ok := r.local.Get(); ok {
		for _, kind := range [...]TxKind{TxKindRequest, TxKindResponse} {
			r.subs[kind].each(func(s *Subscription) bool {
				dst = append(dst, MakeServiceFilter(kind, s.port, local))
				return true
			})
		}
	}
	return OptimizeFilters(dst, maxFilters)
}

// Below is private API.

func (r *Receiver) subscription(kind TxKind, port PortID) *Subscription {
	n := r.subs[kind].search(predicateOnPortID(port))
	if n == nil {
		return nil
	}
	return n.value
}

func (r *Receiver) linked(sub *Subscription) bool {
	if sub.node.up != nil {
		return true
	}
	for i := range r.subs {
		if r.subs[i].root == &sub.node {
			return true
		}
	}
	return false
}

func (r *Receiver) acceptFrame(sub *Subscription, frame *frameModel, out *Transfer) bool {
	now := frame.timestamp
	key := frame.sessionKey()
	slot := r.table.find(key)
	if slot != nil && slot.acc.deadline < now {
		r.table.release(slot)
		r.stats.Expired++
		slot = nil
	}

	if frame.txStart {
		if slot != nil {
			// A new start pre-empts the unfinished transfer, presumed lost.
			r.abort(slot, "preempted by new transfer")
			r.stats.ProtocolErrors++
		}
		if sub.isDuplicate(frame) {
			r.stats.Duplicates++
			return false
		}
		if frame.txEnd {
			// Single-frame transfer, no session needed.
			if len(frame.payload) > sub.extent+paddingAllowance(frame) {
				r.stats.Overflows++
				r.dropFrame("port", frame.Port, "single frame exceeds extent")
				return false
			}
			r.emit(sub, frame, frame.timestamp, frame.payload, out)
			return true
		}
		var evicted bool
		slot, evicted = r.table.acquire(key, sub, sub.extent+paddingAllowance(frame)+crcSize)
		if evicted {
			r.stats.Evictions++
			r.log.WithField("port", frame.Port).Debug("session table full, evicted oldest deadline")
		}
		slot.acc.tid = frame.TID
		slot.acc.toggle = !frame.toggle
		slot.acc.timestamp = now
		slot.acc.deadline = deadlineAfter(now, sub.timeout)
		if !slot.acc.write(frame.payload) {
			r.abort(slot, "payload exceeds extent")
			r.stats.Overflows++
		}
		return false
	}

	if slot == nil {
		// Continuation of a transfer whose start we never saw.
		r.stats.ProtocolErrors++
		return false
	}
	acc := &slot.acc
	switch {
	case frame.toggle != acc.toggle:
		r.abort(slot, "toggle mismatch")
		r.stats.ProtocolErrors++
		return false
	case TIDDistance(acc.tid, frame.TID) != 0:
		r.abort(slot, "transfer id mismatch")
		r.stats.ProtocolErrors++
		return false
	case !acc.write(frame.payload):
		r.abort(slot, "payload exceeds extent")
		r.stats.Overflows++
		return false
	}
	acc.toggle = !acc.toggle
	if !frame.txEnd {
		return false
	}
	if len(acc.buf) < crcSize || acc.crc != 0 {
		r.abort(slot, "crc mismatch")
		r.stats.CRCErrors++
		return false
	}
	r.emit(sub, frame, acc.timestamp, acc.buf[:len(acc.buf)-crcSize], out)
	r.table.release(slot)
	return true
}

func (r *Receiver) emit(sub *Subscription, frame *frameModel, ts Microsecond, payload []byte, out *Transfer) {
	out.Metadata = frame.Metadata
	out.Timestamp = ts
	out.Payload = append(out.Payload[:0], payload...)
	sub.remember(frame)
	r.stats.Transfers++
}

func (r *Receiver) abort(slot *rxSlot, reason string) {
	r.log.WithFields(logrus.Fields{
		"port":   slot.acc.key.port,
		"source": slot.acc.key.src,
		"tid":    slot.acc.tid,
		"reason": reason,
	}).Debug("session aborted")
	r.table.release(slot)
}

func (r *Receiver) dropFrame(key string, value any, reason string) {
	r.log.WithFields(logrus.Fields{key: value, "reason": reason}).Debug("frame dropped")
}

// isDuplicate reports whether frame starts a transfer already received from
// the same source within the subscription's transfer-ID timeout.
func (s *Subscription) isDuplicate(frame *frameModel) bool {
	src, ok := frame.Source.Get()
	if !ok {
		return false
	}
	rec := &s.history[src]
	if !rec.valid || frame.timestamp < rec.at || frame.timestamp-rec.at > s.timeout {
		return false
	}
	return TIDDistance(rec.tid, frame.TID) == 0
}

func (s *Subscription) remember(frame *frameModel) {
	src, ok := frame.Source.Get()
	if !ok {
		return
	}
	s.history[src] = tidRecord{at: frame.timestamp, tid: frame.TID, valid: true}
}

// sessionCeiling is the largest buffer a session may need for a transfer of
// extent bytes: the payload, the CAN FD padding of its last frame and the CRC.
func sessionCeiling(extent int) int { return extent + fdPaddingMax + crcSize }

// paddingAllowance returns how many padding bytes beyond the extent a
// transfer started by frame may carry. Only CAN FD frames are padded.
func paddingAllowance(frame *frameModel) int {
	if len(frame.payload)+1 > MTU_CAN_CLASSIC {
		return fdPaddingMax
	}
	return 0
}

// deadlineAfter returns now+timeout, saturating instead of wrapping around.
func deadlineAfter(now, timeout Microsecond) Microsecond {
	if d := now + timeout; d >= now {
		return d
	}
	return math.MaxUint64
}

func predicateOnPortID(sought PortID) func(*Subscription) int8 {
	return func(s *Subscription) int8 {
		if sought == s.port {
			return 0
		}
		return bsign(sought > s.port)
	}
}
