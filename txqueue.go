package canard

// TxQueue holds frames waiting for the CAN controller, ordered the way the bus
// arbitrates them: lower CAN ID first, FIFO among equal IDs so that frames of
// one transfer leave in order.
type TxQueue struct {
	// The maximum number of frames this queue is allowed to contain. An attempt to push more will fail
	// even if memory is not exhausted. This value can be changed by the user at any moment.
	// The purpose of this limitation is to ensure that a blocked queue does not exhaust the heap memory.
	Cap  int
	tree avlTree[*TxQueueItem]
	seq  uint64
}

// TxQueueItem is a queued frame with its transmission deadline.
type TxQueueItem struct {
	node     avlNode[*TxQueueItem]
	seq      uint64
	Deadline Microsecond
	Frame    Frame
}

// TailByte returns the tail byte of the queued frame.
func (t *TxQueueItem) TailByte() Tail { return t.Frame.Tail() }

// CRC returns the transfer CRC carried by the last frame of a multi-frame
// transfer. It fails for frames that do not hold both CRC bytes.
func (t *TxQueueItem) CRC() (uint16, error) {
	tail := t.TailByte()
	switch {
	case t.Frame.Len < crcSize+1:
		return 0, errInvalidFrame
	case !tail.IsEnd() || tail.IsStart():
		return 0, errInvalidFrame
	}
	n := t.Frame.Len - 1
	return uint16(t.Frame.Data[n-2])<<8 | uint16(t.Frame.Data[n-1]), nil
}

// Len returns the number of queued frames.
func (q *TxQueue) Len() int { return q.tree.len }

// Peek returns the frame that should be transmitted next, or nil.
func (q *TxQueue) Peek() *TxQueueItem {
	n := q.tree.min()
	if n == nil {
		return nil
	}
	return n.value
}

// Pop removes item from the TxQueue and returns the removed item.
// If item is nil then the first item is removed from the Queue and returned.
// It returns nil if the queue is empty.
func (q *TxQueue) Pop(item *TxQueueItem) *TxQueueItem {
	if item == nil {
		item = q.Peek()
		if item == nil {
			return nil
		}
	}
	q.tree.remove(&item.node)
	return item
}

// Purge drops every frame whose deadline is before now and returns how many were dropped.
func (q *TxQueue) Purge(now Microsecond) int {
	var expired []*TxQueueItem
	q.tree.each(func(item *TxQueueItem) bool {
		if item.Deadline < now {
			expired = append(expired, item)
		}
		return true
	})
	for _, item := range expired {
		q.tree.remove(&item.node)
	}
	return len(expired)
}

func (q *TxQueue) push(deadline Microsecond, frame Frame) *TxQueueItem {
	item := &TxQueueItem{
		seq:      q.seq,
		Deadline: deadline,
		Frame:    frame,
	}
	item.node.value = item
	q.seq++
	_, inserted := q.tree.insert(&item.node, func(other *TxQueueItem) int8 {
		return predicateTx(item, other)
	})
	if !inserted {
		panic("bad AVL insert: duplicate sequence number")
	}
	return item
}

// predicateTx orders a before b when its CAN ID wins arbitration or,
// for equal IDs, when it was queued first. It never returns 0.
func predicateTx(a, b *TxQueueItem) int8 {
	if a.Frame.ID != b.Frame.ID {
		return bsign(a.Frame.ID > b.Frame.ID)
	}
	return bsign(a.seq > b.seq)
}
