package canard

// slotState tags what a session table slot currently holds.
type slotState uint8

const (
	// slotIdle: the slot is free, no other field is meaningful.
	slotIdle slotState = iota
	// slotAccumulating: a multi-frame transfer is being reassembled.
	slotAccumulating
)

// rxSlot is one entry of the session table.
type rxSlot struct {
	state slotState
	acc   accumulation
}

// accumulation is the reassembly state of one in-flight multi-frame transfer.
// It is only meaningful while the slot is in slotAccumulating.
type accumulation struct {
	key sessionKey
	sub *Subscription
	tid TID
	// toggle is the toggle bit expected on the next frame.
	toggle    bool
	timestamp Microsecond
	deadline  Microsecond
	// inserted orders sessions by creation for deterministic eviction.
	inserted uint64
	crc      CRC
	// buf is a window of the table arena; cap(buf) is the ceiling.
	buf []byte
}

// sessionTable is a fixed set of slots backed by one arena allocated up front.
// It never grows: when full, the least useful session is evicted.
type sessionTable struct {
	slots    []rxSlot
	arena    []byte
	slotSize int
	seq      uint64
	active   int
}

func newSessionTable(capacity, bufferSize int) sessionTable {
	return sessionTable{
		slots:    make([]rxSlot, capacity),
		arena:    make([]byte, capacity*bufferSize),
		slotSize: bufferSize,
	}
}

func (t *sessionTable) find(key sessionKey) *rxSlot {
	for i := range t.slots {
		s := &t.slots[i]
		if s.state == slotAccumulating && s.acc.key == key {
			return s
		}
	}
	return nil
}

// acquire returns a slot set up to accumulate for key with room for ceiling
// bytes. evicted reports whether an in-progress session had to be dropped.
func (t *sessionTable) acquire(key sessionKey, sub *Subscription, ceiling int) (s *rxSlot, evicted bool) {
	if ceiling > t.slotSize {
		panic("canard: session ceiling exceeds slot size")
	}
	idx := -1
	for i := range t.slots {
		if t.slots[i].state == slotIdle {
			idx = i
			break
		}
	}
	if idx < 0 {
		idx = t.victim()
		t.release(&t.slots[idx])
		evicted = true
	}
	s = &t.slots[idx]
	base := idx * t.slotSize
	s.state = slotAccumulating
	s.acc = accumulation{
		key:      key,
		sub:      sub,
		inserted: t.seq,
		crc:      newCRC(),
		buf:      t.arena[base : base : base+ceiling],
	}
	t.seq++
	t.active++
	return s, evicted
}

// victim picks the session with the earliest deadline, the oldest one on ties.
func (t *sessionTable) victim() int {
	best := -1
	for i := range t.slots {
		s := &t.slots[i]
		if s.state != slotAccumulating {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		b := &t.slots[best].acc
		if s.acc.deadline < b.deadline || (s.acc.deadline == b.deadline && s.acc.inserted < b.inserted) {
			best = i
		}
	}
	if best < 0 {
		panic("canard: no session to evict")
	}
	return best
}

func (t *sessionTable) release(s *rxSlot) {
	if s.state == slotIdle {
		return
	}
	s.state = slotIdle
	s.acc = accumulation{}
	t.active--
}

// releaseFunc frees every active slot for which fn returns true.
func (t *sessionTable) releaseFunc(fn func(*accumulation) bool) (n int) {
	for i := range t.slots {
		s := &t.slots[i]
		if s.state == slotAccumulating && fn(&s.acc) {
			t.release(s)
			n++
		}
	}
	return n
}

// write appends payload to the session buffer. It reports false, leaving the
// buffer untouched, if the payload would exceed the ceiling.
func (a *accumulation) write(payload []byte) bool {
	if len(a.buf)+len(payload) > cap(a.buf) {
		return false
	}
	a.buf = append(a.buf, payload...)
	a.crc = a.crc.Add(payload)
	return true
}
