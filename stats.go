package canard

// RxStats counts what a Receiver did with the frames it was fed.
// Bus noise is never reported as an error, it only shows up here.
type RxStats struct {
	Frames    uint64 // Frames passed to Accept.
	Transfers uint64 // Transfers emitted.
	// Frames with a bad identifier or tail byte.
	Malformed uint64
	// Frames for ports nobody subscribed to or addressed to another node.
	Ignored uint64
	// Multi-frame transfers that failed the CRC check.
	CRCErrors uint64
	// Sessions aborted by toggle or transfer ID mismatches, or frames
	// continuing a transfer whose start was never seen.
	ProtocolErrors uint64
	// Sessions aborted because the payload outgrew the subscription extent.
	Overflows uint64
	// Sessions evicted to make room for a new one.
	Evictions uint64
	// Sessions dropped after their deadline passed.
	Expired uint64
	// Retransmitted transfers that were already received.
	Duplicates uint64
}

// TxStats counts transfers handed to a Transmitter.
type TxStats struct {
	// Transfers successfully placed into a queue.
	Transfers uint64
	// Transfers rejected, e.g. because the queue was full.
	Errors uint64
}
