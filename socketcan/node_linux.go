//go:build linux

package socketcan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/brutella/can"
	"github.com/sirupsen/logrus"
	"github.com/soypat/canard"
)

// NodeConfig configures a Node. Receiver and Transmitter are required.
type NodeConfig struct {
	// Interface is the SocketCAN interface name, e.g. "can0".
	Interface   string
	Receiver    *canard.Receiver
	Transmitter *canard.Transmitter
	// QueueCap bounds the number of frames awaiting transmission.
	QueueCap int
	// MaxFilters is the number of kernel acceptance filters to program.
	// Zero leaves the socket accepting every extended frame.
	MaxFilters int
	// Housekeeping is the period of session expiry and stale frame purging.
	Housekeeping time.Duration
	// TxTimeout is how long a published transfer may wait in the queue.
	TxTimeout canard.Microsecond
	// OnTransfer is called for every received transfer, without the node
	// lock held. The payload is only valid during the call.
	OnTransfer func(*canard.Transfer)
	Logger     logrus.FieldLogger
}

func (c NodeConfig) withDefaults() NodeConfig {
	if c.QueueCap == 0 {
		c.QueueCap = 256
	}
	if c.Housekeeping == 0 {
		c.Housekeeping = 100 * time.Millisecond
	}
	if c.TxTimeout == 0 {
		c.TxTimeout = 1_000_000
	}
	if c.Logger == nil {
		c.Logger = logrus.WithField("component", "canard.socketcan")
	}
	return c
}

func (c NodeConfig) validate() error {
	switch {
	case c.Interface == "":
		return errors.New("socketcan: missing interface name")
	case c.Receiver == nil || c.Transmitter == nil:
		return errors.New("socketcan: receiver and transmitter are required")
	case c.Transmitter.MTU() != classicMTU:
		return fmt.Errorf("socketcan: transmitter MTU %d, only classic CAN is supported", c.Transmitter.MTU())
	case c.QueueCap < 1 || c.MaxFilters < 0 || c.Housekeeping < 0:
		return fmt.Errorf("%w: node config", canard.ErrInvalidArgument)
	}
	return nil
}

// Node pumps frames between a SocketCAN interface and a Receiver and
// Transmitter pair. It serializes all access to them, so its methods are
// safe for concurrent use.
type Node struct {
	cfg   NodeConfig
	log   logrus.FieldLogger
	epoch time.Time

	mu      sync.Mutex
	queue   canard.TxQueue
	conn    *Conn
	bus     *can.Bus
	rx      canard.Transfer
	running bool
}

// NewNode validates cfg and returns a Node ready to Run.
func NewNode(cfg NodeConfig) (*Node, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Node{
		cfg:   cfg,
		log:   cfg.Logger.WithField("interface", cfg.Interface),
		epoch: time.Now(),
		queue: canard.TxQueue{Cap: cfg.QueueCap},
	}, nil
}

// Now returns the node's monotonic clock in microseconds.
func (n *Node) Now() canard.Microsecond {
	return canard.Microsecond(time.Since(n.epoch).Microseconds())
}

// Run opens the interface and pumps frames until ctx is done or the bus fails.
func (n *Node) Run(ctx context.Context) error {
	conn, err := Dial(n.cfg.Interface)
	if err != nil {
		return err
	}
	bus := can.NewBus(can.NewReadWriteCloser(conn))
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		conn.Close()
		return errors.New("socketcan: node already running")
	}
	n.conn, n.bus, n.running = conn, bus, true
	err = n.refilter()
	n.mu.Unlock()
	if err != nil {
		conn.Close()
		return err
	}
	defer func() {
		n.mu.Lock()
		n.conn, n.bus, n.running = nil, nil, false
		n.mu.Unlock()
	}()

	bus.Subscribe(n)
	errc := make(chan error, 1)
	go func() { errc <- bus.ConnectAndPublish() }()
	n.log.Info("node started")

	ticker := time.NewTicker(n.cfg.Housekeeping)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			n.log.Info("node stopping")
			bus.Disconnect()
			<-errc
			return ctx.Err()
		case err := <-errc:
			n.log.WithError(err).Error("bus failed")
			bus.Disconnect()
			return err
		case <-ticker.C:
			n.housekeeping()
		}
	}
}

// Subscribe registers sub with the receiver and reprograms the kernel filters.
func (n *Node) Subscribe(kind canard.TxKind, port canard.PortID, extent int, timeout canard.Microsecond, sub *canard.Subscription) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.cfg.Receiver.Subscribe(kind, port, extent, timeout, sub); err != nil {
		return err
	}
	if err := n.refilter(); err != nil {
		// Leave no subscription the kernel filters do not let through.
		n.cfg.Receiver.Unsubscribe(kind, port)
		return err
	}
	return nil
}

// Unsubscribe drops the subscription on port and reprograms the kernel filters.
func (n *Node) Unsubscribe(kind canard.TxKind, port canard.PortID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.cfg.Receiver.Unsubscribe(kind, port); err != nil {
		return err
	}
	return n.refilter()
}

// Publish queues tr for transmission and flushes the queue if the node is running.
func (n *Node) Publish(tr *canard.Transfer) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.Now()
	if err := n.cfg.Transmitter.Push(&n.queue, now+n.cfg.TxTimeout, tr); err != nil {
		return err
	}
	n.flush(now)
	return nil
}

// Pending returns the number of frames awaiting transmission.
func (n *Node) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.queue.Len()
}

// Handle implements can.Handler.
func (n *Node) Handle(f can.Frame) {
	frame, err := FromCAN(f, n.Now())
	if err != nil {
		return // Foreign traffic.
	}
	n.mu.Lock()
	ok, err := n.cfg.Receiver.Accept(&frame, &n.rx)
	var tr canard.Transfer
	if ok {
		tr = n.rx
		tr.Payload = append([]byte(nil), n.rx.Payload...)
	}
	n.mu.Unlock()
	if err != nil {
		n.log.WithError(err).Warn("accept failed")
		return
	}
	if ok && n.cfg.OnTransfer != nil {
		n.cfg.OnTransfer(&tr)
	}
}

func (n *Node) housekeeping() {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.Now()
	n.cfg.Receiver.Cleanup(now)
	if dropped := n.queue.Purge(now); dropped > 0 {
		n.log.WithField("frames", dropped).Warn("tx deadline missed")
	}
	n.flush(now)
}

// flush writes queued frames to the bus in arbitration order. Must hold n.mu.
func (n *Node) flush(now canard.Microsecond) {
	if n.bus == nil {
		return
	}
	for item := n.queue.Peek(); item != nil; item = n.queue.Peek() {
		if item.Deadline < now {
			n.queue.Pop(item)
			continue
		}
		f, err := ToCAN(&item.Frame)
		if err != nil {
			n.log.WithError(err).WithField("id", item.Frame.ID).Error("frame dropped")
			n.queue.Pop(item)
			continue
		}
		if err := n.bus.Publish(f); err != nil {
			n.log.WithError(err).Debug("bus write failed, retrying later")
			return
		}
		n.queue.Pop(item)
	}
}

// refilter programs the kernel filters for the current subscriptions. Must hold n.mu.
func (n *Node) refilter() error {
	if n.conn == nil {
		return nil
	}
	if n.cfg.MaxFilters == 0 {
		return n.conn.AcceptAll()
	}
	filters, err := n.cfg.Receiver.Filters(nil, n.cfg.MaxFilters)
	if err != nil {
		return err
	}
	n.log.WithField("filters", len(filters)).Debug("acceptance filters updated")
	return n.conn.SetFilters(filters)
}
