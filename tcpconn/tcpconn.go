// Package tcpconn wraps a tcpseg.Sender/tcpseg.Receiver pair in a
// socket-style API: Listen, Accept, Connect, Read, Write, Close, and a
// ListSockets table. It plays the role of the teacher's TCPConn,
// TCPListener, and TCPStack (pkg/socket.go, pkg/tcp_repl.go), rebuilt
// so that each connection's own mutex guards its sender/receiver
// instead of the teacher's unsynchronized goroutines racing on the
// same buffers. The core per-connection state machine (tcpseg) stays
// single-threaded-cooperative exactly as spec.md §5 describes; the
// lock here only serializes concurrent Read/Write/deliver calls from
// the host before they reach that single-threaded core.
package tcpconn

import (
	"math/rand"
	"net/netip"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"tcpipstack/bytestream"
	"tcpipstack/tcpseg"
	"tcpipstack/wrap32"
)

const streamCapacity = 64 * 1024

// FourTuple identifies a connection the way the teacher's
// ConnectionsTable key did.
type FourTuple struct {
	LocalAddr  netip.Addr
	LocalPort  uint16
	RemoteAddr netip.Addr
	RemotePort uint16
}

// State names mirror the teacher's plain-string tcpConn.State field.
const (
	StateSynSent     = "SYN_SENT"
	StateSynRcvd     = "SYN_RCVD"
	StateEstablished = "ESTABLISHED"
	StateFinWait     = "FIN_WAIT"
	StateClosed      = "CLOSED"
	StateListen      = "LISTEN"
)

// TransmitFunc hands a ready SenderMessage, piggybacked with this
// connection's current ack/window report, to the IP layer for this
// connection's four-tuple (the wire package turns it into bytes).
type TransmitFunc func(FourTuple, tcpseg.SenderMessage, tcpseg.ReceiverMessage)

// Conn is one TCP connection: a Sender writing the local application's
// bytes out, a Receiver assembling the peer's bytes for the local
// application to read, and a mutex serializing host calls into them.
type Conn struct {
	ID    uint32
	Tuple FourTuple

	mu       sync.Mutex
	cond     *sync.Cond
	sender   *tcpseg.Sender
	receiver *tcpseg.Receiver
	state    string
	transmit TransmitFunc
}

func newConn(id uint32, tuple FourTuple, isn wrap32.Wrap32, initialRTOms uint64, transmit TransmitFunc) *Conn {
	c := &Conn{
		ID:       id,
		Tuple:    tuple,
		sender:   tcpseg.NewSender(bytestream.New(streamCapacity), isn, initialRTOms),
		receiver: tcpseg.NewReceiver(bytestream.New(streamCapacity)),
		transmit: transmit,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// State returns the connection's current state label, for ListSockets.
func (c *Conn) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// pushLocked drains the sender into zero or more outbound messages,
// called with c.mu held. It does not call c.transmit itself: the
// actual send happens after the caller releases the lock, so a
// transmit that loops synchronously back into this same connection
// (as an in-process test harness wiring two Stacks together directly
// does) cannot re-enter c.mu from the same goroutine.
func (c *Conn) pushLocked() []tcpseg.SenderMessage {
	var out []tcpseg.SenderMessage
	c.sender.Push(func(msg tcpseg.SenderMessage) { out = append(out, msg) })
	return out
}

func (c *Conn) sendAll(msgs []tcpseg.SenderMessage, ack tcpseg.ReceiverMessage) {
	for _, msg := range msgs {
		c.transmit(c.Tuple, msg, ack)
	}
}

// Write appends b to the connection's outbound byte stream and pushes
// as many segments as the current window allows. Per bytestream's
// fixed-capacity contract, the part of b beyond the stream's
// available capacity is silently dropped; the returned count reflects
// only what was actually buffered.
func (c *Conn) Write(b []byte) (int, error) {
	c.mu.Lock()
	in := c.sender.Input()
	if in.IsClosed() {
		c.mu.Unlock()
		return 0, errors.New("tcpconn: write on closed connection")
	}
	before := in.BytesPushed()
	in.Push(b)
	n := int(in.BytesPushed() - before)
	msgs := c.pushLocked()
	ack := c.receiver.Send()
	c.cond.Broadcast()
	c.mu.Unlock()

	c.sendAll(msgs, ack)
	return n, nil
}

// Read copies bytes the peer has sent into b, blocking until at least
// one byte is available or the stream is finished or errored.
func (c *Conn) Read(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.receiver.Output()
	for out.BytesBuffered() == 0 && !out.IsFinished() && !out.HasError() {
		c.cond.Wait()
	}
	if out.BytesBuffered() == 0 {
		if out.HasError() {
			return 0, errors.New("tcpconn: connection reset")
		}
		return 0, nil // EOF-equivalent: stream finished with nothing left
	}
	chunk := out.Peek()
	n := copy(b, chunk)
	out.Pop(uint64(n))
	return n, nil
}

// Close signals end-of-stream to the peer: closes the sender's input
// so the final Push emits a FIN once all buffered data has drained.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.sender.Input().Close()
	msgs := c.pushLocked()
	ack := c.receiver.Send()
	c.state = StateFinWait
	c.mu.Unlock()

	c.sendAll(msgs, ack)
	return nil
}

// deliverSegment feeds an incoming segment from the peer, and the
// ack/window it piggybacks, into this connection's Receiver and Sender
// respectively, then wakes any blocked Read. When the segment occupies
// sequence space and the Sender has nothing to emit, a bare ack built by
// Sender.MakeEmptyMessage is sent instead.
func (c *Conn) deliverSegment(msg tcpseg.SenderMessage, peerAck tcpseg.ReceiverMessage) {
	c.mu.Lock()
	c.receiver.Receive(msg)
	c.sender.Receive(peerAck)
	msgs := c.pushLocked()
	if len(msgs) == 0 && msg.SequenceLength() > 0 {
		msgs = append(msgs, c.sender.MakeEmptyMessage())
	}
	ack := c.receiver.Send()
	if c.receiver.Output().IsFinished() || c.receiver.Output().HasError() {
		c.state = StateClosed
	} else if c.state == StateSynRcvd || c.state == StateSynSent {
		c.state = StateEstablished
	}
	c.cond.Broadcast()
	c.mu.Unlock()

	c.sendAll(msgs, ack)
}

// tick advances both halves' virtual clocks, retransmitting if the
// sender's RTO has elapsed.
func (c *Conn) tick(msSinceLastTick uint64) {
	c.mu.Lock()
	var msgs []tcpseg.SenderMessage
	c.sender.Tick(msSinceLastTick, func(msg tcpseg.SenderMessage) { msgs = append(msgs, msg) })
	ack := c.receiver.Send()
	c.mu.Unlock()

	c.sendAll(msgs, ack)
}

// Listener accepts inbound connections for one local port, the same
// role the teacher's TCPListener/ConnCreated channel played.
type Listener struct {
	ID    uint32
	Port  uint16
	conns chan *Conn
}

// Accept blocks until a peer's SYN completes a new connection on this
// listener's port.
func (l *Listener) Accept() (*Conn, error) {
	c, ok := <-l.conns
	if !ok {
		return nil, errors.New("tcpconn: listener closed")
	}
	return c, nil
}

// Stack owns every connection and listener on one node, keyed the way
// the teacher's TCPStack.ConnectionsTable/ListenTable/SocketIDToConn
// were, and is the single place new inbound segments are dispatched.
type Stack struct {
	mu        sync.Mutex
	localAddr netip.Addr

	conns      map[FourTuple]*Conn
	listeners  map[uint16]*Listener
	socketIDs  map[uint32]FourTuple
	nextID     uint32
	initialRTO uint64
	transmit   TransmitFunc
}

// New constructs a Stack for the node at localAddr, using transmit to
// hand outbound segments to the IP layer.
func New(localAddr netip.Addr, initialRTOms uint64, transmit TransmitFunc) *Stack {
	return &Stack{
		localAddr:  localAddr,
		conns:      make(map[FourTuple]*Conn),
		listeners:  make(map[uint16]*Listener),
		socketIDs:  make(map[uint32]FourTuple),
		initialRTO: initialRTOms,
		transmit:   transmit,
	}
}

// Listen opens a passive listener on port, the "a <port>" REPL command.
func (s *Stack) Listen(port uint16) (*Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.listeners[port]; exists {
		return nil, errors.Errorf("tcpconn: port %d already listening", port)
	}
	l := &Listener{ID: s.nextID, Port: port, conns: make(chan *Conn, 16)}
	s.listeners[port] = l
	s.socketIDs[s.nextID] = FourTuple{LocalPort: port}
	s.nextID++
	return l, nil
}

// Connect opens an active connection to remoteAddr:remotePort, the
// "c <ip> <port>" REPL command.
func (s *Stack) Connect(remoteAddr netip.Addr, remotePort uint16) (*Conn, error) {
	s.mu.Lock()

	localPort := uint16(20000 + rand.Intn(65535-20000))
	tuple := FourTuple{LocalAddr: s.localAddr, LocalPort: localPort, RemoteAddr: remoteAddr, RemotePort: remotePort}
	isn := wrap32.Wrap(uint64(rand.Uint32()), wrap32.Wrap32{})

	c := newConn(s.nextID, tuple, isn, s.initialRTO, s.transmit)
	c.state = StateSynSent
	s.conns[tuple] = c
	s.socketIDs[s.nextID] = tuple
	s.nextID++
	s.mu.Unlock()

	c.mu.Lock()
	msgs := c.pushLocked()
	ack := c.receiver.Send()
	c.mu.Unlock()
	c.sendAll(msgs, ack)

	return c, nil
}

// DeliverSegment routes an incoming TCP segment, plus the ack/window it
// piggybacks, to the matching connection, or — if it's a SYN addressed
// to a listening port — spawns a new passive connection and hands it to
// that listener's Accept.
func (s *Stack) DeliverSegment(from netip.Addr, fromPort uint16, toPort uint16, msg tcpseg.SenderMessage, peerAck tcpseg.ReceiverMessage) {
	s.mu.Lock()
	tuple := FourTuple{LocalAddr: s.localAddr, LocalPort: toPort, RemoteAddr: from, RemotePort: fromPort}
	if c, ok := s.conns[tuple]; ok {
		s.mu.Unlock()
		c.deliverSegment(msg, peerAck)
		return
	}

	if !msg.SYN {
		s.mu.Unlock()
		return
	}
	l, ok := s.listeners[toPort]
	if !ok {
		s.mu.Unlock()
		return
	}

	isn := wrap32.Wrap(uint64(rand.Uint32()), wrap32.Wrap32{})
	c := newConn(s.nextID, tuple, isn, s.initialRTO, s.transmit)
	c.state = StateSynRcvd
	s.conns[tuple] = c
	s.socketIDs[s.nextID] = tuple
	s.nextID++
	s.mu.Unlock()

	c.deliverSegment(msg, peerAck)
	l.conns <- c
}

// Tick advances every connection's virtual clock by msSinceLastTick.
func (s *Stack) Tick(msSinceLastTick uint64) {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.tick(msSinceLastTick)
	}
}

// SocketInfo is one row of ListSockets, matching the teacher's
// "SID LAddr LPort RAddr RPort Status" table.
type SocketInfo struct {
	ID     uint32
	Tuple  FourTuple
	Status string
}

// ListSockets returns every socket on this node, in ascending ID
// order, for the "ls" REPL command.
func (s *Stack) ListSockets() []SocketInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SocketInfo, 0, len(s.socketIDs))
	for id, tuple := range s.socketIDs {
		status := StateListen
		if c, ok := s.conns[tuple]; ok {
			status = c.State()
		}
		out = append(out, SocketInfo{ID: id, Tuple: tuple, Status: status})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Conn looks up a connection by socket ID, for the "s"/"r"/"cl" REPL
// commands.
func (s *Stack) Conn(socketID uint32) (*Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tuple, ok := s.socketIDs[socketID]
	if !ok {
		return nil, false
	}
	c, ok := s.conns[tuple]
	return c, ok
}
