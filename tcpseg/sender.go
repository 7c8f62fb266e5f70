package tcpseg

import (
	"tcpipstack/bytestream"
	"tcpipstack/wrap32"
)

// TransmitFunc is the capability a Sender uses to hand a segment to
// the outside world (eventually: serialize, wrap in an IP datagram,
// hand to a NetworkInterface). Modeled as a plain function value per
// spec.md §9's "capability interface" note — a single operation needs
// no interface type.
type TransmitFunc func(SenderMessage)

type outstandingSegment struct {
	msg      SenderMessage
	absFirst uint64
	sentAtMs uint64
}

func (o outstandingSegment) absLast() uint64 { return o.absFirst + o.msg.SequenceLength() }

// Sender is the outbound half of a TCP connection.
type Sender struct {
	input         *bytestream.ByteStream
	isn           wrap32.Wrap32
	initialRTOms  uint64
	nowMs         uint64
	peerWindow    uint64
	windowNonzero bool
	synSent       bool
	finSent       bool
	highestSent   uint64
	outstanding   []outstandingSegment
	rtoMs         uint64
	consecRetx    uint64
	savedTransmit TransmitFunc
}

// NewSender constructs a Sender reading from input, using isn as its
// initial sequence number and initialRTOms as its starting
// retransmission timeout.
func NewSender(input *bytestream.ByteStream, isn wrap32.Wrap32, initialRTOms uint64) *Sender {
	return &Sender{
		input:         input,
		isn:           isn,
		initialRTOms:  initialRTOms,
		peerWindow:    1,
		windowNonzero: true,
		rtoMs:         initialRTOms,
	}
}

// Input returns the Sender's input ByteStream (the application writes
// into this).
func (s *Sender) Input() *bytestream.ByteStream { return s.input }

// SequenceNumbersInFlight sums the sequence length of every outstanding
// (sent but not yet fully acknowledged) segment.
func (s *Sender) SequenceNumbersInFlight() uint64 {
	var sum uint64
	for _, o := range s.outstanding {
		sum += o.msg.SequenceLength()
	}
	return sum
}

// ConsecutiveRetransmissions returns the current back-off streak.
func (s *Sender) ConsecutiveRetransmissions() uint64 { return s.consecRetx }

func (s *Sender) effectiveWindow() uint64 {
	peer := s.peerWindow
	if peer == 0 {
		peer = 1
	}
	inFlight := s.SequenceNumbersInFlight()
	if inFlight >= peer {
		return 0
	}
	return peer - inFlight
}

func (s *Sender) finEmissible(effWindow uint64) bool {
	return s.input.IsClosed() && s.input.BytesBuffered() == 0 && !s.finSent && effWindow >= 1
}

// Push emits zero or more segments, draining as much of the input
// stream as the window allows.
func (s *Sender) Push(transmit TransmitFunc) {
	s.savedTransmit = transmit
	for {
		synBit := !s.synSent
		effWindow := s.effectiveWindow()
		buffered := s.input.BytesBuffered()
		finReady := s.finEmissible(effWindow)

		canEmit := synBit || (buffered > 0 && effWindow >= 1) || finReady
		if !canEmit {
			return
		}

		payloadCap := effWindow
		if synBit && payloadCap > 0 {
			payloadCap--
		} else if synBit {
			payloadCap = 0
		}
		payloadLen := min3(MaxPayloadSize, payloadCap, buffered)
		remaining := payloadCap - payloadLen
		finBit := finReady && remaining >= 1

		bytesPoppedBefore := s.input.BytesPopped()
		payload := drain(s.input, payloadLen)

		absFirst := bytesPoppedBefore
		if !synBit {
			absFirst++
		}

		msg := SenderMessage{
			Seqno:   wrap32.Wrap(absFirst, s.isn),
			SYN:     synBit,
			Payload: payload,
			FIN:     finBit,
			RST:     s.input.HasError(),
		}

		if msg.SequenceLength() == 0 {
			return
		}

		s.synSent = true
		if finBit {
			s.finSent = true
		}

		seg := outstandingSegment{msg: msg, absFirst: absFirst, sentAtMs: s.nowMs}
		s.outstanding = append(s.outstanding, seg)
		if last := seg.absLast(); last > s.highestSent {
			s.highestSent = last
		}
		transmit(msg)
	}
}

// MakeEmptyMessage returns a zero-length segment at the current next
// sequence number, with RST mirroring the input stream's error flag.
// Per spec.md §9's Open Question, SYN is always false here — callers
// should only rely on it once the connection is established.
func (s *Sender) MakeEmptyMessage() SenderMessage {
	next := s.input.BytesPopped()
	if s.synSent {
		next++
	}
	return SenderMessage{
		Seqno: wrap32.Wrap(next, s.isn),
		RST:   s.input.HasError(),
	}
}

// Receive processes a ReceiverMessage from the peer.
func (s *Sender) Receive(msg ReceiverMessage) {
	if msg.RST {
		s.input.Close()
		s.input.SetError()
		s.synSent = false
		s.peerWindow = 0
		return
	}

	s.peerWindow = uint64(msg.WindowSize)
	s.windowNonzero = msg.WindowSize != 0

	if msg.Ackno != nil && s.synSent {
		checkpoint := s.input.BytesPopped()
		if s.synSent {
			checkpoint++
		}
		a := msg.Ackno.Unwrap(s.isn, checkpoint)
		if a > s.highestSent {
			// malformed ack: ignore, window update above still applies
		} else {
			removed := s.removeAcked(a)
			if removed {
				s.rtoMs = s.initialRTOms
				for i := range s.outstanding {
					s.outstanding[i].sentAtMs = s.nowMs
				}
				s.consecRetx = 0
			}
		}
	}

	if s.savedTransmit != nil {
		effWindow := s.effectiveWindow()
		if s.finEmissible(effWindow) {
			s.Push(s.savedTransmit)
		}
	}
}

func (s *Sender) removeAcked(a uint64) bool {
	removed := false
	i := 0
	for i < len(s.outstanding) && s.outstanding[i].absLast() <= a {
		i++
		removed = true
	}
	if i > 0 {
		s.outstanding = s.outstanding[i:]
	}
	return removed
}

// Tick advances the Sender's clock, retransmitting the oldest
// outstanding segment if its RTO has elapsed.
func (s *Sender) Tick(msSinceLastTick uint64, transmit TransmitFunc) {
	s.nowMs += msSinceLastTick
	if len(s.outstanding) == 0 {
		return
	}
	oldest := &s.outstanding[0]
	if s.nowMs-oldest.sentAtMs >= s.rtoMs {
		transmit(oldest.msg)
		oldest.sentAtMs = s.nowMs
		if s.windowNonzero {
			s.consecRetx++
			s.rtoMs *= 2
		}
	}
}

func min3(a, b, c uint64) uint64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

func drain(bs *bytestream.ByteStream, n uint64) []byte {
	if n == 0 {
		return nil
	}
	out := make([]byte, 0, n)
	for uint64(len(out)) < n {
		chunk := bs.Peek()
		if len(chunk) == 0 {
			break
		}
		take := n - uint64(len(out))
		if take > uint64(len(chunk)) {
			take = uint64(len(chunk))
		}
		out = append(out, chunk[:take]...)
		bs.Pop(take)
	}
	return out
}
