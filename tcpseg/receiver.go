package tcpseg

import (
	"tcpipstack/bytestream"
	"tcpipstack/reassembler"
	"tcpipstack/wrap32"
)

// Receiver is the inbound half of a TCP connection: it feeds incoming
// segments to a Reassembler and reports back an ack/window summary.
type Receiver struct {
	reassembler *reassembler.Reassembler
	isn         wrap32.Wrap32
	hasISN      bool
}

// NewReceiver constructs a Receiver writing into output.
func NewReceiver(output *bytestream.ByteStream) *Receiver {
	return &Receiver{reassembler: reassembler.New(output)}
}

// Output returns the receiver's output ByteStream (the application
// reads from this).
func (r *Receiver) Output() *bytestream.ByteStream { return r.reassembler.Output() }

// Receive processes one inbound segment.
func (r *Receiver) Receive(msg SenderMessage) {
	if msg.RST {
		r.Output().SetError()
		r.hasISN = false
		return
	}

	if !r.hasISN {
		if !msg.SYN {
			return
		}
		r.isn = msg.Seqno
		r.hasISN = true
	}

	checkpoint := r.Output().BytesPushed() + 1
	abs := msg.Seqno.Unwrap(r.isn, checkpoint)
	streamIndex := abs - 1
	if msg.SYN {
		streamIndex++
	}
	r.reassembler.Insert(streamIndex, msg.Payload, msg.FIN)
}

// Send produces this receiver's current ack/window report.
func (r *Receiver) Send() ReceiverMessage {
	out := r.Output()
	window := out.AvailableCapacity()
	if window > 65535 {
		window = 65535
	}

	var ackno *wrap32.Wrap32
	if r.hasISN {
		next := out.BytesPushed() + 1
		if out.IsClosed() {
			next++
		}
		w := wrap32.Wrap(next, r.isn)
		ackno = &w
	}

	return ReceiverMessage{
		Ackno:      ackno,
		WindowSize: uint16(window),
		RST:        out.HasError(),
	}
}
