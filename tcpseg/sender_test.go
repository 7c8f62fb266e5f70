package tcpseg

import (
	"testing"

	"tcpipstack/bytestream"
	"tcpipstack/wrap32"
)

func TestSenderHandshakeAndAck(t *testing.T) {
	in := bytestream.New(1000)
	s := NewSender(in, wrap32.Wrap32{}, 1000)

	var sent []SenderMessage
	s.Push(func(m SenderMessage) { sent = append(sent, m) })
	if len(sent) != 1 || !sent[0].SYN || len(sent[0].Payload) != 0 {
		t.Fatalf("first push should emit bare SYN, got %+v", sent)
	}

	ackno := wrap32.Wrap(1, wrap32.Wrap32{})
	s.Receive(ReceiverMessage{Ackno: &ackno, WindowSize: 4})
	if s.ConsecutiveRetransmissions() != 0 {
		t.Fatalf("consec retx after ack = %d, want 0", s.ConsecutiveRetransmissions())
	}
	if s.SequenceNumbersInFlight() != 0 {
		t.Fatalf("in flight after full ack = %d, want 0", s.SequenceNumbersInFlight())
	}

	in.Push([]byte("hi"))
	sent = nil
	s.Push(func(m SenderMessage) { sent = append(sent, m) })
	if len(sent) != 1 || sent[0].SYN || string(sent[0].Payload) != "hi" {
		t.Fatalf("second push should emit data-only segment, got %+v", sent)
	}
}

func TestSenderRetransmissionBackoff(t *testing.T) {
	in := bytestream.New(1000)
	s := NewSender(in, wrap32.Wrap32{}, 1000)

	retx := 0
	s.Push(func(SenderMessage) {})

	s.Tick(999, func(SenderMessage) { retx++ })
	if retx != 0 {
		t.Fatalf("expected no retransmit before RTO elapses")
	}

	s.Tick(1, func(SenderMessage) { retx++ })
	if retx != 1 || s.ConsecutiveRetransmissions() != 1 {
		t.Fatalf("expected one retransmit, consec=1, got retx=%d consec=%d", retx, s.ConsecutiveRetransmissions())
	}

	s.Tick(2000, func(SenderMessage) { retx++ })
	if retx != 2 || s.ConsecutiveRetransmissions() != 2 {
		t.Fatalf("expected second retransmit, consec=2, got retx=%d consec=%d", retx, s.ConsecutiveRetransmissions())
	}

	ackno := wrap32.Wrap(1, wrap32.Wrap32{})
	s.Receive(ReceiverMessage{Ackno: &ackno, WindowSize: 4})
	if s.ConsecutiveRetransmissions() != 0 {
		t.Fatalf("ack should reset consecutive retransmissions")
	}
}

func TestSenderInFlightNeverExceedsWindow(t *testing.T) {
	in := bytestream.New(1000)
	s := NewSender(in, wrap32.Wrap32{}, 1000)
	s.Push(func(SenderMessage) {})
	ackno := wrap32.Wrap(1, wrap32.Wrap32{})
	s.Receive(ReceiverMessage{Ackno: &ackno, WindowSize: 3})

	in.Push([]byte("abcdefgh"))
	s.Push(func(SenderMessage) {})
	if s.SequenceNumbersInFlight() > 3 {
		t.Fatalf("in flight %d exceeds window 3", s.SequenceNumbersInFlight())
	}
}

func TestMalformedAckIgnored(t *testing.T) {
	in := bytestream.New(1000)
	s := NewSender(in, wrap32.Wrap32{}, 1000)
	s.Push(func(SenderMessage) {})
	before := s.SequenceNumbersInFlight()

	bogus := wrap32.Wrap(1000, wrap32.Wrap32{})
	s.Receive(ReceiverMessage{Ackno: &bogus, WindowSize: 4})
	if s.SequenceNumbersInFlight() != before {
		t.Fatalf("malformed ack should not change outstanding segments")
	}
}
