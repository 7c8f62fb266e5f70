package tcpseg

import (
	"testing"

	"tcpipstack/bytestream"
	"tcpipstack/wrap32"
)

func TestReceiverHandshakeAndAck(t *testing.T) {
	out := bytestream.New(1000)
	r := NewReceiver(out)

	isn := wrap32.Wrap32{}
	r.Receive(SenderMessage{Seqno: isn, SYN: true, Payload: []byte("hi")})

	msg := r.Send()
	if msg.Ackno == nil {
		t.Fatalf("expected ackno after SYN")
	}
	want := wrap32.Wrap(3, isn) // 1 (SYN) + 2 bytes of payload
	if !msg.Ackno.Equal(want) {
		t.Fatalf("ackno = %v, want %v", msg.Ackno, want)
	}
}

func TestReceiverIgnoresDataBeforeSYN(t *testing.T) {
	out := bytestream.New(1000)
	r := NewReceiver(out)
	r.Receive(SenderMessage{Payload: []byte("nope")})
	if r.Send().Ackno != nil {
		t.Fatalf("expected no ackno before SYN observed")
	}
}

func TestReceiverRSTPoisonsWithoutFIN(t *testing.T) {
	out := bytestream.New(1000)
	r := NewReceiver(out)
	isn := wrap32.Wrap32{}
	r.Receive(SenderMessage{Seqno: isn, SYN: true})
	r.Receive(SenderMessage{RST: true})
	if !out.HasError() {
		t.Fatalf("expected output stream poisoned after RST")
	}
	if out.IsClosed() {
		t.Fatalf("RST should not close the stream via FIN delivery")
	}
}

func TestReceiverWindowSize(t *testing.T) {
	out := bytestream.New(10)
	r := NewReceiver(out)
	isn := wrap32.Wrap32{}
	r.Receive(SenderMessage{Seqno: isn, SYN: true, Payload: []byte("abc")})
	if got := r.Send().WindowSize; got != 7 {
		t.Fatalf("WindowSize = %d, want 7", got)
	}
}
