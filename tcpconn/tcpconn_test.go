package tcpconn

import (
	"net/netip"
	"testing"

	"tcpipstack/tcpseg"
)

func TestConnectAcceptAndTransfer(t *testing.T) {
	clientAddr := netip.MustParseAddr("10.0.0.1")
	serverAddr := netip.MustParseAddr("10.0.0.2")

	var client, server *Stack
	client = New(clientAddr, 1000, func(tuple FourTuple, msg tcpseg.SenderMessage, ack tcpseg.ReceiverMessage) {
		server.DeliverSegment(clientAddr, tuple.LocalPort, tuple.RemotePort, msg, ack)
	})
	server = New(serverAddr, 1000, func(tuple FourTuple, msg tcpseg.SenderMessage, ack tcpseg.ReceiverMessage) {
		client.DeliverSegment(serverAddr, tuple.LocalPort, tuple.RemotePort, msg, ack)
	})

	listener, err := server.Listen(7)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	accepted := make(chan *Conn, 1)
	go func() {
		c, err := listener.Accept()
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		accepted <- c
	}()

	conn, err := client.Connect(serverAddr, 7)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	serverConn := <-accepted

	if _, err := conn.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 64)
	n, err := serverConn.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("expected to read %q, got %q", "hello", string(buf[:n]))
	}
}

func TestListSocketsReportsListenerAndConnection(t *testing.T) {
	addr := netip.MustParseAddr("10.0.0.1")
	s := New(addr, 1000, func(FourTuple, tcpseg.SenderMessage, tcpseg.ReceiverMessage) {})
	if _, err := s.Listen(9); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	rows := s.ListSockets()
	if len(rows) != 1 || rows[0].Status != StateListen {
		t.Fatalf("expected one listening socket, got %+v", rows)
	}
}

func TestDoubleListenSamePortFails(t *testing.T) {
	addr := netip.MustParseAddr("10.0.0.1")
	s := New(addr, 1000, func(FourTuple, tcpseg.SenderMessage, tcpseg.ReceiverMessage) {})
	if _, err := s.Listen(9); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if _, err := s.Listen(9); err == nil {
		t.Fatalf("expected second Listen on the same port to fail")
	}
}
