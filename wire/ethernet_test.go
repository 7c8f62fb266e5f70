package wire

import "testing"

func TestEthernetAddressString(t *testing.T) {
	a := EthernetAddress{0xaa, 0xbb, 0xcc, 0x00, 0x11, 0x22}
	if got, want := a.String(), "aa:bb:cc:00:11:22"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestARPRoundTrip(t *testing.T) {
	m := ARPMessage{
		HardwareType: ARPHardwareEthernet,
		ProtocolType: ARPProtocolIPv4,
		Opcode:       ARPOpRequest,
		SenderMAC:    EthernetAddress{1, 2, 3, 4, 5, 6},
		SenderIP:     0x0a000001,
		TargetMAC:    EthernetAddress{},
		TargetIP:     0x0a000002,
	}
	b := MarshalARP(m)
	got, err := ParseARP(b)
	if err != nil {
		t.Fatalf("ParseARP: %v", err)
	}
	if got != m {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, m)
	}
}

func TestARPParseTruncated(t *testing.T) {
	if _, err := ParseARP([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected parse error on truncated ARP message")
	}
}

func TestEthernetFrameRoundTrip(t *testing.T) {
	f := EthernetFrame{
		Header: EthernetHeader{
			Dst:  EthernetAddress{1, 2, 3, 4, 5, 6},
			Src:  EthernetAddress{6, 5, 4, 3, 2, 1},
			Type: TypeIPv4,
		},
		Payload: []byte("hello"),
	}
	got, err := ParseEthernet(MarshalEthernet(f))
	if err != nil {
		t.Fatalf("ParseEthernet: %v", err)
	}
	if got.Header != f.Header || string(got.Payload) != string(f.Payload) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, f)
	}
}
