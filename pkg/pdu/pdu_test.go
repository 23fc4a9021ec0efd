package pdu

import (
	"bytes"
	"errors"
	"testing"

	"github.com/btmesh-protocol/btmesh-go/pkg/mesh"
)

func TestParseNetworkPDU(t *testing.T) {
	wire := []byte{
		0xe8, // ivi 1, nid 0x68
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06,
		0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x11,
	}
	p, err := ParseNetworkPDU(wire)
	if err != nil {
		t.Fatal(err)
	}
	if p.IVI != 1 || p.NID != 0x68 {
		t.Errorf("ivi/nid = %d/%#02x, want 1/0x68", p.IVI, p.NID)
	}
	if p.Obfuscated != [ObfuscatedHeaderSize]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06} {
		t.Errorf("obfuscated = %x", p.Obfuscated)
	}
	if !bytes.Equal(p.Emit(), wire) {
		t.Errorf("emit = %x, want %x", p.Emit(), wire)
	}

	if _, err := ParseNetworkPDU(wire[:8]); err == nil {
		t.Error("short pdu: expected error")
	}
	if _, err := ParseNetworkPDU(append(wire, make([]byte, 32)...)); err == nil {
		t.Error("oversized pdu: expected error")
	}
}

func TestRelayDecrementsTTL(t *testing.T) {
	p := &CleartextNetworkPDU{TTL: 3, TransportPDU: []byte{0x01}}
	relayed, ok := p.Relay()
	if !ok || relayed.TTL != 2 {
		t.Fatalf("relay = %v ttl %d, want ttl 2", ok, relayed.TTL)
	}
	relayed.TransportPDU[0] = 0xFF
	if p.TransportPDU[0] != 0x01 {
		t.Error("relay aliased the transport payload")
	}

	for _, ttl := range []mesh.TTL{0, 1} {
		p := &CleartextNetworkPDU{TTL: ttl}
		if _, ok := p.Relay(); ok {
			t.Errorf("ttl %d: relay allowed", ttl)
		}
	}
}

func TestLowerPDUClassification(t *testing.T) {
	meta := LowerMetadata{}

	p, err := ParseLowerPDU(mesh.CtlAccess, []byte{0x66, 0x01, 0x02}, meta)
	if err != nil {
		t.Fatal(err)
	}
	ua, ok := p.(*UnsegmentedAccessPDU)
	if !ok {
		t.Fatalf("got %T, want *UnsegmentedAccessPDU", p)
	}
	if !ua.AKF() || ua.AID() != 0x26 {
		t.Errorf("akf/aid = %v/%#02x, want true/0x26", ua.AKF(), ua.AID())
	}
	if !bytes.Equal(ua.UpperPDU(), []byte{0x01, 0x02}) {
		t.Errorf("upper pdu = %x", ua.UpperPDU())
	}

	p, err = ParseLowerPDU(mesh.CtlAccess, []byte{0xE6, 0x00, 0x00, 0x00, 0x01}, meta)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*SegmentedAccessPDU); !ok {
		t.Errorf("got %T, want *SegmentedAccessPDU", p)
	}

	p, err = ParseLowerPDU(mesh.CtlControl, []byte{0x0A, 0x01}, meta)
	if err != nil {
		t.Fatal(err)
	}
	uc, ok := p.(*UnsegmentedControlPDU)
	if !ok {
		t.Fatalf("got %T, want *UnsegmentedControlPDU", p)
	}
	if uc.Opcode() != Heartbeat {
		t.Errorf("opcode = %v, want Heartbeat", uc.Opcode())
	}

	p, err = ParseLowerPDU(mesh.CtlControl, []byte{0x8A, 0x00, 0x00, 0x00, 0x01}, meta)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*SegmentedControlPDU); !ok {
		t.Errorf("got %T, want *SegmentedControlPDU", p)
	}

	if _, err := ParseLowerPDU(mesh.CtlAccess, []byte{0x00}, meta); err == nil {
		t.Error("one-octet lower pdu: expected error")
	}
	if _, err := ParseLowerPDU(mesh.CtlControl, []byte{0x7F, 0x00}, meta); err == nil {
		t.Error("unknown control opcode: expected error")
	}
}

func TestLowerParsersRejectEmptyInput(t *testing.T) {
	meta := LowerMetadata{}
	if _, err := ParseUnsegmentedAccess(nil, meta); !errors.Is(err, mesh.ErrInvalidLength) {
		t.Errorf("unsegmented access: err = %v, want ErrInvalidLength", err)
	}
	if _, err := ParseSegmentedAccess(nil, meta); !errors.Is(err, mesh.ErrInvalidLength) {
		t.Errorf("segmented access: err = %v, want ErrInvalidLength", err)
	}
	if _, err := ParseUnsegmentedControl(nil, meta); !errors.Is(err, mesh.ErrInvalidLength) {
		t.Errorf("unsegmented control: err = %v, want ErrInvalidLength", err)
	}
	if _, err := ParseSegmentedControl(nil, meta); !errors.Is(err, mesh.ErrInvalidLength) {
		t.Errorf("segmented control: err = %v, want ErrInvalidLength", err)
	}
}

func TestSegmentedAccessRoundTrip(t *testing.T) {
	seqZero, err := mesh.ParseSeqZero(0x09AB)
	if err != nil {
		t.Fatal(err)
	}
	segment := []byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}
	p, err := NewSegmentedAccess(true, 0x26, mesh.SzMic64, seqZero, 17, 23, segment, LowerMetadata{})
	if err != nil {
		t.Fatal(err)
	}
	wire, err := p.Emit()
	if err != nil {
		t.Fatal(err)
	}
	if wire[0] != 0x80|0x40|0x26 {
		t.Errorf("first octet = %#02x", wire[0])
	}

	parsed, err := ParseSegmentedAccess(wire, LowerMetadata{})
	if err != nil {
		t.Fatal(err)
	}
	if parsed.SzMic() != mesh.SzMic64 {
		t.Error("szmic lost")
	}
	if parsed.SeqZero() != seqZero {
		t.Errorf("seq zero = %#04x, want %#04x", parsed.SeqZero(), seqZero)
	}
	if parsed.SegO() != 17 || parsed.SegN() != 23 {
		t.Errorf("seg o/n = %d/%d, want 17/23", parsed.SegO(), parsed.SegN())
	}
	if !bytes.Equal(parsed.Segment(), segment) {
		t.Errorf("segment = %x", parsed.Segment())
	}
}

func TestSegmentedControlRoundTrip(t *testing.T) {
	seqZero, _ := mesh.ParseSeqZero(0x1FFF)
	p, err := NewSegmentedControl(FriendUpdate, seqZero, 31, 31, []byte{0x01, 0x02}, LowerMetadata{})
	if err != nil {
		t.Fatal(err)
	}
	wire, err := p.Emit()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParseSegmentedControl(wire, LowerMetadata{})
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Opcode() != FriendUpdate || parsed.SeqZero() != seqZero || parsed.SegO() != 31 || parsed.SegN() != 31 {
		t.Errorf("parsed = %v %#04x %d/%d", parsed.Opcode(), parsed.SeqZero(), parsed.SegO(), parsed.SegN())
	}
}

func TestSegmentBounds(t *testing.T) {
	seqZero := mesh.SeqZero(1)
	if _, err := NewSegmentedAccess(false, 0, mesh.SzMic32, seqZero, 32, 32, []byte{0x01}, LowerMetadata{}); err == nil {
		t.Error("seg o 32: expected error")
	}
	if _, err := NewSegmentedAccess(false, 0, mesh.SzMic32, seqZero, 3, 2, []byte{0x01}, LowerMetadata{}); err == nil {
		t.Error("seg o > seg n: expected error")
	}
	if _, err := NewSegmentedAccess(false, 0, mesh.SzMic32, seqZero, 0, 1, make([]byte, 13), LowerMetadata{}); err == nil {
		t.Error("13-byte access segment: expected error")
	}
	if _, err := NewSegmentedControl(FriendPoll, seqZero, 0, 1, make([]byte, 9), LowerMetadata{}); err == nil {
		t.Error("9-byte control segment: expected error")
	}
}

func TestBlockAck(t *testing.T) {
	seqZero := mesh.SeqZero(42)
	ack := NewBlockAck(seqZero)

	if ack.Value() != 0 {
		t.Errorf("initial value = %d", ack.Value())
	}
	for _, seg := range []uint8{1, 4, 1} {
		if err := ack.Ack(seg); err != nil {
			t.Fatal(err)
		}
	}
	if ack.Value() != 18 {
		t.Errorf("value = %d, want 18", ack.Value())
	}
	if acked, _ := ack.IsAcked(1); !acked {
		t.Error("segment 1 not acked")
	}
	if acked, _ := ack.IsAcked(0); acked {
		t.Error("segment 0 acked")
	}
	if err := ack.Ack(32); !errors.Is(err, ErrInvalidBlock) {
		t.Errorf("ack(32): err = %v, want ErrInvalidBlock", err)
	}
	if _, err := ack.IsAcked(99); !errors.Is(err, ErrInvalidBlock) {
		t.Errorf("isAcked(99): err = %v, want ErrInvalidBlock", err)
	}

	if ack.IsFullyAcked(4) {
		t.Error("fully acked with holes")
	}
	for _, seg := range []uint8{0, 2, 3} {
		if err := ack.Ack(seg); err != nil {
			t.Fatal(err)
		}
	}
	if !ack.IsFullyAcked(4) {
		t.Error("not fully acked after 0..4")
	}
	if got := ack.AckedSegments(); len(got) != 5 || got[4] != 4 {
		t.Errorf("acked segments = %v", got)
	}

	emitted := ack.Emit()
	parsed, err := ParseBlockAck(emitted[:])
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Value() != ack.Value() || parsed.SeqZero() != seqZero {
		t.Errorf("round trip = %d/%#04x", parsed.Value(), parsed.SeqZero())
	}

	if _, err := ParseBlockAck([]byte{0x01, 0x02}); err == nil {
		t.Error("short block ack: expected error")
	}
}

func TestUpperAccessSplit(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0xAA, 0xBB, 0xCC, 0xDD}
	p, err := ParseUpperAccess(data, mesh.SzMic32, UpperMetadata{})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(p.Payload(), data[:4]) {
		t.Errorf("payload = %x", p.Payload())
	}
	if !bytes.Equal(p.TransMic().Bytes(), data[4:]) {
		t.Errorf("mic = %x", p.TransMic().Bytes())
	}
	if p.TransMic().SzMic() != mesh.SzMic32 {
		t.Error("szmic mismatch")
	}
	if !bytes.Equal(p.Emit(), data) {
		t.Errorf("emit = %x", p.Emit())
	}

	if _, err := ParseUpperAccess(data[:4], mesh.SzMic32, UpperMetadata{}); err == nil {
		t.Error("payload no longer than mic: expected error")
	}
}

func TestOpcodeSplit(t *testing.T) {
	cases := []struct {
		data   []byte
		length int
		params int
	}{
		{[]byte{0x52, 0x01, 0x02}, 1, 2},
		{[]byte{0x82, 0x31, 0x01}, 2, 1},
		{[]byte{0xC2, 0x31, 0x11}, 3, 0},
	}
	for _, tc := range cases {
		opcode, params, err := SplitOpcode(tc.data)
		if err != nil {
			t.Fatalf("%x: %v", tc.data, err)
		}
		if opcode.Len() != tc.length || len(params) != tc.params {
			t.Errorf("%x: len/params = %d/%d, want %d/%d", tc.data, opcode.Len(), len(params), tc.length, tc.params)
		}
		if !opcode.Matches(tc.data) {
			t.Errorf("%x: opcode does not match its own encoding", tc.data)
		}
	}

	if _, _, err := SplitOpcode(nil); err == nil {
		t.Error("empty payload: expected error")
	}
	if _, _, err := SplitOpcode([]byte{0x82}); err == nil {
		t.Error("truncated two-octet opcode: expected error")
	}
}

func TestAccessMessageRoundTrip(t *testing.T) {
	opcode, err := TwoOctetOpcode(0x80, 0x40)
	if err != nil {
		t.Fatal(err)
	}
	msg := NewAccessMessage(opcode, []byte{0x00, 0x01}, AccessMetadata{})
	parsed, err := ParseAccessMessage(msg.Emit(), AccessMetadata{})
	if err != nil {
		t.Fatal(err)
	}
	if !parsed.Opcode().Matches(opcode.Bytes()) {
		t.Errorf("opcode = %x", parsed.Opcode().Bytes())
	}
	if !bytes.Equal(parsed.Parameters(), []byte{0x00, 0x01}) {
		t.Errorf("parameters = %x", parsed.Parameters())
	}
}

func TestUpperMetadataFromLower(t *testing.T) {
	src, _ := mesh.NewUnicastAddress(0x0003)
	meta := LowerMetadata{
		Src: src,
		Dst: mesh.Address(0x1201),
		TTL: 5,
	}
	p, err := ParseUnsegmentedAccess([]byte{0x66, 0x01}, meta)
	if err != nil {
		t.Fatal(err)
	}
	upper := UpperMetadataFromLower(p)
	if !upper.AKF || upper.AID != 0x26 {
		t.Errorf("akf/aid = %v/%#02x", upper.AKF, upper.AID)
	}
	if upper.Src != src || upper.Dst != mesh.Address(0x1201) {
		t.Errorf("addressing lost: %+v", upper)
	}
}
