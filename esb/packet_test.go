package esb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/tve/hmdtu/crc"
)

const (
	dtuSer = "100000000000"
	invSer = "114100000001"
)

func TestComposeCommand(t *testing.T) {
	at := time.Unix(0x60000000, 0)
	p := ComposeCommand(0x0b, 0, at)
	if len(p) != 16 {
		t.Fatalf("payload length %d expected 16", len(p))
	}
	want := []byte{0x0b, 0x00, 0x60, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	if !bytes.Equal(p[:14], want) {
		t.Fatalf("payload %x expected prefix %x", p, want)
	}
	if got := binary.BigEndian.Uint16(p[14:]); got != crc.Crc16Modbus(p[:14]) {
		t.Fatalf("crc %#04x expected %#04x", got, crc.Crc16Modbus(p[:14]))
	}
}

func TestComposeCommandAlarmID(t *testing.T) {
	p := ComposeCommand(0x11, 3, time.Unix(0x60000000, 0))
	if got := binary.BigEndian.Uint16(p[8:10]); got != 3 {
		t.Fatalf("alarm id %d expected 3", got)
	}
}

// build a fragment as the inverter would: its own HM address in the first address field
func inverterFragment(t *testing.T, seq byte, data []byte) *Fragment {
	t.Helper()
	raw, err := ComposeFragment(data, seq, dtuSer, invSer)
	if err != nil {
		t.Fatal(err)
	}
	f, err := ParseFragment(raw, 3, 75, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return f
}

// appendCrc16 completes an application payload
func appendCrc16(p []byte) []byte {
	return binary.BigEndian.AppendUint16(p, crc.Crc16Modbus(p))
}

func TestReassembleSingleTerminal(t *testing.T) {
	payload := appendCrc16([]byte{1, 2, 3, 4, 5})
	frags := []*Fragment{inverterFragment(t, 0x81, payload)}
	got, err := Reassemble(frags, 0x00000001)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload %x expected %x", got, payload)
	}
}

func TestReassembleOutOfOrder(t *testing.T) {
	payload := appendCrc16(bytes.Repeat([]byte{0x42}, 40))
	frags := []*Fragment{
		inverterFragment(t, 0x83, payload[32:]),
		inverterFragment(t, 0x02, payload[16:32]),
		inverterFragment(t, 0x01, payload[:16]),
	}
	got, err := Reassemble(frags, 0x00000001)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload %x expected %x", got, payload)
	}
}

func TestReassembleIgnoresOtherSources(t *testing.T) {
	payload := appendCrc16([]byte{9, 9, 9})
	other, err := ComposeFragment([]byte{0xff, 0xee}, 0x81, dtuSer, "114100000099")
	if err != nil {
		t.Fatal(err)
	}
	fOther, err := ParseFragment(other, 0, 0, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	frags := []*Fragment{fOther, inverterFragment(t, 0x81, payload)}
	got, err := Reassemble(frags, 0x00000001)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload %x expected %x", got, payload)
	}
}

func TestReassembleMissingFragment(t *testing.T) {
	payload := appendCrc16(bytes.Repeat([]byte{0x11}, 40))
	frags := []*Fragment{
		inverterFragment(t, 0x01, payload[:16]),
		inverterFragment(t, 0x83, payload[32:]),
	}
	_, err := Reassemble(frags, 0x00000001)
	var miss *MissingFragmentError
	if !errors.As(err, &miss) || miss.Frame != 2 {
		t.Fatalf("got %v expected MissingFragmentError{2}", err)
	}
}

func TestReassembleMissingTerminal(t *testing.T) {
	frags := []*Fragment{
		inverterFragment(t, 0x01, bytes.Repeat([]byte{0x11}, 16)),
		inverterFragment(t, 0x02, bytes.Repeat([]byte{0x22}, 16)),
	}
	_, err := Reassemble(frags, 0x00000001)
	var miss *MissingTerminalError
	if !errors.As(err, &miss) || miss.Next != 3 {
		t.Fatalf("got %v expected MissingTerminalError{3}", err)
	}

	_, err = Reassemble(nil, 0x00000001)
	if !errors.As(err, &miss) || miss.Next != 1 {
		t.Fatalf("empty: got %v expected MissingTerminalError{1}", err)
	}
}

func TestReassembleCrcMismatch(t *testing.T) {
	payload := appendCrc16([]byte{1, 2, 3})
	for i := 0; i < (len(payload)-2)*8; i++ {
		mut := append([]byte{}, payload...)
		mut[i/8] ^= 1 << (i % 8)
		frags := []*Fragment{inverterFragment(t, 0x81, mut)}
		if _, err := Reassemble(frags, 0x00000001); !errors.Is(err, ErrCrcMismatch) {
			t.Fatalf("flip bit %d: got %v expected ErrCrcMismatch", i, err)
		}
	}
}

func TestChunkRoundtrip(t *testing.T) {
	for _, l := range []int{0, 1, 16, 17, 18, 34, 35, 60} {
		payload := make([]byte, l)
		for i := range payload {
			payload[i] = byte(i)
		}
		frames, err := Chunk(payload, 0x80, dtuSer, invSer, MTU)
		if err != nil {
			t.Fatalf("len %d: %v", l, err)
		}
		wantFrames := (l + MTU - 1) / MTU
		if wantFrames == 0 {
			wantFrames = 1
		}
		if len(frames) != wantFrames {
			t.Fatalf("len %d: %d frames expected %d", l, len(frames), wantFrames)
		}
		var joined []byte
		for _, raw := range frames {
			f, err := ParseFragment(raw, 0, 0, time.Time{})
			if err != nil {
				t.Fatalf("len %d: %v", l, err)
			}
			joined = append(joined, f.Data...)
		}
		if !bytes.Equal(joined, payload) {
			t.Fatalf("len %d: joined %x expected %x", l, joined, payload)
		}
	}
}

func TestRetransmitRequest(t *testing.T) {
	raw, err := RetransmitRequest(2, dtuSer, invSer)
	if err != nil {
		t.Fatal(err)
	}
	f, err := ParseFragment(raw, 0, 0, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if f.Seq != 0x82 || len(f.Data) != 0 {
		t.Fatalf("seq %#02x data %x expected empty 0x82", f.Seq, f.Data)
	}
	if _, err := RetransmitRequest(0, dtuSer, invSer); err == nil {
		t.Fatal("frame id 0 accepted")
	}
	if _, err := RetransmitRequest(128, dtuSer, invSer); err == nil {
		t.Fatal("frame id 128 accepted")
	}
}
