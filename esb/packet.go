package esb

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/tve/hmdtu/crc"
)

// ComposeCommand builds the application payload for a command request: command byte, the
// request timestamp and an alarm id, padded to the fixed layout the inverters expect, with
// the CRC-16/Modbus appended big-endian. The field offsets follow the DTU firmware's
// sendTimePacket.
func ComposeCommand(cmd byte, alarmID uint16, at time.Time) []byte {
	p := make([]byte, 0, 16)
	p = append(p, cmd, 0x00)
	p = binary.BigEndian.AppendUint32(p, uint32(at.Unix()))
	p = append(p, 0x00, 0x00)
	p = binary.BigEndian.AppendUint16(p, alarmID)
	p = append(p, 0x00, 0x00, 0x00, 0x00)
	p = binary.BigEndian.AppendUint16(p, crc.Crc16Modbus(p))
	return p
}

// Chunk slices payload into MTU sized pieces and wraps each into a fragment, all carrying
// the given seq byte. Requests fit a single fragment, so callers normally transmit only the
// first element.
func Chunk(payload []byte, seq byte, srcSerial, dstSerial string, mtu int) ([][]byte, error) {
	if mtu <= 0 || mtu > MTU {
		mtu = MTU
	}
	var frames [][]byte
	for i := 0; i < len(payload) || i == 0; i += mtu {
		end := i + mtu
		if end > len(payload) {
			end = len(payload)
		}
		f, err := ComposeFragment(payload[i:end], seq, srcSerial, dstSerial)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// RetransmitRequest builds the empty fragment that asks the peer to resend fragment
// frameID. It is addressed DTU->inverter like any other request.
func RetransmitRequest(frameID int, dtuSerial, inverterSerial string) ([]byte, error) {
	if frameID < 1 || frameID > 0x7f {
		return nil, fmt.Errorf("esb: retransmit frame id %d out of range", frameID)
	}
	return ComposeFragment(nil, 0x80|byte(frameID), dtuSerial, inverterSerial)
}

// Reassemble reconstructs the application payload from the fragments received so far,
// considering only those sent by src. The terminal fragment's seq low bits give the total
// fragment count; a gap yields a *MissingFragmentError, an absent terminal a
// *MissingTerminalError (both tell the caller which fragment to ask for). The reassembled
// payload is returned without further interpretation but only after its trailing
// CRC-16/Modbus checks out.
func Reassemble(fragments []*Fragment, src uint32) ([]byte, error) {
	var frames []*Fragment
	for _, f := range fragments {
		if f.Src == src {
			frames = append(frames, f)
		}
	}

	var terminal *Fragment
	for _, f := range frames {
		if f.Terminal() {
			terminal = f
			break
		}
	}
	if terminal == nil {
		last := 0
		for _, f := range frames {
			if int(f.Seq) > last {
				last = int(f.Seq)
			}
		}
		return nil, &MissingTerminalError{Next: last + 1}
	}
	total := int(terminal.Seq & 0x7f)

	payload := make([]byte, 0, total*MTU)
	for id := 1; id < total; id++ {
		found := false
		for _, f := range frames {
			if int(f.Seq) == id {
				payload = append(payload, f.Data...)
				found = true
				break
			}
		}
		if !found {
			return nil, &MissingFragmentError{Frame: id}
		}
	}
	payload = append(payload, terminal.Data...)

	if len(payload) < 2 {
		return nil, ErrShortPayload
	}
	want := binary.BigEndian.Uint16(payload[len(payload)-2:])
	if crc.Crc16Modbus(payload[:len(payload)-2]) != want {
		return nil, ErrCrcMismatch
	}
	return payload, nil
}
