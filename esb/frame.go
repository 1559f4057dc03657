package esb

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/tve/hmdtu/crc"
)

// Fragment is one received ESB frame after CRC-8 validation.
type Fragment struct {
	MID       byte   // transaction marker, 0x15 for inverter traffic
	Src       uint32 // sender HM address
	Dst       uint32 // receiver HM address
	Seq       byte   // sequence byte, top bit marks the terminal fragment
	Data      []byte // payload chunk without framing
	RxChannel byte   // channel the frame was received on
	TxChannel byte   // channel the request went out on
	At        time.Time
}

// Terminal reports whether this is the terminal fragment of a message.
func (f *Fragment) Terminal() bool { return f.Seq > 0x80 }

func (f *Fragment) String() string {
	return fmt.Sprintf("seq %#02x from %08x, %d bytes on channel %d", f.Seq, f.Src,
		len(f.Data), f.RxChannel)
}

// ComposeFragment builds one ESB frame carrying chunk, addressed src->dst. chunk may be
// empty (retransmit requests are empty fragments with the top seq bit set).
func ComposeFragment(chunk []byte, seq byte, srcSerial, dstSerial string) ([]byte, error) {
	if len(chunk) > MTU {
		return nil, fmt.Errorf("%w: %d bytes", ErrMTUExceeded, len(chunk))
	}
	dst, err := SerialToHMAddr(dstSerial)
	if err != nil {
		return nil, err
	}
	src, err := SerialToHMAddr(srcSerial)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, minFrame+len(chunk))
	frame = append(frame, 0x15)
	frame = append(frame, dst[:]...)
	frame = append(frame, src[:]...)
	frame = append(frame, seq)
	frame = append(frame, chunk...)
	frame = append(frame, crc.Crc8(frame))
	return frame, nil
}

// ParseFragment validates the CRC-8 of a raw frame and picks it apart.
func ParseFragment(raw []byte, rxChannel, txChannel byte, at time.Time) (*Fragment, error) {
	if len(raw) < minFrame {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameCorrupt, len(raw))
	}
	if crc.Crc8(raw[:len(raw)-1]) != raw[len(raw)-1] {
		return nil, ErrFrameCorrupt
	}
	data := make([]byte, len(raw)-minFrame)
	copy(data, raw[10:len(raw)-1])
	return &Fragment{
		MID:       raw[0],
		Src:       binary.BigEndian.Uint32(raw[1:5]),
		Dst:       binary.BigEndian.Uint32(raw[5:9]),
		Seq:       raw[9],
		Data:      data,
		RxChannel: rxChannel,
		TxChannel: txChannel,
		At:        at,
	}, nil
}
