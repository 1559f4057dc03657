package esb

import (
	"encoding/binary"
	"strconv"
)

// SerialToHMAddr calculates the 4 bytes the HM devices use in their internal messages to
// address each other: the last 8 digits of the decimal serial reinterpreted as a hex number,
// big-endian.
func SerialToHMAddr(serial string) ([4]byte, error) {
	var addr [4]byte
	if len(serial) < 8 {
		return addr, ErrBadSerial
	}
	v, err := strconv.ParseUint(serial[len(serial)-8:], 16, 32)
	if err != nil {
		return addr, ErrBadSerial
	}
	binary.BigEndian.PutUint32(addr[:], uint32(v))
	return addr, nil
}

// SerialToESBAddr converts a serial into the 5-byte enhanced shockburst address the NRF24
// registers expect. On the air the inverters use the HM address in reverse byte order
// followed by 0x01; the radio shifts register bytes out LSByte first, so the register value
// is that air sequence reversed once more.
func SerialToESBAddr(serial string) ([5]byte, error) {
	var esb [5]byte
	hm, err := SerialToHMAddr(serial)
	if err != nil {
		return esb, err
	}
	air := [5]byte{hm[3], hm[2], hm[1], hm[0], 0x01}
	for i := range air {
		esb[i] = air[4-i]
	}
	return esb, nil
}

// HMAddrUint returns the HM address as a big-endian uint32, the form fragments carry in
// their src/dst fields.
func HMAddrUint(serial string) (uint32, error) {
	hm, err := SerialToHMAddr(serial)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(hm[:]), nil
}
