// The nrf24 package interfaces with a Nordic NRF24L01(+) 2.4GHz transceiver connected to an
// SPI bus, configured the way Hoymiles micro-inverters expect it: 250kbps, 5-byte enhanced
// shockburst addresses, 2-byte hardware CRC, dynamic payload lengths, and the fixed channel
// hop set {3, 23, 40, 61, 75}.
//
// The driver is polled, not interrupt driven: the inverters answer within a few milliseconds
// of a request, so Transmit programs the chip for PTX with auto-ACK, pulses CE and busy-waits
// on the status flags, while Receive switches to PRX with auto-ACK off and polls the RX FIFO
// for a bounded window, hopping channels until one yields data. That mirrors what the chip's
// timing allows over a ~1MHz SPI link and avoids tying an interrupt pin to the design.
//
// Transmitting advances the TX channel on every call. The RX side freezes on a channel as
// long as it keeps yielding data and resumes hopping after two empty polls. Both hop states
// live in the Radio and persist across calls.
//
// The methods on Radio are not concurrency safe; the DTU owns the radio from a single
// goroutine and the air interface serializes everything anyway.
package nrf24

import (
	"errors"
	"fmt"
	"time"

	"github.com/tve/hmdtu"
)

// ErrTimeout is returned by Receive when the window closed without a single payload.
var ErrTimeout = errors.New("nrf24: receive timeout")

// hopChannels is the channel set Hoymiles inverters listen and answer on.
var hopChannels = [5]byte{3, 23, 40, 61, 75}

const (
	rxPollInterval = 5 * time.Millisecond
	maxPayload     = 32
	addrLen        = 5
	// SETUP_RETR for TX: 1000µs retransmit delay, 15 retries
	txRetrSetup = 3<<4 | 15
)

// RxPacket is one payload pulled from the RX FIFO.
type RxPacket struct {
	Payload   []byte
	RxChannel byte // channel it arrived on
	TxChannel byte // channel the request went out on
	At        time.Time
}

// LogPrintf is a function used by the driver to print logging info.
type LogPrintf func(format string, v ...interface{})

// RadioOpts contains options used when initializing a Radio.
type RadioOpts struct {
	TxPower string    // default PA level: min, low, high, max or "0".."3"
	Logger  LogPrintf // function to use for logging, nil disables
}

// Radio represents an NRF24L01(+) radio.
type Radio struct {
	spi hmdtu.SPI
	ce  hmdtu.GPIO
	// hop state
	txChanIdx int
	rxChanIdx int
	rxChanAck bool // current rx channel yielded data recently
	rxErr     int  // consecutive empty polls on the current rx channel
	// configuration
	txPower string
	log     LogPrintf
}

// New initializes the radio and leaves it powered up in standby-I. The SPI bus is claimed at
// 1Mhz, mode 0. It fails if the chip does not answer the register read-back handshake, which
// is the only way to tell an absent or miswired module from a silent one.
func New(dev hmdtu.SPI, ce hmdtu.GPIO, opts RadioOpts) (*Radio, error) {
	r := &Radio{
		spi:       dev,
		ce:        ce,
		txChanIdx: 2, // first transmit hops to index 3
		txPower:   opts.TxPower,
		log:       func(format string, v ...interface{}) {},
	}
	if opts.Logger != nil {
		r.log = func(format string, v ...interface{}) {
			opts.Logger("nrf24: "+format, v...)
		}
	}
	if r.txPower == "" {
		r.txPower = "max"
	}

	if err := dev.Speed(1 * 1000 * 1000); err != nil {
		return nil, fmt.Errorf("nrf24: cannot set spi speed: %s", err)
	}
	if err := dev.Configure(hmdtu.SPIMode0, 8); err != nil {
		return nil, fmt.Errorf("nrf24: cannot set spi mode: %s", err)
	}
	r.ce.Out(hmdtu.GpioLow)

	// Try to synchronize communication with the chip by writing a channel number and
	// reading it back.
	sync := func(pattern byte) error {
		for n := 10; n > 0; n-- {
			if err := r.writeReg(REG_RF_CH, pattern); err != nil {
				return fmt.Errorf("nrf24: %s", err)
			}
			if r.readReg(REG_RF_CH) == pattern {
				return nil
			}
		}
		return errors.New("nrf24: cannot sync with chip")
	}
	if err := sync(0x4c); err != nil {
		return nil, err
	}
	if err := sync(0x2a); err != nil {
		return nil, err
	}

	// Power up with 2-byte CRC, 5-byte addresses, dynamic payloads enabled.
	r.writeReg(REG_CONFIG, CFG_EN_CRC|CFG_CRCO|CFG_PWR_UP)
	time.Sleep(5 * time.Millisecond) // Tpd2stby
	r.writeReg(REG_SETUP_AW, addrLen-2)
	r.writeReg(REG_FEATURE, FEAT_EN_DPL)
	r.writeReg(REG_DYNPD, 0x3f)
	r.flushTx()
	r.flushRx()
	r.clearStatus()

	r.log("chip ready, config %#02x", r.readReg(REG_CONFIG))
	return r, nil
}

// TxChannel returns the channel the last transmit went out on.
func (r *Radio) TxChannel() byte { return hopChannels[r.txChanIdx] }

// RxChannel returns the channel the receiver is currently tuned to.
func (r *Radio) RxChannel() byte { return hopChannels[r.rxChanIdx] }

// SetLogger sets a logging function, nil may be used to disable logging.
func (r *Radio) SetLogger(l LogPrintf) {
	if l != nil {
		r.log = l
	} else {
		r.log = func(format string, v ...interface{}) {}
	}
}

// Transmit puts the radio into PTX mode and sends one ESB frame to the inverter it is
// addressed to, hopping to the next TX channel first. The inverter address is taken from
// bytes 1..5 of the frame and the DTU address from bytes 5..9; auto-ACK is enabled with 15
// retries at 1000µs spacing. Returns whether the chip saw the ACK, which with these
// inverters is no guarantee of a response but a good sign.
func (r *Radio) Transmit(packet []byte, txpower string) bool {
	if len(packet) < 9 || len(packet) > maxPayload {
		r.log("transmit: bad packet length %d", len(packet))
		return false
	}
	r.txChanIdx = (r.txChanIdx + 1) % len(hopChannels)
	ch := hopChannels[r.txChanIdx]

	if txpower == "" {
		txpower = r.txPower
	}

	r.ce.Out(hmdtu.GpioLow)
	r.writeReg(REG_CONFIG, CFG_EN_CRC|CFG_CRCO|CFG_PWR_UP) // PRIM_RX=0
	r.writeReg(REG_RF_SETUP, RF_DR_LOW|paBits(txpower)|RF_LNA_HCURR)
	r.writeReg(REG_EN_AA, 0x3f)
	r.writeReg(REG_EN_RXADDR, 0x03)
	r.writeReg(REG_SETUP_RETR, txRetrSetup)
	r.writeReg(REG_RF_CH, ch)
	r.writeReg(REG_FEATURE, FEAT_EN_DPL)
	r.writeReg(REG_DYNPD, 0x3f)

	// Write address: the inverter. Pipe 0 gets the same address to receive the ACK,
	// pipe 1 listens on the DTU address.
	inv := append([]byte{0x01}, packet[1:5]...)
	dtu := append([]byte{0x01}, packet[5:9]...)
	r.writeRegBytes(REG_TX_ADDR, inv)
	r.writeRegBytes(REG_RX_ADDR_P0, inv)
	r.writeRegBytes(REG_RX_ADDR_P1, dtu)

	r.flushTx()
	r.clearStatus()
	r.command(CMD_W_TX_PAYLOAD, packet)

	r.log("transmit %d bytes channel %d: % 02x", len(packet), ch, packet)

	// Pulse CE and wait for data-sent or max-retries. 15 retries at 1000µs plus air time
	// is well under 50ms.
	r.ce.Out(hmdtu.GpioHigh)
	var status byte
	for start := time.Now(); time.Since(start) < 100*time.Millisecond; {
		status = r.readStatus()
		if status&(ST_TX_DS|ST_MAX_RT) != 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	r.ce.Out(hmdtu.GpioLow)
	if status&ST_MAX_RT != 0 {
		r.flushTx()
	}
	r.clearStatus()
	return status&ST_TX_DS != 0
}

// Receive puts the radio into PRX mode and collects everything that arrives within the
// timeout window (500ms is the customary value). Each payload that arrives re-arms the
// window, so a multi-fragment response is collected in one call. While nothing arrives the
// receiver hops channels; a channel that yielded data is held onto until it goes quiet.
// Returns ErrTimeout if the window closed without a single payload.
func (r *Radio) Receive(timeout time.Duration) ([]RxPacket, error) {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	txCh := hopChannels[r.txChanIdx]

	r.ce.Out(hmdtu.GpioLow)
	r.writeReg(REG_EN_AA, 0x00)
	r.writeReg(REG_SETUP_RETR, 0x00)
	r.writeReg(REG_FEATURE, FEAT_EN_DPL)
	r.writeReg(REG_DYNPD, 0x3f)
	r.writeReg(REG_CONFIG, CFG_EN_CRC|CFG_CRCO|CFG_PWR_UP|CFG_PRIM_RX)
	r.writeReg(REG_RF_CH, hopChannels[r.rxChanIdx])
	r.ce.Out(hmdtu.GpioHigh)

	var packets []RxPacket
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if r.readReg(REG_FIFO_STATUS)&FIFO_RX_EMPTY == 0 {
			r.rxErr = 0
			r.rxChanAck = true
			deadline = time.Now().Add(timeout)

			width := r.readReg1(CMD_R_RX_PL_WID)
			if width == 0 || width > maxPayload {
				// corrupted length, the datasheet says flush
				r.flushRx()
				continue
			}
			payload := r.readBytes(CMD_R_RX_PAYLOAD, int(width))
			r.writeReg(REG_STATUS, ST_RX_DR)
			packets = append(packets, RxPacket{
				Payload:   payload,
				RxChannel: hopChannels[r.rxChanIdx],
				TxChannel: txCh,
				At:        time.Now(),
			})
			continue
		}

		// No data, search and wait.
		r.rxErr++
		if r.rxErr > 1 {
			r.rxChanAck = false
		}
		if !r.rxChanAck {
			r.rxChanIdx = (r.rxChanIdx + 1) % len(hopChannels)
			r.ce.Out(hmdtu.GpioLow)
			r.writeReg(REG_RF_CH, hopChannels[r.rxChanIdx])
			r.ce.Out(hmdtu.GpioHigh)
		}
		time.Sleep(rxPollInterval)
	}
	r.ce.Out(hmdtu.GpioLow)

	if len(packets) == 0 {
		return nil, ErrTimeout
	}
	return packets, nil
}

// PowerDown puts the chip to sleep; New is required to use it again.
func (r *Radio) PowerDown() {
	r.ce.Out(hmdtu.GpioLow)
	r.writeReg(REG_CONFIG, CFG_EN_CRC|CFG_CRCO)
	r.spi.Close()
}

// paBits maps a configured power level to the RF_SETUP PA bits.
func paBits(txpower string) byte {
	switch txpower {
	case "min", "0":
		return 0x00
	case "low", "1":
		return 0x02
	case "high", "2":
		return 0x04
	default: // max
		return 0x06
	}
}

//

func (r *Radio) writeReg(addr byte, value byte) error {
	var buf [2]byte
	return r.spi.Tx([]byte{CMD_W_REGISTER | addr, value}, buf[:])
}

func (r *Radio) writeRegBytes(addr byte, data []byte) {
	wBuf := make([]byte, len(data)+1)
	rBuf := make([]byte, len(data)+1)
	wBuf[0] = CMD_W_REGISTER | addr
	copy(wBuf[1:], data)
	r.spi.Tx(wBuf, rBuf)
}

func (r *Radio) readReg(addr byte) byte {
	var buf [2]byte
	r.spi.Tx([]byte{CMD_R_REGISTER | addr, 0}, buf[:])
	return buf[1]
}

// readReg1 issues a 1-byte read command (R_RX_PL_WID and friends).
func (r *Radio) readReg1(cmd byte) byte {
	var buf [2]byte
	r.spi.Tx([]byte{cmd, 0}, buf[:])
	return buf[1]
}

func (r *Radio) readBytes(cmd byte, n int) []byte {
	wBuf := make([]byte, n+1)
	rBuf := make([]byte, n+1)
	wBuf[0] = cmd
	r.spi.Tx(wBuf, rBuf)
	out := make([]byte, n)
	copy(out, rBuf[1:])
	return out
}

// readStatus uses the NOP shortcut: the chip shifts STATUS out while the command goes in.
func (r *Radio) readStatus() byte {
	var buf [1]byte
	r.spi.Tx([]byte{CMD_NOP}, buf[:])
	return buf[0]
}

func (r *Radio) command(cmd byte, data []byte) {
	wBuf := make([]byte, len(data)+1)
	rBuf := make([]byte, len(data)+1)
	wBuf[0] = cmd
	copy(wBuf[1:], data)
	r.spi.Tx(wBuf, rBuf)
}

func (r *Radio) flushTx() {
	var buf [1]byte
	r.spi.Tx([]byte{CMD_FLUSH_TX}, buf[:])
}

func (r *Radio) flushRx() {
	var buf [1]byte
	r.spi.Tx([]byte{CMD_FLUSH_RX}, buf[:])
}

func (r *Radio) clearStatus() {
	r.writeReg(REG_STATUS, ST_RX_DR|ST_TX_DS|ST_MAX_RT)
}
