package dtu

import (
	"errors"
	"time"

	"github.com/tve/hmdtu/esb"
	"github.com/tve/hmdtu/nrf24"
)

// rxWindow is how long one receive call waits for the first fragment; the radio re-arms
// the window while fragments keep arriving.
const rxWindow = 500 * time.Millisecond

// Radio is the air interface a transaction drives. *nrf24.Radio implements it; tests use
// scripted stubs.
type Radio interface {
	Transmit(packet []byte, txpower string) bool
	Receive(timeout time.Duration) ([]nrf24.RxPacket, error)
}

// Transaction is one request/response exchange with an inverter: a queue of frames to
// transmit and a scratch buffer of everything received so far. All state is per instance,
// a transaction is used for one exchange and thrown away.
type Transaction struct {
	radio     Radio
	txPower   string
	txQueue   [][]byte
	scratch   []*esb.Fragment
	invSerial string
	dtuSerial string
	invAddr   uint32
	request   []byte
	requestAt time.Time
	log       LogPrintf
}

// NewTransaction creates a transaction with the request frame queued for transmission.
func NewTransaction(radio Radio, invSerial, dtuSerial, txPower string, request []byte,
	at time.Time, log LogPrintf) (*Transaction, error) {

	invAddr, err := esb.HMAddrUint(invSerial)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = func(format string, v ...interface{}) {}
	}
	t := &Transaction{
		radio:     radio,
		txPower:   txPower,
		invSerial: invSerial,
		dtuSerial: dtuSerial,
		invAddr:   invAddr,
		request:   request,
		requestAt: at,
		log:       log,
	}
	t.txQueue = append(t.txQueue, request)
	return t, nil
}

// RxTx transmits the next queued frame and collects whatever comes back within the receive
// window. Frames that fail their CRC-8 are logged and skipped. Reports whether at least one
// valid fragment arrived.
func (t *Transaction) RxTx() bool {
	if t.radio == nil || len(t.txQueue) == 0 {
		return false
	}
	packet := t.txQueue[0]
	t.txQueue = t.txQueue[1:]

	t.radio.Transmit(packet, t.txPower)

	pkts, err := t.radio.Receive(rxWindow)
	if err != nil {
		if !errors.Is(err, nrf24.ErrTimeout) {
			t.log("receive: %s", err)
		}
		return false
	}
	got := false
	for _, p := range pkts {
		f, err := esb.ParseFragment(p.Payload, p.RxChannel, p.TxChannel, p.At)
		if err != nil {
			t.log("dropping frame: %s", err)
			continue
		}
		t.log("received %s", f)
		t.scratch = append(t.scratch, f)
		got = true
	}
	return got
}

// Payload reconstructs the response from the fragments received so far. When a fragment is
// missing (or the terminal one hasn't shown up) the matching retransmit request is pushed
// to the head of the TX queue so the next RxTx asks for exactly that frame, and the error
// is returned for the caller to keep cycling.
func (t *Transaction) Payload() ([]byte, error) {
	payload, err := esb.Reassemble(t.scratch, t.invAddr)
	if err != nil {
		var mf *esb.MissingFragmentError
		var mt *esb.MissingTerminalError
		switch {
		case errors.As(err, &mf):
			t.queueRetransmit(mf.Frame)
		case errors.As(err, &mt):
			t.queueRetransmit(mt.Next)
		}
		return nil, err
	}
	return payload, nil
}

// queueRetransmit puts a retransmit request for frameID at the head of the TX queue.
func (t *Transaction) queueRetransmit(frameID int) {
	pkt, err := esb.RetransmitRequest(frameID, t.dtuSerial, t.invSerial)
	if err != nil {
		t.log("retransmit: %s", err)
		return
	}
	t.txQueue = append([][]byte{pkt}, t.txQueue...)
}
