// Package dtu contains the transport heart of the gateway: the transaction engine that runs
// one request/response exchange with an inverter, and the poll loop that walks all
// configured inverters, keeps their command queues, backfills alarm data when the event
// counter advances, and fans decoded results out to the sinks.
//
// The radio is owned by the poll goroutine; nothing else touches it. Within one inverter
// everything is strictly serialized, and there is no cross-inverter parallelism because one
// radio serializes the air interface anyway.
package dtu

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tve/hmdtu/decoder"
	"github.com/tve/hmdtu/esb"
)

// LogPrintf is a function used by the DTU to print logging info.
type LogPrintf func(format string, v ...interface{})

// ErrConfigInvalid aborts startup; it is never produced after New returns.
var ErrConfigInvalid = errors.New("dtu: invalid configuration")

// sinkBudget is how long one sink call may take before it is abandoned.
const sinkBudget = 2 * time.Second

// retryPause is the pause between top-level transmit retries.
const retryPause = 100 * time.Millisecond

// InverterConfig describes one inverter to poll.
type InverterConfig struct {
	Serial    string
	Name      string
	Disabled  bool
	TxPower   string // per-inverter PA override, empty uses the radio default
	Strings   []decoder.StringConfig
	MQTTTopic string // sink hint, unused by the core
}

// Config is the DTU's runtime configuration, read-only after New.
type Config struct {
	DTUSerial       string
	DTUName         string
	Interval        time.Duration // poll loop period, default 2s
	TransmitRetries int           // top-level retries per command, must be > 0
	Inverters       []InverterConfig
}

// Opts are optional knobs for New.
type Opts struct {
	Sunset *SunsetHandler
	Logger LogPrintf
	Clock  func() time.Time // test hook, default time.Now
}

// DTU is the poll loop driving all inverters over one radio.
type DTU struct {
	cfg    Config
	radio  Radio
	sinks  []Sink
	sunset *SunsetHandler
	log    LogPrintf
	now    func() time.Time

	// per-inverter state, keyed by serial
	queues    map[string][][]byte
	watermark map[string]uint16
}

// New validates the configuration and creates the DTU. Inverter serials must parse and
// transmit_retries must be positive; both are operator errors that warrant refusing to
// start over silently polling nothing.
func New(cfg Config, radio Radio, sinks []Sink, opts Opts) (*DTU, error) {
	if cfg.TransmitRetries <= 0 {
		return nil, fmt.Errorf("%w: transmit_retries must be > 0", ErrConfigInvalid)
	}
	if _, err := esb.SerialToHMAddr(cfg.DTUSerial); err != nil {
		return nil, fmt.Errorf("%w: dtu serial %q: %s", ErrConfigInvalid, cfg.DTUSerial, err)
	}
	for _, inv := range cfg.Inverters {
		if inv.Disabled {
			continue
		}
		if _, err := esb.SerialToHMAddr(inv.Serial); err != nil {
			return nil, fmt.Errorf("%w: inverter serial %q: %s", ErrConfigInvalid, inv.Serial, err)
		}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}

	h := &DTU{
		cfg:       cfg,
		radio:     radio,
		sinks:     sinks,
		sunset:    opts.Sunset,
		log:       opts.Logger,
		now:       opts.Clock,
		queues:    make(map[string][][]byte),
		watermark: make(map[string]uint16),
	}
	if h.log == nil {
		h.log = func(format string, v ...interface{}) {}
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h, nil
}

// Run executes the poll loop until the context is canceled. Each tick waits out the night
// if a sunset handler is configured, polls every enabled inverter under its wall-clock
// budget, and sleeps the rest of the interval.
func (h *DTU) Run(ctx context.Context) error {
	doInit := true
	for {
		if h.sunset != nil {
			if err := h.sunset.AwaitSunrise(ctx, h.emit); err != nil {
				return err
			}
		}

		loopStart := h.now()
		for i := range h.cfg.Inverters {
			inv := &h.cfg.Inverters[i]
			if inv.Disabled {
				continue
			}
			h.log("poll inverter name=%s ser=%s", inv.Name, inv.Serial)
			h.emit(Event{Type: EventPolling})

			budget := time.Duration(h.cfg.TransmitRetries+5) * time.Second
			pctx, cancel := context.WithTimeout(ctx, budget)
			err := h.PollInverter(pctx, inv, doInit)
			cancel()
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				h.log("inverter %s poll timed out", inv.Serial)
				h.emit(Event{Type: EventTimeout})
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		doInit = false

		if remaining := h.cfg.Interval - h.now().Sub(loopStart); remaining > 0 {
			if err := ctxSleep(ctx, remaining); err != nil {
				return err
			}
		} else if err := ctxSleep(ctx, 100*time.Millisecond); err != nil {
			return err
		}
	}
}

// PollInverter drains the inverter's command queue after enqueueing the periodic status
// request (and, on the first round, a hardware info request). Decoded status responses may
// enqueue an alarm backfill, so the queue is drained until empty or the context expires;
// a command whose retries are exhausted is simply dropped.
func (h *DTU) PollInverter(ctx context.Context, inv *InverterConfig, doInit bool) error {
	if doInit {
		h.enqueue(inv.Serial, esb.ComposeCommand(decoder.DevInformAll, 0, h.now()))
	}
	h.enqueue(inv.Serial, esb.ComposeCommand(decoder.RealTimeRunData, 0, h.now()))

	for len(h.queues[inv.Serial]) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload := h.dequeue(inv.Serial)
		requestAt := h.now()
		response := h.runTransaction(ctx, inv, payload)
		if response == nil {
			// retries exhausted (or canceled), drop the command and move on
			if ctx.Err() == nil {
				h.log("no response for cmd %#02x from %s", payload[0], inv.Serial)
				h.emit(Event{Type: EventTimeout})
			}
			continue
		}

		meta := decoder.Request{
			InverterSerial: inv.Serial,
			InverterName:   inv.Name,
			DTUSerial:      h.cfg.DTUSerial,
			Strings:        inv.Strings,
			Time:           requestAt,
		}
		result, err := decoder.Decode(payload[0], response, meta)
		if err != nil {
			h.log("decode cmd %#02x: %s", payload[0], err)
			continue
		}

		switch r := result.(type) {
		case *decoder.StatusResponse:
			if r.EventCount > h.watermark[inv.Serial] {
				h.watermark[inv.Serial] = r.EventCount
				h.enqueue(inv.Serial, esb.ComposeCommand(decoder.AlarmData, r.EventCount, h.now()))
			}
			h.deliver(func(s Sink) { s.StoreStatus(r, inv) })
		case *decoder.HardwareInfoResponse:
			h.deliver(func(s Sink) { s.StoreInfo(r, inv) })
		case *decoder.DebugResponse:
			h.log("cmd %#02x from %s: % 02x", r.Command, inv.Serial, r.Payload)
		}
	}
	return nil
}

// runTransaction sends the command payload up to transmit_retries times until one attempt
// yields a complete, CRC-clean response. Returns nil when the budget is exhausted.
func (h *DTU) runTransaction(ctx context.Context, inv *InverterConfig, payload []byte) []byte {
	frames, err := esb.Chunk(payload, 0x80, h.cfg.DTUSerial, inv.Serial, esb.MTU)
	if err != nil {
		h.log("compose request: %s", err)
		return nil
	}
	// all commands fit a single fragment, only the first is ever transmitted
	request := frames[0]

	for ttl := h.cfg.TransmitRetries; ttl > 0; ttl-- {
		if ctx.Err() != nil {
			return nil
		}
		t, err := NewTransaction(h.radio, inv.Serial, h.cfg.DTUSerial, inv.TxPower,
			request, h.now(), h.log)
		if err != nil {
			h.log("transaction: %s", err)
			return nil
		}
		for t.RxTx() {
			response, err := t.Payload()
			if err == nil {
				return response
			}
			h.log("retrieving payload: %s", err)
			if ctx.Err() != nil {
				return nil
			}
		}
		ctxSleep(ctx, retryPause)
	}
	return nil
}

func (h *DTU) enqueue(serial string, payload []byte) {
	h.queues[serial] = append(h.queues[serial], payload)
}

func (h *DTU) dequeue(serial string) []byte {
	q := h.queues[serial]
	payload := q[0]
	h.queues[serial] = q[1:]
	return payload
}

// deliver runs fn against every sink under the sink budget. An overrunning call is left
// behind; Go can't cancel a sink that doesn't cooperate, but nothing waits for it either.
func (h *DTU) deliver(fn func(Sink)) {
	for _, s := range h.sinks {
		s := s
		done := make(chan struct{})
		go func() {
			defer close(done)
			fn(s)
		}()
		select {
		case <-done:
		case <-time.After(sinkBudget):
			h.log("sink call overran its %s budget, abandoned", sinkBudget)
		}
	}
}

// emit fans a lifecycle event out to all sinks.
func (h *DTU) emit(ev Event) {
	h.deliver(func(s Sink) { s.OnEvent(ev) })
}
