package dtu

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tve/hmdtu/crc"
	"github.com/tve/hmdtu/decoder"
)

// recordSink keeps everything it is handed.
type recordSink struct {
	mu       sync.Mutex
	statuses []*decoder.StatusResponse
	infos    []*decoder.HardwareInfoResponse
	events   []Event
}

func (r *recordSink) StoreStatus(s *decoder.StatusResponse, inv *InverterConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recordSink) StoreInfo(i *decoder.HardwareInfoResponse, inv *InverterConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = append(r.infos, i)
}

func (r *recordSink) OnEvent(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordSink) eventCount(typ EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func testConfig(retries int) Config {
	return Config{
		DTUSerial:       testDTUSer,
		DTUName:         "test-dtu",
		Interval:        2 * time.Second,
		TransmitRetries: retries,
		Inverters: []InverterConfig{{
			Serial: testInvSer,
			Name:   "balcony",
			Strings: []decoder.StringConfig{
				{Name: "east", MaxPower: 380},
				{Name: "west", MaxPower: 380},
			},
		}},
	}
}

func newTestDTU(t *testing.T, radio Radio, retries int) (*DTU, *recordSink) {
	t.Helper()
	sink := &recordSink{}
	h, err := New(testConfig(retries), radio, []Sink{sink}, Opts{
		Clock: func() time.Time { return time.Unix(0x60000000, 0) },
	})
	require.NoError(t, err)
	return h, sink
}

// hm600StatusPayload builds a CRC-complete status response with the given event count.
func hm600StatusPayload(events uint16) []byte {
	p := make([]byte, 42)
	binary.BigEndian.PutUint16(p[6:], 453)   // P_DC0 45.3W
	binary.BigEndian.PutUint16(p[12:], 763)  // P_DC1 76.3W
	binary.BigEndian.PutUint16(p[30:], 1156) // P_AC 115.6W
	binary.BigEndian.PutUint16(p[40:], events)
	return binary.BigEndian.AppendUint16(p, crc.Crc16Modbus(p))
}

// statusBatch is the three-fragment response the inverter sends for one status request.
func statusBatch(t *testing.T, events uint16) [][]byte {
	t.Helper()
	return fragment3(t, hm600StatusPayload(events))
}

// debugBatch is a minimal single-fragment response, good enough for alarm commands.
func debugBatch(t *testing.T) [][]byte {
	t.Helper()
	return [][]byte{invFrame(t, 0x81, withCrc16([]byte{0x11, 0x00}))}
}

// S1: happy path end to end: request composition, multi-fragment reassembly, decode,
// delivery.
func TestPollHappyPath(t *testing.T) {
	radio := &fakeRadio{batches: [][][]byte{statusBatch(t, 0)}}
	h, sink := newTestDTU(t, radio, 5)

	require.NoError(t, h.PollInverter(context.Background(), &h.cfg.Inverters[0], false))

	// the request went out exactly once and is a well-formed single-fragment command
	require.Len(t, radio.transmits, 1)
	req := radio.transmits[0]
	require.Equal(t, byte(0x15), req[0])
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x01}, req[1:5]) // inverter HM address
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x00}, req[5:9]) // DTU HM address
	require.Equal(t, byte(0x80), req[9])
	require.Equal(t, byte(0x0b), req[10])                              // RealTimeRunData
	require.Equal(t, []byte{0x60, 0x00, 0x00, 0x00}, req[12:16])       // frozen timestamp
	require.Equal(t, crc.Crc8(req[:len(req)-1]), req[len(req)-1])      // frame crc8
	payload := req[10 : len(req)-1]
	require.Equal(t, crc.Crc16Modbus(payload[:len(payload)-2]),
		binary.BigEndian.Uint16(payload[len(payload)-2:])) // payload crc16

	require.Len(t, sink.statuses, 1)
	s := sink.statuses[0]
	require.Len(t, s.Phases, 1)
	require.Len(t, s.Strings, 2)
	require.Equal(t, 115.6, s.Phases[0].Power)
	require.Equal(t, 95.07, s.Efficiency) // 115.6*100/121.6 to 2 decimals
	require.Equal(t, int64(0x60000000), s.Time)
}

func TestPollDeliversHardwareInfo(t *testing.T) {
	info := make([]byte, 10)
	binary.BigEndian.PutUint16(info[0:], 10012)
	binary.BigEndian.PutUint16(info[2:], 2021)
	radio := &fakeRadio{batches: [][][]byte{
		{invFrame(t, 0x81, withCrc16(info))}, // DevInform_All
		statusBatch(t, 0),                    // RealTimeRunData
	}}
	h, sink := newTestDTU(t, radio, 5)

	require.NoError(t, h.PollInverter(context.Background(), &h.cfg.Inverters[0], true))
	require.Len(t, radio.transmits, 2)
	require.Equal(t, byte(0x01), radio.transmits[0][10])
	require.Equal(t, byte(0x0b), radio.transmits[1][10])
	require.Len(t, sink.infos, 1)
	require.Equal(t, 1, sink.infos[0].FWVersionMaj)
	require.Len(t, sink.statuses, 1)
}

// S5: the event watermark advances monotonically and enqueues exactly one AlarmData
// backfill per strict increase.
func TestAlarmBackfill(t *testing.T) {
	radio := &fakeRadio{batches: [][][]byte{
		statusBatch(t, 0),
		statusBatch(t, 0),
		statusBatch(t, 3),
		debugBatch(t), // answer to AlarmData(3)
		statusBatch(t, 3),
		statusBatch(t, 5),
		debugBatch(t), // answer to AlarmData(5)
	}}
	h, sink := newTestDTU(t, radio, 5)

	for i := 0; i < 5; i++ {
		require.NoError(t, h.PollInverter(context.Background(), &h.cfg.Inverters[0], false))
	}

	var alarmIDs []uint16
	for _, req := range radio.transmits {
		if req[10] == 0x11 {
			alarmIDs = append(alarmIDs, binary.BigEndian.Uint16(req[18:20]))
		}
	}
	require.Equal(t, []uint16{3, 5}, alarmIDs)
	require.Len(t, sink.statuses, 5)
	require.Equal(t, uint16(5), h.watermark[testInvSer])
}

// S6: a dead air interface burns exactly transmit_retries attempts, decodes nothing and
// emits a timeout event.
func TestRetryExhaustion(t *testing.T) {
	radio := &fakeRadio{}
	h, sink := newTestDTU(t, radio, 5)

	require.NoError(t, h.PollInverter(context.Background(), &h.cfg.Inverters[0], false))
	require.Len(t, radio.transmits, 5)
	require.Empty(t, sink.statuses)
	require.Empty(t, sink.infos)
	require.Equal(t, 1, sink.eventCount(EventTimeout))
}

func TestPollBudgetCancel(t *testing.T) {
	radio := &fakeRadio{}
	h, _ := newTestDTU(t, radio, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.PollInverter(ctx, &h.cfg.Inverters[0], false)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, radio.transmits)
	// the queued command survives for the next round
	require.Len(t, h.queues[testInvSer], 1)
}

func TestNewValidatesConfig(t *testing.T) {
	radio := &fakeRadio{}

	cfg := testConfig(0)
	_, err := New(cfg, radio, nil, Opts{})
	require.ErrorIs(t, err, ErrConfigInvalid)

	cfg = testConfig(5)
	cfg.DTUSerial = "oops"
	_, err = New(cfg, radio, nil, Opts{})
	require.ErrorIs(t, err, ErrConfigInvalid)

	cfg = testConfig(5)
	cfg.Inverters[0].Serial = "bad"
	_, err = New(cfg, radio, nil, Opts{})
	require.ErrorIs(t, err, ErrConfigInvalid)

	// a disabled inverter may carry a junk serial
	cfg = testConfig(5)
	cfg.Inverters[0].Serial = "bad"
	cfg.Inverters[0].Disabled = true
	_, err = New(cfg, radio, nil, Opts{})
	require.NoError(t, err)
}

func TestRunHonorsCancel(t *testing.T) {
	radio := &fakeRadio{batches: [][][]byte{statusBatch(t, 0), statusBatch(t, 0)}}
	sink := &recordSink{}
	cfg := testConfig(1)
	cfg.Interval = 10 * time.Millisecond
	h, err := New(cfg, radio, []Sink{sink}, Opts{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err = h.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.GreaterOrEqual(t, sink.eventCount(EventPolling), 1)
}

func TestSunsetHandlerSleepsUntilSunrise(t *testing.T) {
	s := NewSunsetHandler(49.45, 11.07, nil)

	// pin time to a june night after sunset
	night := time.Date(2024, 6, 1, 23, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return night }
	s.nextSunset = night.Add(-2 * time.Hour)

	var slept time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		slept = d
		return nil
	}
	var events []Event
	require.NoError(t, s.AwaitSunrise(context.Background(), func(ev Event) {
		events = append(events, ev)
	}))

	require.Len(t, events, 2)
	require.Equal(t, EventSleeping, events[0].Type)
	require.Equal(t, EventWakeup, events[1].Type)
	require.Greater(t, slept, time.Hour)
	require.Less(t, slept, 12*time.Hour)
	require.True(t, s.nextSunset.After(night))
}

func TestSunsetHandlerDaytimeNoop(t *testing.T) {
	s := NewSunsetHandler(49.45, 11.07, nil)
	noon := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return noon }
	s.nextSunset = noon.Add(8 * time.Hour)
	called := false
	require.NoError(t, s.AwaitSunrise(context.Background(), func(Event) { called = true }))
	require.False(t, called)
}
