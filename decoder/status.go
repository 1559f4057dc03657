package decoder

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/tve/hmdtu/esb"
)

// Phase is one AC output phase of a StatusResponse.
type Phase struct {
	Voltage       float64 `json:"voltage"`        // V
	Current       float64 `json:"current"`        // A
	Power         float64 `json:"power"`          // W
	ReactivePower float64 `json:"reactive_power"` // var
	Frequency     float64 `json:"frequency"`      // Hz
}

// DCString is one panel string input of a StatusResponse.
type DCString struct {
	Name        string  `json:"name,omitempty"`
	Voltage     float64 `json:"voltage"`     // V
	Current     float64 `json:"current"`     // A
	Power       float64 `json:"power"`       // W
	EnergyDaily uint    `json:"energy_daily"` // Wh
	EnergyTotal uint    `json:"energy_total"` // Wh
	Irradiation float64 `json:"irradiation"` // % of nominal Wp, 0 if not configured
}

// StatusResponse is the decoded answer to a RealTimeRunData request.
type StatusResponse struct {
	Time           int64      `json:"time"` // unix seconds of the request
	InverterSerial string     `json:"inverter_ser"`
	InverterName   string     `json:"inverter_name"`
	Phases         []Phase    `json:"phases"`
	Strings        []DCString `json:"strings"`
	Temperature    float64    `json:"temperature"` // °C
	PowerFactor    float64    `json:"powerfactor"`
	EventCount     uint16     `json:"event_count"`
	YieldToday     uint       `json:"yield_today"` // Wh, sum over strings
	YieldTotal     uint       `json:"yield_total"` // Wh, sum over strings
	Efficiency     float64    `json:"efficiency"`  // AC/DC power in %
}

func (*StatusResponse) response() {}

// ACPower returns the summed power of all phases.
func (s *StatusResponse) ACPower() float64 {
	var sum float64
	for _, p := range s.Phases {
		sum += p.Power
	}
	return sum
}

// DCPower returns the summed power of all strings.
func (s *StatusResponse) DCPower() float64 {
	var sum float64
	for _, d := range s.Strings {
		sum += d.Power
	}
	return sum
}

// stringLayout holds the byte offsets of one string's fields in a status payload.
type stringLayout struct {
	u, i, p int // u16, scaled /10, /100, /10
	eTotal  int // u32 Wh
	eDay    int // u16 Wh
}

// statusLayout describes a status payload for one inverter generation. All fields are
// big-endian at fixed offsets.
type statusLayout struct {
	strings                 []stringLayout
	acU, acF, acP, acQ, acI int
	pf, temp, events        int
}

// Layouts per generation; see the per-model register maps in the inverter firmware.
var hm300Layout = statusLayout{
	strings: []stringLayout{{2, 4, 6, 8, 12}},
	acU:     14, acF: 16, acP: 18, acQ: 20, acI: 22,
	pf: 24, temp: 26, events: 28,
}

var hm600Layout = statusLayout{
	strings: []stringLayout{{2, 4, 6, 14, 22}, {8, 10, 12, 18, 24}},
	acU:     26, acF: 28, acP: 30, acQ: 32, acI: 34,
	pf: 36, temp: 38, events: 40,
}

// strings 0/1 share the first input voltage, 2/3 the second
var hm1200Layout = statusLayout{
	strings: []stringLayout{
		{2, 4, 8, 12, 20}, {2, 6, 10, 16, 22},
		{24, 26, 30, 34, 42}, {24, 28, 32, 38, 44},
	},
	acU: 46, acF: 48, acP: 50, acQ: 52, acI: 54,
	pf: 56, temp: 58, events: 60,
}

func (l *statusLayout) minLen() int { return l.events + 2 }

func (l *statusLayout) decode(data []byte, meta Request) (Response, error) {
	if len(data) < l.minLen() {
		return nil, fmt.Errorf("%w: %d bytes, want %d", esb.ErrShortPayload, len(data), l.minLen())
	}
	u16 := func(off int) uint16 { return binary.BigEndian.Uint16(data[off:]) }
	u32 := func(off int) uint32 { return binary.BigEndian.Uint32(data[off:]) }

	s := &StatusResponse{
		Time:           meta.Time.Unix(),
		InverterSerial: meta.InverterSerial,
		InverterName:   meta.InverterName,
		Temperature:    float64(int16(u16(l.temp))) / 10,
		PowerFactor:    float64(u16(l.pf)) / 1000,
		EventCount:     u16(l.events),
	}

	for i, sl := range l.strings {
		d := DCString{
			Voltage:     float64(u16(sl.u)) / 10,
			Current:     float64(u16(sl.i)) / 100,
			Power:       float64(u16(sl.p)) / 10,
			EnergyTotal: uint(u32(sl.eTotal)),
			EnergyDaily: uint(u16(sl.eDay)),
		}
		if i < len(meta.Strings) {
			d.Name = meta.Strings[i].Name
			if wp := meta.Strings[i].MaxPower; wp > 0 {
				d.Irradiation = round2(d.Power * 100 / float64(wp))
			}
		}
		s.YieldTotal += d.EnergyTotal
		s.YieldToday += d.EnergyDaily
		s.Strings = append(s.Strings, d)
	}

	s.Phases = append(s.Phases, Phase{
		Voltage:       float64(u16(l.acU)) / 10,
		Frequency:     float64(u16(l.acF)) / 100,
		Power:         float64(u16(l.acP)) / 10,
		ReactivePower: float64(u16(l.acQ)) / 10,
		Current:       float64(u16(l.acI)) / 100,
	})

	if dc := s.DCPower(); dc > 0 {
		s.Efficiency = round2(s.ACPower() * 100 / dc)
	}
	return s, nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
