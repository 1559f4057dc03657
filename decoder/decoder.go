// Package decoder turns reassembled inverter payloads into typed records. The wire layouts
// are fixed-offset and differ per inverter generation, so decoding dispatches on the pair
// (model, command byte); the model is derived from the inverter's serial number prefix.
// Combinations without a known layout fall back to a raw debug record instead of failing.
package decoder

import (
	"time"

	"github.com/tve/hmdtu/esb"
)

// Command bytes the DTU sends, named after the inverter firmware's sub-commands.
const (
	DevInformSimple  byte = 0x00
	DevInformAll     byte = 0x01
	SystemConfigPara byte = 0x05
	RealTimeRunData  byte = 0x0b
	AlarmData        byte = 0x11
)

// Model is an inverter hardware generation.
type Model int

const (
	ModelUnknown Model = iota
	HM300              // 1 phase, 1 string (HM-300/350/400)
	HM600              // 1 phase, 2 strings (HM-600/700/800)
	HM1200             // 1 phase, 4 strings (HM-1200/1500)
)

func (m Model) String() string {
	switch m {
	case HM300:
		return "HM-300"
	case HM600:
		return "HM-600"
	case HM1200:
		return "HM-1200"
	}
	return "unknown"
}

// ModelForSerial derives the inverter model from the serial number prefix.
func ModelForSerial(serial string) (Model, error) {
	if len(serial) < 4 {
		return ModelUnknown, esb.ErrBadSerial
	}
	switch serial[:4] {
	case "1121":
		return HM300, nil
	case "1141":
		return HM600, nil
	case "1161":
		return HM1200, nil
	}
	return ModelUnknown, esb.ErrBadSerial
}

// StringConfig describes one attached panel string: its display name and the panel's
// nominal watt-peak used to compute irradiation.
type StringConfig struct {
	Name     string
	MaxPower int // Wp, 0 disables irradiation
}

// Request carries the context a decode needs beyond the raw payload.
type Request struct {
	InverterSerial string
	InverterName   string
	DTUSerial      string
	Strings        []StringConfig
	Time           time.Time // request timestamp, stamped onto the response
}

// Response is one decoded inverter message; concrete types are StatusResponse,
// HardwareInfoResponse and DebugResponse.
type Response interface {
	response()
}

type decodeFunc func(data []byte, meta Request) (Response, error)

type dispatchKey struct {
	model Model
	cmd   byte
}

// decoders is the exhaustive dispatch table; anything not in here is decoded as debug.
var decoders = map[dispatchKey]decodeFunc{
	{HM300, RealTimeRunData}:  hm300Layout.decode,
	{HM600, RealTimeRunData}:  hm600Layout.decode,
	{HM1200, RealTimeRunData}: hm1200Layout.decode,
	{HM300, DevInformAll}:     decodeHardwareInfo,
	{HM600, DevInformAll}:     decodeHardwareInfo,
	{HM1200, DevInformAll}:    decodeHardwareInfo,
}

// Decode picks the decoder for (model of meta.InverterSerial, cmd) and runs it. The payload
// is the reassembled application message including its trailing CRC-16, which is stripped
// here. Unknown models or commands yield a DebugResponse.
func Decode(cmd byte, payload []byte, meta Request) (Response, error) {
	if len(payload) < 2 {
		return nil, esb.ErrShortPayload
	}
	data := payload[:len(payload)-2]

	model, err := ModelForSerial(meta.InverterSerial)
	if err == nil {
		if fn, ok := decoders[dispatchKey{model, cmd}]; ok {
			return fn(data, meta)
		}
	}
	return decodeDebug(cmd, data, meta)
}
