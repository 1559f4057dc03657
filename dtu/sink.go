package dtu

import (
	"time"

	"github.com/tve/hmdtu/decoder"
)

// EventType names a DTU lifecycle event.
type EventType string

const (
	EventPolling  EventType = "inverter.polling"
	EventTimeout  EventType = "inverter.timeout"
	EventSleeping EventType = "suntimes.sleeping"
	EventWakeup   EventType = "suntimes.wakeup"
	EventWifiUp   EventType = "wifi.up"
)

// Event is a DTU lifecycle notification delivered to all sinks.
type Event struct {
	Type    EventType `json:"event_type"`
	Sunrise time.Time `json:"sunrise,omitempty"`
	Sunset  time.Time `json:"sunset,omitempty"`
	IP      string    `json:"ip,omitempty"`
}

// Sink receives decoded inverter records and lifecycle events. Sink methods are called from
// the poll goroutine under a 2 second watchdog; a call that overruns is abandoned, so a slow
// sink delays at most one delivery.
type Sink interface {
	StoreStatus(*decoder.StatusResponse, *InverterConfig)
	StoreInfo(*decoder.HardwareInfoResponse, *InverterConfig)
	OnEvent(Event)
}
