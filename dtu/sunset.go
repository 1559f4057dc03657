package dtu

import (
	"context"
	"time"

	"github.com/nathan-osman/go-sunrise"
)

// SunsetHandler suspends polling between sunset and sunrise. Inverters are unreachable
// without panel power, so asking them all night only heats the ether.
type SunsetHandler struct {
	lat, lon   float64
	nextSunset time.Time
	log        LogPrintf
	now        func() time.Time
	sleep      func(context.Context, time.Duration) error
}

// NewSunsetHandler creates a handler for the given location. Altitude makes a difference of
// seconds here and is not taken into account.
func NewSunsetHandler(lat, lon float64, log LogPrintf) *SunsetHandler {
	if log == nil {
		log = func(format string, v ...interface{}) {}
	}
	s := &SunsetHandler{lat: lat, lon: lon, log: log, now: time.Now, sleep: ctxSleep}
	now := s.now().UTC()
	_, s.nextSunset = sunrise.SunriseSunset(lat, lon, now.Year(), now.Month(), now.Day())
	s.log("todays sunset is at %s UTC", s.nextSunset.Format("15:04"))
	return s
}

// AwaitSunrise blocks until the next sunrise if the sun has set, emitting the sleep and
// wakeup events around the wait. During the day it returns immediately.
func (s *SunsetHandler) AwaitSunrise(ctx context.Context, emit func(Event)) error {
	now := s.now().UTC()
	if s.nextSunset.IsZero() || now.Before(s.nextSunset) {
		return nil
	}

	// The sun set; the next sunrise is either later today (we're past midnight) or
	// tomorrow morning.
	rise, _ := sunrise.SunriseSunset(s.lat, s.lon, now.Year(), now.Month(), now.Day())
	if rise.Before(now) {
		tomorrow := now.AddDate(0, 0, 1)
		rise, _ = sunrise.SunriseSunset(s.lat, s.lon, tomorrow.Year(), tomorrow.Month(), tomorrow.Day())
	}
	_, s.nextSunset = sunrise.SunriseSunset(s.lat, s.lon, rise.Year(), rise.Month(), rise.Day())

	wait := rise.Sub(now)
	if wait <= 0 {
		return nil
	}
	s.log("next sunrise at %s UTC, next sunset at %s UTC, sleeping %s",
		rise.Format("15:04"), s.nextSunset.Format("15:04"), wait.Round(time.Second))
	emit(Event{Type: EventSleeping, Sunrise: rise, Sunset: s.nextSunset})
	if err := s.sleep(ctx, wait); err != nil {
		return err
	}
	s.log("woke up")
	emit(Event{Type: EventWakeup, Sunrise: rise, Sunset: s.nextSunset})
	return nil
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
