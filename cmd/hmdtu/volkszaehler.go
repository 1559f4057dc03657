package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tve/hmdtu/decoder"
	"github.com/tve/hmdtu/dtu"
)

// vzSink posts readings to a Volkszähler middleware, one channel UUID per configured
// value. The middleware wants one POST per reading:
//
//	POST <url>/data/<uuid>.json?ts=<ms>&value=<v>
type vzSink struct {
	base     string
	channels []VzChannelConfig
	client   *http.Client
	log      LogPrintf
}

func newVzSink(conf VolkszaehlerConfig, debug LogPrintf) *vzSink {
	return &vzSink{
		base:     strings.TrimRight(conf.URL, "/"),
		channels: conf.Channels,
		client:   &http.Client{Timeout: time.Second},
		log:      debug,
	}
}

func (z *vzSink) StoreStatus(s *decoder.StatusResponse, inv *dtu.InverterConfig) {
	values := map[string]float64{
		"ac_power":    s.ACPower(),
		"dc_power":    s.DCPower(),
		"yield_today": float64(s.YieldToday),
		"yield_total": float64(s.YieldTotal),
		"temperature": s.Temperature,
		"efficiency":  s.Efficiency,
	}
	ts := s.Time * 1000
	for _, ch := range z.channels {
		v, ok := values[ch.Type]
		if !ok {
			z.log("volkszaehler: unknown channel type %q", ch.Type)
			continue
		}
		z.post(ch.UUID, ts, v)
	}
}

func (z *vzSink) post(uuid string, ts int64, value float64) {
	u := fmt.Sprintf("%s/data/%s.json?ts=%d&value=%s", z.base, uuid, ts,
		url.QueryEscape(fmt.Sprintf("%g", value)))
	resp, err := z.client.Post(u, "application/json", nil)
	if err != nil {
		z.log("volkszaehler post: %s", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		z.log("volkszaehler post %s: %s", uuid, resp.Status)
	}
}

func (z *vzSink) StoreInfo(h *decoder.HardwareInfoResponse, inv *dtu.InverterConfig) {}

func (z *vzSink) OnEvent(ev dtu.Event) {}
