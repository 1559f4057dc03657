package main

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/tve/hmdtu/decoder"
	"github.com/tve/hmdtu/dtu"
)

// influxSink writes each status response as one point per phase/string plus a totals
// point, tagged with the inverter serial and name.
type influxSink struct {
	client      influxdb2.Client
	write       api.WriteAPIBlocking
	measurement string
	log         LogPrintf
}

func newInfluxSink(conf InfluxConfig, debug LogPrintf) *influxSink {
	client := influxdb2.NewClient(conf.URL, conf.Token)
	measurement := conf.Measurement
	if measurement == "" {
		measurement = "hoymiles"
	}
	return &influxSink{
		client:      client,
		write:       client.WriteAPIBlocking(conf.Org, conf.Bucket),
		measurement: measurement,
		log:         debug,
	}
}

func (x *influxSink) StoreStatus(s *decoder.StatusResponse, inv *dtu.InverterConfig) {
	at := time.Unix(s.Time, 0)
	tags := map[string]string{
		"inverter_ser":  s.InverterSerial,
		"inverter_name": s.InverterName,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i, ph := range s.Phases {
		p := influxdb2.NewPoint(x.measurement, withTag(tags, "phase", fmt.Sprint(i)),
			map[string]interface{}{
				"voltage":        ph.Voltage,
				"current":        ph.Current,
				"power":          ph.Power,
				"reactive_power": ph.ReactivePower,
				"frequency":      ph.Frequency,
			}, at)
		if err := x.write.WritePoint(ctx, p); err != nil {
			x.log("influx write: %s", err)
			return
		}
	}
	for i, d := range s.Strings {
		p := influxdb2.NewPoint(x.measurement, withTag(tags, "string", fmt.Sprint(i)),
			map[string]interface{}{
				"voltage":      d.Voltage,
				"current":      d.Current,
				"power":        d.Power,
				"energy_daily": int64(d.EnergyDaily),
				"energy_total": int64(d.EnergyTotal),
				"irradiation":  d.Irradiation,
			}, at)
		if err := x.write.WritePoint(ctx, p); err != nil {
			x.log("influx write: %s", err)
			return
		}
	}
	p := influxdb2.NewPoint(x.measurement, tags, map[string]interface{}{
		"temperature": s.Temperature,
		"powerfactor": s.PowerFactor,
		"efficiency":  s.Efficiency,
		"yield_total": int64(s.YieldTotal),
		"yield_today": int64(s.YieldToday),
		"event_count": int64(s.EventCount),
	}, at)
	if err := x.write.WritePoint(ctx, p); err != nil {
		x.log("influx write: %s", err)
	}
}

func (x *influxSink) StoreInfo(h *decoder.HardwareInfoResponse, inv *dtu.InverterConfig) {
	// firmware info has no time series value
}

func (x *influxSink) OnEvent(ev dtu.Event) {}

func (x *influxSink) Close() {
	x.client.Close()
}

func withTag(tags map[string]string, k, v string) map[string]string {
	out := make(map[string]string, len(tags)+1)
	for tk, tv := range tags {
		out[tk] = tv
	}
	out[k] = v
	return out
}
