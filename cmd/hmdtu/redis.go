package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tve/hmdtu/decoder"
	"github.com/tve/hmdtu/dtu"
)

// redisSink mirrors the latest state of each inverter into a Redis hash and publishes the
// full record as JSON on the same key, so local services can either poll or subscribe.
type redisSink struct {
	client  *redis.Client
	keyRoot string
	log     LogPrintf
}

func newRedisSink(conf RedisConfig, dtuName string, debug LogPrintf) (*redisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}
	return &redisSink{client: client, keyRoot: dtuName, log: debug}, nil
}

func (r *redisSink) key(inv *dtu.InverterConfig) string {
	name := "hoymiles"
	if inv != nil && inv.Name != "" {
		name = inv.Name
	}
	return r.keyRoot + ":" + name
}

func (r *redisSink) StoreStatus(s *decoder.StatusResponse, inv *dtu.InverterConfig) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	key := r.key(inv)

	fields := map[string]interface{}{
		"time":        s.Time,
		"ac_power":    s.ACPower(),
		"dc_power":    s.DCPower(),
		"temperature": s.Temperature,
		"powerfactor": s.PowerFactor,
		"yield_today": s.YieldToday,
		"yield_total": s.YieldTotal,
		"efficiency":  s.Efficiency,
		"event_count": int(s.EventCount),
	}
	blob, err := json.Marshal(s)
	if err != nil {
		r.log("redis marshal: %s", err)
		return
	}
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Publish(ctx, key, string(blob))
	if _, err := pipe.Exec(ctx); err != nil {
		r.log("redis write: %s", err)
	}
}

func (r *redisSink) StoreInfo(h *decoder.HardwareInfoResponse, inv *dtu.InverterConfig) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := r.client.HSet(ctx, r.key(inv),
		"firmware", h.FWVersion(),
		"hardware", h.HWPartID).Err()
	if err != nil {
		r.log("redis write: %s", err)
	}
}

func (r *redisSink) OnEvent(ev dtu.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.client.HSet(ctx, r.keyRoot, "last_event", string(ev.Type)).Err(); err != nil {
		r.log("redis write: %s", err)
	}
}

func (r *redisSink) Close() {
	r.client.Close()
}
