package main

import (
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tve/hmdtu/decoder"
	"github.com/tve/hmdtu/dtu"
)

// webSink keeps the last decoded snapshot and serves it over HTTP. The poll goroutine is
// the only writer; requests read whatever pointer is current (copy on publish, no locks).
type webSink struct {
	listen    string
	dtuName   string
	status    atomic.Pointer[decoder.StatusResponse]
	info      atomic.Pointer[decoder.HardwareInfoResponse]
	lastEvent atomic.Pointer[dtu.Event]
	startTime time.Time
	log       LogPrintf
}

func newWebSink(conf WebConfig, dtuName string, debug LogPrintf) *webSink {
	listen := conf.Listen
	if listen == "" {
		listen = ":8080"
	}
	return &webSink{listen: listen, dtuName: dtuName, startTime: time.Now(), log: debug}
}

// serve starts the HTTP view in its own goroutine.
func (w *webSink) serve() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/data", func(c *gin.Context) {
		resp := gin.H{
			"dtu":    w.dtuName,
			"uptime": time.Since(w.startTime).Round(time.Second).String(),
		}
		if s := w.status.Load(); s != nil {
			resp["status"] = s
		}
		if i := w.info.Load(); i != nil {
			resp["hardware"] = i
		}
		if ev := w.lastEvent.Load(); ev != nil {
			resp["event"] = ev
		}
		c.JSON(http.StatusOK, resp)
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	go func() {
		log.Printf("HTTP view listening on %s", w.listen)
		if err := r.Run(w.listen); err != nil {
			log.Printf("HTTP view: %s", err)
		}
	}()
}

func (w *webSink) StoreStatus(s *decoder.StatusResponse, inv *dtu.InverterConfig) {
	w.status.Store(s)
}

func (w *webSink) StoreInfo(h *decoder.HardwareInfoResponse, inv *dtu.InverterConfig) {
	w.info.Store(h)
}

func (w *webSink) OnEvent(ev dtu.Event) {
	w.lastEvent.Store(&ev)
}
