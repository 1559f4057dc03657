package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tve/hmdtu"
	"github.com/tve/hmdtu/dtu"
	"github.com/tve/hmdtu/nrf24"
)

type LogPrintf func(format string, v ...interface{})

// closer is implemented by sinks that hold a connection worth shutting down.
type closer interface {
	Close()
}

func run(configFile string, verbose, check bool) error {
	config, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	logger := LogPrintf(func(format string, v ...interface{}) {})
	if config.Debug || verbose {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		logger = log.Printf
	}

	if len(config.NRF) == 0 {
		return fmt.Errorf("at least one radio must be specified in the config")
	}

	log.Printf("Configuring radio")
	if err := hmdtu.Init(); err != nil {
		return err
	}
	// A single radio serializes the air interface; extra entries are a config mistake.
	if len(config.NRF) > 1 {
		log.Printf("%d radios configured, using the first one", len(config.NRF))
	}
	rc := config.NRF[0]
	if rc.SPISpeed == 0 {
		rc.SPISpeed = 1000000
	}
	spiDev, err := hmdtu.NewSPI(rc.SPIPort, rc.SPISpeed)
	if err != nil {
		return err
	}
	cePin := hmdtu.NewGPIO(rc.CEPin)
	if cePin == nil {
		return fmt.Errorf("cannot open CE pin %q", rc.CEPin)
	}

	if check {
		return probeRadio(spiDev, cePin)
	}

	radio, err := nrf24.New(spiDev, cePin, nrf24.RadioOpts{
		TxPower: rc.TxPower,
		Logger:  nrf24.LogPrintf(logger),
	})
	if err != nil {
		return err
	}
	defer radio.PowerDown()

	log.Printf("Configuring sinks")
	var sinks []dtu.Sink
	if !config.MQTT.Disabled && config.MQTT.Host != "" {
		mq, err := newMqttSink(config.MQTT, config.DTU.Name, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %s", err)
		}
		sinks = append(sinks, mq)
	}
	if !config.InfluxDB.Disabled && config.InfluxDB.URL != "" {
		sinks = append(sinks, newInfluxSink(config.InfluxDB, logger))
	}
	if !config.Redis.Disabled && config.Redis.Addr != "" {
		rs, err := newRedisSink(config.Redis, config.DTU.Name, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %s", err)
		}
		sinks = append(sinks, rs)
	}
	if !config.Volkszaehler.Disabled && config.Volkszaehler.URL != "" {
		sinks = append(sinks, newVzSink(config.Volkszaehler, logger))
	}
	if !config.Web.Disabled {
		web := newWebSink(config.Web, config.DTU.Name, logger)
		web.serve()
		sinks = append(sinks, web)
	}
	defer func() {
		for _, s := range sinks {
			if c, ok := s.(closer); ok {
				c.Close()
			}
		}
	}()

	var sunset *dtu.SunsetHandler
	if !config.Sunset.Disabled && (config.Sunset.Latitude != 0 || config.Sunset.Longitude != 0) {
		sunset = dtu.NewSunsetHandler(config.Sunset.Latitude, config.Sunset.Longitude,
			dtu.LogPrintf(log.Printf))
	} else {
		log.Printf("Sunset disabled")
	}

	h, err := dtu.New(config.dtuConfig(), radio, sinks, dtu.Opts{
		Sunset: sunset,
		Logger: dtu.LogPrintf(logger),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("DTU %s is ready, polling %d inverter(s) every %ds",
		config.DTU.Name, len(config.Inverters), config.Interval)
	err = h.Run(ctx)
	if ctx.Err() != nil {
		log.Printf("Stop by signal")
		return nil
	}
	return err
}

// probeRadio verifies SPI wiring by writing a register and reading it back, the nrf24 has
// no version register to ask.
func probeRadio(dev hmdtu.SPI, ce hmdtu.GPIO) error {
	log.Printf("Checking nrf24...")
	ce.Out(hmdtu.GpioLow)
	var r [2]byte
	if err := dev.Tx([]byte{0x20 | 0x03, 0x01}, r[:]); err != nil { // SETUP_AW = 3 bytes
		return err
	}
	if err := dev.Tx([]byte{0x03, 0}, r[:]); err != nil {
		return err
	}
	if r[1] != 0x01 {
		return fmt.Errorf("  oops, got %#x instead of 0x01, check wiring", r[1])
	}
	dev.Tx([]byte{0x20 | 0x03, 0x03}, r[:]) // restore 5-byte addresses
	log.Printf("  found nrf24: OK!")
	return nil
}

func main() {
	configFile := flag.String("config", "hmdtu.toml", "path to config file")
	verbose := flag.Bool("verbose", false, "enable debug output")
	check := flag.Bool("check", false, "probe the radio chip and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s:\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}
	flag.Parse()

	if err := run(*configFile, *verbose, *check); err != nil {
		fmt.Fprintf(os.Stderr, "Exiting due to error: %s\n", err)
		os.Exit(2)
	}
}
