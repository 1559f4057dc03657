package main

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tve/hmdtu/decoder"
	"github.com/tve/hmdtu/dtu"
)

// Config is the daemon's TOML configuration file.
type Config struct {
	Debug           bool
	DTU             DTUConfig `toml:"dtu"`
	Interval        int       // poll period in seconds
	TransmitRetries int       `toml:"transmit_retries"`
	NRF             []NRFConfig `toml:"nrf"`
	Inverters       []InverterConfig
	Sunset          SunsetConfig
	MQTT            MQTTConfig   `toml:"mqtt"`
	InfluxDB        InfluxConfig `toml:"influxdb"`
	Volkszaehler    VolkszaehlerConfig
	Redis           RedisConfig
	Web             WebConfig
}

type DTUConfig struct {
	Serial string
	Name   string
}

type NRFConfig struct {
	SPIPort  string `toml:"spi_port"` // e.g. /dev/spidev0.0, empty picks the first port
	SPISpeed int64  `toml:"spi_speed"`
	CEPin    string `toml:"ce_pin"`
	TxPower  string // min, low, high, max or 0..3
}

type InverterConfig struct {
	Serial   string
	Name     string
	Disabled bool
	TxPower  string
	Strings  []StringConfig
	MQTT     InverterMQTTConfig `toml:"mqtt"`
}

type StringConfig struct {
	Name     string `toml:"name"`
	MaxPower int    `toml:"s_maxpower"` // panel watt-peak, drives irradiation
}

type InverterMQTTConfig struct {
	Topic string
}

type SunsetConfig struct {
	Disabled  bool
	Latitude  float64
	Longitude float64
	Altitude  float64 // accepted for compatibility, unused
}

type MQTTConfig struct {
	Disabled bool
	Host     string
	Port     int
	User     string
	Password string
	Topic    string // topic root, default hmdtu
}

type InfluxConfig struct {
	Disabled    bool
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

type VolkszaehlerConfig struct {
	Disabled bool
	URL      string // middleware base url
	Channels []VzChannelConfig
}

type VzChannelConfig struct {
	Type string // field name: ac_power, dc_power, yield_total, yield_today, temperature
	UUID string
}

type RedisConfig struct {
	Disabled bool
	Addr     string
	Password string
	DB       int
}

type WebConfig struct {
	Disabled bool
	Listen   string // default :8080
}

// loadConfig reads and minimally validates the TOML config file. The hard validation
// (serials, retry count) happens in dtu.New.
func loadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot access config file: %s", err)
	}
	config := &Config{}
	if err := toml.Unmarshal(raw, config); err != nil {
		return nil, fmt.Errorf("cannot parse config file: %s", err)
	}
	if config.TransmitRetries == 0 {
		config.TransmitRetries = 5
	}
	if config.Interval == 0 {
		config.Interval = 2
	}
	if config.DTU.Name == "" {
		config.DTU.Name = "hmdtu"
	}
	return config, nil
}

// dtuConfig maps the file config onto the core's runtime config.
func (c *Config) dtuConfig() dtu.Config {
	cfg := dtu.Config{
		DTUSerial:       c.DTU.Serial,
		DTUName:         c.DTU.Name,
		Interval:        time.Duration(c.Interval) * time.Second,
		TransmitRetries: c.TransmitRetries,
	}
	for _, inv := range c.Inverters {
		ic := dtu.InverterConfig{
			Serial:    inv.Serial,
			Name:      inv.Name,
			Disabled:  inv.Disabled,
			TxPower:   inv.TxPower,
			MQTTTopic: inv.MQTT.Topic,
		}
		if ic.Name == "" {
			ic.Name = "hoymiles"
		}
		for _, s := range inv.Strings {
			ic.Strings = append(ic.Strings, decoder.StringConfig{Name: s.Name, MaxPower: s.MaxPower})
		}
		cfg.Inverters = append(cfg.Inverters, ic)
	}
	return cfg
}
