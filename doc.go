// github.com/tve/hmdtu is a DTU (data transfer unit) for Hoymiles micro-inverters. It polls
// the inverters over a 2.4GHz NRF24L01(+) radio attached to an SPI bus, reassembles and
// decodes their telemetry and hands the result to output sinks (MQTT, InfluxDB, Redis,
// Volkszähler, a small HTTP view). It uses periph for the low level access to the hardware
// pins. The daemon lives in cmd/hmdtu, the protocol and driver packages are stand-alone.
package hmdtu
