package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tve/hmdtu/decoder"
	"github.com/tve/hmdtu/dtu"
)

// mqttSink publishes decoded records to an MQTT broker using the per-field topic scheme
// the Ahoy ecosystem established, so existing dashboards keep working:
//
//	<root>/<inverter>/ch0/U_AC .. F_AC     the AC phase (ac/<i>/.. per phase if several)
//	<root>/<inverter>/ch<n>/U_DC ..        one set per panel string, 1-based
//	<root>/<inverter>/total/..             sums and global values
type mqttSink struct {
	conn      mqtt.Client
	topicRoot string
	startTime time.Time
	log       LogPrintf
}

func newMqttSink(conf MQTTConfig, dtuName string, debug LogPrintf) (*mqttSink, error) {
	debug("Configuring MQTT: %s:%d", conf.Host, conf.Port)
	mqtt.ERROR = log.New(os.Stderr, "", 0)
	port := conf.Port
	if port == 0 {
		port = 1883
	}
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", conf.Host, port))
	opts.ClientID = dtuName
	opts.Username = conf.User
	opts.Password = conf.Password

	conn := mqtt.NewClient(opts)
	if token := conn.Connect(); !token.WaitTimeout(10 * time.Second) {
		return nil, token.Error()
	}

	root := conf.Topic
	if root == "" {
		root = "hmdtu"
	}
	log.Printf("MQTT connected")
	return &mqttSink{conn: conn, topicRoot: root, startTime: time.Now(), log: debug}, nil
}

func (m *mqttSink) topic(inv *dtu.InverterConfig) string {
	if inv != nil && inv.MQTTTopic != "" {
		return inv.MQTTTopic
	}
	name := "hoymiles"
	if inv != nil && inv.Name != "" {
		name = inv.Name
	}
	return m.topicRoot + "/" + name
}

func (m *mqttSink) StoreStatus(s *decoder.StatusResponse, inv *dtu.InverterConfig) {
	topic := m.topic(inv)

	m.publish(topic+"/time", fmt.Sprintf("%d", s.Time))

	for i, ph := range s.Phases {
		name := "ch0"
		if len(s.Phases) > 1 {
			name = fmt.Sprintf("ac/%d", i)
		}
		m.publish(fmt.Sprintf("%s/%s/U_AC", topic, name), num(ph.Voltage))
		m.publish(fmt.Sprintf("%s/%s/I_AC", topic, name), num(ph.Current))
		m.publish(fmt.Sprintf("%s/%s/P_AC", topic, name), num(ph.Power))
		m.publish(fmt.Sprintf("%s/%s/Q_AC", topic, name), num(ph.ReactivePower))
		m.publish(fmt.Sprintf("%s/%s/F_AC", topic, name), num(ph.Frequency))
	}

	for i, d := range s.Strings {
		name := fmt.Sprintf("ch%d", i+1)
		if d.Name != "" {
			m.publish(fmt.Sprintf("%s/%s/name", topic, name), strings.ReplaceAll(d.Name, " ", "_"))
		}
		m.publish(fmt.Sprintf("%s/%s/U_DC", topic, name), num(d.Voltage))
		m.publish(fmt.Sprintf("%s/%s/I_DC", topic, name), num(d.Current))
		m.publish(fmt.Sprintf("%s/%s/P_DC", topic, name), num(d.Power))
		m.publish(fmt.Sprintf("%s/%s/YieldDay", topic, name), fmt.Sprintf("%d", d.EnergyDaily))
		m.publish(fmt.Sprintf("%s/%s/YieldTotal", topic, name), num(float64(d.EnergyTotal)/1000))
		m.publish(fmt.Sprintf("%s/%s/Irradiation", topic, name), num(d.Irradiation))
	}

	m.publish(topic+"/Temp", num(s.Temperature))
	m.publish(topic+"/total/P_DC", num(s.DCPower()))
	m.publish(topic+"/total/P_AC", num(s.ACPower()))
	m.publish(topic+"/total/total_events", fmt.Sprintf("%d", s.EventCount))
	m.publish(topic+"/total/PF_AC", num(s.PowerFactor))
	m.publish(topic+"/total/YieldTotal", num(float64(s.YieldTotal)/1000))
	m.publish(topic+"/total/YieldToday", num(float64(s.YieldToday)/1000))
	m.publish(topic+"/total/Efficiency", num(s.Efficiency))
}

func (m *mqttSink) StoreInfo(h *decoder.HardwareInfoResponse, inv *dtu.InverterConfig) {
	topic := m.topic(inv)
	m.publish(topic+"/hardware", fmt.Sprintf("%d", h.HWPartID))
	m.publish(topic+"/firmware", fmt.Sprintf("%s@%04d.%02d.%02dT%02d:%02d",
		h.FWVersion(), h.FWBuildYear, h.FWBuildMonth, h.FWBuildDay, h.FWBuildHour, h.FWBuildMinute))
}

func (m *mqttSink) OnEvent(ev dtu.Event) {
	topic := m.topicRoot
	switch ev.Type {
	case dtu.EventSleeping, dtu.EventWakeup:
		m.publish(topic+"/sunrise", ev.Sunrise.Format(time.RFC3339))
		m.publish(topic+"/sunset", ev.Sunset.Format(time.RFC3339))
		if ev.Type == dtu.EventSleeping {
			m.publish(topic+"/status", "sleeping")
		} else {
			m.publish(topic+"/status", "awake")
		}
	case dtu.EventWifiUp:
		m.publish(topic+"/ip_addr", ev.IP)
	default:
		uptime := time.Since(m.startTime).Round(time.Second)
		m.publish(topic+"/uptime", uptime.String())
	}
}

func (m *mqttSink) publish(topic, value string) {
	token := m.conn.Publish(topic, 1, false, value)
	if !token.WaitTimeout(time.Second) {
		m.log("mqtt publish to %s timed out", topic)
	}
}

func (m *mqttSink) Close() {
	m.conn.Disconnect(250)
}

// num formats a measurement value without trailing float noise.
func num(v float64) string {
	return fmt.Sprintf("%g", v)
}
