package decoder

// DebugResponse carries an undecoded payload: alarm data, config reads and anything a
// newer inverter firmware sends that has no layout here.
type DebugResponse struct {
	Time           int64  `json:"time"`
	InverterSerial string `json:"inverter_ser"`
	InverterName   string `json:"inverter_name"`
	Command        byte   `json:"command"`
	Payload        []byte `json:"payload"` // without the trailing crc16
}

func (*DebugResponse) response() {}

func decodeDebug(cmd byte, data []byte, meta Request) (Response, error) {
	return &DebugResponse{
		Time:           meta.Time.Unix(),
		InverterSerial: meta.InverterSerial,
		InverterName:   meta.InverterName,
		Command:        cmd,
		Payload:        append([]byte{}, data...),
	}, nil
}
