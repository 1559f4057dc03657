package decoder

import (
	"encoding/binary"
	"fmt"

	"github.com/tve/hmdtu/esb"
)

// HardwareInfoResponse is the decoded answer to a DevInform_All request. Fields past the
// end of a short payload stay zero; the inverters have been seen truncating this one.
type HardwareInfoResponse struct {
	Time           int64  `json:"time"`
	InverterSerial string `json:"inverter_ser"`
	InverterName   string `json:"inverter_name"`
	FWVersionMaj   int    `json:"fw_ver_maj"`
	FWVersionMin   int    `json:"fw_ver_min"`
	FWVersionPatch int    `json:"fw_ver_pat"`
	FWBuildYear    int    `json:"fw_build_yyyy"`
	FWBuildMonth   int    `json:"fw_build_mm"`
	FWBuildDay     int    `json:"fw_build_dd"`
	FWBuildHour    int    `json:"fw_build_hh"`
	FWBuildMinute  int    `json:"fw_build_min"`
	HWPartID       int    `json:"fw_hw_id"`
}

func (*HardwareInfoResponse) response() {}

// FWVersion formats the firmware version the way the vendor app shows it.
func (h *HardwareInfoResponse) FWVersion() string {
	return fmt.Sprintf("v%d.%d.%d", h.FWVersionMaj, h.FWVersionMin, h.FWVersionPatch)
}

func decodeHardwareInfo(data []byte, meta Request) (Response, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: %d bytes", esb.ErrShortPayload, len(data))
	}
	u16 := func(off int) int {
		if off+2 > len(data) {
			return 0
		}
		return int(binary.BigEndian.Uint16(data[off:]))
	}

	h := &HardwareInfoResponse{
		Time:           meta.Time.Unix(),
		InverterSerial: meta.InverterSerial,
		InverterName:   meta.InverterName,
	}
	ver := u16(0)
	h.FWVersionMaj = ver / 10000
	h.FWVersionMin = ver / 100 % 100
	h.FWVersionPatch = ver % 100
	h.FWBuildYear = u16(2)
	h.FWBuildMonth = u16(4) / 100
	h.FWBuildDay = u16(4) % 100
	h.FWBuildHour = u16(6) / 100
	h.FWBuildMinute = u16(6) % 100
	h.HWPartID = u16(8)
	return h, nil
}
