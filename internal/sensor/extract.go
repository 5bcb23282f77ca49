package sensor

import (
	"fmt"
	"time"

	"github.com/nerrad567/ebus-bridge/internal/ebus"
)

// B511 query types. The first query byte selects the response layout.
const (
	queryExtendedStatus = 0
	queryLiveTemps      = 1
	querySetpoints      = 2
)

// B511 extended status bits.
const (
	statusFlame   = 0x01
	statusPump    = 0x02
	statusDHW     = 0x04
	statusHeating = 0x80
)

// adjustNotSet marks an unset room setpoint adjustment.
const adjustNotSet = 0x7F

// extractor interprets one message's query and response bytes.
type extractor func(u *update, data, resp []byte)

// extractorFor returns the extractor for a message kind, or nil for
// messages that carry no sensor data.
func extractorFor(kind ebus.MessageKind) extractor {
	switch kind {
	case ebus.MsgStatusTemps:
		return extractStatusTemps
	case ebus.MsgModulation:
		return extractModulation
	case ebus.MsgRoomTemp:
		return extractRoomTemp
	case ebus.MsgDatetime:
		return extractDatetime
	default:
		return nil
	}
}

// update accumulates the readings written while processing one message.
// The aggregator lock is held for its lifetime.
type update struct {
	agg    *Aggregator
	at     time.Time
	result Result
}

func (u *update) set(name string, value any, unit, description string) bool {
	v, ok := u.agg.set(Sample{
		Name:        name,
		Value:       value,
		Unit:        unit,
		Description: description,
		CapturedAt:  u.at,
	})
	if !ok {
		u.result.Rejected = append(u.result.Rejected, name)
		return false
	}
	u.result.Updated = append(u.result.Updated, v)
	return true
}

func extractStatusTemps(u *update, data, resp []byte) {
	queryType, ok := u8At(data, 0)
	if !ok {
		return
	}

	switch queryType {
	case queryLiveTemps:
		if len(resp) < 6 {
			return
		}
		if v, ok := halfAt(resp, 0); ok {
			u.set(FlowTemperature, v, UnitCelsius, "Flow temperature")
		}
		if v, ok := halfAt(resp, 1); ok {
			u.set(ReturnTemperature, v, UnitCelsius, "Return temperature")
		}
		if v, ok := halfAt(resp, 2); ok {
			u.set(StorageTemperatureAux, v, UnitCelsius, "DHW storage (aux sensor)")
		}
		if v, ok := halfAt(resp, 5); ok {
			u.set(DHWTankTemperature, v, UnitCelsius, "DHW cylinder temperature")
		}
		u.deriveDeltaT()

	case queryExtendedStatus:
		if len(resp) < 8 {
			return
		}
		if raw, ok := u8At(resp, 2); ok {
			u.set(WaterPressure, round1(float64(raw)/10), UnitBar, "Water pressure")
		}
		if status, ok := u8At(resp, 7); ok {
			u.set(FlameOn, status&statusFlame != 0, "", "Burner on")
			u.set(PumpRunning, status&statusPump != 0, "", "Pump on")
			u.set(DHWActive, status&statusDHW != 0, "", "DHW mode")
			u.set(HeatingActive, status&statusHeating != 0, "", "Heating mode")
		}

	case querySetpoints:
		if len(resp) < 6 {
			return
		}
		if v, ok := u8At(resp, 0); ok {
			u.set(BurnerModulation, v, UnitPercent, "Modulation level")
		}
		if v, ok := u8At(resp, 1); ok {
			u.set(OutdoorCutoff, v, UnitCelsius, "Summer/winter threshold")
		}
		if v, ok := halfAt(resp, 2); ok {
			u.set(MaxFlowTemperature, v, UnitCelsius, "Max flow limit")
		}
		if v, ok := halfAt(resp, 3); ok {
			u.set(DHWSetpointLocal, v, UnitCelsius, "DHW setpoint (boiler dial)")
		}
		if v, ok := halfAt(resp, 5); ok {
			u.set(DHWSetpoint, v, UnitCelsius, "DHW setpoint (controller)")
		}
	}
}

// deriveDeltaT recomputes the flow/return difference when both inputs are
// fresh.
func (u *update) deriveDeltaT() {
	now := u.agg.now()
	flow, ok := u.agg.freshNumber(FlowTemperature, now)
	if !ok {
		return
	}
	ret, ok := u.agg.freshNumber(ReturnTemperature, now)
	if !ok {
		return
	}
	u.set(DeltaT, round1(flow-ret), UnitCelsius, "Flow - return delta")
	u.set(CondensingPossible, ret < condensingReturnLimit, "", "Condensing mode possible")
}

func extractModulation(u *update, _, resp []byte) {
	if len(resp) < 4 {
		return
	}
	if v, ok := u8At(resp, 0); ok {
		u.set(BurnerModulation, v, UnitPercent, "Modulation level")
	}

	switch u.agg.outdoor {
	case OutdoorTemp16At8:
		u.outdoorTemp16(resp)
	case OutdoorSignedHalfAt1:
		u.outdoorSignedHalf(resp)
	default:
		if !u.outdoorTemp16(resp) {
			u.outdoorSignedHalf(resp)
		}
	}
}

func (u *update) outdoorTemp16(resp []byte) bool {
	v, ok := ebus.DecodeField(ebus.FieldSpec{Offset: 8, Rule: ebus.RuleFixed1256}, resp)
	if !ok {
		return false
	}
	return u.set(OutdoorTemperature, round1(v.(float64)), UnitCelsius, "Outdoor temperature")
}

func (u *update) outdoorSignedHalf(resp []byte) bool {
	v, ok := i8At(resp, 1)
	if !ok {
		return false
	}
	return u.set(OutdoorTemperature, round1(float64(v)/2), UnitCelsius, "Outdoor temperature (backup)")
}

func extractRoomTemp(u *update, data, _ []byte) {
	if len(data) < 2 {
		return
	}
	if v, ok := halfAt(data, 0); ok {
		u.set(RoomTemperature, v, UnitCelsius, "Room temperature")
	}
	if data[1] != adjustNotSet {
		if v, ok := i8At(data, 1); ok {
			u.set(RoomSetpointAdjust, v, "", "Room setpoint adjustment")
		}
	}
}

func extractDatetime(u *update, data, _ []byte) {
	if len(data) < 8 {
		return
	}
	if flags, ok := u8At(data, 0); !ok || flags != 0 {
		return
	}

	h, okH := bcdAt(data, 3)
	m, okM := bcdAt(data, 2)
	s, okS := bcdAt(data, 1)
	if okH && okM && okS && h < 24 && m < 60 && s < 60 {
		u.set(ControllerTime, fmt.Sprintf("%02d:%02d:%02d", h, m, s), "", "Controller time")
	}

	day, okD := bcdAt(data, 4)
	month, okMo := bcdAt(data, 5)
	year, okY := bcdAt(data, 7)
	if okD && okMo && okY && month >= 1 && month <= 12 && day >= 1 && day <= 31 {
		u.set(ControllerDate, fmt.Sprintf("20%02d-%02d-%02d", year, month, day), "", "Controller date")
	}
}

func byteAt(buf []byte, offset int, rule ebus.DecodeRule) (any, bool) {
	return ebus.DecodeField(ebus.FieldSpec{Offset: offset, Rule: rule}, buf)
}

func u8At(buf []byte, offset int) (int, bool) {
	v, ok := byteAt(buf, offset, ebus.RuleU8)
	if !ok {
		return 0, false
	}
	return v.(int), true
}

func i8At(buf []byte, offset int) (int, bool) {
	v, ok := byteAt(buf, offset, ebus.RuleI8)
	if !ok {
		return 0, false
	}
	return v.(int), true
}

func bcdAt(buf []byte, offset int) (int, bool) {
	v, ok := byteAt(buf, offset, ebus.RuleBCD)
	if !ok {
		return 0, false
	}
	return v.(int), true
}

// halfAt decodes a half-degree byte, already at one decimal.
func halfAt(buf []byte, offset int) (float64, bool) {
	v, ok := byteAt(buf, offset, ebus.RuleHalfUnit)
	if !ok {
		return 0, false
	}
	return v.(float64), true
}
