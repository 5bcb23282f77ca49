package sensor

import (
	"fmt"
	"math"
	"time"
)

// Sensor names written by the extractors.
const (
	FlowTemperature       = "boiler.flow_temperature"
	ReturnTemperature     = "boiler.return_temperature"
	StorageTemperatureAux = "boiler.storage_temperature_aux"
	DHWTankTemperature    = "boiler.dhw_tank_temperature"
	DeltaT                = "boiler.delta_t"
	CondensingPossible    = "boiler.condensing_possible"
	WaterPressure         = "boiler.water_pressure"
	FlameOn               = "boiler.flame_on"
	PumpRunning           = "boiler.pump_running"
	DHWActive             = "boiler.dhw_active"
	HeatingActive         = "boiler.heating_active"
	BurnerModulation      = "boiler.burner_modulation"
	DHWSetpointLocal      = "boiler.dhw_setpoint_local"
	OutdoorTemperature    = "boiler.outdoor_temperature"
	OutdoorCutoff         = "mipro.outdoor_cutoff"
	MaxFlowTemperature    = "mipro.max_flow_temp"
	DHWSetpoint           = "mipro.dhw_setpoint"
	RoomTemperature       = "mipro.room_temperature"
	RoomSetpointAdjust    = "mipro.room_setpoint_adjust"
	ControllerTime        = "mipro.time"
	ControllerDate        = "mipro.date"
)

// Units.
const (
	UnitCelsius = "°C"
	UnitBar     = "bar"
	UnitPercent = "%"
)

// condensingReturnLimit is the return temperature below which flue gas can
// condense.
const condensingReturnLimit = 55.0

// Value is one sensor reading.
type Value struct {
	Name        string    `json:"name"`
	Value       any       `json:"value"`
	Unit        string    `json:"unit"`
	Description string    `json:"description"`
	CapturedAt  time.Time `json:"captured_at"`

	// AgeSeconds is filled in by read views, rounded to one decimal.
	AgeSeconds float64 `json:"age_seconds"`
}

// Sample is a candidate reading passed to Aggregator.Set.
type Sample struct {
	Name        string
	Value       any
	Unit        string
	Description string
	CapturedAt  time.Time
}

// Bounds is an inclusive plausibility range for numeric values.
type Bounds struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Contains reports whether v lies within the bounds.
func (b Bounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// Validate checks that Min does not exceed Max.
func (b Bounds) Validate() error {
	if math.IsNaN(b.Min) || math.IsNaN(b.Max) || b.Min > b.Max {
		return fmt.Errorf("%w: min %g > max %g", ErrInvalidBounds, b.Min, b.Max)
	}
	return nil
}

// DefaultBounds returns the plausibility ranges for the built-in sensors.
// Half-degree readings use the nearest representable values, so the flow
// range [0.5, 99.5] admits exactly the readings strictly between 0 and 100.
func DefaultBounds() map[string]Bounds {
	return map[string]Bounds{
		FlowTemperature:       {Min: 0.5, Max: 99.5},
		ReturnTemperature:     {Min: 0.5, Max: 99.5},
		StorageTemperatureAux: {Min: 10, Max: 85},
		DHWTankTemperature:    {Min: 10, Max: 85},
		WaterPressure:         {Min: 0.1, Max: 4.0},
		BurnerModulation:      {Min: 0, Max: 100},
		OutdoorCutoff:         {Min: 5, Max: 30},
		MaxFlowTemperature:    {Min: 40, Max: 90},
		DHWSetpoint:           {Min: 30, Max: 75},
		OutdoorTemperature:    {Min: -40, Max: 50},
		RoomTemperature:       {Min: 5, Max: 40},
		RoomSetpointAdjust:    {Min: -10, Max: 10},
	}
}

// Numeric returns a reading as float64 when it is an integer or float.
func Numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
