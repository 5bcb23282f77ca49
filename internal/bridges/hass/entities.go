package hass

import (
	"github.com/nerrad567/ebus-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/ebus-bridge/internal/sensor"
)

// Home Assistant component types.
const (
	ComponentSensor       = "sensor"
	ComponentBinarySensor = "binary_sensor"
)

// Entity describes one Home Assistant entity backed by a sensor name.
type Entity struct {
	Key         string // sensor name, e.g. "boiler.flow_temperature"
	Name        string
	Component   string
	DeviceClass string
	Unit        string
	Icon        string
	StateClass  string
}

// Device is the HA device block shared by all entities.
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// DefaultDevice describes the Thelia boiler with its MiPro controller.
func DefaultDevice() Device {
	return Device{
		Identifiers:  []string{"saunier_duval_thelia_condens"},
		Name:         "Saunier Duval Thelia Condens",
		Manufacturer: "Saunier Duval",
		Model:        "Thelia Condens + MiPro",
	}
}

// DefaultEntities returns the published entity map.
func DefaultEntities() []Entity {
	temp := func(key, name, icon string) Entity {
		return Entity{Key: key, Name: name, Component: ComponentSensor,
			DeviceClass: "temperature", Icon: icon, StateClass: "measurement"}
	}
	binary := func(key, name, icon string) Entity {
		return Entity{Key: key, Name: name, Component: ComponentBinarySensor, Icon: icon}
	}

	return []Entity{
		temp(sensor.FlowTemperature, "Boiler Flow Temperature", "mdi:thermometer-chevron-up"),
		temp(sensor.ReturnTemperature, "Boiler Return Temperature", "mdi:thermometer-chevron-down"),
		temp(sensor.DHWTankTemperature, "DHW Cylinder Temp", "mdi:water-boiler"),
		temp(sensor.OutdoorTemperature, "Outdoor Temperature", "mdi:sun-thermometer"),
		{Key: sensor.WaterPressure, Name: "System Pressure", Component: ComponentSensor,
			DeviceClass: "pressure", Icon: "mdi:gauge", StateClass: "measurement"},
		{Key: sensor.BurnerModulation, Name: "Burner Modulation", Component: ComponentSensor,
			Unit: sensor.UnitPercent, Icon: "mdi:fire", StateClass: "measurement"},
		temp(sensor.DeltaT, "Flow-Return Delta", "mdi:vector-difference-ba"),
		temp(sensor.DHWSetpoint, "DHW Setpoint (Target)", "mdi:thermostat"),
		temp(sensor.RoomTemperature, "MiPro Room Temperature", "mdi:sofa"),
		binary(sensor.FlameOn, "Burner Flame", "mdi:fire-alert"),
		binary(sensor.PumpRunning, "Pump Status", "mdi:pump"),
		binary(sensor.HeatingActive, "Heating Mode", "mdi:radiator"),
		binary(sensor.DHWActive, "DHW Charging Mode", "mdi:water-sync"),
	}
}

// unit returns the explicit unit, else one implied by the device class.
func (e Entity) unit() string {
	if e.Unit != "" {
		return e.Unit
	}
	switch e.DeviceClass {
	case "temperature":
		return sensor.UnitCelsius
	case "pressure":
		return sensor.UnitBar
	}
	return ""
}

func (e Entity) component() string {
	if e.Component == "" {
		return ComponentSensor
	}
	return e.Component
}

// discoveryConfig is the retained payload HA reads from the config topic.
type discoveryConfig struct {
	Name              string `json:"name"`
	UniqueID          string `json:"unique_id"`
	StateTopic        string `json:"state_topic"`
	AvailabilityTopic string `json:"availability_topic"`
	Device            Device `json:"device"`
	DeviceClass       string `json:"device_class,omitempty"`
	Unit              string `json:"unit_of_measurement,omitempty"`
	Icon              string `json:"icon,omitempty"`
	StateClass        string `json:"state_class,omitempty"`
}

func (e Entity) discovery(topics mqtt.Topics, device Device) discoveryConfig {
	return discoveryConfig{
		Name:              "Thelia " + e.Name,
		UniqueID:          "thelia_ebus_" + objectID(e.Key),
		StateTopic:        topics.State(e.Key),
		AvailabilityTopic: topics.Status(),
		Device:            device,
		DeviceClass:       e.DeviceClass,
		Unit:              e.unit(),
		Icon:              e.Icon,
		StateClass:        e.StateClass,
	}
}
