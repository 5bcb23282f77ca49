package hass

import "errors"

var (
	// ErrNotConnected is returned when the MQTT client is offline.
	ErrNotConnected = errors.New("hass: mqtt not connected")

	// ErrPublishFailed wraps the first failed publish of a batch.
	ErrPublishFailed = errors.New("hass: publish failed")
)
