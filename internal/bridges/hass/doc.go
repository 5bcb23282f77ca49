// Package hass publishes the boiler's sensors, alerts and bridge health to
// Home Assistant over MQTT.
//
// Entities are announced through MQTT discovery with retained config
// messages. Sensor states are published periodically, sending only values
// that changed except on a regular full refresh, so Home Assistant recovers
// from missed messages without flooding the broker.
//
// Topics (state prefix "ebus/thelia"):
//
//	ebus/thelia/status                 online|offline (retained, LWT)
//	ebus/thelia/{sensor}               state, ON/OFF for binary sensors
//	ebus/thelia/alerts                 raised alert events
//	ebus/thelia/alerts/active          active alert set (retained)
//	ebus/thelia/messages/{name}        decoded messages (optional)
//	ebus/thelia/health                 bridge health (retained)
//	homeassistant/{component}/ebus_thelia/{object}/config
package hass
