// Package mqtt provides the MQTT client used to publish bridge state.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS and retain flags
//   - A retained availability topic with an "offline" Last Will
//   - Topic builders for sensor states, alerts, decoded messages and
//     Home Assistant discovery
//
// # Usage
//
//	topics := mqtt.NewTopics(cfg.HomeAssistant.StatePrefix)
//	client, err := mqtt.Connect(cfg.MQTT, topics)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.Publish(topics.State("water_pressure"), []byte("1.6"), 1, false)
package mqtt
