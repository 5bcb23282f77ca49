// Package sensor folds decoded eBus messages into named, time-stamped
// readings.
//
// The Aggregator owns a map of sensor name to Value. Each decoded message is
// routed to an extractor for its registry name; the extractor interprets the
// telegram bytes (including discriminator bytes such as the B511 query type
// that the positional registry cannot express) and writes readings through
// Set. Values outside their plausibility Bounds are dropped and the previous
// reading is kept.
//
// Reads are filtered by age: a value older than MaxAge is treated exactly
// like one that was never set.
//
// Sensor names are dotted, grouped by the device that reports them:
//
//	boiler.flow_temperature      boiler.water_pressure
//	boiler.return_temperature    boiler.burner_modulation
//	boiler.delta_t (derived)     mipro.room_temperature
package sensor
