// Package config handles loading and validating the eBus bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (EBUSBRIDGE_*)
//   - Validation of required fields
//   - Default value handling
//
// Durations are integer seconds throughout. MQTT credentials should be set
// via environment variables rather than the file.
//
// Usage:
//
//	cfg, err := config.Load(config.ResolvePath(flagPath))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Transport.Type)
package config
