package ebus

import (
	_ "embed"
)

//go:embed tables/thelia.yaml
var defaultTable []byte

// DefaultTable returns the built-in message table for a Saunier Duval
// Thelia Condens boiler with a MiPro controller.
func DefaultTable() ([]MessageSpec, error) {
	return ParseTable(defaultTable)
}
