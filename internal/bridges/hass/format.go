package hass

import (
	"fmt"
	"strconv"
	"strings"
)

// objectID turns a sensor key into an HA object id.
func objectID(key string) string {
	return strings.ReplaceAll(key, ".", "_")
}

// FormatState renders a sensor value as an MQTT state payload: booleans as
// ON/OFF, numbers without trailing zeros.
func FormatState(v any) string {
	switch x := v.(type) {
	case bool:
		if x {
			return "ON"
		}
		return "OFF"
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
