package ebus

import "fmt"

// Well-known bus addresses of a Thelia Condens + MiPro installation.
var addressNames = map[byte]string{
	0x00: "broadcast_0",
	0x08: "boiler",
	0x10: "mipro",
	0x15: "room_unit",
	0xFE: "broadcast",
}

// AddressName returns a readable name for a bus address, e.g. "boiler" or
// "device_3F" for addresses without a known role.
func AddressName(addr byte) string {
	if name, ok := addressNames[addr]; ok {
		return name
	}
	return fmt.Sprintf("device_%02X", addr)
}
