// Package ebus implements the receive side of the eBus heating field bus.
//
// It turns the raw byte stream captured from a bus adapter into decoded,
// named messages. The pieces are deliberately small and synchronous so a
// caller can chain them without goroutines:
//
//	┌──────────┐  chunk   ┌────────┐  frame   ┌────────┐ Telegram ┌─────────┐
//	│ transport│─────────►│ Framer │─────────►│ Parser │─────────►│ Decoder │──► Message
//	└──────────┘          └────────┘          └────────┘          └─────────┘
//
// # Wire format
//
// Frames are separated by the SYNC byte 0xAA. Literal 0xAA and 0xA9 bytes
// inside a frame are byte-stuffed with the escape byte 0xA9:
//
//	A9 00 → A9
//	A9 01 → AA
//
// A frame carries one telegram:
//
//	QQ ZZ PB SB NN D0..Dn CRC [ACK [NN2 R0..Rm CRC2 [ACK2]]]
//
// The checksum is a CRC-8 with generator polynomial 0x9B. Some devices are
// known to use 0x19 instead; see Polynomial.
//
// # Decoding
//
// Message layouts live in data-driven tables (YAML) keyed by the command
// pair PB/SB. Each field names an offset and a DecodeRule. Fields decode
// independently; a field that is out of range or carries the "not available"
// sentinel is omitted rather than failing the whole message. Commands with no
// table entry decode to an "unknown" message carrying the raw hex.
//
// # Thread Safety
//
// Checksum, Registry and Decoder are immutable after construction and safe for
// concurrent use. Framer holds a buffer and must be used from one goroutine.
package ebus
