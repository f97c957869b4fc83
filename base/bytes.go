// Package base provides the primitives shared by every other package in
// this module: little-endian byte helpers, a growable ring buffer, error
// kinds, callback containers, and the logging/metrics ambient stack.
package base

// ReadI8 reads a signed 8-bit integer from b.
func ReadI8(b []byte) int8 { return int8(b[0]) }

// ReadU8 reads an unsigned 8-bit integer from b.
func ReadU8(b []byte) uint8 { return b[0] }

// ReadI16 reads a little-endian signed 16-bit integer from b.
func ReadI16(b []byte) int16 { return int16(ReadU16(b)) }

// ReadU16 reads a little-endian unsigned 16-bit integer from b.
func ReadU16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

// ReadI32 reads a little-endian signed 32-bit integer from b.
func ReadI32(b []byte) int32 { return int32(ReadU32(b)) }

// ReadU32 reads a little-endian unsigned 32-bit integer from b.
func ReadU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// WriteI8 writes a signed 8-bit integer into b.
func WriteI8(v int8, b []byte) { b[0] = byte(v) }

// WriteU8 writes an unsigned 8-bit integer into b.
func WriteU8(v uint8, b []byte) { b[0] = v }

// WriteI16 writes a little-endian signed 16-bit integer into b.
func WriteI16(v int16, b []byte) { WriteU16(uint16(v), b) }

// WriteU16 writes a little-endian unsigned 16-bit integer into b.
func WriteU16(v uint16, b []byte) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

// WriteI32 writes a little-endian signed 32-bit integer into b.
func WriteI32(v int32, b []byte) { WriteU32(uint32(v), b) }

// WriteU32 writes a little-endian unsigned 32-bit integer into b.
func WriteU32(v uint32, b []byte) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
