// Package binutil provides the byte-level WebAssembly primitives shared by
// the Threadify transformer and the Instrumenter: LEB128 codecs, a module
// section walker, and a structured, round-trippable module model.
package binutil

// EncodeULEB128 encodes an unsigned value in LEB128 format.
func EncodeULEB128(v uint32) []byte {
	var result []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		result = append(result, b)
		if v == 0 {
			break
		}
	}
	return result
}

// EncodeULEB64 encodes an unsigned 64-bit value in LEB128 format.
func EncodeULEB64(v uint64) []byte {
	var result []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		result = append(result, b)
		if v == 0 {
			break
		}
	}
	return result
}

// EncodeSLEB128 encodes a signed value in LEB128 format.
func EncodeSLEB128[T int32 | int64](v T) []byte {
	var result []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			result = append(result, b)
			break
		}
		result = append(result, b|0x80)
	}
	return result
}

// DecodeULEB128 decodes an unsigned 32-bit LEB128 value, returning the
// value and the number of bytes consumed.
func DecodeULEB128(data []byte) (uint32, int) {
	var result uint32
	var shift uint32
	for i, b := range data {
		result |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			return result, i + 1
		}
		shift += 7
		if shift > 35 {
			return result, i + 1
		}
	}
	return result, len(data)
}

// DecodeULEB64 decodes an unsigned 64-bit LEB128 value.
func DecodeULEB64(data []byte) (uint64, int) {
	var result uint64
	var shift uint
	for i, b := range data {
		result |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			return result, i + 1
		}
		shift += 7
		if shift > 70 {
			return result, i + 1
		}
	}
	return result, len(data)
}

// DecodeSLEB128 decodes a signed 32-bit LEB128 value.
func DecodeSLEB128(data []byte) (int32, int) {
	var result int64
	var shift uint
	var i int
	var b byte
	for i = 0; i < len(data); i++ {
		b = data[i]
		result |= int64(b&0x7F) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return int32(result), i + 1
}

// DecodeSLEB64 decodes a signed 64-bit LEB128 value.
func DecodeSLEB64(data []byte) (int64, int) {
	var result int64
	var shift uint
	var i int
	var b byte
	for i = 0; i < len(data); i++ {
		b = data[i]
		result |= int64(b&0x7F) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, i + 1
}
