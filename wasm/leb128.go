package wasm

import "errors"

// ErrOverflow is returned when a LEB128 value exceeds the maximum bit width.
var ErrOverflow = errors.New("leb128: overflow")

// AppendULEB128 appends v as unsigned LEB128.
func AppendULEB128(dst []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		dst = append(dst, b)
		if v == 0 {
			return dst
		}
	}
}

// AppendSLEB128 appends v as signed LEB128.
func AppendSLEB128(dst []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// EncodeULEB128 encodes v as unsigned LEB128.
func EncodeULEB128(v uint32) []byte {
	return AppendULEB128(nil, v)
}

// appendName appends a length-prefixed UTF-8 name.
func appendName(dst []byte, s string) []byte {
	dst = AppendULEB128(dst, uint32(len(s)))
	return append(dst, s...)
}

// appendSection appends a section header and body.
func appendSection(dst []byte, id byte, body []byte) []byte {
	dst = append(dst, id)
	dst = AppendULEB128(dst, uint32(len(body)))
	return append(dst, body...)
}
