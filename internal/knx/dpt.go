package knx

import (
	"fmt"
	"math"
)

// Datapoint type encoding limits.
const (
	dpt5MaxRaw      = 255
	dpt9MaxExponent = 15
	dpt9MantissaMax = 2047
	dpt17MaxScene   = 63
	dpt17SceneMask  = 0x3F
)

// EncodeDPT1 encodes a boolean to 1-bit format (DPT 1.xxx).
func EncodeDPT1(value bool) []byte {
	if value {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// DecodeDPT1 decodes a 1-bit value to a boolean.
func DecodeDPT1(data []byte) (bool, error) {
	if len(data) < 1 {
		return false, fmt.Errorf("%w: DPT1 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return (data[0] & 0x01) != 0, nil
}

// EncodeDPT5 encodes a percentage (0-100) as one byte scaled to 0-255
// (DPT 5.001). Out-of-range input is clamped.
func EncodeDPT5(percent float64) []byte {
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	return []byte{uint8(math.Round(percent * dpt5MaxRaw / 100))}
}

// DecodeDPT5 decodes a one-byte scaled value to a percentage (0-100).
func DecodeDPT5(data []byte) (float64, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: DPT5 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return float64(data[0]) * 100 / dpt5MaxRaw, nil
}

// EncodeDPT9 encodes a float to the 2-byte KNX floating point format
// (DPT 9.xxx: temperature, lux, humidity).
//
// Wire layout:
//
//	Byte 0: SEEE EMMM (sign, exponent, mantissa high)
//	Byte 1: MMMM MMMM (mantissa low)
//
// Value = 0.01 * mantissa * 2^exponent.
func EncodeDPT9(value float64) ([]byte, error) {
	if value < -671088.64 || value > 670760.96 {
		return nil, fmt.Errorf("%w: DPT9 value %.2f out of range", ErrEncodingFailed, value)
	}

	var sign uint16
	if value < 0 {
		sign = 0x8000
		value = -value
	}

	exp := 0
	mantissa := value * 100
	for mantissa > dpt9MantissaMax {
		mantissa /= 2
		exp++
	}
	if exp > dpt9MaxExponent {
		return nil, fmt.Errorf("%w: DPT9 exponent overflow for %.2f", ErrEncodingFailed, value)
	}

	m := int16(mantissa)
	if sign != 0 {
		m = -m
	}

	encoded := sign | uint16(exp)<<11 | uint16(m)&0x07FF
	return []byte{byte(encoded >> 8), byte(encoded)}, nil
}

// DecodeDPT9 decodes a 2-byte KNX float.
//
// 0x7FFF is the DPT 9.xxx invalid-data sentinel and decodes to an error.
func DecodeDPT9(data []byte) (float64, error) {
	if len(data) < 2 {
		return 0, fmt.Errorf("%w: DPT9 requires 2 bytes, got %d", ErrDecodingFailed, len(data))
	}

	raw := uint16(data[0])<<8 | uint16(data[1])
	if raw == 0x7FFF {
		return 0, fmt.Errorf("%w: DPT9 invalid value 0x7FFF", ErrDecodingFailed)
	}

	sign := (raw & 0x8000) != 0
	exp := (raw >> 11) & 0x0F
	mantissa := int16(raw & 0x07FF)
	if sign {
		mantissa |= -0x800 // sign extend
	}

	return float64(mantissa) * 0.01 * math.Pow(2, float64(exp)), nil
}

// EncodeDPT17 encodes a scene number (0-63) to one byte (DPT 17.001).
func EncodeDPT17(scene uint8) ([]byte, error) {
	if scene > dpt17MaxScene {
		return nil, fmt.Errorf("%w: DPT17 scene must be 0-%d, got %d", ErrEncodingFailed, dpt17MaxScene, scene)
	}
	return []byte{scene & dpt17SceneMask}, nil
}

// DecodeDPT17 decodes a scene number from one byte.
func DecodeDPT17(data []byte) (uint8, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: DPT17 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return data[0] & dpt17SceneMask, nil
}
