/*
Package codec converts between 16-bit controller registers and the values they carry.

All functions are pure. Multi-register values take an explicit WordOrder because
controller families disagree on which register holds the low half of a 32-bit value.
*/
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrValueOutOfRange is returned when a value does not fit the registers it is packed into.
var ErrValueOutOfRange = errors.New("codec: value out of range")

// WordOrder selects which register of a pair carries the low 16 bits of a 32-bit value.
type WordOrder int

const (
	// LowWordFirst stores the low 16 bits in the first (lower addressed) register.
	LowWordFirst WordOrder = iota
	// HighWordFirst stores the high 16 bits in the first register.
	HighWordFirst
)

func (o WordOrder) String() string {
	if o == HighWordFirst {
		return "high-word-first"
	}
	return "low-word-first"
}

// UnmarshalText accepts "low", "low-word-first", "high" and "high-word-first".
func (o *WordOrder) UnmarshalText(text []byte) error {
	switch string(text) {
	case "", "low", "low-word-first":
		*o = LowWordFirst
	case "high", "high-word-first":
		*o = HighWordFirst
	default:
		return fmt.Errorf("codec: unknown word order %q", text)
	}
	return nil
}

// Uint32ToWords splits v across two registers.
func Uint32ToWords(v uint32, order WordOrder) (w0, w1 uint16) {
	lo, hi := uint16(v), uint16(v>>16)
	if order == HighWordFirst {
		return hi, lo
	}
	return lo, hi
}

// WordsToUint32 joins two registers written by Uint32ToWords.
func WordsToUint32(w0, w1 uint16, order WordOrder) uint32 {
	if order == HighWordFirst {
		w0, w1 = w1, w0
	}
	return uint32(w1)<<16 | uint32(w0)
}

// FloatToWords packs an IEEE-754 single precision value into two registers.
func FloatToWords(f float32, order WordOrder) (w0, w1 uint16) {
	return Uint32ToWords(math.Float32bits(f), order)
}

// WordsToFloat is the inverse of FloatToWords. The conversion is a bit
// reinterpretation, so the round trip is exact, NaN payloads included.
func WordsToFloat(w0, w1 uint16, order WordOrder) float32 {
	return math.Float32frombits(WordsToUint32(w0, w1, order))
}

// SignedFromUnsigned16 reinterprets a register as two's complement.
func SignedFromUnsigned16(u uint16) int16 {
	return int16(u)
}

// UnsignedFromSigned16 reinterprets s as the register value that carries it.
func UnsignedFromSigned16(s int16) uint16 {
	return uint16(s)
}

// StringToWords packs s one character per register, zero padded to length.
// Strings longer than length, or holding characters outside 7-bit ASCII, fail
// with ErrValueOutOfRange instead of being truncated.
func StringToWords(s string, length int) ([]uint16, error) {
	if len(s) > length {
		return nil, fmt.Errorf("%w: string of %d characters does not fit %d registers", ErrValueOutOfRange, len(s), length)
	}
	words := make([]uint16, length)
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7F {
			return nil, fmt.Errorf("%w: non ascii character at %d", ErrValueOutOfRange, i)
		}
		words[i] = uint16(s[i])
	}
	return words, nil
}

// WordsToString unpacks registers written by StringToWords. Decoding stops at
// the first zero register.
func WordsToString(words []uint16) string {
	buf := make([]byte, 0, len(words))
	for _, w := range words {
		if w == 0 {
			break
		}
		buf = append(buf, byte(w))
	}
	return string(buf)
}

// Words converts big endian register bytes as carried in a Modbus PDU.
func Words(b []byte) []uint16 {
	words := make([]uint16, len(b)/2)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(b[i*2:])
	}
	return words
}

// Bytes is the inverse of Words.
func Bytes(words ...uint16) []byte {
	b := make([]byte, 2*len(words))
	for i, w := range words {
		binary.BigEndian.PutUint16(b[i*2:], w)
	}
	return b
}
