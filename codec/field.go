package codec

import (
	"fmt"
	"math"
)

// Kind is the encoding of a register map entry.
type Kind int

const (
	// Unsigned is one register read as uint16.
	Unsigned Kind = iota
	// Signed is one register read as int16.
	Signed
	// Long is two registers read as uint32.
	Long
	// Float is two registers read as an IEEE-754 float32.
	Float
	// String is Count registers holding one ASCII character each.
	String
)

var kindNames = map[Kind]string{
	Unsigned: "unsigned",
	Signed:   "signed",
	Long:     "long",
	Float:    "float",
	String:   "string",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// UnmarshalText parses the names returned by String.
func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("codec: unknown register kind %q", text)
}

// Field associates a semantic value with the registers that hold it.
type Field struct {
	Register uint16
	Kind     Kind
	// Count is the register count of a String field.
	Count int
	Order WordOrder
	// Scale divides decoded numbers and multiplies encoded ones. Zero means 1.
	Scale float64
	// Input selects input registers instead of holding registers.
	Input bool
}

// Quantity returns the number of registers the field spans.
func (f Field) Quantity() uint16 {
	switch f.Kind {
	case Long, Float:
		return 2
	case String:
		if f.Count <= 0 {
			return 1
		}
		return uint16(f.Count)
	}
	return 1
}

// Indexed returns the field of the n-th (1-based) instance of a repeated block.
func (f Field) Indexed(n int, stride uint16) Field {
	f.Register += uint16(n-1) * stride
	return f
}

// Value is a decoded register value. Text is set for String fields only.
type Value struct {
	Number float64
	Text   string
}

func (f Field) scale() float64 {
	if f.Scale == 0 {
		return 1
	}
	return f.Scale
}

// Decode converts the registers read for f.
func (f Field) Decode(words []uint16) (Value, error) {
	if len(words) < int(f.Quantity()) {
		return Value{}, fmt.Errorf("codec: %s field at %d needs %d registers, got %d", f.Kind, f.Register, f.Quantity(), len(words))
	}
	var v Value
	switch f.Kind {
	case Unsigned:
		v.Number = float64(words[0])
	case Signed:
		v.Number = float64(SignedFromUnsigned16(words[0]))
	case Long:
		v.Number = float64(WordsToUint32(words[0], words[1], f.Order))
	case Float:
		v.Number = float64(WordsToFloat(words[0], words[1], f.Order))
	case String:
		v.Text = WordsToString(words[:f.Quantity()])
		return v, nil
	default:
		return Value{}, fmt.Errorf("codec: unknown register kind %d", f.Kind)
	}
	v.Number /= f.scale()
	return v, nil
}

// Encode converts v to the registers written for f. Integer kinds round
// the scaled number to the nearest integer.
func (f Field) Encode(v Value) ([]uint16, error) {
	n := v.Number * f.scale()
	if f.Kind != String && (math.IsNaN(n) || math.IsInf(n, 0)) {
		return nil, fmt.Errorf("%w: %v is not a finite number", ErrValueOutOfRange, v.Number)
	}
	if f.Kind != Float {
		n = math.Round(n)
	}
	switch f.Kind {
	case Unsigned:
		if n < 0 || n > math.MaxUint16 {
			return nil, fmt.Errorf("%w: %v is not an unsigned 16-bit value", ErrValueOutOfRange, n)
		}
		return []uint16{uint16(n)}, nil
	case Signed:
		if n < math.MinInt16 || n > math.MaxInt16 {
			return nil, fmt.Errorf("%w: %v is not a signed 16-bit value", ErrValueOutOfRange, n)
		}
		return []uint16{UnsignedFromSigned16(int16(n))}, nil
	case Long:
		if n < 0 || n > math.MaxUint32 {
			return nil, fmt.Errorf("%w: %v is not an unsigned 32-bit value", ErrValueOutOfRange, n)
		}
		w0, w1 := Uint32ToWords(uint32(n), f.Order)
		return []uint16{w0, w1}, nil
	case Float:
		w0, w1 := FloatToWords(float32(n), f.Order)
		return []uint16{w0, w1}, nil
	case String:
		return StringToWords(v.Text, int(f.Quantity()))
	}
	return nil, fmt.Errorf("codec: unknown register kind %d", f.Kind)
}
