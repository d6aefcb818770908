package codec

import "fmt"

// Enum is an immutable bidirectional map between register codes and symbolic names.
type Enum struct {
	names map[uint16]string
	codes map[string]uint16
}

// NewEnum builds an Enum from code to name. It panics when two codes share a
// name, since the inverse would be ambiguous.
func NewEnum(names map[uint16]string) Enum {
	e := Enum{
		names: make(map[uint16]string, len(names)),
		codes: make(map[string]uint16, len(names)),
	}
	for code, name := range names {
		if prev, ok := e.codes[name]; ok {
			panic(fmt.Sprintf("codec: enum name %q used by %d and %d", name, prev, code))
		}
		e.names[code] = name
		e.codes[name] = code
	}
	return e
}

// Name returns the symbolic name of code.
func (e Enum) Name(code uint16) (string, bool) {
	name, ok := e.names[code]
	return name, ok
}

// Code returns the register code of name.
func (e Enum) Code(name string) (uint16, bool) {
	code, ok := e.codes[name]
	return code, ok
}

// MustCode is Code for names known at compile time.
func (e Enum) MustCode(name string) uint16 {
	code, ok := e.codes[name]
	if !ok {
		panic(fmt.Sprintf("codec: enum has no name %q", name))
	}
	return code
}

// Len returns the number of entries.
func (e Enum) Len() int {
	return len(e.names)
}
