package proc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DataType selects how search values are encoded in memory.
type DataType uint8

const (
	Int DataType = iota
	Float
	String
)

func (t DataType) String() string {
	switch t {
	case Int:
		return "int"
	case Float:
		return "float"
	case String:
		return "string"
	}
	return fmt.Sprintf("DataType(%d)", uint8(t))
}

// ParseDataType parses the name of a data type as printed by
// DataType.String.
func ParseDataType(s string) (DataType, error) {
	switch strings.ToLower(s) {
	case "int":
		return Int, nil
	case "float":
		return Float, nil
	case "string", "str":
		return String, nil
	}
	return Int, userErrorf("invalid data type %q (must be one of int, float, string)", s)
}

// Settings controls encoding and decoding of every scan, refine and
// write. They are read at call time and never cached by this package.
type Settings struct {
	Width int
	Type  DataType
}

// DefaultSettings returns 4 byte integers.
func DefaultSettings() Settings {
	return Settings{Width: 4, Type: Int}
}

// ValidWidth reports whether w is a supported value width.
func ValidWidth(w int) bool {
	switch w {
	case 1, 2, 4, 8:
		return true
	}
	return false
}

// Validate checks that the width is supported, and that float values
// have a width that maps to an IEEE-754 type.
func (s Settings) Validate() error {
	if !ValidWidth(s.Width) {
		return userErrorf("invalid width %d (must be 1, 2, 4 or 8)", s.Width)
	}
	if s.Type == Float && s.Width != 4 && s.Width != 8 {
		return userErrorf("float values need a width of 4 or 8, not %d", s.Width)
	}
	return nil
}

// Value is a decoded value of one of the supported data types.
type Value struct {
	Type  DataType
	Int   uint64
	Float float64
	Str   string
}

// IntValue returns an integer Value.
func IntValue(v uint64) Value { return Value{Type: Int, Int: v} }

// FloatValue returns a floating point Value.
func FloatValue(v float64) Value { return Value{Type: Float, Float: v} }

// StringValue returns a string Value.
func StringValue(v string) Value { return Value{Type: String, Str: v} }

func (v Value) String() string {
	switch v.Type {
	case Float:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case String:
		return strconv.Quote(v.Str)
	}
	return strconv.FormatUint(v.Int, 10)
}

// ParseValue converts user input into a Value of the type selected by s.
// Integers are unsigned; decimal is the default base and 0x, 0o and 0b
// prefixes are accepted.
func ParseValue(text string, s Settings) (Value, error) {
	if err := s.Validate(); err != nil {
		return Value{}, err
	}
	switch s.Type {
	case Int:
		if strings.HasPrefix(text, "-") {
			return Value{}, &RangeError{Value: text, Width: s.Width}
		}
		base := 10
		if len(text) > 2 && text[0] == '0' && strings.ContainsRune("xXoObB", rune(text[1])) {
			base = 0
		}
		n, err := strconv.ParseUint(text, base, 64)
		if err != nil {
			if errors.Is(err, strconv.ErrRange) {
				return Value{}, &RangeError{Value: text, Width: s.Width}
			}
			return Value{}, userErrorf("invalid integer %q", text)
		}
		if !fits(n, s.Width) {
			return Value{}, &RangeError{Value: text, Width: s.Width}
		}
		return IntValue(n), nil
	case Float:
		f, err := strconv.ParseFloat(text, s.Width*8)
		if err != nil {
			if errors.Is(err, strconv.ErrRange) {
				return Value{}, &RangeError{Value: text, Width: s.Width}
			}
			return Value{}, userErrorf("invalid float %q", text)
		}
		return FloatValue(f), nil
	}
	return StringValue(text), nil
}

func fits(n uint64, width int) bool {
	return width >= 8 || n>>(uint(width)*8) == 0
}

// Encode returns the little-endian in-memory representation of v. Integers
// that do not fit in s.Width bytes are rejected, never truncated.
func Encode(v Value, s Settings) ([]byte, error) {
	if v.Type == String {
		return []byte(v.Str), nil
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	var buf [8]byte
	switch v.Type {
	case Int:
		if !fits(v.Int, s.Width) {
			return nil, &RangeError{Value: strconv.FormatUint(v.Int, 10), Width: s.Width}
		}
		binary.LittleEndian.PutUint64(buf[:], v.Int)
	case Float:
		switch s.Width {
		case 4:
			f := float32(v.Float)
			if math.IsInf(float64(f), 0) && !math.IsInf(v.Float, 0) {
				return nil, &RangeError{Value: v.String(), Width: s.Width}
			}
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(f))
		case 8:
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v.Float))
		}
	default:
		return nil, userErrorf("unknown data type %v", v.Type)
	}
	return buf[:s.Width], nil
}

// Decode interprets b as a value of the type selected by s. Integers are
// little-endian unsigned and b must be exactly s.Width bytes long.
func Decode(b []byte, s Settings) (Value, error) {
	if s.Type == String {
		return StringValue(string(b)), nil
	}
	if err := s.Validate(); err != nil {
		return Value{}, err
	}
	if len(b) != s.Width {
		return Value{}, fmt.Errorf("cannot decode %d bytes with width %d", len(b), s.Width)
	}
	switch s.Type {
	case Float:
		if s.Width == 4 {
			return FloatValue(float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))), nil
		}
		return FloatValue(math.Float64frombits(binary.LittleEndian.Uint64(b))), nil
	}
	var n uint64
	for i := len(b) - 1; i >= 0; i-- {
		n = n<<8 | uint64(b[i])
	}
	return IntValue(n), nil
}
