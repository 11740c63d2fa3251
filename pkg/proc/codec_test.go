package proc

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, width := range []int{1, 2, 4, 8} {
		s := Settings{Width: width, Type: Int}
		var max uint64 = math.MaxUint64
		if width < 8 {
			max = 1<<(uint(width)*8) - 1
		}
		for _, v := range []uint64{0, 1, 5, 0x7f, max / 2, max - 1, max} {
			b, err := Encode(IntValue(v), s)
			if err != nil {
				t.Fatalf("width %d: Encode(%d): %v", width, v, err)
			}
			if len(b) != width {
				t.Fatalf("width %d: Encode(%d) returned %d bytes", width, v, len(b))
			}
			got, err := Decode(b, s)
			if err != nil {
				t.Fatalf("width %d: Decode(% x): %v", width, b, err)
			}
			if got.Int != v || got.Type != Int {
				t.Errorf("width %d: round trip of %d returned %v", width, v, got)
			}
		}
	}
}

func TestEncodeLittleEndian(t *testing.T) {
	b, err := Encode(IntValue(0x01020304), Settings{Width: 4, Type: Int})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, []byte{4, 3, 2, 1}) {
		t.Fatalf("got % x", b)
	}
	v, err := Decode([]byte{5, 0, 0, 0}, Settings{Width: 4, Type: Int})
	if err != nil {
		t.Fatal(err)
	}
	if v.Int != 5 {
		t.Fatalf("got %v", v)
	}
}

func TestEncodeRange(t *testing.T) {
	tests := []struct {
		v     uint64
		width int
	}{
		{256, 1},
		{65536, 2},
		{1 << 32, 4},
	}
	for _, tt := range tests {
		_, err := Encode(IntValue(tt.v), Settings{Width: tt.width, Type: Int})
		var re *RangeError
		if !errors.As(err, &re) {
			t.Errorf("Encode(%d, %d): expected RangeError, got %v", tt.v, tt.width, err)
		}
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		text    string
		s       Settings
		want    Value
		wantErr interface{}
	}{
		{"4", Settings{4, Int}, IntValue(4), nil},
		{"010", Settings{4, Int}, IntValue(10), nil},
		{"0x10", Settings{4, Int}, IntValue(16), nil},
		{"0b101", Settings{1, Int}, IntValue(5), nil},
		{"255", Settings{1, Int}, IntValue(255), nil},
		{"256", Settings{1, Int}, Value{}, &RangeError{}},
		{"-1", Settings{4, Int}, Value{}, &RangeError{}},
		{"99999999999999999999999", Settings{8, Int}, Value{}, &RangeError{}},
		{"abc", Settings{4, Int}, Value{}, &UserInputError{}},
		{"1.5", Settings{4, Float}, FloatValue(1.5), nil},
		{"1.5", Settings{2, Float}, Value{}, &UserInputError{}},
		{"1e300", Settings{4, Float}, Value{}, &RangeError{}},
		{"hello", Settings{4, String}, StringValue("hello"), nil},
		{"4", Settings{3, Int}, Value{}, &UserInputError{}},
	}
	for _, tt := range tests {
		got, err := ParseValue(tt.text, tt.s)
		switch want := tt.wantErr.(type) {
		case nil:
			if err != nil {
				t.Errorf("ParseValue(%q, %v): %v", tt.text, tt.s, err)
			} else if got != tt.want {
				t.Errorf("ParseValue(%q, %v) = %v, want %v", tt.text, tt.s, got, tt.want)
			}
		case *RangeError:
			if !errors.As(err, &want) {
				t.Errorf("ParseValue(%q, %v): expected RangeError, got %v", tt.text, tt.s, err)
			}
		case *UserInputError:
			if !errors.As(err, &want) {
				t.Errorf("ParseValue(%q, %v): expected UserInputError, got %v", tt.text, tt.s, err)
			}
		}
	}
}

func TestFloatRoundTrip(t *testing.T) {
	for _, width := range []int{4, 8} {
		s := Settings{Width: width, Type: Float}
		b, err := Encode(FloatValue(-2.25), s)
		if err != nil {
			t.Fatal(err)
		}
		v, err := Decode(b, s)
		if err != nil {
			t.Fatal(err)
		}
		if v.Float != -2.25 {
			t.Errorf("width %d: got %v", width, v)
		}
	}
}

func TestStringEncodingUnpadded(t *testing.T) {
	b, err := Encode(StringValue("hp"), Settings{Width: 8, Type: String})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "hp" {
		t.Fatalf("got %q", b)
	}
}

func TestParseDataType(t *testing.T) {
	for _, name := range []string{"int", "float", "string"} {
		dt, err := ParseDataType(name)
		if err != nil {
			t.Fatal(err)
		}
		if dt.String() != name {
			t.Errorf("ParseDataType(%q).String() = %q", name, dt)
		}
	}
	if _, err := ParseDataType("double"); err == nil {
		t.Error("expected error for unknown type")
	}
}
