package starbind

import (
	"fmt"
	"strconv"

	"go.starlark.net/starlark"

	"github.com/memedit/memedit/pkg/proc"
	"github.com/memedit/memedit/pkg/session"
)

// interfaceToStarlarkValue converts a Go value passed to a script's main
// function into a starlark.Value.
func interfaceToStarlarkValue(v interface{}) starlark.Value {
	switch v := v.(type) {
	case uint8:
		return starlark.MakeUint64(uint64(v))
	case uint16:
		return starlark.MakeUint64(uint64(v))
	case uint32:
		return starlark.MakeUint64(uint64(v))
	case uint64:
		return starlark.MakeUint64(v)
	case uint:
		return starlark.MakeUint64(uint64(v))
	case int8:
		return starlark.MakeInt64(int64(v))
	case int16:
		return starlark.MakeInt64(int64(v))
	case int32:
		return starlark.MakeInt64(int64(v))
	case int64:
		return starlark.MakeInt64(v)
	case int:
		return starlark.MakeInt(v)
	case float64:
		return starlark.Float(v)
	case bool:
		return starlark.Bool(v)
	case string:
		return starlark.String(v)
	case []byte:
		return bytesToStarlark(v)
	case proc.Value:
		return valueToStarlark(v)
	case nil:
		return starlark.None
	case error:
		return starlark.String(v.Error())
	}
	return starlark.String(fmt.Sprintf("%v", v))
}

// valueToStarlark converts a decoded memory value.
func valueToStarlark(v proc.Value) starlark.Value {
	switch v.Type {
	case proc.Float:
		return starlark.Float(v.Float)
	case proc.String:
		return starlark.String(v.Str)
	}
	return starlark.MakeUint64(v.Int)
}

// valueArg returns the single argument of a builtin as the text the
// session parses according to the current data type.
func valueArg(fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (string, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(fnname, args, kwargs, 1, &v); err != nil {
		return "", err
	}
	switch v := v.(type) {
	case starlark.String:
		return string(v), nil
	case starlark.Int:
		return v.String(), nil
	case starlark.Float:
		return strconv.FormatFloat(float64(v), 'g', -1, 64), nil
	}
	return "", fmt.Errorf("%s: unsupported value of type %s", fnname, v.Type())
}

func toAddr(v starlark.Value) (uint64, error) {
	n, ok := v.(starlark.Int)
	if !ok {
		return 0, fmt.Errorf("address must be an int, not %s", v.Type())
	}
	addr, ok := n.Uint64()
	if !ok {
		return 0, fmt.Errorf("address %s out of range", n)
	}
	return addr, nil
}

func bytesToStarlark(buf []byte) *starlark.List {
	r := make([]starlark.Value, len(buf))
	for i := range buf {
		r[i] = starlark.MakeInt(int(buf[i]))
	}
	return starlark.NewList(r)
}

// starlarkToBytes accepts a list or tuple of ints in the range 0..255, or
// a string whose bytes are written as they are.
func starlarkToBytes(v starlark.Value) ([]byte, error) {
	if s, ok := v.(starlark.String); ok {
		return []byte(s), nil
	}
	iterable, ok := v.(starlark.Indexable)
	if !ok {
		return nil, fmt.Errorf("data must be a list of ints or a string, not %s", v.Type())
	}
	r := make([]byte, iterable.Len())
	for i := range r {
		n, err := starlark.AsInt32(iterable.Index(i))
		if err != nil {
			return nil, fmt.Errorf("data[%d]: %v", i, err)
		}
		if n < 0 || n > 0xff {
			return nil, fmt.Errorf("data[%d]: %d is not a byte", i, n)
		}
		r[i] = byte(n)
	}
	return r, nil
}

func candidateToStarlark(c session.CandidateInfo) *starlark.Dict {
	d := starlark.NewDict(4)
	d.SetKey(starlark.String("addr"), starlark.MakeUint64(c.Addr))
	d.SetKey(starlark.String("value"), valueToStarlark(c.Value))
	if c.Region >= 0 {
		d.SetKey(starlark.String("region"), starlark.MakeInt(c.Region+1))
		d.SetKey(starlark.String("kind"), starlark.String(c.Kind.String()))
	} else {
		d.SetKey(starlark.String("region"), starlark.None)
		d.SetKey(starlark.String("kind"), starlark.None)
	}
	return d
}

// regionToStarlark describes region i, indices are 1-based as in the
// terminal commands.
func regionToStarlark(i int, r proc.MemoryRegion, selected bool) *starlark.Dict {
	d := starlark.NewDict(8)
	d.SetKey(starlark.String("index"), starlark.MakeInt(i+1))
	d.SetKey(starlark.String("start"), starlark.MakeUint64(r.Start))
	d.SetKey(starlark.String("end"), starlark.MakeUint64(r.End))
	d.SetKey(starlark.String("size"), starlark.MakeUint64(r.Size))
	d.SetKey(starlark.String("kind"), starlark.String(r.Kind.String()))
	d.SetKey(starlark.String("perms"), starlark.String(r.Perms))
	d.SetKey(starlark.String("path"), starlark.String(r.Path))
	d.SetKey(starlark.String("selected"), starlark.Bool(selected))
	return d
}
