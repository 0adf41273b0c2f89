package resource

import (
	"fmt"
	"strconv"
	"strings"
)

// Parameter and attribute names of the file kind.
const (
	ParamPath    = "path"
	ParamRecurse = "recurse"
	ParamSource  = "source"

	AttrCreate   = "create"
	AttrOwner    = "owner"
	AttrGroup    = "group"
	AttrSetUID   = "setuid"
	AttrMode     = "mode"
	AttrChecksum = "checksum"
)

// Params is the parameter set a resource is built from. Keys are parameter
// or attribute names; values are the raw desired values.
type Params map[string]interface{}

// Clone returns a shallow copy of p.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Depth is a recursion depth: off, a bounded number of levels, or unbounded.
type Depth struct {
	// Levels is the remaining number of levels to expand when not Infinite.
	Levels int

	// Infinite never decrements.
	Infinite bool
}

// Expands reports whether a directory at this depth lists its children.
func (d Depth) Expands() bool {
	return d.Infinite || d.Levels > 0
}

// Next returns the depth handed to children.
func (d Depth) Next() Depth {
	if d.Infinite || d.Levels == 0 {
		return d
	}
	return Depth{Levels: d.Levels - 1}
}

// Value returns the parameter value that parses back to d.
func (d Depth) Value() interface{} {
	if d.Infinite {
		return "inf"
	}
	return d.Levels
}

func (d Depth) String() string {
	if d.Infinite {
		return "inf"
	}
	return strconv.Itoa(d.Levels)
}

// ParseDepth converts a recurse value. Accepted: nil or false (off), true
// (unbounded), non-negative integers, numeric strings and strings starting
// with "inf".
func ParseDepth(v interface{}) (Depth, error) {
	switch val := v.(type) {
	case nil:
		return Depth{}, nil
	case bool:
		return Depth{Infinite: val}, nil
	case Depth:
		return val, nil
	case string:
		s := strings.TrimSpace(strings.ToLower(val))
		switch {
		case s == "" || s == "false":
			return Depth{}, nil
		case s == "true" || strings.HasPrefix(s, "inf"):
			return Depth{Infinite: true}, nil
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return Depth{}, fmt.Errorf("recurse must be a non-negative integer, true or inf, got %q", val)
		}
		return Depth{Levels: n}, nil
	default:
		n, ok := toInt(v)
		if !ok || n < 0 {
			return Depth{}, fmt.Errorf("recurse must be a non-negative integer, true or inf, got %v", v)
		}
		return Depth{Levels: n}, nil
	}
}

// toInt converts Go integer kinds (and integral floats, as produced by some
// decoders) to int.
func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

// toBool coerces boolean-like values for sub-bit states.
func toBool(v interface{}) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes", "on", "1":
			return true, nil
		case "false", "no", "off", "0", "":
			return false, nil
		}
	default:
		if n, ok := toInt(v); ok && (n == 0 || n == 1) {
			return n == 1, nil
		}
	}
	return false, fmt.Errorf("expected a boolean, got %v", v)
}
