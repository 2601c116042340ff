package value

import (
	"strconv"

	"github.com/audiograph/flow/internal/ferr"
)

// Convert converts v to the target tag, failing if the value cannot be
// represented in it. Buffer/cfg/midimsg values convert only to their own tag
// and to string (their "<tag>" placeholder text); scalars convert amongst
// themselves via the obvious numeric/string rules.
func Convert(v Value, target Tag) (Value, error) {
	if v.Tag == target {
		return v, nil
	}
	switch target {
	case TagBool:
		switch v.Tag {
		case TagInt:
			return Bool(v.i != 0), nil
		case TagUint:
			return Bool(v.u != 0), nil
		case TagFloat32:
			return Bool(v.f32 != 0), nil
		case TagFloat64:
			return Bool(v.f64 != 0), nil
		case TagString:
			b, err := strconv.ParseBool(v.str)
			if err != nil {
				return Value{}, ferr.Wrap(ferr.TypeMismatch, "", "cannot convert string to bool", err)
			}
			return Bool(b), nil
		}
	case TagInt:
		switch v.Tag {
		case TagBool:
			return Int(boolToInt(v.b)), nil
		case TagUint:
			return Int(int32(v.u)), nil
		case TagFloat32:
			return Int(int32(v.f32)), nil
		case TagFloat64:
			return Int(int32(v.f64)), nil
		case TagString:
			i, err := strconv.ParseInt(v.str, 10, 32)
			if err != nil {
				return Value{}, ferr.Wrap(ferr.TypeMismatch, "", "cannot convert string to int", err)
			}
			return Int(int32(i)), nil
		}
	case TagUint:
		switch v.Tag {
		case TagBool:
			return Uint(uint32(boolToInt(v.b))), nil
		case TagInt:
			if v.i < 0 {
				return Value{}, ferr.New(ferr.TypeMismatch, "cannot convert negative int to uint")
			}
			return Uint(uint32(v.i)), nil
		case TagFloat32:
			return Uint(uint32(v.f32)), nil
		case TagFloat64:
			return Uint(uint32(v.f64)), nil
		case TagString:
			u, err := strconv.ParseUint(v.str, 10, 32)
			if err != nil {
				return Value{}, ferr.Wrap(ferr.TypeMismatch, "", "cannot convert string to uint", err)
			}
			return Uint(uint32(u)), nil
		}
	case TagFloat32:
		switch v.Tag {
		case TagBool:
			return Float32(float32(boolToInt(v.b))), nil
		case TagInt:
			return Float32(float32(v.i)), nil
		case TagUint:
			return Float32(float32(v.u)), nil
		case TagFloat64:
			return Float32(float32(v.f64)), nil
		case TagString:
			f, err := strconv.ParseFloat(v.str, 32)
			if err != nil {
				return Value{}, ferr.Wrap(ferr.TypeMismatch, "", "cannot convert string to float32", err)
			}
			return Float32(float32(f)), nil
		}
	case TagFloat64:
		switch v.Tag {
		case TagBool:
			return Float64(float64(boolToInt(v.b))), nil
		case TagInt:
			return Float64(float64(v.i)), nil
		case TagUint:
			return Float64(float64(v.u)), nil
		case TagFloat32:
			return Float64(float64(v.f32)), nil
		case TagString:
			f, err := strconv.ParseFloat(v.str, 64)
			if err != nil {
				return Value{}, ferr.Wrap(ferr.TypeMismatch, "", "cannot convert string to float64", err)
			}
			return Float64(f), nil
		}
	case TagString:
		return String(v.String()), nil
	}
	return Value{}, ferr.Newf(ferr.TypeMismatch, "no conversion from %s to %s", v.Tag, target)
}

func boolToInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// IsNumeric reports whether t is one of the numeric scalar tags, used by the
// dual-preset interpolation rule (numeric pairs interpolate; everything else
// falls through to the primary value as-is).
func IsNumeric(t Tag) bool {
	return t == TagInt || t == TagUint || t == TagFloat32 || t == TagFloat64
}

// Numeric extracts a float64 view of a numeric value for interpolation math.
func Numeric(v Value) (float64, error) {
	switch v.Tag {
	case TagInt:
		return float64(v.i), nil
	case TagUint:
		return float64(v.u), nil
	case TagFloat32:
		return float64(v.f32), nil
	case TagFloat64:
		return v.f64, nil
	default:
		return 0, ferr.Newf(ferr.TypeMismatch, "value is %s, not numeric", v.Tag)
	}
}

// FromNumeric casts a float64 interpolation result back into the destination
// tag.
func FromNumeric(f float64, target Tag) (Value, error) {
	switch target {
	case TagInt:
		return Int(int32(f)), nil
	case TagUint:
		if f < 0 {
			return Value{}, ferr.New(ferr.TypeMismatch, "negative value for uint target")
		}
		return Uint(uint32(f)), nil
	case TagFloat32:
		return Float32(float32(f)), nil
	case TagFloat64:
		return Float64(f), nil
	default:
		return Value{}, ferr.Newf(ferr.TypeMismatch, "%s is not a numeric target", target)
	}
}
