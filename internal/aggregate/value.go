package aggregate

import (
	"encoding/json"
	"math"
	"strconv"
)

// Value is a derived number that may be unavailable, for example when its
// denominator was zero. Unavailable values marshal to JSON null.
type Value struct {
	V  float64
	OK bool
}

// Unavailable is the zero Value.
var Unavailable = Value{}

// Of wraps a finite float; NaN and Inf become Unavailable.
func Of(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Unavailable
	}
	return Value{V: v, OK: true}
}

// Div divides num by den, returning Unavailable when den is zero.
func Div(num, den float64) Value {
	if den == 0 {
		return Unavailable
	}
	return Of(num / den)
}

// Format renders the value with prec decimals, or "n/a".
func (v Value) Format(prec int) string {
	if !v.OK {
		return "n/a"
	}
	return strconv.FormatFloat(v.V, 'f', prec, 64)
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.OK {
		return []byte("null"), nil
	}
	return json.Marshal(v.V)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Unavailable
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = Of(f)
	return nil
}
