package moments

import (
	"math"
	"strconv"
)

// Value is an optional moment. The zero Value is absent, so a quantity that
// was never computed cannot leak into arithmetic as a number.
type Value struct {
	v  float64
	ok bool
}

// Some wraps a present value. NaN and infinities are stored as absent.
func Some(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Value{}
	}
	return Value{v: v, ok: true}
}

// None returns an absent value.
func None() Value { return Value{} }

// Get returns the value and whether it is present.
func (v Value) Get() (float64, bool) { return v.v, v.ok }

// Valid reports whether the value is present.
func (v Value) Valid() bool { return v.ok }

// Or returns the value, or def when absent.
func (v Value) Or(def float64) float64 {
	if !v.ok {
		return def
	}
	return v.v
}

// Map applies f to a present value.
func (v Value) Map(f func(float64) float64) Value {
	if !v.ok {
		return v
	}
	return Some(f(v.v))
}

func (v Value) String() string {
	if !v.ok {
		return "-"
	}
	return strconv.FormatFloat(v.v, 'f', 3, 64)
}

// PowerDb converts a linear power to dB. Non-positive power has no dB value.
func PowerDb(p float64) Value {
	if !(p > 0) {
		return None()
	}
	return Some(10 * math.Log10(p))
}

// LinearPower converts a dB value back to linear power.
func LinearPower(db Value) Value {
	return db.Map(func(x float64) float64 { return math.Pow(10, x/10) })
}

// RatioDb returns 10*log10(num/den). Either side absent or non-positive
// yields an absent ratio rather than a bogus number.
func RatioDb(num, den Value) Value {
	n, okN := num.Get()
	d, okD := den.Get()
	if !okN || !okD || !(n > 0) || !(d > 0) {
		return None()
	}
	return Some(10 * math.Log10(n/d))
}
