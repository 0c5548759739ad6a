package fixmath

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
)

// Decimals is the number of fractional digits carried by every Wad.
const Decimals = 18

var (
	scale     = big.NewInt(1_000_000_000_000_000_000)
	halfScale = big.NewInt(500_000_000_000_000_000)
)

// Wad is a signed fixed-point decimal with 18 fractional digits.
// The zero value is 0. Values are immutable: every operation returns a
// fresh Wad and never writes through the receiver, so Wad is safe to
// copy and to use as a struct field without deep-copy bookkeeping.
type Wad struct {
	v *big.Int
}

var scratchPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getScratch() *big.Int {
	return scratchPool.Get().(*big.Int)
}

func putScratch(v *big.Int) {
	v.SetInt64(0)
	scratchPool.Put(v)
}

func (w Wad) unwrap() *big.Int {
	if w.v == nil {
		return big.NewInt(0)
	}
	return w.v
}

func wrap(v *big.Int) Wad {
	return Wad{v: v}
}

// Zero returns the Wad 0.
func Zero() Wad {
	return Wad{}
}

// One returns the Wad 1.0.
func One() Wad {
	return FromInt(1)
}

// FromInt returns i scaled to a Wad (i whole units).
func FromInt(i int64) Wad {
	v := big.NewInt(i)
	v.Mul(v, scale)
	return wrap(v)
}

// FromRaw wraps an already-scaled integer value.
func FromRaw(raw *big.Int) Wad {
	return wrap(new(big.Int).Set(raw))
}

// FromRawInt64 wraps an already-scaled int64 value.
func FromRawInt64(raw int64) Wad {
	return wrap(big.NewInt(raw))
}

// Parse converts decimal text ("7000", "-0.005", "12.5") to a Wad.
// Fractional digits beyond 18 are rejected rather than silently dropped.
func Parse(s string) (Wad, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Wad{}, fmt.Errorf("fixmath: empty decimal")
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	if intPart == "" && fracPart == "" {
		return Wad{}, fmt.Errorf("fixmath: malformed decimal %q", s)
	}
	if len(fracPart) > Decimals {
		return Wad{}, fmt.Errorf("fixmath: more than %d fractional digits in %q", Decimals, s)
	}
	if intPart == "" {
		intPart = "0"
	}

	digits := intPart + fracPart + strings.Repeat("0", Decimals-len(fracPart))
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return Wad{}, fmt.Errorf("fixmath: malformed decimal %q", s)
	}
	if neg {
		v.Neg(v)
	}
	return wrap(v), nil
}

// MustParse is Parse for constants known to be well formed.
func MustParse(s string) Wad {
	w, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return w
}

// Add returns w + o.
func (w Wad) Add(o Wad) Wad {
	return wrap(new(big.Int).Add(w.unwrap(), o.unwrap()))
}

// Sub returns w - o.
func (w Wad) Sub(o Wad) Wad {
	return wrap(new(big.Int).Sub(w.unwrap(), o.unwrap()))
}

// Neg returns -w.
func (w Wad) Neg() Wad {
	return wrap(new(big.Int).Neg(w.unwrap()))
}

// Abs returns |w|.
func (w Wad) Abs() Wad {
	return wrap(new(big.Int).Abs(w.unwrap()))
}

// Mul returns w * o / 1e18, rounding half away from zero.
func (w Wad) Mul(o Wad) Wad {
	num := getScratch()
	num.Mul(w.unwrap(), o.unwrap())
	out := roundDiv(num, scale)
	putScratch(num)
	return wrap(out)
}

// Div returns w * 1e18 / o, rounding half away from zero.
func (w Wad) Div(o Wad) Wad {
	num := getScratch()
	num.Mul(w.unwrap(), scale)
	out := roundDiv(num, o.unwrap())
	putScratch(num)
	return wrap(out)
}

// Frac returns w * num / den, rounding half away from zero. It is the
// pro-rata primitive: slicing entry values and baselines by closeAmt/size
// without the double rounding of Mul-then-Div.
func (w Wad) Frac(num, den Wad) Wad {
	prod := getScratch()
	prod.Mul(w.unwrap(), num.unwrap())
	out := roundDiv(prod, den.unwrap())
	putScratch(prod)
	return wrap(out)
}

// roundDiv divides num by den rounding half away from zero. den must be
// nonzero; division by zero is a programming error and panics as with
// native integer division.
func roundDiv(num, den *big.Int) *big.Int {
	quo := new(big.Int)
	rem := getScratch()
	quo.QuoRem(num, den, rem)

	rem.Abs(rem)
	rem.Lsh(rem, 1) // 2*|rem|
	absDen := getScratch()
	absDen.Abs(den)
	if rem.Cmp(absDen) >= 0 {
		if (num.Sign() < 0) != (den.Sign() < 0) {
			quo.Sub(quo, big.NewInt(1))
		} else {
			quo.Add(quo, big.NewInt(1))
		}
	}
	putScratch(rem)
	putScratch(absDen)
	return quo
}

// Cmp compares w to o: -1, 0, or +1.
func (w Wad) Cmp(o Wad) int {
	return w.unwrap().Cmp(o.unwrap())
}

// Sign returns -1, 0, or +1.
func (w Wad) Sign() int {
	return w.unwrap().Sign()
}

// IsZero reports w == 0.
func (w Wad) IsZero() bool {
	return w.Sign() == 0
}

// IsNegative reports w < 0.
func (w Wad) IsNegative() bool {
	return w.Sign() < 0
}

// IsPositive reports w > 0.
func (w Wad) IsPositive() bool {
	return w.Sign() > 0
}

// Equal reports w == o.
func (w Wad) Equal(o Wad) bool {
	return w.Cmp(o) == 0
}

// Min returns the smaller of w and o.
func Min(w, o Wad) Wad {
	if w.Cmp(o) <= 0 {
		return w
	}
	return o
}

// Max returns the larger of w and o.
func Max(w, o Wad) Wad {
	if w.Cmp(o) >= 0 {
		return w
	}
	return o
}

// FloorToMultiple rounds w down toward zero to a multiple of unit.
// unit must be positive. Used for lot-size alignment.
func FloorToMultiple(w, unit Wad) Wad {
	if unit.Sign() <= 0 {
		panic("fixmath: non-positive unit")
	}
	rem := getScratch()
	rem.Rem(w.unwrap(), unit.unwrap())
	out := new(big.Int).Sub(w.unwrap(), rem)
	putScratch(rem)
	return wrap(out)
}

// IsMultipleOf reports whether w is an exact multiple of unit (unit > 0).
func (w Wad) IsMultipleOf(unit Wad) bool {
	if unit.Sign() <= 0 {
		return false
	}
	rem := getScratch()
	rem.Rem(w.unwrap(), unit.unwrap())
	ok := rem.Sign() == 0
	putScratch(rem)
	return ok
}

// Raw returns a copy of the underlying scaled integer.
func (w Wad) Raw() *big.Int {
	return new(big.Int).Set(w.unwrap())
}

// Float64 approximates the value for metrics and display. Never used
// in accounting paths.
func (w Wad) Float64() float64 {
	f := new(big.Float).SetInt(w.unwrap())
	f.Quo(f, new(big.Float).SetInt(scale))
	out, _ := f.Float64()
	return out
}

// String renders canonical decimal text with trailing zeros trimmed.
func (w Wad) String() string {
	v := w.unwrap()
	neg := v.Sign() < 0

	abs := getScratch()
	abs.Abs(v)
	intPart := new(big.Int)
	fracPart := new(big.Int)
	intPart.QuoRem(abs, scale, fracPart)
	putScratch(abs)

	out := intPart.String()
	if fracPart.Sign() != 0 {
		frac := fmt.Sprintf("%018s", fracPart.String())
		frac = strings.TrimRight(frac, "0")
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

// MarshalJSON renders the value as a decimal JSON string.
func (w Wad) MarshalJSON() ([]byte, error) {
	return []byte(`"` + w.String() + `"`), nil
}

// UnmarshalJSON accepts a decimal string or bare JSON number.
func (w *Wad) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}
