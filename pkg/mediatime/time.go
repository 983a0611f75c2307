// Package mediatime provides an exact rational timestamp for audio timelines.
//
// A [Time] is Value/Scale seconds. Buffer durations are naturally expressed in
// the sample rate's timescale (e.g. 1024/44100), so accumulating thousands of
// them with [Time.Add] never drifts the way float64 seconds would.
//
// Arithmetic between two different timescales uses their least common
// multiple. When that multiple does not fit in an int32 the larger of the two
// scales is used and the other operand is rounded to it.
package mediatime

import (
	"fmt"
	"math"
	"math/bits"
	"time"
)

// PreferredScale is the timescale used for user-facing offsets (milliseconds).
const PreferredScale int32 = 1000

// NanoScale is the timescale used by [FromDuration].
const NanoScale int32 = 1_000_000_000

// Time is an exact rational timestamp of Value/Scale seconds. The zero value
// is zero seconds. A non-positive Scale is treated as 1.
type Time struct {
	Value int64
	Scale int32
}

// Zero is zero seconds.
var Zero = Time{}

// New returns value/scale seconds.
func New(value int64, scale int32) Time {
	return Time{Value: value, Scale: scale}
}

// Frames returns the duration of n sample frames at sampleRate.
func Frames(n int64, sampleRate int) Time {
	return Time{Value: n, Scale: int32(sampleRate)}
}

// FromSeconds converts s seconds to a Time with the given scale, rounding to
// the nearest representable value. NaN and infinities map to [Zero].
func FromSeconds(s float64, scale int32) Time {
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return Zero
	}
	if scale <= 0 {
		scale = PreferredScale
	}
	return Time{Value: int64(math.Round(s * float64(scale))), Scale: scale}
}

// FromDuration converts d to a nanosecond-scale Time.
func FromDuration(d time.Duration) Time {
	return Time{Value: int64(d), Scale: NanoScale}
}

func (t Time) scale() int64 {
	if t.Scale <= 0 {
		return 1
	}
	return int64(t.Scale)
}

// Seconds returns t as floating point seconds.
func (t Time) Seconds() float64 {
	return float64(t.Value) / float64(t.scale())
}

// Duration returns t as a [time.Duration], rounded to the nearest nanosecond.
func (t Time) Duration() time.Duration {
	return time.Duration(math.Round(t.Seconds() * float64(time.Second)))
}

// IsZero reports whether t is zero seconds, regardless of scale.
func (t Time) IsZero() bool { return t.Value == 0 }

// Sign returns -1, 0 or +1.
func (t Time) Sign() int {
	switch {
	case t.Value < 0:
		return -1
	case t.Value > 0:
		return 1
	}
	return 0
}

// Convert returns t expressed in scale, rounding half away from zero.
func (t Time) Convert(scale int32) Time {
	if scale <= 0 {
		scale = 1
	}
	from := t.scale()
	if from == int64(scale) {
		return Time{Value: t.Value, Scale: scale}
	}
	return Time{Value: rescale(t.Value, from, int64(scale)), Scale: scale}
}

// Add returns t+u.
func (t Time) Add(u Time) Time {
	a, b, s := common(t, u)
	return Time{Value: a + b, Scale: s}
}

// Sub returns t-u.
func (t Time) Sub(u Time) Time {
	a, b, s := common(t, u)
	return Time{Value: a - b, Scale: s}
}

// Neg returns -t.
func (t Time) Neg() Time { return Time{Value: -t.Value, Scale: t.Scale} }

// Compare returns -1, 0 or +1 depending on whether t is before, equal to or
// after u. The comparison is exact for any pair of scales.
func (t Time) Compare(u Time) int {
	return mulCompare(t.Value, u.scale(), u.Value, t.scale())
}

// Before reports whether t < u.
func (t Time) Before(u Time) bool { return t.Compare(u) < 0 }

// After reports whether t > u.
func (t Time) After(u Time) bool { return t.Compare(u) > 0 }

// Equal reports whether t and u denote the same instant.
func (t Time) Equal(u Time) bool { return t.Compare(u) == 0 }

// Clamp returns t limited to [lo, hi].
func (t Time) Clamp(lo, hi Time) Time {
	if t.Before(lo) {
		return lo
	}
	if t.After(hi) {
		return hi
	}
	return t
}

// MulFloat returns t scaled by f in t's own timescale.
func (t Time) MulFloat(f float64) Time {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Zero
	}
	return Time{Value: int64(math.Round(float64(t.Value) * f)), Scale: t.Scale}
}

// Ratio returns t/u as a float. It returns 0 when u is zero.
func (t Time) Ratio(u Time) float64 {
	if u.Value == 0 {
		return 0
	}
	return t.Seconds() / u.Seconds()
}

// String formats t as seconds with millisecond precision, e.g. "12.345s".
func (t Time) String() string {
	return fmt.Sprintf("%.3fs", t.Seconds())
}

// Min returns the earlier of a and b.
func Min(a, b Time) Time {
	if b.Before(a) {
		return b
	}
	return a
}

// Max returns the later of a and b.
func Max(a, b Time) Time {
	if b.After(a) {
		return b
	}
	return a
}

// common expresses t and u in a shared timescale.
func common(t, u Time) (int64, int64, int32) {
	st, su := t.scale(), u.scale()
	if st == su {
		return t.Value, u.Value, int32(st)
	}
	l := st / gcd(st, su) * su
	if l <= math.MaxInt32 {
		return t.Value * (l / st), u.Value * (l / su), int32(l)
	}
	if st > su {
		return t.Value, rescale(u.Value, su, st), int32(st)
	}
	return rescale(t.Value, st, su), u.Value, int32(su)
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// rescale converts v from scale from to scale to, rounding half away from zero.
func rescale(v, from, to int64) int64 {
	if from == to {
		return v
	}
	neg := v < 0
	if neg {
		v = -v
	}
	hi, lo := bits.Mul64(uint64(v), uint64(to))
	if hi >= uint64(from) {
		// Quotient overflows 64 bits.
		if neg {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	q, r := bits.Div64(hi, lo, uint64(from))
	if r >= uint64(from)-r {
		q++
	}
	out := int64(q)
	if neg {
		out = -out
	}
	return out
}

// mulCompare compares a*b with c*d for positive b and d without overflow.
func mulCompare(a, b, c, d int64) int {
	sa, sc := sign(a), sign(c)
	if sa != sc {
		if sa < sc {
			return -1
		}
		return 1
	}
	if sa == 0 {
		return 0
	}
	ua, uc := uint64(a), uint64(c)
	if sa < 0 {
		ua, uc = uint64(-a), uint64(-c)
	}
	h1, l1 := bits.Mul64(ua, uint64(b))
	h2, l2 := bits.Mul64(uc, uint64(d))
	cmp := 0
	switch {
	case h1 < h2 || (h1 == h2 && l1 < l2):
		cmp = -1
	case h1 > h2 || (h1 == h2 && l1 > l2):
		cmp = 1
	}
	if sa < 0 {
		cmp = -cmp
	}
	return cmp
}

func sign(v int64) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}
