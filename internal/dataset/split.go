package dataset

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Split addresses a contiguous slice of a named base split, e.g.
// "train[:90%]", "train[-10%:]", "train[100:200]" or just "test".
type Split struct {
	Name string
	From Bound
	To   Bound
}

// Bound is one end of a slice. A zero Bound with Set false is open.
type Bound struct {
	Set     bool
	Value   float64 // index or percentage, may be negative
	Percent bool
}

var splitRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)(?:\[([^:\]]*):([^:\]]*)\])?$`)

// ParseSplit parses a split string.
func ParseSplit(s string) (Split, error) {
	m := splitRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Split{}, fmt.Errorf("%w: malformed split %q", ErrDataUnavailable, s)
	}
	from, err := parseBound(m[2])
	if err != nil {
		return Split{}, fmt.Errorf("%w: split %q: %v", ErrDataUnavailable, s, err)
	}
	to, err := parseBound(m[3])
	if err != nil {
		return Split{}, fmt.Errorf("%w: split %q: %v", ErrDataUnavailable, s, err)
	}
	return Split{Name: m[1], From: from, To: to}, nil
}

func parseBound(s string) (Bound, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Bound{}, nil
	}
	b := Bound{Set: true}
	if strings.HasSuffix(s, "%") {
		b.Percent = true
		s = strings.TrimSuffix(s, "%")
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Bound{}, fmt.Errorf("bad percentage %q", s)
		}
		if math.Abs(v) > 100 {
			return Bound{}, fmt.Errorf("percentage %g%% out of range", v)
		}
		b.Value = v
		return b, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return Bound{}, fmt.Errorf("bad index %q", s)
	}
	b.Value = float64(v)
	return b, nil
}

// Range resolves the slice against a base split of n examples and returns
// the half-open index range [lo, hi). Percentages round to the closest index.
func (s Split) Range(n int) (lo, hi int) {
	lo = s.From.resolve(n, 0)
	hi = s.To.resolve(n, n)
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

func (b Bound) resolve(n, open int) int {
	if !b.Set {
		return open
	}
	v := b.Value
	if b.Percent {
		v = math.Round(v * float64(n) / 100)
	}
	i := int(v)
	if i < 0 {
		i += n
	}
	return min(max(i, 0), n)
}

// String formats the split back into its canonical string form.
func (s Split) String() string {
	if !s.From.Set && !s.To.Set {
		return s.Name
	}
	return fmt.Sprintf("%s[%s:%s]", s.Name, s.From, s.To)
}

func (b Bound) String() string {
	if !b.Set {
		return ""
	}
	if b.Percent {
		return strconv.FormatFloat(b.Value, 'g', -1, 64) + "%"
	}
	return strconv.Itoa(int(b.Value))
}
