package plan

import (
	"database/sql/driver"
	"fmt"
)

// Limit is a resource-dimension capacity: either unlimited or a
// concrete non-negative cap. Legacy rows encode unlimited as NULL or
// -1; both decode to Unlimited here and nothing outside this type
// ever compares against -1.
type Limit struct {
	unlimited bool
	value     int64
}

// Unlimited returns the unbounded limit.
func Unlimited() Limit { return Limit{unlimited: true} }

// Capped returns a concrete cap. Negative inputs clamp to zero.
func Capped(n int64) Limit {
	if n < 0 {
		n = 0
	}
	return Limit{value: n}
}

// IsUnlimited reports whether the limit is unbounded.
func (l Limit) IsUnlimited() bool { return l.unlimited }

// Cap returns the concrete cap. Only meaningful when not unlimited.
func (l Limit) Cap() int64 { return l.value }

// Remaining returns the capacity left after allocated has been
// claimed. Unlimited passes through; a concrete limit never goes
// below zero.
func (l Limit) Remaining(allocated int64) Limit {
	if l.unlimited {
		return l
	}
	rest := l.value - allocated
	if rest < 0 {
		rest = 0
	}
	return Capped(rest)
}

// Allows reports whether n more units fit under the limit given the
// amount already allocated.
func (l Limit) Allows(allocated, n int64) bool {
	if l.unlimited {
		return true
	}
	return allocated+n <= l.value
}

func (l Limit) String() string {
	if l.unlimited {
		return "unlimited"
	}
	return fmt.Sprintf("%d", l.value)
}

// MarshalJSON encodes unlimited as null so API consumers keep the
// shape they already parse.
func (l Limit) MarshalJSON() ([]byte, error) {
	if l.unlimited {
		return []byte("null"), nil
	}
	return []byte(fmt.Sprintf("%d", l.value)), nil
}

// Scan decodes a stored limit. NULL and -1 both mean unlimited.
func (l *Limit) Scan(src any) error {
	if src == nil {
		*l = Unlimited()
		return nil
	}
	switch v := src.(type) {
	case int64:
		if v < 0 {
			*l = Unlimited()
		} else {
			*l = Capped(v)
		}
		return nil
	case float64:
		if v < 0 {
			*l = Unlimited()
		} else {
			*l = Capped(int64(v))
		}
		return nil
	default:
		return fmt.Errorf("plan: cannot scan %T into Limit", src)
	}
}

// Value encodes the limit for storage. Unlimited persists as NULL.
func (l Limit) Value() (driver.Value, error) {
	if l.unlimited {
		return nil, nil
	}
	return l.value, nil
}
