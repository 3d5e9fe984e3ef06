package export

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTS converts an export timestamp like "1609459200.000100" into a time.
// The fractional part is microseconds.
func ParseTS(ts string) (time.Time, error) {
	sec, frac, err := splitTS(ts)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, frac*1000).UTC(), nil
}

// LessTS compares two export timestamps numerically. Lexical comparison is
// wrong once the seconds part changes digit count.
func LessTS(a, b string) bool {
	asec, afrac, aerr := splitTS(a)
	bsec, bfrac, berr := splitTS(b)
	if aerr != nil || berr != nil {
		return a < b
	}
	if asec != bsec {
		return asec < bsec
	}
	return afrac < bfrac
}

func splitTS(ts string) (sec, micros int64, err error) {
	s, frac, _ := strings.Cut(ts, ".")
	sec, err = strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse ts %q: %w", ts, err)
	}
	if frac == "" {
		return sec, 0, nil
	}
	// Normalize fraction to microsecond precision.
	if len(frac) > 6 {
		frac = frac[:6]
	}
	for len(frac) < 6 {
		frac += "0"
	}
	micros, err = strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse ts %q: %w", ts, err)
	}
	return sec, micros, nil
}
