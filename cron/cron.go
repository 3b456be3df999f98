// Package cron parses five-field crontab expressions and computes
// timezone-aware fire times.
//
// The accepted grammar is the standard crontab one: each field
// (minute, hour, day-of-month, month, day-of-week) is `*`, a single
// integer, a range `A-B`, a step `*/N` or `A-B/N`, or a
// comma-separated list of those. Names are not accepted; Sunday is 0.
// Day-of-month and day-of-week combine with the usual crontab rule:
// when both are restricted, a date matches if either one does.
package cron

import (
	"strconv"
	"strings"

	"github.com/greenlonk/chime/errors"
)

// Spec is a parsed cron expression. Construct with Parse; the zero
// value matches nothing.
type Spec struct {
	minute field
	hour   field
	dom    field
	month  field
	dow    field
	expr   string
}

// String returns the expression the Spec was parsed from, with field
// separators normalized to single spaces.
func (s *Spec) String() string { return s.expr }

// field is one parsed cron field: a bitmask of allowed values plus a
// flag recording whether the source began with `*`. The flag matters
// only for the two day fields, where it selects between the AND and
// OR day-matching rules.
type field struct {
	mask uint64
	star bool
}

func (f field) match(v int) bool { return f.mask&(1<<uint(v)) != 0 }

type fieldBounds struct {
	name string
	min  int
	max  int
}

var (
	minuteBounds = fieldBounds{"minute", 0, 59}
	hourBounds   = fieldBounds{"hour", 0, 23}
	domBounds    = fieldBounds{"day", 1, 31}
	monthBounds  = fieldBounds{"month", 1, 12}
	dowBounds    = fieldBounds{"weekday", 0, 6}
)

// Parse validates a five-field crontab expression. Malformed input is
// rejected here, never at evaluation time; returned errors carry
// ErrInvalidSchedule and name the offending field.
func Parse(expr string) (*Spec, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, errors.MarkInvalidSchedule(
			errors.Newf("cron expression %q: expected 5 fields, got %d", expr, len(fields)))
	}

	s := &Spec{expr: strings.Join(fields, " ")}

	var err error
	if s.minute, err = parseField(fields[0], minuteBounds); err != nil {
		return nil, err
	}
	if s.hour, err = parseField(fields[1], hourBounds); err != nil {
		return nil, err
	}
	if s.dom, err = parseField(fields[2], domBounds); err != nil {
		return nil, err
	}
	if s.month, err = parseField(fields[3], monthBounds); err != nil {
		return nil, err
	}
	if s.dow, err = parseField(fields[4], dowBounds); err != nil {
		return nil, err
	}

	return s, nil
}

func parseField(src string, b fieldBounds) (field, error) {
	f := field{star: strings.HasPrefix(src, "*")}
	for _, part := range strings.Split(src, ",") {
		if err := parsePart(part, b, &f.mask); err != nil {
			return field{}, err
		}
	}
	return f, nil
}

// parsePart handles one comma-separated list element: `*`, `N`, `A-B`,
// or either of the first and last with a `/step` suffix.
func parsePart(part string, b fieldBounds, mask *uint64) error {
	if part == "" {
		return errors.MarkInvalidSchedule(
			errors.Newf("%s field: empty list element", b.name))
	}

	base, step := part, 1
	if i := strings.IndexByte(part, '/'); i >= 0 {
		base = part[:i]
		n, err := strconv.Atoi(part[i+1:])
		if err != nil || n < 1 {
			return errors.MarkInvalidSchedule(
				errors.Newf("%s field %q: step %q is not a positive integer", b.name, part, part[i+1:]))
		}
		step = n
	}

	var lo, hi int
	switch {
	case base == "*":
		lo, hi = b.min, b.max
	case strings.Contains(base, "-"):
		a, z, ok := splitRange(base)
		if !ok {
			return errors.MarkInvalidSchedule(
				errors.Newf("%s field %q: malformed range", b.name, part))
		}
		lo, hi = a, z
	default:
		n, err := strconv.Atoi(base)
		if err != nil {
			return errors.MarkInvalidSchedule(
				errors.Newf("%s field %q: not an integer", b.name, part))
		}
		if base != part {
			return errors.MarkInvalidSchedule(
				errors.Newf("%s field %q: step requires a range or *", b.name, part))
		}
		lo, hi = n, n
	}

	if bad, ok := outOfBounds(lo, hi, b); ok {
		err := errors.Newf("%s field %q: value %d out of range %d-%d", b.name, part, bad, b.min, b.max)
		if b.name == dowBounds.name && bad == 7 {
			err = errors.WithHint(err, "weekday runs 0-6 with Sunday as 0")
		}
		return errors.MarkInvalidSchedule(err)
	}
	if lo > hi {
		return errors.MarkInvalidSchedule(
			errors.Newf("%s field %q: range is inverted", b.name, part))
	}

	for v := lo; v <= hi; v += step {
		*mask |= 1 << uint(v)
	}
	return nil
}

func splitRange(s string) (lo, hi int, ok bool) {
	a, z, found := strings.Cut(s, "-")
	if !found || a == "" || z == "" {
		return 0, 0, false
	}
	lo, err := strconv.Atoi(a)
	if err != nil {
		return 0, 0, false
	}
	hi, err = strconv.Atoi(z)
	if err != nil {
		return 0, 0, false
	}
	return lo, hi, true
}

func outOfBounds(lo, hi int, b fieldBounds) (int, bool) {
	if lo < b.min || lo > b.max {
		return lo, true
	}
	if hi < b.min || hi > b.max {
		return hi, true
	}
	return 0, false
}
