package cron

import (
	"time"

	"github.com/greenlonk/chime/errors"
)

// searchHorizonYears bounds the next-fire search. Any satisfiable
// field combination recurs within a leap cycle, so running past the
// horizon means the expression can never fire (day 30 in February and
// the like).
const searchHorizonYears = 4

// Next computes the first instant strictly after ref at which the
// expression fires in loc. A nil loc means UTC. Local times skipped by
// a forward clock change fire at the first instant after the gap;
// local times that occur twice fire once, at the earlier instant.
// Expressions with no feasible occurrence fail with ErrNoFeasibleTime.
func (s *Spec) Next(ref time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}

	// Candidates are wall-clock readings carried in UTC so that date
	// arithmetic never crosses a real transition. A candidate is
	// materialized into loc only once all five fields match.
	local := ref.In(loc)
	wall := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), 0, 0, time.UTC)
	wall = wall.Add(time.Minute)

	limit := wall.AddDate(searchHorizonYears, 0, 0)
	for !wall.After(limit) {
		if !s.month.match(int(wall.Month())) {
			wall = time.Date(wall.Year(), wall.Month()+1, 1, 0, 0, 0, 0, time.UTC)
			continue
		}
		if !s.matchDay(wall) {
			wall = time.Date(wall.Year(), wall.Month(), wall.Day()+1, 0, 0, 0, 0, time.UTC)
			continue
		}
		if !s.hour.match(wall.Hour()) {
			wall = time.Date(wall.Year(), wall.Month(), wall.Day(), wall.Hour()+1, 0, 0, 0, time.UTC)
			continue
		}
		if !s.minute.match(wall.Minute()) {
			wall = wall.Add(time.Minute)
			continue
		}

		fire, ok := earliestInstant(wall, loc)
		if !ok {
			// The matched wall time was skipped by a forward clock
			// change. Fire at the first wall minute after the gap.
			fire, ok = gapEnd(wall, limit, loc)
			if !ok {
				break
			}
		}
		if fire.After(ref) {
			return fire, nil
		}
		// The match materialized at or before ref: ref sits inside a
		// backward transition and the earlier occurrence has already
		// passed. Keep scanning.
		wall = wall.Add(time.Minute)
	}

	return time.Time{}, errors.Wrapf(errors.ErrNoFeasibleTime,
		"no occurrence of %q within %d years of %s",
		s.expr, searchHorizonYears, ref.In(loc).Format(time.RFC3339))
}

// matchDay applies the crontab day rule: when both day fields are
// restricted a date matches if either one does; a field written with a
// leading `*` leaves the decision entirely to the other.
func (s *Spec) matchDay(t time.Time) bool {
	dom := s.dom.match(t.Day())
	dow := s.dow.match(int(t.Weekday()))
	if s.dom.star || s.dow.star {
		return dom && dow
	}
	return dom || dow
}

// earliestInstant materializes a wall-clock reading into loc. It
// reports false when the wall time does not exist there (forward clock
// change). When the wall time occurs twice, time.Date may resolve to
// either occurrence depending on the zone's UTC offset, so the earlier
// instant is found by probing the usual transition sizes.
func earliestInstant(wall time.Time, loc *time.Location) (time.Time, bool) {
	t := time.Date(wall.Year(), wall.Month(), wall.Day(), wall.Hour(), wall.Minute(), 0, 0, loc)
	if !sameWall(t.In(loc), wall) {
		return time.Time{}, false
	}

	earliest := t
	for _, back := range []time.Duration{30 * time.Minute, time.Hour, 2 * time.Hour} {
		if p := t.Add(-back); sameWall(p.In(loc), wall) && p.Before(earliest) {
			earliest = p
		}
	}
	return earliest, true
}

// gapEnd walks forward from a skipped wall time to the first wall
// minute that exists in loc. Bounded by limit so a degenerate zone
// cannot stall the search.
func gapEnd(wall, limit time.Time, loc *time.Location) (time.Time, bool) {
	for w := wall.Add(time.Minute); !w.After(limit); w = w.Add(time.Minute) {
		if t, ok := earliestInstant(w, loc); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func sameWall(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day() &&
		a.Hour() == b.Hour() && a.Minute() == b.Minute()
}
