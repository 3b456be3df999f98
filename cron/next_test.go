package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenlonk/chime/errors"
)

func mustParse(t *testing.T, expr string) *Spec {
	t.Helper()
	s, err := Parse(expr)
	require.NoError(t, err)
	return s
}

func mustZone(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestNext(t *testing.T) {
	tests := []struct {
		name string
		expr string
		ref  time.Time
		want time.Time
	}{
		{
			name: "advances to the next minute",
			expr: "* * * * *",
			ref:  time.Date(2026, 5, 12, 10, 30, 45, 0, time.UTC),
			want: time.Date(2026, 5, 12, 10, 31, 0, 0, time.UTC),
		},
		{
			name: "strictly after an exact match",
			expr: "30 10 * * *",
			ref:  time.Date(2026, 5, 12, 10, 30, 0, 0, time.UTC),
			want: time.Date(2026, 5, 13, 10, 30, 0, 0, time.UTC),
		},
		{
			name: "sub-minute reference rounds up",
			expr: "*/5 * * * *",
			ref:  time.Date(2026, 5, 12, 10, 4, 59, 500, time.UTC),
			want: time.Date(2026, 5, 12, 10, 5, 0, 0, time.UTC),
		},
		{
			name: "weekday range skips the weekend",
			expr: "0 9 * * 1-5",
			ref:  time.Date(2026, 8, 22, 10, 0, 0, 0, time.UTC), // Saturday
			want: time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC),  // Monday
		},
		{
			name: "hour wraps to the next day",
			expr: "15 14 * * *",
			ref:  time.Date(2026, 5, 12, 14, 16, 0, 0, time.UTC),
			want: time.Date(2026, 5, 13, 14, 15, 0, 0, time.UTC),
		},
		{
			name: "short months are skipped",
			expr: "0 0 31 * *",
			ref:  time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
			want: time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "month field wraps the year",
			expr: "0 0 1 2 *",
			ref:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			want: time.Date(2027, 2, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "leap day waits for a leap year",
			expr: "0 0 29 2 *",
			ref:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			want: time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "restricted weekday with star day",
			expr: "0 0 * * 1",
			ref:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), // Thursday
			want: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), // Monday
		},
		{
			name: "restricted day with star weekday",
			expr: "0 0 15 * *",
			ref:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			want: time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mustParse(t, tt.expr).Next(tt.ref, time.UTC)
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %s, want %s", got, tt.want)
		})
	}
}

// Both day fields restricted: a date matches when either one does.
func TestNextDayFieldsMatchEither(t *testing.T) {
	spec := mustParse(t, "0 0 1,15 * 1")

	ref := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) // Thursday the 1st
	want := []time.Time{
		time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),  // Monday
		time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC), // Monday
		time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), // the 15th, a Thursday
		time.Date(2026, 1, 19, 0, 0, 0, 0, time.UTC), // Monday
	}

	for _, w := range want {
		got, err := spec.Next(ref, time.UTC)
		require.NoError(t, err)
		assert.True(t, got.Equal(w), "got %s, want %s", got, w)
		ref = got
	}
}

func TestNextSequence(t *testing.T) {
	spec := mustParse(t, "*/15 * * * *")

	ref := time.Date(2026, 5, 12, 10, 7, 0, 0, time.UTC)
	want := []int{15, 30, 45, 0, 15}

	for i, minute := range want {
		got, err := spec.Next(ref, time.UTC)
		require.NoError(t, err)
		assert.Equal(t, minute, got.Minute(), "fire %d", i)
		assert.True(t, got.After(ref))
		ref = got
	}
}

// Next must return the earliest matching instant, checked against a
// brute-force minute scan.
func TestNextMinimality(t *testing.T) {
	exprs := []string{"*/20 9-17 * * *", "30 2 * * *", "0 0 * * 0", "45 23 10-20 * 3"}
	ref := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	for _, expr := range exprs {
		spec := mustParse(t, expr)

		got, err := spec.Next(ref, time.UTC)
		require.NoError(t, err)

		var want time.Time
		for c := ref.Truncate(time.Minute).Add(time.Minute); c.Before(ref.AddDate(0, 0, 30)); c = c.Add(time.Minute) {
			if spec.minute.match(c.Minute()) && spec.hour.match(c.Hour()) &&
				spec.month.match(int(c.Month())) && spec.matchDay(c) {
				want = c
				break
			}
		}
		require.False(t, want.IsZero(), "brute force found no match for %q", expr)
		assert.True(t, got.Equal(want), "%q: got %s, want %s", expr, got, want)
	}
}

// Europe/Berlin springs forward 2026-03-29 02:00 -> 03:00 CEST and
// falls back 2026-10-25 03:00 -> 02:00 CET.
func TestNextDSTGap(t *testing.T) {
	berlin := mustZone(t, "Europe/Berlin")
	spec := mustParse(t, "30 2 * * *")

	got, err := spec.Next(time.Date(2026, 3, 28, 12, 0, 0, 0, berlin), berlin)
	require.NoError(t, err)

	// 02:30 does not exist that night; fire at the first instant
	// after the gap.
	want := time.Date(2026, 3, 29, 3, 0, 0, 0, berlin)
	assert.True(t, got.Equal(want), "got %s, want %s", got, want)
	assert.Equal(t, "2026-03-29T01:00:00Z", got.UTC().Format(time.RFC3339))
}

func TestNextDSTGapCollapsesToSingleFire(t *testing.T) {
	berlin := mustZone(t, "Europe/Berlin")
	spec := mustParse(t, "*/30 2 * * *") // 02:00 and 02:30, both skipped

	first, err := spec.Next(time.Date(2026, 3, 28, 12, 0, 0, 0, berlin), berlin)
	require.NoError(t, err)
	assert.True(t, first.Equal(time.Date(2026, 3, 29, 3, 0, 0, 0, berlin)), "got %s", first)

	second, err := spec.Next(first, berlin)
	require.NoError(t, err)
	assert.True(t, second.Equal(time.Date(2026, 3, 30, 2, 0, 0, 0, berlin)), "got %s", second)
}

func TestNextDSTGapUnaffectedHour(t *testing.T) {
	berlin := mustZone(t, "Europe/Berlin")
	spec := mustParse(t, "0 4 * * *")

	got, err := spec.Next(time.Date(2026, 3, 28, 12, 0, 0, 0, berlin), berlin)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-29T02:00:00Z", got.UTC().Format(time.RFC3339))
}

func TestNextDSTFoldFiresAtFirstOccurrence(t *testing.T) {
	berlin := mustZone(t, "Europe/Berlin")
	spec := mustParse(t, "30 2 * * *")

	// 02:30 occurs twice on 2026-10-25: at 00:30 UTC (CEST) and at
	// 01:30 UTC (CET). The fire must be the earlier instant.
	got, err := spec.Next(time.Date(2026, 10, 24, 12, 0, 0, 0, berlin), berlin)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 10, 25, 0, 30, 0, 0, time.UTC)), "got %s", got.UTC())
}

func TestNextDSTFoldStrictlyAfterReference(t *testing.T) {
	berlin := mustZone(t, "Europe/Berlin")

	// Reference just before the first occurrence: fire at it.
	got, err := mustParse(t, "30 2 * * *").Next(time.Date(2026, 10, 25, 0, 29, 0, 0, time.UTC), berlin)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 10, 25, 0, 30, 0, 0, time.UTC)), "got %s", got.UTC())

	// Reference between the two occurrences: the wall time already
	// fired once, so the next fire is the following day.
	got, err = mustParse(t, "30 2 * * *").Next(time.Date(2026, 10, 25, 0, 45, 0, 0, time.UTC), berlin)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 10, 26, 1, 30, 0, 0, time.UTC)), "got %s", got.UTC())

	// Reference inside the repeated hour, after the fold: results stay
	// strictly in the future.
	got, err = mustParse(t, "0 3 * * *").Next(time.Date(2026, 10, 25, 1, 45, 0, 0, time.UTC), berlin)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 10, 25, 2, 0, 0, 0, time.UTC)), "got %s", got.UTC())
}

// America/New_York springs forward 2026-03-08 and falls back
// 2026-11-01; its negative UTC offset exercises the other time.Date
// resolution path.
func TestNextDSTNewYork(t *testing.T) {
	ny := mustZone(t, "America/New_York")

	got, err := mustParse(t, "30 2 * * *").Next(time.Date(2026, 3, 7, 12, 0, 0, 0, ny), ny)
	require.NoError(t, err)
	want := time.Date(2026, 3, 8, 3, 0, 0, 0, ny)
	assert.True(t, got.Equal(want), "got %s, want %s", got, want)
	assert.Equal(t, "2026-03-08T07:00:00Z", got.UTC().Format(time.RFC3339))

	got, err = mustParse(t, "30 1 * * *").Next(time.Date(2026, 10, 31, 12, 0, 0, 0, ny), ny)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 11, 1, 5, 30, 0, 0, time.UTC)), "got %s", got.UTC())
}

func TestNextCrossZoneReference(t *testing.T) {
	berlin := mustZone(t, "Europe/Berlin")
	spec := mustParse(t, "0 9 * * *")

	// 06:59 UTC is 08:59 in Berlin; the 09:00 fire is a minute away.
	got, err := spec.Next(time.Date(2026, 5, 12, 6, 59, 0, 0, time.UTC), berlin)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 5, 12, 7, 0, 0, 0, time.UTC)), "got %s", got.UTC())

	// A minute past the fire, the next one is tomorrow.
	got, err = spec.Next(time.Date(2026, 5, 12, 7, 1, 0, 0, time.UTC), berlin)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 5, 13, 7, 0, 0, 0, time.UTC)), "got %s", got.UTC())
}

func TestNextNoFeasibleTime(t *testing.T) {
	spec := mustParse(t, "0 0 30 2 *")

	got, err := spec.Next(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.UTC)
	require.Error(t, err)
	assert.True(t, errors.IsNoFeasibleTime(err), "error should carry the no-feasible-time mark: %v", err)
	assert.True(t, got.IsZero())
}

func TestNextNilLocationDefaultsToUTC(t *testing.T) {
	got, err := mustParse(t, "0 12 * * *").Next(time.Date(2026, 5, 12, 11, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 5, 12, 12, 0, 0, 0, time.UTC)))
}
