// Package interval is the sole arbiter of interval-token semantics in
// OakView: parsing, ordering, and bucket-start arithmetic. No other package
// parses an interval token directly (spec §4.2).
package interval

import (
	"fmt"
	"strconv"
	"time"
)

// Unit is the symbolic duration class of an interval token.
type Unit byte

const (
	UnitSecond Unit = 'S'
	UnitMinute Unit = 'm'
	UnitHour   Unit = 'H'
	UnitDay    Unit = 'D'
	UnitWeek   Unit = 'W'
	UnitMonth  Unit = 'M'
	UnitYear   Unit = 'Y'
	UnitTick   Unit = 'T'
	UnitRange  Unit = 'R'
)

// Token is a parsed interval: a count and a unit, e.g. "15m" -> {15, UnitMinute}.
type Token struct {
	Count int
	Unit  Unit
	raw   string
}

func (t Token) String() string {
	if t.raw != "" {
		return t.raw
	}
	return fmt.Sprintf("%d%c", t.Count, t.Unit)
}

// IsCalendar reports whether the token is a variable-duration calendar unit
// (months, years) that must be bucketed from broken-down time rather than
// fixed arithmetic.
func (t Token) IsCalendar() bool {
	return t.Unit == UnitMonth || t.Unit == UnitYear
}

// IsResamplable reports whether the resampler can target this token. Tick
// and range intervals are UI-visible but not resamplable (spec §4.1).
func (t Token) IsResamplable() bool {
	return t.Unit != UnitTick && t.Unit != UnitRange
}

// Parse parses an interval token per the grammar in spec §3: one or more
// digits followed by an optional single-letter unit. No unit, or "m", means
// minutes. Units are case-sensitive ("M" months vs "m" minutes).
func Parse(token string) (Token, error) {
	if token == "" {
		return Token{}, fmt.Errorf("interval: empty token")
	}

	digits := 0
	for digits < len(token) && token[digits] >= '0' && token[digits] <= '9' {
		digits++
	}
	if digits == 0 {
		return Token{}, fmt.Errorf("interval: token %q has no leading count", token)
	}

	count, err := strconv.Atoi(token[:digits])
	if err != nil || count <= 0 {
		return Token{}, fmt.Errorf("interval: invalid count in token %q", token)
	}

	rest := token[digits:]
	var unit Unit
	switch {
	case rest == "":
		unit = UnitMinute
	case len(rest) == 1:
		switch Unit(rest[0]) {
		case UnitSecond, UnitMinute, UnitHour, UnitDay, UnitWeek, UnitMonth, UnitYear, UnitTick, UnitRange:
			unit = Unit(rest[0])
		default:
			return Token{}, fmt.Errorf("interval: unknown unit %q in token %q", rest, token)
		}
	default:
		return Token{}, fmt.Errorf("interval: malformed token %q", token)
	}

	return Token{Count: count, Unit: unit, raw: token}, nil
}

// nominalSeconds gives the token's duration in seconds for fixed-duration
// units, and an approximate duration (30-day months, 365-day years) for
// calendar units -- used for ordering only, never for bucketing.
func nominalSeconds(t Token) int64 {
	n := int64(t.Count)
	switch t.Unit {
	case UnitSecond:
		return n
	case UnitMinute:
		return n * 60
	case UnitHour:
		return n * 3600
	case UnitDay:
		return n * 86400
	case UnitWeek:
		return n * 7 * 86400
	case UnitMonth:
		return n * 30 * 86400
	case UnitYear:
		return n * 365 * 86400
	case UnitTick, UnitRange:
		// Ticks/range bars have no nominal wall-clock duration; the count
		// is returned as-is (so ToMilliseconds("500T") is 500000). Compare
		// does not use this value for them: it orders tick/range tokens
		// ahead of every fixed/calendar unit on its own.
		return n
	}
	return n
}

// ToMilliseconds returns the token's nominal duration in milliseconds, using
// 30-day months and 365-day years for ordering purposes only (spec §4.2).
func ToMilliseconds(token string) (int64, error) {
	t, err := Parse(token)
	if err != nil {
		return 0, err
	}
	return nominalSeconds(t) * 1000, nil
}

// Compare returns a signed total order between two interval tokens: negative
// if a is finer (shorter nominal duration) than b, zero if equal, positive
// if a is coarser. Tick/range tokens are ordered as strictly finer than any
// fixed or calendar unit; among themselves they order by unit (range before
// tick), then by count.
func Compare(a, b Token) int {
	aTick := a.Unit == UnitTick || a.Unit == UnitRange
	bTick := b.Unit == UnitTick || b.Unit == UnitRange

	if aTick != bTick {
		if aTick {
			return -1
		}
		return 1
	}
	if aTick && bTick {
		switch {
		case a.Unit != b.Unit:
			if a.Unit < b.Unit {
				return -1
			}
			return 1
		case a.Count < b.Count:
			return -1
		case a.Count > b.Count:
			return 1
		default:
			return 0
		}
	}

	as, bs := nominalSeconds(a), nominalSeconds(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

// IsFinerThan reports whether a has strictly smaller nominal duration than b.
func IsFinerThan(a, b Token) bool {
	return Compare(a, b) < 0
}

// FinestOf returns the finest (minimum under Compare) token in a non-empty
// set. Panics if tokens is empty -- callers own the non-empty-set invariant.
func FinestOf(tokens []Token) Token {
	if len(tokens) == 0 {
		panic("interval: FinestOf called with empty set")
	}
	finest := tokens[0]
	for _, t := range tokens[1:] {
		if Compare(t, finest) < 0 {
			finest = t
		}
	}
	return finest
}

// monthGroup3 maps a zero-based calendar month (0=Jan) to the
// zero-based month index of the start of its 3-month group (Jan/Apr/Jul/Oct).
func monthGroup3(month int) int { return (month / 3) * 3 }

// monthGroup6 maps a zero-based calendar month to the start of its 6-month
// group (Jan/Jul).
func monthGroup6(month int) int { return (month / 6) * 6 }

// BucketStart computes the start of the bucket containing time (seconds
// since epoch UTC) for the given target interval token.
//
// Fixed-duration intervals use floor(time/targetSeconds)*targetSeconds,
// with weeks aligned to the ISO week anchor (Monday 00:00 UTC) so results
// are deterministic across restarts. Calendar intervals (months, years) are
// computed from UTC broken-down time.
func BucketStart(t int64, token Token) (int64, error) {
	if !token.IsResamplable() {
		return 0, fmt.Errorf("interval: %s is not a resamplable interval", token)
	}

	switch token.Unit {
	case UnitSecond, UnitMinute, UnitHour, UnitDay:
		secs := nominalSeconds(token)
		return floorDiv(t, secs) * secs, nil

	case UnitWeek:
		// Anchor to the most recent Monday 00:00 UTC, then floor to
		// Count-week multiples of that anchored grid.
		tm := time.Unix(t, 0).UTC()
		weekday := int(tm.Weekday())
		if weekday == 0 {
			weekday = 7 // ISO: Sunday is 7
		}
		mondayMidnight := time.Date(tm.Year(), tm.Month(), tm.Day(), 0, 0, 0, 0, time.UTC).
			AddDate(0, 0, -(weekday - 1))
		weeks := int64(token.Count) * 7 * 86400
		epochAnchor := isoWeekEpochAnchor()
		delta := mondayMidnight.Unix() - epochAnchor
		bucketed := floorDiv(delta, weeks)*weeks + epochAnchor
		return bucketed, nil

	case UnitMonth:
		tm := time.Unix(t, 0).UTC()
		month0 := int(tm.Month()) - 1
		var groupStartMonth0 int
		switch token.Count {
		case 1:
			groupStartMonth0 = month0
		case 3:
			groupStartMonth0 = monthGroup3(month0)
		case 6:
			groupStartMonth0 = monthGroup6(month0)
		default:
			// Generic N-month grouping anchored at January of the year,
			// for any N not explicitly named by spec §4.1.
			groupStartMonth0 = (month0 / token.Count) * token.Count
		}
		return time.Date(tm.Year(), time.Month(groupStartMonth0+1), 1, 0, 0, 0, 0, time.UTC).Unix(), nil

	case UnitYear:
		tm := time.Unix(t, 0).UTC()
		yearGroupStart := (tm.Year() / token.Count) * token.Count
		return time.Date(yearGroupStart, time.January, 1, 0, 0, 0, 0, time.UTC).Unix(), nil
	}

	return 0, fmt.Errorf("interval: unhandled unit %q", token.Unit)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// isoWeekEpochAnchor returns the Unix timestamp of a Monday 00:00 UTC close
// to the epoch, used as the fixed reference point for ISO week bucketing.
// 1970-01-05 was a Monday.
func isoWeekEpochAnchor() int64 {
	return time.Date(1970, time.January, 5, 0, 0, 0, 0, time.UTC).Unix()
}
