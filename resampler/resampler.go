// Package resampler implements deterministic fine-to-coarse OHLCV
// aggregation (spec §4.1), usable both incrementally on live streams and in
// bulk over historical arrays. Bucketing and interval comparisons are
// delegated entirely to package interval; resampler never parses a token
// itself.
package resampler

import (
	"fmt"

	"github.com/epic1st/oakview/bar"
	"github.com/epic1st/oakview/interval"
)

// Kind enumerates the resampler's error taxonomy (spec §7).
type Kind int

const (
	// KindInvalidInterval means the target token failed to parse.
	KindInvalidInterval Kind = iota
	// KindUnsupportedInterval means the target token is tick- or range-based.
	KindUnsupportedInterval
	// KindOutOfOrder means an incoming bar regressed behind the in-flight bucket.
	KindOutOfOrder
)

// Error is the resampler's single error type; callers branch on Kind.
type Error struct {
	Kind Kind
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// BarResampler aggregates a stream of fine-interval bars into a target
// coarser interval. One instance owns exactly one in-flight partial bar; it
// is never shared across panes (spec §5).
type BarResampler struct {
	target  interval.Token
	current *bar.Bar
}

// New constructs a resampler targeting the given interval token. The source
// interval is never needed -- the resampler only reads timestamps.
func New(targetToken string) (*BarResampler, error) {
	tok, err := interval.Parse(targetToken)
	if err != nil {
		return nil, newError(KindInvalidInterval, "resampler: invalid target interval %q: %v", targetToken, err)
	}
	if !tok.IsResamplable() {
		return nil, newError(KindUnsupportedInterval, "resampler: interval %q is tick/range-based and cannot be resampled", targetToken)
	}
	return &BarResampler{target: tok}, nil
}

// AddBar offers one fine-interval source bar to the resampler. It returns a
// just-completed coarse bar when the incoming bar's bucket differs from the
// one in flight, or (nil, nil) when the bar was merged into the in-flight
// bucket. An incoming bar whose time regressed behind the in-flight bucket
// returns an OutOfOrder error and leaves state untouched.
func (r *BarResampler) AddBar(src bar.Bar) (*bar.Bar, error) {
	bucketStart, err := interval.BucketStart(src.Time, r.target)
	if err != nil {
		// Unreachable in practice: New already rejects non-resamplable
		// tokens, so BucketStart cannot fail here. Surfaced defensively.
		return nil, newError(KindUnsupportedInterval, "resampler: %v", err)
	}

	if r.current == nil {
		r.current = seedBar(bucketStart, src)
		return nil, nil
	}

	switch {
	case bucketStart == r.current.Time:
		mergeInto(r.current, src)
		return nil, nil

	case bucketStart > r.current.Time:
		completed := r.current
		r.current = seedBar(bucketStart, src)
		return completed, nil

	default: // bucketStart < r.current.Time
		return nil, newError(KindOutOfOrder,
			"resampler: bar at time %d is before in-flight bucket start %d", src.Time, r.current.Time)
	}
}

// Flush returns the in-flight partial bar, if any, and resets the resampler
// to its empty state. Used at end-of-history or on teardown.
func (r *BarResampler) Flush() *bar.Bar {
	if r.current == nil {
		return nil
	}
	out := r.current
	r.current = nil
	return out
}

// CurrentBar returns a read-only copy of the in-flight partial bar, or nil
// if none is in flight, for live legend "forming candle" display.
func (r *BarResampler) CurrentBar() *bar.Bar {
	if r.current == nil {
		return nil
	}
	cp := *r.current
	return &cp
}

// Target returns the resampler's target interval token.
func (r *BarResampler) Target() string { return r.target.String() }

func seedBar(bucketStart int64, src bar.Bar) *bar.Bar {
	return &bar.Bar{
		Time:   bucketStart,
		Open:   src.Open,
		High:   src.High,
		Low:    src.Low,
		Close:  src.Close,
		Volume: src.Volume,
	}
}

func mergeInto(dst *bar.Bar, src bar.Bar) {
	if src.High > dst.High {
		dst.High = src.High
	}
	if src.Low < dst.Low {
		dst.Low = src.Low
	}
	dst.Close = src.Close
	dst.Volume += src.Volume
}

// Resample is the bulk convenience path: it folds AddBar over a complete,
// sorted source array and flushes at the end, producing exactly the same
// output a caller would get from repeatedly constructing partials (spec §4.1
// idempotence/determinism requirement).
func Resample(targetToken string, bars []bar.Bar) ([]bar.Bar, error) {
	r, err := New(targetToken)
	if err != nil {
		return nil, err
	}

	out := make([]bar.Bar, 0, len(bars))
	for _, b := range bars {
		completed, err := r.AddBar(b)
		if err != nil {
			return nil, err
		}
		if completed != nil {
			out = append(out, *completed)
		}
	}
	if tail := r.Flush(); tail != nil {
		out = append(out, *tail)
	}
	return out, nil
}
