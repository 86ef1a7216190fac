// Package bar defines the canonical OHLCV record shared by every OakView
// subsystem: providers emit it, the resampler aggregates it, panes display
// it.
package bar

import "fmt"

// Bar is one OHLCV record at a fixed point in time.
//
// Time is seconds-since-epoch UTC. Within a single bar:
// low <= min(open, close) <= max(open, close) <= high.
type Bar struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Validate checks the single-bar OHLC invariant and finiteness.
func (b Bar) Validate() error {
	for name, v := range map[string]float64{
		"open": b.Open, "high": b.High, "low": b.Low, "close": b.Close, "volume": b.Volume,
	} {
		if v != v || v > maxFinite || v < -maxFinite {
			return fmt.Errorf("bar: field %q is not a finite number: %v", name, v)
		}
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar: volume must be non-negative, got %v", b.Volume)
	}
	hi := b.Open
	if b.Close > hi {
		hi = b.Close
	}
	lo := b.Open
	if b.Close < lo {
		lo = b.Close
	}
	if b.Low > lo {
		return fmt.Errorf("bar: low %v exceeds min(open,close) %v", b.Low, lo)
	}
	if b.High < hi {
		return fmt.Errorf("bar: high %v is below max(open,close) %v", b.High, hi)
	}
	return nil
}

// maxFinite guards against +/-Inf without importing math for a single
// constant.
const maxFinite = 1.7976931348623157e+308

// Ascending reports whether bars is strictly ascending by Time with no
// duplicates, the ordering invariant every Bar sequence crossing a core
// boundary must satisfy.
func Ascending(bars []Bar) bool {
	for i := 1; i < len(bars); i++ {
		if bars[i].Time <= bars[i-1].Time {
			return false
		}
	}
	return true
}
