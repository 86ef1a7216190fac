// Package provider defines the abstract capability set every OakView data
// source must satisfy (spec §4.3): required historical fetch and teardown,
// plus optional capabilities probed via type assertion. The probe is made
// on each use (every Negotiate call, every coordinator rebalance); its
// result is not cached per provider. Concrete providers live outside the
// core; this package imports none.
package provider

import (
	"context"

	"github.com/epic1st/oakview/bar"
	"github.com/epic1st/oakview/interval"
)

// SymbolRecord is one result of an optional symbol search.
type SymbolRecord struct {
	Symbol      string
	Description string
	Exchange    string
	Type        string
}

// Kind enumerates the provider-facing error taxonomy (spec §7).
type Kind int

const (
	KindUnknownSymbol Kind = iota
	KindUnknownInterval
	KindTransport
	KindMalformed
	KindCapabilityMissing
)

// Error is the provider package's single error type.
type Error struct {
	Kind     Kind
	Symbol   string
	Interval string
	Wrapped  error
	msg      string
}

func (e *Error) Error() string {
	if e.msg != "" {
		return e.msg
	}
	if e.Wrapped != nil {
		return e.Wrapped.Error()
	}
	return "provider error"
}

func (e *Error) Unwrap() error { return e.Wrapped }

func newErr(kind Kind, symbol, iv string, wrapped error, msg string) *Error {
	return &Error{Kind: kind, Symbol: symbol, Interval: iv, Wrapped: wrapped, msg: msg}
}

// Provider is the required capability set: historical fetch and resource
// teardown. Every concrete data source implements at least this.
type Provider interface {
	// FetchHistorical returns an ascending, deduplicated, validated bar
	// array for symbol at interval.
	FetchHistorical(ctx context.Context, symbol, interval string) ([]bar.Bar, error)
	// Disconnect releases all provider-held resources. Idempotent.
	Disconnect() error
}

// Initializer is an optional one-shot setup capability.
type Initializer interface {
	Initialize(ctx context.Context, config map[string]any) error
}

// UnsubscribeFunc cancels a subscription. Synchronous and idempotent.
type UnsubscribeFunc func()

// Subscriber is the optional real-time capability. The callback is invoked
// with a full Bar each time a bar completes or an in-flight bar updates.
// Implementations must reference-count multiple Subscribe calls for the
// same (symbol, interval) so the wire-level subscription is created on the
// 0->1 transition and torn down on the 1->0 transition (spec §4.3).
type Subscriber interface {
	Subscribe(symbol, interval string, callback func(bar.Bar)) (UnsubscribeFunc, error)
}

// BaseIntervalProvider declares the finest interval a provider natively
// supplies for a symbol.
type BaseIntervalProvider interface {
	GetBaseInterval(symbol string) (string, bool)
}

// AvailableIntervalsProvider declares an explicit whitelist of intervals a
// provider serves natively. A nil slice with ok=true means "all intervals
// the client can resample to are acceptable" (spec §4.3); ok=false means the
// capability is effectively absent for this symbol.
type AvailableIntervalsProvider interface {
	GetAvailableIntervals(symbol string) (intervals []string, ok bool)
}

// SymbolSearcher is the optional symbol-search capability.
type SymbolSearcher interface {
	SearchSymbols(ctx context.Context, query string) ([]SymbolRecord, error)
}

// Negotiate implements the capability negotiation of spec §4.3 for a
// requested (symbol, interval): it decides whether to fetch directly at the
// requested interval or fetch at the provider's declared base interval and
// resample client-side, and returns the resulting bars already at the
// requested interval.
//
// resample is the caller-supplied resampling function (kept as a parameter,
// not a direct dependency on package resampler, so this package stays a
// pure contract with no coupling to the aggregation engine).
func Negotiate(
	ctx context.Context,
	p Provider,
	symbol, requestedInterval string,
	resample func(targetInterval string, bars []bar.Bar) ([]bar.Bar, error),
) ([]bar.Bar, error) {
	baseProvider, hasBase := p.(BaseIntervalProvider)
	if !hasBase {
		if err := checkWhitelisted(p, symbol, requestedInterval); err != nil {
			return nil, err
		}
		return p.FetchHistorical(ctx, symbol, requestedInterval)
	}

	base, ok := baseProvider.GetBaseInterval(symbol)
	if !ok || base == requestedInterval {
		if err := checkWhitelisted(p, symbol, requestedInterval); err != nil {
			return nil, err
		}
		return p.FetchHistorical(ctx, symbol, requestedInterval)
	}

	baseTok, err := interval.Parse(base)
	if err != nil {
		return nil, newErr(KindMalformed, symbol, base, err, "provider: base interval is unparsable")
	}
	reqTok, err := interval.Parse(requestedInterval)
	if err != nil {
		return nil, newErr(KindUnknownInterval, symbol, requestedInterval, err, "provider: requested interval is unparsable")
	}

	switch {
	case interval.IsFinerThan(baseTok, reqTok):
		// Requested is coarser than base: fetch at base, resample client-side.
		if err := checkWhitelisted(p, symbol, base); err != nil {
			return nil, err
		}
		bars, err := p.FetchHistorical(ctx, symbol, base)
		if err != nil {
			return nil, err
		}
		return resample(requestedInterval, bars)

	default:
		// Requested is finer than or equal to base: attempt direct fetch,
		// the provider may still support finer-than-base on demand.
		// Propagate any error rather than inventing data (spec §4.3 point 3,
		// resolved per SPEC_FULL.md Open Questions).
		if err := checkWhitelisted(p, symbol, requestedInterval); err != nil {
			return nil, err
		}
		return p.FetchHistorical(ctx, symbol, requestedInterval)
	}
}

// checkWhitelisted enforces AvailableIntervalsProvider's whitelist, if the
// provider declares one for symbol: an interval the provider doesn't serve
// is rejected before the wasted round trip. Missing capability, ok=false,
// or a nil whitelist all mean "no filtering" (spec §4.5 failure semantics:
// "no whitelist filtering if no getAvailableIntervals").
func checkWhitelisted(p Provider, symbol, iv string) error {
	avail, ok := p.(AvailableIntervalsProvider)
	if !ok {
		return nil
	}
	whitelist, ok := avail.GetAvailableIntervals(symbol)
	if !ok || whitelist == nil {
		return nil
	}
	for _, w := range whitelist {
		if w == iv {
			return nil
		}
	}
	return newErr(KindUnknownInterval, symbol, iv, nil, "provider: interval "+iv+" not in whitelist for symbol "+symbol)
}

// NewUnknownSymbolError builds an Error of kind KindUnknownSymbol.
func NewUnknownSymbolError(symbol string) *Error {
	return newErr(KindUnknownSymbol, symbol, "", nil, "provider: unknown symbol "+symbol)
}

// NewUnknownIntervalError builds an Error of kind KindUnknownInterval.
func NewUnknownIntervalError(symbol, iv string) *Error {
	return newErr(KindUnknownInterval, symbol, iv, nil, "provider: unknown interval "+iv+" for symbol "+symbol)
}

// NewTransportError wraps a transport-level failure.
func NewTransportError(symbol, iv string, cause error) *Error {
	return newErr(KindTransport, symbol, iv, cause, "")
}

// NewMalformedError wraps a malformed-response failure.
func NewMalformedError(symbol, iv string, cause error) *Error {
	return newErr(KindMalformed, symbol, iv, cause, "")
}
