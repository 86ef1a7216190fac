package wsprovider

import (
	"context"
	"testing"
)

// TestUnsubscribeFuncReferenceCountsDownToZero exercises the 1->0 teardown
// rule of spec §4.3 without touching a real websocket or Redis connection:
// it seeds a subscription entry directly and drives the returned
// unsubscribe closures.
func TestUnsubscribeFuncReferenceCountsDownToZero(t *testing.T) {
	p := New(Config{}, nil)

	key := "AAPL|1m"
	_, cancelFn := context.WithCancel(context.Background())

	p.mu.Lock()
	p.subs[key] = &subscription{cancel: cancelFn, refs: 2}
	p.mu.Unlock()

	unsub1 := p.unsubscribeFunc(key)
	unsub2 := p.unsubscribeFunc(key)

	unsub1()
	unsub1() // idempotent: a repeated call must not drop another reference
	p.mu.Lock()
	_, stillPresent := p.subs[key]
	p.mu.Unlock()
	if !stillPresent {
		t.Fatalf("expected subscription to survive first unsubscribe at refs=2")
	}

	unsub2()
	p.mu.Lock()
	_, stillPresent = p.subs[key]
	p.mu.Unlock()
	if stillPresent {
		t.Fatalf("expected subscription torn down after refs reach 0")
	}
}

func TestGetBaseIntervalReportsConfiguredSymbols(t *testing.T) {
	p := New(Config{BaseIntervals: map[string]string{"AAPL": "1m"}}, nil)

	iv, ok := p.GetBaseInterval("AAPL")
	if !ok || iv != "1m" {
		t.Fatalf("expected base interval 1m for AAPL, got %q ok=%v", iv, ok)
	}
	if _, ok := p.GetBaseInterval("MSFT"); ok {
		t.Fatalf("expected no base interval declared for MSFT")
	}
}
