package layout

import (
	"context"
	"sync"
	"testing"

	"github.com/epic1st/oakview/bar"
	"github.com/epic1st/oakview/configstore"
	"github.com/epic1st/oakview/indicator"
	"github.com/epic1st/oakview/pane"
	"github.com/epic1st/oakview/provider"
	"github.com/epic1st/oakview/renderer"
)

type fakeProvider struct {
	mu            sync.Mutex
	bars          map[string][]bar.Bar
	baseIntervals map[string]string
	activeSubs    map[string]func(bar.Bar)
	subscribeLog  []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		bars:          make(map[string][]bar.Bar),
		baseIntervals: make(map[string]string),
		activeSubs:    make(map[string]func(bar.Bar)),
	}
}

func (f *fakeProvider) FetchHistorical(ctx context.Context, symbol, iv string) ([]bar.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bars[symbol+"|"+iv], nil
}

func (f *fakeProvider) Disconnect() error { return nil }

func (f *fakeProvider) Subscribe(symbol, iv string, cb func(bar.Bar)) (provider.UnsubscribeFunc, error) {
	f.mu.Lock()
	f.subscribeLog = append(f.subscribeLog, symbol+"@"+iv)
	f.activeSubs[symbol] = cb
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.activeSubs, symbol)
		f.mu.Unlock()
	}, nil
}

func (f *fakeProvider) GetBaseInterval(symbol string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	iv, ok := f.baseIntervals[symbol]
	return iv, ok
}

func recorderFactory(id string) renderer.Renderer { return renderer.NewRecorder() }

func TestRebalanceSubscribesOnceAtFinestIntervalPerSymbol(t *testing.T) {
	fp := newFakeProvider()
	ctx := context.Background()

	c := New(Grid2x1, pane.Settings{ChartType: pane.Candlestick, Interval: "1D"}, recorderFactory, fp, nil, "", true, nil)

	if err := c.OnSymbolChange(ctx, "pane-0", "AAPL"); err != nil {
		t.Fatalf("OnSymbolChange pane-0: %v", err)
	}
	if err := c.OnIntervalChange(ctx, "pane-0", "5m"); err != nil {
		t.Fatalf("OnIntervalChange pane-0: %v", err)
	}
	if err := c.OnSymbolChange(ctx, "pane-1", "AAPL"); err != nil {
		t.Fatalf("OnSymbolChange pane-1: %v", err)
	}
	if err := c.OnIntervalChange(ctx, "pane-1", "1H"); err != nil {
		t.Fatalf("OnIntervalChange pane-1: %v", err)
	}

	c.mu.RLock()
	subCount := len(c.subs)
	st, ok := c.subs["AAPL"]
	c.mu.RUnlock()

	if subCount != 1 {
		t.Fatalf("expected exactly one subscription for AAPL, got %d", subCount)
	}
	if !ok || st.interval != "5m" {
		t.Fatalf("expected AAPL subscribed at finest interval 5m, got %+v", st)
	}
	if len(fp.activeSubs) != 1 {
		t.Fatalf("expected exactly one live wire subscription, got %d", len(fp.activeSubs))
	}
}

func TestRebalanceCancelsSubscriptionWhenSymbolNoLongerNeeded(t *testing.T) {
	fp := newFakeProvider()
	ctx := context.Background()
	c := New(Single, pane.Settings{ChartType: pane.Candlestick, Interval: "1D"}, recorderFactory, fp, nil, "", true, nil)

	if err := c.OnSymbolChange(ctx, "pane-0", "AAPL"); err != nil {
		t.Fatalf("OnSymbolChange: %v", err)
	}
	if len(fp.activeSubs) != 1 {
		t.Fatalf("expected 1 active subscription, got %d", len(fp.activeSubs))
	}

	if err := c.OnSymbolChange(ctx, "pane-0", "MSFT"); err != nil {
		t.Fatalf("OnSymbolChange to MSFT: %v", err)
	}
	if _, stillThere := fp.activeSubs["AAPL"]; stillThere {
		t.Fatalf("expected AAPL subscription torn down after symbol change")
	}
	if _, present := fp.activeSubs["MSFT"]; !present {
		t.Fatalf("expected MSFT subscription created")
	}
}

func TestRebalanceUsesProviderFinerBaseInterval(t *testing.T) {
	fp := newFakeProvider()
	fp.baseIntervals["AAPL"] = "1m"
	ctx := context.Background()
	c := New(Single, pane.Settings{ChartType: pane.Candlestick, Interval: "1D"}, recorderFactory, fp, nil, "", true, nil)

	if err := c.OnSymbolChange(ctx, "pane-0", "AAPL"); err != nil {
		t.Fatalf("OnSymbolChange: %v", err)
	}

	c.mu.RLock()
	st := c.subs["AAPL"]
	c.mu.RUnlock()
	if st == nil || st.interval != "1m" {
		t.Fatalf("expected subscription to use provider's finer base interval 1m, got %+v", st)
	}
}

func TestSetLayoutModePreservesSurvivingPaneSettings(t *testing.T) {
	fp := newFakeProvider()
	ctx := context.Background()
	c := New(Single, pane.Settings{ChartType: pane.Candlestick, Interval: "1D"}, recorderFactory, fp, nil, "", true, nil)
	c.OnSymbolChange(ctx, "pane-0", "AAPL")

	c.SetLayoutMode(Grid2x2)
	p0 := c.Pane("pane-0")
	if p0 == nil || p0.Settings().Symbol != "AAPL" {
		t.Fatalf("expected pane-0 settings preserved across layout change")
	}
	if len(c.PaneOrder()) != 4 {
		t.Fatalf("expected 4 panes in 2x2 mode, got %d", len(c.PaneOrder()))
	}

	c.SetLayoutMode(Single)
	if len(c.PaneOrder()) != 1 {
		t.Fatalf("expected 1 pane after collapsing to single, got %d", len(c.PaneOrder()))
	}
	if c.Pane("pane-1") != nil {
		t.Fatalf("expected pane-1 torn down after collapsing to single")
	}
}

func TestSelectPaneAndToggleExpansion(t *testing.T) {
	fp := newFakeProvider()
	c := New(Grid2x2, pane.Settings{ChartType: pane.Candlestick, Interval: "1D"}, recorderFactory, fp, nil, "", true, nil)

	var events []Event
	c.Subscribe(func(ev Event) { events = append(events, ev) })

	if err := c.SelectPane("pane-2"); err != nil {
		t.Fatalf("SelectPane: %v", err)
	}
	if c.FocusedPane() != "pane-2" {
		t.Fatalf("expected focused pane pane-2, got %s", c.FocusedPane())
	}

	if err := c.ToggleExpansion("pane-2"); err != nil {
		t.Fatalf("ToggleExpansion: %v", err)
	}
	if c.ExpandedPane() != "pane-2" {
		t.Fatalf("expected pane-2 expanded")
	}

	// Clicking a different pane while one is expanded must switch focus to
	// it and keep expansion (spec §4.5), not leave focus on the stale pane.
	events = nil
	if err := c.ToggleExpansion("pane-0"); err != nil {
		t.Fatalf("ToggleExpansion pane-0: %v", err)
	}
	if c.ExpandedPane() != "pane-0" {
		t.Fatalf("expected expansion to move to pane-0")
	}
	if c.FocusedPane() != "pane-0" {
		t.Fatalf("expected focus to switch to pane-0 while expanding, got %s", c.FocusedPane())
	}
	sawPaneSelected := false
	for _, ev := range events {
		if ev.Type == EventPaneSelected && ev.PaneID == "pane-0" {
			sawPaneSelected = true
		}
	}
	if !sawPaneSelected {
		t.Fatalf("expected a pane-selected event when expansion switched focus, got %+v", events)
	}

	if err := c.ToggleExpansion("pane-0"); err != nil {
		t.Fatalf("ToggleExpansion collapse: %v", err)
	}
	if c.ExpandedPane() != "" {
		t.Fatalf("expected expansion cleared on second toggle")
	}

	if len(events) == 0 {
		t.Fatalf("expected at least one emitted event")
	}
}

func TestConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := configstore.NewFileStore(dir)
	ctx := context.Background()

	fp := newFakeProvider()
	fp.bars["AAPL|1D"] = []bar.Bar{{Time: 1, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}}

	c1 := New(Grid2x1, pane.Settings{ChartType: pane.Candlestick, Interval: "1D"}, recorderFactory, fp, store, "oakview.layout.v1", true, nil)
	if err := c1.OnSymbolChange(ctx, "pane-0", "AAPL"); err != nil {
		t.Fatalf("OnSymbolChange: %v", err)
	}
	if err := c1.SelectPane("pane-1"); err != nil {
		t.Fatalf("SelectPane: %v", err)
	}
	p0 := c1.Pane("pane-0")
	fh := &fakeHandleForRestore{}
	if err := p0.AttachIndicator("sma-9", fakeFactoryForRestore(fh), nil); err != nil {
		t.Fatalf("AttachIndicator: %v", err)
	}
	c1.persist()
	if err := c1.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	var restoredEvents []Event
	c2 := New(Single, pane.Settings{ChartType: pane.Candlestick, Interval: "1D"}, recorderFactory, fp, store, "oakview.layout.v1", true, nil)
	c2.Subscribe(func(ev Event) {
		if ev.Type == EventConfigRestored {
			restoredEvents = append(restoredEvents, ev)
		}
	})
	if err := c2.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if len(c2.PaneOrder()) != 2 {
		t.Fatalf("expected restored layout to have 2 panes, got %d", len(c2.PaneOrder()))
	}
	restored0 := c2.Pane("pane-0")
	if restored0 == nil || restored0.Settings().Symbol != "AAPL" {
		t.Fatalf("expected restored pane-0 symbol AAPL, got %+v", restored0)
	}
	if ids := restored0.Settings().Indicators; len(ids) != 1 || ids[0] != "sma-9" {
		t.Fatalf("expected restored pane-0 indicators order [sma-9], got %+v", ids)
	}

	if len(restoredEvents) != 1 {
		t.Fatalf("expected exactly one config-restored event, got %d", len(restoredEvents))
	}
	gotPanes := restoredEvents[0].Panes
	if len(gotPanes) != 2 {
		t.Fatalf("expected config-restored to list 2 panes, got %d", len(gotPanes))
	}
	if gotPanes[0].PaneID != "pane-0" || gotPanes[0].Symbol != "AAPL" || len(gotPanes[0].Indicators) != 1 || gotPanes[0].Indicators[0] != "sma-9" {
		t.Fatalf("expected config-restored panes[0] to carry restored indicators, got %+v", gotPanes[0])
	}
}

type fakeHandleForRestore struct{ updates int }

func (h *fakeHandleForRestore) Attach() error                     { return nil }
func (h *fakeHandleForRestore) Detach()                           {}
func (h *fakeHandleForRestore) Update(bar.Bar)                    { h.updates++ }
func (h *fakeHandleForRestore) SetOptions(options map[string]any) {}
func (h *fakeHandleForRestore) Metadata() indicator.Metadata       { return indicator.Metadata{} }
func (h *fakeHandleForRestore) LastValue() (float64, bool)         { return 0, h.updates > 0 }

func fakeFactoryForRestore(h *fakeHandleForRestore) indicator.Factory {
	return func(rendererChart any, mainSeries any, options map[string]any, bars []bar.Bar) (indicator.Handle, error) {
		return h, nil
	}
}

func TestHealthCheckReportsProviderAndCounts(t *testing.T) {
	fp := newFakeProvider()
	c := New(Grid1x3, pane.Settings{ChartType: pane.Candlestick, Interval: "1D"}, recorderFactory, fp, nil, "", true, nil)
	c.OnSymbolChange(context.Background(), "pane-0", "AAPL")

	h := c.HealthCheck()
	if !h.ProviderConnected || h.PaneCount != 3 || h.ActiveSubscriptions != 1 || h.Mode != Grid1x3 {
		t.Fatalf("unexpected health status: %+v", h)
	}
}
