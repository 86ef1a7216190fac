package pane

import (
	"context"
	"errors"
	"testing"

	"github.com/epic1st/oakview/bar"
	"github.com/epic1st/oakview/indicator"
	"github.com/epic1st/oakview/renderer"
)

func newTestPane() (*Pane, *renderer.Recorder) {
	rec := renderer.NewRecorder()
	p := New("pane-1", rec, Settings{Symbol: "AAPL", Interval: "1D", ChartType: Candlestick}, nil)
	return p, rec
}

func TestSetDataRebuildsSeries(t *testing.T) {
	p, rec := newTestPane()
	bars := []bar.Bar{
		{Time: 1, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100},
		{Time: 2, Open: 10.5, High: 12, Low: 10, Close: 11, Volume: 120},
	}
	p.SetData(bars)

	got := p.Bars()
	if len(got) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(got))
	}
	seriesData := rec.SeriesData[p.mainSeries]
	if len(seriesData) != 2 {
		t.Fatalf("expected renderer to hold 2 bars, got %d", len(seriesData))
	}
}

func TestUpdateRealtimeUpsertInPlace(t *testing.T) {
	p, rec := newTestPane()
	p.SetData([]bar.Bar{{Time: 1, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100}})

	p.UpdateRealtime(bar.Bar{Time: 1, Open: 10, High: 13, Low: 9, Close: 12, Volume: 150})
	if got := p.Bars(); len(got) != 1 || got[0].Close != 12 {
		t.Fatalf("expected in-place update, got %+v", got)
	}
	if n := len(rec.SeriesData[p.mainSeries]); n != 1 {
		t.Fatalf("expected renderer series to still hold 1 bar, got %d", n)
	}
}

func TestUpdateRealtimeAppendsNextBucket(t *testing.T) {
	p, _ := newTestPane()
	p.SetData([]bar.Bar{{Time: 1, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100}})

	p.UpdateRealtime(bar.Bar{Time: 2, Open: 10.5, High: 12, Low: 10, Close: 11, Volume: 90})
	got := p.Bars()
	if len(got) != 2 || got[1].Time != 2 {
		t.Fatalf("expected a second appended bar, got %+v", got)
	}
}

func TestUpdateRealtimeDropsOutOfOrder(t *testing.T) {
	p, _ := newTestPane()
	p.SetData([]bar.Bar{{Time: 2, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100}})

	p.UpdateRealtime(bar.Bar{Time: 1, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1})
	got := p.Bars()
	if len(got) != 1 || got[0].Time != 2 {
		t.Fatalf("expected out-of-order bar dropped, got %+v", got)
	}
}

func TestUpdateFormingBarUsesSameUpsertRule(t *testing.T) {
	p, _ := newTestPane()
	p.SetData([]bar.Bar{{Time: 1, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100}})

	p.UpdateFormingBar(bar.Bar{Time: 2, Open: 10.5, High: 10.9, Low: 10.4, Close: 10.7, Volume: 12})
	if got := p.Bars(); len(got) != 2 || got[1].Close != 10.7 {
		t.Fatalf("expected forming bar appended provisionally, got %+v", got)
	}

	p.UpdateRealtime(bar.Bar{Time: 2, Open: 10.5, High: 12, Low: 10.4, Close: 11.8, Volume: 200})
	if got := p.Bars(); len(got) != 2 || got[1].Close != 11.8 {
		t.Fatalf("expected finalized bar to replace provisional bar in place, got %+v", got)
	}
}

func TestSetChartTypeRebuildsFromOwnedData(t *testing.T) {
	p, rec := newTestPane()
	bars := []bar.Bar{
		{Time: 1, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100},
		{Time: 2, Open: 10.5, High: 12, Low: 10, Close: 11, Volume: 120},
	}
	p.SetData(bars)

	p.SetChartType(Line)
	newHandle := p.mainSeries
	pts := rec.ClosePoints[newHandle]
	if len(pts) != 2 || pts[0].Close != 10.5 || pts[1].Close != 11 {
		t.Fatalf("expected close-point projection, got %+v", pts)
	}

	p.SetChartType(Candlestick)
	finalHandle := p.mainSeries
	if len(rec.SeriesData[finalHandle]) != 2 {
		t.Fatalf("expected candlestick rebuild to hold full bars again")
	}
}

func TestSetChartTypeIdempotentRoundTrip(t *testing.T) {
	p, rec := newTestPane()
	p.SetData([]bar.Bar{{Time: 1, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100}})

	p.SetChartType(Area)
	p.SetChartType(Candlestick)
	p.SetChartType(Area)
	handleAfterThree := p.mainSeries

	p2, rec2 := newTestPane()
	p2.SetData([]bar.Bar{{Time: 1, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100}})
	p2.SetChartType(Area)
	handleAfterOne := p2.mainSeries

	if p.Settings().ChartType != p2.Settings().ChartType {
		t.Fatalf("expected equivalent final chart type")
	}
	got, want := rec.ClosePoints[handleAfterThree], rec2.ClosePoints[handleAfterOne]
	if len(got) != len(want) {
		t.Fatalf("expected identical displayed data, got %+v want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected identical displayed data, got %+v want %+v", got, want)
		}
	}
}

type fakeHandle struct {
	metadata indicator.Metadata
	updates  int
	last     float64
}

func (h *fakeHandle) Attach() error                       { return nil }
func (h *fakeHandle) Detach()                             {}
func (h *fakeHandle) Update(b bar.Bar)                    { h.updates++; h.last = b.Close }
func (h *fakeHandle) SetOptions(options map[string]any)   {}
func (h *fakeHandle) Metadata() indicator.Metadata        { return h.metadata }
func (h *fakeHandle) LastValue() (float64, bool)          { return h.last, h.updates > 0 }

func fakeFactory(fh *fakeHandle) indicator.Factory {
	return func(rendererChart any, mainSeries any, options map[string]any, bars []bar.Bar) (indicator.Handle, error) {
		for _, b := range bars {
			fh.Update(b)
		}
		return fh, nil
	}
}

func TestAttachIndicatorReplaysHistoryAndUpdatesOnRealtime(t *testing.T) {
	p, _ := newTestPane()
	p.SetData([]bar.Bar{
		{Time: 1, Open: 10, High: 11, Low: 9, Close: 10, Volume: 100},
		{Time: 2, Open: 10, High: 11, Low: 9, Close: 20, Volume: 100},
	})

	fh := &fakeHandle{metadata: indicator.Metadata{ShortName: "FAKE"}}
	if err := p.AttachIndicator("fake-1", fakeFactory(fh), nil); err != nil {
		t.Fatalf("AttachIndicator: %v", err)
	}
	if fh.updates != 2 {
		t.Fatalf("expected history replay of 2 bars, got %d updates", fh.updates)
	}

	p.UpdateRealtime(bar.Bar{Time: 3, Open: 20, High: 22, Low: 19, Close: 21, Volume: 50})
	if fh.updates != 3 || fh.last != 21 {
		t.Fatalf("expected indicator fed on realtime update, got updates=%d last=%v", fh.updates, fh.last)
	}

	legend := p.Legend()
	if v, ok := legend.Indicators["fake-1"]; !ok || v != 21 {
		t.Fatalf("expected legend to report indicator last value, got %+v", legend.Indicators)
	}

	p.DetachIndicator("fake-1")
	legend = p.Legend()
	if _, ok := legend.Indicators["fake-1"]; ok {
		t.Fatalf("expected indicator removed from legend after detach")
	}
}

func TestAttachIndicatorAutoGeneratesUniqueIDs(t *testing.T) {
	p, _ := newTestPane()
	p.SetData([]bar.Bar{{Time: 1, Open: 10, High: 11, Low: 9, Close: 10, Volume: 100}})

	id1, err := p.AttachIndicatorAuto(fakeFactory(&fakeHandle{}), nil)
	if err != nil {
		t.Fatalf("AttachIndicatorAuto: %v", err)
	}
	id2, err := p.AttachIndicatorAuto(fakeFactory(&fakeHandle{}), nil)
	if err != nil {
		t.Fatalf("AttachIndicatorAuto: %v", err)
	}
	if id1 == "" || id2 == "" || id1 == id2 {
		t.Fatalf("expected two distinct non-empty generated ids, got %q %q", id1, id2)
	}
	if len(p.Settings().Indicators) != 2 {
		t.Fatalf("expected both indicators recorded in settings")
	}
}

func TestSetIndicatorIDsRecordsWithoutAttaching(t *testing.T) {
	p, _ := newTestPane()
	p.SetIndicatorIDs([]string{"sma-1", "sma-2"})

	if got := p.Settings().Indicators; len(got) != 2 || got[0] != "sma-1" || got[1] != "sma-2" {
		t.Fatalf("expected recorded indicator ids, got %+v", got)
	}
	if len(p.indicators) != 0 {
		t.Fatalf("expected no live indicator handles attached, got %d", len(p.indicators))
	}
}

func TestLegendDefaultsToLastBarWithoutHover(t *testing.T) {
	p, _ := newTestPane()
	p.SetData([]bar.Bar{
		{Time: 1, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100},
		{Time: 2, Open: 10.5, High: 9, Low: 8, Close: 8.5, Volume: 100},
	})

	legend := p.Legend()
	if !legend.HasBar || legend.Time != 2 || legend.Bullish {
		t.Fatalf("expected legend to default to last bar (bearish), got %+v", legend)
	}
}

func TestLegendFollowsCrosshairHover(t *testing.T) {
	p, rec := newTestPane()
	p.SetData([]bar.Bar{
		{Time: 1, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100},
		{Time: 2, Open: 10.5, High: 12, Low: 10, Close: 11, Volume: 100},
	})

	hoverTime := int64(1)
	rec.FireCrosshair(renderer.CrosshairEvent{Time: &hoverTime})

	legend := p.Legend()
	if legend.Time != 1 || legend.Close != 10.5 {
		t.Fatalf("expected legend to follow crosshair to bar 1, got %+v", legend)
	}
}

type fakeProvider struct {
	bars []bar.Bar
	err  error
}

func (f *fakeProvider) FetchHistorical(ctx context.Context, symbol, iv string) ([]bar.Bar, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.bars, nil
}
func (f *fakeProvider) Disconnect() error { return nil }

func TestLoadSymbolDataSetsDataOnSuccess(t *testing.T) {
	p, _ := newTestPane()
	prov := &fakeProvider{bars: []bar.Bar{{Time: 1, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}}}

	if err := p.LoadSymbolData(context.Background(), "MSFT", "1D", prov); err != nil {
		t.Fatalf("LoadSymbolData: %v", err)
	}
	if s := p.Settings(); s.Symbol != "MSFT" || s.Interval != "1D" {
		t.Fatalf("expected settings updated, got %+v", s)
	}
	if len(p.Bars()) != 1 {
		t.Fatalf("expected loaded bars applied")
	}
}

func TestLoadSymbolDataEmptiesSeriesOnError(t *testing.T) {
	p, _ := newTestPane()
	p.SetData([]bar.Bar{{Time: 1, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}})

	prov := &fakeProvider{err: errors.New("boom")}
	err := p.LoadSymbolData(context.Background(), "MSFT", "1D", prov)
	if err == nil {
		t.Fatalf("expected error propagated")
	}
	if len(p.Bars()) != 0 {
		t.Fatalf("expected pane to show empty series after load failure")
	}
}
