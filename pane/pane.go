// Package pane implements PaneChart (spec §4.4): one rendering surface that
// owns its current OHLCV array, its visual type, its attached indicators,
// and forwards UI-event intents upward. Cyclic coupling with the
// coordinator is resolved the way spec §9 prescribes: a pane knows only its
// own ID, never a back-pointer to its owner.
package pane

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/epic1st/oakview/bar"
	"github.com/epic1st/oakview/indicator"
	"github.com/epic1st/oakview/internal/logging"
	"github.com/epic1st/oakview/provider"
	"github.com/epic1st/oakview/renderer"
	"github.com/epic1st/oakview/resampler"
)

// ChartType is one of the five visual types a pane can display (spec §3).
type ChartType string

const (
	Candlestick ChartType = "candlestick"
	Bar         ChartType = "bar"
	Line        ChartType = "line"
	Area        ChartType = "area"
	Baseline    ChartType = "baseline"
)

// usesFullBars reports whether a chart type renders from full bars rather
// than a close-price projection (spec §4.4).
func usesFullBars(ct ChartType) bool {
	return ct == Candlestick || ct == Bar
}

// Settings is the per-pane configuration of spec §3 PaneSettings: created
// when a pane first appears, destroyed when the pane is removed, mutated
// only through the coordinator's event handlers.
type Settings struct {
	Symbol     string
	Interval   string
	ChartType  ChartType
	Indicators []string // ordered list of indicator-id
}

// Clone returns a deep copy of Settings (Indicators slice is copied).
func (s Settings) Clone() Settings {
	out := s
	out.Indicators = append([]string(nil), s.Indicators...)
	return out
}

// Legend is the crosshair/readout snapshot of spec §4.4.
type Legend struct {
	Symbol       string
	Interval     string
	Time         int64
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       float64
	Bullish      bool // close >= open
	HasBar       bool
	Indicators   map[string]float64
}

// Pane is one grid cell's rendering state.
type Pane struct {
	id string

	mu       sync.Mutex
	settings Settings
	bars     []bar.Bar

	chart        renderer.Renderer
	mainSeries   renderer.SeriesHandle
	indicators   map[string]indicator.Handle
	hoverTime    *int64
	unsubscribeCrosshair func()

	log *logging.Logger
}

// New constructs a pane bound to a renderer surface and an initial
// Settings. The renderer is expected to already exist (Create was called by
// the host); New only adds the pane's own series.
func New(id string, chart renderer.Renderer, initial Settings, log *logging.Logger) *Pane {
	if log == nil {
		log = logging.Default
	}
	p := &Pane{
		id:         id,
		settings:   initial.Clone(),
		chart:      chart,
		indicators: make(map[string]indicator.Handle),
		log:        log,
	}
	p.mainSeries = chart.AddSeries(seriesKindFor(initial.ChartType), nil)
	p.unsubscribeCrosshair = chart.SubscribeCrosshairMove(p.onCrosshairMove)
	return p
}

// ID returns the pane's identifier. Panes never hold a pointer back to
// their owning coordinator; callers address a pane only by ID (spec §9).
func (p *Pane) ID() string { return p.id }

// Settings returns a copy of the pane's current settings.
func (p *Pane) Settings() Settings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings.Clone()
}

func seriesKindFor(ct ChartType) renderer.SeriesKind {
	switch ct {
	case Candlestick:
		return renderer.SeriesCandlestick
	case Bar:
		return renderer.SeriesBar
	case Line:
		return renderer.SeriesLine
	case Area:
		return renderer.SeriesArea
	case Baseline:
		return renderer.SeriesBaseline
	default:
		return renderer.SeriesCandlestick
	}
}

// SetData replaces the entire series: rebuilds the visual series of the
// current chart type and updates legend titles/values from the new data.
func (p *Pane) SetData(bars []bar.Bar) {
	p.mu.Lock()
	p.bars = append([]bar.Bar(nil), bars...)
	p.hoverTime = nil
	p.mu.Unlock()

	p.repaint()
	p.feedIndicatorsFromScratch()
}

// UpdateRealtime upserts one completed bar by time identity: if it matches
// the last bar's time, it updates in place; if it is later than the last
// bar (by one bucket or more), it appends; an earlier bar is silently
// dropped as out of order (spec §4.4).
func (p *Pane) UpdateRealtime(b bar.Bar) {
	p.upsert(b)
}

// UpdateFormingBar forwards a non-finalized, in-flight bar so the UI can
// draw a "forming candle" (SPEC_FULL.md Open Questions: partial bars are a
// dedicated path, never conflated with completed-bar delivery). It uses the
// identical upsert rule as UpdateRealtime -- when the real completed bar
// for the same bucket later arrives, it simply replaces the provisional
// value in place.
func (p *Pane) UpdateFormingBar(b bar.Bar) {
	p.upsert(b)
}

func (p *Pane) upsert(b bar.Bar) {
	p.mu.Lock()
	n := len(p.bars)
	switch {
	case n == 0:
		p.bars = append(p.bars, b)
	case b.Time == p.bars[n-1].Time:
		p.bars[n-1] = b
	case b.Time > p.bars[n-1].Time:
		p.bars = append(p.bars, b)
	default:
		// Out of order: silently dropped (spec §4.4).
		p.mu.Unlock()
		return
	}
	kind := p.settings.ChartType
	handle := p.mainSeries
	p.mu.Unlock()

	if usesFullBars(kind) {
		p.chart.Update(handle, b)
	} else {
		p.chart.UpdateClosePoint(handle, renderer.ClosePoint{Time: b.Time, Close: b.Close})
	}

	p.mu.Lock()
	for _, h := range p.indicators {
		h.Update(b)
	}
	p.mu.Unlock()
}

// ResampleHistoricalData pipes bars through a BarResampler plus a final
// flush, returning a new array at targetInterval. Convenience wrapper the
// coordinator (or a pane directly) can use without touching package
// resampler.
func ResampleHistoricalData(bars []bar.Bar, targetInterval string) ([]bar.Bar, error) {
	return resampler.Resample(targetInterval, bars)
}

// LoadSymbolData is the pane's only coordinator-facing async entry point.
// It orchestrates provider capability negotiation (spec §4.3) and calls
// SetData with the result, updating the pane's symbol/interval settings.
// On failure it leaves the pane showing an empty series and returns the
// error for the caller to log and surface as a load-error event.
func (p *Pane) LoadSymbolData(ctx context.Context, symbol, iv string, prov provider.Provider) error {
	p.mu.Lock()
	p.settings.Symbol = symbol
	p.settings.Interval = iv
	p.mu.Unlock()

	bars, err := provider.Negotiate(ctx, prov, symbol, iv, ResampleHistoricalData)
	if err != nil {
		p.SetData(nil)
		return err
	}
	p.SetData(bars)
	return nil
}

// SetChartType tears down the current visual series and constructs a new
// one of kind, repopulating strictly from the pane's owned OHLCV array
// (spec §4.4 rebuild-from-owned-data contract). Line/area/baseline series
// are projected to (time, close) pairs; candlestick/bar use full bars.
func (p *Pane) SetChartType(kind ChartType) {
	p.mu.Lock()
	p.settings.ChartType = kind
	bars := append([]bar.Bar(nil), p.bars...)
	oldHandle := p.mainSeries
	p.mu.Unlock()

	p.chart.RemoveSeries(oldHandle)
	newHandle := p.chart.AddSeries(seriesKindFor(kind), nil)

	p.mu.Lock()
	p.mainSeries = newHandle
	p.mu.Unlock()

	if usesFullBars(kind) {
		p.chart.SetData(newHandle, bars)
	} else {
		p.chart.SetClosePoints(newHandle, toClosePoints(bars))
	}
}

func toClosePoints(bars []bar.Bar) []renderer.ClosePoint {
	out := make([]renderer.ClosePoint, len(bars))
	for i, b := range bars {
		out[i] = renderer.ClosePoint{Time: b.Time, Close: b.Close}
	}
	return out
}

// AttachIndicator invokes the indicator factory and stores its handle. The
// factory is called with the pane's renderer and main series so it can add
// its own overlay series.
func (p *Pane) AttachIndicator(id string, factory indicator.Factory, options map[string]any) error {
	p.mu.Lock()
	bars := append([]bar.Bar(nil), p.bars...)
	chart := p.chart
	mainSeries := p.mainSeries
	p.mu.Unlock()

	h, err := factory(chart, mainSeries, options, bars)
	if err != nil {
		return err
	}
	if err := h.Attach(); err != nil {
		return err
	}

	p.mu.Lock()
	p.indicators[id] = h
	found := false
	for _, existing := range p.settings.Indicators {
		if existing == id {
			found = true
			break
		}
	}
	if !found {
		p.settings.Indicators = append(p.settings.Indicators, id)
	}
	p.mu.Unlock()
	return nil
}

// AttachIndicatorAuto is AttachIndicator with a generated id, for callers
// that don't need to choose their own indicator-id (e.g. a UI "add
// indicator" button). Returns the generated id.
func (p *Pane) AttachIndicatorAuto(factory indicator.Factory, options map[string]any) (string, error) {
	id := uuid.NewString()
	if err := p.AttachIndicator(id, factory, options); err != nil {
		return "", err
	}
	return id, nil
}

// DetachIndicator disposes an indicator's handle and removes it from the
// pane's settings.
func (p *Pane) DetachIndicator(id string) {
	p.mu.Lock()
	h, ok := p.indicators[id]
	if ok {
		delete(p.indicators, id)
		for i, existing := range p.settings.Indicators {
			if existing == id {
				p.settings.Indicators = append(p.settings.Indicators[:i], p.settings.Indicators[i+1:]...)
				break
			}
		}
	}
	p.mu.Unlock()

	if ok {
		h.Detach()
	}
}

// SetIndicatorIDs records ids as the pane's ordered indicator-id list
// without constructing any live indicator handle. Config restore (spec §9
// design note: "indicators re-attach by ID") persists identity only, never
// a factory, so the core can recover the ordered id list on its own but
// needs the host to supply a factory per id before a handle actually
// attaches; this lets the restored Settings carry that id list in the
// meantime.
func (p *Pane) SetIndicatorIDs(ids []string) {
	p.mu.Lock()
	p.settings.Indicators = append([]string(nil), ids...)
	p.mu.Unlock()
}

// feedIndicatorsFromScratch replays the full bar history through every
// attached indicator after a SetData, so indicators never diverge from the
// owned array.
func (p *Pane) feedIndicatorsFromScratch() {
	p.mu.Lock()
	bars := append([]bar.Bar(nil), p.bars...)
	handles := make(map[string]indicator.Handle, len(p.indicators))
	for id, h := range p.indicators {
		handles[id] = h
	}
	p.mu.Unlock()

	for _, h := range handles {
		for _, b := range bars {
			h.Update(b)
		}
	}
}

func (p *Pane) repaint() {
	p.mu.Lock()
	bars := append([]bar.Bar(nil), p.bars...)
	kind := p.settings.ChartType
	handle := p.mainSeries
	p.mu.Unlock()

	if usesFullBars(kind) {
		p.chart.SetData(handle, bars)
	} else {
		p.chart.SetClosePoints(handle, toClosePoints(bars))
	}
	p.chart.FitContent()
}

func (p *Pane) onCrosshairMove(ev renderer.CrosshairEvent) {
	p.mu.Lock()
	p.hoverTime = ev.Time
	p.mu.Unlock()
}

// Legend computes the current OHLC/indicator readouts: the bar at the
// hovered time drives them, or the last bar when there is no hover (spec
// §4.4).
func (p *Pane) Legend() Legend {
	p.mu.Lock()
	symbol, iv := p.settings.Symbol, p.settings.Interval
	hover := p.hoverTime
	bars := p.bars
	handles := make(map[string]indicator.Handle, len(p.indicators))
	for id, h := range p.indicators {
		handles[id] = h
	}
	p.mu.Unlock()

	legend := Legend{Symbol: symbol, Interval: iv, Indicators: make(map[string]float64, len(handles))}
	for id, h := range handles {
		if v, ok := h.LastValue(); ok {
			legend.Indicators[id] = v
		}
	}

	if len(bars) == 0 {
		return legend
	}

	var b bar.Bar
	if hover != nil {
		idx := sort.Search(len(bars), func(i int) bool { return bars[i].Time >= *hover })
		if idx < len(bars) && bars[idx].Time == *hover {
			b = bars[idx]
		} else {
			b = bars[len(bars)-1]
		}
	} else {
		b = bars[len(bars)-1]
	}

	legend.HasBar = true
	legend.Time = b.Time
	legend.Open, legend.High, legend.Low, legend.Close, legend.Volume = b.Open, b.High, b.Low, b.Close, b.Volume
	legend.Bullish = b.Close >= b.Open
	return legend
}

// Bars returns a copy of the pane's owned OHLCV array.
func (p *Pane) Bars() []bar.Bar {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bar.Bar(nil), p.bars...)
}

// Close tears down the pane's renderer subscriptions and indicator handles.
// Called when the pane is removed from the layout.
func (p *Pane) Close() {
	if p.unsubscribeCrosshair != nil {
		p.unsubscribeCrosshair()
	}
	p.mu.Lock()
	handles := make([]indicator.Handle, 0, len(p.indicators))
	for _, h := range p.indicators {
		handles = append(handles, h)
	}
	p.indicators = make(map[string]indicator.Handle)
	p.mu.Unlock()
	for _, h := range handles {
		h.Detach()
	}
	p.chart.Remove()
}
