// Package sma is a reference indicator plug-in: a simple moving average
// over closing prices. It is grounded on the rolling-window
// SymbolState/Calculator pattern (a fixed-capacity slice of recent bars,
// recomputed on every Update) used by stock-scanner's indicator package,
// adapted to OakView's indicator.Factory signature.
package sma

import (
	"fmt"

	"github.com/epic1st/oakview/bar"
	"github.com/epic1st/oakview/indicator"
	"github.com/epic1st/oakview/renderer"
)

const defaultLength = 20

// handle implements indicator.Handle.
type handle struct {
	length  int
	window  []float64
	sum     float64
	last    float64
	hasLast bool

	chart  renderer.Renderer
	series renderer.SeriesHandle
}

// New is the indicator.Factory-shaped constructor: create<Pascal>Indicator
// per spec §6. options["length"] overrides the default period.
func New(rendererChart any, mainSeries any, options map[string]any, bars []bar.Bar) (indicator.Handle, error) {
	chart, ok := rendererChart.(renderer.Renderer)
	if !ok {
		return nil, fmt.Errorf("sma: rendererChart must implement renderer.Renderer")
	}

	length := defaultLength
	if v, ok := options["length"]; ok {
		if n, ok := v.(int); ok && n > 0 {
			length = n
		}
	}

	h := &handle{
		length: length,
		window: make([]float64, 0, length),
		chart:  chart,
	}
	for _, b := range bars {
		h.push(b.Close)
	}
	_ = mainSeries // reserved: an overlay indicator could anchor options near the main series
	return h, nil
}

func (h *handle) Attach() error {
	h.series = h.chart.AddSeries(renderer.SeriesLine, renderer.SeriesOptions{"color": h.Metadata().Plots[0].Color})
	return nil
}

func (h *handle) Detach() {
	if h.series != "" {
		h.chart.RemoveSeries(h.series)
		h.series = ""
	}
}

func (h *handle) Update(b bar.Bar) {
	h.push(b.Close)
	if h.series != "" {
		if v, ok := h.LastValue(); ok {
			h.chart.UpdateClosePoint(h.series, renderer.ClosePoint{Time: b.Time, Close: v})
		}
	}
}

// SetOptions applies a new "length". A changed length clears the window
// and the last value; past bars are not replayed, so values are derived
// only from bars fed by later Update calls.
func (h *handle) SetOptions(options map[string]any) {
	if v, ok := options["length"]; ok {
		if n, ok := v.(int); ok && n > 0 && n != h.length {
			h.length = n
			h.window = h.window[:0]
			h.sum = 0
			h.hasLast = false
		}
	}
}

func (h *handle) Metadata() indicator.Metadata {
	return indicator.Metadata{
		Title:     "Simple Moving Average",
		ShortName: "SMA",
		Overlay:   true,
		Inputs:    []indicator.InputSpec{{Name: "length", Defval: defaultLength}},
		Plots:     []indicator.PlotSpec{{Title: "SMA", Color: "#2196F3"}},
	}
}

func (h *handle) LastValue() (float64, bool) {
	return h.last, h.hasLast
}

// push maintains a fixed-capacity rolling window, the same ring-buffer
// shift used by stock-scanner's SymbolState.Update.
func (h *handle) push(close float64) {
	h.window = append(h.window, close)
	h.sum += close
	if len(h.window) > h.length {
		h.sum -= h.window[0]
		copy(h.window, h.window[1:])
		h.window = h.window[:h.length]
	}
	h.last = h.sum / float64(len(h.window))
	h.hasLast = true
}

var _ indicator.Factory = New
