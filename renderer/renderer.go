// Package renderer models the opaque chart-drawing surface of spec §6: the
// core never touches pixels, it only calls a fixed operation set on a
// Renderer. This package defines that contract plus a Recorder test double
// (in recorder.go) the way the teacher seams TickStorer / auth.Service
// behind small interfaces so its own unit tests never need a live socket or
// database.
package renderer

import "github.com/epic1st/oakview/bar"

// SeriesKind is one of the visual series kinds a pane can display (spec
// §3 PaneSettings.chartType).
type SeriesKind string

const (
	SeriesCandlestick SeriesKind = "candlestick"
	SeriesBar         SeriesKind = "bar"
	SeriesLine        SeriesKind = "line"
	SeriesArea        SeriesKind = "area"
	SeriesBaseline    SeriesKind = "baseline"
)

// SeriesOptions carries renderer-specific visual options (color, line
// width, ...). The core never inspects its contents; it is passed through
// verbatim from indicator metadata or pane configuration.
type SeriesOptions map[string]any

// SeriesHandle identifies one series the renderer is tracking.
type SeriesHandle string

// ClosePoint is a (time, close) pair, used for line/area/baseline series
// which project full bars down to their close price (spec §4.4).
type ClosePoint struct {
	Time  int64
	Close float64
}

// CrosshairEvent is delivered to a crosshair-move subscriber; Time is nil
// when the crosshair has left the chart area (spec §4.4 "on no-hover, the
// last bar is the default" is handled by the caller, not the renderer).
type CrosshairEvent struct {
	Time *int64
}

// Renderer is the operation set of spec §6: create, add/remove series, push
// data, and crosshair subscription. Implementations are opaque drawing
// surfaces; OakView's core imports none of the real ones.
type Renderer interface {
	Create(options map[string]any)
	ApplyOptions(options map[string]any)
	AddSeries(kind SeriesKind, options SeriesOptions) SeriesHandle
	RemoveSeries(handle SeriesHandle)
	SetData(handle SeriesHandle, bars []bar.Bar)
	SetClosePoints(handle SeriesHandle, points []ClosePoint)
	Update(handle SeriesHandle, b bar.Bar)
	UpdateClosePoint(handle SeriesHandle, p ClosePoint)
	SubscribeCrosshairMove(cb func(CrosshairEvent)) (unsubscribe func())
	FitContent()
	Remove()
}
