package renderer

import (
	"fmt"
	"sync"

	"github.com/epic1st/oakview/bar"
)

// Recorder is a Renderer that records every call instead of drawing
// anything, the role the teacher's TickStorer/Hook interface seams play:
// letting pane/layout be unit tested without a live drawing surface.
type Recorder struct {
	mu          sync.Mutex
	Calls       []string
	SeriesData  map[SeriesHandle][]bar.Bar
	ClosePoints map[SeriesHandle][]ClosePoint
	nextHandle  int
	crosshairCB func(CrosshairEvent)
	removed     bool
}

// NewRecorder constructs an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		SeriesData:  make(map[SeriesHandle][]bar.Bar),
		ClosePoints: make(map[SeriesHandle][]ClosePoint),
	}
}

func (r *Recorder) record(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, fmt.Sprintf(format, args...))
}

func (r *Recorder) Create(options map[string]any) { r.record("create") }

func (r *Recorder) ApplyOptions(options map[string]any) { r.record("apply-options") }

func (r *Recorder) AddSeries(kind SeriesKind, options SeriesOptions) SeriesHandle {
	r.mu.Lock()
	r.nextHandle++
	h := SeriesHandle(fmt.Sprintf("series-%d", r.nextHandle))
	r.mu.Unlock()
	r.record("add-series kind=%s handle=%s", kind, h)
	return h
}

func (r *Recorder) RemoveSeries(handle SeriesHandle) {
	r.mu.Lock()
	delete(r.SeriesData, handle)
	delete(r.ClosePoints, handle)
	r.mu.Unlock()
	r.record("remove-series handle=%s", handle)
}

func (r *Recorder) SetData(handle SeriesHandle, bars []bar.Bar) {
	cp := make([]bar.Bar, len(bars))
	copy(cp, bars)
	r.mu.Lock()
	r.SeriesData[handle] = cp
	r.mu.Unlock()
	r.record("set-data handle=%s count=%d", handle, len(bars))
}

func (r *Recorder) SetClosePoints(handle SeriesHandle, points []ClosePoint) {
	cp := make([]ClosePoint, len(points))
	copy(cp, points)
	r.mu.Lock()
	r.ClosePoints[handle] = cp
	r.mu.Unlock()
	r.record("set-close-points handle=%s count=%d", handle, len(points))
}

func (r *Recorder) Update(handle SeriesHandle, b bar.Bar) {
	r.mu.Lock()
	bars := r.SeriesData[handle]
	if n := len(bars); n > 0 && bars[n-1].Time == b.Time {
		bars[n-1] = b
	} else {
		bars = append(bars, b)
	}
	r.SeriesData[handle] = bars
	r.mu.Unlock()
	r.record("update handle=%s time=%d", handle, b.Time)
}

func (r *Recorder) UpdateClosePoint(handle SeriesHandle, p ClosePoint) {
	r.mu.Lock()
	pts := r.ClosePoints[handle]
	if n := len(pts); n > 0 && pts[n-1].Time == p.Time {
		pts[n-1] = p
	} else {
		pts = append(pts, p)
	}
	r.ClosePoints[handle] = pts
	r.mu.Unlock()
	r.record("update-close-point handle=%s time=%d", handle, p.Time)
}

func (r *Recorder) SubscribeCrosshairMove(cb func(CrosshairEvent)) (unsubscribe func()) {
	r.mu.Lock()
	r.crosshairCB = cb
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.crosshairCB = nil
		r.mu.Unlock()
	}
}

// FireCrosshair lets tests simulate a crosshair move.
func (r *Recorder) FireCrosshair(ev CrosshairEvent) {
	r.mu.Lock()
	cb := r.crosshairCB
	r.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func (r *Recorder) FitContent() { r.record("fit-content") }

func (r *Recorder) Remove() {
	r.mu.Lock()
	r.removed = true
	r.mu.Unlock()
	r.record("remove")
}

// Removed reports whether Remove was called.
func (r *Recorder) Removed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removed
}

// History returns a copy of the recorded call log.
func (r *Recorder) History() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Calls))
	copy(out, r.Calls)
	return out
}

var _ Renderer = (*Recorder)(nil)
