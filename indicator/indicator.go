// Package indicator defines the plug-in contract a pane attaches overlays
// through (spec §6): each indicator is an async factory keyed by an ID
// stored in PaneSettings, returning attach/detach/update/setOptions plus
// metadata the legend reads. Indicator calculation itself is out of scope
// (spec §1); this package is only the seam.
package indicator

import "github.com/epic1st/oakview/bar"

// PlotSpec describes one plotted output line (spec §6:
// metadata.plots[0].color feeds the legend).
type PlotSpec struct {
	Title string
	Color string
}

// InputSpec describes one configurable input (spec §6:
// metadata.inputs[*].defval feeds the legend's default display).
type InputSpec struct {
	Name   string
	Defval any
}

// Metadata is the static description a pane's legend reads after attach.
type Metadata struct {
	Title     string
	ShortName string
	Overlay   bool
	Inputs    []InputSpec
	Plots     []PlotSpec
}

// Handle is what a factory returns: the running indicator instance.
type Handle interface {
	// Attach performs any renderer-side setup (e.g. adding its own series).
	Attach() error
	// Detach tears down renderer-side state. Idempotent.
	Detach()
	// Update feeds one new/updated bar (historical replay or realtime).
	Update(b bar.Bar)
	// SetOptions applies new input options, re-deriving plotted values.
	SetOptions(options map[string]any)
	// Metadata returns the indicator's static description.
	Metadata() Metadata
	// LastValue returns the indicator's most recent computed output, for
	// the legend's per-indicator readout (spec §4.4).
	LastValue() (float64, bool)
}

// Factory is the fixed signature every indicator plug-in exports (spec §6:
// create<Pascal>Indicator(rendererChart, mainSeries, options, bars)).
// rendererChart/mainSeries are passed as opaque `any` so this package
// doesn't import package renderer; concrete factories type-assert them to
// the renderer types they expect.
type Factory func(rendererChart any, mainSeries any, options map[string]any, bars []bar.Bar) (Handle, error)
