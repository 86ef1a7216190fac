// Package layout implements the LayoutCoordinator of spec §4.5: the
// multi-pane state machine that owns the pane grid, the focused/expanded
// pane model, per-symbol subscription rebalancing, and config persistence.
package layout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/epic1st/oakview/bar"
	"github.com/epic1st/oakview/configstore"
	"github.com/epic1st/oakview/indicator"
	"github.com/epic1st/oakview/internal/logging"
	"github.com/epic1st/oakview/internal/telemetry"
	"github.com/epic1st/oakview/interval"
	"github.com/epic1st/oakview/pane"
	"github.com/epic1st/oakview/provider"
	"github.com/epic1st/oakview/renderer"
	"github.com/epic1st/oakview/resampler"
	"golang.org/x/sync/errgroup"
)

// Mode is one of the six fixed pane-grid shapes a coordinator supports
// (spec §3).
type Mode string

const (
	Single  Mode = "single"
	Grid2x1 Mode = "2x1"
	Grid1x2 Mode = "1x2"
	Grid2x2 Mode = "2x2"
	Grid3x1 Mode = "3x1"
	Grid1x3 Mode = "1x3"
)

func paneCount(m Mode) int {
	switch m {
	case Single:
		return 1
	case Grid2x1, Grid1x2:
		return 2
	case Grid2x2:
		return 4
	case Grid3x1, Grid1x3:
		return 3
	default:
		return 1
	}
}

// paneIDs returns the deterministic, order-preserving pane-id set for mode:
// "pane-0".."pane-(n-1)". Layout-mode changes keep settings for ids that
// continue to exist across the transition (spec §4.5).
func paneIDs(m Mode) []string {
	n := paneCount(m)
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = fmt.Sprintf("pane-%d", i)
	}
	return ids
}

// EventType enumerates the events a coordinator emits upward (spec §9).
type EventType string

const (
	EventPaneSelected   EventType = "pane-selected"
	EventSymbolChange   EventType = "symbol-change"
	EventIntervalChange EventType = "interval-change"
	EventLayoutChange   EventType = "layout-change"
	EventConfigRestored EventType = "config-restored"
	EventLoadError      EventType = "load-error"
)

// Event is one emitted coordinator event.
type Event struct {
	Type      EventType
	PaneID    string
	PaneIndex int
	Symbol    string
	Interval  string
	Mode      Mode
	Err       error
	// Panes is populated on EventConfigRestored only: one entry per
	// restored pane, in pane-index order (spec §6 config-restored detail
	// `{ layout, panes: [...] }`).
	Panes []PaneRestoreInfo
}

// PaneRestoreInfo is one pane's settings snapshot carried on the
// EventConfigRestored event's panes list, so a host can re-attach
// indicators by id against its own factory registry (spec §9 design note).
type PaneRestoreInfo struct {
	PaneID     string
	PaneIndex  int
	Symbol     string
	Interval   string
	ChartType  pane.ChartType
	Indicators []string
}

// Listener receives emitted events.
type Listener func(Event)

// State is the persisted snapshot of spec §4.6: layout mode, every pane's
// settings, and the focused/expanded pane ids.
type State struct {
	Mode          Mode                     `json:"mode"`
	PaneSettings  map[string]pane.Settings `json:"paneSettings"`
	FocusedPane   string                   `json:"focusedPane"`
	ExpandedPane  string                   `json:"expandedPane,omitempty"`
}

// HealthStatus mirrors the teacher's MarketDataPipeline.HealthCheck()
// shape: a point-in-time summary a host can poll or expose on a status
// endpoint.
type HealthStatus struct {
	ProviderConnected   bool
	PaneCount           int
	ActiveSubscriptions int
	Mode                Mode
}

type subscriptionState struct {
	interval       string
	unsubscribe    provider.UnsubscribeFunc
	paneResamplers map[string]*resampler.BarResampler
}

// Coordinator is the LayoutCoordinator of spec §4.5.
type Coordinator struct {
	mu sync.RWMutex

	mode     Mode
	panes    map[string]*pane.Pane
	order    []string
	focused  string
	expanded string

	prov           provider.Provider
	rendererFactory func(paneID string) renderer.Renderer
	showFormingBar bool

	subs map[string]*subscriptionState

	store     configstore.Store
	configKey string
	saver     *configstore.DebouncedSaver

	log       *logging.Logger
	listeners []Listener
}

// persistDebounce is the window rapid-fire mutations (e.g. a drag-resizing
// layout) are coalesced over before the coordinator writes through to the
// store (spec §4.6: "debounced to end-of-tick is permitted").
const persistDebounce = 250 * time.Millisecond

// New constructs a coordinator in mode, creating one pane per slot seeded
// from defaults. rendererFactory builds the drawing surface for each pane
// as it is created (including on later layout-mode growth).
func New(
	mode Mode,
	defaults pane.Settings,
	rendererFactory func(paneID string) renderer.Renderer,
	prov provider.Provider,
	store configstore.Store,
	configKey string,
	showFormingBar bool,
	log *logging.Logger,
) *Coordinator {
	if log == nil {
		log = logging.Default
	}
	c := &Coordinator{
		mode:            mode,
		panes:           make(map[string]*pane.Pane),
		rendererFactory: rendererFactory,
		prov:            prov,
		showFormingBar:  showFormingBar,
		subs:            make(map[string]*subscriptionState),
		store:           store,
		configKey:       configKey,
		log:             log,
	}
	if store != nil {
		c.saver = configstore.NewDebouncedSaver(store, configKey, persistDebounce)
	}

	ids := paneIDs(mode)
	c.order = ids
	for i, id := range ids {
		s := defaults.Clone()
		if i > 0 {
			s.Indicators = nil
		}
		c.panes[id] = pane.New(id, rendererFactory(id), s, log)
	}
	c.focused = ids[0]
	telemetry.SetPanesActive(len(ids))
	return c
}

// Subscribe registers a listener for emitted events and returns an
// unsubscribe function.
func (c *Coordinator) Subscribe(l Listener) func() {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	idx := len(c.listeners) - 1
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if idx < len(c.listeners) {
			c.listeners[idx] = nil
		}
	}
}

func (c *Coordinator) emit(ev Event) {
	c.mu.RLock()
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.RUnlock()
	for _, l := range listeners {
		if l != nil {
			l(ev)
		}
	}
}

// Pane returns the pane for id, or nil if it does not exist in the current
// layout.
func (c *Coordinator) Pane(id string) *pane.Pane {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.panes[id]
}

// PaneOrder returns the current deterministic pane-id order.
func (c *Coordinator) PaneOrder() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// FocusedPane returns the id of the currently focused pane.
func (c *Coordinator) FocusedPane() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.focused
}

// paneIndexLocked returns id's position in the current pane-index order, or
// -1 if id is not part of the layout. Callers must hold c.mu.
func (c *Coordinator) paneIndexLocked(id string) int {
	for i, pid := range c.order {
		if pid == id {
			return i
		}
	}
	return -1
}

// SetLayoutMode transitions to a new grid shape, preserving settings for
// pane ids that continue to exist and tearing down panes that no longer
// fit (spec §4.5).
func (c *Coordinator) SetLayoutMode(mode Mode) {
	c.mu.Lock()
	newIDs := paneIDs(mode)
	newSet := make(map[string]bool, len(newIDs))
	for _, id := range newIDs {
		newSet[id] = true
	}

	var toClose []*pane.Pane
	for id, p := range c.panes {
		if !newSet[id] {
			toClose = append(toClose, p)
			delete(c.panes, id)
		}
	}

	var fallbackSettings pane.Settings
	if len(c.order) > 0 {
		if first := c.panes[c.order[0]]; first != nil {
			fallbackSettings = first.Settings()
		}
	}

	for _, id := range newIDs {
		if _, ok := c.panes[id]; !ok {
			s := fallbackSettings.Clone()
			s.Indicators = nil
			c.panes[id] = pane.New(id, c.rendererFactory(id), s, c.log)
		}
	}

	c.mode = mode
	c.order = newIDs
	if !newSet[c.focused] {
		c.focused = newIDs[0]
	}
	if !newSet[c.expanded] {
		c.expanded = ""
	}
	c.mu.Unlock()

	for _, p := range toClose {
		p.Close()
	}

	telemetry.SetPanesActive(len(newIDs))
	c.rebalanceSubscriptions()
	c.emit(Event{Type: EventLayoutChange, Mode: mode})
}

// SelectPane sets the focused pane. Returns an error if id is not part of
// the current layout.
func (c *Coordinator) SelectPane(id string) error {
	c.mu.Lock()
	if _, ok := c.panes[id]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("layout: unknown pane %q", id)
	}
	c.focused = id
	idx := c.paneIndexLocked(id)
	c.mu.Unlock()

	c.emit(Event{Type: EventPaneSelected, PaneID: id, PaneIndex: idx})
	return nil
}

// ToggleExpansion expands id to fill the grid, or collapses back to the
// normal grid if id is already expanded. Expanding a pane other than the
// one already expanded also switches focus to it, mirroring SelectPane
// (spec §4.5: "clicking another pane while expanded switches focus and
// keeps expansion").
func (c *Coordinator) ToggleExpansion(id string) error {
	c.mu.Lock()
	if _, ok := c.panes[id]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("layout: unknown pane %q", id)
	}
	focusChanged := false
	if c.expanded == id {
		c.expanded = ""
	} else {
		c.expanded = id
		if c.focused != id {
			c.focused = id
			focusChanged = true
		}
	}
	mode := c.mode
	idx := c.paneIndexLocked(id)
	c.mu.Unlock()

	if focusChanged {
		c.emit(Event{Type: EventPaneSelected, PaneID: id, PaneIndex: idx})
	}
	c.emit(Event{Type: EventLayoutChange, PaneID: id, PaneIndex: idx, Mode: mode})
	return nil
}

// ExpandedPane returns the currently expanded pane id, or "" if none.
func (c *Coordinator) ExpandedPane() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expanded
}

// OnSymbolChange loads newSymbol into paneID at its current interval,
// rebalances subscriptions, and emits symbol-change or load-error.
func (c *Coordinator) OnSymbolChange(ctx context.Context, paneID, newSymbol string) error {
	p := c.Pane(paneID)
	if p == nil {
		return fmt.Errorf("layout: unknown pane %q", paneID)
	}
	iv := p.Settings().Interval

	c.mu.RLock()
	prov := c.prov
	idx := c.paneIndexLocked(paneID)
	c.mu.RUnlock()

	err := p.LoadSymbolData(ctx, newSymbol, iv, prov)
	c.rebalanceSubscriptions()
	if err != nil {
		c.log.Warn("symbol load failed", logging.PaneID(paneID), logging.Symbol(newSymbol))
		telemetry.RecordLoadError(newSymbol)
		c.emit(Event{Type: EventLoadError, PaneID: paneID, PaneIndex: idx, Symbol: newSymbol, Interval: iv, Err: err})
		return err
	}
	c.emit(Event{Type: EventSymbolChange, PaneID: paneID, PaneIndex: idx, Symbol: newSymbol, Interval: iv})
	c.persist()
	return nil
}

// OnIntervalChange loads paneID's current symbol at newInterval,
// rebalances subscriptions, and emits interval-change or load-error.
func (c *Coordinator) OnIntervalChange(ctx context.Context, paneID, newInterval string) error {
	p := c.Pane(paneID)
	if p == nil {
		return fmt.Errorf("layout: unknown pane %q", paneID)
	}
	symbol := p.Settings().Symbol

	c.mu.RLock()
	prov := c.prov
	idx := c.paneIndexLocked(paneID)
	c.mu.RUnlock()

	err := p.LoadSymbolData(ctx, symbol, newInterval, prov)
	c.rebalanceSubscriptions()
	if err != nil {
		c.log.Warn("interval load failed", logging.PaneID(paneID), logging.Interval(newInterval))
		telemetry.RecordLoadError(symbol)
		c.emit(Event{Type: EventLoadError, PaneID: paneID, PaneIndex: idx, Symbol: symbol, Interval: newInterval, Err: err})
		return err
	}
	c.emit(Event{Type: EventIntervalChange, PaneID: paneID, PaneIndex: idx, Symbol: symbol, Interval: newInterval})
	c.persist()
	return nil
}

// SetDataProvider swaps the active data provider, disconnecting the old
// one, reloading every pane's data concurrently, and rebalancing
// subscriptions against the new provider.
func (c *Coordinator) SetDataProvider(ctx context.Context, prov provider.Provider) error {
	c.mu.Lock()
	old := c.prov
	for _, st := range c.subs {
		st.unsubscribe()
	}
	c.subs = make(map[string]*subscriptionState)
	c.prov = prov
	panes := make([]*pane.Pane, 0, len(c.panes))
	for _, p := range c.panes {
		panes = append(panes, p)
	}
	c.mu.Unlock()

	if old != nil {
		_ = old.Disconnect()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range panes {
		p := p
		g.Go(func() error {
			s := p.Settings()
			if s.Symbol == "" {
				return nil
			}
			if err := p.LoadSymbolData(gctx, s.Symbol, s.Interval, prov); err != nil {
				c.log.Warn("reload on provider swap failed", logging.PaneID(p.ID()), logging.Symbol(s.Symbol))
				telemetry.RecordLoadError(s.Symbol)
				c.emit(Event{Type: EventLoadError, PaneID: p.ID(), Symbol: s.Symbol, Interval: s.Interval, Err: err})
			}
			return nil
		})
	}
	_ = g.Wait()

	c.rebalanceSubscriptions()
	return nil
}

// AttachIndicator attaches an indicator to paneID via factory.
func (c *Coordinator) AttachIndicator(paneID, indicatorID string, factory indicator.Factory, options map[string]any) error {
	p := c.Pane(paneID)
	if p == nil {
		return fmt.Errorf("layout: unknown pane %q", paneID)
	}
	return p.AttachIndicator(indicatorID, factory, options)
}

// DetachIndicator removes an indicator from paneID.
func (c *Coordinator) DetachIndicator(paneID, indicatorID string) error {
	p := c.Pane(paneID)
	if p == nil {
		return fmt.Errorf("layout: unknown pane %q", paneID)
	}
	p.DetachIndicator(indicatorID)
	return nil
}

// HealthCheck reports the coordinator's point-in-time status, mirroring
// the teacher's MarketDataPipeline.HealthCheck().
func (c *Coordinator) HealthCheck() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return HealthStatus{
		ProviderConnected:   c.prov != nil,
		PaneCount:           len(c.panes),
		ActiveSubscriptions: len(c.subs),
		Mode:                c.mode,
	}
}

// rebalanceSubscriptions implements the subscription rebalance algorithm
// of spec §4.5: group panes by symbol, subscribe once per symbol at the
// finest interval any pane needs (or finer if the provider declares a
// finer base), and keep/replace/cancel existing subscriptions accordingly.
func (c *Coordinator) rebalanceSubscriptions() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.prov == nil {
		return
	}
	sub, ok := c.prov.(provider.Subscriber)
	if !ok {
		return
	}

	desiredToken := map[string]interval.Token{}
	desiredRaw := map[string]string{}
	for _, p := range c.panes {
		s := p.Settings()
		if s.Symbol == "" {
			continue
		}
		tok, err := interval.Parse(s.Interval)
		if err != nil {
			continue
		}
		if cur, ok := desiredToken[s.Symbol]; !ok || interval.IsFinerThan(tok, cur) {
			desiredToken[s.Symbol] = tok
			desiredRaw[s.Symbol] = s.Interval
		}
	}

	if baseProv, ok := c.prov.(provider.BaseIntervalProvider); ok {
		for symbol, tok := range desiredToken {
			base, ok := baseProv.GetBaseInterval(symbol)
			if !ok {
				continue
			}
			baseTok, err := interval.Parse(base)
			if err != nil {
				continue
			}
			if interval.IsFinerThan(baseTok, tok) {
				desiredToken[symbol] = baseTok
				desiredRaw[symbol] = base
			}
		}
	}

	for symbol, st := range c.subs {
		if _, ok := desiredRaw[symbol]; !ok {
			st.unsubscribe()
			delete(c.subs, symbol)
			telemetry.RecordRebalance("cancel")
			telemetry.SetSubscriptionsActive(symbol, 0)
		}
	}

	symbols := make([]string, 0, len(desiredRaw))
	for symbol := range desiredRaw {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		raw := desiredRaw[symbol]
		existing, ok := c.subs[symbol]
		if ok && existing.interval == raw {
			continue
		}
		outcome := "create"
		if ok {
			existing.unsubscribe()
			delete(c.subs, symbol)
			outcome = "replace"
		}

		unsub, err := sub.Subscribe(symbol, raw, c.makeRouter(symbol, raw))
		if err != nil {
			c.log.Warn("subscribe failed", logging.Symbol(symbol), logging.Interval(raw))
			telemetry.RecordLoadError(symbol)
			continue
		}
		c.subs[symbol] = &subscriptionState{
			interval:       raw,
			unsubscribe:    unsub,
			paneResamplers: make(map[string]*resampler.BarResampler),
		}
		telemetry.RecordRebalance(outcome)
		telemetry.SetSubscriptionsActive(symbol, 1)
	}
}

// makeRouter builds the callback passed to provider.Subscriber.Subscribe
// for symbol, subscribed at subInterval. It fans one upstream feed out to
// every pane showing that symbol, resampling per pane when the pane's
// interval is coarser than the upstream subscription.
func (c *Coordinator) makeRouter(symbol, subInterval string) func(bar.Bar) {
	return func(b bar.Bar) {
		c.mu.Lock()
		st, ok := c.subs[symbol]
		if !ok {
			c.mu.Unlock()
			return
		}
		type target struct {
			p  *pane.Pane
			iv string
		}
		var targets []target
		for _, p := range c.panes {
			s := p.Settings()
			if s.Symbol == symbol {
				targets = append(targets, target{p: p, iv: s.Interval})
			}
		}
		showForming := c.showFormingBar
		c.mu.Unlock()

		for _, tgt := range targets {
			if tgt.iv == subInterval {
				tgt.p.UpdateRealtime(b)
				continue
			}

			c.mu.Lock()
			r, ok := st.paneResamplers[tgt.p.ID()]
			if !ok || r.Target() != tgt.iv {
				var err error
				r, err = resampler.New(tgt.iv)
				if err != nil {
					c.mu.Unlock()
					continue
				}
				st.paneResamplers[tgt.p.ID()] = r
			}
			c.mu.Unlock()

			completed, err := r.AddBar(b)
			if err != nil {
				telemetry.RecordResampleError(resampleErrorKind(err))
				continue
			}
			if completed != nil {
				tgt.p.UpdateRealtime(*completed)
				telemetry.RecordBarResampled(tgt.iv)
			}
			if showForming {
				if cur := r.CurrentBar(); cur != nil {
					tgt.p.UpdateFormingBar(*cur)
				}
			}
		}
	}
}

// resampleErrorKind names a resampler error for the telemetry label set,
// falling back to "unknown" for errors outside resampler's own type (which
// should not occur in practice, since makeRouter always builds resamplers
// via resampler.New).
func resampleErrorKind(err error) string {
	var rerr *resampler.Error
	if errors.As(err, &rerr) {
		switch rerr.Kind {
		case resampler.KindInvalidInterval:
			return "invalid_interval"
		case resampler.KindUnsupportedInterval:
			return "unsupported_interval"
		case resampler.KindOutOfOrder:
			return "out_of_order"
		}
	}
	return "unknown"
}

// Snapshot captures the coordinator's current State for persistence.
func (c *Coordinator) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	settings := make(map[string]pane.Settings, len(c.panes))
	for id, p := range c.panes {
		settings[id] = p.Settings()
	}
	return State{
		Mode:         c.mode,
		PaneSettings: settings,
		FocusedPane:  c.focused,
		ExpandedPane: c.expanded,
	}
}

// persist schedules the current snapshot for write-through to the
// configured store, if any, coalescing rapid-fire mutations through the
// coordinator's DebouncedSaver (spec §4.6). Encode failures are logged,
// never surfaced to the caller (a failed persist doesn't interrupt
// interactive use); the underlying Save's own failure is discarded by
// DebouncedSaver.fire and never reported.
func (c *Coordinator) persist() {
	c.mu.RLock()
	saver := c.saver
	c.mu.RUnlock()
	if saver == nil {
		return
	}

	data, err := encodeState(c.Snapshot())
	if err != nil {
		c.log.Warn("failed to encode layout state")
		return
	}
	saver.Schedule(data)
}

// Flush saves any pending debounced mutation immediately, bypassing the
// debounce delay. Hosts should call this on shutdown so the last mutation
// before exit is never lost.
func (c *Coordinator) Flush() error {
	c.mu.RLock()
	saver := c.saver
	c.mu.RUnlock()
	if saver == nil {
		return nil
	}
	return saver.Flush()
}

// Restore loads a previously persisted State from the store and applies
// it: layout mode, pane settings, and focus. Pane data itself is reloaded
// through prov via LoadSymbolData for every restored pane with a symbol.
func (c *Coordinator) Restore(ctx context.Context) error {
	c.mu.RLock()
	store := c.store
	key := c.configKey
	c.mu.RUnlock()
	if store == nil {
		return nil
	}

	data, err := store.Load(ctx, key)
	if err != nil {
		return err
	}
	state, err := decodeState(data)
	if err != nil {
		return err
	}

	c.SetLayoutMode(state.Mode)

	c.mu.Lock()
	if state.FocusedPane != "" {
		if _, ok := c.panes[state.FocusedPane]; ok {
			c.focused = state.FocusedPane
		}
	}
	c.expanded = state.ExpandedPane
	panes := make(map[string]*pane.Pane, len(c.panes))
	for id, p := range c.panes {
		panes[id] = p
	}
	prov := c.prov
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for id, s := range state.PaneSettings {
		p, ok := panes[id]
		if !ok || s.Symbol == "" {
			continue
		}
		p, s := p, s
		g.Go(func() error {
			p.SetChartType(s.ChartType)
			p.SetIndicatorIDs(s.Indicators)
			return p.LoadSymbolData(gctx, s.Symbol, s.Interval, prov)
		})
	}
	_ = g.Wait()

	c.rebalanceSubscriptions()

	c.mu.RLock()
	restoredPanes := make([]PaneRestoreInfo, 0, len(c.order))
	for i, id := range c.order {
		p, ok := c.panes[id]
		if !ok {
			continue
		}
		s := p.Settings()
		restoredPanes = append(restoredPanes, PaneRestoreInfo{
			PaneID:     id,
			PaneIndex:  i,
			Symbol:     s.Symbol,
			Interval:   s.Interval,
			ChartType:  s.ChartType,
			Indicators: s.Indicators,
		})
	}
	c.mu.RUnlock()

	c.emit(Event{Type: EventConfigRestored, Mode: state.Mode, Panes: restoredPanes})
	return nil
}
