// Package viewport owns the selected time window and the visual
// time-to-pixel mappings of the timeline strip and the span area, and
// turns pointer gestures into changes of either.
package viewport

import (
	"math"

	"github.com/Mr-Dark-debug/traviz/internal/trace"
)

// Gesture is the state of the pointer state machine.
type Gesture int

const (
	Idle Gesture = iota
	DraggingLeftHandle
	DraggingRightHandle
	DraggingWholeInterval
	PanningTimeline
	Zooming
)

func (g Gesture) String() string {
	switch g {
	case DraggingLeftHandle:
		return "dragging-left-handle"
	case DraggingRightHandle:
		return "dragging-right-handle"
	case DraggingWholeInterval:
		return "dragging-whole-interval"
	case PanningTimeline:
		return "panning-timeline"
	case Zooming:
		return "zooming"
	default:
		return "idle"
	}
}

// Surface identifies the screen area an event happened on.
type Surface int

const (
	SurfaceTimeline Surface = iota
	SurfaceSpans
)

// Button is a pointer button.
type Button int

const (
	ButtonNone Button = iota
	ButtonLeft
	ButtonMiddle
	ButtonRight
)

// Event is a pointer input. X is measured in pixels from the left edge of
// the surface's time axis.
type Event interface {
	isEvent()
}

type PointerDown struct {
	Surface Surface
	X       float64
	Button  Button
}

type PointerMove struct {
	Surface Surface
	X       float64
}

type PointerUp struct {
	Surface Surface
	X       float64
	Button  Button
}

type PointerLeave struct {
	Surface Surface
}

// Scroll is a wheel step. Positive Delta scrolls up, which zooms in.
type Scroll struct {
	Surface Surface
	X       float64
	Delta   float64
	Ctrl    bool
}

func (PointerDown) isEvent() {}
func (PointerMove) isEvent() {}
func (PointerUp) isEvent() {}
func (PointerLeave) isEvent() {}
func (Scroll) isEvent() {}

// Config tunes gesture handling.
type Config struct {
	// HandleTolerance is how close, in pixels, a press must be to a window
	// edge to grab it.
	HandleTolerance float64
	// ZoomStep is the span scale applied per wheel step; below 1.
	ZoomStep float64
	// MinWindow is the smallest allowed window width.
	MinWindow trace.Time
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{HandleTolerance: 1, ZoomStep: 0.8, MinWindow: 1}
}

// State is a snapshot of the viewport.
type State struct {
	Window       trace.Window
	Gesture      Gesture
	AnchorX      float64
	AnchorWindow trace.Window
	// TimelineZoom is trace width over the timeline's visible span.
	TimelineZoom float64
	// SpanZoom is window width over the span area's visible span.
	SpanZoom float64
}

// Controller is the viewport state machine. It is not safe for concurrent
// use; the UI loop owns it.
type Controller struct {
	cfg    Config
	bounds trace.Window
	window trace.Window

	timeline Mapping
	// spanLo and spanHi place the span area's visible range relative to
	// the window: 0 is window start, 1 is window end.
	spanLo, spanHi float64
	spanWidth      float64

	gesture       Gesture
	surface       Surface
	anchorX       float64
	anchorWindow  trace.Window
	anchorMapping Mapping
}

// NewController creates a controller over bounds with the given initial
// window. The timeline initially shows the whole trace.
func NewController(cfg Config, bounds, initial trace.Window, timelineWidth, spanWidth float64) *Controller {
	if cfg.ZoomStep <= 0 || cfg.ZoomStep >= 1 {
		cfg.ZoomStep = DefaultConfig().ZoomStep
	}
	if cfg.MinWindow < 1 {
		cfg.MinWindow = 1
	}
	if cfg.HandleTolerance < 0 {
		cfg.HandleTolerance = 0
	}
	c := &Controller{cfg: cfg}
	c.timeline.Width = timelineWidth
	c.spanWidth = spanWidth
	c.Reset(bounds, initial)
	return c
}

// Reset installs new trace bounds and window and drops any gesture and
// zoom state.
func (c *Controller) Reset(bounds, initial trace.Window) {
	if bounds.Width() < c.cfg.MinWindow {
		bounds.End = bounds.Start + c.cfg.MinWindow
	}
	if !initial.Valid() {
		initial = bounds
	}
	c.bounds = bounds
	c.window = bounds
	c.SetWindow(initial)
	c.timeline.Start = float64(bounds.Start)
	c.timeline.End = float64(bounds.End)
	c.spanLo, c.spanHi = 0, 1
	c.toIdle()
}

// Resize updates the pixel widths of both surfaces.
func (c *Controller) Resize(timelineWidth, spanWidth float64) {
	c.timeline.Width = timelineWidth
	c.spanWidth = spanWidth
}

// Window returns the selected interval.
func (c *Controller) Window() trace.Window { return c.window }

// Bounds returns the trace bounds.
func (c *Controller) Bounds() trace.Window { return c.bounds }

// Gesture returns the active gesture.
func (c *Controller) Gesture() Gesture { return c.gesture }

// TimelineMapping returns the timeline strip's mapping.
func (c *Controller) TimelineMapping() Mapping { return c.timeline }

// SpanMapping returns the span area's mapping, derived from the window
// and the span area's own zoom.
func (c *Controller) SpanMapping() Mapping {
	ws := float64(c.window.Start)
	w := float64(c.window.Width())
	return Mapping{Start: ws + c.spanLo*w, End: ws + c.spanHi*w, Width: c.spanWidth}
}

// State returns a snapshot of the viewport.
func (c *Controller) State() State {
	st := State{
		Window:       c.window,
		Gesture:      c.gesture,
		AnchorX:      c.anchorX,
		AnchorWindow: c.anchorWindow,
		TimelineZoom: 1,
		SpanZoom:     1,
	}
	if s := c.timeline.Span(); s > 0 {
		st.TimelineZoom = float64(c.bounds.Width()) / s
	}
	if d := c.spanHi - c.spanLo; d > 0 {
		st.SpanZoom = 1 / d
	}
	return st
}

// Handle feeds one pointer event to the state machine and reports whether
// the viewport consumed it. Unconsumed events belong to span interaction
// or row scrolling.
func (c *Controller) Handle(ev Event) bool {
	switch e := ev.(type) {
	case PointerDown:
		return c.down(e)
	case PointerMove:
		return c.move(e)
	case PointerUp:
		if c.gesture == Idle {
			return false
		}
		c.toIdle()
		return true
	case PointerLeave:
		active := c.gesture != Idle
		c.toIdle()
		return active
	case Scroll:
		return c.scroll(e)
	}
	return false
}

func (c *Controller) toIdle() {
	c.gesture = Idle
	c.anchorX = 0
	c.anchorWindow = trace.Window{}
	c.anchorMapping = Mapping{}
}

func (c *Controller) begin(g Gesture, e PointerDown, m Mapping) {
	c.gesture = g
	c.surface = e.Surface
	c.anchorX = e.X
	c.anchorWindow = c.window
	c.anchorMapping = m
}

func (c *Controller) down(e PointerDown) bool {
	if c.gesture != Idle {
		return true
	}

	if e.Surface == SurfaceSpans {
		if e.Button != ButtonRight {
			return false
		}
		c.begin(DraggingWholeInterval, e, c.SpanMapping())
		return true
	}

	switch e.Button {
	case ButtonRight:
		c.begin(PanningTimeline, e, c.timeline)
		return true
	case ButtonLeft:
		if g, ok := c.hitTest(e.X); ok {
			c.begin(g, e, c.timeline)
			return true
		}
	}
	return false
}

// hitTest decides which part of the window a timeline press grabbed.
// The nearer handle wins when both are within tolerance.
func (c *Controller) hitTest(x float64) (Gesture, bool) {
	xl := c.timeline.XAt(float64(c.window.Start))
	xr := c.timeline.XAt(float64(c.window.End))
	dl := math.Abs(x - xl)
	dr := math.Abs(x - xr)
	tol := c.cfg.HandleTolerance

	switch {
	case dl <= tol && dr <= tol:
		if dl < dr || (dl == dr && x <= (xl+xr)/2) {
			return DraggingLeftHandle, true
		}
		return DraggingRightHandle, true
	case dl <= tol:
		return DraggingLeftHandle, true
	case dr <= tol:
		return DraggingRightHandle, true
	case x > xl && x < xr:
		return DraggingWholeInterval, true
	}
	return Idle, false
}

func (c *Controller) move(e PointerMove) bool {
	if c.gesture == Idle {
		return false
	}
	dx := e.X - c.anchorX
	dt := dx * c.anchorMapping.PerPixel()
	eps := c.cfg.MinWindow

	switch c.gesture {
	case DraggingLeftHandle:
		start := c.anchorWindow.Start + roundTime(dt)
		c.window.Start = clamp(start, c.bounds.Start, c.window.End-eps)
	case DraggingRightHandle:
		end := c.anchorWindow.End + roundTime(dt)
		c.window.End = clamp(end, c.window.Start+eps, c.bounds.End)
	case DraggingWholeInterval:
		if c.surface == SurfaceSpans {
			// Content follows the pointer, so the window moves the other way.
			dt = -dt
		}
		c.window = c.shifted(c.anchorWindow, roundTime(dt))
	case PanningTimeline:
		c.timeline = c.anchorMapping.Pan(dx)
		c.timeline.Width = c.anchorMapping.Width
	}
	return true
}

func (c *Controller) scroll(e Scroll) bool {
	if c.gesture != Idle {
		return true
	}
	scale := math.Pow(c.cfg.ZoomStep, e.Delta)

	switch e.Surface {
	case SurfaceTimeline:
		c.gesture = Zooming
		bw := float64(c.bounds.Width())
		c.timeline = c.timeline.Zoom(e.X, scale, float64(c.cfg.MinWindow), bw*100)
		c.toIdle()
		return true
	case SurfaceSpans:
		if !e.Ctrl {
			return false
		}
		c.zoomSpans(e.X, scale)
		return true
	}
	return false
}

func (c *Controller) zoomSpans(x, scale float64) {
	rel := Mapping{Start: c.spanLo, End: c.spanHi, Width: c.spanWidth}
	rel = rel.Zoom(x, scale, 1e-6, 100)
	c.spanLo, c.spanHi = rel.Start, rel.End
}

// shifted translates w by dt, clamping the whole window against whichever
// bound it would cross. Width is kept unless the trace is narrower.
func (c *Controller) shifted(w trace.Window, dt trace.Time) trace.Window {
	width := w.Width()
	w.Start += dt
	w.End += dt
	if w.Start < c.bounds.Start {
		w.Start = c.bounds.Start
		w.End = w.Start + width
	}
	if w.End > c.bounds.End {
		w.End = c.bounds.End
		w.Start = w.End - width
	}
	if w.Start < c.bounds.Start {
		w.Start = c.bounds.Start
	}
	return w
}

// SetWindow replaces the window, clamped into the trace bounds.
func (c *Controller) SetWindow(w trace.Window) {
	eps := c.cfg.MinWindow
	w.Start = clamp(w.Start, c.bounds.Start, c.bounds.End-eps)
	w.End = clamp(w.End, w.Start+eps, c.bounds.End)
	c.window = w
}

// ShiftWindow moves the window by a fraction of its width.
func (c *Controller) ShiftWindow(fraction float64) {
	dt := roundTime(float64(c.window.Width()) * fraction)
	c.window = c.shifted(c.window, dt)
}

// ScaleWindow grows (factor > 1) or shrinks the window around its centre.
func (c *Controller) ScaleWindow(factor float64) {
	if factor <= 0 {
		return
	}
	centre := float64(c.window.Start) + float64(c.window.Width())/2
	half := float64(c.window.Width()) * factor / 2
	c.SetWindow(trace.Window{Start: roundTime(centre - half), End: roundTime(centre + half)})
}

// ZoomTimeline zooms the timeline strip around its centre.
func (c *Controller) ZoomTimeline(steps float64) {
	c.timeline = c.timeline.Zoom(c.timeline.Width/2, math.Pow(c.cfg.ZoomStep, steps),
		float64(c.cfg.MinWindow), float64(c.bounds.Width())*100)
}

// FitTimeline shows the whole trace on the timeline and resets the span
// area zoom.
func (c *Controller) FitTimeline() {
	c.timeline.Start = float64(c.bounds.Start)
	c.timeline.End = float64(c.bounds.End)
	c.spanLo, c.spanHi = 0, 1
}

func roundTime(f float64) trace.Time {
	return trace.Time(math.Round(f))
}

func clamp(t, lo, hi trace.Time) trace.Time {
	if t < lo {
		return lo
	}
	if t > hi {
		return hi
	}
	return t
}
