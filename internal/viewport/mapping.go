package viewport

import "math"

// Mapping converts between trace time and horizontal pixel positions on a
// surface. Times are float64 nanoseconds so zooming never loses precision
// to integer truncation.
type Mapping struct {
	Start float64
	End   float64
	Width float64
}

// Span returns the visible time range length.
func (m Mapping) Span() float64 { return m.End - m.Start }

// PerPixel returns nanoseconds per pixel.
func (m Mapping) PerPixel() float64 {
	if m.Width <= 0 {
		return 0
	}
	return m.Span() / m.Width
}

// TimeAt returns the time under pixel x.
func (m Mapping) TimeAt(x float64) float64 {
	return m.Start + x*m.PerPixel()
}

// XAt returns the pixel position of time t.
func (m Mapping) XAt(t float64) float64 {
	if m.Span() <= 0 {
		return 0
	}
	return (t - m.Start) / m.Span() * m.Width
}

// Pan moves the visible range so that content follows a drag of dx pixels.
func (m Mapping) Pan(dx float64) Mapping {
	dt := dx * m.PerPixel()
	m.Start -= dt
	m.End -= dt
	return m
}

// Zoom rescales the visible range by scale around the time under pixel x.
// scale < 1 zooms in. The result spans between minSpan and maxSpan.
func (m Mapping) Zoom(x, scale, minSpan, maxSpan float64) Mapping {
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return m
	}
	span := m.Span()
	target := span * scale
	if minSpan > 0 && target < minSpan {
		target = minSpan
	}
	if maxSpan > 0 && target > maxSpan {
		target = maxSpan
	}
	if span <= 0 {
		return m
	}
	scale = target / span
	t := m.TimeAt(x)
	m.Start = t - (t-m.Start)*scale
	m.End = t + (m.End-t)*scale
	return m
}
