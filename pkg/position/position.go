// Knob position codec
//
// Copyright (C) 2026  Melbourne Instruments
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package position converts between a normalized [0,1] logical knob
// position and the raw hardware value, honoring a mode's active
// angular range and its indent detents. Indents carve a dead-zone band
// out of the travel: raw values inside the band read as the indent
// itself, and the encode/decode pair compresses the bands out of the
// visible range so full logical travel still maps onto the reachable
// positions between indents.
package position

import (
	"math"

	"github.com/Melbourne-Instruments/nina-ui-sub000/pkg/haptics"
)

const (
	// HwMax is the top of the raw hardware position domain.
	HwMax = haptics.HwMax

	// domainSize is the wrap-around modulus for relative tracking.
	domainSize = HwMax + 1

	// IndentWidth is the full width of the dead-zone band around an
	// indent, in raw units.
	IndentWidth = 600

	// IndentSnap is the tolerance for snapping an encoded value onto
	// an indent, in raw units.
	IndentSnap = 5

	// TargetThreshold is the normal tolerance band for deciding that
	// a motor has reached a commanded target.
	TargetThreshold = 128
)

// segment is one visible span of raw travel between dead-zones.
// cum is the visible length accumulated before the segment starts.
type segment struct {
	start float64
	end   float64
	cum   float64
}

func (s segment) len() float64 { return s.end - s.start }

// Map is the precomputed codec for one haptic mode: the active
// hardware sub-range and the visible-segment table derived from the
// mode's indents.
type Map struct {
	min, max uint16
	indents  []uint16
	segs     []segment
	visible  float64
}

// NewMap builds the codec map for a haptic mode. Indent positions are
// assumed strictly increasing; indents outside the active range are
// dropped.
func NewMap(mode haptics.Mode) *Map {
	m := &Map{}
	m.min, m.max = mode.HwRange()

	half := float64(IndentWidth) / 2
	lo := float64(m.min)
	hi := float64(m.max)

	cursor := lo
	var cum float64
	for _, pos := range mode.EnabledIndents() {
		p := float64(pos)
		if p < lo || p > hi {
			continue
		}
		m.indents = append(m.indents, pos)

		zoneLo := math.Max(cursor, p-half)
		zoneHi := math.Min(hi, p+half)
		if zoneLo > cursor {
			m.segs = append(m.segs, segment{start: cursor, end: zoneLo, cum: cum})
			cum += zoneLo - cursor
		}
		cursor = zoneHi
	}
	if cursor < hi || len(m.segs) == 0 {
		m.segs = append(m.segs, segment{start: cursor, end: hi, cum: cum})
		cum += hi - cursor
	}
	m.visible = cum
	return m
}

// Range returns the active hardware sub-range [min, max].
func (m *Map) Range() (uint16, uint16) {
	return m.min, m.max
}

// Encode converts a normalized logical position to a raw hardware
// value: linear interpolation into the active range, clamped, with
// indent dead-zones compressed out of the travel. Monotonic
// non-decreasing in logical.
func (m *Map) Encode(logical float64) uint16 {
	logical = clamp01(logical)
	span := float64(m.max) - float64(m.min)

	if len(m.indents) == 0 || m.visible <= 0 {
		return clampRaw(float64(m.min)+logical*span, m.min, m.max)
	}

	// Compress: the full proportional travel maps onto the visible
	// length, then expands through the segment table. A coordinate
	// landing on a collapsed dead-zone maps to the indent itself.
	c := logical * m.visible
	raw := m.expand(c)

	for _, pos := range m.indents {
		if math.Abs(raw-float64(pos)) <= IndentSnap {
			return pos
		}
	}
	return clampRaw(raw, m.min, m.max)
}

// Decode converts a raw hardware value to a normalized logical
// position in [0,1]. Raw values inside an indent's dead-zone read as
// the indent itself.
func (m *Map) Decode(raw uint16) float64 {
	r := float64(clampRaw(float64(raw), m.min, m.max))

	if len(m.indents) == 0 || m.visible <= 0 {
		span := float64(m.max) - float64(m.min)
		if span <= 0 {
			return 0
		}
		return clamp01((r - float64(m.min)) / span)
	}

	return clamp01(m.compress(r) / m.visible)
}

// expand maps a compressed coordinate in [0, visible] back to a raw
// value, reinserting the dead-zones. Coordinates at a segment
// boundary are the collapse points and map to the indent raw value.
func (m *Map) expand(c float64) float64 {
	const eps = 1e-9

	// Collapse points map to the indent itself, including indents
	// whose band is clipped at a rail of the active range.
	for _, pos := range m.indents {
		if math.Abs(c-m.collapsePoint(pos)) <= eps {
			return float64(pos)
		}
	}

	for _, seg := range m.segs {
		segEnd := seg.cum + seg.len()
		if c <= segEnd+eps {
			return seg.start + math.Min(c-seg.cum, seg.len())
		}
	}
	return m.segs[len(m.segs)-1].end
}

// compress maps a raw value in [min, max] to its compressed
// coordinate, with dead-zone interiors collapsing onto their indent's
// boundary point.
func (m *Map) compress(r float64) float64 {
	half := float64(IndentWidth) / 2
	for _, pos := range m.indents {
		if math.Abs(r-float64(pos)) <= half {
			// Inside the dead-zone: snap to the indent for
			// computation.
			return m.collapsePoint(pos)
		}
	}
	for _, seg := range m.segs {
		if r >= seg.start && r <= seg.end {
			return seg.cum + (r - seg.start)
		}
	}
	if r < m.segs[0].start {
		return 0
	}
	return m.visible
}

// collapsePoint returns the compressed coordinate an indent's
// dead-zone collapses to: the end of the visible travel before it.
func (m *Map) collapsePoint(indent uint16) float64 {
	half := float64(IndentWidth) / 2
	zoneLo := float64(indent) - half
	var cum float64
	for _, seg := range m.segs {
		if seg.end <= zoneLo+1e-9 {
			cum = seg.cum + seg.len()
			continue
		}
		break
	}
	return cum
}

// WithinTargetThreshold reports whether raw is within the normal
// tolerance band of a commanded target.
func WithinTargetThreshold(raw, target uint16) bool {
	return absDiff(raw, target) <= TargetThreshold
}

// OutsideTargetThreshold reports whether a position delta exceeds the
// tolerance band; large selects the 2x band.
func OutsideTargetThreshold(delta int, large bool) bool {
	threshold := TargetThreshold
	if large {
		threshold *= 2
	}
	if delta < 0 {
		delta = -delta
	}
	return delta > threshold
}

func absDiff(a, b uint16) int {
	d := int(a) - int(b)
	if d < 0 {
		d = -d
	}
	return d
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampRaw(v float64, min, max uint16) uint16 {
	r := math.Round(v)
	if r < float64(min) {
		return min
	}
	if r > float64(max) {
		return max
	}
	return uint16(r)
}
