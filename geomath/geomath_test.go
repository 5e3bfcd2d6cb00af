package geomath

import (
	"math"
	"testing"

	"dodanati/models"
)

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestHaversineKm(t *testing.T) {
	algiersCenter := models.Point{Lat: 36.7525, Lng: 3.04197}
	babEzzouar := models.Point{Lat: 36.7213, Lng: 3.1897}

	testCases := []struct {
		name     string
		a, b     models.Point
		expected float64
		eps      float64
	}{
		{
			name:     "Identical points",
			a:        algiersCenter,
			b:        algiersCenter,
			expected: 0,
			eps:      1e-9,
		},
		{
			name:     "Algiers center to Bab Ezzouar",
			a:        algiersCenter,
			b:        babEzzouar,
			expected: 13.6,
			eps:      0.3,
		},
		{
			name:     "One degree of latitude",
			a:        models.Point{Lat: 36.0, Lng: 3.0},
			b:        models.Point{Lat: 37.0, Lng: 3.0},
			expected: 111.2,
			eps:      0.2,
		},
	}

	for _, testCase := range testCases {
		got := HaversineKm(testCase.a, testCase.b)
		if !almostEqual(got, testCase.expected, testCase.eps) {
			t.Errorf("%s: HaversineKm = %f, expected %f±%f", testCase.name, got, testCase.expected, testCase.eps)
		}
		back := HaversineKm(testCase.b, testCase.a)
		if !almostEqual(got, back, 1e-12) {
			t.Errorf("%s: not symmetric, %f vs %f", testCase.name, got, back)
		}
	}
}

func TestPointToSegmentMeters(t *testing.T) {
	testCases := []struct {
		name     string
		p, s, e  models.Point
		expected float64
		eps      float64
	}{
		{
			name: "Point beside segment midpoint",
			// ~500 m east of a north-south segment at lat 36.75.
			p:        models.Point{Lat: 36.755, Lng: 3.04757},
			s:        models.Point{Lat: 36.75, Lng: 3.042},
			e:        models.Point{Lat: 36.76, Lng: 3.042},
			expected: 497,
			eps:      5,
		},
		{
			name: "Projection clamped to segment start",
			// One km south of the start point, well off the segment body.
			p:        models.Point{Lat: 36.741, Lng: 3.042},
			s:        models.Point{Lat: 36.75, Lng: 3.042},
			e:        models.Point{Lat: 36.76, Lng: 3.042},
			expected: 1002,
			eps:      5,
		},
		{
			name:     "Degenerate segment behaves as point distance",
			p:        models.Point{Lat: 36.751, Lng: 3.042},
			s:        models.Point{Lat: 36.75, Lng: 3.042},
			e:        models.Point{Lat: 36.75, Lng: 3.042},
			expected: 111.3,
			eps:      1,
		},
		{
			name:     "Point on the segment",
			p:        models.Point{Lat: 36.755, Lng: 3.042},
			s:        models.Point{Lat: 36.75, Lng: 3.042},
			e:        models.Point{Lat: 36.76, Lng: 3.042},
			expected: 0,
			eps:      0.01,
		},
	}

	for _, testCase := range testCases {
		got := PointToSegmentMeters(testCase.p, testCase.s, testCase.e)
		if !almostEqual(got, testCase.expected, testCase.eps) {
			t.Errorf("%s: PointToSegmentMeters = %f, expected %f±%f", testCase.name, got, testCase.expected, testCase.eps)
		}
	}
}

func TestBearingDeg(t *testing.T) {
	origin := models.Point{Lat: 36.75, Lng: 3.04}

	testCases := []struct {
		name     string
		to       models.Point
		expected float64
		eps      float64
	}{
		{name: "Due north", to: models.Point{Lat: 36.76, Lng: 3.04}, expected: 0, eps: 0.01},
		{name: "Due east", to: models.Point{Lat: 36.75, Lng: 3.05}, expected: 90, eps: 0.05},
		{name: "Due south", to: models.Point{Lat: 36.74, Lng: 3.04}, expected: 180, eps: 0.01},
		{name: "Due west", to: models.Point{Lat: 36.75, Lng: 3.03}, expected: 270, eps: 0.05},
	}

	for _, testCase := range testCases {
		got := BearingDeg(origin, testCase.to)
		if !almostEqual(got, testCase.expected, testCase.eps) {
			t.Errorf("%s: BearingDeg = %f, expected %f", testCase.name, got, testCase.expected)
		}
	}
}

func TestSmoothHeadingCrossesNorth(t *testing.T) {
	// 358° toward 2° must move through 0°, not through 180°.
	got := SmoothHeading(358, 2, 0.25)
	if !almostEqual(got, 359, 1e-9) {
		t.Errorf("SmoothHeading(358, 2, 0.25) = %f, expected 359", got)
	}

	got = SmoothHeading(359, 2, 0.25)
	if !almostEqual(got, 359.75, 1e-9) {
		t.Errorf("SmoothHeading(359, 2, 0.25) = %f, expected 359.75", got)
	}

	// And back across the other way.
	got = SmoothHeading(2, 358, 0.25)
	if !almostEqual(got, 1, 1e-9) {
		t.Errorf("SmoothHeading(2, 358, 0.25) = %f, expected 1", got)
	}
}

func TestSmoothHeadingStaysInRange(t *testing.T) {
	testCases := []struct {
		prev, next float64
	}{
		{350, 10}, {10, 350}, {0, 180}, {180, 0}, {90, 270}, {0, 0}, {359.9, 0.1},
	}
	for _, testCase := range testCases {
		got := SmoothHeading(testCase.prev, testCase.next, 0.22)
		if got < 0 || got >= 360 {
			t.Errorf("SmoothHeading(%f, %f) = %f outside [0,360)", testCase.prev, testCase.next, got)
		}
	}
}

func TestHeadingDelta(t *testing.T) {
	testCases := []struct {
		a, b     float64
		expected float64
	}{
		{0, 10, 10},
		{10, 0, -10},
		{350, 10, 20},
		{10, 350, -20},
		{0, 180, 180},
		{180, 0, 180}, // -180 wraps to +180
		{90, 90, 0},
	}
	for _, testCase := range testCases {
		got := HeadingDelta(testCase.a, testCase.b)
		if !almostEqual(got, testCase.expected, 1e-9) {
			t.Errorf("HeadingDelta(%f, %f) = %f, expected %f", testCase.a, testCase.b, got, testCase.expected)
		}
	}
}

func TestZoomLevel(t *testing.T) {
	testCases := []struct {
		span     float64
		expected int
	}{
		{360, 0},
		{180, 1},
		{0.087890625, 12}, // 360 / 2^12
		{0.02, 14},
		{0, 21},
		{-1, 21},
	}
	for _, testCase := range testCases {
		if got := ZoomLevel(testCase.span); got != testCase.expected {
			t.Errorf("ZoomLevel(%f) = %d, expected %d", testCase.span, got, testCase.expected)
		}
	}
}
