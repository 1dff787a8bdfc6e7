package opt

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineMiles(t *testing.T) {
	a := GeoPoint{Lat: 41, Lng: -87}
	b := GeoPoint{Lat: 42, Lng: -87}
	assert.InDelta(t, 69.1128, HaversineMiles(a, b), 1e-3, "one degree of latitude")
	assert.Zero(t, HaversineMiles(a, a))

	chicago := GeoPoint{Lat: 41.8781, Lng: -87.6298}
	newYork := GeoPoint{Lat: 40.7128, Lng: -74.0060}
	assert.InDelta(t, 711.23, HaversineMiles(chicago, newYork), 0.01)

	near := GeoPoint{Lat: 41.0004, Lng: -87.6}
	assert.InDelta(t, 0.0276, HaversineMiles(GeoPoint{Lat: 41, Lng: -87.6}, near), 1e-4)
}

func TestHaversineSymmetricAndNonNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		a := GeoPoint{Lat: rng.Float64()*180 - 90, Lng: rng.Float64()*360 - 180}
		b := GeoPoint{Lat: rng.Float64()*180 - 90, Lng: rng.Float64()*360 - 180}
		ab, ba := HaversineMiles(a, b), HaversineMiles(b, a)
		assert.False(t, math.IsNaN(ab))
		assert.GreaterOrEqual(t, ab, 0.0)
		assert.InDelta(t, ab, ba, 1e-9)
		assert.LessOrEqual(t, ab, math.Pi*EarthRadiusMiles+1e-6)
	}
}

func TestHaversineAntipodes(t *testing.T) {
	d := HaversineMiles(GeoPoint{Lat: 0, Lng: 0}, GeoPoint{Lat: 0, Lng: 180})
	assert.InDelta(t, math.Pi*EarthRadiusMiles, d, 1e-6)
}

func TestValidPoint(t *testing.T) {
	cases := []struct {
		p    GeoPoint
		want bool
	}{
		{GeoPoint{41.88, -87.63}, true},
		{GeoPoint{90, 180}, true},
		{GeoPoint{-90, -180}, true},
		{GeoPoint{90.5, 0}, false},
		{GeoPoint{0, 181}, false},
		{GeoPoint{math.NaN(), 0}, false},
		{GeoPoint{0, math.Inf(1)}, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, validPoint(c.p), "%v", c.p)
	}
}
