package httpdate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	got := Parse("Sat, 10 Jan 2026 01:00:00 GMT")
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2026, 1, 10, 1, 0, 0, 0, time.UTC), *got)

	assert.Nil(t, Parse(""))
	assert.Nil(t, Parse("not a date"))
	assert.Nil(t, Parse("2026-01-10T01:00:00Z"))
}

func TestFormatRoundTrip(t *testing.T) {
	want := time.Date(2026, 1, 10, 1, 0, 0, 0, time.UTC)

	got := Parse(Format(want))
	require.NotNil(t, got)
	assert.True(t, got.Equal(want))
}

func TestEpochRoundTrip(t *testing.T) {
	want := time.Date(2026, 1, 10, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, want, FromEpoch(Epoch(want)))
}

func TestBefore(t *testing.T) {
	a := time.Date(2026, 1, 10, 1, 0, 0, 0, time.UTC)
	b := a.Add(time.Second)

	assert.True(t, Before(a, b))
	assert.False(t, Before(b, a))
	assert.False(t, Before(a, a))

	// Sub-second differences collapse at gate resolution.
	assert.False(t, Before(a, a.Add(500*time.Millisecond)))

	// Wall-clock equality holds regardless of the zone the values carry.
	inZone := a.In(time.FixedZone("JST", 9*3600))
	assert.False(t, Before(a, inZone))
	assert.False(t, Before(inZone, a))
}
