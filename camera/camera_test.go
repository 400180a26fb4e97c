package camera

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

func TestProjectedSizeShrinksWithAltitude(t *testing.T) {
	b := orb.Bound{Min: orb.Point{-1, -1}, Max: orb.Point{1, 1}}
	low := New(orb.Point{0, 0}, 10_000, nil)
	high := low.Moved(orb.Point{0, 0}, 1_000_000)
	require.Greater(t, low.ProjectedSize(b), high.ProjectedSize(b))

	far := low.Moved(orb.Point{40, 0}, 10_000)
	require.Greater(t, low.ProjectedSize(b), far.ProjectedSize(b))
}

func TestSees(t *testing.T) {
	c := New(orb.Point{10, 45}, 5_000, nil)
	require.True(t, c.Sees(orb.Bound{Min: orb.Point{9.9, 44.9}, Max: orb.Point{10.1, 45.1}}))
	require.False(t, c.Sees(orb.Bound{Min: orb.Point{-120, -40}, Max: orb.Point{-110, -30}}))

	orbit := c.Moved(orb.Point{10, 45}, 40_000_000)
	require.True(t, orbit.Sees(orb.Bound{Min: orb.Point{-120, -40}, Max: orb.Point{-110, -30}}))
}

func TestDistanceInside(t *testing.T) {
	c := New(orb.Point{0, 0}, 1234, nil)
	require.InDelta(t, 1234, c.Distance(orb.Bound{Min: orb.Point{-1, -1}, Max: orb.Point{1, 1}}), 1e-6)
}

func TestSeesAcrossAntimeridian(t *testing.T) {
	c := New(orb.Point{179.9, 0}, 50_000, nil)
	v := c.View()
	require.Less(t, v.Min[0], v.Max[0])

	west := orb.Bound{Min: orb.Point{-180, -0.5}, Max: orb.Point{-179.5, 0.5}}
	require.True(t, c.Sees(west))
	require.False(t, c.Sees(orb.Bound{Min: orb.Point{-170, -0.5}, Max: orb.Point{-169, 0.5}}))

	// An unwrapped bound, as S2 cells on the antimeridian have.
	require.True(t, c.Sees(orb.Bound{Min: orb.Point{179.95, -0.1}, Max: orb.Point{180.05, 0.1}}))

	// Near, the short way round.
	require.Less(t, c.Distance(west), 60_000.0)
}
