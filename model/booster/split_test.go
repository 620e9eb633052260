package booster

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cyjseagull/WeDPR-Component/model/modelctx"
)

func TestGainZeroDenominator(t *testing.T) {
	require.Equal(t, 0.0, Gain(1, 0, 1, 0, 0, 0, 0))
	require.Equal(t, 0.0, Gain(1, 2, 1, 1, 0, -1, 1))
	require.Equal(t, 0.0, Gain(1, 1, 0.5, -1, 0.5, 2, 1))
	require.InDelta(t, 1.0/2+4.0/3-9.0/4, Gain(3, 3, 1, 1, 2, 2, 1), 1e-12)
}

func TestLeafWeightDeadZone(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		alpha := rapid.Float64Range(0, 10).Draw(t, "alpha")
		g := rapid.Float64Range(-alpha, alpha).Draw(t, "g")
		h := rapid.Float64Range(0.01, 100).Draw(t, "h")
		lambda := rapid.Float64Range(0, 10).Draw(t, "lambda")
		require.Equal(t, 0.0, LeafWeight(0.1, lambda, g, h, alpha))
	})

	rapid.Check(t, func(t *rapid.T) {
		alpha := rapid.Float64Range(0, 10).Draw(t, "alpha")
		g := rapid.Float64Range(alpha+0.001, alpha+100).Draw(t, "g")
		h := rapid.Float64Range(0.01, 100).Draw(t, "h")
		w := LeafWeight(0.1, 1, g, h, alpha)
		require.Less(t, w, 0.0)
		require.InDelta(t, -LeafWeight(0.1, 1, -g, h, alpha), w, 1e-12)
	})

	require.Equal(t, 0.0, LeafWeight(0.1, 0, 1, 0, 0))
	require.InDelta(t, -0.1*2/4, LeafWeight(0.1, 1, 2, 3, 0), 1e-12)
}

func TestGradients(t *testing.T) {
	g, h := gradients([]float64{0, 0}, []float64{1, 0})
	require.Equal(t, []float64{-0.5, 0.5}, g)
	require.Equal(t, []float64{0.25, 0.25}, h)
}

func TestSplitFinder(t *testing.T) {
	hist := &histogram{
		g: [][]float64{{-2, 0, 2}, {-2, 2}},
		h: [][]float64{{1, 1, 1}, {1.5, 1.5}},
	}
	s := &splitFinder{g: 0, h: 3, lambda: 1, minChildWeight: 1e-3}
	s.scan(0, hist, nil)
	require.NotNil(t, s.best)
	require.Equal(t, 0, s.best.feature)
	require.Equal(t, 0, s.best.value)

	// an equal gain from a later agency does not replace the best split
	best := *s.best
	s.scan(1, hist, nil)
	require.Equal(t, best, *s.best)

	// min child weight rejects every candidate
	s = &splitFinder{g: 0, h: 3, lambda: 1, minChildWeight: 10}
	s.scan(0, hist, nil)
	require.Nil(t, s.best)
}

func TestSplitFinderCategorical(t *testing.T) {
	// the middle category alone carries the signal
	hist := &histogram{
		g: [][]float64{{1, -3, 2}},
		h: [][]float64{{1, 1, 1}},
	}
	s := &splitFinder{g: 0, h: 3, lambda: 0, minChildWeight: 1e-3}
	s.scan(0, hist, []bool{true})
	require.NotNil(t, s.best)
	require.Equal(t, 1, s.best.value)
	require.InDelta(t, 9+4.5, s.best.gain, 1e-12)
}

func TestAUC(t *testing.T) {
	require.Equal(t, 1.0, AUC([]float64{0, 0, 1, 1}, []float64{0.1, 0.2, 0.8, 0.9}))
	require.Equal(t, 0.0, AUC([]float64{1, 1, 0, 0}, []float64{0.1, 0.2, 0.8, 0.9}))
	require.Equal(t, 0.5, AUC([]float64{0, 1}, []float64{0.3, 0.3}))
	require.Equal(t, 0.5, AUC([]float64{1, 1}, []float64{0.3, 0.6}))
	require.InDelta(t, 0.75, AUC([]float64{0, 1, 0, 1}, []float64{0.1, 0.3, 0.35, 0.8}), 1e-12)
	require.False(t, math.IsNaN(AUC(nil, nil)))
}

func TestSplittable(t *testing.T) {
	b := &VerticalBooster{params: &modelctx.LGBMParams{MaxDepth: 3, NumLeaves: 4, MinChildSamples: 5}}
	gr := newGrower(0)
	require.True(t, b.splittable(gr, 0, 10))
	require.False(t, b.splittable(gr, 0, 9))
	require.False(t, b.splittable(gr, 3, 100))

	b.params.MinChildSamples = 1
	require.False(t, b.splittable(gr, 0, 1))
	require.True(t, b.splittable(gr, 0, 2))

	gr.leaves = 4
	require.False(t, b.splittable(gr, 0, 100))

	b.params.MaxDepth = -1
	gr.leaves = 1
	require.True(t, b.splittable(gr, 50, 2))
}
