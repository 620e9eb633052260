package dataset

import (
	"path/filepath"
	"testing"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
)

const sample = `id,x1,y,x2
c,3.5,1,0
a,1.5,0,2
b,2.5,1,1
d,4.5,0,2
`

func TestLoad(t *testing.T) {
	d, err := Load([]byte(sample), LoadOptions{LabelColumn: "y"})
	require.NoError(t, err)
	require.Equal(t, []string{"c", "a", "b", "d"}, d.IDs)
	require.Equal(t, []string{"x1", "x2"}, d.Features)
	require.Equal(t, []float64{3.5, 1.5, 2.5, 4.5}, d.Columns[0])
	require.Equal(t, []float64{1, 0, 1, 0}, d.Labels)
	require.True(t, d.HasLabel())

	// passive parties have no label column
	d, err = Load([]byte(sample), LoadOptions{LabelColumn: "label", Features: []string{"x2"}})
	require.NoError(t, err)
	require.False(t, d.HasLabel())
	require.Equal(t, []string{"x2"}, d.Features)

	_, err = Load([]byte(sample), LoadOptions{IDColumn: "card"})
	require.True(t, errorx.Is(err, errcodes.ErrCodeDataset))

	_, err = Load([]byte("id,x1\na,1\na,2\n"), LoadOptions{})
	require.True(t, errorx.Is(err, errcodes.ErrCodeDataset))

	_, err = Load([]byte("id,x1\na,NaN\n"), LoadOptions{})
	require.True(t, errorx.Is(err, errcodes.ErrCodeDataset))
}

func TestIntersect(t *testing.T) {
	d, err := Load([]byte(sample), LoadOptions{LabelColumn: "y"})
	require.NoError(t, err)

	ids, err := ReadIDs([]byte("id\nd\nb\nc\n"), "id")
	require.NoError(t, err)
	sub, err := d.Intersect(ids)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c", "d"}, sub.IDs)
	require.Equal(t, []float64{2.5, 3.5, 4.5}, sub.Columns[0])
	require.Equal(t, []float64{1, 1, 0}, sub.Labels)

	_, err = d.Intersect([]string{"a", "z"})
	require.True(t, errorx.Is(err, errcodes.ErrCodeDataset))
	_, err = d.Intersect(nil)
	require.True(t, errorx.Is(err, errcodes.ErrCodeDataset))
}

func TestTrainTestSplit(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 60).Draw(t, "n")
		testSize := rapid.Float64Range(0.05, 0.9).Draw(t, "testSize")
		seed := rapid.Int64().Draw(t, "seed")

		d := &Dataset{Features: []string{"x"}, Columns: [][]float64{make([]float64, n)}}
		for i := 0; i < n; i++ {
			d.IDs = append(d.IDs, string(rune('a'+i%26))+string(rune('a'+i/26)))
			d.Columns[0][i] = float64(i)
		}
		train, test := d.TrainTestSplit(testSize, seed)
		require.Equal(t, n, train.Len()+test.Len())
		require.Positive(t, train.Len())

		// same seed, same partition
		train2, test2 := d.TrainTestSplit(testSize, seed)
		require.Equal(t, train.IDs, train2.IDs)
		require.Equal(t, test.IDs, test2.IDs)

		seen := map[string]bool{}
		for _, id := range append(append([]string{}, train.IDs...), test.IDs...) {
			require.False(t, seen[id])
			seen[id] = true
		}
	})

	d, err := Load([]byte(sample), LoadOptions{})
	require.NoError(t, err)
	train, test := d.TrainTestSplit(0, 1)
	require.Equal(t, 4, train.Len())
	require.Equal(t, 0, test.Len())
}

func TestSplitPoints(t *testing.T) {
	require.Equal(t, []float64{}, SplitPoints([]float64{1, 1, 1}, 10))
	require.Equal(t, []float64{1, 2}, SplitPoints([]float64{3, 1, 2, 2}, 10))

	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i)
	}
	points := SplitPoints(values, 4)
	require.Equal(t, []float64{24, 49, 74}, points)
	require.Equal(t, []int{0, 0, 1, 3}, BinColumn([]float64{-1, 24, 25, 1000}, points))

	rapid.Check(t, func(t *rapid.T) {
		values := rapid.SliceOfN(rapid.Float64Range(-100, 100), 1, 200).Draw(t, "values")
		maxBin := rapid.IntRange(2, 16).Draw(t, "maxBin")
		points := SplitPoints(values, maxBin)
		require.LessOrEqual(t, len(points), maxBin-1)
		for i := 1; i < len(points); i++ {
			require.Less(t, points[i-1], points[i])
		}
		for _, b := range BinColumn(values, points) {
			require.GreaterOrEqual(t, b, 0)
			require.LessOrEqual(t, b, len(points))
		}
	})
}

func TestBin(t *testing.T) {
	d, err := Load([]byte(sample), LoadOptions{LabelColumn: "y"})
	require.NoError(t, err)

	points := d.FitBins(10, []string{"x2"})
	require.Equal(t, []float64{1.5, 2.5, 3.5}, points["x1"])
	require.Equal(t, []float64{0, 1, 2}, points["x2"])

	b, err := d.Bin(points, []string{"x2"})
	require.NoError(t, err)
	require.Equal(t, []int{2, 0, 1, 3}, b.Bins[0])
	require.Equal(t, []int{0, 2, 1, 2}, b.Bins[1])
	require.Equal(t, []int{4, 3}, b.NumBins)
	require.Equal(t, []bool{false, true}, b.Categorical)

	idx := []int{0, 1, 2, 3}
	require.Equal(t, []byte{0, 1, 1, 0}, b.LeftMask(0, 1, idx))
	require.Equal(t, []byte{0, 1, 0, 1}, b.LeftMask(1, 2, idx))
	require.Equal(t, []byte{1, 1}, b.LeftMask(1, 2, []int{3, 1}))

	path := filepath.Join(t.TempDir(), "feature_bin.json")
	require.NoError(t, points.Save(path))
	loaded, err := LoadFeatureBins(path)
	require.NoError(t, err)
	require.Equal(t, points, loaded)

	_, err = d.Bin(FeatureBins{}, nil)
	require.True(t, errorx.Is(err, errcodes.ErrCodeModel))

	d.Columns[1][0] = 0.5
	_, err = d.Bin(points, []string{"x2"})
	require.True(t, errorx.Is(err, errcodes.ErrCodeDataset))
}

func TestBinSparseCategories(t *testing.T) {
	d, err := Load([]byte("id,x\na,3\nb,1e11\nc,3\nd,-2\n"), LoadOptions{})
	require.NoError(t, err)

	points := d.FitBins(8, []string{"x"})
	require.Equal(t, []float64{-2, 3, 1e11}, points["x"])
	b, err := d.Bin(points, []string{"x"})
	require.NoError(t, err)
	require.Equal(t, []int{3}, b.NumBins)
	require.Equal(t, []int{1, 2, 1, 0}, b.Bins[0])

	// capped to the most frequent categories
	points = d.FitBins(2, []string{"x"})
	require.Equal(t, []float64{-2, 3}, points["x"])

	// categories unseen while fitting fall out of every histogram slot and go right
	test, err := Load([]byte("id,x\ne,3\nf,7\ng,1e11\n"), LoadOptions{})
	require.NoError(t, err)
	b, err = test.Bin(points, []string{"x"})
	require.NoError(t, err)
	require.Equal(t, []int{2}, b.NumBins)
	require.Equal(t, []int{1, 2, 2}, b.Bins[0])
	require.Equal(t, []byte{1, 0, 0}, b.LeftMask(0, 1, []int{0, 1, 2}))

	path := filepath.Join(t.TempDir(), "feature_bin.json")
	require.NoError(t, points.Save(path))
	loaded, err := LoadFeatureBins(path)
	require.NoError(t, err)
	require.Equal(t, points, loaded)
}

func TestCategoriesBounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		values := rapid.SliceOfN(rapid.Int64Range(-1e12, 1e12), 1, 100).Draw(t, "values")
		maxBin := rapid.IntRange(1, 16).Draw(t, "maxBin")
		column := make([]float64, len(values))
		for i, v := range values {
			column[i] = float64(v)
		}
		categories := Categories(column, maxBin)
		require.LessOrEqual(t, len(categories), maxBin)
		bins, err := categoryColumn("x", column, categories)
		require.NoError(t, err)
		for i, b := range bins {
			require.GreaterOrEqual(t, b, 0)
			require.LessOrEqual(t, b, len(categories))
			if b < len(categories) {
				require.Equal(t, column[i], categories[b])
			}
		}
	})
}
