// Copyright (c) 2021 PaddlePaddle Authors. All Rights Reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dataset

import (
	"encoding/json"
	"math"
	"os"
	"sort"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
)

// FeatureBins maps a feature name to its ascending split points. A
// categorical feature keeps its ascending known categories instead, the bin
// of a category is its position in that list.
type FeatureBins map[string][]float64

// Binned is the bin index of every sample of every feature
type Binned struct {
	Features    []string
	Categorical []bool
	// Bins[f][i] is the bin of sample i in feature f
	Bins [][]int
	// NumBins[f] is the number of histogram slots of feature f
	NumBins []int
}

// SplitPoints returns at most maxBin-1 quantile split points of values.
// Value v falls into bin i when points[i-1] < v <= points[i].
func SplitPoints(values []float64, maxBin int) []float64 {
	if maxBin < 2 {
		maxBin = 2
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var distinct []float64
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			distinct = append(distinct, v)
		}
	}
	if len(distinct) <= 1 {
		return []float64{}
	}
	if len(distinct) <= maxBin {
		return distinct[:len(distinct)-1]
	}

	n := len(sorted)
	maxValue := distinct[len(distinct)-1]
	points := make([]float64, 0, maxBin-1)
	for i := 1; i < maxBin; i++ {
		k := i * n / maxBin
		if k == 0 {
			continue
		}
		p := sorted[k-1]
		if p >= maxValue {
			break
		}
		if len(points) > 0 && p <= points[len(points)-1] {
			continue
		}
		points = append(points, p)
	}
	return points
}

// BinColumn returns the bin of every value for the given split points
func BinColumn(values []float64, points []float64) []int {
	bins := make([]int, len(values))
	for i, v := range values {
		bins[i] = sort.SearchFloat64s(points, v)
	}
	return bins
}

func isCategory(v float64) bool {
	return v == math.Trunc(v) && !math.IsInf(v, 0)
}

// Categories returns the at most maxBin most frequent category values of
// values in ascending order, ties keep the smaller category
func Categories(values []float64, maxBin int) []float64 {
	if maxBin < 1 {
		maxBin = 1
	}
	counts := make(map[float64]int)
	for _, v := range values {
		if isCategory(v) {
			counts[v]++
		}
	}
	categories := make([]float64, 0, len(counts))
	for v := range counts {
		categories = append(categories, v)
	}
	if len(categories) > maxBin {
		sort.Slice(categories, func(i, j int) bool {
			ci, cj := counts[categories[i]], counts[categories[j]]
			if ci != cj {
				return ci > cj
			}
			return categories[i] < categories[j]
		})
		categories = categories[:maxBin]
	}
	sort.Float64s(categories)
	return categories
}

// categoryColumn maps every value to its position in categories, a category
// never seen while fitting gets len(categories) and so always goes right
func categoryColumn(name string, values, categories []float64) ([]int, error) {
	bins := make([]int, len(values))
	for i, v := range values {
		if !isCategory(v) {
			return nil, errorx.New(errcodes.ErrCodeDataset,
				"categorical feature %s has non integer value %v", name, v)
		}
		k := sort.SearchFloat64s(categories, v)
		if k < len(categories) && categories[k] != v {
			k = len(categories)
		}
		bins[i] = k
	}
	return bins, nil
}

// FitBins computes the split points of every feature, features listed in
// categorical get their known categories
func (d *Dataset) FitBins(maxBin int, categorical []string) FeatureBins {
	isCategorical := toSet(categorical)
	points := make(FeatureBins, len(d.Features))
	for f, name := range d.Features {
		if isCategorical[name] {
			points[name] = Categories(d.Columns[f], maxBin)
			continue
		}
		points[name] = SplitPoints(d.Columns[f], maxBin)
	}
	return points
}

// Bin maps every sample to its bins with previously fitted split points
func (d *Dataset) Bin(points FeatureBins, categorical []string) (*Binned, error) {
	isCategorical := toSet(categorical)
	b := &Binned{
		Features:    d.Features,
		Categorical: make([]bool, len(d.Features)),
		Bins:        make([][]int, len(d.Features)),
		NumBins:     make([]int, len(d.Features)),
	}
	for f, name := range d.Features {
		p, ok := points[name]
		if !ok {
			return nil, errorx.New(errcodes.ErrCodeModel, "no split points of feature %s", name)
		}
		if isCategorical[name] {
			bins, err := categoryColumn(name, d.Columns[f], p)
			if err != nil {
				return nil, err
			}
			b.Categorical[f] = true
			b.Bins[f] = bins
			b.NumBins[f] = len(p)
			continue
		}
		b.Bins[f] = BinColumn(d.Columns[f], p)
		b.NumBins[f] = len(p) + 1
	}
	return b, nil
}

// LeftMask returns one byte per sample of idx, 1 when the sample goes to the
// left child of a split on feature f at bin value
func (b *Binned) LeftMask(f, value int, idx []int) []byte {
	mask := make([]byte, len(idx))
	bins := b.Bins[f]
	for i, j := range idx {
		if b.Categorical[f] {
			if bins[j] == value {
				mask[i] = 1
			}
		} else if bins[j] <= value {
			mask[i] = 1
		}
	}
	return mask
}

// Save writes the split points as json
func (p FeatureBins) Save(path string) error {
	data, err := json.Marshal(p)
	if err != nil {
		return errorx.NewCode(err, errcodes.ErrCodeEncoding, "failed to marshal feature bins")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errorx.NewCode(err, errcodes.ErrCodeInternal, "failed to write feature bins")
	}
	return nil
}

// LoadFeatureBins reads split points written by Save
func LoadFeatureBins(path string) (FeatureBins, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeModel, "failed to read feature bins")
	}
	return ParseFeatureBins(data)
}

func ParseFeatureBins(data []byte) (FeatureBins, error) {
	var p FeatureBins
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeModel, "malformed feature bins")
	}
	return p, nil
}

func toSet(list []string) map[string]bool {
	set := make(map[string]bool, len(list))
	for _, s := range list {
		set[s] = true
	}
	return set
}
