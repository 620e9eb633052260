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

// Package dataset loads the local feature columns of a party, aligns them
// with the intersected sample IDs and bins them for histogram building.
package dataset

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/PaddlePaddle/PaddleDTX/crypto/core/hash"
	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
)

const DefaultIDColumn = "id"

// LoadOptions selects the columns read from a csv file
type LoadOptions struct {
	IDColumn    string
	LabelColumn string
	// Features restricts the loaded feature columns, all non id and non
	// label columns are loaded when empty
	Features []string
}

// Dataset holds the samples of one party, column major
type Dataset struct {
	IDs      []string
	Features []string
	Columns  [][]float64
	// Labels is nil when the party does not hold the label column
	Labels []float64
}

// Len returns the number of samples
func (d *Dataset) Len() int {
	return len(d.IDs)
}

// HasLabel reports whether the label column was loaded
func (d *Dataset) HasLabel() bool {
	return d.Labels != nil
}

// Load parses csv content with a header row
func Load(fileContent []byte, opts LoadOptions) (*Dataset, error) {
	rows, err := ReadRows(fileContent)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errorx.New(errcodes.ErrCodeDataset, "empty file content")
	}
	if opts.IDColumn == "" {
		opts.IDColumn = DefaultIDColumn
	}

	header := rows[0]
	idIdx := columnIndex(header, opts.IDColumn)
	if idIdx == -1 {
		return nil, errorx.New(errcodes.ErrCodeDataset, "file does not contain sample id: %s", opts.IDColumn)
	}
	labelIdx := -1
	if opts.LabelColumn != "" {
		labelIdx = columnIndex(header, opts.LabelColumn)
	}

	wanted := make(map[string]bool, len(opts.Features))
	for _, f := range opts.Features {
		wanted[f] = true
	}
	var featureIdx []int
	d := &Dataset{}
	for i, name := range header {
		if i == idIdx || i == labelIdx {
			continue
		}
		if len(wanted) > 0 && !wanted[name] {
			continue
		}
		featureIdx = append(featureIdx, i)
		d.Features = append(d.Features, name)
	}

	n := len(rows) - 1
	d.IDs = make([]string, 0, n)
	d.Columns = make([][]float64, len(featureIdx))
	for f := range d.Columns {
		d.Columns[f] = make([]float64, 0, n)
	}
	if labelIdx != -1 {
		d.Labels = make([]float64, 0, n)
	}
	seen := make(map[string]bool, n)
	for row := 1; row < len(rows); row++ {
		r := rows[row]
		id := r[idIdx]
		if seen[id] {
			return nil, errorx.New(errcodes.ErrCodeDataset, "duplicated sample id %s", id)
		}
		seen[id] = true
		d.IDs = append(d.IDs, id)
		for f, idx := range featureIdx {
			v, err := parseValue(r[idx])
			if err != nil {
				return nil, errorx.NewCode(err, errcodes.ErrCodeDataset, "bad value of %s in row %d", header[idx], row)
			}
			d.Columns[f] = append(d.Columns[f], v)
		}
		if labelIdx != -1 {
			v, err := parseValue(r[labelIdx])
			if err != nil {
				return nil, errorx.NewCode(err, errcodes.ErrCodeDataset, "bad label in row %d", row)
			}
			d.Labels = append(d.Labels, v)
		}
	}
	return d, nil
}

// LoadFile reads and parses the csv file at path
func LoadFile(path string, opts LoadOptions) (*Dataset, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeDataset, "failed to read dataset %s", path)
	}
	return Load(content, opts)
}

func parseValue(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("value %s is not finite", s)
	}
	return v, nil
}

// Subset returns the samples at idx, in the order of idx
func (d *Dataset) Subset(idx []int) *Dataset {
	sub := &Dataset{
		IDs:      make([]string, len(idx)),
		Features: d.Features,
		Columns:  make([][]float64, len(d.Columns)),
	}
	for f := range d.Columns {
		sub.Columns[f] = make([]float64, len(idx))
	}
	if d.Labels != nil {
		sub.Labels = make([]float64, len(idx))
	}
	for i, j := range idx {
		sub.IDs[i] = d.IDs[j]
		for f := range d.Columns {
			sub.Columns[f][i] = d.Columns[f][j]
		}
		if d.Labels != nil {
			sub.Labels[i] = d.Labels[j]
		}
	}
	return sub
}

// Select reorders the feature columns to names, every name must be loaded
func (d *Dataset) Select(names []string) (*Dataset, error) {
	index := make(map[string]int, len(d.Features))
	for f, name := range d.Features {
		index[name] = f
	}
	sel := &Dataset{
		IDs:      d.IDs,
		Features: names,
		Columns:  make([][]float64, len(names)),
		Labels:   d.Labels,
	}
	for i, name := range names {
		f, ok := index[name]
		if !ok {
			return nil, errorx.New(errcodes.ErrCodeDataset, "feature %s not found", name)
		}
		sel.Columns[i] = d.Columns[f]
	}
	return sel, nil
}

// Intersect keeps the samples whose ID is in IDs, ordered by ID ascending
// so that every party ends up with the same sample order
func (d *Dataset) Intersect(IDs []string) (*Dataset, error) {
	if len(IDs) == 0 {
		return nil, errorx.New(errcodes.ErrCodeDataset, "empty ID list")
	}
	sorted := append([]string(nil), IDs...)
	sort.Strings(sorted)

	rowOf := make(map[string]int, d.Len())
	for i, id := range d.IDs {
		rowOf[id] = i
	}
	idx := make([]int, 0, len(sorted))
	for i, id := range sorted {
		if i > 0 && sorted[i-1] == id {
			continue
		}
		row, ok := rowOf[id]
		if !ok {
			return nil, errorx.New(errcodes.ErrCodeDataset, "sample %s of the intersection not found", id)
		}
		idx = append(idx, row)
	}
	return d.Subset(idx), nil
}

// TrainTestSplit splits the samples in a deterministic order derived from
// seed, parties sharing the sample order and seed get the same partition.
// The test part holds ceil(testSize*n) samples.
func (d *Dataset) TrainTestSplit(testSize float64, seed int64) (*Dataset, *Dataset) {
	n := d.Len()
	testNum := int(math.Ceil(testSize * float64(n)))
	if testSize <= 0 || testNum <= 0 {
		return d, d.Subset(nil)
	}
	if testNum >= n {
		testNum = n - 1
	}

	// map hash(idx+seed) to idx
	type keyed struct {
		key []byte
		idx int
	}
	order := make([]keyed, n)
	for i := 0; i < n; i++ {
		msg := fmt.Sprintf("%d+%d", i, seed)
		order[i] = keyed{key: hash.HashUsingSha256([]byte(msg)), idx: i}
	}
	sort.Slice(order, func(i, j int) bool {
		return bytes.Compare(order[i].key, order[j].key) < 0
	})

	testIdx := make([]int, 0, testNum)
	trainIdx := make([]int, 0, n-testNum)
	for i, o := range order {
		if i < testNum {
			testIdx = append(testIdx, o.idx)
		} else {
			trainIdx = append(trainIdx, o.idx)
		}
	}
	sort.Ints(testIdx)
	sort.Ints(trainIdx)
	return d.Subset(trainIdx), d.Subset(testIdx)
}
