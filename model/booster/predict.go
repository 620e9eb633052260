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

package booster

import (
	"context"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"

	"github.com/cyjseagull/WeDPR-Component/dataset"
	"github.com/cyjseagull/WeDPR-Component/errcodes"
	"github.com/cyjseagull/WeDPR-Component/transport"
)

// predictTree routes every sample of bins through tree. The nodes are
// visited in pre-order and nodes reached by no sample are skipped, so every
// party walks the same sequence. The returned leaf weights are only
// meaningful on the label holder.
func (b *VerticalBooster) predictTree(ctx context.Context, kind string, tree *Node, treeID int, bins *dataset.Binned, n int) ([]float64, error) {
	weights := make([]float64, n)

	var walk func(node *Node, idx []int) error
	walk = func(node *Node, idx []int) error {
		if len(idx) == 0 {
			return nil
		}
		if node.Leaf {
			for _, i := range idx {
				weights[i] = node.Weight
			}
			return nil
		}
		mask, err := b.leafMask(ctx, transport.Kind(kind, treeID, node.Split.NodeID), node.Split, bins, idx)
		if err != nil {
			return err
		}
		left, right := partition(idx, mask)
		if err := walk(node.Left, left); err != nil {
			return err
		}
		return walk(node.Right, right)
	}
	if err := walk(tree, allIndex(n)); err != nil {
		return nil, err
	}
	return weights, nil
}

// Predict applies the loaded trees to the local samples and returns the
// positive class probability of every sample on the label holder, nil on
// the passive parties
func (b *VerticalBooster) Predict(ctx context.Context) ([]float64, error) {
	if err := b.LoadModel(); err != nil {
		return nil, err
	}
	own := b.ctx.ModelPredict.FieldsOf(b.ctx.Agency)
	if own == nil {
		return nil, errorx.New(errcodes.ErrCodeModel, "model has no features of %s", b.ctx.Agency)
	}
	data, err := b.data.Select(own)
	if err != nil {
		return nil, err
	}
	b.data = data
	bins, err := data.Bin(b.points, b.params.CategoricalFeature)
	if err != nil {
		return nil, err
	}
	if err := b.checkInstances(ctx, data.IDs, nil); err != nil {
		return nil, err
	}

	scores := make([]float64, data.Len())
	for t, tree := range b.trees {
		weights, err := b.predictTree(ctx, transport.KindPredictLeafMask, tree, t, bins, data.Len())
		if err != nil {
			return nil, errorx.Wrap(err, "failed to predict with tree %d", t)
		}
		for i, w := range weights {
			scores[i] += w
		}
	}
	b.log.Infof("predicted %d samples with %d trees", data.Len(), len(b.trees))
	if !b.ctx.IsActive() {
		return nil, nil
	}
	return probabilities(scores), nil
}
