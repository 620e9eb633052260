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
	"golang.org/x/sync/errgroup"

	"github.com/cyjseagull/WeDPR-Component/codec"
	"github.com/cyjseagull/WeDPR-Component/dataset"
	"github.com/cyjseagull/WeDPR-Component/errcodes"
	"github.com/cyjseagull/WeDPR-Component/phe"
	"github.com/cyjseagull/WeDPR-Component/transport"
)

// grower numbers the nodes of one tree in pre-order and counts its leaves,
// every party grows the same sequence
type grower struct {
	treeID   int
	nextNode int
	leaves   int
}

func newGrower(treeID int) *grower {
	return &grower{treeID: treeID, leaves: 1}
}

func (gr *grower) node() int {
	id := gr.nextNode
	gr.nextNode++
	return id
}

// splittable decides from public information only, so that every party
// agrees on which nodes exchange messages. min_child_samples bounds the
// parent: the per bin histograms of passive features carry no sample
// counts, so a child may still end up smaller; min_child_weight bounds each
// child through its hessian sum instead.
func (b *VerticalBooster) splittable(gr *grower, depth, n int) bool {
	if b.params.MaxDepth > 0 && depth >= b.params.MaxDepth {
		return false
	}
	if n < 2*b.params.MinChildSamples || n < 2 {
		return false
	}
	return gr.leaves < b.params.NumLeaves
}

func allIndex(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// partition splits idx by mask, 1 goes left
func partition(idx []int, mask []byte) (left, right []int) {
	for i, j := range idx {
		if mask[i] == 1 {
			left = append(left, j)
		} else {
			right = append(right, j)
		}
	}
	return left, right
}

// leafMask returns the left mask of a split on idx. The owner of the split
// feature computes it and sends it to every partner, the others wait for it.
func (b *VerticalBooster) leafMask(ctx context.Context, kind string, split *SplitInfo, bins *dataset.Binned, idx []int) ([]byte, error) {
	if split.AgencyIdx < 0 || split.AgencyIdx >= len(b.ctx.Participants) {
		return nil, errorx.New(errcodes.ErrCodeModel, "split of node %d owned by unknown agency %d", split.NodeID, split.AgencyIdx)
	}
	owner := b.ctx.Participants[split.AgencyIdx]
	if owner != b.ctx.Agency {
		mask, err := b.receive(ctx, kind, owner)
		if err != nil {
			return nil, err
		}
		if err := checkMask(mask, len(idx)); err != nil {
			return nil, err
		}
		return mask, nil
	}

	if split.AgencyFeature < 0 || split.AgencyFeature >= len(bins.Features) {
		return nil, errorx.New(errcodes.ErrCodeModel, "split of node %d on unknown feature %d", split.NodeID, split.AgencyFeature)
	}
	mask := bins.LeftMask(split.AgencyFeature, split.Value, idx)
	if err := b.broadcast(ctx, kind, b.ctx.Partners(), mask); err != nil {
		return nil, err
	}
	return mask, nil
}

// buildActiveTree grows one tree on the label holder
func (b *VerticalBooster) buildActiveTree(ctx context.Context, treeID int) (*Node, error) {
	g, h := gradients(b.trainScore, b.train.Labels)
	if partners := b.ctx.Partners(); len(partners) > 0 {
		cts, err := codec.EncryptBatch(ctx, b.ctx.Cipher, codec.PackGH(g, h))
		if err != nil {
			return nil, err
		}
		payload := codec.EncodeVector(b.ctx.Cipher, cts)
		if err := b.broadcast(ctx, transport.Kind(transport.KindEncGHList, treeID), partners, payload); err != nil {
			return nil, err
		}
	}
	return b.growActive(ctx, newGrower(treeID), g, h, allIndex(b.train.Len()), 0)
}

func (b *VerticalBooster) activeLeaf(g, h []float64, idx []int) *Node {
	gs, hs := exactTotal(g, h, idx)
	w := LeafWeight(b.params.LearningRate, b.params.RegLambda, gs, hs, b.params.RegAlpha)
	for _, i := range idx {
		b.trainScore[i] += w
	}
	return newLeaf(w)
}

func (b *VerticalBooster) growActive(ctx context.Context, gr *grower, g, h []float64, idx []int, depth int) (*Node, error) {
	nodeID := gr.node()
	if !b.splittable(gr, depth, len(idx)) {
		return b.activeLeaf(g, h, idx), nil
	}

	best, err := b.findSplit(ctx, gr.treeID, nodeID, g, h, idx)
	if err != nil {
		return nil, err
	}
	kind := transport.Kind(transport.KindSplitInfo, gr.treeID, nodeID)
	if best == nil || best.gain <= b.params.MinSplitGain {
		msg := &splitMessage{Leaf: true, Split: SplitInfo{TreeID: gr.treeID, NodeID: nodeID}}
		if err := b.broadcast(ctx, kind, b.ctx.Partners(), encodeSplit(msg)); err != nil {
			return nil, err
		}
		return b.activeLeaf(g, h, idx), nil
	}

	split := SplitInfo{
		TreeID:        gr.treeID,
		NodeID:        nodeID,
		AgencyIdx:     best.agencyIdx,
		AgencyFeature: best.feature,
		Value:         best.value,
		Gain:          best.gain,
	}
	if err := b.sendSplit(ctx, kind, split); err != nil {
		return nil, err
	}
	mask, err := b.leafMask(ctx, transport.Kind(transport.KindInstanceMask, gr.treeID, nodeID), &split, b.trainBins, idx)
	if err != nil {
		return nil, err
	}
	if split.AgencyIdx != b.ctx.AgencyIndex(b.ctx.Agency) {
		split.Value = -1
	}
	b.recordSplit(best)
	gr.leaves++

	left, right := partition(idx, mask)
	node := &Node{Split: &split}
	if node.Left, err = b.growActive(ctx, gr, g, h, left, depth+1); err != nil {
		return nil, err
	}
	if node.Right, err = b.growActive(ctx, gr, g, h, right, depth+1); err != nil {
		return nil, err
	}
	return node, nil
}

// sendSplit tells every passive party the split, only the owner learns the
// bin value
func (b *VerticalBooster) sendSplit(ctx context.Context, kind string, split SplitInfo) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range b.ctx.Partners() {
		agency := p
		msg := &splitMessage{Split: split}
		if b.ctx.AgencyIndex(agency) != split.AgencyIdx {
			msg.Split.Value = -1
		}
		g.Go(func() error {
			return b.send(gctx, kind, agency, encodeSplit(msg))
		})
	}
	return g.Wait()
}

// findSplit scans the local histogram and the decrypted histograms of every
// passive party, in participant order
func (b *VerticalBooster) findSplit(ctx context.Context, treeID, nodeID int, g, h []float64, idx []int) (*candidate, error) {
	gs, hs := quantizedTotal(g, h, idx)
	finder := &splitFinder{
		g:              gs,
		h:              hs,
		lambda:         b.params.RegLambda,
		minChildWeight: b.params.MinChildWeight,
	}
	kind := transport.Kind(transport.KindEncGHHist, treeID, nodeID)
	for agencyIdx, agency := range b.ctx.Participants {
		var hist *histogram
		if agency == b.ctx.Agency {
			hist = localHistogram(b.trainBins, g, h, idx)
		} else {
			payload, err := b.receive(ctx, kind, agency)
			if err != nil {
				return nil, err
			}
			if hist, err = b.decryptHistogram(ctx, payload, len(b.fields[agencyIdx])); err != nil {
				return nil, errorx.Wrap(err, "histogram of %s", agency)
			}
		}
		finder.scan(agencyIdx, hist, b.categorical[agencyIdx])
	}
	return finder.best, nil
}

// decryptHistogram decrypts the packed bin sums of a passive party
func (b *VerticalBooster) decryptHistogram(ctx context.Context, payload []byte, features int) (*histogram, error) {
	_, rows, err := codec.DecodeMatrix(payload)
	if err != nil {
		return nil, err
	}
	if len(rows) != features {
		return nil, errorx.New(errcodes.ErrCodeProtocol, "histogram of %d features, expect %d", len(rows), features)
	}
	var flat []phe.Ciphertext
	for _, row := range rows {
		flat = append(flat, row...)
	}
	sums, err := codec.DecryptBatch(ctx, b.ctx.Cipher, flat)
	if err != nil {
		return nil, err
	}
	gs, hs := codec.UnpackGH(sums)

	hist := &histogram{g: make([][]float64, len(rows)), h: make([][]float64, len(rows))}
	offset := 0
	for f, row := range rows {
		hist.g[f] = gs[offset : offset+len(row)]
		hist.h[f] = hs[offset : offset+len(row)]
		offset += len(row)
	}
	return hist, nil
}

// buildPassiveTree grows one tree on a passive party
func (b *VerticalBooster) buildPassiveTree(ctx context.Context, treeID int) (*Node, error) {
	payload, err := b.receive(ctx, transport.Kind(transport.KindEncGHList, treeID), b.ctx.ActiveAgency())
	if err != nil {
		return nil, err
	}
	ev, cts, err := codec.DecodeVector(payload)
	if err != nil {
		return nil, err
	}
	if len(cts) != b.train.Len() {
		return nil, errorx.New(errcodes.ErrCodeProtocol, "%d encrypted statistics, expect %d", len(cts), b.train.Len())
	}
	return b.growPassive(ctx, newGrower(treeID), ev, cts, allIndex(b.train.Len()), 0)
}

func (b *VerticalBooster) growPassive(ctx context.Context, gr *grower, ev phe.Evaluator, cts []phe.Ciphertext, idx []int, depth int) (*Node, error) {
	nodeID := gr.node()
	if !b.splittable(gr, depth, len(idx)) {
		return newLeaf(0), nil
	}

	active := b.ctx.ActiveAgency()
	rows, err := encryptedHistogram(ctx, ev, b.trainBins, cts, idx)
	if err != nil {
		return nil, err
	}
	if err := b.send(ctx, transport.Kind(transport.KindEncGHHist, gr.treeID, nodeID), active, codec.EncodeMatrix(ev, rows)); err != nil {
		return nil, err
	}
	payload, err := b.receive(ctx, transport.Kind(transport.KindSplitInfo, gr.treeID, nodeID), active)
	if err != nil {
		return nil, err
	}
	msg, err := decodeSplit(payload)
	if err != nil {
		return nil, err
	}
	if msg.Split.TreeID != gr.treeID || msg.Split.NodeID != nodeID {
		return nil, errorx.New(errcodes.ErrCodeProtocol, "split of node %d/%d, expect %d/%d",
			msg.Split.TreeID, msg.Split.NodeID, gr.treeID, nodeID)
	}
	if msg.Leaf {
		return newLeaf(0), nil
	}

	split := msg.Split
	mask, err := b.leafMask(ctx, transport.Kind(transport.KindInstanceMask, gr.treeID, nodeID), &split, b.trainBins, idx)
	if err != nil {
		return nil, err
	}
	gr.leaves++

	left, right := partition(idx, mask)
	node := &Node{Split: &split}
	if node.Left, err = b.growPassive(ctx, gr, ev, cts, left, depth+1); err != nil {
		return nil, err
	}
	if node.Right, err = b.growPassive(ctx, gr, ev, cts, right, depth+1); err != nil {
		return nil, err
	}
	return node, nil
}

// encryptedHistogram sums the packed ciphertexts of idx into the bins of
// every local feature, empty bins stay nil
func encryptedHistogram(ctx context.Context, ev phe.Evaluator, bins *dataset.Binned, cts []phe.Ciphertext, idx []int) ([][]phe.Ciphertext, error) {
	rows := make([][]phe.Ciphertext, len(bins.Features))
	g, gctx := errgroup.WithContext(ctx)
	for f := range bins.Features {
		f := f
		g.Go(func() error {
			row := make([]phe.Ciphertext, bins.NumBins[f])
			column := bins.Bins[f]
			for n, i := range idx {
				if n%1024 == 0 && gctx.Err() != nil {
					return gctx.Err()
				}
				bin := column[i]
				if bin >= len(row) {
					continue
				}
				if row[bin] == nil {
					row[bin] = cts[i]
					continue
				}
				sum, err := ev.Add(row[bin], cts[i])
				if err != nil {
					return err
				}
				row[bin] = sum
			}
			rows[f] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}
