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
	"math"

	"github.com/cyjseagull/WeDPR-Component/codec"
	"github.com/cyjseagull/WeDPR-Component/dataset"
)

// Gain of splitting a node with sums (g, h) into (gl, hl) and (gr, hr).
// A zero denominator gives 0.
func Gain(g, h, gl, hl, gr, hr, lambda float64) float64 {
	if h+lambda == 0 || hl+lambda == 0 || hr+lambda == 0 {
		return 0
	}
	return gl*gl/(hl+lambda) + gr*gr/(hr+lambda) - g*g/(h+lambda)
}

// LeafWeight is the L1 and L2 regularized weight of a leaf with sums (g, h),
// exactly 0 when |g| <= alpha
func LeafWeight(lr, lambda, g, h, alpha float64) float64 {
	if h+lambda == 0 {
		return 0
	}
	switch {
	case g > alpha:
		return -lr * (g - alpha) / (h + lambda)
	case g < -alpha:
		return -lr * (g + alpha) / (h + lambda)
	}
	return 0
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// gradients of the logistic loss at raw scores
func gradients(scores, labels []float64) (g, h []float64) {
	g = make([]float64, len(scores))
	h = make([]float64, len(scores))
	for i, s := range scores {
		p := sigmoid(s)
		g[i] = p - labels[i]
		h[i] = p * (1 - p)
	}
	return g, h
}

// histogram is the gradient and hessian sum of every bin of every feature
type histogram struct {
	g [][]float64
	h [][]float64
}

// localHistogram sums quantized statistics, so that the result equals what
// a peer decrypts from the packed ciphertext sums
func localHistogram(bins *dataset.Binned, g, h []float64, idx []int) *histogram {
	hist := &histogram{
		g: make([][]float64, len(bins.Features)),
		h: make([][]float64, len(bins.Features)),
	}
	for f := range bins.Features {
		gs := make([]int64, bins.NumBins[f])
		hs := make([]int64, bins.NumBins[f])
		column := bins.Bins[f]
		for _, i := range idx {
			b := column[i]
			if b >= len(gs) {
				continue
			}
			gs[b] += codec.Quantize(g[i])
			hs[b] += codec.Quantize(h[i])
		}
		hist.g[f] = make([]float64, len(gs))
		hist.h[f] = make([]float64, len(hs))
		for b := range gs {
			hist.g[f][b] = float64(gs[b]) / codec.Expand
			hist.h[f][b] = float64(hs[b]) / codec.Expand
		}
	}
	return hist
}

// quantizedTotal is the node sum on the same fixed point grid as histograms
func quantizedTotal(g, h []float64, idx []int) (float64, float64) {
	var gs, hs int64
	for _, i := range idx {
		gs += codec.Quantize(g[i])
		hs += codec.Quantize(h[i])
	}
	return float64(gs) / codec.Expand, float64(hs) / codec.Expand
}

// exactTotal is the node sum used for leaf weights
func exactTotal(g, h []float64, idx []int) (float64, float64) {
	var gs, hs float64
	for _, i := range idx {
		gs += g[i]
		hs += h[i]
	}
	return gs, hs
}

// candidate is the best split found so far
type candidate struct {
	agencyIdx int
	feature   int
	value     int
	gain      float64
}

// splitFinder evaluates every split of every histogram of a node
type splitFinder struct {
	g, h           float64
	lambda         float64
	minChildWeight float64
	best           *candidate
}

// scan offers the candidates of every feature of one agency. Continuous
// features split cumulatively at each bin, categorical features split one
// category from the rest. Ties keep the earlier candidate.
func (s *splitFinder) scan(agencyIdx int, hist *histogram, categorical []bool) {
	for f := range hist.g {
		gBins, hBins := hist.g[f], hist.h[f]
		isCategorical := f < len(categorical) && categorical[f]
		var gl, hl float64
		for b := range gBins {
			if isCategorical {
				gl, hl = gBins[b], hBins[b]
			} else {
				if b == len(gBins)-1 {
					break
				}
				gl += gBins[b]
				hl += hBins[b]
			}
			gr, hr := s.g-gl, s.h-hl
			if hl < s.minChildWeight || hr < s.minChildWeight {
				continue
			}
			gain := Gain(s.g, s.h, gl, hl, gr, hr, s.lambda)
			if s.best == nil || gain > s.best.gain {
				s.best = &candidate{agencyIdx: agencyIdx, feature: f, value: b, gain: gain}
			}
		}
	}
}
