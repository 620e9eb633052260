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

package codec

import (
	"math"
	"math/big"
)

// Gradients and hessians are kept with 3 decimals. A million samples sum up to
// at most 10^9 in fixed point, below the 2^32 modulus, and the h part keeps 20
// decimal digits below g.
const (
	Expand     = 1000
	ModLength  = 32
	PackLength = 20
)

var (
	modN     = new(big.Int).Lsh(big.NewInt(1), ModLength)
	halfModN = new(big.Int).Lsh(big.NewInt(1), ModLength-1)
	packBase = new(big.Int).Exp(big.NewInt(10), big.NewInt(PackLength), nil)
)

// Quantize truncates v to the fixed point grid used on the wire
func Quantize(v float64) int64 {
	return int64(math.Trunc(v * Expand))
}

func toModDomain(v float64) *big.Int {
	x := big.NewInt(Quantize(v))
	x.Add(x, modN)
	return x.Mod(x, modN)
}

func fromModDomain(x *big.Int) float64 {
	v := new(big.Int).Mod(x, modN)
	if v.Cmp(halfModN) > 0 {
		v.Sub(v, modN)
	}
	return float64(v.Int64()) / Expand
}

// PackGH combines each (g, h) pair into g_pos*10^20 + h_pos
func PackGH(g, h []float64) []*big.Int {
	out := make([]*big.Int, len(g))
	for i := range g {
		gh := new(big.Int).Mul(toModDomain(g[i]), packBase)
		out[i] = gh.Add(gh, toModDomain(h[i]))
	}
	return out
}

// UnpackGH splits sums of packed values back into gradient and hessian sums
func UnpackGH(sums []*big.Int) (g, h []float64) {
	g = make([]float64, len(sums))
	h = make([]float64, len(sums))
	for i, s := range sums {
		if s == nil {
			continue
		}
		hi, lo := new(big.Int).QuoRem(s, packBase, new(big.Int))
		g[i] = fromModDomain(hi)
		h[i] = fromModDomain(lo)
	}
	return g, h
}
