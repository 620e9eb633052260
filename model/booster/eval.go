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
	"sort"

	"github.com/sirupsen/logrus"
)

// IterationMetric is the evaluation after one tree
type IterationMetric struct {
	Iteration int     `json:"iteration"`
	TrainAUC  float64 `json:"train_auc"`
	TestAUC   float64 `json:"test_auc"`
}

type importanceKey struct {
	agencyIdx int
	feature   int
}

// FeatureImportance counts the splits and the total gain of one feature
type FeatureImportance struct {
	Agency  string  `json:"agency"`
	Feature string  `json:"feature"`
	Splits  int     `json:"split_count"`
	Gain    float64 `json:"gain"`
}

func (b *VerticalBooster) recordSplit(c *candidate) {
	key := importanceKey{agencyIdx: c.agencyIdx, feature: c.feature}
	fi, ok := b.importance[key]
	if !ok {
		fi = &FeatureImportance{Agency: b.ctx.Participants[c.agencyIdx]}
		if names := b.fields[c.agencyIdx]; c.feature < len(names) {
			fi.Feature = names[c.feature]
		}
		b.importance[key] = fi
	}
	fi.Splits++
	fi.Gain += c.gain
}

// Importance returns the feature importance sorted by gain, descending
func (b *VerticalBooster) Importance() []*FeatureImportance {
	list := make([]*FeatureImportance, 0, len(b.importance))
	for _, fi := range b.importance {
		list = append(list, fi)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Gain != list[j].Gain {
			return list[i].Gain > list[j].Gain
		}
		if list[i].Agency != list[j].Agency {
			return list[i].Agency < list[j].Agency
		}
		return list[i].Feature < list[j].Feature
	})
	return list
}

// History returns the metrics of every finished tree
func (b *VerticalBooster) History() []IterationMetric {
	return b.history
}

// evaluateRound records the metrics after tree t and reports whether the
// test AUC has not improved for EarlyStoppingRounds trees
func (b *VerticalBooster) evaluateRound(t int) bool {
	m := IterationMetric{
		Iteration: t,
		TrainAUC:  AUC(b.train.Labels, probabilities(b.trainScore)),
	}
	if b.test.Len() > 0 {
		m.TestAUC = AUC(b.test.Labels, probabilities(b.testScore))
	}
	b.history = append(b.history, m)
	b.log.WithFields(logrus.Fields{"train_auc": m.TrainAUC, "test_auc": m.TestAUC}).Infof("iteration %d", t)

	if b.test.Len() == 0 || b.params.EarlyStoppingRounds <= 0 {
		b.bestRound = t
		return false
	}
	if m.TestAUC > b.history[b.bestRound].TestAUC {
		b.bestRound = t
	}
	return t-b.bestRound >= b.params.EarlyStoppingRounds
}

func probabilities(scores []float64) []float64 {
	p := make([]float64, len(scores))
	for i, s := range scores {
		p[i] = sigmoid(s)
	}
	return p
}

// AUC is the area under the ROC curve computed from ranks, tied scores
// share their average rank. A single class gives 0.5.
func AUC(labels, scores []float64) float64 {
	n := len(scores)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] < scores[order[j]]
	})

	var pos, neg, rankSum float64
	for i := 0; i < n; {
		j := i
		for j < n && scores[order[j]] == scores[order[i]] {
			j++
		}
		// ranks i+1..j
		avg := float64(i+1+j) / 2
		for k := i; k < j; k++ {
			if labels[order[k]] == 1 {
				rankSum += avg
				pos++
			} else {
				neg++
			}
		}
		i = j
	}
	if pos == 0 || neg == 0 {
		return 0.5
	}
	return (rankSum - pos*(pos+1)/2) / (pos * neg)
}
