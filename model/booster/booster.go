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

// Package booster trains and applies a gradient boosting model over
// vertically partitioned samples. The label holder drives every round, the
// passive parties only see encrypted gradient statistics and the splits
// they own.
package booster

import (
	"context"
	"os"
	"time"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"
	"github.com/sirupsen/logrus"

	"github.com/cyjseagull/WeDPR-Component/dataset"
	"github.com/cyjseagull/WeDPR-Component/errcodes"
	"github.com/cyjseagull/WeDPR-Component/model/modelctx"
	"github.com/cyjseagull/WeDPR-Component/transport"
)

var logger = logrus.WithField("module", "booster")

// VerticalBooster holds the state of one party of a boosting task
type VerticalBooster struct {
	ctx    *modelctx.SecureModelContext
	router Router
	params *modelctx.LGBMParams
	log    *logrus.Entry

	data        *dataset.Dataset
	train, test *dataset.Dataset
	points      dataset.FeatureBins
	trainBins   *dataset.Binned
	testBins    *dataset.Binned

	// fields and categorical describe the features of every participant,
	// in participant order
	fields      [][]string
	categorical [][]bool

	trees []*Node

	// label holder only
	trainScore []float64
	testScore  []float64
	history    []IterationMetric
	importance map[importanceKey]*FeatureImportance
	bestRound  int
}

// New creates a booster over the local samples in data
func New(c *modelctx.SecureModelContext, router Router, data *dataset.Dataset) *VerticalBooster {
	return &VerticalBooster{
		ctx:        c,
		router:     router,
		params:     c.Params,
		data:       data,
		importance: make(map[importanceKey]*FeatureImportance),
		log: logger.WithFields(logrus.Fields{
			"task_id": c.TaskID,
			"agency":  c.Agency,
			"role":    c.Role,
		}),
	}
}

// LoadDataset reads the prefetched dataset of the task, restricted to the
// configured features and to the PSI intersection when enabled
func LoadDataset(c *modelctx.SecureModelContext) (*dataset.Dataset, error) {
	opts := dataset.LoadOptions{
		IDColumn:    dataset.DefaultIDColumn,
		LabelColumn: c.Params.LabelColumn,
		Features:    c.Params.TrainFeatures,
	}
	d, err := dataset.LoadFile(c.DatasetFile, opts)
	if err != nil {
		return nil, err
	}
	if !c.IsActive() {
		d.Labels = nil
	} else if c.Algorithm == modelctx.AlgorithmTrain {
		if !d.HasLabel() {
			return nil, errorx.New(errcodes.ErrCodeDataset, "label column %s not found", c.Params.LabelColumn)
		}
		for i, y := range d.Labels {
			if y != 0 && y != 1 {
				return nil, errorx.New(errcodes.ErrCodeDataset, "label of sample %s is %v, expect 0 or 1", d.IDs[i], y)
			}
		}
	}
	if c.Params.UsePSI {
		content, err := os.ReadFile(c.PSIFile)
		if err != nil {
			return nil, errorx.NewCode(err, errcodes.ErrCodeDataset, "failed to read psi result")
		}
		ids, err := dataset.ReadIDs(content, dataset.DefaultIDColumn)
		if err != nil {
			return nil, err
		}
		if d, err = d.Intersect(ids); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Trees returns the trees built or loaded so far
func (b *VerticalBooster) Trees() []*Node {
	return b.trees
}

func (b *VerticalBooster) isCategorical(name string) bool {
	for _, c := range b.params.CategoricalFeature {
		if c == name {
			return true
		}
	}
	return false
}

func (b *VerticalBooster) setFields(agencyIdx int, names []string) {
	b.fields[agencyIdx] = names
	b.categorical[agencyIdx] = make([]bool, len(names))
	for f, name := range names {
		b.categorical[agencyIdx][f] = b.isCategorical(name)
	}
}

// exchangeFeatureNames tells every partner the local feature names and
// collects theirs
func (b *VerticalBooster) exchangeFeatureNames(ctx context.Context) error {
	n := len(b.ctx.Participants)
	b.fields = make([][]string, n)
	b.categorical = make([][]bool, n)
	b.setFields(b.ctx.AgencyIndex(b.ctx.Agency), b.data.Features)

	if err := b.broadcast(ctx, transport.KindFeatureName, b.ctx.Partners(), encodeNames(b.data.Features)); err != nil {
		return err
	}
	for _, p := range b.ctx.Partners() {
		payload, err := b.receive(ctx, transport.KindFeatureName, p)
		if err != nil {
			return err
		}
		names, err := decodeNames(payload)
		if err != nil {
			return err
		}
		b.setFields(b.ctx.AgencyIndex(p), names)
	}
	return nil
}

// checkInstances verifies every passive party uses the same participant
// order and sample order as the label holder
func (b *VerticalBooster) checkInstances(ctx context.Context, trainIDs, testIDs []string) error {
	digest := instanceDigest(b.ctx.Participants, trainIDs, testIDs)
	kind := transport.KindInstance
	ackKind := transport.Kind(transport.KindInstance, "ack")
	if !b.ctx.IsActive() {
		active := b.ctx.ActiveAgency()
		if err := b.send(ctx, kind, active, digest); err != nil {
			return err
		}
		payload, err := b.receive(ctx, ackKind, active)
		if err != nil {
			return err
		}
		ok, err := decodeFlag(payload)
		if err != nil {
			return err
		}
		if !ok {
			return errorx.New(errcodes.ErrCodeProtocol, "samples are not aligned with %s", active)
		}
		return nil
	}

	var mismatch []string
	for _, p := range b.ctx.Partners() {
		payload, err := b.receive(ctx, kind, p)
		if err != nil {
			return err
		}
		ok := string(payload) == string(digest)
		if !ok {
			mismatch = append(mismatch, p)
		}
		if err := b.send(ctx, ackKind, p, encodeFlag(ok)); err != nil {
			return err
		}
	}
	if len(mismatch) > 0 {
		return errorx.New(errcodes.ErrCodeProtocol, "samples are not aligned with %v", mismatch)
	}
	return nil
}

// prepare splits and bins the samples and aligns the parties
func (b *VerticalBooster) prepare(ctx context.Context) error {
	b.train, b.test = b.data.TrainTestSplit(b.params.TestSize, b.params.RandomState)
	if b.train.Len() == 0 {
		return errorx.New(errcodes.ErrCodeDataset, "no training samples")
	}
	b.points = b.train.FitBins(b.params.MaxBin, b.params.CategoricalFeature)
	var err error
	if b.trainBins, err = b.train.Bin(b.points, b.params.CategoricalFeature); err != nil {
		return err
	}
	if b.testBins, err = b.test.Bin(b.points, b.params.CategoricalFeature); err != nil {
		return err
	}
	if err := b.exchangeFeatureNames(ctx); err != nil {
		return err
	}
	if err := b.checkInstances(ctx, b.train.IDs, b.test.IDs); err != nil {
		return err
	}
	b.log.Infof("train samples: %d, test samples: %d, features: %v", b.train.Len(), b.test.Len(), b.data.Features)
	return nil
}

// Fit trains the trees, every participant runs it concurrently
func (b *VerticalBooster) Fit(ctx context.Context) error {
	if err := b.prepare(ctx); err != nil {
		return err
	}
	if b.ctx.IsActive() {
		b.trainScore = make([]float64, b.train.Len())
		b.testScore = make([]float64, b.test.Len())
	}

	for t := 0; t < b.params.NEstimators; t++ {
		start := time.Now()
		var (
			tree *Node
			err  error
		)
		if b.ctx.IsActive() {
			tree, err = b.buildActiveTree(ctx, t)
		} else {
			tree, err = b.buildPassiveTree(ctx, t)
		}
		if err != nil {
			return errorx.Wrap(err, "failed to build tree %d", t)
		}
		b.trees = append(b.trees, tree)

		if b.test.Len() > 0 {
			weights, err := b.predictTree(ctx, transport.KindPredictTestLeafMask, tree, t, b.testBins, b.test.Len())
			if err != nil {
				return errorx.Wrap(err, "failed to evaluate tree %d", t)
			}
			if b.ctx.IsActive() {
				for i, w := range weights {
					b.testScore[i] += w
				}
			}
		}

		stop, err := b.syncStop(ctx, t)
		if err != nil {
			return err
		}
		b.log.Infof("tree %d done, timecost: %v", t, time.Since(start))
		if stop {
			b.log.Infof("early stopped after tree %d, best iteration %d", t, b.bestRound)
			break
		}
	}
	return nil
}

// syncStop lets the label holder decide whether training continues and
// tells the passive parties
func (b *VerticalBooster) syncStop(ctx context.Context, treeID int) (bool, error) {
	kind := transport.Kind(transport.KindStopIteration, treeID)
	if !b.ctx.IsActive() {
		payload, err := b.receive(ctx, kind, b.ctx.ActiveAgency())
		if err != nil {
			return false, err
		}
		return decodeFlag(payload)
	}
	stop := b.evaluateRound(treeID)
	if err := b.broadcast(ctx, kind, b.ctx.Partners(), encodeFlag(stop)); err != nil {
		return false, err
	}
	return stop, nil
}
