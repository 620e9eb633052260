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
	"time"

	"github.com/cyjseagull/WeDPR-Component/model/modelctx"
)

// Train runs a training task on one party: fit, save and merge the model,
// then write and share the evaluation files
func Train(ctx context.Context, c *modelctx.SecureModelContext, router Router) (*VerticalBooster, error) {
	start := time.Now()
	data, err := LoadDataset(c)
	if err != nil {
		return nil, err
	}
	b := New(c, router, data)
	if err := b.Fit(ctx); err != nil {
		return nil, err
	}
	if err := b.SaveModel(); err != nil {
		return nil, err
	}
	if _, err := b.MergeModelFile(ctx); err != nil {
		return nil, err
	}
	if err := b.SaveTrainResults(); err != nil {
		return nil, err
	}
	if err := b.SyncResultFiles(ctx); err != nil {
		return nil, err
	}
	b.log.Infof("training finished with %d trees, timecost: %v", len(b.trees), time.Since(start))
	return b, nil
}

// RunPredict runs a prediction task on one party
func RunPredict(ctx context.Context, c *modelctx.SecureModelContext, router Router) (*VerticalBooster, error) {
	start := time.Now()
	data, err := LoadDataset(c)
	if err != nil {
		return nil, err
	}
	b := New(c, router, data)
	proba, err := b.Predict(ctx)
	if err != nil {
		return nil, err
	}
	if err := b.SavePredictResults(ctx, proba); err != nil {
		return nil, err
	}
	b.log.Infof("prediction finished, timecost: %v", time.Since(start))
	return b, nil
}
