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

package modelctx

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
)

const EvalMetricAUC = "auc"

// LGBMParams are the hyperparameters of the vertical boosting model
type LGBMParams struct {
	LearningRate float64 `json:"learning_rate"`
	NEstimators  int     `json:"n_estimators"`
	// MaxDepth <= 0 leaves the depth bounded by NumLeaves only
	MaxDepth        int     `json:"max_depth"`
	NumLeaves       int     `json:"num_leaves"`
	MinChildSamples int     `json:"min_child_samples"`
	MinChildWeight  float64 `json:"min_child_weight"`
	MinSplitGain    float64 `json:"min_split_gain"`
	RegAlpha        float64 `json:"reg_alpha"`
	RegLambda       float64 `json:"reg_lambda"`
	MaxBin          int     `json:"max_bin"`
	TestSize        float64 `json:"test_size"`
	// EarlyStoppingRounds <= 0 disables early stopping
	EarlyStoppingRounds int      `json:"early_stopping_rounds"`
	EvalMetric          string   `json:"eval_metric"`
	RandomState         int64    `json:"random_state"`
	UsePSI              bool     `json:"use_psi"`
	CategoricalFeature  []string `json:"categorical_feature"`
	TrainFeatures       []string `json:"train_features"`
	LabelColumn         string   `json:"label_column"`
	Threshold           float64  `json:"threshold"`
}

// DefaultLGBMParams returns the default hyperparameters
func DefaultLGBMParams() *LGBMParams {
	return &LGBMParams{
		LearningRate:        0.1,
		NEstimators:         100,
		MaxDepth:            -1,
		NumLeaves:           31,
		MinChildSamples:     20,
		MinChildWeight:      1e-3,
		MinSplitGain:        0,
		RegAlpha:            0,
		RegLambda:           0,
		MaxBin:              10,
		TestSize:            0.3,
		EarlyStoppingRounds: 5,
		EvalMetric:          EvalMetricAUC,
		LabelColumn:         "y",
		Threshold:           0.5,
	}
}

// modelDict reads values that may be typed json or strings
type modelDict map[string]json.RawMessage

func (d modelDict) lookup(keys ...string) (json.RawMessage, string, bool) {
	for _, k := range keys {
		raw, ok := d[k]
		if ok && len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
			return raw, k, true
		}
	}
	return nil, "", false
}

// text returns a json string unquoted, other values as they are
func text(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return string(raw)
}

func (d modelDict) getFloat(dst *float64, keys ...string) error {
	raw, key, ok := d.lookup(keys...)
	if !ok {
		return nil
	}
	v, err := strconv.ParseFloat(text(raw), 64)
	if err != nil {
		return errorx.NewCode(err, errcodes.ErrCodeParam, "invalid %s", key)
	}
	*dst = v
	return nil
}

func (d modelDict) getInt(dst *int, keys ...string) error {
	var v float64
	if err := d.getFloat(&v, keys...); err != nil {
		return err
	}
	if _, _, ok := d.lookup(keys...); ok {
		*dst = int(v)
	}
	return nil
}

func (d modelDict) getInt64(dst *int64, keys ...string) error {
	raw, key, ok := d.lookup(keys...)
	if !ok {
		return nil
	}
	v, err := strconv.ParseInt(text(raw), 10, 64)
	if err != nil {
		return errorx.NewCode(err, errcodes.ErrCodeParam, "invalid %s", key)
	}
	*dst = v
	return nil
}

func (d modelDict) getBool(dst *bool, keys ...string) error {
	raw, key, ok := d.lookup(keys...)
	if !ok {
		return nil
	}
	v, err := strconv.ParseBool(strings.ToLower(text(raw)))
	if err != nil {
		return errorx.NewCode(err, errcodes.ErrCodeParam, "invalid %s", key)
	}
	*dst = v
	return nil
}

func (d modelDict) getString(dst *string, keys ...string) {
	if raw, _, ok := d.lookup(keys...); ok {
		*dst = text(raw)
	}
}

// getList accepts a json array or a comma separated string
func (d modelDict) getList(dst *[]string, keys ...string) error {
	raw, key, ok := d.lookup(keys...)
	if !ok {
		return nil
	}
	var items []string
	if err := json.Unmarshal(raw, &items); err == nil {
		*dst = items
		return nil
	}
	s := text(raw)
	if strings.HasPrefix(s, "[") {
		return errorx.New(errcodes.ErrCodeParam, "invalid %s", key)
	}
	items = nil
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*dst = items
	return nil
}

// ParseLGBMParams overrides the defaults with the entries of a model_dict,
// which is a json object or a json string holding one
func ParseLGBMParams(raw json.RawMessage) (*LGBMParams, error) {
	p := DefaultLGBMParams()
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return p, nil
	}
	var inner string
	if err := json.Unmarshal(raw, &inner); err == nil {
		if strings.TrimSpace(inner) == "" {
			return p, nil
		}
		raw = json.RawMessage(inner)
	}
	var d modelDict
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeParam, "malformed model_dict")
	}

	errs := []error{
		d.getFloat(&p.LearningRate, "learning_rate"),
		d.getInt(&p.NEstimators, "n_estimators", "num_trees"),
		d.getInt(&p.MaxDepth, "max_depth"),
		d.getInt(&p.NumLeaves, "num_leaves"),
		d.getInt(&p.MinChildSamples, "min_child_samples"),
		d.getFloat(&p.MinChildWeight, "min_child_weight"),
		d.getFloat(&p.MinSplitGain, "min_split_gain"),
		d.getFloat(&p.RegAlpha, "reg_alpha"),
		d.getFloat(&p.RegLambda, "reg_lambda"),
		d.getInt(&p.MaxBin, "max_bin"),
		d.getFloat(&p.TestSize, "test_size"),
		d.getInt(&p.EarlyStoppingRounds, "early_stopping_rounds"),
		d.getInt64(&p.RandomState, "random_state", "seed"),
		d.getBool(&p.UsePSI, "use_psi"),
		d.getList(&p.CategoricalFeature, "categorical_feature", "categorical"),
		d.getList(&p.TrainFeatures, "train_features", "train_feature"),
		d.getFloat(&p.Threshold, "threshold"),
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	d.getString(&p.EvalMetric, "eval_metric")
	d.getString(&p.LabelColumn, "label_column")

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the ranges of the hyperparameters
func (p *LGBMParams) Validate() error {
	switch {
	case p.LearningRate <= 0:
		return errorx.New(errcodes.ErrCodeParam, "learning_rate must be positive")
	case p.NEstimators <= 0:
		return errorx.New(errcodes.ErrCodeParam, "n_estimators must be positive")
	case p.NumLeaves < 2:
		return errorx.New(errcodes.ErrCodeParam, "num_leaves must be at least 2")
	case p.MinChildSamples < 1:
		return errorx.New(errcodes.ErrCodeParam, "min_child_samples must be positive")
	case p.MaxBin < 2:
		return errorx.New(errcodes.ErrCodeParam, "max_bin must be at least 2")
	case p.TestSize < 0 || p.TestSize >= 1:
		return errorx.New(errcodes.ErrCodeParam, "test_size must be in [0, 1)")
	case p.RegLambda < 0 || p.RegAlpha < 0:
		return errorx.New(errcodes.ErrCodeParam, "regularization must not be negative")
	case p.EvalMetric != EvalMetricAUC:
		return errorx.New(errcodes.ErrCodeParam, "unsupported eval_metric: %s", p.EvalMetric)
	case p.LabelColumn == "":
		return errorx.New(errcodes.ErrCodeParam, "label_column is required")
	}
	return nil
}
