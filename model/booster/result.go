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
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"

	"github.com/cyjseagull/WeDPR-Component/dataset"
	"github.com/cyjseagull/WeDPR-Component/errcodes"
	"github.com/cyjseagull/WeDPR-Component/model/modelctx"
	"github.com/cyjseagull/WeDPR-Component/transport"
)

// Summary is the content of the summary evaluation file
type Summary struct {
	TrainAUC      float64 `json:"train_auc"`
	TestAUC       float64 `json:"test_auc"`
	BestIteration int     `json:"best_iteration"`
	NumTrees      int     `json:"num_trees"`
	TrainSamples  int     `json:"train_samples"`
	TestSamples   int     `json:"test_samples"`
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (b *VerticalBooster) classLabel(p float64) string {
	if p >= b.params.Threshold {
		return "1"
	}
	return "0"
}

// outputRows lists every sample with its probability, labels are written
// when known
func (b *VerticalBooster) outputRows(ids []string, labels, proba []float64) [][]string {
	header := []string{dataset.DefaultIDColumn}
	if labels != nil {
		header = append(header, b.params.LabelColumn)
	}
	header = append(header, "class_pred", "class_label")
	rows := [][]string{header}
	for i, id := range ids {
		row := []string{id}
		if labels != nil {
			row = append(row, formatFloat(labels[i]))
		}
		row = append(row, formatFloat(proba[i]), b.classLabel(proba[i]))
		rows = append(rows, row)
	}
	return rows
}

func (b *VerticalBooster) upload(name string) error {
	if err := b.ctx.Storage.UploadFile(b.ctx.LocalPath(name), b.ctx.RemotePath(name)); err != nil {
		return errorx.NewCode(err, errcodes.ErrCodeStorage, "failed to upload %s", name)
	}
	return nil
}

// Summary returns the evaluation of the last tree
func (b *VerticalBooster) Summary() *Summary {
	s := &Summary{
		BestIteration: b.bestRound,
		NumTrees:      len(b.trees),
		TrainSamples:  b.train.Len(),
		TestSamples:   b.test.Len(),
	}
	if n := len(b.history); n > 0 {
		s.TrainAUC = b.history[n-1].TrainAUC
		s.TestAUC = b.history[n-1].TestAUC
	}
	return s
}

// SaveTrainResults writes and uploads the evaluation files of a training
// task, only the label holder has them
func (b *VerticalBooster) SaveTrainResults() error {
	if !b.ctx.IsActive() {
		return nil
	}
	files := map[string][][]string{
		modelctx.TrainModelOutputFile: b.outputRows(b.train.IDs, b.train.Labels, probabilities(b.trainScore)),
		modelctx.TestModelOutputFile:  b.outputRows(b.test.IDs, b.test.Labels, probabilities(b.testScore)),
	}

	metrics := [][]string{{"iteration", "train_auc", "test_auc"}}
	for _, m := range b.history {
		metrics = append(metrics, []string{strconv.Itoa(m.Iteration), formatFloat(m.TrainAUC), formatFloat(m.TestAUC)})
	}
	files[modelctx.MetricsIterationFile] = metrics

	importance := [][]string{{"agency", "feature", "split_count", "gain"}}
	for _, fi := range b.Importance() {
		importance = append(importance, []string{fi.Agency, fi.Feature, strconv.Itoa(fi.Splits), formatFloat(fi.Gain)})
	}
	files[modelctx.FeatureImportanceFile] = importance

	for name, rows := range files {
		if err := dataset.WriteRows(rows, b.ctx.LocalPath(name)); err != nil {
			return err
		}
		if err := b.upload(name); err != nil {
			return err
		}
	}

	summary, err := json.MarshalIndent(b.Summary(), "", "  ")
	if err != nil {
		return errorx.NewCode(err, errcodes.ErrCodeEncoding, "failed to marshal summary")
	}
	if err := os.WriteFile(b.ctx.LocalPath(modelctx.SummaryEvaluationFile), summary, 0644); err != nil {
		return errorx.NewCode(err, errcodes.ErrCodeInternal, "failed to write summary")
	}
	return b.upload(modelctx.SummaryEvaluationFile)
}

// receivers returns the partners receiving results, in participant order
func (b *VerticalBooster) receivers() []string {
	var out []string
	for _, p := range b.ctx.Partners() {
		if b.ctx.IsResultReceiver(p) {
			out = append(out, p)
		}
	}
	return out
}

// SyncResultFiles sends the evaluation files of the label holder to the
// passive result receivers, which store them in their own job directory
func (b *VerticalBooster) SyncResultFiles(ctx context.Context) error {
	if b.ctx.IsActive() {
		receivers := b.receivers()
		if len(receivers) == 0 {
			return nil
		}
		for _, key := range b.ctx.SyncKeys() {
			f := b.ctx.SyncFileList[key]
			data, err := os.ReadFile(f.Local)
			if err != nil {
				return errorx.NewCode(err, errcodes.ErrCodeInternal, "failed to read result file %s", key)
			}
			if err := b.broadcast(ctx, transport.Kind(transport.KindSyncFile, key), receivers, data); err != nil {
				return err
			}
		}
		return nil
	}

	if !b.ctx.IsResultReceiver(b.ctx.Agency) {
		return nil
	}
	for _, key := range b.ctx.SyncKeys() {
		f := b.ctx.SyncFileList[key]
		data, err := b.receive(ctx, transport.Kind(transport.KindSyncFile, key), b.ctx.ActiveAgency())
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(f.Local), 0755); err != nil {
			return errorx.NewCode(err, errcodes.ErrCodeInternal, "failed to create result dir")
		}
		if err := os.WriteFile(f.Local, data, 0644); err != nil {
			return errorx.NewCode(err, errcodes.ErrCodeInternal, "failed to write result file %s", key)
		}
		if err := b.ctx.Storage.UploadFile(f.Local, f.Remote); err != nil {
			return errorx.NewCode(err, errcodes.ErrCodeStorage, "failed to upload result file %s", key)
		}
	}
	b.log.Infof("received %d result files", len(b.ctx.SyncFileList))
	return nil
}

// SavePredictResults writes the prediction output. The label holder sends
// the probabilities to the passive result receivers.
func (b *VerticalBooster) SavePredictResults(ctx context.Context, proba []float64) error {
	kind := transport.KindPredictPraba
	if b.ctx.IsActive() {
		if err := b.broadcast(ctx, kind, b.receivers(), encodeFloats(proba)); err != nil {
			return err
		}
		if !b.ctx.IsResultReceiver(b.ctx.Agency) {
			return nil
		}
	} else {
		if !b.ctx.IsResultReceiver(b.ctx.Agency) {
			return nil
		}
		payload, err := b.receive(ctx, kind, b.ctx.ActiveAgency())
		if err != nil {
			return err
		}
		if proba, err = decodeFloats(payload); err != nil {
			return err
		}
		if len(proba) != b.data.Len() {
			return errorx.New(errcodes.ErrCodeProtocol, "%d predictions, expect %d", len(proba), b.data.Len())
		}
	}
	if err := dataset.WriteRows(b.outputRows(b.data.IDs, nil, proba), b.ctx.LocalPath(modelctx.TestModelOutputFile)); err != nil {
		return err
	}
	return b.upload(modelctx.TestModelOutputFile)
}
