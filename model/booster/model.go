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
	"encoding/base64"
	"encoding/json"
	"os"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"

	"github.com/cyjseagull/WeDPR-Component/dataset"
	"github.com/cyjseagull/WeDPR-Component/errcodes"
	"github.com/cyjseagull/WeDPR-Component/model/modelctx"
	"github.com/cyjseagull/WeDPR-Component/transport"
)

// ModelType names the model in a merged model descriptor
const ModelType = "xgb_model"

const (
	modelPartFeatureBin = "feature_bin"
	modelPartModelData  = "model_data"
)

// SaveModel writes the local split points and trees to the workspace and
// uploads them to the job directory
func (b *VerticalBooster) SaveModel() error {
	own := make(dataset.FeatureBins, len(b.data.Features))
	for _, name := range b.data.Features {
		own[name] = b.points[name]
	}
	if err := own.Save(b.ctx.LocalPath(modelctx.FeatureBinFile)); err != nil {
		return err
	}
	data, err := EncodeTrees(b.trees)
	if err != nil {
		return err
	}
	if err := os.WriteFile(b.ctx.LocalPath(modelctx.ModelDataFile), data, 0644); err != nil {
		return errorx.NewCode(err, errcodes.ErrCodeInternal, "failed to write trees")
	}
	for _, name := range []string{modelctx.FeatureBinFile, modelctx.ModelDataFile} {
		if err := b.ctx.Storage.UploadFile(b.ctx.LocalPath(name), b.ctx.RemotePath(name)); err != nil {
			return errorx.NewCode(err, errcodes.ErrCodeStorage, "failed to upload %s", name)
		}
	}
	b.log.Infof("model saved to %s", b.ctx.RemoteDir)
	return nil
}

func (b *VerticalBooster) encryptModelFile(name string) ([]byte, error) {
	plain, err := os.ReadFile(b.ctx.LocalPath(name))
	if err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeModel, "failed to read %s", name)
	}
	return b.ctx.Key.Encrypt(plain)
}

// MergeModelFile exchanges the encrypted model parts of every party and
// writes the merged model descriptor. Each party can only decrypt its own
// part.
func (b *VerticalBooster) MergeModelFile(ctx context.Context) (*modelctx.ModelDescriptor, error) {
	encBins, err := b.encryptModelFile(modelctx.FeatureBinFile)
	if err != nil {
		return nil, err
	}
	encTrees, err := b.encryptModelFile(modelctx.ModelDataFile)
	if err != nil {
		return nil, err
	}

	binKind := transport.Kind(transport.KindModelData, modelPartFeatureBin)
	treeKind := transport.Kind(transport.KindModelData, modelPartModelData)
	partners := b.ctx.Partners()
	if err := b.broadcast(ctx, binKind, partners, encBins); err != nil {
		return nil, err
	}
	if err := b.broadcast(ctx, treeKind, partners, encTrees); err != nil {
		return nil, err
	}

	text := map[string][]string{
		b.ctx.Agency: {base64.StdEncoding.EncodeToString(encBins), base64.StdEncoding.EncodeToString(encTrees)},
	}
	for _, p := range partners {
		bins, err := b.receive(ctx, binKind, p)
		if err != nil {
			return nil, err
		}
		trees, err := b.receive(ctx, treeKind, p)
		if err != nil {
			return nil, err
		}
		text[p] = []string{base64.StdEncoding.EncodeToString(bins), base64.StdEncoding.EncodeToString(trees)}
	}

	modelDict, err := json.Marshal(b.params)
	if err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeEncoding, "failed to marshal model dict")
	}
	m := &modelctx.ModelDescriptor{
		ModelType:     ModelType,
		LabelProvider: b.ctx.ActiveAgency(),
		LabelColumn:   b.params.LabelColumn,
		ModelDict:     modelDict,
		ModelText:     text,
	}
	for i, agency := range b.ctx.Participants {
		m.ParticipantAgencyList = append(m.ParticipantAgencyList, modelctx.AgencyFields{Agency: agency, Fields: b.fields[i]})
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeEncoding, "failed to marshal model")
	}
	if err := os.WriteFile(b.ctx.LocalPath(modelctx.ModelEncFile), data, 0644); err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeInternal, "failed to write merged model")
	}
	if err := b.ctx.Storage.UploadFile(b.ctx.LocalPath(modelctx.ModelEncFile), b.ctx.RemotePath(modelctx.ModelEncFile)); err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeStorage, "failed to upload merged model")
	}
	b.log.Infof("merged model of %v saved", b.ctx.Participants)
	return m, nil
}

// SplitModelFile decrypts the local part of the merged model of a
// prediction job into the workspace
func (b *VerticalBooster) SplitModelFile() error {
	m := b.ctx.ModelPredict
	if m == nil {
		return errorx.New(errcodes.ErrCodeModel, "no model to predict with")
	}
	parts, ok := m.ModelText[b.ctx.Agency]
	if !ok || len(parts) != 2 {
		return errorx.New(errcodes.ErrCodeModel, "model has no part of %s", b.ctx.Agency)
	}
	for i, name := range []string{modelctx.FeatureBinFile, modelctx.ModelDataFile} {
		enc, err := base64.StdEncoding.DecodeString(parts[i])
		if err != nil {
			return errorx.NewCode(err, errcodes.ErrCodeModel, "malformed model part %s", name)
		}
		plain, err := b.ctx.Key.Decrypt(enc)
		if err != nil {
			return errorx.NewCode(err, errcodes.ErrCodeModel, "failed to decrypt model part %s", name)
		}
		if err := os.WriteFile(b.ctx.LocalPath(name), plain, 0644); err != nil {
			return errorx.NewCode(err, errcodes.ErrCodeInternal, "failed to write %s", name)
		}
	}
	return nil
}

// LoadModel reads the split points and trees of a prediction job. The plain
// files of the job directory are used when present, otherwise the local
// part of the merged model is decrypted.
func (b *VerticalBooster) LoadModel() error {
	m := b.ctx.ModelPredict
	if m == nil {
		return errorx.New(errcodes.ErrCodeModel, "no model to predict with")
	}
	agencies := m.Agencies()
	if len(agencies) != len(b.ctx.Participants) {
		return errorx.New(errcodes.ErrCodeModel, "model trained by %v, task participants %v", agencies, b.ctx.Participants)
	}
	for i, a := range agencies {
		if b.ctx.Participants[i] != a {
			return errorx.New(errcodes.ErrCodeModel, "model trained by %v, task participants %v", agencies, b.ctx.Participants)
		}
	}
	if m.LabelProvider != b.ctx.ActiveAgency() {
		return errorx.New(errcodes.ErrCodeModel, "label provider of the model is %s", m.LabelProvider)
	}

	if err := b.downloadModelFiles(); err != nil {
		b.log.Infof("plain model files not available, decrypting the merged model: %v", err)
		if err := b.SplitModelFile(); err != nil {
			return err
		}
	}
	points, err := dataset.LoadFeatureBins(b.ctx.LocalPath(modelctx.FeatureBinFile))
	if err != nil {
		return err
	}
	trees, err := LoadTrees(b.ctx.LocalPath(modelctx.ModelDataFile))
	if err != nil {
		return err
	}
	b.points = points
	b.trees = trees
	return nil
}

func (b *VerticalBooster) downloadModelFiles() error {
	for _, name := range []string{modelctx.FeatureBinFile, modelctx.ModelDataFile} {
		if err := b.ctx.Storage.DownloadFile(b.ctx.RemotePath(name), b.ctx.LocalPath(name), false); err != nil {
			return err
		}
	}
	return nil
}
