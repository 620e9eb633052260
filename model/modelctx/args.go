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
	"encoding/json"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
)

// AlgorithmType distinguishes training from prediction jobs
type AlgorithmType string

const (
	AlgorithmTrain   AlgorithmType = "Train"
	AlgorithmPredict AlgorithmType = "Predict"
)

// Args are the parameters of one model task as submitted by the job scheduler
type Args struct {
	JobID                string   `json:"job_id"`
	User                 string   `json:"user"`
	IsLabelHolder        bool     `json:"is_label_holder"`
	ParticipantIDList    []string `json:"participant_id_list"`
	ResultReceiverIDList []string `json:"result_receiver_id_list"`
	AlgorithmType        string   `json:"algorithm_type"`
	// ModelPredictAlgorithm is the json text of a merged model, required by
	// prediction jobs
	ModelPredictAlgorithm string          `json:"model_predict_algorithm,omitempty"`
	DatasetID             string          `json:"dataset_id,omitempty"`
	DatasetPath           string          `json:"dataset_path"`
	PSIResultPath         string          `json:"psi_result_path,omitempty"`
	ModelDict             json.RawMessage `json:"model_dict,omitempty"`
}

// ParseArgs decodes task parameters
func ParseArgs(data []byte) (*Args, error) {
	var args Args
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeParam, "malformed model task args")
	}
	return &args, nil
}

// AgencyFields names the feature columns held by one agency
type AgencyFields struct {
	Agency string   `json:"agency"`
	Fields []string `json:"fields"`
}

// ModelDescriptor is the merged model written after training. Every agency
// contributes its split points and trees encrypted under its own key.
type ModelDescriptor struct {
	ModelType             string          `json:"model_type"`
	LabelProvider         string          `json:"label_provider"`
	LabelColumn           string          `json:"label_column"`
	ParticipantAgencyList []AgencyFields  `json:"participant_agency_list"`
	ModelDict             json.RawMessage `json:"model_dict,omitempty"`
	// ModelText maps an agency to base64 of its encrypted feature bins and
	// encrypted trees
	ModelText map[string][]string `json:"model_text"`
}

// ParseModelDescriptor decodes the json text of a merged model
func ParseModelDescriptor(text string) (*ModelDescriptor, error) {
	var m ModelDescriptor
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeModel, "malformed model descriptor")
	}
	return &m, nil
}

// FieldsOf returns the features of agency, nil when it is not part of the
// model
func (m *ModelDescriptor) FieldsOf(agency string) []string {
	for _, a := range m.ParticipantAgencyList {
		if a.Agency == agency {
			if a.Fields == nil {
				return []string{}
			}
			return a.Fields
		}
	}
	return nil
}

// Agencies returns the participants of the model in training order
func (m *ModelDescriptor) Agencies() []string {
	agencies := make([]string, len(m.ParticipantAgencyList))
	for i, a := range m.ParticipantAgencyList {
		agencies[i] = a.Agency
	}
	return agencies
}
