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

// Package modelctx assembles everything one model task needs before the
// protocol starts: role, participants, hyperparameters, keys and the local
// workspace with the prefetched input files.
package modelctx

import (
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"
	"github.com/sirupsen/logrus"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
	"github.com/cyjseagull/WeDPR-Component/phe"
	"github.com/cyjseagull/WeDPR-Component/storage"
	"github.com/cyjseagull/WeDPR-Component/symmetric"
	"github.com/cyjseagull/WeDPR-Component/task"
)

var logger = logrus.WithField("module", "modelctx")

// Role of a party in a task
type Role string

const (
	RoleActive  Role = "ACTIVE_PARTY"
	RolePassive Role = "PASSIVE_PARTY"
)

// file names inside the workspace and the remote job directory
const (
	DefaultDatasetFile    = "dataset.csv"
	PSIResultFile         = "psi_result.csv"
	FeatureBinFile        = "feature_bin.json"
	ModelDataFile         = "xgb_tree.json"
	ModelEncFile          = "model_enc.kpl"
	MetricsIterationFile  = "metrics_iteration.csv"
	FeatureImportanceFile = "feature_importance.csv"
	SummaryEvaluationFile = "summary_evaluation.json"
	TrainModelOutputFile  = "train_model_output.csv"
	TestModelOutputFile   = "test_model_output.csv"
)

// Deps are the process wide collaborators shared by all model tasks
type Deps struct {
	Storage      storage.Storage
	AgencyID     string
	JobTempDir   string
	CipherFamily phe.Family
	KeyLength    int
	IterRound    int
	AESKeyFile   string
}

// SyncFile is a result file replicated to the result receivers
type SyncFile struct {
	Local  string
	Remote string
}

// SecureModelContext is read-only once New returns
type SecureModelContext struct {
	TaskID          string
	JobID           string
	User            string
	Agency          string
	Role            Role
	Algorithm       AlgorithmType
	Participants    []string
	ResultReceivers []string
	Params          *LGBMParams
	// ModelPredict is the merged model of a prediction job
	ModelPredict *ModelDescriptor

	// Cipher holds the secret key, only the active party has one
	Cipher phe.Cipher
	Key    *symmetric.Key

	Storage   storage.Storage
	Workspace string
	RemoteDir string
	// DatasetFile and PSIFile are the local copies of the inputs
	DatasetFile string
	PSIFile     string
	// SyncFileList maps a result key to the file pair replicated after training
	SyncFileList map[string]SyncFile
}

func validate(deps *Deps, args *Args) (AlgorithmType, error) {
	if args.JobID == "" {
		return "", errorx.New(errcodes.ErrCodeParam, "job_id is required")
	}
	alg := AlgorithmType(args.AlgorithmType)
	if alg != AlgorithmTrain && alg != AlgorithmPredict {
		return "", errorx.New(errcodes.ErrCodeParam, "unsupported algorithm_type: %s", args.AlgorithmType)
	}
	if alg == AlgorithmPredict && args.ModelPredictAlgorithm == "" {
		return "", errorx.New(errcodes.ErrCodeParam, "model_predict_algorithm is required by predict job %s", args.JobID)
	}
	if args.DatasetPath == "" {
		return "", errorx.New(errcodes.ErrCodeParam, "dataset_path is required")
	}
	if len(args.ParticipantIDList) == 0 {
		return "", errorx.New(errcodes.ErrCodeParam, "participant_id_list is empty")
	}
	self := -1
	for i, p := range args.ParticipantIDList {
		if p == deps.AgencyID {
			self = i
		}
	}
	if self == -1 {
		return "", errorx.New(errcodes.ErrCodeParam, "agency %s is not a participant", deps.AgencyID)
	}
	// the label holder addresses passive parties by index from 0
	if args.IsLabelHolder && self != 0 {
		return "", errorx.New(errcodes.ErrCodeParam, "label holder %s must be the first participant", deps.AgencyID)
	}
	return alg, nil
}

// New validates args, prepares the workspace and prefetches the dataset and
// the PSI result. It fails before any message is exchanged.
func New(deps *Deps, taskID string, args *Args) (*SecureModelContext, error) {
	alg, err := validate(deps, args)
	if err != nil {
		return nil, err
	}

	c := &SecureModelContext{
		TaskID:          taskID,
		JobID:           args.JobID,
		User:            args.User,
		Agency:          deps.AgencyID,
		Role:            RolePassive,
		Algorithm:       alg,
		Participants:    args.ParticipantIDList,
		ResultReceivers: args.ResultReceiverIDList,
		Storage:         deps.Storage,
		Workspace:       filepath.Join(deps.JobTempDir, taskID),
		RemoteDir:       task.RemoteJobDir(args.User, args.JobID),
		SyncFileList:    map[string]SyncFile{},
	}
	if args.IsLabelHolder {
		c.Role = RoleActive
	}

	modelDict := args.ModelDict
	if alg == AlgorithmPredict {
		if c.ModelPredict, err = ParseModelDescriptor(args.ModelPredictAlgorithm); err != nil {
			return nil, err
		}
		if len(modelDict) == 0 {
			modelDict = c.ModelPredict.ModelDict
		}
	}
	if c.Params, err = ParseLGBMParams(modelDict); err != nil {
		return nil, err
	}
	if c.Params.UsePSI && args.PSIResultPath == "" {
		return nil, errorx.New(errcodes.ErrCodeParam, "psi_result_path is required when use_psi is set")
	}

	if err := os.MkdirAll(c.Workspace, 0755); err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeInternal, "failed to create workspace")
	}
	if c.Key, err = symmetric.LoadKey(deps.AESKeyFile); err != nil {
		return nil, err
	}
	if c.Role == RoleActive {
		if c.Cipher, err = phe.New(deps.CipherFamily, deps.KeyLength, deps.IterRound); err != nil {
			return nil, err
		}
	}

	datasetFile := DefaultDatasetFile
	if args.DatasetID != "" {
		datasetFile = filepath.Base(args.DatasetID)
	}
	c.DatasetFile = filepath.Join(c.Workspace, datasetFile)
	if err := c.prefetch(args.DatasetPath, c.DatasetFile); err != nil {
		return nil, err
	}
	if c.Params.UsePSI {
		c.PSIFile = filepath.Join(c.Workspace, PSIResultFile)
		if err := c.prefetch(args.PSIResultPath, c.PSIFile); err != nil {
			return nil, err
		}
	}

	if alg == AlgorithmTrain {
		for key, name := range map[string]string{
			"metrics_iteration":  MetricsIterationFile,
			"feature_importance": FeatureImportanceFile,
			"summary_evaluation": SummaryEvaluationFile,
			"train_model_output": TrainModelOutputFile,
			"test_model_output":  TestModelOutputFile,
		} {
			c.SyncFileList[key] = SyncFile{Local: c.LocalPath(name), Remote: c.RemotePath(name)}
		}
	}

	logger.WithFields(logrus.Fields{
		"job_id":  c.JobID,
		"task_id": taskID,
		"role":    c.Role,
	}).Infof("model context created, participants: %v, algorithm: %s", c.Participants, alg)
	return c, nil
}

func (c *SecureModelContext) prefetch(remote, local string) error {
	if err := c.Storage.DownloadFile(remote, local, true); err != nil {
		return errorx.NewCode(err, errcodes.ErrCodeStorage, "failed to download %s", remote)
	}
	logger.WithField("job_id", c.JobID).Infof("downloaded %s to %s", remote, local)
	return nil
}

// LocalPath is the path of name inside the workspace
func (c *SecureModelContext) LocalPath(name string) string {
	return filepath.Join(c.Workspace, name)
}

// RemotePath is the path of name inside the remote job directory
func (c *SecureModelContext) RemotePath(name string) string {
	return path.Join(c.RemoteDir, name)
}

func (c *SecureModelContext) IsActive() bool {
	return c.Role == RoleActive
}

// ActiveAgency is the label holder, the first participant
func (c *SecureModelContext) ActiveAgency() string {
	return c.Participants[0]
}

// AgencyIndex returns the index of agency in the participant list, or -1
func (c *SecureModelContext) AgencyIndex(agency string) int {
	for i, p := range c.Participants {
		if p == agency {
			return i
		}
	}
	return -1
}

// Partners returns the other participants in participant order
func (c *SecureModelContext) Partners() []string {
	partners := make([]string, 0, len(c.Participants)-1)
	for _, p := range c.Participants {
		if p != c.Agency {
			partners = append(partners, p)
		}
	}
	return partners
}

// IsResultReceiver reports whether agency receives the result files
func (c *SecureModelContext) IsResultReceiver(agency string) bool {
	for _, r := range c.ResultReceivers {
		if r == agency {
			return true
		}
	}
	return false
}

// SyncKeys returns the keys of SyncFileList in a stable order
func (c *SecureModelContext) SyncKeys() []string {
	keys := make([]string, 0, len(c.SyncFileList))
	for k := range c.SyncFileList {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RemoveWorkspace deletes the local files of the task
func (c *SecureModelContext) RemoveWorkspace() error {
	if err := os.RemoveAll(c.Workspace); err != nil {
		return errorx.NewCode(err, errcodes.ErrCodeInternal, "failed to remove workspace")
	}
	return nil
}
