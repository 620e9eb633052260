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

package engine

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"
	"github.com/google/uuid"

	"github.com/cyjseagull/WeDPR-Component/config"
	"github.com/cyjseagull/WeDPR-Component/errcodes"
	"github.com/cyjseagull/WeDPR-Component/model/modelctx"
	"github.com/cyjseagull/WeDPR-Component/phe"
	"github.com/cyjseagull/WeDPR-Component/router"
	"github.com/cyjseagull/WeDPR-Component/storage"
	"github.com/cyjseagull/WeDPR-Component/storage/local"
	"github.com/cyjseagull/WeDPR-Component/task"
	"github.com/cyjseagull/WeDPR-Component/transport"
)

const (
	defaultJobTempDir       = "./jobs"
	defaultHandshakeTimeout = 5 * time.Minute
)

func milliseconds(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// initEngine initiates the storage, the job record store and the gRPC
// transport, then wires them with newEngine
func initEngine(conf *config.NodeConf, logFile string) (*Engine, error) {
	if conf.AgencyID == "" {
		return nil, errorx.New(errcodes.ErrCodeConfig, "missing agency id")
	}
	if conf.NodeID == "" {
		conf.NodeID = uuid.NewString()
	}
	if conf.Storage == nil {
		return nil, errorx.New(errcodes.ErrCodeConfig, "missing storage configuration")
	}
	st, err := local.New(conf.Storage.LocalStoragePath, conf.Storage.HomePath)
	if err != nil {
		return nil, err
	}
	store, err := newStore(conf.Task)
	if err != nil {
		return nil, err
	}

	var peers []*transport.PeerNode
	if conf.Transport != nil {
		for _, p := range conf.Transport.Peers {
			peers = append(peers, &transport.PeerNode{
				AgencyID:   p.AgencyID,
				NodeID:     p.NodeID,
				Components: p.Components,
				Address:    p.Address,
			})
		}
	}
	gt := transport.NewGRPCTransport(conf.AgencyID, conf.NodeID, peers)
	e, err := newEngine(conf, gt, st, store, logFile)
	if err != nil {
		store.Close()
		return nil, err
	}
	e.grpc = gt
	return e, nil
}

// newStore opens the job record store selected by conf
func newStore(conf *config.TaskConf) (task.Store, error) {
	if conf == nil || conf.Store == nil {
		return nil, errorx.New(errcodes.ErrCodeConfig, "missing job record store configuration")
	}
	switch strings.ToLower(conf.Store.Type) {
	case "mysql":
		return task.NewMySQLStore(conf.Store.DSN)
	case "sqlite":
		return task.NewSQLiteStore(conf.Store.Path)
	case "leveldb", "":
		return task.OpenLevelDBStore(conf.Store.Path)
	}
	return nil, errorx.New(errcodes.ErrCodeConfig, "unsupported job record store: %s", conf.Store.Type)
}

// newEngine wires the task manager, the router and the task handlers on top
// of an existing transport
func newEngine(conf *config.NodeConf, tr transport.Transport, st storage.Storage, store task.Store, logFile string) (*Engine, error) {
	jobTempDir := conf.JobTempDir
	if jobTempDir == "" {
		jobTempDir = defaultJobTempDir
	}
	deps := &modelctx.Deps{
		Storage:      st,
		AgencyID:     conf.AgencyID,
		JobTempDir:   jobTempDir,
		CipherFamily: phe.FamilyPaillier,
	}
	if conf.Crypto != nil {
		if conf.Crypto.Family != "" {
			deps.CipherFamily = phe.Family(strings.ToLower(conf.Crypto.Family))
		}
		deps.KeyLength = conf.Crypto.KeyLength
		deps.IterRound = conf.Crypto.IterRound
		deps.AESKeyFile = conf.Crypto.AESKeyFile
	}
	if deps.AESKeyFile == "" {
		return nil, errorx.New(errcodes.ErrCodeConfig, "missing aes key file")
	}

	var (
		timeout, sweep time.Duration
	)
	if conf.Task != nil {
		timeout = time.Duration(conf.Task.TimeoutHours * float64(time.Hour))
		sweep = time.Duration(conf.Task.SweepInterval) * time.Second
	}
	var retriever *task.LogRetriever
	if logFile != "" {
		retriever = task.NewLogRetriever(st, logFile, filepath.Join(jobTempDir, "logs"))
	}
	manager := task.NewManager(store, retriever, timeout, sweep)

	mtConf := transport.ModelTransportConf{Component: conf.Component}
	handshakeTimeout := defaultHandshakeTimeout
	if tc := conf.Transport; tc != nil {
		mtConf.SendTimeout = milliseconds(tc.SendTimeout)
		mtConf.PopTimeout = milliseconds(tc.PopTimeout)
		mtConf.PollInterval = milliseconds(tc.PollInterval)
		if tc.HandshakeTimeout > 0 {
			handshakeTimeout = milliseconds(tc.HandshakeTimeout)
		}
	}
	mt := transport.NewModelTransport(tr, mtConf, manager.TaskFinished)
	r := router.New(mt, handshakeTimeout)
	manager.RegisterClearHandler(r.OnTaskFinish)

	e := &Engine{
		conf:      conf,
		storage:   st,
		store:     store,
		manager:   manager,
		transport: tr,
		router:    r,
		deps:      deps,
	}
	manager.RegisterTaskHandler(TaskTypeTraining, e.modelHandler(modelctx.AlgorithmTrain))
	manager.RegisterTaskHandler(TaskTypePredicting, e.modelHandler(modelctx.AlgorithmPredict))
	return e, nil
}
