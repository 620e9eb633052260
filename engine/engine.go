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

// Package engine wires a model node: storage, job record store, task
// manager, transport and router, and serves the task control service.
package engine

import (
	"context"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/cyjseagull/WeDPR-Component/config"
	"github.com/cyjseagull/WeDPR-Component/control"
	"github.com/cyjseagull/WeDPR-Component/metrics"
	"github.com/cyjseagull/WeDPR-Component/model/modelctx"
	"github.com/cyjseagull/WeDPR-Component/router"
	"github.com/cyjseagull/WeDPR-Component/storage"
	"github.com/cyjseagull/WeDPR-Component/task"
	"github.com/cyjseagull/WeDPR-Component/transport"
)

var (
	logger = logrus.WithField("module", "engine")
)

// task types served by the node
const (
	TaskTypeTraining   = "XGB_TRAINING"
	TaskTypePredicting = "XGB_PREDICTING"
)

// Engine task processing engine
type Engine struct {
	conf      *config.NodeConf
	storage   storage.Storage
	store     task.Store
	manager   *task.Manager
	transport transport.Transport
	grpc      *transport.GRPCTransport
	router    *router.Router
	deps      *modelctx.Deps
}

// NewEngine initiates Engine, logFile is the node log the job logs are
// extracted from
func NewEngine(conf *config.NodeConf, logFile string) (*Engine, error) {
	return initEngine(conf, logFile)
}

// Start runs the timeout sweep and the metrics endpoint
func (e *Engine) Start(ctx context.Context) error {
	e.manager.Start(ctx)
	if e.conf.Metrics != nil && e.conf.Metrics.ListenAddress != "" {
		go func() {
			if err := metrics.Serve(ctx, e.conf.Metrics.ListenAddress); err != nil {
				logger.WithError(err).Error("metrics server exits")
			}
		}()
	}
	agency, node := e.transport.Self()
	logger.WithFields(logrus.Fields{"agency": agency, "node_id": node}).Info("engine started")
	return nil
}

// Register serves the transport and the control service on s
func (e *Engine) Register(s *grpc.Server) {
	if e.grpc != nil {
		e.grpc.Register(s)
	}
	control.RegisterTaskServer(s, e)
}

// Close waits until all inner services stop
func (e *Engine) Close() {
	if e.manager != nil {
		e.manager.Stop()
	}
	if e.transport != nil {
		e.transport.Stop()
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			logger.WithError(err).Warn("failed to close job record store")
		}
	}
}
