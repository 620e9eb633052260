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
	"context"
	"time"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"
	"github.com/sirupsen/logrus"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
	"github.com/cyjseagull/WeDPR-Component/model/booster"
	"github.com/cyjseagull/WeDPR-Component/model/modelctx"
	"github.com/cyjseagull/WeDPR-Component/task"
)

// modelHandler returns the task handler running alg: it builds the task
// context, shakes hands with the participants and runs the booster
func (e *Engine) modelHandler(alg modelctx.AlgorithmType) task.Handler {
	return func(ctx context.Context, taskID string, args *task.Args) error {
		margs, err := modelctx.ParseArgs(args.Params)
		if err != nil {
			return err
		}
		if margs.JobID == "" {
			margs.JobID = args.JobID
		}
		if margs.User == "" {
			margs.User = args.User
		}
		if margs.AlgorithmType == "" {
			margs.AlgorithmType = string(alg)
		}
		if modelctx.AlgorithmType(margs.AlgorithmType) != alg {
			return errorx.New(errcodes.ErrCodeParam, "algorithm %s does not match the task, expect %s", margs.AlgorithmType, alg)
		}

		c, err := modelctx.New(e.deps, taskID, margs)
		if err != nil {
			return err
		}
		defer func() {
			if err := c.RemoveWorkspace(); err != nil {
				logger.WithField("task_id", taskID).WithError(err).Warn("failed to remove workspace")
			}
		}()

		l := logger.WithFields(logrus.Fields{"job_id": c.JobID, "task_id": taskID, "role": c.Role})
		start := time.Now()
		if err := e.router.Handshake(ctx, taskID, c.Participants); err != nil {
			return err
		}
		l.Infof("handshake with %v finished, timecost: %v", c.Participants, time.Since(start))

		switch alg {
		case modelctx.AlgorithmTrain:
			_, err = booster.Train(ctx, c, e.router)
		default:
			_, err = booster.RunPredict(ctx, c, e.router)
		}
		return err
	}
}
