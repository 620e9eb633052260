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
	"encoding/json"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"

	"github.com/cyjseagull/WeDPR-Component/control"
	"github.com/cyjseagull/WeDPR-Component/errcodes"
	"github.com/cyjseagull/WeDPR-Component/task"
)

// Run starts a task, Args is the json of task.Args
func (e *Engine) Run(ctx context.Context, in *control.RunRequest) (*control.RunResponse, error) {
	if in.TaskID == "" {
		return nil, errorx.New(errcodes.ErrCodeParam, "missing task id")
	}
	var args task.Args
	if err := json.Unmarshal(in.Args, &args); err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeParam, "malformed task args")
	}
	if err := e.manager.RunTask(in.TaskID, in.TaskType, &args); err != nil {
		return nil, err
	}
	return &control.RunResponse{}, nil
}

// Kill kills every task of a job, or a single task when no job is given
func (e *Engine) Kill(ctx context.Context, in *control.KillRequest) (*control.KillResponse, error) {
	switch {
	case in.JobID != "":
		if err := e.manager.KillTask(in.JobID); err != nil {
			return nil, err
		}
	case in.TaskID != "":
		e.manager.KillOneTask(in.TaskID)
	default:
		return nil, errorx.New(errcodes.ErrCodeParam, "missing job id or task id")
	}
	return &control.KillResponse{}, nil
}

// Status returns the status of a task
func (e *Engine) Status(ctx context.Context, in *control.StatusRequest) (*control.StatusResponse, error) {
	status, result, err := e.manager.Status(in.TaskID)
	if err != nil {
		return nil, err
	}
	return &control.StatusResponse{Status: string(status), ExecResult: result}, nil
}

// Log returns the uploaded log of a job
func (e *Engine) Log(ctx context.Context, in *control.LogRequest) (*control.LogResponse, error) {
	if in.JobID == "" || in.User == "" {
		return nil, errorx.New(errcodes.ErrCodeParam, "missing job id or user")
	}
	size, path, content, err := e.manager.RetrieveLog(in.JobID, in.User)
	if err != nil {
		return nil, err
	}
	return &control.LogResponse{Size: size, Path: path, Content: content}, nil
}
