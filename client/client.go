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

package client

import (
	"context"
	"encoding/json"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cyjseagull/WeDPR-Component/control"
	"github.com/cyjseagull/WeDPR-Component/errcodes"
	"github.com/cyjseagull/WeDPR-Component/task"
)

// Client calls the task control service of a model node
type Client struct {
	taskClient *control.TaskClient
	conn       *grpc.ClientConn
}

// GetNodeClient returns a client of the node at address
func GetNodeClient(address string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeRPCConnect, "can not connect node %s", address)
	}
	return &Client{taskClient: control.NewTaskClient(conn), conn: conn}, nil
}

// RunTask submits a task, params are handed to the task handler as is
func (c *Client) RunTask(ctx context.Context, taskID, taskType string, args *task.Args) error {
	data, err := json.Marshal(args)
	if err != nil {
		return errorx.NewCode(err, errcodes.ErrCodeEncoding, "failed to marshal task args")
	}
	_, err = c.taskClient.Run(ctx, &control.RunRequest{TaskID: taskID, TaskType: taskType, Args: data})
	return err
}

// KillJob kills every task of jobID
func (c *Client) KillJob(ctx context.Context, jobID string) error {
	_, err := c.taskClient.Kill(ctx, &control.KillRequest{JobID: jobID})
	return err
}

// KillTask kills a single task
func (c *Client) KillTask(ctx context.Context, taskID string) error {
	_, err := c.taskClient.Kill(ctx, &control.KillRequest{TaskID: taskID})
	return err
}

// Status returns the status and the exec result of a task
func (c *Client) Status(ctx context.Context, taskID string) (task.Status, string, error) {
	out, err := c.taskClient.Status(ctx, &control.StatusRequest{TaskID: taskID})
	if err != nil {
		return "", "", err
	}
	return task.Status(out.Status), out.ExecResult, nil
}

// Log returns the uploaded log of a job
func (c *Client) Log(ctx context.Context, jobID, user string) (*control.LogResponse, error) {
	return c.taskClient.Log(ctx, &control.LogRequest{JobID: jobID, User: user})
}

// Close closes the connection
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
