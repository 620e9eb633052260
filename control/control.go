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

// Package control defines the task control service of a model node. The
// messages are encoded in protobuf wire format by hand and travel with the
// transport codec.
package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/cyjseagull/WeDPR-Component/transport"
)

const ServiceName = "wedpr.model.Task"

// RunRequest launches a task, Args is the json of task.Args
type RunRequest struct {
	TaskID   string
	TaskType string
	Args     []byte
}

func (r *RunRequest) MarshalWire() []byte {
	var b []byte
	b = transport.AppendString(b, 1, r.TaskID)
	b = transport.AppendString(b, 2, r.TaskType)
	b = transport.AppendBytes(b, 3, r.Args)
	return b
}

func (r *RunRequest) UnmarshalWire(data []byte) error {
	return transport.WireFields(data, func(num protowire.Number, v uint64, raw []byte) error {
		switch num {
		case 1:
			r.TaskID = string(raw)
		case 2:
			r.TaskType = string(raw)
		case 3:
			r.Args = append([]byte(nil), raw...)
		}
		return nil
	})
}

type RunResponse struct{}

func (r *RunResponse) MarshalWire() []byte             { return nil }
func (r *RunResponse) UnmarshalWire(data []byte) error { return nil }

// KillRequest kills every task of JobID, or the single task TaskID when
// JobID is empty
type KillRequest struct {
	JobID  string
	TaskID string
}

func (r *KillRequest) MarshalWire() []byte {
	var b []byte
	b = transport.AppendString(b, 1, r.JobID)
	b = transport.AppendString(b, 2, r.TaskID)
	return b
}

func (r *KillRequest) UnmarshalWire(data []byte) error {
	return transport.WireFields(data, func(num protowire.Number, v uint64, raw []byte) error {
		switch num {
		case 1:
			r.JobID = string(raw)
		case 2:
			r.TaskID = string(raw)
		}
		return nil
	})
}

type KillResponse struct{}

func (r *KillResponse) MarshalWire() []byte             { return nil }
func (r *KillResponse) UnmarshalWire(data []byte) error { return nil }

type StatusRequest struct {
	TaskID string
}

func (r *StatusRequest) MarshalWire() []byte {
	return transport.AppendString(nil, 1, r.TaskID)
}

func (r *StatusRequest) UnmarshalWire(data []byte) error {
	return transport.WireFields(data, func(num protowire.Number, v uint64, raw []byte) error {
		if num == 1 {
			r.TaskID = string(raw)
		}
		return nil
	})
}

type StatusResponse struct {
	Status     string
	ExecResult string
}

func (r *StatusResponse) MarshalWire() []byte {
	var b []byte
	b = transport.AppendString(b, 1, r.Status)
	b = transport.AppendString(b, 2, r.ExecResult)
	return b
}

func (r *StatusResponse) UnmarshalWire(data []byte) error {
	return transport.WireFields(data, func(num protowire.Number, v uint64, raw []byte) error {
		switch num {
		case 1:
			r.Status = string(raw)
		case 2:
			r.ExecResult = string(raw)
		}
		return nil
	})
}

type LogRequest struct {
	JobID string
	User  string
}

func (r *LogRequest) MarshalWire() []byte {
	var b []byte
	b = transport.AppendString(b, 1, r.JobID)
	b = transport.AppendString(b, 2, r.User)
	return b
}

func (r *LogRequest) UnmarshalWire(data []byte) error {
	return transport.WireFields(data, func(num protowire.Number, v uint64, raw []byte) error {
		switch num {
		case 1:
			r.JobID = string(raw)
		case 2:
			r.User = string(raw)
		}
		return nil
	})
}

// LogResponse carries the log content only when it is small enough
type LogResponse struct {
	Size    int64
	Path    string
	Content string
}

func (r *LogResponse) MarshalWire() []byte {
	var b []byte
	b = transport.AppendVarint(b, 1, uint64(r.Size))
	b = transport.AppendString(b, 2, r.Path)
	b = transport.AppendString(b, 3, r.Content)
	return b
}

func (r *LogResponse) UnmarshalWire(data []byte) error {
	return transport.WireFields(data, func(num protowire.Number, v uint64, raw []byte) error {
		switch num {
		case 1:
			r.Size = int64(v)
		case 2:
			r.Path = string(raw)
		case 3:
			r.Content = string(raw)
		}
		return nil
	})
}

// TaskServer is implemented by the node engine
type TaskServer interface {
	Run(ctx context.Context, in *RunRequest) (*RunResponse, error)
	Kill(ctx context.Context, in *KillRequest) (*KillResponse, error)
	Status(ctx context.Context, in *StatusRequest) (*StatusResponse, error)
	Log(ctx context.Context, in *LogRequest) (*LogResponse, error)
}

type unaryFunc func(srv TaskServer, ctx context.Context, in interface{}) (interface{}, error)

func methodHandler(method string, newIn func() interface{}, call unaryFunc) func(interface{}, context.Context,
	func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error,
		interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := newIn()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TaskServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(TaskServer), ctx, req)
		}
		return interceptor(ctx, in, info, handler)
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TaskServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Run",
			Handler: methodHandler("Run", func() interface{} { return new(RunRequest) },
				func(srv TaskServer, ctx context.Context, in interface{}) (interface{}, error) {
					return srv.Run(ctx, in.(*RunRequest))
				}),
		},
		{
			MethodName: "Kill",
			Handler: methodHandler("Kill", func() interface{} { return new(KillRequest) },
				func(srv TaskServer, ctx context.Context, in interface{}) (interface{}, error) {
					return srv.Kill(ctx, in.(*KillRequest))
				}),
		},
		{
			MethodName: "Status",
			Handler: methodHandler("Status", func() interface{} { return new(StatusRequest) },
				func(srv TaskServer, ctx context.Context, in interface{}) (interface{}, error) {
					return srv.Status(ctx, in.(*StatusRequest))
				}),
		},
		{
			MethodName: "Log",
			Handler: methodHandler("Log", func() interface{} { return new(LogRequest) },
				func(srv TaskServer, ctx context.Context, in interface{}) (interface{}, error) {
					return srv.Log(ctx, in.(*LogRequest))
				}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "task.proto",
}

// RegisterTaskServer serves srv on s
func RegisterTaskServer(s *grpc.Server, srv TaskServer) {
	s.RegisterService(&serviceDesc, srv)
}

// TaskClient calls the control service of a node
type TaskClient struct {
	cc grpc.ClientConnInterface
}

func NewTaskClient(cc grpc.ClientConnInterface) *TaskClient {
	return &TaskClient{cc: cc}
}

func (c *TaskClient) invoke(ctx context.Context, method string, in, out transport.WireMessage) error {
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, grpc.CallContentSubtype(transport.CodecName))
}

func (c *TaskClient) Run(ctx context.Context, in *RunRequest) (*RunResponse, error) {
	out := new(RunResponse)
	if err := c.invoke(ctx, "Run", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TaskClient) Kill(ctx context.Context, in *KillRequest) (*KillResponse, error) {
	out := new(KillResponse)
	if err := c.invoke(ctx, "Kill", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TaskClient) Status(ctx context.Context, in *StatusRequest) (*StatusResponse, error) {
	out := new(StatusResponse)
	if err := c.invoke(ctx, "Status", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TaskClient) Log(ctx context.Context, in *LogRequest) (*LogResponse, error) {
	out := new(LogResponse)
	if err := c.invoke(ctx, "Log", in, out); err != nil {
		return nil, err
	}
	return out, nil
}
