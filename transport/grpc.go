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

package transport

import (
	"context"
	"time"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
	"github.com/cyjseagull/WeDPR-Component/metrics"
	"github.com/cyjseagull/WeDPR-Component/p2p"
)

const pushMethod = "/wedpr.model.Transport/Push"

type pushService interface {
	Push(ctx context.Context, in *pushRequest) (*pushResponse, error)
}

func pushHandler(srv interface{}, ctx context.Context, dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(pushRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(pushService).Push(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: pushMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(pushService).Push(ctx, req.(*pushRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var transportServiceDesc = grpc.ServiceDesc{
	ServiceName: "wedpr.model.Transport",
	HandlerType: (*pushService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Push",
			Handler:    pushHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "transport.proto",
}

// GRPCTransport delivers messages to the nodes of a static peer table over gRPC
type GRPCTransport struct {
	agency string
	nodeID string
	table  *PeerTable
	pool   *p2p.P2P
	box    *mailbox
}

// NewGRPCTransport creates the transport of node nodeID, peers are the reachable remote nodes
func NewGRPCTransport(agency, nodeID string, peers []*PeerNode) *GRPCTransport {
	var addrs []string
	for _, p := range peers {
		addrs = append(addrs, p.Address)
	}
	return &GRPCTransport{
		agency: agency,
		nodeID: nodeID,
		table:  NewPeerTable(peers...),
		pool:   p2p.NewP2P(nil, addrs...),
		box:    newMailbox(),
	}
}

// Register serves the push endpoint on s
func (t *GRPCTransport) Register(s *grpc.Server) {
	s.RegisterService(&transportServiceDesc, &transportServer{t: t})
}

type transportServer struct {
	t *GRPCTransport
}

func (s *transportServer) Push(ctx context.Context, in *pushRequest) (*pushResponse, error) {
	if in.Topic == "" {
		return nil, status.Error(codes.InvalidArgument, "empty topic")
	}
	if in.DstNode != "" && in.DstNode != s.t.nodeID {
		logger.WithFields(logrus.Fields{
			"topic": in.Topic,
			"dst":   in.DstNode,
		}).Warn("received message of another node")
	}
	msg := in.Message
	s.t.box.put(&msg)
	return &pushResponse{}, nil
}

func (t *GRPCTransport) Push(ctx context.Context, topic, dstNode string, payload []byte,
	seq int64, timeout time.Duration) error {
	req := &pushRequest{Message: Message{
		Topic:     topic,
		SrcAgency: t.agency,
		SrcNode:   t.nodeID,
		DstNode:   dstNode,
		Seq:       seq,
		Payload:   payload,
	}}
	defer metrics.RecordMessage(metrics.DirectionPush, len(payload))

	if dstNode == t.nodeID {
		msg := req.Message
		msg.Payload = append([]byte(nil), payload...)
		t.box.put(&msg)
		return nil
	}

	node, ok := t.table.Get(dstNode)
	if !ok {
		return errorx.New(errcodes.ErrCodeNoRouteToParticipant, "unknown node %s", dstNode)
	}
	peer, err := t.pool.GetPeer(node.Address)
	if err != nil {
		return err
	}
	defer t.pool.FreePeer()
	conn, err := peer.GetConnect()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err = conn.Invoke(ctx, pushMethod, req, &pushResponse{},
		grpc.CallContentSubtype(CodecName), grpc.WaitForReady(true))
	switch status.Code(err) {
	case codes.OK:
		return nil
	case codes.DeadlineExceeded:
		return errorx.NewCode(err, errcodes.ErrCodeSendTimeout, "push %s to %s timeout", topic, dstNode)
	case codes.Canceled:
		return errorx.NewCode(err, errcodes.ErrCodeTaskKilled, "push %s to %s canceled", topic, dstNode)
	}
	return errorx.NewCode(err, errcodes.ErrCodeRPCConnect, "failed to push %s to %s", topic, dstNode)
}

func (t *GRPCTransport) Pop(ctx context.Context, topic string, timeout time.Duration) (*Message, error) {
	msg, err := t.box.pop(ctx, topic, timeout)
	if msg != nil {
		metrics.RecordMessage(metrics.DirectionPop, len(msg.Payload))
	}
	return msg, err
}

func (t *GRPCTransport) SelectNodeByRoutePolicy(route Route) (string, error) {
	return t.table.Select(route)
}

func (t *GRPCTransport) RegisterTopic(topic string) {
	t.box.register(topic)
}

func (t *GRPCTransport) UnregisterTopic(topic string) {
	t.box.unregister(topic)
}

func (t *GRPCTransport) ReleaseTask(taskID string) {
	t.box.release(taskID)
}

func (t *GRPCTransport) Self() (string, string) {
	return t.agency, t.nodeID
}

// Stop closes the outgoing connections, the grpc server is stopped by its owner
func (t *GRPCTransport) Stop() {
	t.pool.Stop()
}
