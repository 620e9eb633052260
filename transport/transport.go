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

// Package transport moves opaque payloads between nodes, addressed by topic.
//
// A topic names one logical queue on the receiving node. Messages pushed to a
// topic are kept in send order until the topic's consumer pops them or the
// topic is unregistered.
package transport

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("module", "transport")

// Message is one payload received on a topic
type Message struct {
	Topic     string
	SrcAgency string
	SrcNode   string
	DstNode   string
	Seq       int64
	Payload   []byte
}

// RouteType selects how SelectNodeByRoutePolicy resolves a node
type RouteType int

const (
	// RouteThroughNodeID requires the exact node id
	RouteThroughNodeID RouteType = iota
	// RouteThroughComponent picks any node of the agency serving the component
	RouteThroughComponent
)

// Route describes the destination resolved by SelectNodeByRoutePolicy
type Route struct {
	Type      RouteType
	Agency    string
	Component string
	NodeID    string
}

// Transport delivers payloads between nodes
type Transport interface {
	// Push sends payload to topic on dstNode, it fails with ErrCodeSendTimeout
	// when the channel does not accept the message within timeout
	Push(ctx context.Context, topic, dstNode string, payload []byte, seq int64, timeout time.Duration) error

	// Pop waits at most timeout for the next message of topic.
	// A plain timeout returns nil message and nil error.
	Pop(ctx context.Context, topic string, timeout time.Duration) (*Message, error)

	// SelectNodeByRoutePolicy resolves one node id able to serve route
	SelectNodeByRoutePolicy(route Route) (string, error)

	// RegisterTopic creates the queue of topic so that no message is missed
	RegisterTopic(topic string)

	// UnregisterTopic drops the queue of topic and its pending messages
	UnregisterTopic(topic string)

	// ReleaseTask drops every queue of taskID. Messages of the task arriving
	// later are reclaimed after a retention period unless one of its topics
	// is registered again.
	ReleaseTask(taskID string)

	// Self returns the agency and node id of the local node
	Self() (agency, nodeID string)

	Stop()
}
