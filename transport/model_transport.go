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

	"github.com/cyjseagull/WeDPR-Component/errcodes"
)

const (
	DefaultComponent    = "MODEL"
	DefaultSendTimeout  = 5000 * time.Millisecond
	DefaultPopTimeout   = 60000 * time.Millisecond
	DefaultPollInterval = 40 * time.Millisecond
)

// TaskFinishedFunc reports whether a task reached a terminal status
type TaskFinishedFunc func(taskID string) bool

// ModelTransportConf configures a ModelTransport, zero values select the defaults
type ModelTransportConf struct {
	Component    string
	SendTimeout  time.Duration
	PopTimeout   time.Duration
	PollInterval time.Duration
}

// ModelTransport builds task scoped topics on top of a Transport and keeps
// waiting for messages as long as the owning task is alive
type ModelTransport struct {
	transport    Transport
	agency       string
	component    string
	sendTimeout  time.Duration
	popTimeout   time.Duration
	pollInterval time.Duration
	taskFinished TaskFinishedFunc
}

// NewModelTransport creates a ModelTransport
func NewModelTransport(t Transport, conf ModelTransportConf, finished TaskFinishedFunc) *ModelTransport {
	agency, _ := t.Self()
	m := &ModelTransport{
		transport:    t,
		agency:       agency,
		component:    conf.Component,
		sendTimeout:  conf.SendTimeout,
		popTimeout:   conf.PopTimeout,
		pollInterval: conf.PollInterval,
		taskFinished: finished,
	}
	if m.component == "" {
		m.component = DefaultComponent
	}
	if m.sendTimeout <= 0 {
		m.sendTimeout = DefaultSendTimeout
	}
	if m.popTimeout <= 0 {
		m.popTimeout = DefaultPopTimeout
	}
	if m.pollInterval <= 0 {
		m.pollInterval = DefaultPollInterval
	}
	return m
}

// Agency returns the local agency id
func (m *ModelTransport) Agency() string {
	return m.agency
}

// PushByNodeID sends payload of kind to dstNode
func (m *ModelTransport) PushByNodeID(ctx context.Context, taskID, kind, dstNode string, payload []byte, seq int64) error {
	topic := AgencyTopic(m.agency, taskID, kind)
	if err := m.transport.Push(ctx, topic, dstNode, payload, seq, m.sendTimeout); err != nil {
		logger.WithFields(logrus.Fields{
			"task_id": taskID,
			"topic":   topic,
			"dst":     dstNode,
		}).WithError(err).Warn("failed to push message")
		return err
	}
	return nil
}

// Pop waits for the next message of kind sent by srcAgency
func (m *ModelTransport) Pop(ctx context.Context, taskID, kind, srcAgency string) (*Message, error) {
	topic := AgencyTopic(srcAgency, taskID, kind)
	return m.popLoop(ctx, taskID, topic)
}

func (m *ModelTransport) popLoop(ctx context.Context, taskID, topic string) (*Message, error) {
	for !m.taskFinished(taskID) {
		msg, err := m.transport.Pop(ctx, topic, m.popTimeout)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}
		select {
		case <-ctx.Done():
			return nil, errorx.NewCode(ctx.Err(), errcodes.ErrCodeTaskKilled, "task %s killed", taskID)
		case <-time.After(m.pollInterval):
		}
	}
	return nil, errorx.New(errcodes.ErrCodeMessageNotDelivered,
		"message of %s not delivered, task %s finished", topic, taskID)
}

// SelectNode resolves one node of agency serving the model component
func (m *ModelTransport) SelectNode(agency string) (string, error) {
	return m.transport.SelectNodeByRoutePolicy(Route{
		Type:      RouteThroughComponent,
		Agency:    agency,
		Component: m.component,
	})
}

// RegisterHandshake makes sure early handshakes of taskID are kept
func (m *ModelTransport) RegisterHandshake(taskID string) {
	m.transport.RegisterTopic(HandshakeTopic(taskID))
}

// PushHandshake sends an empty handshake message to dstNode
func (m *ModelTransport) PushHandshake(ctx context.Context, taskID, dstNode string) error {
	return m.transport.Push(ctx, HandshakeTopic(taskID), dstNode, nil, 0, m.sendTimeout)
}

// PopHandshake waits at most timeout for a handshake message, nil on timeout
func (m *ModelTransport) PopHandshake(ctx context.Context, taskID string, timeout time.Duration) (*Message, error) {
	return m.transport.Pop(ctx, HandshakeTopic(taskID), timeout)
}

// UnregisterHandshake drops the handshake topic of taskID
func (m *ModelTransport) UnregisterHandshake(taskID string) {
	m.transport.UnregisterTopic(HandshakeTopic(taskID))
}

// TaskFinished reports whether taskID is no longer running
func (m *ModelTransport) TaskFinished(taskID string) bool {
	return m.taskFinished(taskID)
}

// PollInterval is the sleep between two empty pops
func (m *ModelTransport) PollInterval() time.Duration {
	return m.pollInterval
}

// ReleaseTask drops every queue of taskID, including the ones filled by
// messages that were never popped
func (m *ModelTransport) ReleaseTask(taskID string) {
	m.transport.ReleaseTask(taskID)
}
