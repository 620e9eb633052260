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

// Package router binds a task to one node of every participant agency.
//
// A task starts UNCONNECTED. Handshake sends an empty message to a node of
// every other participant and records the node of each handshake received,
// the task is CONNECTED once every other participant has been recorded.
// Application messages are only routed for connected participants.
package router

import (
	"context"
	"sync"
	"time"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
	"github.com/cyjseagull/WeDPR-Component/metrics"
	"github.com/cyjseagull/WeDPR-Component/transport"
)

var logger = logrus.WithField("module", "router")

const (
	DefaultHandshakeTimeout = 5 * time.Minute

	// upper bound of one handshake pop, the task status is checked in between
	handshakePopStep = time.Second
)

// Router keeps the node selected for every participant of every task
type Router struct {
	transport        *transport.ModelTransport
	handshakeTimeout time.Duration

	lock    sync.RWMutex
	entries map[string]map[string]string // task id -> agency -> node id
}

// New creates a Router
func New(t *transport.ModelTransport, handshakeTimeout time.Duration) *Router {
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}
	return &Router{
		transport:        t,
		handshakeTimeout: handshakeTimeout,
		entries:          make(map[string]map[string]string),
	}
}

func (r *Router) peersOf(participants []string) map[string]struct{} {
	self := r.transport.Agency()
	peers := make(map[string]struct{})
	for _, p := range participants {
		if p != self {
			peers[p] = struct{}{}
		}
	}
	return peers
}

// Handshake blocks until every participant but self is bound to a node
func (r *Router) Handshake(ctx context.Context, taskID string, participants []string) error {
	start := time.Now()
	l := logger.WithField("task_id", taskID)
	peers := r.peersOf(participants)

	r.transport.RegisterHandshake(taskID)
	r.lock.Lock()
	if _, ok := r.entries[taskID]; !ok {
		r.entries[taskID] = make(map[string]string)
	}
	r.lock.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for p := range peers {
		agency := p
		g.Go(func() error {
			node, err := r.transport.SelectNode(agency)
			if err != nil {
				return errorx.NewCode(err, errcodes.ErrCodeNoRouteToParticipant,
					"no route to participant %s", agency)
			}
			if err := r.transport.PushHandshake(gctx, taskID, node); err != nil {
				return errorx.NewCode(err, errcodes.ErrCodeHandshake,
					"failed to send handshake to %s of %s", node, agency)
			}
			l.WithFields(logrus.Fields{"agency": agency, "node": node}).Debug("handshake sent")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	deadline := start.Add(r.handshakeTimeout)
	for !r.Connected(taskID, participants) {
		if r.transport.TaskFinished(taskID) {
			return errorx.New(errcodes.ErrCodeHandshake, "task %s finished during handshake", taskID)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errorx.New(errcodes.ErrCodeHandshake, "handshake of task %s timeout, connected %d of %d",
				taskID, r.connectedCount(taskID), len(peers))
		}
		if remaining > handshakePopStep {
			remaining = handshakePopStep
		}
		msg, err := r.transport.PopHandshake(ctx, taskID, remaining)
		if err != nil {
			return err
		}
		if msg == nil {
			continue
		}
		if _, ok := peers[msg.SrcAgency]; !ok {
			l.WithField("agency", msg.SrcAgency).Warn("ignore handshake of a non participant")
			continue
		}
		r.record(taskID, msg.SrcAgency, msg.SrcNode)
	}

	metrics.RecordHandshake(time.Since(start))
	l.WithField("participants", participants).Infof("handshake finished, timecost: %v", time.Since(start))
	return nil
}

func (r *Router) record(taskID, agency, node string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	entry, ok := r.entries[taskID]
	if !ok {
		// the task has been finished concurrently
		return
	}
	if old, ok := entry[agency]; ok && old != node {
		logger.WithFields(logrus.Fields{
			"task_id": taskID,
			"agency":  agency,
		}).Warnf("keep node %s, ignore handshake from %s", old, node)
		return
	}
	entry[agency] = node
}

func (r *Router) connectedCount(taskID string) int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.entries[taskID])
}

// Connected reports whether every participant but self is bound for taskID
func (r *Router) Connected(taskID string, participants []string) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()
	entry, ok := r.entries[taskID]
	if !ok {
		return false
	}
	for p := range r.peersOf(participants) {
		if _, ok := entry[p]; !ok {
			return false
		}
	}
	return true
}

func (r *Router) nodeOf(taskID, agency string) (string, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	node, ok := r.entries[taskID][agency]
	if !ok {
		return "", errorx.New(errcodes.ErrCodeNoRouteToParticipant,
			"no route to %s for task %s", agency, taskID)
	}
	return node, nil
}

// Push sends payload of kind to the node bound to dstAgency
func (r *Router) Push(ctx context.Context, taskID, kind, dstAgency string, payload []byte) error {
	node, err := r.nodeOf(taskID, dstAgency)
	if err != nil {
		return err
	}
	return r.transport.PushByNodeID(ctx, taskID, kind, node, payload, 0)
}

// Pop waits for the payload of kind sent by srcAgency
func (r *Router) Pop(ctx context.Context, taskID, kind, srcAgency string) ([]byte, error) {
	if _, err := r.nodeOf(taskID, srcAgency); err != nil {
		return nil, err
	}
	msg, err := r.transport.Pop(ctx, taskID, kind, srcAgency)
	if err != nil {
		return nil, err
	}
	return msg.Payload, nil
}

// OnTaskFinish releases everything bound to taskID, calling it again is a no-op
func (r *Router) OnTaskFinish(taskID string) {
	r.transport.UnregisterHandshake(taskID)
	r.transport.ReleaseTask(taskID)

	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.entries[taskID]; ok {
		delete(r.entries, taskID)
		logger.WithField("task_id", taskID).Info("router entry released")
	}
}
