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
	"sync"
	"sync/atomic"
	"time"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
	"github.com/cyjseagull/WeDPR-Component/metrics"
)

// MemoryHub connects MemoryTransports living in one process
type MemoryHub struct {
	lock  sync.RWMutex
	nodes map[string]*MemoryTransport
	table *PeerTable
}

// NewMemoryHub creates an empty hub
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		nodes: make(map[string]*MemoryTransport),
		table: NewPeerTable(),
	}
}

// Join attaches a new node of agency serving component to the hub
func (h *MemoryHub) Join(agency, component, nodeID string) *MemoryTransport {
	t := &MemoryTransport{
		hub:    h,
		agency: agency,
		nodeID: nodeID,
		box:    newMailbox(),
	}
	h.lock.Lock()
	h.nodes[nodeID] = t
	h.lock.Unlock()
	h.table.Add(&PeerNode{AgencyID: agency, NodeID: nodeID, Components: []string{component}})
	return t
}

// Leave detaches a node, later pushes to it fail
func (h *MemoryHub) Leave(nodeID string) {
	h.lock.Lock()
	delete(h.nodes, nodeID)
	h.lock.Unlock()
	h.table.Remove(nodeID)
}

func (h *MemoryHub) node(nodeID string) (*MemoryTransport, bool) {
	h.lock.RLock()
	defer h.lock.RUnlock()
	t, ok := h.nodes[nodeID]
	return t, ok
}

// MemoryTransport is a Transport delivering through a MemoryHub
type MemoryTransport struct {
	hub     *MemoryHub
	agency  string
	nodeID  string
	box     *mailbox
	stopped int32
}

func (t *MemoryTransport) Push(ctx context.Context, topic, dstNode string, payload []byte,
	seq int64, timeout time.Duration) error {
	if atomic.LoadInt32(&t.stopped) == 1 {
		return errorx.New(errcodes.ErrCodeSendTimeout, "transport stopped")
	}
	dst, ok := t.hub.node(dstNode)
	if !ok || atomic.LoadInt32(&dst.stopped) == 1 {
		return errorx.New(errcodes.ErrCodeSendTimeout, "node %s is not reachable", dstNode)
	}
	data := make([]byte, len(payload))
	copy(data, payload)
	dst.box.put(&Message{
		Topic:     topic,
		SrcAgency: t.agency,
		SrcNode:   t.nodeID,
		DstNode:   dstNode,
		Seq:       seq,
		Payload:   data,
	})
	metrics.RecordMessage(metrics.DirectionPush, len(payload))
	return nil
}

func (t *MemoryTransport) Pop(ctx context.Context, topic string, timeout time.Duration) (*Message, error) {
	msg, err := t.box.pop(ctx, topic, timeout)
	if msg != nil {
		metrics.RecordMessage(metrics.DirectionPop, len(msg.Payload))
	}
	return msg, err
}

func (t *MemoryTransport) SelectNodeByRoutePolicy(route Route) (string, error) {
	return t.hub.table.Select(route)
}

func (t *MemoryTransport) RegisterTopic(topic string) {
	t.box.register(topic)
}

func (t *MemoryTransport) UnregisterTopic(topic string) {
	t.box.unregister(topic)
}

func (t *MemoryTransport) ReleaseTask(taskID string) {
	t.box.release(taskID)
}

func (t *MemoryTransport) Self() (string, string) {
	return t.agency, t.nodeID
}

func (t *MemoryTransport) Stop() {
	atomic.StoreInt32(&t.stopped, 1)
}
