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
	"sync"
	"sync/atomic"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
)

// PeerNode is one node known to the local node
type PeerNode struct {
	AgencyID   string
	NodeID     string
	Components []string
	Address    string
}

func (p *PeerNode) serves(component string) bool {
	for _, c := range p.Components {
		if c == component {
			return true
		}
	}
	return false
}

// PeerTable resolves routes over a set of nodes
type PeerTable struct {
	lock    sync.RWMutex
	nodes   []*PeerNode
	counter uint64
}

// NewPeerTable creates a peer table holding nodes
func NewPeerTable(nodes ...*PeerNode) *PeerTable {
	t := &PeerTable{}
	for _, n := range nodes {
		t.Add(n)
	}
	return t
}

// Add adds or replaces the node with the same node id
func (t *PeerTable) Add(node *PeerNode) {
	t.lock.Lock()
	defer t.lock.Unlock()
	for i, n := range t.nodes {
		if n.NodeID == node.NodeID {
			t.nodes[i] = node
			return
		}
	}
	t.nodes = append(t.nodes, node)
}

// Remove removes a node by id
func (t *PeerTable) Remove(nodeID string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	for i, n := range t.nodes {
		if n.NodeID == nodeID {
			t.nodes = append(t.nodes[:i], t.nodes[i+1:]...)
			return
		}
	}
}

// Get returns the node of nodeID
func (t *PeerTable) Get(nodeID string) (*PeerNode, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	for _, n := range t.nodes {
		if n.NodeID == nodeID {
			return n, true
		}
	}
	return nil, false
}

// Select resolves route, candidates of a component route are used in turn
func (t *PeerTable) Select(route Route) (string, error) {
	t.lock.RLock()
	defer t.lock.RUnlock()

	switch route.Type {
	case RouteThroughNodeID:
		for _, n := range t.nodes {
			if n.NodeID == route.NodeID && (route.Agency == "" || n.AgencyID == route.Agency) {
				return n.NodeID, nil
			}
		}
	case RouteThroughComponent:
		var candidates []*PeerNode
		for _, n := range t.nodes {
			if n.AgencyID == route.Agency && n.serves(route.Component) {
				candidates = append(candidates, n)
			}
		}
		if len(candidates) > 0 {
			i := atomic.AddUint64(&t.counter, 1) - 1
			return candidates[i%uint64(len(candidates))].NodeID, nil
		}
	default:
		return "", errorx.New(errcodes.ErrCodeParam, "unknown route type %d", route.Type)
	}
	return "", errorx.New(errcodes.ErrCodeNoRouteToParticipant,
		"no node of agency %s serves %s%s", route.Agency, route.Component, route.NodeID)
}
