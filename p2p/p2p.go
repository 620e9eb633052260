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

package p2p

import (
	"sync"
	"sync/atomic"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
)

var logger = logrus.WithField("module", "p2p")

// State is the state of the P2P
type State uint32

const (
	// NEW indicates that the P2P is new and ready for providing service
	NEW State = iota

	// CLOSED indicates that the P2P has been closed
	CLOSED
)

// P2P keeps one lazily dialed gRPC connection per remote address
type P2P struct {
	peers    sync.Map       // key is 'ip:port', and value is '*Peer'
	state    uint32         // State
	wg       sync.WaitGroup // for waiting all borrowed peers when get stop signal
	dialOpts []grpc.DialOption
}

// NewP2P creates P2P instance, dialOpts are applied to every connection
func NewP2P(dialOpts []grpc.DialOption, addrs ...string) *P2P {
	p := &P2P{
		state:    uint32(NEW),
		dialOpts: dialOpts,
	}
	for _, a := range addrs {
		p.peers.Store(a, newPeer(a, dialOpts))
	}
	return p
}

// Stop stops p2p, and closes all the grpc connection
func (p *P2P) Stop() {
	if !atomic.CompareAndSwapUint32(&p.state, uint32(NEW), uint32(CLOSED)) {
		return
	}

	logger.Info("start to shut down P2P, waiting for borrowed peers")
	p.wg.Wait()

	p.peers.Range(func(k, v interface{}) bool {
		v.(*Peer).closeConn()
		return true
	})
}

// GetPeer borrows the peer of address, callers must call FreePeer when done
func (p *P2P) GetPeer(address string) (*Peer, error) {
	if State(atomic.LoadUint32(&p.state)) == CLOSED {
		return nil, errorx.New(errcodes.ErrCodeRPCConnect, "p2p service closed")
	}
	peer, _ := p.peers.LoadOrStore(address, newPeer(address, p.dialOpts))

	p.wg.Add(1)
	return peer.(*Peer), nil
}

// FreePeer frees a peer
func (p *P2P) FreePeer() {
	p.wg.Done()
}
