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

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
)

// Peer is one remote node
type Peer struct {
	// host of peer, like 127.0.0.1:8080
	address  string
	dialOpts []grpc.DialOption
	grpcConn *grpc.ClientConn
	lock     sync.Mutex
}

// Address returns peer address
func (p *Peer) Address() string {
	return p.address
}

// GetConnect returns the cached connection, dialing again when it is broken
func (p *Peer) GetConnect() (*grpc.ClientConn, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.needReconnect() {
		if err := p.getConn(); err != nil {
			return nil, err
		}
	}
	return p.grpcConn, nil
}

// needReconnect reports connections in TRANSIENT_FAILURE or SHUTDOWN
func (p *Peer) needReconnect() bool {
	if p.grpcConn == nil {
		return true
	}
	switch p.grpcConn.GetState() {
	case connectivity.TransientFailure, connectivity.Shutdown:
		return true
	}
	return false
}

func (p *Peer) getConn() error {
	if p.grpcConn != nil {
		p.grpcConn.Close()
	}
	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, p.dialOpts...)
	conn, err := grpc.NewClient(p.address, opts...)
	if err != nil {
		logger.WithField("address", p.address).WithError(err).Warn("failed to connect server")
		return errorx.NewCode(err, errcodes.ErrCodeRPCConnect, "failed to connect %s", p.address)
	}
	p.grpcConn = conn
	return nil
}

func (p *Peer) closeConn() {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.grpcConn != nil {
		p.grpcConn.Close()
		p.grpcConn = nil
	}
}

func newPeer(address string, dialOpts []grpc.DialOption) *Peer {
	return &Peer{
		address:  address,
		dialOpts: dialOpts,
	}
}
