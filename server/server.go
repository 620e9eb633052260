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

package server

import (
	"context"
	"net"
	"time"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/cyjseagull/WeDPR-Component/config"
	"github.com/cyjseagull/WeDPR-Component/errcodes"
)

const (
	// MaxRecvMsgSize max message size
	MaxRecvMsgSize = 1024 * 1024 * 1024
	// MaxConcurrentStreams max concurrent
	MaxConcurrentStreams = 1000
	// GRPCTIMEOUT grpc timeout
	GRPCTIMEOUT = 20
)

var (
	logger = logrus.WithField("module", "server")
)

// Server serves the transport and the task control service over gRPC
type Server struct {
	listenAddr string
	GrpcServer *grpc.Server
}

// New creates a gRPC server which has no service registered and has not
// started to accept requests yet
func New(conf *config.NodeConf) (*Server, error) {
	if conf.ListenAddress == "" {
		return nil, errorx.New(errcodes.ErrCodeConfig, "missing listen address")
	}
	ser := grpc.NewServer(grpc.MaxRecvMsgSize(MaxRecvMsgSize), grpc.MaxSendMsgSize(MaxRecvMsgSize),
		grpc.MaxConcurrentStreams(MaxConcurrentStreams), grpc.ConnectionTimeout(time.Second*time.Duration(GRPCTIMEOUT)))
	return &Server{
		listenAddr: conf.ListenAddress,
		GrpcServer: ser,
	}, nil
}

// Serve runs Server and blocks current routine
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.StartGrpcServe(ctx)
	}()

	// interrupt signal, gracefully shuts down the server
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return <-errCh
}

// StartGrpcServe runs GrpcServer, blocks until Stop
func (s *Server) StartGrpcServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		logger.WithError(err).Errorf("listen tcp error: %v", err)
		return err
	}
	return s.serveListener(ctx, lis)
}

func (s *Server) serveListener(ctx context.Context, lis net.Listener) error {
	logger.WithField("address", lis.Addr().String()).Info("grpc server started")
	if err := s.GrpcServer.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		logger.WithError(err).Errorf("failed to start grpc serve: %v", err)
		return err
	}
	return ctx.Err()
}

// Stop stops the gRPC server
func (s *Server) Stop() {
	if s.GrpcServer != nil {
		s.GrpcServer.GracefulStop()
	}
}
