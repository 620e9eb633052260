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

package booster

import (
	"context"
	"encoding/binary"
	"math"
	"strings"
	"time"

	"github.com/PaddlePaddle/PaddleDTX/crypto/core/hash"
	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
	"github.com/cyjseagull/WeDPR-Component/transport"
)

// Router moves task scoped payloads between agencies
type Router interface {
	Push(ctx context.Context, taskID, kind, dstAgency string, payload []byte) error
	Pop(ctx context.Context, taskID, kind, srcAgency string) ([]byte, error)
}

// send pushes payload to one agency
func (b *VerticalBooster) send(ctx context.Context, kind, agency string, payload []byte) error {
	start := time.Now()
	if err := b.router.Push(ctx, b.ctx.TaskID, kind, agency, payload); err != nil {
		return errorx.Wrap(err, "failed to send %s to %s", kind, agency)
	}
	b.log.WithFields(logrus.Fields{"kind": kind, "agency": agency}).
		Debugf("sent %d bytes, timecost: %v", len(payload), time.Since(start))
	return nil
}

// broadcast pushes payload to every agency in agencies concurrently
func (b *VerticalBooster) broadcast(ctx context.Context, kind string, agencies []string, payload []byte) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range agencies {
		agency := a
		g.Go(func() error {
			return b.send(gctx, kind, agency, payload)
		})
	}
	return g.Wait()
}

// receive waits for the payload of kind from agency
func (b *VerticalBooster) receive(ctx context.Context, kind, agency string) ([]byte, error) {
	start := time.Now()
	payload, err := b.router.Pop(ctx, b.ctx.TaskID, kind, agency)
	if err != nil {
		return nil, errorx.Wrap(err, "failed to receive %s from %s", kind, agency)
	}
	b.log.WithFields(logrus.Fields{"kind": kind, "agency": agency}).
		Debugf("received %d bytes, timecost: %v", len(payload), time.Since(start))
	return payload, nil
}

// splitMessage tells the passive parties how a node is split
type splitMessage struct {
	Leaf  bool
	Split SplitInfo
}

func encodeSplit(m *splitMessage) []byte {
	var b []byte
	if m.Leaf {
		b = transport.AppendVarint(b, 1, 1)
	}
	b = transport.AppendVarint(b, 2, uint64(m.Split.TreeID))
	b = transport.AppendVarint(b, 3, uint64(m.Split.NodeID))
	b = transport.AppendVarint(b, 4, uint64(m.Split.AgencyIdx))
	b = transport.AppendVarint(b, 5, uint64(m.Split.AgencyFeature))
	b = transport.AppendVarint(b, 6, protowire.EncodeZigZag(int64(m.Split.Value)))
	b = transport.AppendVarint(b, 7, math.Float64bits(m.Split.Gain))
	return b
}

func decodeSplit(data []byte) (*splitMessage, error) {
	m := &splitMessage{}
	err := transport.WireFields(data, func(num protowire.Number, v uint64, raw []byte) error {
		switch num {
		case 1:
			m.Leaf = v != 0
		case 2:
			m.Split.TreeID = int(v)
		case 3:
			m.Split.NodeID = int(v)
		case 4:
			m.Split.AgencyIdx = int(v)
		case 5:
			m.Split.AgencyFeature = int(v)
		case 6:
			m.Split.Value = int(protowire.DecodeZigZag(v))
		case 7:
			m.Split.Gain = math.Float64frombits(v)
		}
		return nil
	})
	if err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeProtocol, "malformed split info")
	}
	return m, nil
}

func encodeFloats(values []float64) []byte {
	b := make([]byte, 8*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint64(b[8*i:], math.Float64bits(v))
	}
	return b
}

func decodeFloats(data []byte) ([]float64, error) {
	if len(data)%8 != 0 {
		return nil, errorx.New(errcodes.ErrCodeProtocol, "malformed float list of %d bytes", len(data))
	}
	values := make([]float64, len(data)/8)
	for i := range values {
		values[i] = math.Float64frombits(binary.BigEndian.Uint64(data[8*i:]))
	}
	return values, nil
}

// encodeNames encodes the feature names of a party
func encodeNames(names []string) []byte {
	var b []byte
	for _, n := range names {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, n)
	}
	return b
}

func decodeNames(data []byte) ([]string, error) {
	names := []string{}
	err := transport.WireFields(data, func(num protowire.Number, v uint64, raw []byte) error {
		if num == 1 {
			names = append(names, string(raw))
		}
		return nil
	})
	if err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeProtocol, "malformed feature names")
	}
	return names, nil
}

// instanceDigest binds the participant order and the sample order of the
// train and test sets, every party must compute the same digest
func instanceDigest(participants []string, trainIDs, testIDs []string) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, strings.Join(participants, "\x00"))
	for _, ids := range [][]string{trainIDs, testIDs} {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(len(ids)))
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, hash.HashUsingSha256([]byte(strings.Join(ids, "\x00"))))
	}
	return hash.HashUsingSha256(b)
}

func encodeFlag(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

func decodeFlag(data []byte) (bool, error) {
	if len(data) != 1 {
		return false, errorx.New(errcodes.ErrCodeProtocol, "malformed flag")
	}
	return data[0] == 1, nil
}

// checkMask verifies a received instance mask covers the node
func checkMask(mask []byte, n int) error {
	if len(mask) != n {
		return errorx.New(errcodes.ErrCodeProtocol, "mask of %d instances, expect %d", len(mask), n)
	}
	return nil
}
