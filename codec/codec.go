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

// Package codec packs gradient and hessian statistics and moves ciphertext
// vectors and matrices on the wire together with the public parameters needed
// to operate on them.
//
// Payload layout (protobuf wire format):
//
//	1: family        string
//	2: public        bytes
//	3: ciphertext    repeated bytes   (vector payloads)
//	4: row           repeated message (matrix payloads, each row uses field 1)
//
// An empty ciphertext entry stands for an encryption of zero.
package codec

import (
	"context"
	"math/big"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"
	"github.com/cjqpker/slidewindow"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
	"github.com/cyjseagull/WeDPR-Component/phe"
)

const (
	fieldFamily     protowire.Number = 1
	fieldPublic     protowire.Number = 2
	fieldCiphertext protowire.Number = 3
	fieldRow        protowire.Number = 4

	fieldRowItem protowire.Number = 1
)

// DefaultConcurrency bounds the number of parallel encryptions
var DefaultConcurrency uint64 = 8

// EncryptBatch encrypts values concurrently, the output keeps the input order
func EncryptBatch(ctx context.Context, c phe.Cipher, values []*big.Int) ([]phe.Ciphertext, error) {
	out := make([]phe.Ciphertext, len(values))
	err := window(ctx, len(values), func(i int) (interface{}, error) {
		return c.Encrypt(values[i])
	}, func(i int, v interface{}) {
		out[i], _ = v.(phe.Ciphertext)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DecryptBatch decrypts ciphertexts concurrently, the output keeps the input order
func DecryptBatch(ctx context.Context, c phe.Cipher, cts []phe.Ciphertext) ([]*big.Int, error) {
	out := make([]*big.Int, len(cts))
	err := window(ctx, len(cts), func(i int) (interface{}, error) {
		return c.Decrypt(cts[i])
	}, func(i int, v interface{}) {
		out[i], _ = v.(*big.Int)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func window(ctx context.Context, total int, task func(i int) (interface{}, error), done func(i int, v interface{})) error {
	if total == 0 {
		return nil
	}
	sw := slidewindow.SlideWindow{
		Total:       uint64(total),
		Concurrency: DefaultConcurrency,
	}
	sw.Init = func(ctx context.Context, s *slidewindow.Session) error {
		return nil
	}
	sw.Task = func(ctx context.Context, s *slidewindow.Session) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		v, err := task(int(s.Index()))
		if err != nil {
			return err
		}
		s.Set("value", v)
		return nil
	}
	sw.Done = func(ctx context.Context, s *slidewindow.Session) error {
		v, exist := s.Get("value")
		if !exist {
			return errorx.New(errcodes.ErrCodeInternal, "missing result of item %d", s.Index())
		}
		done(int(s.Index()), v)
		return nil
	}
	if err := sw.Start(ctx); err != nil {
		return errorx.Wrap(err, "batch crypto operation failed")
	}
	return nil
}

func appendHeader(b []byte, ev phe.Evaluator) []byte {
	b = protowire.AppendTag(b, fieldFamily, protowire.BytesType)
	b = protowire.AppendString(b, string(ev.Family()))
	b = protowire.AppendTag(b, fieldPublic, protowire.BytesType)
	return protowire.AppendBytes(b, ev.MarshalPublic())
}

func ciphertextBytes(c phe.Ciphertext) []byte {
	if c == nil {
		return nil
	}
	return c.Bytes()
}

// EncodeVector encodes a 1-D batch of ciphertexts
func EncodeVector(ev phe.Evaluator, cts []phe.Ciphertext) []byte {
	b := appendHeader(nil, ev)
	for _, c := range cts {
		b = protowire.AppendTag(b, fieldCiphertext, protowire.BytesType)
		b = protowire.AppendBytes(b, ciphertextBytes(c))
	}
	return b
}

// EncodeMatrix encodes a 2-D batch of ciphertexts, rows may differ in length
func EncodeMatrix(ev phe.Evaluator, rows [][]phe.Ciphertext) []byte {
	b := appendHeader(nil, ev)
	for _, row := range rows {
		var rb []byte
		for _, c := range row {
			rb = protowire.AppendTag(rb, fieldRowItem, protowire.BytesType)
			rb = protowire.AppendBytes(rb, ciphertextBytes(c))
		}
		b = protowire.AppendTag(b, fieldRow, protowire.BytesType)
		b = protowire.AppendBytes(b, rb)
	}
	return b
}

type rawPayload struct {
	family string
	public []byte
	items  [][]byte
	rows   [][][]byte
}

func parseError(n int) error {
	return errorx.NewCode(protowire.ParseError(n), errcodes.ErrCodeEncoding, "malformed ciphertext payload")
}

func parseItems(b []byte, field protowire.Number) ([][]byte, error) {
	var items [][]byte
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, parseError(n)
		}
		b = b[n:]
		if num == field && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, parseError(n)
			}
			items = append(items, v)
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return nil, parseError(n)
		}
		b = b[n:]
	}
	return items, nil
}

func parsePayload(b []byte) (*rawPayload, error) {
	p := &rawPayload{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, parseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, parseError(n)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, parseError(n)
		}
		b = b[n:]
		switch num {
		case fieldFamily:
			p.family = string(v)
		case fieldPublic:
			p.public = v
		case fieldCiphertext:
			p.items = append(p.items, v)
		case fieldRow:
			row, err := parseItems(v, fieldRowItem)
			if err != nil {
				return nil, err
			}
			p.rows = append(p.rows, row)
		}
	}
	if p.family == "" {
		return nil, errorx.New(errcodes.ErrCodeEncoding, "ciphertext payload without cipher family")
	}
	return p, nil
}

func decodeItems(ev phe.Evaluator, items [][]byte) ([]phe.Ciphertext, error) {
	out := make([]phe.Ciphertext, len(items))
	for i, item := range items {
		c, err := ev.DecodeCiphertext(item)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

// DecodeVector decodes a payload built by EncodeVector
func DecodeVector(data []byte) (phe.Evaluator, []phe.Ciphertext, error) {
	p, err := parsePayload(data)
	if err != nil {
		return nil, nil, err
	}
	ev, err := phe.ParseEvaluator(phe.Family(p.family), p.public)
	if err != nil {
		return nil, nil, err
	}
	cts, err := decodeItems(ev, p.items)
	if err != nil {
		return nil, nil, err
	}
	return ev, cts, nil
}

// DecodeMatrix decodes a payload built by EncodeMatrix
func DecodeMatrix(data []byte) (phe.Evaluator, [][]phe.Ciphertext, error) {
	p, err := parsePayload(data)
	if err != nil {
		return nil, nil, err
	}
	ev, err := phe.ParseEvaluator(phe.Family(p.family), p.public)
	if err != nil {
		return nil, nil, err
	}
	rows := make([][]phe.Ciphertext, len(p.rows))
	for i, row := range p.rows {
		if rows[i], err = decodeItems(ev, row); err != nil {
			return nil, nil, err
		}
	}
	return ev, rows, nil
}
