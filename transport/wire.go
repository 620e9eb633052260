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
	"fmt"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protowire"
)

// CodecName is the gRPC content subtype of WireMessage payloads
const CodecName = "wedpr"

// WireMessage is a gRPC message encoded in protobuf wire format by hand
type WireMessage interface {
	MarshalWire() []byte
	UnmarshalWire(data []byte) error
}

type wireCodec struct{}

func (wireCodec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(WireMessage)
	if !ok {
		return nil, fmt.Errorf("failed to marshal, message is %T", v)
	}
	return m.MarshalWire(), nil
}

func (wireCodec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(WireMessage)
	if !ok {
		return fmt.Errorf("failed to unmarshal, message is %T", v)
	}
	return m.UnmarshalWire(data)
}

func (wireCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(wireCodec{})
}

// WireFields walks the top level fields of data, calling fn for each of them.
// varint holds the value of varint fields, raw the content of length delimited fields.
func WireFields(data []byte, fn func(num protowire.Number, varint uint64, raw []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := fn(num, v, nil); err != nil {
				return err
			}
			data = data[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := fn(num, 0, v); err != nil {
				return err
			}
			data = data[n:]
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

// AppendString appends a length delimited field, empty values are skipped
func AppendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// AppendBytes appends a length delimited field, empty values are skipped
func AppendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// AppendVarint appends a varint field, zero values are skipped
func AppendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// pushRequest carries one Message
type pushRequest struct {
	Message
}

func (r *pushRequest) MarshalWire() []byte {
	var b []byte
	b = AppendString(b, 1, r.Topic)
	b = AppendString(b, 2, r.SrcAgency)
	b = AppendString(b, 3, r.SrcNode)
	b = AppendString(b, 4, r.DstNode)
	b = AppendVarint(b, 5, protowire.EncodeZigZag(r.Seq))
	b = AppendBytes(b, 6, r.Payload)
	return b
}

func (r *pushRequest) UnmarshalWire(data []byte) error {
	return WireFields(data, func(num protowire.Number, v uint64, raw []byte) error {
		switch num {
		case 1:
			r.Topic = string(raw)
		case 2:
			r.SrcAgency = string(raw)
		case 3:
			r.SrcNode = string(raw)
		case 4:
			r.DstNode = string(raw)
		case 5:
			r.Seq = protowire.DecodeZigZag(v)
		case 6:
			r.Payload = append([]byte(nil), raw...)
		}
		return nil
	})
}

type pushResponse struct{}

func (r *pushResponse) MarshalWire() []byte { return nil }
func (r *pushResponse) UnmarshalWire(data []byte) error { return nil }
