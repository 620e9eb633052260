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

package phe

import (
	"crypto/rand"
	"encoding/binary"
	"math/big"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
)

// numberCodec maps signed integers into [0, 2^k).
// Values above 2^(k+1)/3 decode as negative.
type numberCodec struct {
	mod              *big.Int
	nonNegativeRange *big.Int
	negativeRange    *big.Int
}

func newNumberCodec(keyLength int) numberCodec {
	mod := new(big.Int).Lsh(big.NewInt(1), uint(keyLength))
	return numberCodec{
		mod:              mod,
		nonNegativeRange: new(big.Int).Div(mod, big.NewInt(3)),
		negativeRange:    new(big.Int).Div(new(big.Int).Lsh(mod, 1), big.NewInt(3)),
	}
}

func (n numberCodec) encode(v *big.Int) (*big.Int, error) {
	if v.Sign() > 0 && v.Cmp(n.nonNegativeRange) > 0 {
		return nil, errorx.New(errcodes.ErrCodeCrypto, "value out of range: %s", v.String())
	}
	return new(big.Int).Mod(v, n.mod), nil
}

func (n numberCodec) decode(v *big.Int) *big.Int {
	if v.Cmp(n.negativeRange) > 0 {
		return new(big.Int).Sub(v, n.mod)
	}
	return new(big.Int).Set(v)
}

// ihcCiphertext keeps the last two terms of the recurrence
type ihcCiphertext struct {
	left  *big.Int
	right *big.Int
}

// Bytes encodes both lengths as big endian uint32 followed by both integers
func (c *ihcCiphertext) Bytes() []byte {
	l, r := c.left.Bytes(), c.right.Bytes()
	out := make([]byte, 8, 8+len(l)+len(r))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(l)))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(r)))
	out = append(out, l...)
	return append(out, r...)
}

type ihcEvaluator struct {
	keyLength int
	codec     numberCodec
}

type ihcCipher struct {
	ihcEvaluator
	key       *big.Int
	iterRound int
}

// NewIHC generates a random key of keyLength bits
func NewIHC(keyLength, iterRound int) (Cipher, error) {
	ev := ihcEvaluator{keyLength: keyLength, codec: newNumberCodec(keyLength)}
	key, err := rand.Int(rand.Reader, ev.codec.mod)
	if err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeCrypto, "failed to generate ihc key")
	}
	return &ihcCipher{ihcEvaluator: ev, key: key, iterRound: iterRound}, nil
}

func parseIHCEvaluator(public []byte) (Evaluator, error) {
	if len(public) != 4 {
		return nil, errorx.New(errcodes.ErrCodeEncoding, "bad ihc public parameters")
	}
	keyLength := int(binary.BigEndian.Uint32(public))
	return &ihcEvaluator{keyLength: keyLength, codec: newNumberCodec(keyLength)}, nil
}

func (e *ihcEvaluator) Family() Family {
	return FamilyIHC
}

func (e *ihcEvaluator) cast(c Ciphertext) (*ihcCiphertext, error) {
	ic, ok := c.(*ihcCiphertext)
	if !ok {
		return nil, errorx.New(errcodes.ErrCodeCrypto, "not an ihc ciphertext: %T", c)
	}
	return ic, nil
}

func (e *ihcEvaluator) Add(a, b Ciphertext) (Ciphertext, error) {
	if a == nil {
		return b, nil
	}
	if b == nil {
		return a, nil
	}
	ia, err := e.cast(a)
	if err != nil {
		return nil, err
	}
	ib, err := e.cast(b)
	if err != nil {
		return nil, err
	}
	return &ihcCiphertext{
		left:  e.reduce(new(big.Int).Add(ia.left, ib.left)),
		right: e.reduce(new(big.Int).Add(ia.right, ib.right)),
	}, nil
}

func (e *ihcEvaluator) MulScalar(c Ciphertext, k *big.Int) (Ciphertext, error) {
	if c == nil {
		return nil, nil
	}
	ic, err := e.cast(c)
	if err != nil {
		return nil, err
	}
	kv, err := e.codec.encode(k)
	if err != nil {
		return nil, err
	}
	return &ihcCiphertext{
		left:  e.reduce(new(big.Int).Mul(ic.left, kv)),
		right: e.reduce(new(big.Int).Mul(ic.right, kv)),
	}, nil
}

func (e *ihcEvaluator) MarshalPublic() []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, uint32(e.keyLength))
	return out
}

func (e *ihcEvaluator) DecodeCiphertext(data []byte) (Ciphertext, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) < 8 {
		return nil, errorx.New(errcodes.ErrCodeEncoding, "ihc ciphertext too short")
	}
	ll := int(binary.BigEndian.Uint32(data[0:4]))
	rl := int(binary.BigEndian.Uint32(data[4:8]))
	if len(data) != 8+ll+rl {
		return nil, errorx.New(errcodes.ErrCodeEncoding, "ihc ciphertext length mismatch")
	}
	return &ihcCiphertext{
		left:  new(big.Int).SetBytes(data[8 : 8+ll]),
		right: new(big.Int).SetBytes(data[8+ll:]),
	}, nil
}

func (e *ihcEvaluator) reduce(v *big.Int) *big.Int {
	return v.Mod(v, e.codec.mod)
}

// Encrypt runs the recurrence x' = key*x - x_prev starting from (m, random)
func (c *ihcCipher) Encrypt(m *big.Int) (Ciphertext, error) {
	xThis, err := c.codec.encode(m)
	if err != nil {
		return nil, err
	}
	xLast, err := rand.Int(rand.Reader, c.codec.mod)
	if err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeCrypto, "failed to sample ihc randomness")
	}
	for i := 0; i < c.iterRound; i++ {
		xTmp := c.reduce(new(big.Int).Sub(new(big.Int).Mul(c.key, xThis), xLast))
		xLast, xThis = xThis, xTmp
	}
	return &ihcCiphertext{left: xThis, right: xLast}, nil
}

// Decrypt runs the recurrence backwards
func (c *ihcCipher) Decrypt(ct Ciphertext) (*big.Int, error) {
	if ct == nil {
		return big.NewInt(0), nil
	}
	ic, err := c.cast(ct)
	if err != nil {
		return nil, err
	}
	xThis := new(big.Int).Set(ic.right)
	xLast := new(big.Int).Set(ic.left)
	for i := 0; i < c.iterRound-1; i++ {
		xTmp := c.reduce(new(big.Int).Sub(new(big.Int).Mul(c.key, xThis), xLast))
		xLast, xThis = xThis, xTmp
	}
	return c.codec.decode(xThis), nil
}
