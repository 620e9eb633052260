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
	"math/big"

	"github.com/PaddlePaddle/PaddleDTX/crypto/common/math/homomorphism/paillier"
	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
)

type paillierCiphertext struct {
	c *big.Int
}

func (p *paillierCiphertext) Bytes() []byte {
	return p.c.Bytes()
}

type paillierEvaluator struct {
	pk *paillier.PublicKey
}

type paillierCipher struct {
	paillierEvaluator
	sk *paillier.PrivateKey
}

// NewPaillier generates a paillier key pair whose primes have primeLength bits
func NewPaillier(primeLength int) (Cipher, error) {
	sk, err := paillier.GeneratePrivateKey(primeLength)
	if err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeCrypto, "failed to generate paillier key")
	}
	return &paillierCipher{
		paillierEvaluator: paillierEvaluator{pk: &sk.PublicKey},
		sk:                sk,
	}, nil
}

func parsePaillierEvaluator(public []byte) (Evaluator, error) {
	if len(public) == 0 {
		return nil, errorx.New(errcodes.ErrCodeEncoding, "empty paillier public key")
	}
	n := new(big.Int).SetBytes(public)
	return &paillierEvaluator{
		pk: &paillier.PublicKey{
			N: n,
			G: new(big.Int).Add(n, big.NewInt(1)),
		},
	}, nil
}

func (e *paillierEvaluator) Family() Family {
	return FamilyPaillier
}

func (e *paillierEvaluator) cast(c Ciphertext) (*paillierCiphertext, error) {
	pc, ok := c.(*paillierCiphertext)
	if !ok {
		return nil, errorx.New(errcodes.ErrCodeCrypto, "not a paillier ciphertext: %T", c)
	}
	return pc, nil
}

func (e *paillierEvaluator) Add(a, b Ciphertext) (Ciphertext, error) {
	if a == nil {
		return b, nil
	}
	if b == nil {
		return a, nil
	}
	pa, err := e.cast(a)
	if err != nil {
		return nil, err
	}
	pb, err := e.cast(b)
	if err != nil {
		return nil, err
	}
	return &paillierCiphertext{c: e.pk.CyphersAdd(pa.c, pb.c)}, nil
}

func (e *paillierEvaluator) MulScalar(c Ciphertext, k *big.Int) (Ciphertext, error) {
	if c == nil {
		return nil, nil
	}
	pc, err := e.cast(c)
	if err != nil {
		return nil, err
	}
	// negative scalars act as k mod N
	exp := new(big.Int).Mod(k, e.pk.N)
	return &paillierCiphertext{c: e.pk.CypherPlainMultiply(pc.c, exp)}, nil
}

func (e *paillierEvaluator) MarshalPublic() []byte {
	return e.pk.N.Bytes()
}

func (e *paillierEvaluator) DecodeCiphertext(data []byte) (Ciphertext, error) {
	if len(data) == 0 {
		return nil, nil
	}
	return &paillierCiphertext{c: new(big.Int).SetBytes(data)}, nil
}

func (p *paillierCipher) Encrypt(m *big.Int) (Ciphertext, error) {
	c, err := p.pk.EncryptSupNegNum(m)
	if err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeCrypto, "paillier encryption failed")
	}
	return &paillierCiphertext{c: c}, nil
}

func (p *paillierCipher) Decrypt(c Ciphertext) (*big.Int, error) {
	if c == nil {
		return big.NewInt(0), nil
	}
	pc, err := p.cast(c)
	if err != nil {
		return nil, err
	}
	return p.sk.DecryptSupNegNum(pc.c), nil
}
