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

// Package phe defines the additive homomorphic cipher capability used to exchange
// gradient statistics, with two interchangeable families:
//   - paillier: public key scheme, anyone holding the public key may add ciphertexts
//   - ihc: lightweight linear recurrence scheme, addition only needs the key length
package phe

import (
	"math/big"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
)

// Family names a cipher family on the wire
type Family string

const (
	FamilyPaillier Family = "paillier"
	FamilyIHC      Family = "ihc"
)

const (
	DefaultPaillierPrimeLength = 512
	DefaultIHCKeyLength        = 256
	DefaultIHCIterRound        = 16
)

// Ciphertext is an opaque ciphertext of one family.
// A nil Ciphertext stands for an encryption of zero.
type Ciphertext interface {
	Bytes() []byte
}

// Evaluator performs homomorphic operations with public parameters only
type Evaluator interface {
	Family() Family
	// Add returns a ciphertext of the sum of both plaintexts
	Add(a, b Ciphertext) (Ciphertext, error)
	// MulScalar returns a ciphertext of the plaintext multiplied by k
	MulScalar(c Ciphertext, k *big.Int) (Ciphertext, error)
	// MarshalPublic encodes the public parameters, see ParseEvaluator
	MarshalPublic() []byte
	DecodeCiphertext(data []byte) (Ciphertext, error)
}

// Cipher is an Evaluator holding the secret key
type Cipher interface {
	Evaluator
	Encrypt(m *big.Int) (Ciphertext, error)
	Decrypt(c Ciphertext) (*big.Int, error)
}

// New creates a cipher with a fresh key. keyLength is the prime length for paillier
// and the modulus bit length for ihc, zero values select the defaults
func New(family Family, keyLength, iterRound int) (Cipher, error) {
	switch family {
	case FamilyPaillier:
		if keyLength <= 0 {
			keyLength = DefaultPaillierPrimeLength
		}
		return NewPaillier(keyLength)
	case FamilyIHC:
		if keyLength <= 0 {
			keyLength = DefaultIHCKeyLength
		}
		if iterRound <= 0 {
			iterRound = DefaultIHCIterRound
		}
		return NewIHC(keyLength, iterRound)
	}
	return nil, errorx.New(errcodes.ErrCodeConfig, "unsupported cipher family: %s", family)
}

// ParseEvaluator rebuilds the evaluator of a remote cipher from its public parameters
func ParseEvaluator(family Family, public []byte) (Evaluator, error) {
	switch family {
	case FamilyPaillier:
		return parsePaillierEvaluator(public)
	case FamilyIHC:
		return parseIHCEvaluator(public)
	}
	return nil, errorx.New(errcodes.ErrCodeEncoding, "unsupported cipher family: %s", family)
}

// SumAll folds Add over cs, an empty input gives nil
func SumAll(ev Evaluator, cs ...Ciphertext) (Ciphertext, error) {
	var sum Ciphertext
	for _, c := range cs {
		var err error
		if sum, err = ev.Add(sum, c); err != nil {
			return nil, err
		}
	}
	return sum, nil
}
