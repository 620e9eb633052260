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

// Package symmetric protects model files at rest with AES-256-GCM.
// Every ciphertext carries its own random nonce as a prefix.
package symmetric

import (
	"crypto/rand"
	"io"
	"os"

	"github.com/PaddlePaddle/PaddleDTX/crypto/core/aes"
	"github.com/PaddlePaddle/PaddleDTX/crypto/core/hash"
	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
)

const (
	KeySize   = 32
	NonceSize = 12
)

// Key is a task local symmetric key, read-only after creation
type Key struct {
	raw []byte
}

// NewKey derives a 256 bit key from arbitrary key material
func NewKey(material []byte) (*Key, error) {
	if len(material) == 0 {
		return nil, errorx.New(errcodes.ErrCodeConfig, "empty key material")
	}
	if len(material) == KeySize {
		return &Key{raw: append([]byte(nil), material...)}, nil
	}
	return &Key{raw: hash.HashUsingSha256(material)}, nil
}

// LoadKey reads key material from file
func LoadKey(path string) (*Key, error) {
	material, err := os.ReadFile(path)
	if err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeConfig, "failed to read key file %s", path)
	}
	return NewKey(material)
}

// GenerateKeyFile writes 32 random bytes to path when it does not exist yet
func GenerateKeyFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	material := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, material); err != nil {
		return errorx.NewCode(err, errcodes.ErrCodeCrypto, "failed to generate key")
	}
	if err := os.WriteFile(path, material, 0600); err != nil {
		return errorx.NewCode(err, errcodes.ErrCodeConfig, "failed to write key file %s", path)
	}
	return nil
}

// Encrypt returns nonce || ciphertext
func (k *Key) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeCrypto, "failed to generate nonce")
	}
	out, err := aes.EncryptUsingAESGCM(aes.AESKey{Key: k.raw, Nonce: nonce}, plaintext, nonce)
	if err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeCrypto, "aes encryption failed")
	}
	return out, nil
}

// Decrypt reverses Encrypt
func (k *Key) Decrypt(data []byte) ([]byte, error) {
	if len(data) < NonceSize {
		return nil, errorx.New(errcodes.ErrCodeCrypto, "ciphertext too short")
	}
	nonce := data[:NonceSize]
	out, err := aes.DecryptUsingAESGCM(aes.AESKey{Key: k.raw, Nonce: nonce}, data[NonceSize:], nil)
	if err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeCrypto, "aes decryption failed")
	}
	return out, nil
}
