/*
 * Copyright 2017-2022 Provide Technologies Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package proof

import (
	"crypto/ed25519"
	"fmt"

	"github.com/provideplatform/xchain/common"
)

// Signer signs canonical envelope headers on behalf of the sender
type Signer interface {
	Sign(message []byte) ([]byte, error)
	PublicKey() []byte
}

// Ed25519Signer signs with an ed25519 private key
type Ed25519Signer struct {
	key ed25519.PrivateKey
}

// NewEd25519Signer returns a signer for the given 32-byte seed
func NewEd25519Signer(seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("failed to initialize ed25519 signer; seed must be %d bytes", ed25519.SeedSize)
	}
	return &Ed25519Signer{
		key: ed25519.NewKeyFromSeed(seed),
	}, nil
}

// GenerateEd25519Signer returns a signer for a random key
func GenerateEd25519Signer() (*Ed25519Signer, error) {
	seed, err := common.RandomBytes(ed25519.SeedSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 signer; %s", err.Error())
	}
	return NewEd25519Signer(seed)
}

// Sign the message
func (s *Ed25519Signer) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(s.key, message), nil
}

// PublicKey returns a copy of the public key
func (s *Ed25519Signer) PublicKey() []byte {
	return common.CopyBytes(s.key.Public().(ed25519.PublicKey))
}

// VerifySignature returns true if the signature over the message is valid for the
// ed25519 public key
func VerifySignature(publicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}
