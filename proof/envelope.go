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
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	uuid "github.com/kthomas/go.uuid"
	"github.com/provideplatform/xchain/common"
)

// Envelope is an addressed message carrying a proof bound to its payload; it is
// immutable once built and all accessors return copies
type Envelope struct {
	id              uuid.UUID
	sender          string
	target          string
	payload         []byte
	proof           []byte
	payloadDigest   []byte
	sequence        uint64
	createdAt       time.Time
	signature       []byte
	signerPublicKey []byte
}

// ID of the envelope
func (e *Envelope) ID() uuid.UUID {
	return e.id
}

// Sender chain partition
func (e *Envelope) Sender() string {
	return e.sender
}

// Target chain partition
func (e *Envelope) Target() string {
	return e.target
}

// Payload returns a copy of the payload bytes
func (e *Envelope) Payload() []byte {
	return common.CopyBytes(e.payload)
}

// Proof returns a copy of the opaque proof bytes
func (e *Envelope) Proof() []byte {
	return common.CopyBytes(e.proof)
}

// PayloadDigest returns a copy of the digest the proof is bound to
func (e *Envelope) PayloadDigest() []byte {
	return common.CopyBytes(e.payloadDigest)
}

// Sequence number unique per sender and target
func (e *Envelope) Sequence() uint64 {
	return e.sequence
}

// CreatedAt timestamp
func (e *Envelope) CreatedAt() time.Time {
	return e.createdAt
}

// Signature returns a copy of the signature over the canonical header
func (e *Envelope) Signature() []byte {
	return common.CopyBytes(e.signature)
}

// SignerPublicKey returns a copy of the public key of the signer
func (e *Envelope) SignerPublicKey() []byte {
	return common.CopyBytes(e.signerPublicKey)
}

type envelopeHeader struct {
	ID            string `json:"id"`
	Sender        string `json:"sender"`
	Target        string `json:"target"`
	Sequence      uint64 `json:"sequence"`
	PayloadDigest string `json:"payload_digest"`
	ProofDigest   string `json:"proof_digest"`
	CreatedAt     int64  `json:"created_at"`
}

// Header returns the canonical header bytes covered by the signature
func (e *Envelope) Header() []byte {
	proofDigest := sha256.Sum256(e.proof)
	raw, _ := json.Marshal(&envelopeHeader{
		ID:            e.id.String(),
		Sender:        e.sender,
		Target:        e.target,
		Sequence:      e.sequence,
		PayloadDigest: hex.EncodeToString(e.payloadDigest),
		ProofDigest:   hex.EncodeToString(proofDigest[:]),
		CreatedAt:     e.createdAt.UnixNano(),
	})
	return raw
}

// Key identifies the envelope by sender, target and sequence
func (e *Envelope) Key() string {
	return fmt.Sprintf("%s.%s.%d", e.sender, e.target, e.sequence)
}

type envelopeJSON struct {
	ID              string    `json:"id"`
	Sender          string    `json:"sender"`
	Target          string    `json:"target"`
	Payload         []byte    `json:"payload"`
	Proof           []byte    `json:"proof"`
	PayloadDigest   []byte    `json:"payload_digest"`
	Sequence        uint64    `json:"sequence"`
	CreatedAt       time.Time `json:"created_at"`
	Signature       []byte    `json:"signature"`
	SignerPublicKey []byte    `json:"signer_public_key"`
}

// MarshalJSON implements json.Marshaler
func (e *Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(&envelopeJSON{
		ID:              e.id.String(),
		Sender:          e.sender,
		Target:          e.target,
		Payload:         e.payload,
		Proof:           e.proof,
		PayloadDigest:   e.payloadDigest,
		Sequence:        e.sequence,
		CreatedAt:       e.createdAt,
		Signature:       e.signature,
		SignerPublicKey: e.signerPublicKey,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (e *Envelope) UnmarshalJSON(raw []byte) error {
	var env envelopeJSON
	err := json.Unmarshal(raw, &env)
	if err != nil {
		return err
	}

	id, err := uuid.FromString(env.ID)
	if err != nil {
		return fmt.Errorf("failed to unmarshal envelope; invalid id; %s", err.Error())
	}

	e.id = id
	e.sender = env.Sender
	e.target = env.Target
	e.payload = env.Payload
	e.proof = env.Proof
	e.payloadDigest = env.PayloadDigest
	e.sequence = env.Sequence
	e.createdAt = env.CreatedAt
	e.signature = env.Signature
	e.signerPublicKey = env.SignerPublicKey
	return nil
}

// Verify checks the envelope carries a non-empty proof bound to the exact payload bytes
// and a valid signature over its header
func (e *Envelope) Verify(digester *Digester) error {
	if len(e.proof) == 0 {
		return common.NewError(common.KindProofEmpty, "envelope %s carries no proof", e.id).WithEnvelope(e.target, e.sequence)
	}

	digest, err := digester.Digest(e.payload)
	if err != nil {
		return err
	}
	if !bytes.Equal(digest, e.payloadDigest) {
		return fmt.Errorf("envelope %s proof is not bound to its payload; digest mismatch", e.id)
	}

	if !VerifySignature(e.signerPublicKey, e.Header(), e.signature) {
		return fmt.Errorf("envelope %s carries an invalid signature", e.id)
	}

	return nil
}
