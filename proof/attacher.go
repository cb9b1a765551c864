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
	"context"
	"fmt"
	"time"

	uuid "github.com/kthomas/go.uuid"
	"github.com/provideplatform/xchain/common"
	"github.com/provideplatform/xchain/proof/providers"
)

// Attacher builds signed envelopes binding opaque proofs to payloads
type Attacher struct {
	sender         string
	allocator      providers.SequenceAllocator
	signer         Signer
	digester       *Digester
	maxPayloadSize int
	clock          func() time.Time
}

// NewAttacher returns an attacher for the given sender using the configured payload
// size limit and digest curve
func NewAttacher(sender string, allocator providers.SequenceAllocator, signer Signer) (*Attacher, error) {
	digester, err := NewDigester(common.ProofDigestCurve)
	if err != nil {
		return nil, err
	}

	return &Attacher{
		sender:         sender,
		allocator:      allocator,
		signer:         signer,
		digester:       digester,
		maxPayloadSize: common.ProofMaxPayloadSize,
		clock:          time.Now,
	}, nil
}

// WithMaxPayloadSize overrides the maximum payload size
func (a *Attacher) WithMaxPayloadSize(size int) *Attacher {
	a.maxPayloadSize = size
	return a
}

// WithClock overrides the clock used for envelope timestamps
func (a *Attacher) WithClock(clock func() time.Time) *Attacher {
	a.clock = clock
	return a
}

// Sender returns the sender of built envelopes
func (a *Attacher) Sender() string {
	return a.sender
}

// Digester returns the payload digester
func (a *Attacher) Digester() *Digester {
	return a.digester
}

// BuildEnvelope validates the payload and proof, allocates the next sequence for the target
// and returns the signed envelope. Invalid input never consumes a sequence number
func (a *Attacher) BuildEnvelope(ctx context.Context, target string, payload, proof []byte) (*Envelope, error) {
	if target == "" {
		return nil, common.NewError(common.KindInvalidAddressFormat, "envelope target required")
	}
	if len(proof) == 0 {
		return nil, common.NewError(common.KindProofEmpty, "envelope proof required").WithEnvelope(target, 0)
	}
	if len(payload) > a.maxPayloadSize {
		return nil, common.NewError(common.KindPayloadTooLarge, "payload of %d bytes exceeds maximum of %d bytes", len(payload), a.maxPayloadSize).WithEnvelope(target, 0)
	}

	payload = common.CopyBytes(payload)
	proof = common.CopyBytes(proof)

	digest, err := a.digester.Digest(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to build envelope for %s; %s", target, err.Error())
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("failed to build envelope for %s; %s", target, err.Error())
	}

	seq, err := a.allocator.NextSequence(ctx, a.sender, target)
	if err != nil {
		return nil, common.Wrap(common.KindTransportUnavailable, err, "failed to allocate envelope sequence").WithEnvelope(target, 0)
	}

	envelope := &Envelope{
		id:            id,
		sender:        a.sender,
		target:        target,
		payload:       payload,
		proof:         proof,
		payloadDigest: digest,
		sequence:      seq,
		createdAt:     a.clock().UTC(),
	}

	signature, err := a.signer.Sign(envelope.Header())
	if err != nil {
		return nil, fmt.Errorf("failed to sign envelope %d for %s; %s", seq, target, err.Error())
	}
	envelope.signature = signature
	envelope.signerPublicKey = a.signer.PublicKey()

	common.Log.Debugf("built envelope %s for %s; sequence: %d; payload: %d bytes; proof: %d bytes", id, target, seq, len(payload), len(proof))
	return envelope, nil
}
