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

package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	uuid "github.com/kthomas/go.uuid"
	"github.com/provideplatform/xchain/common"
	"github.com/provideplatform/xchain/proof"
	"github.com/provideplatform/xchain/relay/providers/transport"
)

// ErrUnavailable is returned while the loopback transport simulates a connectivity failure
var ErrUnavailable = errors.New("loopback transport unavailable")

type delivery struct {
	envelopeID string
	key        string
	ack        *transport.Acknowledgment
}

// Transport is a loopback transport whose far side acts as the target chain: it verifies
// each envelope's proof binding and rejects a sequence already delivered by another envelope.
// Re-sending the same envelope returns the original handle
type Transport struct {
	mutex    sync.Mutex
	digester *proof.Digester

	deliveries map[string]*delivery
	handles    map[string]string
	accepted   map[string]string

	unavailable bool
	failSends   int
	hold        bool
	block       bool
	timeOuts    int
	sends       int
}

// InitTransport initializes a loopback transport
func InitTransport(digester *proof.Digester) *Transport {
	return &Transport{
		digester:   digester,
		deliveries: map[string]*delivery{},
		handles:    map[string]string{},
		accepted:   map[string]string{},
	}
}

// SetUnavailable toggles simulated connectivity failure for sends and acknowledgments
func (t *Transport) SetUnavailable(unavailable bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.unavailable = unavailable
}

// FailNextSends causes the next n sends to fail before reaching the remote
func (t *Transport) FailNextSends(n int) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.failSends = n
}

// HoldAcknowledgments causes acknowledgments to be reported pending until released
func (t *Transport) HoldAcknowledgments(hold bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.hold = hold
}

// BlockAcknowledgments causes acknowledgment waits to block until their context is done
func (t *Transport) BlockAcknowledgments(block bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.block = block
}

// TimeOutNextAcknowledgments causes the next n acknowledgment waits to report a remote timeout
func (t *Transport) TimeOutNextAcknowledgments(n int) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.timeOuts = n
}

// Sends returns the number of sends that reached the remote
func (t *Transport) Sends() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.sends
}

// Delivered returns true if the remote accepted an envelope for the key
func (t *Transport) Delivered(envelope *proof.Envelope) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.accepted[envelope.Key()] == envelope.ID().String()
}

// Send delivers the envelope to the loopback remote
func (t *Transport) Send(ctx context.Context, envelope *proof.Envelope) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", transport.NotSent(err)
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.unavailable {
		return "", transport.NotSent(ErrUnavailable)
	}
	if t.failSends > 0 {
		t.failSends--
		return "", transport.NotSent(fmt.Errorf("connection reset while sending envelope %s", envelope.ID()))
	}

	t.sends++
	envelopeID := envelope.ID().String()
	if handle, ok := t.handles[envelopeID]; ok {
		common.Log.Tracef("loopback remote received envelope %s again; handle: %s", envelopeID, handle)
		return handle, nil
	}

	handle, err := uuid.NewV4()
	if err != nil {
		return "", err
	}

	d := &delivery{
		envelopeID: envelopeID,
		key:        envelope.Key(),
		ack:        t.evaluate(envelope),
	}
	t.deliveries[handle.String()] = d
	t.handles[envelopeID] = handle.String()

	common.Log.Tracef("loopback remote received envelope %s; handle: %s; outcome: %s", envelopeID, handle, d.ack.Status)
	return handle.String(), nil
}

// evaluate decides the outcome of a first delivery of the envelope
func (t *Transport) evaluate(envelope *proof.Envelope) *transport.Acknowledgment {
	err := envelope.Verify(t.digester)
	if err != nil {
		return &transport.Acknowledgment{
			Status: transport.AcknowledgmentStatusRejected,
			Reason: fmt.Sprintf("%s: %s", transport.RejectionInvalidProof, err.Error()),
		}
	}

	key := envelope.Key()
	if _, ok := t.accepted[key]; ok {
		return &transport.Acknowledgment{
			Status: transport.AcknowledgmentStatusRejected,
			Reason: fmt.Sprintf("%s: %d", transport.RejectionDuplicateSequence, envelope.Sequence()),
		}
	}
	t.accepted[key] = envelope.ID().String()

	receipt, _ := json.Marshal(&transport.Receipt{
		EnvelopeID:    envelope.ID().String(),
		Sender:        envelope.Sender(),
		Target:        envelope.Target(),
		Sequence:      envelope.Sequence(),
		PayloadDigest: envelope.PayloadDigest(),
	})

	return &transport.Acknowledgment{
		Status:  transport.AcknowledgmentStatusAcknowledged,
		Receipt: receipt,
	}
}

// AwaitAcknowledgment reports the outcome of the delivery
func (t *Transport) AwaitAcknowledgment(ctx context.Context, handle string) (*transport.Acknowledgment, error) {
	t.mutex.Lock()
	block := t.block
	t.mutex.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.unavailable {
		return nil, ErrUnavailable
	}

	d, ok := t.deliveries[handle]
	if !ok {
		return nil, transport.ErrUnknownHandle
	}

	if t.timeOuts > 0 {
		t.timeOuts--
		return &transport.Acknowledgment{Status: transport.AcknowledgmentStatusTimedOut}, nil
	}
	if t.hold && d.ack.Status == transport.AcknowledgmentStatusAcknowledged {
		return &transport.Acknowledgment{Status: transport.AcknowledgmentStatusPending}, nil
	}

	ack := *d.ack
	ack.Receipt = common.CopyBytes(d.ack.Receipt)
	return &ack, nil
}
