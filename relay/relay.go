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

package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	uuid "github.com/kthomas/go.uuid"
	"github.com/provideplatform/xchain/common"
	"github.com/provideplatform/xchain/proof"
	"github.com/provideplatform/xchain/relay/providers"
	"github.com/provideplatform/xchain/relay/providers/transport"
)

// inflight tracks a delivery in progress so it can be cancelled
type inflight struct {
	cancel    context.CancelFunc
	cancelled bool
	done      chan struct{}
}

// Relay delivers envelopes to their target and owns the attempt history of every envelope
type Relay struct {
	transport   providers.Transport
	repository  Repository
	receipts    *ReceiptTree
	notifier    Notifier
	maxAttempts int
	clock       func() time.Time

	mutex    sync.Mutex
	locks    map[uuid.UUID]*sync.Mutex
	inflight map[uuid.UUID]*inflight
}

// NewRelay returns a relay delivering over the given transport
func NewRelay(transport providers.Transport, repository Repository) *Relay {
	return &Relay{
		transport:   transport,
		repository:  repository,
		receipts:    newReceiptTree(),
		maxAttempts: common.RelayMaxAttempts,
		clock:       time.Now,
		locks:       map[uuid.UUID]*sync.Mutex{},
		inflight:    map[uuid.UUID]*inflight{},
	}
}

// WithMaxAttempts overrides the maximum number of attempts per envelope
func (r *Relay) WithMaxAttempts(maxAttempts int) *Relay {
	r.maxAttempts = maxAttempts
	return r
}

// WithNotifier sets the notifier informed of acknowledged and abandoned attempts
func (r *Relay) WithNotifier(notifier Notifier) *Relay {
	r.notifier = notifier
	return r
}

// WithReceipts replaces the in-memory receipt tree, typically with one loaded from a
// receipt store by InitReceiptTree
func (r *Relay) WithReceipts(receipts *ReceiptTree) *Relay {
	r.receipts = receipts
	return r
}

// WithClock overrides the clock used for attempt timestamps
func (r *Relay) WithClock(clock func() time.Time) *Relay {
	r.clock = clock
	return r
}

// ReceiptsRoot returns the root of the acknowledged receipts tree
func (r *Relay) ReceiptsRoot() []byte {
	return r.receipts.Root()
}

// Delivered returns true if an acknowledged receipt for the envelope is committed
func (r *Relay) Delivered(envelope *proof.Envelope) bool {
	return r.receipts.Delivered(envelope)
}

func (r *Relay) envelopeLock(envelopeID uuid.UUID) *sync.Mutex {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	lock, ok := r.locks[envelopeID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[envelopeID] = lock
	}
	return lock
}

// lockAttempt loads the attempt and locks its envelope history; the attempt is reloaded
// under the lock so the caller sees its current state
func (r *Relay) lockAttempt(ctx context.Context, id uuid.UUID) (*Attempt, func(), error) {
	a, err := r.repository.Attempt(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	lock := r.envelopeLock(a.Envelope.ID())
	lock.Lock()

	a, err = r.repository.Attempt(ctx, id)
	if err != nil {
		lock.Unlock()
		return nil, nil, err
	}
	return a, lock.Unlock, nil
}

func (r *Relay) newAttempt(envelope *proof.Envelope, number int) (*Attempt, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("failed to create relay attempt for envelope %s; %s", envelope.ID(), err.Error())
	}

	now := r.clock()
	return &Attempt{
		ID:        id,
		Envelope:  envelope,
		Number:    number,
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func invalidTransition(a *Attempt, format string, args ...interface{}) error {
	return common.NewError(common.KindInvalidTransition, format, args...).
		WithEnvelope(a.Envelope.Target(), a.Envelope.Sequence()).
		WithAttempt(a.ID.String())
}

// transition moves the attempt to the next state and persists it; state changes are
// recorded even when the caller's context is done
func (r *Relay) transition(a *Attempt, next State, lastErr *AttemptError) error {
	if !a.State.CanTransitionTo(next) {
		return invalidTransition(a, "attempt %d cannot move from %s to %s", a.Number, a.State, next)
	}

	prev := a.State
	a.State = next
	if lastErr != nil {
		a.LastError = lastErr
	}
	a.UpdatedAt = r.clock()

	err := r.repository.Save(context.Background(), a)
	if err != nil {
		return err
	}

	common.Log.Debugf("relay attempt %d of envelope %s moved from %s to %s", a.Number, a.Envelope.Key(), prev, next)

	switch next {
	case StateAcknowledged:
		r.notify(natsRelayNotificationAcknowledged, a)
	case StateAbandoned:
		r.notify(natsRelayNotificationAbandoned, a)
	}
	return nil
}

func (r *Relay) notify(event string, a *Attempt) {
	if r.notifier == nil {
		return
	}
	err := r.notifier.Notify(event, a.copy())
	if err != nil {
		common.Log.Warningf("failed to dispatch %s notification for relay attempt %s; %s", event, a.ID, err.Error())
	}
}

// fail records the failure on the attempt and returns it as an error
func (r *Relay) fail(a *Attempt, kind common.ErrorKind, cause error, format string, args ...interface{}) error {
	e := common.Wrap(kind, cause, format, args...).
		WithEnvelope(a.Envelope.Target(), a.Envelope.Sequence()).
		WithAttempt(a.ID.String())

	msg := e.Message
	if cause != nil {
		msg = fmt.Sprintf("%s; %s", msg, cause.Error())
	}

	err := r.transition(a, StateFailed, &AttemptError{Kind: kind, Message: msg})
	if err != nil {
		return err
	}
	return e
}

// abandon moves a failed attempt to abandoned, keeping its recorded failure unless
// a new one is given
func (r *Relay) abandon(a *Attempt, lastErr *AttemptError) error {
	return r.transition(a, StateAbandoned, lastErr)
}

// Attempt returns the attempt with the given id
func (r *Relay) Attempt(ctx context.Context, id uuid.UUID) (*Attempt, error) {
	return r.repository.Attempt(ctx, id)
}

// Attempts returns the attempt history of the envelope ordered by attempt number
func (r *Relay) Attempts(ctx context.Context, envelopeID uuid.UUID) ([]*Attempt, error) {
	return r.repository.Attempts(ctx, envelopeID)
}

// Dispatch creates the first attempt for the envelope, sends it and waits for the outcome
// under the given context. The returned attempt reflects the outcome even when an error is
// returned. An envelope can only be dispatched once; later attempts are made with Retry
func (r *Relay) Dispatch(ctx context.Context, envelope *proof.Envelope) (*Attempt, error) {
	lock := r.envelopeLock(envelope.ID())
	lock.Lock()
	defer lock.Unlock()

	attempts, err := r.repository.Attempts(ctx, envelope.ID())
	if err != nil {
		return nil, err
	}
	if len(attempts) > 0 {
		latest := attempts[len(attempts)-1]
		return latest, invalidTransition(latest, "envelope %s already dispatched; attempt %d is %s", envelope.ID(), latest.Number, latest.State)
	}

	a, err := r.newAttempt(envelope, 1)
	if err != nil {
		return nil, err
	}

	err = r.repository.Save(ctx, a)
	if err != nil {
		return nil, err
	}

	common.Log.Debugf("dispatching envelope %s; attempt: %s", envelope.Key(), a.ID)
	err = r.deliver(ctx, a)
	return a.copy(), err
}

// Retry re-sends the envelope of the latest attempt when it failed with a transient error,
// creating the next attempt. When the maximum number of attempts is reached the failed
// attempt is abandoned instead
func (r *Relay) Retry(ctx context.Context, id uuid.UUID) (*Attempt, error) {
	a, unlock, err := r.lockAttempt(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	attempts, err := r.repository.Attempts(ctx, a.Envelope.ID())
	if err != nil {
		return nil, err
	}
	if latest := attempts[len(attempts)-1]; latest.ID != a.ID {
		return a, invalidTransition(a, "attempt %d has been superseded by attempt %d", a.Number, latest.Number)
	}
	if !a.retryable() {
		return a, invalidTransition(a, "attempt %d is %s; only attempts failed with a transient error may be retried", a.Number, a.State)
	}

	if a.Number >= r.maxAttempts {
		e := common.NewError(common.KindRetriesExhausted, "envelope %s failed %d of %d attempts", a.Envelope.ID(), a.Number, r.maxAttempts).
			WithEnvelope(a.Envelope.Target(), a.Envelope.Sequence()).
			WithAttempt(a.ID.String())
		err = r.abandon(a, &AttemptError{Kind: common.KindRetriesExhausted, Message: e.Message})
		if err != nil {
			return nil, err
		}
		return a.copy(), e
	}

	next, err := r.newAttempt(a.Envelope, a.Number+1)
	if err != nil {
		return nil, err
	}

	err = r.repository.Save(ctx, next)
	if err != nil {
		return nil, err
	}

	common.Log.Debugf("retrying envelope %s; attempt %d of %d", a.Envelope.Key(), next.Number, r.maxAttempts)
	err = r.deliver(ctx, next)
	return next.copy(), err
}

// deliver sends the pending attempt and applies the acknowledgment outcome
func (r *Relay) deliver(ctx context.Context, a *Attempt) error {
	ctx, cancel := context.WithCancel(ctx)
	flight := &inflight{cancel: cancel, done: make(chan struct{})}

	r.mutex.Lock()
	r.inflight[a.ID] = flight
	r.mutex.Unlock()

	defer func() {
		r.mutex.Lock()
		delete(r.inflight, a.ID)
		r.mutex.Unlock()
		cancel()
		close(flight.done)
	}()

	cancelled := func() bool {
		r.mutex.Lock()
		defer r.mutex.Unlock()
		return flight.cancelled
	}

	handle, err := r.transport.Send(ctx, a.Envelope)
	if err != nil {
		if cancelled() && errors.Is(err, transport.ErrNotSent) {
			e := common.NewError(common.KindCancelled, "attempt %d cancelled before send", a.Number).
				WithEnvelope(a.Envelope.Target(), a.Envelope.Sequence()).
				WithAttempt(a.ID.String())
			abandonErr := r.abandon(a, &AttemptError{Kind: common.KindCancelled, Message: e.Message})
			if abandonErr != nil {
				return abandonErr
			}
			return e
		}
		if cancelled() {
			// the envelope may have reached the target before the send returned
			return r.fail(a, common.KindTransportError, ErrAttemptCancelled, "cancelled during send; outcome unknown")
		}
		common.Log.Warningf("failed to send envelope %s; attempt: %d; %s", a.Envelope.Key(), a.Number, err.Error())
		return r.fail(a, common.KindTransportError, err, "%s", transportFailure(err, "failed to send envelope"))
	}

	a.Handle = &handle
	err = r.transition(a, StateSent, nil)
	if err != nil {
		return err
	}

	ack, err := r.transport.AwaitAcknowledgment(ctx, handle)
	if err != nil {
		if cancelled() {
			return r.fail(a, common.KindTransportError, ErrAttemptCancelled, "cancelled after send; outcome unknown")
		}
		common.Log.Warningf("failed to await acknowledgment of envelope %s; attempt: %d; %s", a.Envelope.Key(), a.Number, err.Error())
		return r.fail(a, common.KindTransportError, err, "%s", transportFailure(err, "failed to await acknowledgment"))
	}

	return r.apply(a, ack)
}

// ErrAttemptCancelled is the cause recorded on an attempt cancelled while in flight
var ErrAttemptCancelled = errors.New("attempt cancelled")

func transportFailure(err error, msg string) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("%s; deadline exceeded", msg)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Sprintf("%s; context cancelled", msg)
	}
	return msg
}

// apply the acknowledgment outcome to a sent or failed attempt
func (r *Relay) apply(a *Attempt, ack *transport.Acknowledgment) error {
	switch ack.Status {
	case transport.AcknowledgmentStatusAcknowledged:
		return r.acknowledge(a, ack.Receipt)

	case transport.AcknowledgmentStatusPending:
		common.Log.Debugf("envelope %s awaiting acknowledgment; attempt: %d", a.Envelope.Key(), a.Number)
		return nil

	case transport.AcknowledgmentStatusRejected:
		common.Log.Warningf("envelope %s rejected by %s; attempt: %d; %s", a.Envelope.Key(), a.Envelope.Target(), a.Number, ack.Reason)
		e := common.NewError(common.KindRemoteRejected, "envelope rejected by target; %s", ack.Reason).
			WithEnvelope(a.Envelope.Target(), a.Envelope.Sequence()).
			WithAttempt(a.ID.String())
		lastErr := &AttemptError{Kind: common.KindRemoteRejected, Message: e.Message}
		if a.State != StateFailed {
			err := r.transition(a, StateFailed, lastErr)
			if err != nil {
				return err
			}
		}
		err := r.abandon(a, lastErr)
		if err != nil {
			return err
		}
		return e

	case transport.AcknowledgmentStatusTimedOut:
		return r.fail(a, common.KindTimedOut, nil, "target timed out processing envelope")
	}

	return r.fail(a, common.KindTransportError, nil, "unknown acknowledgment status: %s", ack.Status)
}

// acknowledge commits the receipt and moves the attempt to acknowledged
func (r *Relay) acknowledge(a *Attempt, receipt []byte) error {
	if !a.State.CanTransitionTo(StateAcknowledged) {
		return invalidTransition(a, "attempt %d is %s and cannot be acknowledged", a.Number, a.State)
	}

	_, err := r.receipts.Commit(a.Envelope, receipt)
	if err != nil {
		return fmt.Errorf("failed to commit receipt for envelope %s; %s", a.Envelope.Key(), err.Error())
	}

	a.Receipt = common.CopyBytes(receipt)
	a.LastError = nil
	return r.transition(a, StateAcknowledged, nil)
}

// Acknowledge records the target's receipt for a sent attempt. A failed attempt whose outcome
// was unknown may also be acknowledged, as long as it is the latest attempt
func (r *Relay) Acknowledge(ctx context.Context, id uuid.UUID, receipt []byte) (*Attempt, error) {
	a, unlock, err := r.lockAttempt(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return r.acknowledgeLocked(ctx, a, receipt)
}

// AcknowledgeEnvelope records the target's receipt against the latest attempt of the envelope
func (r *Relay) AcknowledgeEnvelope(ctx context.Context, envelopeID uuid.UUID, receipt []byte) (*Attempt, error) {
	lock := r.envelopeLock(envelopeID)
	lock.Lock()
	defer lock.Unlock()

	attempts, err := r.repository.Attempts(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if len(attempts) == 0 {
		return nil, common.NewError(common.KindNotFound, "no relay attempts for envelope %s", envelopeID)
	}

	return r.acknowledgeLocked(ctx, attempts[len(attempts)-1], receipt)
}

func (r *Relay) acknowledgeLocked(ctx context.Context, a *Attempt, receipt []byte) (*Attempt, error) {
	if len(receipt) == 0 {
		return a, invalidTransition(a, "attempt %d cannot be acknowledged without a receipt", a.Number)
	}

	switch {
	case a.State == StateSent:
	case a.retryable():
		attempts, err := r.repository.Attempts(ctx, a.Envelope.ID())
		if err != nil {
			return nil, err
		}
		if latest := attempts[len(attempts)-1]; latest.ID != a.ID {
			return a, invalidTransition(a, "attempt %d has been superseded by attempt %d", a.Number, latest.Number)
		}
	default:
		return a, invalidTransition(a, "attempt %d is %s and cannot be acknowledged", a.Number, a.State)
	}

	err := r.acknowledge(a, receipt)
	if err != nil {
		return a, err
	}
	return a.copy(), nil
}

// Cancel stops the attempt. A pending attempt is abandoned without side effect when the
// transport reports the envelope was never sent, otherwise it fails with an unknown outcome
// and may be retried. A sent attempt fails with an unknown outcome. A failed attempt is abandoned
func (r *Relay) Cancel(ctx context.Context, id uuid.UUID) (*Attempt, error) {
	r.mutex.Lock()
	flight, ok := r.inflight[id]
	if ok {
		flight.cancelled = true
		flight.cancel()
	}
	r.mutex.Unlock()

	if ok {
		select {
		case <-flight.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return r.repository.Attempt(ctx, id)
	}

	a, unlock, err := r.lockAttempt(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	switch a.State {
	case StatePending:
		err = r.abandon(a, &AttemptError{Kind: common.KindCancelled, Message: "cancelled before send"})
	case StateSent:
		err = r.transition(a, StateFailed, &AttemptError{Kind: common.KindTransportError, Message: "cancelled after send; outcome unknown"})
	case StateFailed:
		err = r.abandon(a, &AttemptError{Kind: common.KindCancelled, Message: "cancelled after failure"})
	default:
		return a, invalidTransition(a, "attempt %d is %s and cannot be cancelled", a.Number, a.State)
	}
	if err != nil {
		return nil, err
	}

	common.Log.Debugf("cancelled relay attempt %d of envelope %s; state: %s", a.Number, a.Envelope.Key(), a.State)
	return a.copy(), nil
}

// Reconcile queries the transport for the outcome of a sent attempt, or of a failed attempt
// with unknown outcome, instead of resubmitting the envelope
func (r *Relay) Reconcile(ctx context.Context, id uuid.UUID) (*Attempt, error) {
	a, unlock, err := r.lockAttempt(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if a.Handle == nil || (a.State != StateSent && !a.retryable()) {
		return a, invalidTransition(a, "attempt %d is %s and has no delivery to reconcile", a.Number, a.State)
	}

	ack, err := r.transport.AwaitAcknowledgment(ctx, *a.Handle)
	if err != nil {
		return a, common.Wrap(common.KindTransportUnavailable, err, "failed to reconcile delivery").
			WithEnvelope(a.Envelope.Target(), a.Envelope.Sequence()).
			WithAttempt(a.ID.String())
	}

	switch ack.Status {
	case transport.AcknowledgmentStatusAcknowledged, transport.AcknowledgmentStatusRejected:
		err = r.apply(a, ack)
	default:
		common.Log.Debugf("reconciled relay attempt %d of envelope %s; outcome still %s", a.Number, a.Envelope.Key(), ack.Status)
	}
	return a.copy(), err
}
