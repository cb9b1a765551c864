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
	"time"

	uuid "github.com/kthomas/go.uuid"
	"github.com/provideplatform/xchain/common"
	"github.com/provideplatform/xchain/proof"
)

// State of a relay attempt
type State string

const (
	StatePending      State = "pending"
	StateSent         State = "sent"
	StateAcknowledged State = "acknowledged"
	StateFailed       State = "failed"
	StateAbandoned    State = "abandoned"
)

var transitions = map[State][]State{
	StatePending:      {StateSent, StateFailed, StateAbandoned},
	StateSent:         {StateAcknowledged, StateFailed},
	StateFailed:       {StateAcknowledged, StateAbandoned},
	StateAcknowledged: {},
	StateAbandoned:    {},
}

// CanTransitionTo returns true if an attempt in this state may move to the next state
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal returns true if no transition leaves the state
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// AttemptError is the failure recorded on an attempt
type AttemptError struct {
	Kind    common.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

// Attempt is one delivery attempt of an envelope
type Attempt struct {
	ID        uuid.UUID       `json:"id"`
	Envelope  *proof.Envelope `json:"envelope"`
	Number    int             `json:"number"`
	State     State           `json:"state"`
	LastError *AttemptError   `json:"last_error,omitempty"`
	Handle    *string         `json:"handle,omitempty"`
	Receipt   []byte          `json:"receipt,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (a *Attempt) copy() *Attempt {
	cp := *a
	if a.LastError != nil {
		lastErr := *a.LastError
		cp.LastError = &lastErr
	}
	if a.Handle != nil {
		handle := *a.Handle
		cp.Handle = &handle
	}
	cp.Receipt = common.CopyBytes(a.Receipt)
	return &cp
}

// retryable returns true if the attempt failed in a way a fresh attempt may resolve
func (a *Attempt) retryable() bool {
	return a.State == StateFailed && a.LastError != nil && a.LastError.Kind.Retryable()
}

// Err returns the recorded failure of the attempt as an error, or nil
func (a *Attempt) Err() error {
	if a.LastError == nil {
		return nil
	}
	return common.NewError(a.LastError.Kind, "%s", a.LastError.Message).
		WithEnvelope(a.Envelope.Target(), a.Envelope.Sequence()).
		WithAttempt(a.ID.String())
}
