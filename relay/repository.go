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
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jinzhu/gorm"
	uuid "github.com/kthomas/go.uuid"
	"github.com/provideplatform/xchain/common"
	"github.com/provideplatform/xchain/proof"
	provide "github.com/provideplatform/provide-go/api"
)

// Repository persists relay attempts; the attempt history of an envelope is ordered by number
type Repository interface {
	Save(ctx context.Context, attempt *Attempt) error
	Attempt(ctx context.Context, id uuid.UUID) (*Attempt, error)
	Attempts(ctx context.Context, envelopeID uuid.UUID) ([]*Attempt, error)
}

func attemptNotFound(id uuid.UUID) error {
	return common.NewError(common.KindNotFound, "relay attempt not found").WithAttempt(id.String())
}

// MemoryRepository is an in-memory attempt store
type MemoryRepository struct {
	mutex     sync.RWMutex
	attempts  map[uuid.UUID]*Attempt
	envelopes map[uuid.UUID][]uuid.UUID
}

// NewMemoryRepository initializes an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		attempts:  map[uuid.UUID]*Attempt{},
		envelopes: map[uuid.UUID][]uuid.UUID{},
	}
}

// Save inserts or updates the attempt
func (r *MemoryRepository) Save(ctx context.Context, attempt *Attempt) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.attempts[attempt.ID]; !ok {
		envelopeID := attempt.Envelope.ID()
		r.envelopes[envelopeID] = append(r.envelopes[envelopeID], attempt.ID)
	}
	r.attempts[attempt.ID] = attempt.copy()
	return nil
}

// Attempt returns the attempt with the given id
func (r *MemoryRepository) Attempt(ctx context.Context, id uuid.UUID) (*Attempt, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	attempt, ok := r.attempts[id]
	if !ok {
		return nil, attemptNotFound(id)
	}
	return attempt.copy(), nil
}

// Attempts returns the attempt history of the envelope
func (r *MemoryRepository) Attempts(ctx context.Context, envelopeID uuid.UUID) ([]*Attempt, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ids := r.envelopes[envelopeID]
	attempts := make([]*Attempt, 0, len(ids))
	for _, id := range ids {
		attempts = append(attempts, r.attempts[id].copy())
	}
	return attempts, nil
}

// attemptRow is the gorm model for a persisted relay attempt
type attemptRow struct {
	provide.Model

	EnvelopeID uuid.UUID       `sql:"type:uuid;not null" json:"envelope_id"`
	Target     string          `sql:"not null" json:"target"`
	Sequence   uint64          `sql:"not null" json:"sequence"`
	Envelope   json.RawMessage `sql:"type:json;not null" json:"envelope"`
	Number     int             `sql:"not null" json:"number"`
	State      string          `sql:"not null" json:"state"`
	ErrorKind  *string         `json:"error_kind"`
	Error      *string         `json:"error"`
	Handle     *string         `json:"handle"`
	Receipt    []byte          `json:"receipt"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// TableName overrides the gorm table name
func (attemptRow) TableName() string {
	return "relay_attempts"
}

func (row *attemptRow) attempt() (*Attempt, error) {
	envelope := &proof.Envelope{}
	err := json.Unmarshal(row.Envelope, envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to load envelope of relay attempt %s; %s", row.ID, err.Error())
	}

	attempt := &Attempt{
		ID:        row.ID,
		Envelope:  envelope,
		Number:    row.Number,
		State:     State(row.State),
		Handle:    row.Handle,
		Receipt:   row.Receipt,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if row.ErrorKind != nil {
		attempt.LastError = &AttemptError{Kind: common.ErrorKind(*row.ErrorKind)}
		if row.Error != nil {
			attempt.LastError.Message = *row.Error
		}
	}
	return attempt, nil
}

// GormRepository persists relay attempts using gorm
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository returns a repository on the given db connection
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{
		db: db,
	}
}

// Save inserts or updates the attempt
func (r *GormRepository) Save(ctx context.Context, attempt *Attempt) error {
	envelope, err := json.Marshal(attempt.Envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope of relay attempt %s; %s", attempt.ID, err.Error())
	}

	row := &attemptRow{
		EnvelopeID: attempt.Envelope.ID(),
		Target:     attempt.Envelope.Target(),
		Sequence:   attempt.Envelope.Sequence(),
		Envelope:   envelope,
		Number:     attempt.Number,
		State:      string(attempt.State),
		Handle:     attempt.Handle,
		Receipt:    attempt.Receipt,
		UpdatedAt:  attempt.UpdatedAt,
	}
	row.ID = attempt.ID
	row.CreatedAt = attempt.CreatedAt
	if attempt.LastError != nil {
		row.ErrorKind = common.StringOrNil(string(attempt.LastError.Kind))
		row.Error = common.StringOrNil(attempt.LastError.Message)
	}

	result := r.db.Save(row)
	if errs := result.GetErrors(); len(errs) > 0 {
		return fmt.Errorf("failed to persist relay attempt %s; %s", attempt.ID, errs[0].Error())
	}

	common.Log.Debugf("persisted relay attempt %s; state: %s", attempt.ID, attempt.State)
	return nil
}

// Attempt returns the attempt with the given id
func (r *GormRepository) Attempt(ctx context.Context, id uuid.UUID) (*Attempt, error) {
	row := &attemptRow{}
	result := r.db.Where("id = ?", id).First(row)
	if result.RecordNotFound() {
		return nil, attemptNotFound(id)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load relay attempt %s; %s", id, result.Error.Error())
	}
	return row.attempt()
}

// Attempts returns the attempt history of the envelope
func (r *GormRepository) Attempts(ctx context.Context, envelopeID uuid.UUID) ([]*Attempt, error) {
	var rows []*attemptRow
	result := r.db.Where("envelope_id = ?", envelopeID).Order("number asc").Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load relay attempts of envelope %s; %s", envelopeID, result.Error.Error())
	}

	attempts := make([]*Attempt, 0, len(rows))
	for _, row := range rows {
		attempt, err := row.attempt()
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, attempt)
	}
	return attempts, nil
}
