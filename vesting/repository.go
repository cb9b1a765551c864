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

package vesting

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/jinzhu/gorm"
	uuid "github.com/kthomas/go.uuid"
	"github.com/provideplatform/xchain/account"
	"github.com/provideplatform/xchain/common"
	provide "github.com/provideplatform/provide-go/api"
)

// SubmissionStatus of a schedule version at the ledger
type SubmissionStatus string

const (
	// SubmissionStatusPending the lock transaction is in flight
	SubmissionStatusPending SubmissionStatus = "pending"

	// SubmissionStatusAccepted the ledger accepted the lock transaction
	SubmissionStatusAccepted SubmissionStatus = "accepted"

	// SubmissionStatusUnknown the submission failed and its effect is unknown until reconciled
	SubmissionStatusUnknown SubmissionStatus = "unknown"

	// SubmissionStatusAbsent reconciliation found no lock for the version
	SubmissionStatusAbsent SubmissionStatus = "absent"
)

// Submission is a persisted schedule version and the state of its lock transaction
type Submission struct {
	Schedule    *Schedule        `json:"schedule"`
	Status      SubmissionStatus `json:"status"`
	TxHandle    *string          `json:"tx_handle,omitempty"`
	SubmittedAt time.Time        `json:"submitted_at"`
}

// Repository persists schedule versions; versions are append-only, only the
// submission status and tx handle of a version may change
type Repository interface {
	Insert(ctx context.Context, submission *Submission) error
	UpdateStatus(ctx context.Context, id uuid.UUID, version uint64, status SubmissionStatus, txHandle *string) error
	Latest(ctx context.Context, id uuid.UUID) (*Submission, error)
	Versions(ctx context.Context, id uuid.UUID) ([]*Submission, error)
}

func notFound(id uuid.UUID) error {
	return common.NewError(common.KindNotFound, "vesting schedule not found").WithSchedule(id.String(), 0)
}

// MemoryRepository is an in-memory schedule version store
type MemoryRepository struct {
	mutex    sync.RWMutex
	versions map[uuid.UUID][]*Submission
}

// NewMemoryRepository initializes an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		versions: map[uuid.UUID][]*Submission{},
	}
}

// Insert appends the next version of a schedule
func (r *MemoryRepository) Insert(ctx context.Context, submission *Submission) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	id := submission.Schedule.ID()
	versions := r.versions[id]
	expected := uint64(len(versions)) + 1
	if submission.Schedule.Version() != expected {
		return fmt.Errorf("failed to insert version %d of vesting schedule %s; expected version %d", submission.Schedule.Version(), id, expected)
	}

	cp := *submission
	r.versions[id] = append(versions, &cp)
	return nil
}

// UpdateStatus updates the submission status of a version
func (r *MemoryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, version uint64, status SubmissionStatus, txHandle *string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	versions := r.versions[id]
	if version == 0 || version > uint64(len(versions)) {
		return notFound(id)
	}

	versions[version-1].Status = status
	if txHandle != nil {
		versions[version-1].TxHandle = txHandle
	}
	return nil
}

// Latest returns the latest version of a schedule
func (r *MemoryRepository) Latest(ctx context.Context, id uuid.UUID) (*Submission, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	versions := r.versions[id]
	if len(versions) == 0 {
		return nil, notFound(id)
	}
	cp := *versions[len(versions)-1]
	return &cp, nil
}

// Versions returns all versions of a schedule in version order
func (r *MemoryRepository) Versions(ctx context.Context, id uuid.UUID) ([]*Submission, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	versions := r.versions[id]
	if len(versions) == 0 {
		return nil, notFound(id)
	}

	out := make([]*Submission, 0, len(versions))
	for _, v := range versions {
		cp := *v
		out = append(out, &cp)
	}
	return out, nil
}

// scheduleVersion is the gorm model for a persisted schedule version
type scheduleVersion struct {
	provide.Model

	ScheduleID   uuid.UUID `sql:"type:uuid;not null" json:"schedule_id"`
	Version      uint64    `sql:"not null" json:"version"`
	Beneficiary  string    `sql:"not null" json:"beneficiary"`
	TotalLocked  string    `sql:"not null" json:"total_locked"`
	PerPeriod    string    `sql:"not null" json:"per_period"`
	PeriodLength uint64    `sql:"not null" json:"period_length"`
	StartTime    uint64    `sql:"not null" json:"start_time"`
	EndTime      uint64    `sql:"not null" json:"end_time"`
	Digest       string    `sql:"not null" json:"digest"`
	Status       string    `sql:"not null;default:'pending'" json:"status"`
	TxHandle     *string   `json:"tx_handle"`
}

// TableName overrides the gorm table name
func (scheduleVersion) TableName() string {
	return "vesting_schedule_versions"
}

func (v *scheduleVersion) submission() (*Submission, error) {
	beneficiary, err := account.Resolve(v.Beneficiary)
	if err != nil {
		return nil, fmt.Errorf("failed to load version %d of vesting schedule %s; %s", v.Version, v.ScheduleID, err.Error())
	}

	total, ok := new(big.Int).SetString(v.TotalLocked, 10)
	if !ok {
		return nil, fmt.Errorf("failed to load version %d of vesting schedule %s; invalid total locked amount", v.Version, v.ScheduleID)
	}

	schedule, err := newSchedule(v.ScheduleID, v.Version, beneficiary, total, v.StartTime, v.EndTime, v.PeriodLength)
	if err != nil {
		return nil, err
	}

	if hex.EncodeToString(schedule.Digest()) != v.Digest {
		return nil, fmt.Errorf("failed to load version %d of vesting schedule %s; digest mismatch", v.Version, v.ScheduleID)
	}

	return &Submission{
		Schedule:    schedule,
		Status:      SubmissionStatus(v.Status),
		TxHandle:    v.TxHandle,
		SubmittedAt: v.CreatedAt,
	}, nil
}

// GormRepository persists schedule versions using gorm
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository returns a repository on the given db connection
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{
		db: db,
	}
}

// Insert appends the next version of a schedule
func (r *GormRepository) Insert(ctx context.Context, submission *Submission) error {
	s := submission.Schedule
	row := &scheduleVersion{
		ScheduleID:   s.ID(),
		Version:      s.Version(),
		Beneficiary:  s.Beneficiary().String(),
		TotalLocked:  s.totalLocked.String(),
		PerPeriod:    s.perPeriod.String(),
		PeriodLength: s.PeriodLength(),
		StartTime:    s.StartTime(),
		EndTime:      s.EndTime(),
		Digest:       hex.EncodeToString(s.Digest()),
		Status:       string(submission.Status),
		TxHandle:     submission.TxHandle,
	}

	result := r.db.Create(row)
	if errs := result.GetErrors(); len(errs) > 0 {
		return fmt.Errorf("failed to persist version %d of vesting schedule %s; %s", s.Version(), s.ID(), errs[0].Error())
	}

	common.Log.Debugf("persisted version %d of vesting schedule %s", s.Version(), s.ID())
	return nil
}

// UpdateStatus updates the submission status of a version
func (r *GormRepository) UpdateStatus(ctx context.Context, id uuid.UUID, version uint64, status SubmissionStatus, txHandle *string) error {
	updates := map[string]interface{}{
		"status": string(status),
	}
	if txHandle != nil {
		updates["tx_handle"] = *txHandle
	}

	result := r.db.Model(&scheduleVersion{}).Where("schedule_id = ? AND version = ?", id, version).Updates(updates)
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to update status of version %d of vesting schedule %s; %s", version, id, err.Error())
	}
	if result.RowsAffected == 0 {
		return notFound(id)
	}
	return nil
}

// Latest returns the latest version of a schedule
func (r *GormRepository) Latest(ctx context.Context, id uuid.UUID) (*Submission, error) {
	row := &scheduleVersion{}
	result := r.db.Where("schedule_id = ?", id).Order("version desc").First(row)
	if result.RecordNotFound() {
		return nil, notFound(id)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load vesting schedule %s; %s", id, result.Error.Error())
	}
	return row.submission()
}

// Versions returns all versions of a schedule in version order
func (r *GormRepository) Versions(ctx context.Context, id uuid.UUID) ([]*Submission, error) {
	var rows []*scheduleVersion
	result := r.db.Where("schedule_id = ?", id).Order("version asc").Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load versions of vesting schedule %s; %s", id, result.Error.Error())
	}
	if len(rows) == 0 {
		return nil, notFound(id)
	}

	out := make([]*Submission, 0, len(rows))
	for _, row := range rows {
		submission, err := row.submission()
		if err != nil {
			return nil, err
		}
		out = append(out, submission)
	}
	return out, nil
}
