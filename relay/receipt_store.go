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
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jinzhu/gorm"
	"github.com/provideplatform/xchain/common"
)

// ReceiptSnapshot is the serialized state of the receipt tree at a root
type ReceiptSnapshot struct {
	Nodes  json.RawMessage `json:"nodes"`
	Leaves json.RawMessage `json:"leaves"`
	Root   []byte          `json:"root"`
}

func (s *ReceiptSnapshot) copy() *ReceiptSnapshot {
	return &ReceiptSnapshot{
		Nodes:  common.CopyBytes(s.Nodes),
		Leaves: common.CopyBytes(s.Leaves),
		Root:   common.CopyBytes(s.Root),
	}
}

// ReceiptStore persists receipt tree snapshots
type ReceiptStore interface {
	// Latest returns the most recently saved snapshot, or nil when none was saved
	Latest(ctx context.Context) (*ReceiptSnapshot, error)
	Save(ctx context.Context, snapshot *ReceiptSnapshot) error
}

// MemoryReceiptStore keeps the latest snapshot in memory
type MemoryReceiptStore struct {
	mutex  sync.Mutex
	latest *ReceiptSnapshot
}

// NewMemoryReceiptStore returns an empty in-memory receipt store
func NewMemoryReceiptStore() *MemoryReceiptStore {
	return &MemoryReceiptStore{}
}

// Latest returns a copy of the latest snapshot
func (s *MemoryReceiptStore) Latest(ctx context.Context) (*ReceiptSnapshot, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.latest == nil {
		return nil, nil
	}
	return s.latest.copy(), nil
}

// Save replaces the latest snapshot
func (s *MemoryReceiptStore) Save(ctx context.Context, snapshot *ReceiptSnapshot) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.latest = snapshot.copy()
	return nil
}

// GormReceiptStore appends receipt tree snapshots to the receipt_trees table
type GormReceiptStore struct {
	db *gorm.DB
}

// NewGormReceiptStore returns a receipt store on the given db connection
func NewGormReceiptStore(db *gorm.DB) *GormReceiptStore {
	return &GormReceiptStore{
		db: db,
	}
}

// Latest returns the most recently appended snapshot
func (s *GormReceiptStore) Latest(ctx context.Context) (*ReceiptSnapshot, error) {
	rows, err := s.db.Raw("SELECT nodes, leaves, root FROM receipt_trees ORDER BY id DESC LIMIT 1").Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve receipt tree from store; %s", err.Error())
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}

	var nodes json.RawMessage
	var leaves json.RawMessage
	var root string

	err = rows.Scan(&nodes, &leaves, &root)
	if err != nil {
		return nil, fmt.Errorf("failed to scan the store for receipt tree; %s", err.Error())
	}

	rootBytes, err := hex.DecodeString(root)
	if err != nil {
		return nil, fmt.Errorf("failed to decode receipt tree root %s; %s", root, err.Error())
	}

	return &ReceiptSnapshot{
		Nodes:  nodes,
		Leaves: leaves,
		Root:   rootBytes,
	}, nil
}

// Save appends the snapshot
func (s *GormReceiptStore) Save(ctx context.Context, snapshot *ReceiptSnapshot) error {
	root := hex.EncodeToString(snapshot.Root)
	db := s.db.Exec("INSERT INTO receipt_trees (nodes, leaves, root) VALUES (?, ?, ?)", string(snapshot.Nodes), string(snapshot.Leaves), root)
	if db.Error != nil {
		return fmt.Errorf("failed to persist receipt tree with root %s; %s", root, db.Error.Error())
	}
	if db.RowsAffected == 0 {
		return fmt.Errorf("failed to persist receipt tree with root %s", root)
	}

	common.Log.Tracef("persisted receipt tree with root: %s", root)
	return nil
}
