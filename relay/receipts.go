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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"sync"

	"github.com/providenetwork/smt"
	"github.com/provideplatform/xchain/common"
	"github.com/provideplatform/xchain/proof"
)

// ReceiptTree commits acknowledged receipts to a sparse merkle tree keyed by the
// sender, target and sequence of the delivered envelope. Every commit is persisted
// to the receipt store before it is visible
type ReceiptTree struct {
	hash  hash.Hash
	mutex sync.Mutex
	store ReceiptStore
	tree  *smt.SparseMerkleTree
}

func newReceiptTree() *ReceiptTree {
	h := sha256.New()
	return &ReceiptTree{
		hash: h,
		tree: smt.NewSparseMerkleTree(smt.NewSimpleMap(), smt.NewSimpleMap(), h),
	}
}

// InitReceiptTree loads the latest receipt tree snapshot from the store, or starts an
// empty tree when the store holds none
func InitReceiptTree(ctx context.Context, store ReceiptStore) (*ReceiptTree, error) {
	h := sha256.New()
	r := &ReceiptTree{
		hash:  h,
		store: store,
	}

	snapshot, err := store.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load receipt tree; %s", err.Error())
	}

	if snapshot == nil {
		r.tree = smt.NewSparseMerkleTree(smt.NewSimpleMap(), smt.NewSimpleMap(), h)
		return r, nil
	}

	nodes := smt.NewSimpleMap()
	err = json.Unmarshal(snapshot.Nodes, nodes)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt tree nodes; %s", err.Error())
	}

	leaves := smt.NewSimpleMap()
	err = json.Unmarshal(snapshot.Leaves, leaves)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt tree leaves; %s", err.Error())
	}

	r.tree = smt.ImportSparseMerkleTree(nodes, leaves, h, common.CopyBytes(snapshot.Root))
	common.Log.Debugf("imported receipt tree with root: %s", hex.EncodeToString(snapshot.Root))
	return r, nil
}

// Commit inserts the receipt for the envelope and returns the new root. When the tree
// cannot be persisted the insert is reverted
func (r *ReceiptTree) Commit(envelope *proof.Envelope, receipt []byte) ([]byte, error) {
	if len(receipt) == 0 {
		return nil, errors.New("failed to commit empty receipt")
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	key := []byte(envelope.Key())
	prev, err := r.tree.Get(key)
	if err != nil {
		return nil, err
	}

	root, err := r.tree.Update(key, common.CopyBytes(receipt))
	if err != nil {
		return nil, err
	}

	err = r.persist()
	if err != nil {
		_, revertErr := r.tree.Update(key, prev)
		if revertErr != nil {
			common.Log.Warningf("failed to revert unpersisted receipt for envelope %s; %s", envelope.Key(), revertErr.Error())
		}
		return nil, err
	}

	common.Log.Debugf("committed receipt for envelope %s; receipts root: %s", envelope.Key(), hex.EncodeToString(root))
	return root, nil
}

// persist saves a snapshot of the tree; the caller holds the mutex
func (r *ReceiptTree) persist() error {
	if r.store == nil {
		return nil
	}

	nodes, err := json.Marshal(r.tree.Nodes())
	if err != nil {
		return fmt.Errorf("failed to marshal receipt tree nodes; %s", err.Error())
	}
	leaves, err := json.Marshal(r.tree.Values())
	if err != nil {
		return fmt.Errorf("failed to marshal receipt tree leaves; %s", err.Error())
	}

	return r.store.Save(context.Background(), &ReceiptSnapshot{
		Nodes:  nodes,
		Leaves: leaves,
		Root:   common.CopyBytes(r.tree.Root()),
	})
}

// Root returns the current root
func (r *ReceiptTree) Root() []byte {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return common.CopyBytes(r.tree.Root())
}

// Receipt returns the committed receipt for the envelope, or nil
func (r *ReceiptTree) Receipt(envelope *proof.Envelope) []byte {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	val, err := r.tree.Get([]byte(envelope.Key()))
	if err != nil || len(val) == 0 {
		return nil
	}
	return common.CopyBytes(val)
}

// Delivered returns true if the tree holds a receipt for the envelope and its inclusion
// proof verifies against the current root
func (r *ReceiptTree) Delivered(envelope *proof.Envelope) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	key := []byte(envelope.Key())
	val, err := r.tree.Get(key)
	if err != nil || len(val) == 0 {
		return false
	}

	p, err := r.tree.Prove(key)
	if err != nil {
		common.Log.Warningf("failed to generate receipt inclusion proof for envelope %s; %s", envelope.Key(), err.Error())
		return false
	}

	return smt.VerifyProof(p, r.tree.Root(), key, val, r.hash)
}
