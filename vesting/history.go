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
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"

	"github.com/providenetwork/merkletree"
)

// versionContent is a schedule version as merkle tree content
type versionContent struct {
	digest []byte
}

// CalculateHash returns the schedule version digest
func (vc *versionContent) CalculateHash() ([]byte, error) {
	if len(vc.digest) == 0 {
		return nil, errors.New("schedule version content requires a digest")
	}
	return vc.digest, nil
}

// Equals returns true if the given content is the same schedule version
func (vc *versionContent) Equals(other merkletree.Content) (bool, error) {
	h, err := other.CalculateHash()
	if err != nil {
		return false, err
	}
	return bytes.Equal(vc.digest, h), nil
}

// History is the audit trail of all versions of a schedule
type History struct {
	Versions []*Submission `json:"versions"`
	Root     string        `json:"root"`

	tree *merkletree.MerkleTree
}

func newHistory(versions []*Submission) (*History, error) {
	if len(versions) == 0 {
		return nil, errors.New("failed to build schedule history; no versions")
	}

	contents := make([]merkletree.Content, 0, len(versions))
	for _, v := range versions {
		contents = append(contents, &versionContent{digest: v.Schedule.Digest()})
	}

	tree, err := merkletree.NewTreeWithHashStrategy(contents, func() hash.Hash { return sha256.New() })
	if err != nil {
		return nil, fmt.Errorf("failed to build schedule history for %s; %s", versions[0].Schedule.ID(), err.Error())
	}

	return &History{
		Versions: versions,
		Root:     hex.EncodeToString(tree.MerkleRoot()),
		tree:     tree,
	}, nil
}

// Latest returns the latest version in the history
func (h *History) Latest() *Submission {
	return h.Versions[len(h.Versions)-1]
}

// VerifyVersion returns true if the given schedule version is committed to by the history root
func (h *History) VerifyVersion(schedule *Schedule) (bool, error) {
	return h.tree.VerifyContent(&versionContent{digest: schedule.Digest()})
}
