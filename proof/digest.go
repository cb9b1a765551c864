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
	"encoding/binary"
	"fmt"
	"hash"

	"github.com/consensys/gnark-crypto/ecc"
	gnarkhash "github.com/consensys/gnark-crypto/hash"
	"github.com/provideplatform/xchain/common"
)

// digestChunkSize is the number of payload bytes absorbed per field element; it is
// smaller than the scalar field of every supported curve so no chunk is ever reduced
const digestChunkSize = 31

// hashFactory returns the MiMC hash for the given curve
func hashFactory(curve ecc.ID) (hash.Hash, error) {
	switch curve {
	case ecc.BLS12_377:
		return gnarkhash.MIMC_BLS12_377.New(), nil
	case ecc.BLS12_381:
		return gnarkhash.MIMC_BLS12_381.New(), nil
	case ecc.BN254:
		return gnarkhash.MIMC_BN254.New(), nil
	case ecc.BW6_761:
		return gnarkhash.MIMC_BW6_761.New(), nil
	case ecc.BLS24_315:
		return gnarkhash.MIMC_BLS24_315.New(), nil
	}

	// ecc.ID.String panics outside the known curves
	return nil, fmt.Errorf("failed to resolve payload digest hash; unsupported curve id: %d", uint16(curve))
}

// Digester computes the payload digest a proof is bound to
type Digester struct {
	curve ecc.ID
}

// NewDigester returns a digester using the MiMC hash of the named curve
func NewDigester(curve string) (*Digester, error) {
	id := common.GnarkCurveIDFactory(&curve)
	if id == ecc.UNKNOWN {
		return nil, fmt.Errorf("failed to resolve payload digest hash; unknown or unsupported curve: %s", curve)
	}
	if _, err := hashFactory(id); err != nil {
		return nil, err
	}
	return &Digester{curve: id}, nil
}

// Curve returns the curve of the hash
func (d *Digester) Curve() ecc.ID {
	return d.curve
}

// Digest returns the MiMC digest of the payload. The payload length is absorbed first,
// followed by the payload split into 31-byte chunks each left-padded to a field element
func (d *Digester) Digest(payload []byte) ([]byte, error) {
	h, err := hashFactory(d.curve)
	if err != nil {
		return nil, err
	}

	blockSize := h.BlockSize()
	block := make([]byte, blockSize)

	binary.BigEndian.PutUint64(block[blockSize-8:], uint64(len(payload)))
	if _, err := h.Write(block); err != nil {
		return nil, fmt.Errorf("failed to digest payload length; %s", err.Error())
	}

	for i := 0; i < len(payload); i += digestChunkSize {
		end := i + digestChunkSize
		if end > len(payload) {
			end = len(payload)
		}

		for j := range block {
			block[j] = 0
		}
		chunk := payload[i:end]
		copy(block[blockSize-len(chunk):], chunk)

		if _, err := h.Write(block); err != nil {
			return nil, fmt.Errorf("failed to digest payload chunk at offset %d; %s", i, err.Error())
		}
	}

	return h.Sum(nil), nil
}
