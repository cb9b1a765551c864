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

package common

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/consensys/gnark-crypto/ecc"
)

// StringOrNil returns the given string or nil when empty
func StringOrNil(str string) *string {
	if str == "" {
		return nil
	}
	return &str
}

// SHA256 is a convenience method to return the sha256 hash of the given input
func SHA256(str string) string {
	digest := sha256.New()
	digest.Write([]byte(str))
	return hex.EncodeToString(digest.Sum(nil))
}

// RandomBytes generates a cryptographically random byte array
func RandomBytes(length int) ([]byte, error) {
	b := make([]byte, length)
	_, err := rand.Read(b)
	if err != nil {
		return nil, fmt.Errorf("error generating random bytes %s", err.Error())
	}
	return b, nil
}

// CopyBytes returns a copy of the given bytes, or nil
func CopyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// GnarkCurveIDFactory returns an ecc curve id corresponding to the input name
func GnarkCurveIDFactory(curveID *string) ecc.ID {
	if curveID == nil {
		return ecc.UNKNOWN
	}

	switch strings.ToLower(*curveID) {
	case strings.ToLower(ecc.BLS12_377.String()):
		return ecc.BLS12_377
	case strings.ToLower(ecc.BLS12_381.String()):
		return ecc.BLS12_381
	case strings.ToLower(ecc.BN254.String()):
		return ecc.BN254
	case strings.ToLower(ecc.BW6_761.String()):
		return ecc.BW6_761
	case strings.ToLower(ecc.BLS24_315.String()):
		return ecc.BLS24_315
	default:
		return ecc.UNKNOWN
	}
}
