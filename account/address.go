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

// Package account resolves SS58-encoded account identifiers into addresses.
package account

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/provideplatform/xchain/common"
	"golang.org/x/crypto/blake2b"
)

// IDLength is the length of an account id in bytes
const IDLength = 32

const checksumLength = 2
const maxNetworkPrefix = 16383

var checksumPreimagePrefix = []byte("SS58PRE")

// Address identifies an account on a given network; the zero value is not a valid address
type Address struct {
	Network uint16
	ID      [IDLength]byte
}

// NewAddress returns the address of the given account id on the given network
func NewAddress(network uint16, id []byte) (Address, error) {
	var addr Address
	if len(id) != IDLength {
		return addr, common.NewError(common.KindInvalidAddressFormat, "account id must be %d bytes; got %d", IDLength, len(id))
	}
	if !validNetworkPrefix(network) {
		return addr, common.NewError(common.KindInvalidAddressFormat, "invalid network prefix %d", network)
	}

	addr.Network = network
	copy(addr.ID[:], id)
	return addr, nil
}

// Resolve parses the canonical SS58 encoding of an address
func Resolve(text string) (Address, error) {
	var addr Address

	raw, err := base58.Decode(text)
	if err != nil || len(raw) == 0 {
		return addr, invalidAddress(text, "invalid base58 character set")
	}

	// reject any text that does not re-encode to itself
	if base58.Encode(raw) != text {
		return addr, invalidAddress(text, "non-canonical base58 encoding")
	}

	network, prefixLen, reason := decodeNetworkPrefix(raw)
	if reason != "" {
		return addr, invalidAddress(text, reason)
	}

	if len(raw) != prefixLen+IDLength+checksumLength {
		return addr, invalidAddress(text, "invalid length")
	}

	body := raw[:prefixLen+IDLength]
	if !bytes.Equal(checksum(body), raw[prefixLen+IDLength:]) {
		return addr, invalidAddress(text, "invalid checksum")
	}

	addr.Network = network
	copy(addr.ID[:], raw[prefixLen:prefixLen+IDLength])
	return addr, nil
}

// ResolveForNetwork parses the address and requires it to belong to the given network
func ResolveForNetwork(text string, network uint16) (Address, error) {
	addr, err := Resolve(text)
	if err != nil {
		return addr, err
	}
	if addr.Network != network {
		return Address{}, common.NewError(common.KindInvalidAddressFormat, "address belongs to network %d; expected %d", addr.Network, network).WithAddress(text)
	}
	return addr, nil
}

// String returns the canonical SS58 encoding
func (a Address) String() string {
	raw := encodeNetworkPrefix(a.Network)
	raw = append(raw, a.ID[:]...)
	raw = append(raw, checksum(raw)...)
	return base58.Encode(raw)
}

// Hex returns the 0x-prefixed hex encoding of the account id
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a.ID[:])
}

// IsZero returns true for the zero address value
func (a Address) IsZero() bool {
	return a == Address{}
}

// MarshalText implements encoding.TextMarshaler
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (a *Address) UnmarshalText(text []byte) error {
	addr, err := Resolve(string(text))
	if err != nil {
		return err
	}
	*a = addr
	return nil
}

func checksum(body []byte) []byte {
	preimage := make([]byte, 0, len(checksumPreimagePrefix)+len(body))
	preimage = append(preimage, checksumPreimagePrefix...)
	preimage = append(preimage, body...)
	sum := blake2b.Sum512(preimage)
	return sum[:checksumLength]
}

// 46 and 47 are reserved
func validNetworkPrefix(network uint16) bool {
	return network <= maxNetworkPrefix && network != 46 && network != 47
}

func decodeNetworkPrefix(raw []byte) (uint16, int, string) {
	switch {
	case raw[0] < 64:
		network := uint16(raw[0])
		if !validNetworkPrefix(network) {
			return 0, 0, fmt.Sprintf("reserved network prefix %d", network)
		}
		return network, 1, ""
	case raw[0] < 128:
		if len(raw) < 2 {
			return 0, 0, "invalid length"
		}
		lower := (raw[0]&0x3f)<<2 | raw[1]>>6
		upper := raw[1] & 0x3f
		network := uint16(lower) | uint16(upper)<<8
		if network < 64 {
			// simple prefixes must use the one-byte form
			return 0, 0, fmt.Sprintf("non-canonical network prefix %d", network)
		}
		return network, 2, ""
	default:
		return 0, 0, fmt.Sprintf("invalid network prefix byte %d", raw[0])
	}
}

func encodeNetworkPrefix(network uint16) []byte {
	if network < 64 {
		return []byte{byte(network)}
	}
	first := byte((network&0x00fc)>>2) | 0x40
	second := byte(network>>8) | byte(network&0x03)<<6
	return []byte{first, second}
}

func invalidAddress(text, reason string) *common.Error {
	return common.NewError(common.KindInvalidAddressFormat, "failed to resolve address; %s", reason).WithAddress(text)
}
