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

package balance

import (
	"context"
	"errors"
	"math/big"

	"github.com/provideplatform/xchain/account"
	"github.com/provideplatform/xchain/common"
	"github.com/provideplatform/xchain/ledger"
)

// Snapshot is the balance of an account as of a chain time
type Snapshot struct {
	address account.Address
	amount  *big.Int
	asOf    uint64
}

// Address of the account
func (s *Snapshot) Address() account.Address {
	return s.address
}

// Amount returns a copy of the balance amount
func (s *Snapshot) Amount() *big.Int {
	return new(big.Int).Set(s.amount)
}

// AsOf returns the chain time of the snapshot
func (s *Snapshot) AsOf() uint64 {
	return s.asOf
}

// MarshalJSON renders the snapshot for API consumers
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return marshalSnapshot(s)
}

// Oracle issues point-in-time balance queries against the ledger
type Oracle struct {
	ledger ledger.QueryProvider
}

// NewOracle returns an oracle reading from the given ledger
func NewOracle(provider ledger.QueryProvider) *Oracle {
	return &Oracle{
		ledger: provider,
	}
}

// QueryBalanceAt returns the balance of the account at exactly the given chain time;
// a single attempt is made and the retry policy belongs to the caller
func (o *Oracle) QueryBalanceAt(ctx context.Context, address account.Address, at uint64) (*Snapshot, error) {
	amount, err := o.ledger.GetBalance(ctx, address, at)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrNotFinalized):
			return nil, common.Wrap(common.KindTimeNotYetFinalized, err, "failed to query balance at %d", at).WithAddress(address.String())
		case errors.Is(err, ledger.ErrNotFound):
			return nil, common.Wrap(common.KindAccountNotFound, err, "failed to query balance at %d", at).WithAddress(address.String())
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			return nil, common.Wrap(common.KindTransportUnavailable, err, "balance query at %d did not complete", at).WithAddress(address.String())
		default:
			common.Log.Warningf("failed to query balance for %s at %d; %s", address.String(), at, err.Error())
			return nil, common.Wrap(common.KindTransportUnavailable, err, "failed to query balance at %d", at).WithAddress(address.String())
		}
	}

	if amount == nil || amount.Sign() < 0 {
		return nil, common.NewError(common.KindInvalidLedgerResponse, "ledger returned invalid balance at %d", at).WithAddress(address.String())
	}

	common.Log.Debugf("resolved balance of %s at %d: %s", address.String(), at, amount.String())
	return &Snapshot{
		address: address,
		amount:  new(big.Int).Set(amount),
		asOf:    at,
	}, nil
}
