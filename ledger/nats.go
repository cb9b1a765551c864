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

package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/nats-io/nats.go"
	"github.com/provideplatform/xchain/account"
	"github.com/provideplatform/xchain/common"
)

const natsLedgerBalanceSubject = "xchain.ledger.balance"
const natsLedgerFinalizedSubject = "xchain.ledger.finalized"
const natsLedgerVestingSubmitSubject = "xchain.ledger.vesting.submit"
const natsLedgerVestingLocksSubject = "xchain.ledger.vesting.locks"

const ledgerResponseErrorNotFound = "not_found"
const ledgerResponseErrorNotFinalized = "not_finalized"
const ledgerResponseErrorRejected = "rejected"

type ledgerRequest struct {
	Address string       `json:"address,omitempty"`
	At      uint64       `json:"at,omitempty"`
	Lock    *VestingLock `json:"lock,omitempty"`
}

type ledgerResponse struct {
	Amount    *string        `json:"amount,omitempty"`
	Finalized *uint64        `json:"finalized,omitempty"`
	TxHandle  *string        `json:"tx_handle,omitempty"`
	Locks     []*VestingLock `json:"locks,omitempty"`
	Error     *string        `json:"error,omitempty"`
	Reason    *string        `json:"reason,omitempty"`
}

// NATSLedger is a ledger provider backed by NATS request/reply with a chain adapter
type NATSLedger struct {
	conn *nats.Conn
}

// InitNATSLedger initializes a ledger provider on the given NATS connection
func InitNATSLedger(conn *nats.Conn) *NATSLedger {
	return &NATSLedger{
		conn: conn,
	}
}

func (l *NATSLedger) request(ctx context.Context, subject string, req *ledgerRequest) (*ledgerResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ledger request on subject %s; %s", subject, err.Error())
	}

	msg, err := l.conn.RequestWithContext(ctx, subject, payload)
	if err != nil {
		common.Log.Warningf("ledger request failed on subject %s; %s", subject, err.Error())
		return nil, fmt.Errorf("%w; %s", ErrUnavailable, err.Error())
	}

	resp := &ledgerResponse{}
	err = json.Unmarshal(msg.Data, resp)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %d-byte ledger response on subject %s; %s", len(msg.Data), subject, err.Error())
	}

	if resp.Error != nil {
		switch *resp.Error {
		case ledgerResponseErrorNotFound:
			return nil, ErrNotFound
		case ledgerResponseErrorNotFinalized:
			return nil, ErrNotFinalized
		case ledgerResponseErrorRejected:
			reason := "unspecified"
			if resp.Reason != nil {
				reason = *resp.Reason
			}
			return nil, &RejectedError{Reason: reason}
		default:
			return nil, fmt.Errorf("%w; %s", ErrUnavailable, *resp.Error)
		}
	}

	return resp, nil
}

// GetBalance returns the balance of the account at exactly the given chain time
func (l *NATSLedger) GetBalance(ctx context.Context, address account.Address, at uint64) (*big.Int, error) {
	resp, err := l.request(ctx, natsLedgerBalanceSubject, &ledgerRequest{
		Address: address.String(),
		At:      at,
	})
	if err != nil {
		return nil, err
	}

	if resp.Amount == nil {
		return nil, fmt.Errorf("ledger balance response for %s at %d did not include an amount", address.String(), at)
	}

	amount, ok := new(big.Int).SetString(*resp.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("failed to parse ledger balance %s for %s at %d", *resp.Amount, address.String(), at)
	}

	return amount, nil
}

// FinalizedTime returns the current finalized chain time
func (l *NATSLedger) FinalizedTime(ctx context.Context) (uint64, error) {
	resp, err := l.request(ctx, natsLedgerFinalizedSubject, &ledgerRequest{})
	if err != nil {
		return 0, err
	}

	if resp.Finalized == nil {
		return 0, fmt.Errorf("ledger finalized response did not include a chain time")
	}

	return *resp.Finalized, nil
}

// SubmitVestingLock submits the vesting lock transaction
func (l *NATSLedger) SubmitVestingLock(ctx context.Context, beneficiary account.Address, lock *VestingLock) (string, error) {
	resp, err := l.request(ctx, natsLedgerVestingSubmitSubject, &ledgerRequest{
		Address: beneficiary.String(),
		Lock:    lock,
	})
	if err != nil {
		return "", err
	}

	if resp.TxHandle == nil {
		return "", &RejectedError{Reason: "no tx handle returned"}
	}

	return *resp.TxHandle, nil
}

// VestingLocks returns the vesting locks recorded for the beneficiary
func (l *NATSLedger) VestingLocks(ctx context.Context, beneficiary account.Address) ([]*VestingLock, error) {
	resp, err := l.request(ctx, natsLedgerVestingLocksSubject, &ledgerRequest{
		Address: beneficiary.String(),
	})
	if err != nil {
		return nil, err
	}

	return resp.Locks, nil
}
