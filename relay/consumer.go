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
	"errors"
	"fmt"
	"sync"
	"time"

	natsutil "github.com/kthomas/go-natsutil"
	uuid "github.com/kthomas/go.uuid"
	"github.com/nats-io/nats.go"
	"github.com/provideplatform/xchain/common"
	natstransport "github.com/provideplatform/xchain/relay/providers/nats"
)

// DefaultNatsStream is the JetStream stream carrying envelopes, receipts and notifications
const DefaultNatsStream = "xchain"

const natsRelayReceiptSubject = "xchain.relay.receipt.>"
const natsRelayReceiptMaxInFlight = 256
const relayReceiptAckWait = time.Second * 30
const relayReceiptMaxDeliveries = 10

// StreamSubjects returns the subjects bound to the relay stream; request/reply subjects
// are excluded so the stream never answers them
func StreamSubjects() []string {
	return []string{
		fmt.Sprintf("%s.>", natstransport.EnvelopeSubjectPrefix),
		natsRelayReceiptSubject,
		fmt.Sprintf("%s.>", natsRelayNotificationSubjectPrefix),
	}
}

// RequireReceiptConsumers subscribes the relay to receipts reported by targets; it is a
// no-op unless NATS streaming subscriptions are enabled
func RequireReceiptConsumers(r *Relay, wg *sync.WaitGroup) {
	if !common.ConsumeNATSStreamingSubscriptions {
		common.Log.Debug("relay package consumer configured to skip NATS streaming subscription setup")
		return
	}

	natsutil.EstablishSharedNatsConnection(nil)
	natsutil.NatsCreateStream(DefaultNatsStream, StreamSubjects())

	for i := uint64(0); i < natsutil.GetNatsConsumerConcurrency(); i++ {
		natsutil.RequireNatsJetstreamSubscription(wg,
			relayReceiptAckWait,
			natsRelayReceiptSubject,
			"xchain-relay-receipt",
			"xchain-relay-receipt",
			receiptMsgHandler(r),
			relayReceiptAckWait,
			natsRelayReceiptMaxInFlight,
			relayReceiptMaxDeliveries,
			nil,
		)
	}
}

type receiptMessage struct {
	EnvelopeID string `json:"envelope_id"`
	Receipt    []byte `json:"receipt"`
}

// errReceiptUnprocessable marks receipts that redelivery cannot fix
var errReceiptUnprocessable = errors.New("unprocessable receipt")

// consumeReceipt acknowledges the latest attempt of the envelope named by the receipt message
func consumeReceipt(ctx context.Context, r *Relay, data []byte) (*Attempt, error) {
	params := &receiptMessage{}
	err := json.Unmarshal(data, &params)
	if err != nil {
		return nil, fmt.Errorf("%w; failed to unmarshal receipt message; %s", errReceiptUnprocessable, err.Error())
	}

	envelopeID, err := uuid.FromString(params.EnvelopeID)
	if err != nil {
		return nil, fmt.Errorf("%w; invalid envelope id: %s", errReceiptUnprocessable, params.EnvelopeID)
	}

	attempt, err := r.AcknowledgeEnvelope(ctx, envelopeID, params.Receipt)
	if err != nil {
		if attempt != nil && attempt.State == StateAcknowledged {
			// redelivered receipt for an acknowledged envelope
			return attempt, nil
		}
		if errors.Is(err, common.ErrInvalidTransition) {
			return attempt, fmt.Errorf("%w; %s", errReceiptUnprocessable, err.Error())
		}
		return attempt, err
	}

	return attempt, nil
}

func receiptMsgHandler(r *Relay) func(msg *nats.Msg) {
	return func(msg *nats.Msg) {
		defer func() {
			if rec := recover(); rec != nil {
				common.Log.Warningf("recovered during relay receipt handling; %s", rec)
				msg.Nak()
			}
		}()

		common.Log.Debugf("consuming %d-byte NATS relay receipt message on subject: %s", len(msg.Data), msg.Subject)

		attempt, err := consumeReceipt(context.Background(), r, msg.Data)
		if err != nil {
			if errors.Is(err, errReceiptUnprocessable) {
				common.Log.Warningf("dropping relay receipt message; %s", err.Error())
				msg.Ack()
				return
			}
			common.Log.Warningf("failed to consume relay receipt message; %s", err.Error())
			msg.Nak()
			return
		}

		common.Log.Debugf("relay attempt %s acknowledged by receipt", attempt.ID)
		msg.Ack()
	}
}
