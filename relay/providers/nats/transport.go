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

package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/provideplatform/xchain/common"
	"github.com/provideplatform/xchain/proof"
	"github.com/provideplatform/xchain/relay/providers/transport"
)

// EnvelopeSubjectPrefix is the JetStream subject prefix envelopes are published under,
// suffixed by the target
const EnvelopeSubjectPrefix = "xchain.relay.envelope"

// StatusSubjectPrefix is the request/reply subject prefix the target answers delivery
// status queries on, suffixed by the target
const StatusSubjectPrefix = "xchain.relay.status"

type statusRequest struct {
	EnvelopeID string `json:"envelope_id"`
}

// Transport publishes envelopes to JetStream; the envelope id is the JetStream message id
// so re-sending an envelope within the stream's duplicate window is a no-op
type Transport struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// InitTransport initializes a transport on the given connection
func InitTransport(conn *nats.Conn) (*Transport, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize NATS relay transport; %s", err.Error())
	}

	return &Transport{
		conn: conn,
		js:   js,
	}, nil
}

func handleFor(envelope *proof.Envelope) string {
	return fmt.Sprintf("%s/%s", envelope.Target(), envelope.ID().String())
}

func parseHandle(handle string) (target, envelopeID string, err error) {
	parts := strings.SplitN(handle, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", transport.ErrUnknownHandle
	}
	return parts[0], parts[1], nil
}

// Send publishes the envelope and waits for the JetStream publish acknowledgment under the
// given context. A publish that fails or is cancelled may still have reached the stream
func (t *Transport) Send(ctx context.Context, envelope *proof.Envelope) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", transport.NotSent(err)
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return "", transport.NotSent(fmt.Errorf("failed to marshal envelope %s; %s", envelope.ID(), err.Error()))
	}

	subject := fmt.Sprintf("%s.%s", EnvelopeSubjectPrefix, envelope.Target())
	ack, err := t.js.Publish(subject, payload, nats.MsgId(envelope.ID().String()), nats.Context(ctx))
	if err != nil {
		common.Log.Warningf("failed to publish envelope %s to subject %s; %s", envelope.ID(), subject, err.Error())
		return "", err
	}

	if ack.Duplicate {
		common.Log.Debugf("envelope %s already published to stream %s; sequence: %d", envelope.ID(), ack.Stream, ack.Sequence)
	} else {
		common.Log.Debugf("published envelope %s to stream %s; sequence: %d", envelope.ID(), ack.Stream, ack.Sequence)
	}

	return handleFor(envelope), nil
}

// AwaitAcknowledgment queries the target for the outcome of the delivery
func (t *Transport) AwaitAcknowledgment(ctx context.Context, handle string) (*transport.Acknowledgment, error) {
	target, envelopeID, err := parseHandle(handle)
	if err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(&statusRequest{EnvelopeID: envelopeID})
	subject := fmt.Sprintf("%s.%s", StatusSubjectPrefix, target)

	msg, err := t.conn.RequestWithContext(ctx, subject, payload)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to query delivery status on subject %s; %s", subject, err.Error())
	}

	ack := &transport.Acknowledgment{}
	err = json.Unmarshal(msg.Data, &ack)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal delivery status for envelope %s; %s", envelopeID, err.Error())
	}

	switch ack.Status {
	case transport.AcknowledgmentStatusAcknowledged,
		transport.AcknowledgmentStatusPending,
		transport.AcknowledgmentStatusRejected,
		transport.AcknowledgmentStatusTimedOut:
		return ack, nil
	}

	return nil, fmt.Errorf("failed to resolve delivery status for envelope %s; unknown status: %s", envelopeID, ack.Status)
}
