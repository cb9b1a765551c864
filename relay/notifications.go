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
	"encoding/json"
	"fmt"

	natsutil "github.com/kthomas/go-natsutil"
	"github.com/nats-io/nats.go"
)

const natsRelayNotificationAcknowledged = "acknowledged"
const natsRelayNotificationAbandoned = "abandoned"

const natsRelayNotificationSubjectPrefix = "xchain.relay.notification"

// Notifier is informed when an attempt reaches a terminal state
type Notifier interface {
	Notify(event string, attempt *Attempt) error
}

// NotifierFunc adapts a function to a Notifier
type NotifierFunc func(event string, attempt *Attempt) error

// Notify calls f
func (f NotifierFunc) Notify(event string, attempt *Attempt) error {
	return f(event, attempt)
}

// NATSNotifier broadcasts terminal attempt events on per-target JetStream subjects
type NATSNotifier struct{}

// Notify publishes the event
func (n *NATSNotifier) Notify(event string, attempt *Attempt) error {
	_, err := dispatchNotification(event, attempt)
	return err
}

// dispatchNotification broadcasts an event to qualified subjects
func dispatchNotification(event string, attempt *Attempt) (*nats.PubAck, error) {
	if event == "" {
		return nil, fmt.Errorf("failed to dispatch event notification for relay attempt %s", attempt.ID.String())
	}

	subject := notificationsSubject(attempt.Envelope.Target(), event)
	payload, _ := json.Marshal(map[string]interface{}{
		"attempt_id":  attempt.ID.String(),
		"envelope_id": attempt.Envelope.ID().String(),
		"sender":      attempt.Envelope.Sender(),
		"sequence":    attempt.Envelope.Sequence(),
		"number":      attempt.Number,
		"state":       attempt.State,
		"last_error":  attempt.LastError,
	})
	return natsutil.NatsJetstreamPublish(subject, payload)
}

// notificationsSubject returns a namespaced subject suitable for pub/sub subscriptions
func notificationsSubject(target, event string) string {
	return fmt.Sprintf("%s.%s.%s", natsRelayNotificationSubjectPrefix, target, event)
}
