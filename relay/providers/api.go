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

package providers

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/provideplatform/xchain/proof"
	"github.com/provideplatform/xchain/relay/providers/memory"
	natstransport "github.com/provideplatform/xchain/relay/providers/nats"
	"github.com/provideplatform/xchain/relay/providers/transport"
)

// TransportProviderMemory in-process loopback transport provider
const TransportProviderMemory = "memory"

// TransportProviderNATS NATS JetStream transport provider
const TransportProviderNATS = "nats"

// Transport delivers envelopes to the target chain partition and reports the
// acknowledgment outcome of a delivery
type Transport interface {
	// Send submits the envelope; a nil error means the transport confirmed receipt
	// and returned a handle identifying the delivery
	Send(ctx context.Context, envelope *proof.Envelope) (handle string, err error)

	// AwaitAcknowledgment blocks until the remote reports an outcome for the delivery
	// or the context is done
	AwaitAcknowledgment(ctx context.Context, handle string) (*transport.Acknowledgment, error)
}

// InitMemoryTransport initializes a loopback transport verifying envelopes with the digester
func InitMemoryTransport(digester *proof.Digester) *memory.Transport {
	return memory.InitTransport(digester)
}

// InitNATSTransport initializes a JetStream transport on the given connection
func InitNATSTransport(conn *nats.Conn) (*natstransport.Transport, error) {
	return natstransport.InitTransport(conn)
}
