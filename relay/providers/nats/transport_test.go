//go:build integration
// +build integration

package nats

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/provideplatform/xchain/proof"
	"github.com/provideplatform/xchain/proof/providers"
	"github.com/provideplatform/xchain/relay/providers/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testStream = "xchain-integration"

func natsURL() string {
	if url := os.Getenv("NATS_URL"); url != "" {
		return url
	}
	return nats.DefaultURL
}

func testConnection(t *testing.T) (*nats.Conn, nats.JetStreamContext) {
	conn, err := nats.Connect(natsURL())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	js, err := conn.JetStream()
	require.NoError(t, err)

	js.DeleteStream(testStream)
	_, err = js.AddStream(&nats.StreamConfig{
		Name:       testStream,
		Subjects:   []string{EnvelopeSubjectPrefix + ".>"},
		Duplicates: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { js.DeleteStream(testStream) })

	return conn, js
}

func testEnvelope(t *testing.T) *proof.Envelope {
	signer, err := proof.GenerateEd25519Signer()
	require.NoError(t, err)
	attacher, err := proof.NewAttacher("relay-chain", providers.InitMemorySequenceAllocator(), signer)
	require.NoError(t, err)

	envelope, err := attacher.BuildEnvelope(context.Background(), "para-2000", []byte("payload"), []byte("proof"))
	require.NoError(t, err)
	return envelope
}

func TestSendDeduplicatesByEnvelopeID(t *testing.T) {
	conn, js := testConnection(t)
	tr, err := InitTransport(conn)
	require.NoError(t, err)

	envelope := testEnvelope(t)
	handle, err := tr.Send(context.Background(), envelope)
	require.NoError(t, err)
	assert.Equal(t, "para-2000/"+envelope.ID().String(), handle)

	again, err := tr.Send(context.Background(), envelope)
	require.NoError(t, err)
	assert.Equal(t, handle, again)

	info, err := js.StreamInfo(testStream)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.State.Msgs)
}

func TestAwaitAcknowledgment(t *testing.T) {
	conn, _ := testConnection(t)
	tr, err := InitTransport(conn)
	require.NoError(t, err)

	envelope := testEnvelope(t)
	sub, err := conn.Subscribe(StatusSubjectPrefix+".para-2000", func(msg *nats.Msg) {
		req := &statusRequest{}
		json.Unmarshal(msg.Data, req)

		ack := &transport.Acknowledgment{Status: transport.AcknowledgmentStatusRejected, Reason: transport.RejectionDuplicateSequence}
		if req.EnvelopeID == envelope.ID().String() {
			ack = &transport.Acknowledgment{Status: transport.AcknowledgmentStatusAcknowledged, Receipt: []byte("receipt")}
		}
		raw, _ := json.Marshal(ack)
		msg.Respond(raw)
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	handle, err := tr.Send(context.Background(), envelope)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ack, err := tr.AwaitAcknowledgment(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, transport.AcknowledgmentStatusAcknowledged, ack.Status)
	assert.Equal(t, []byte("receipt"), ack.Receipt)

	_, err = tr.AwaitAcknowledgment(ctx, "malformed")
	assert.ErrorIs(t, err, transport.ErrUnknownHandle)
}

func TestAwaitAcknowledgmentDeadline(t *testing.T) {
	conn, _ := testConnection(t)
	tr, err := InitTransport(conn)
	require.NoError(t, err)

	handle, err := tr.Send(context.Background(), testEnvelope(t))
	require.NoError(t, err)

	// no responder on the status subject for this target
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = tr.AwaitAcknowledgment(ctx, handle)
	require.Error(t, err)
}

func TestSendHonorsContext(t *testing.T) {
	conn, js := testConnection(t)
	js.DeleteStream(testStream)

	// a silent subscriber stands in for a stream that never acknowledges the publish
	sub, err := conn.SubscribeSync(EnvelopeSubjectPrefix + ".para-2000")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	tr, err := InitTransport(conn)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	started := time.Now()
	_, err = tr.Send(ctx, testEnvelope(t))
	require.Error(t, err)
	assert.Less(t, int64(time.Since(started)), int64(2*time.Second))
	assert.NotErrorIs(t, err, transport.ErrNotSent)
}

func TestSendAfterCancellationIsNotSent(t *testing.T) {
	conn, js := testConnection(t)
	tr, err := InitTransport(conn)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = tr.Send(ctx, testEnvelope(t))
	assert.ErrorIs(t, err, transport.ErrNotSent)
	assert.ErrorIs(t, err, context.Canceled)

	info, err := js.StreamInfo(testStream)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), info.State.Msgs)
}
