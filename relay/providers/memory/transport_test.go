package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/provideplatform/xchain/proof"
	"github.com/provideplatform/xchain/proof/providers"
	"github.com/provideplatform/xchain/relay/providers/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedAllocator uint64

func (a fixedAllocator) NextSequence(ctx context.Context, sender, target string) (uint64, error) {
	return uint64(a), nil
}

func testAttacher(t *testing.T, allocator providers.SequenceAllocator) *proof.Attacher {
	signer, err := proof.GenerateEd25519Signer()
	require.NoError(t, err)
	attacher, err := proof.NewAttacher("relay-chain", allocator, signer)
	require.NoError(t, err)
	return attacher
}

func build(t *testing.T, attacher *proof.Attacher) *proof.Envelope {
	envelope, err := attacher.BuildEnvelope(context.Background(), "para-2000", []byte("payload"), []byte("proof"))
	require.NoError(t, err)
	return envelope
}

func TestSendAndAcknowledge(t *testing.T) {
	attacher := testAttacher(t, providers.InitMemorySequenceAllocator())
	tr := InitTransport(attacher.Digester())
	envelope := build(t, attacher)
	ctx := context.Background()

	handle, err := tr.Send(ctx, envelope)
	require.NoError(t, err)
	assert.True(t, tr.Delivered(envelope))

	again, err := tr.Send(ctx, envelope)
	require.NoError(t, err)
	assert.Equal(t, handle, again)
	assert.Equal(t, 2, tr.Sends())

	ack, err := tr.AwaitAcknowledgment(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, transport.AcknowledgmentStatusAcknowledged, ack.Status)
	assert.NotEmpty(t, ack.Receipt)

	_, err = tr.AwaitAcknowledgment(ctx, "unknown")
	assert.True(t, errors.Is(err, transport.ErrUnknownHandle))
}

func TestDuplicateSequenceRejected(t *testing.T) {
	attacher := testAttacher(t, fixedAllocator(3))
	tr := InitTransport(attacher.Digester())
	ctx := context.Background()

	first := build(t, attacher)
	_, err := tr.Send(ctx, first)
	require.NoError(t, err)

	second := build(t, attacher)
	handle, err := tr.Send(ctx, second)
	require.NoError(t, err)

	ack, err := tr.AwaitAcknowledgment(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, transport.AcknowledgmentStatusRejected, ack.Status)
	assert.Contains(t, ack.Reason, transport.RejectionDuplicateSequence)
	assert.True(t, tr.Delivered(first))
	assert.False(t, tr.Delivered(second))
}

func TestSimulatedFailures(t *testing.T) {
	attacher := testAttacher(t, providers.InitMemorySequenceAllocator())
	tr := InitTransport(attacher.Digester())
	envelope := build(t, attacher)
	ctx := context.Background()

	tr.SetUnavailable(true)
	_, err := tr.Send(ctx, envelope)
	assert.True(t, errors.Is(err, ErrUnavailable))
	tr.SetUnavailable(false)

	tr.FailNextSends(1)
	_, err = tr.Send(ctx, envelope)
	assert.ErrorIs(t, err, transport.ErrNotSent)
	assert.Equal(t, 0, tr.Sends())

	cancelled, cancelSend := context.WithCancel(ctx)
	cancelSend()
	_, err = tr.Send(cancelled, envelope)
	assert.ErrorIs(t, err, transport.ErrNotSent)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, tr.Delivered(envelope))

	handle, err := tr.Send(ctx, envelope)
	require.NoError(t, err)

	tr.HoldAcknowledgments(true)
	ack, err := tr.AwaitAcknowledgment(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, transport.AcknowledgmentStatusPending, ack.Status)
	tr.HoldAcknowledgments(false)

	tr.TimeOutNextAcknowledgments(1)
	ack, err = tr.AwaitAcknowledgment(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, transport.AcknowledgmentStatusTimedOut, ack.Status)

	tr.BlockAcknowledgments(true)
	timeout, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = tr.AwaitAcknowledgment(timeout, handle)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
