package proof

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/provideplatform/xchain/common"
	"github.com/provideplatform/xchain/proof/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingAllocator struct {
	calls int
}

func (a *failingAllocator) NextSequence(ctx context.Context, sender, target string) (uint64, error) {
	a.calls++
	return 0, errors.New("connection refused")
}

type countingAllocator struct {
	providers.SequenceAllocator
	calls int
}

func (a *countingAllocator) NextSequence(ctx context.Context, sender, target string) (uint64, error) {
	a.calls++
	return a.SequenceAllocator.NextSequence(ctx, sender, target)
}

func testAttacher(t *testing.T, allocator providers.SequenceAllocator) *Attacher {
	signer, err := NewEd25519Signer(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	attacher, err := NewAttacher("relay-chain", allocator, signer)
	require.NoError(t, err)
	return attacher.WithMaxPayloadSize(1024)
}

func TestBuildEnvelope(t *testing.T) {
	attacher := testAttacher(t, providers.InitMemorySequenceAllocator())
	payload := []byte(`{"transfer":{"amount":"1000"}}`)
	proof := []byte{0xde, 0xad, 0xbe, 0xef}

	envelope, err := attacher.BuildEnvelope(context.Background(), "para-2000", payload, proof)
	require.NoError(t, err)

	assert.Equal(t, "relay-chain", envelope.Sender())
	assert.Equal(t, "para-2000", envelope.Target())
	assert.Equal(t, uint64(1), envelope.Sequence())
	assert.Equal(t, payload, envelope.Payload())
	assert.Equal(t, proof, envelope.Proof())
	assert.NotEmpty(t, envelope.PayloadDigest())
	assert.NoError(t, envelope.Verify(attacher.Digester()))
}

func TestBuildEnvelopeCopiesInput(t *testing.T) {
	attacher := testAttacher(t, providers.InitMemorySequenceAllocator())
	payload := []byte("payload")
	proof := []byte("proof")

	envelope, err := attacher.BuildEnvelope(context.Background(), "para-2000", payload, proof)
	require.NoError(t, err)

	payload[0] = 'X'
	proof[0] = 'X'
	envelope.Payload()[1] = 'X'
	envelope.Proof()[1] = 'X'

	assert.Equal(t, []byte("payload"), envelope.Payload())
	assert.Equal(t, []byte("proof"), envelope.Proof())
	assert.NoError(t, envelope.Verify(attacher.Digester()))
}

func TestBuildEnvelopeRejectsEmptyProofWithoutAllocating(t *testing.T) {
	allocator := &countingAllocator{SequenceAllocator: providers.InitMemorySequenceAllocator()}
	attacher := testAttacher(t, allocator)

	_, err := attacher.BuildEnvelope(context.Background(), "para-2000", []byte("payload"), nil)
	assert.True(t, errors.Is(err, common.ErrProofEmpty))

	_, err = attacher.BuildEnvelope(context.Background(), "para-2000", []byte("payload"), []byte{})
	assert.True(t, errors.Is(err, common.ErrProofEmpty))
	assert.Equal(t, 0, allocator.calls)

	envelope, err := attacher.BuildEnvelope(context.Background(), "para-2000", []byte("payload"), []byte("proof"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), envelope.Sequence())
}

func TestBuildEnvelopeRejectsOversizedPayload(t *testing.T) {
	allocator := &countingAllocator{SequenceAllocator: providers.InitMemorySequenceAllocator()}
	attacher := testAttacher(t, allocator)

	_, err := attacher.BuildEnvelope(context.Background(), "para-2000", make([]byte, 1025), []byte("proof"))
	assert.True(t, errors.Is(err, common.ErrPayloadTooLarge))
	assert.Contains(t, err.Error(), "para-2000")
	assert.Equal(t, 0, allocator.calls)

	_, err = attacher.BuildEnvelope(context.Background(), "para-2000", make([]byte, 1024), []byte("proof"))
	assert.NoError(t, err)
}

func TestBuildEnvelopeAllocatorFailure(t *testing.T) {
	attacher := testAttacher(t, &failingAllocator{})

	_, err := attacher.BuildEnvelope(context.Background(), "para-2000", []byte("payload"), []byte("proof"))
	assert.True(t, errors.Is(err, common.ErrTransportUnavailable))
}

func TestBuildEnvelopeConcurrentSequencesAreUnique(t *testing.T) {
	attacher := testAttacher(t, providers.InitMemorySequenceAllocator())

	const n = 100
	var wg sync.WaitGroup
	sequences := make(chan uint64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			envelope, err := attacher.BuildEnvelope(context.Background(), "para-2000", []byte("payload"), []byte("proof"))
			if err != nil {
				t.Error(err)
				return
			}
			sequences <- envelope.Sequence()
		}()
	}
	wg.Wait()
	close(sequences)

	seen := map[uint64]bool{}
	for seq := range sequences {
		assert.False(t, seen[seq])
		seen[seq] = true
	}
	assert.Len(t, seen, n)
}

func TestEnvelopeVerifyDetectsTampering(t *testing.T) {
	attacher := testAttacher(t, providers.InitMemorySequenceAllocator())

	envelope, err := attacher.BuildEnvelope(context.Background(), "para-2000", []byte("payload"), []byte("proof"))
	require.NoError(t, err)

	tampered := *envelope
	tampered.payload = []byte("Payload")
	assert.Error(t, tampered.Verify(attacher.Digester()))

	tampered = *envelope
	tampered.sequence = 2
	assert.Error(t, tampered.Verify(attacher.Digester()))

	tampered = *envelope
	tampered.proof = nil
	assert.True(t, errors.Is(tampered.Verify(attacher.Digester()), common.ErrProofEmpty))
}

func TestEnvelopeJSONRoundTrip(t *testing.T) {
	attacher := testAttacher(t, providers.InitMemorySequenceAllocator()).WithClock(func() time.Time {
		return time.Date(2022, 10, 11, 8, 28, 31, 123456789, time.UTC)
	})

	envelope, err := attacher.BuildEnvelope(context.Background(), "para-2000", []byte{0, 1, 2, 255}, []byte("proof"))
	require.NoError(t, err)

	raw, err := json.Marshal(envelope)
	require.NoError(t, err)

	decoded := &Envelope{}
	require.NoError(t, json.Unmarshal(raw, decoded))
	assert.Equal(t, envelope.ID(), decoded.ID())
	assert.Equal(t, envelope.Payload(), decoded.Payload())
	assert.Equal(t, envelope.Proof(), decoded.Proof())
	assert.Equal(t, envelope.Header(), decoded.Header())
	assert.NoError(t, decoded.Verify(attacher.Digester()))
}

func TestPayloadAndProofRoundTrip(t *testing.T) {
	attacher := testAttacher(t, providers.InitMemorySequenceAllocator())
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("payload and proof bytes round-trip unchanged", prop.ForAll(
		func(payload, proof []byte) bool {
			if len(proof) == 0 {
				proof = []byte{0}
			}
			envelope, err := attacher.BuildEnvelope(context.Background(), "para-2000", payload, proof)
			if err != nil {
				return false
			}
			return bytes.Equal(envelope.Payload(), payload) &&
				bytes.Equal(envelope.Proof(), proof) &&
				envelope.Verify(attacher.Digester()) == nil
		},
		gen.SliceOf(gen.UInt8()),
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
