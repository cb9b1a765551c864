package proof

import (
	"bytes"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/provideplatform/xchain/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestIsDeterministic(t *testing.T) {
	digester, err := NewDigester("bn254")
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("xchain"), 40)
	d1, err := digester.Digest(payload)
	require.NoError(t, err)
	d2, err := digester.Digest(payload)
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 32)
}

func TestDigestBindsExactBytes(t *testing.T) {
	digester, err := NewDigester("bn254")
	require.NoError(t, err)

	cases := [][]byte{
		nil,
		[]byte("a"),
		[]byte("\x00a"),
		[]byte("a\x00"),
		bytes.Repeat([]byte{1}, 31),
		bytes.Repeat([]byte{1}, 32),
		bytes.Repeat([]byte{0xff}, 62),
	}

	seen := map[string]int{}
	for i, payload := range cases {
		digest, err := digester.Digest(payload)
		require.NoError(t, err)
		if j, ok := seen[string(digest)]; ok {
			t.Fatalf("payload %d collides with payload %d", i, j)
		}
		seen[string(digest)] = i
	}
}

func TestDigestSupportedCurves(t *testing.T) {
	for _, curve := range []string{"bn254", "bls12_377", "bls12_381", "bw6_761", "bls24_315"} {
		digester, err := NewDigester(curve)
		require.NoError(t, err, curve)

		digest, err := digester.Digest([]byte("payload"))
		require.NoError(t, err, curve)
		assert.NotEmpty(t, digest, curve)
	}
}

func TestDigestConfiguredCurve(t *testing.T) {
	digester, err := NewDigester(common.ProofDigestCurve)
	require.NoError(t, err)
	assert.Equal(t, ecc.BN254, digester.Curve())

	for _, curve := range []string{"BN254", "Bls12_381", "BW6_761"} {
		_, err := NewDigester(curve)
		assert.NoError(t, err, curve)
	}
}

func TestDigestUnsupportedCurve(t *testing.T) {
	_, err := NewDigester("secp256k1")
	assert.Error(t, err)

	_, err = hashFactory(ecc.UNKNOWN)
	assert.Error(t, err)
}

func TestSignatureVerification(t *testing.T) {
	signer, err := GenerateEd25519Signer()
	require.NoError(t, err)

	sig, err := signer.Sign([]byte("header"))
	require.NoError(t, err)
	assert.True(t, VerifySignature(signer.PublicKey(), []byte("header"), sig))
	assert.False(t, VerifySignature(signer.PublicKey(), []byte("Header"), sig))
	assert.False(t, VerifySignature([]byte{1, 2, 3}, []byte("header"), sig))

	_, err = NewEd25519Signer([]byte{1})
	assert.Error(t, err)
}
