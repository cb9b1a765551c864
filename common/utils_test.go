package common

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/stretchr/testify/assert"
)

func TestGnarkCurveIDFactory(t *testing.T) {
	cases := map[string]ecc.ID{
		"bn254":     ecc.BN254,
		"BN254":     ecc.BN254,
		"bls12_377": ecc.BLS12_377,
		"BLS12_381": ecc.BLS12_381,
		"bw6_761":   ecc.BW6_761,
		"Bls24_315": ecc.BLS24_315,
		"secp256k1": ecc.UNKNOWN,
		"":          ecc.UNKNOWN,
	}

	for name, expected := range cases {
		name := name
		assert.Equal(t, expected, GnarkCurveIDFactory(&name), name)
	}
	assert.Equal(t, ecc.UNKNOWN, GnarkCurveIDFactory(nil))
}

func TestGnarkCurveIDFactoryResolvesDefaultCurve(t *testing.T) {
	curve := defaultProofDigestCurve
	assert.Equal(t, ecc.BN254, GnarkCurveIDFactory(&curve))
}
