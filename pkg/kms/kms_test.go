package kms

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/contracts"
)

// testKDF keeps scrypt cheap in tests.
var testKDF = KDFParams{N: 1024, R: 8, P: 1}

func newTestCipher(t *testing.T, secret string) *Cipher {
	t.Helper()
	c, err := NewCipher(Config{
		MasterSecret: []byte(secret),
		Salt:         bytes.Repeat([]byte("s"), 16),
		KDF:          testKDF,
	})
	require.NoError(t, err)
	return c
}

func TestCipher_SealOpen(t *testing.T) {
	c := newTestCipher(t, "correct horse battery staple")
	secret := bytes.Repeat([]byte{7}, 64)
	aad := []byte("realm-1|treasury|pub")

	iv, ct, err := c.Seal(secret, aad)
	require.NoError(t, err)
	assert.Len(t, iv, 12)
	assert.NotContains(t, string(ct), string(secret))

	pt, err := c.Open(iv, ct, aad)
	require.NoError(t, err)
	assert.Equal(t, secret, pt)
}

func TestCipher_FreshNoncePerSeal(t *testing.T) {
	c := newTestCipher(t, "master")
	iv1, ct1, err := c.Seal([]byte("same"), nil)
	require.NoError(t, err)
	iv2, ct2, err := c.Seal([]byte("same"), nil)
	require.NoError(t, err)
	assert.NotEqual(t, iv1, iv2)
	assert.NotEqual(t, ct1, ct2)
}

func TestCipher_WrongMasterSecret(t *testing.T) {
	good := newTestCipher(t, "master-a")
	bad := newTestCipher(t, "master-b")
	assert.NotEqual(t, good.Fingerprint(), bad.Fingerprint())

	iv, ct, err := good.Seal([]byte("treasury-seed"), nil)
	require.NoError(t, err)

	pt, err := bad.Open(iv, ct, nil)
	require.ErrorIs(t, err, contracts.ErrCorruptedKey)
	assert.Nil(t, pt)
}

func TestCipher_TamperAndAADMismatch(t *testing.T) {
	c := newTestCipher(t, "master")
	iv, ct, err := c.Seal([]byte("treasury-seed"), []byte("owner-a"))
	require.NoError(t, err)

	_, err = c.Open(iv, ct, []byte("owner-b"))
	require.ErrorIs(t, err, contracts.ErrCorruptedKey)

	tampered := append([]byte(nil), ct...)
	tampered[0] ^= 0xFF
	_, err = c.Open(iv, tampered, []byte("owner-a"))
	require.ErrorIs(t, err, contracts.ErrCorruptedKey)

	_, err = c.Open(iv[:4], ct, []byte("owner-a"))
	require.ErrorIs(t, err, contracts.ErrCorruptedKey)

	_, err = c.Open(iv, ct[:3], []byte("owner-a"))
	require.ErrorIs(t, err, contracts.ErrCorruptedKey)
}

func TestCipher_SealEmpty(t *testing.T) {
	c := newTestCipher(t, "master")
	_, _, err := c.Seal(nil, nil)
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	salt := bytes.Repeat([]byte("s"), 16)
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"valid", Config{MasterSecret: []byte("x"), Salt: salt, KDF: DefaultKDFParams()}, true},
		{"no secret", Config{Salt: salt, KDF: DefaultKDFParams()}, false},
		{"short salt", Config{MasterSecret: []byte("x"), Salt: []byte("abc"), KDF: DefaultKDFParams()}, false},
		{"N not power of two", Config{MasterSecret: []byte("x"), Salt: salt, KDF: KDFParams{N: 1000, R: 8, P: 1}}, false},
		{"zero r", Config{MasterSecret: []byte("x"), Salt: salt, KDF: KDFParams{N: 1024, R: 0, P: 1}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}
