// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cryptor

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_RandomGUID(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	p, err := New()
	require.NoError(err)

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id, err := p.RandomGUID()
		require.NoError(err)
		assert.NotEmpty(id)
		assert.False(seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestProvider_SHA256(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	var p Provider
	want := sha256.Sum256([]byte("chunky-monkey"))
	assert.Equal(want[:], p.SHA256("chunky-monkey"))
}

func TestBase64URL(t *testing.T) {
	t.Parallel()
	t.Run("round-trip", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got := Base64URLEncode([]byte{0xff, 0xfe, 0x00, 0x01})
		decoded, err := Base64URLDecode(got)
		require.NoError(err)
		assert.Equal([]byte{0xff, 0xfe, 0x00, 0x01}, decoded)
	})
	t.Run("rejects-padding", func(t *testing.T) {
		assert := assert.New(t)
		_, err := Base64URLDecode("aGk=")
		assert.Error(err)
		assert.True(errors.Is(err, ErrInvalidParameter))
	})
}

func TestProvider_SigningKeys(t *testing.T) {
	t.Parallel()
	t.Run("generate-and-get", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p, err := New()
		require.NoError(err)

		thumbprint, err := p.GenerateSigningKeyPair()
		require.NoError(err)
		require.NotEmpty(thumbprint)

		priv, err := p.SigningKey(thumbprint)
		require.NoError(err)
		assert.NotNil(priv)
	})
	t.Run("unknown-thumbprint", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p, err := New()
		require.NoError(err)

		_, err = p.SigningKey("never-generated")
		require.Error(err)
		assert.True(errors.Is(err, ErrKeyNotFound))
	})
	t.Run("remove", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p, err := New()
		require.NoError(err)

		thumbprint, err := p.GenerateSigningKeyPair()
		require.NoError(err)
		p.RemoveSigningKey(thumbprint)
		_, err = p.SigningKey(thumbprint)
		assert.True(errors.Is(err, ErrKeyNotFound))
	})
}

func TestNewCodeVerifier(t *testing.T) {
	t.Parallel()
	t.Run("basics", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got, err := NewCodeVerifier()
		require.NoError(err)
		assert.Equal(minVerifierLen, len(got.verifier))
		assert.Equal(S256, got.Method())

		challenge, err := CreateCodeChallenge(got)
		require.NoError(err)
		assert.Equal(challenge, got.Challenge())
	})
	t.Run("from-string", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		orig, err := NewCodeVerifier()
		require.NoError(err)
		restored, err := NewCodeVerifierFromString(orig.Verifier())
		require.NoError(err)
		assert.Equal(orig.Challenge(), restored.Challenge())
	})
	t.Run("from-short-string", func(t *testing.T) {
		assert := assert.New(t)
		_, err := NewCodeVerifierFromString("too-short")
		assert.True(errors.Is(err, ErrInvalidParameter))
	})
}

func TestCreateCodeChallenge(t *testing.T) {
	t.Parallel()
	calcHash := func(data []byte) string {
		sum := sha256.Sum256(data)
		return base64.RawURLEncoding.EncodeToString(sum[:])
	}
	t.Run("basics", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		v, err := NewCodeVerifier()
		require.NoError(err)
		challenge, err := CreateCodeChallenge(v)
		require.NoError(err)
		assert.Equal(calcHash([]byte(v.Verifier())), challenge)
	})
	t.Run("invalid-method", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		v, err := NewCodeVerifier()
		require.NoError(err)
		v.method = ChallengeMethod("S512")
		challenge, err := CreateCodeChallenge(v)
		require.Error(err)
		assert.Empty(challenge)
		assert.True(errors.Is(err, ErrUnsupportedChallengeMethod))
	})
}

func TestProvider_EncryptDecrypt(t *testing.T) {
	t.Parallel()
	newKey := func(t *testing.T, p *Provider, secret string) []byte {
		t.Helper()
		key, err := p.DeriveCacheKey([]byte(secret), []byte("salt"))
		require.NoError(t, err)
		return key
	}

	p, err := New()
	require.NoError(t, err)

	t.Run("round-trip", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		key := newKey(t, p, "secret-material")
		env, err := p.Encrypt(key, []byte(`{"homeAccountId":"uid.utid"}`), "client-1")
		require.NoError(err)

		plaintext, err := p.Decrypt(key, env.Nonce, "client-1", env.Data)
		require.NoError(err)
		assert.Equal([]byte(`{"homeAccountId":"uid.utid"}`), plaintext)
	})
	t.Run("wrong-context", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		key := newKey(t, p, "secret-material")
		env, err := p.Encrypt(key, []byte("data"), "client-1")
		require.NoError(err)

		_, err = p.Decrypt(key, env.Nonce, "client-2", env.Data)
		require.Error(err)
		assert.True(errors.Is(err, ErrDecryptionFailed))
	})
	t.Run("wrong-key", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env, err := p.Encrypt(newKey(t, p, "secret-a"), []byte("data"), "shared")
		require.NoError(err)

		_, err = p.Decrypt(newKey(t, p, "secret-b"), env.Nonce, "shared", env.Data)
		require.Error(err)
		assert.True(errors.Is(err, ErrDecryptionFailed))
	})
	t.Run("tampered-ciphertext", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		key := newKey(t, p, "secret-material")
		env, err := p.Encrypt(key, []byte("data"), "shared")
		require.NoError(err)
		env.Data[0] ^= 0x01

		_, err = p.Decrypt(key, env.Nonce, "shared", env.Data)
		require.Error(err)
		assert.True(errors.Is(err, ErrDecryptionFailed))
	})
	t.Run("derivation-is-deterministic", func(t *testing.T) {
		assert := assert.New(t)
		assert.Equal(newKey(t, p, "same"), newKey(t, p, "same"))
		assert.NotEqual(newKey(t, p, "same"), newKey(t, p, "different"))
	})
}
