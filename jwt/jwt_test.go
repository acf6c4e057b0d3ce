/*
Copyright OpenWallet Foundation Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package jwt

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type testClaims struct {
	Issuer  string `json:"iss,omitempty"`
	Subject string `json:"sub,omitempty"`
}

func TestNewSignedAndParse_Ed25519(t *testing.T) {
	r := require.New(t)

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	r.NoError(err)

	signer := NewEd25519Signer(privKey)

	verifier, err := NewEd25519Verifier(pubKey)
	r.NoError(err)

	token, err := NewSigned(&testClaims{Issuer: "issuer", Subject: "subject"}, nil, signer)
	r.NoError(err)

	serialized, err := token.Serialize()
	r.NoError(err)

	t.Run("success - parse and verify", func(t *testing.T) {
		parsed, payload, err := Parse(serialized, WithSignatureVerifier(verifier))
		r.NoError(err)
		r.NotEmpty(payload)
		r.Equal("issuer", parsed.Payload["iss"])
		r.Equal("subject", parsed.Payload["sub"])

		alg, ok := parsed.Headers.Algorithm()
		r.True(ok)
		r.Equal("EdDSA", alg)
	})

	t.Run("success - parse without verifier leaves signature unchecked", func(t *testing.T) {
		parsed, _, err := Parse(serialized)
		r.NoError(err)
		r.Equal("issuer", parsed.Payload["iss"])
	})

	t.Run("success - serialize round trip", func(t *testing.T) {
		parsed, _, err := Parse(serialized, WithSignatureVerifier(verifier))
		r.NoError(err)

		reserialized, err := parsed.Serialize()
		r.NoError(err)
		r.Equal(serialized, reserialized)
	})

	t.Run("error - tampered payload", func(t *testing.T) {
		parts := strings.Split(serialized, ".")
		parts[1] = base64.RawURLEncoding.EncodeToString([]byte(`{"iss":"evil"}`))

		parsed, _, err := Parse(strings.Join(parts, "."), WithSignatureVerifier(verifier))
		r.Error(err)
		r.Nil(parsed)
		r.Contains(err.Error(), "verify JWT signature")
	})

	t.Run("error - wrong key", func(t *testing.T) {
		otherPubKey, _, err := ed25519.GenerateKey(rand.Reader)
		r.NoError(err)

		otherVerifier, err := NewEd25519Verifier(otherPubKey)
		r.NoError(err)

		parsed, _, err := Parse(serialized, WithSignatureVerifier(otherVerifier))
		r.Error(err)
		r.Nil(parsed)
	})

	t.Run("error - not a compact JWS", func(t *testing.T) {
		parsed, _, err := Parse("not-a-jwt")
		r.Error(err)
		r.Nil(parsed)
		r.Contains(err.Error(), "JWT of compacted JWS form is supported only")
	})
}

func TestNewSignedAndParse_RS256(t *testing.T) {
	r := require.New(t)

	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	r.NoError(err)

	signer := NewRS256Signer(privKey, nil)
	verifier := NewRS256Verifier(&privKey.PublicKey)

	token, err := NewSigned(&testClaims{Issuer: "issuer"}, nil, signer)
	r.NoError(err)

	serialized, err := token.Serialize()
	r.NoError(err)

	parsed, _, err := Parse(serialized, WithSignatureVerifier(verifier))
	r.NoError(err)
	r.Equal("issuer", parsed.Payload["iss"])

	alg, ok := parsed.Headers.Algorithm()
	r.True(ok)
	r.Equal("RS256", alg)
}

func TestNewSignedAndParse_ES256(t *testing.T) {
	r := require.New(t)

	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	r.NoError(err)

	signer, err := NewES256Signer(privKey, nil)
	r.NoError(err)

	verifier, err := NewES256Verifier(&privKey.PublicKey)
	r.NoError(err)

	token, err := NewSigned(&testClaims{Issuer: "issuer"}, nil, signer)
	r.NoError(err)

	serialized, err := token.Serialize()
	r.NoError(err)

	parsed, _, err := Parse(serialized, WithSignatureVerifier(verifier))
	r.NoError(err)
	r.Equal("issuer", parsed.Payload["iss"])

	t.Run("error - P-384 key rejected", func(t *testing.T) {
		p384Key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
		r.NoError(err)

		_, err = NewES256Signer(p384Key, nil)
		r.Error(err)

		_, err = NewES256Verifier(&p384Key.PublicKey)
		r.Error(err)
	})
}

func TestNewSigned_HeadersMerge(t *testing.T) {
	r := require.New(t)

	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	r.NoError(err)

	token, err := NewSigned(&testClaims{Issuer: "issuer"},
		Headers{"typ": "kb+jwt", "kid": "key-1"}, NewEd25519Signer(privKey))
	r.NoError(err)

	typ, ok := token.Headers.Type()
	r.True(ok)
	r.Equal("kb+jwt", typ)

	kid, ok := token.Headers.KeyID()
	r.True(ok)
	r.Equal("key-1", kid)

	alg, ok := token.Headers.Algorithm()
	r.True(ok)
	r.Equal("EdDSA", alg)
}

func TestVerifierForKey(t *testing.T) {
	r := require.New(t)

	t.Run("success - ed25519", func(t *testing.T) {
		pubKey, _, err := ed25519.GenerateKey(rand.Reader)
		r.NoError(err)

		verifier, err := VerifierForKey(pubKey)
		r.NoError(err)
		r.IsType(&Ed25519Verifier{}, verifier)
	})

	t.Run("success - rsa", func(t *testing.T) {
		privKey, err := rsa.GenerateKey(rand.Reader, 2048)
		r.NoError(err)

		verifier, err := VerifierForKey(&privKey.PublicKey)
		r.NoError(err)
		r.IsType(&RS256Verifier{}, verifier)
	})

	t.Run("success - ecdsa", func(t *testing.T) {
		privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		r.NoError(err)

		verifier, err := VerifierForKey(&privKey.PublicKey)
		r.NoError(err)
		r.IsType(&ES256Verifier{}, verifier)
	})

	t.Run("error - unsupported key type", func(t *testing.T) {
		verifier, err := VerifierForKey("not a key")
		r.Error(err)
		r.Nil(verifier)
		r.Contains(err.Error(), "unsupported public key type")
	})
}

func TestUnsecuredJWTVerifier(t *testing.T) {
	r := require.New(t)

	verifier := UnsecuredJWTVerifier()

	t.Run("success", func(t *testing.T) {
		r.NoError(verifier.Verify(Headers{"alg": "none"}, nil, nil, nil))
	})

	t.Run("error - alg not none", func(t *testing.T) {
		err := verifier.Verify(Headers{"alg": "EdDSA"}, nil, nil, nil)
		r.Error(err)
		r.Contains(err.Error(), "alg value is not 'none'")
	})

	t.Run("error - non-empty signature", func(t *testing.T) {
		err := verifier.Verify(Headers{"alg": "none"}, nil, nil, []byte("sig"))
		r.Error(err)
		r.Contains(err.Error(), "not empty signature")
	})
}

func TestIsCompactJWS(t *testing.T) {
	r := require.New(t)

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))

	r.True(IsCompactJWS(header + ".e30."))
	r.False(IsCompactJWS("a.b"))
	r.False(IsCompactJWS("not-base64.e30.sig"))
	r.False(IsCompactJWS("a.b.c.d"))
}

func TestPayloadToMap(t *testing.T) {
	r := require.New(t)

	t.Run("success - map passes through", func(t *testing.T) {
		m := map[string]interface{}{"a": "b"}

		res, err := PayloadToMap(m)
		r.NoError(err)
		r.Equal(m, res)
	})

	t.Run("success - struct is marshalled", func(t *testing.T) {
		res, err := PayloadToMap(&testClaims{Issuer: "issuer"})
		r.NoError(err)
		r.Equal("issuer", res["iss"])
	})

	t.Run("success - bytes and string", func(t *testing.T) {
		res, err := PayloadToMap([]byte(`{"a":"b"}`))
		r.NoError(err)
		r.Equal("b", res["a"])

		res, err = PayloadToMap(`{"a":"b"}`)
		r.NoError(err)
		r.Equal("b", res["a"])
	})

	t.Run("error - invalid JSON", func(t *testing.T) {
		res, err := PayloadToMap("{")
		r.Error(err)
		r.Nil(res)
	})
}
