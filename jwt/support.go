/*
Copyright OpenWallet Foundation Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package jwt

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"math/big"
)

const (
	signatureEdDSA = "EdDSA"
	signatureRS256 = "RS256"
	signatureES256 = "ES256"

	es256KeySize = 32
)

// Ed25519Signer is a JOSE compliant EdDSA signer.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	headers Headers
}

// NewEd25519Signer returns a signer that can be passed to jwt.NewSigned().
func NewEd25519Signer(privKey ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{
		privKey: privKey,
		headers: prepareJWSHeaders(nil, signatureEdDSA),
	}
}

// Sign data.
func (s Ed25519Signer) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(s.privKey, data), nil
}

// Headers returns the signer's headers map.
func (s Ed25519Signer) Headers() Headers {
	return s.headers
}

// Ed25519Verifier is a JOSE compliant EdDSA verifier.
type Ed25519Verifier struct {
	pubKey ed25519.PublicKey
}

// NewEd25519Verifier returns a verifier that can be passed as an option to jwt.Parse().
func NewEd25519Verifier(pubKey ed25519.PublicKey) (*Ed25519Verifier, error) {
	if l := len(pubKey); l != ed25519.PublicKeySize {
		return nil, errors.New("bad ed25519 public key length")
	}

	return &Ed25519Verifier{pubKey: pubKey}, nil
}

// Verify signingInput against the signature. It also validates that joseHeaders includes the right alg.
func (v Ed25519Verifier) Verify(joseHeaders Headers, _, signingInput, signature []byte) error {
	alg, ok := joseHeaders.Algorithm()
	if !ok {
		return errors.New("alg is not defined")
	}

	if alg != signatureEdDSA {
		return errors.New("alg is not EdDSA")
	}

	if ok := ed25519.Verify(v.pubKey, signingInput, signature); !ok {
		return errors.New("signature doesn't match")
	}

	return nil
}

// RS256Signer is a JOSE compliant RS256 signer.
type RS256Signer struct {
	privKey *rsa.PrivateKey
	headers Headers
}

// NewRS256Signer returns a signer that can be passed to jwt.NewSigned().
func NewRS256Signer(privKey *rsa.PrivateKey, headers Headers) *RS256Signer {
	return &RS256Signer{
		privKey: privKey,
		headers: prepareJWSHeaders(headers, signatureRS256),
	}
}

// Sign data.
func (s RS256Signer) Sign(data []byte) ([]byte, error) {
	hash := crypto.SHA256.New()

	_, err := hash.Write(data)
	if err != nil {
		return nil, err
	}

	hashed := hash.Sum(nil)

	return rsa.SignPKCS1v15(rand.Reader, s.privKey, crypto.SHA256, hashed)
}

// Headers returns the signer's headers map.
func (s RS256Signer) Headers() Headers {
	return s.headers
}

// RS256Verifier is a JOSE compliant RS256 verifier.
type RS256Verifier struct {
	pubKey *rsa.PublicKey
}

// NewRS256Verifier returns a verifier that can be passed as an option to jwt.Parse().
func NewRS256Verifier(pubKey *rsa.PublicKey) *RS256Verifier {
	return &RS256Verifier{pubKey: pubKey}
}

// Verify signingInput against the signature. It also validates that joseHeaders includes the right alg.
func (v RS256Verifier) Verify(joseHeaders Headers, _, signingInput, signature []byte) error {
	alg, ok := joseHeaders.Algorithm()
	if !ok {
		return errors.New("alg is not defined")
	}

	if alg != signatureRS256 {
		return errors.New("alg is not RS256")
	}

	hash := crypto.SHA256.New()

	_, err := hash.Write(signingInput)
	if err != nil {
		return err
	}

	hashed := hash.Sum(nil)

	return rsa.VerifyPKCS1v15(v.pubKey, crypto.SHA256, hashed, signature)
}

// ES256Signer is a JOSE compliant ES256 (P-256) signer.
type ES256Signer struct {
	privKey *ecdsa.PrivateKey
	headers Headers
}

// NewES256Signer returns a signer that can be passed to jwt.NewSigned().
func NewES256Signer(privKey *ecdsa.PrivateKey, headers Headers) (*ES256Signer, error) {
	if privKey.Curve != elliptic.P256() {
		return nil, errors.New("ES256 requires a P-256 key")
	}

	return &ES256Signer{
		privKey: privKey,
		headers: prepareJWSHeaders(headers, signatureES256),
	}, nil
}

// Sign data.
func (s ES256Signer) Sign(data []byte) ([]byte, error) {
	hash := crypto.SHA256.New()

	_, err := hash.Write(data)
	if err != nil {
		return nil, err
	}

	hashed := hash.Sum(nil)

	r, sVal, err := ecdsa.Sign(rand.Reader, s.privKey, hashed)
	if err != nil {
		return nil, err
	}

	signature := make([]byte, 2*es256KeySize)
	r.FillBytes(signature[:es256KeySize])
	sVal.FillBytes(signature[es256KeySize:])

	return signature, nil
}

// Headers returns the signer's headers map.
func (s ES256Signer) Headers() Headers {
	return s.headers
}

// ES256Verifier is a JOSE compliant ES256 verifier.
type ES256Verifier struct {
	pubKey *ecdsa.PublicKey
}

// NewES256Verifier returns a verifier that can be passed as an option to jwt.Parse().
func NewES256Verifier(pubKey *ecdsa.PublicKey) (*ES256Verifier, error) {
	if pubKey.Curve != elliptic.P256() {
		return nil, errors.New("ES256 requires a P-256 key")
	}

	return &ES256Verifier{pubKey: pubKey}, nil
}

// Verify signingInput against the signature. It also validates that joseHeaders includes the right alg.
func (v ES256Verifier) Verify(joseHeaders Headers, _, signingInput, signature []byte) error {
	alg, ok := joseHeaders.Algorithm()
	if !ok {
		return errors.New("alg is not defined")
	}

	if alg != signatureES256 {
		return errors.New("alg is not ES256")
	}

	if len(signature) != 2*es256KeySize {
		return errors.New("bad ES256 signature length")
	}

	hash := crypto.SHA256.New()

	_, err := hash.Write(signingInput)
	if err != nil {
		return err
	}

	hashed := hash.Sum(nil)

	r := new(big.Int).SetBytes(signature[:es256KeySize])
	s := new(big.Int).SetBytes(signature[es256KeySize:])

	if !ecdsa.Verify(v.pubKey, hashed, r, s) {
		return errors.New("signature doesn't match")
	}

	return nil
}

// VerifierForKey returns a SignatureVerifier matching the type of the given public key.
func VerifierForKey(pubKey crypto.PublicKey) (SignatureVerifier, error) {
	switch key := pubKey.(type) {
	case ed25519.PublicKey:
		return NewEd25519Verifier(key)
	case *rsa.PublicKey:
		return NewRS256Verifier(key), nil
	case *ecdsa.PublicKey:
		return NewES256Verifier(key)
	default:
		return nil, fmt.Errorf("unsupported public key type %T", pubKey)
	}
}

func prepareJWSHeaders(headers Headers, alg string) Headers {
	newHeaders := make(Headers)

	for k, v := range headers {
		newHeaders[k] = v
	}

	newHeaders[HeaderAlgorithm] = alg

	return newHeaders
}
