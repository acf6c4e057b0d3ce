/*
Copyright OpenWallet Foundation Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package jwt provides the compact JWS layer the selective-disclosure
// packages are built on: signing-input construction, parsing and signature
// verification behind pluggable Signer/SignatureVerifier interfaces.
package jwt

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-jose/go-jose/v3/json"
)

const (
	// HeaderAlgorithm identifies the JWS signing algorithm ("alg").
	HeaderAlgorithm = "alg"
	// HeaderType identifies the token type ("typ").
	HeaderType = "typ"
	// HeaderKeyID identifies the signing key ("kid").
	HeaderKeyID = "kid"

	// AlgorithmNone is used to indicate unsecured JWT.
	AlgorithmNone = "none"
)

// Headers represents JOSE headers.
type Headers map[string]interface{}

// Algorithm returns the "alg" header.
func (h Headers) Algorithm() (string, bool) {
	return h.stringValue(HeaderAlgorithm)
}

// Type returns the "typ" header.
func (h Headers) Type() (string, bool) {
	return h.stringValue(HeaderType)
}

// KeyID returns the "kid" header.
func (h Headers) KeyID() (string, bool) {
	return h.stringValue(HeaderKeyID)
}

func (h Headers) stringValue(name string) (string, bool) {
	v, ok := h[name]
	if !ok {
		return "", false
	}

	s, ok := v.(string)

	return s, ok
}

// Signer defines JWS signer operations.
type Signer interface {
	// Sign signs the JWS signing input.
	Sign(data []byte) ([]byte, error)

	// Headers returns the protected headers the signer contributes (at minimum "alg").
	Headers() Headers
}

// SignatureVerifier validates a JWS signature against the protected headers and signing input.
type SignatureVerifier interface {
	Verify(joseHeaders Headers, payload, signingInput, signature []byte) error
}

type signatureVerifierFunc func(joseHeaders Headers, payload, signingInput, signature []byte) error

func (v signatureVerifierFunc) Verify(joseHeaders Headers, payload, signingInput, signature []byte) error {
	return v(joseHeaders, payload, signingInput, signature)
}

// UnsecuredJWTVerifier provides verifier for unsecured JWT.
func UnsecuredJWTVerifier() SignatureVerifier {
	return signatureVerifierFunc(func(joseHeaders Headers, _, _, signature []byte) error {
		alg, ok := joseHeaders.Algorithm()
		if !ok {
			return errors.New("alg is not defined")
		}

		if alg != AlgorithmNone {
			return errors.New("alg value is not 'none'")
		}

		if len(signature) > 0 {
			return errors.New("not empty signature")
		}

		return nil
	})
}

// JSONWebToken defines a parsed or newly signed JSON Web Token
// (https://tools.ietf.org/html/rfc7519).
type JSONWebToken struct {
	Headers Headers

	Payload map[string]interface{}

	signingInput []byte
	signature    []byte
}

// parseOpts holds options for the JWT parsing.
type parseOpts struct {
	sigVerifier SignatureVerifier
}

// ParseOpt is the JWT Parser option.
type ParseOpt func(opts *parseOpts)

// WithSignatureVerifier option is for definition of signature verifier.
// Without this option the token is parsed but its signature is not checked.
func WithSignatureVerifier(signatureVerifier SignatureVerifier) ParseOpt {
	return func(opts *parseOpts) {
		opts.sigVerifier = signatureVerifier
	}
}

// Parse parses input JWT in compact JWS form into a JSON Web Token.
func Parse(jwtSerialized string, opts ...ParseOpt) (*JSONWebToken, []byte, error) {
	if !IsCompactJWS(jwtSerialized) {
		return nil, nil, errors.New("JWT of compacted JWS form is supported only")
	}

	pOpts := &parseOpts{}

	for _, opt := range opts {
		opt(pOpts)
	}

	parts := strings.Split(jwtSerialized, ".")

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, nil, fmt.Errorf("decode JWT protected header: %w", err)
	}

	var headers Headers
	if err = json.Unmarshal(headerBytes, &headers); err != nil {
		return nil, nil, fmt.Errorf("unmarshal JWT protected header: %w", err)
	}

	if err = checkHeaders(headers); err != nil {
		return nil, nil, fmt.Errorf("check JWT headers: %w", err)
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, fmt.Errorf("decode JWT payload: %w", err)
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, nil, fmt.Errorf("decode JWT signature: %w", err)
	}

	signingInput := []byte(parts[0] + "." + parts[1])

	if pOpts.sigVerifier != nil {
		if err = pOpts.sigVerifier.Verify(headers, payloadBytes, signingInput, signature); err != nil {
			return nil, nil, fmt.Errorf("verify JWT signature: %w", err)
		}
	}

	claims, err := PayloadToMap(payloadBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("read JWT claims from JWS payload: %w", err)
	}

	return &JSONWebToken{
		Headers:      headers,
		Payload:      claims,
		signingInput: signingInput,
		signature:    signature,
	}, payloadBytes, nil
}

// DecodeClaims fills input c with claims of a token.
func (j *JSONWebToken) DecodeClaims(c interface{}) error {
	pBytes, err := json.Marshal(j.Payload)
	if err != nil {
		return err
	}

	return json.Unmarshal(pBytes, c)
}

// LookupStringHeader makes look up of particular header with string value.
func (j *JSONWebToken) LookupStringHeader(name string) string {
	if headerValue, ok := j.Headers[name]; ok {
		if headerStrValue, ok := headerValue.(string); ok {
			return headerStrValue
		}
	}

	return ""
}

// Serialize makes compact serialization of token.
func (j *JSONWebToken) Serialize() (string, error) {
	if len(j.signingInput) == 0 {
		return "", errors.New("JWS serialization is supported only")
	}

	return string(j.signingInput) + "." + base64.RawURLEncoding.EncodeToString(j.signature), nil
}

// NewSigned creates new signed JSON Web Token based on input claims.
// Headers supplied by the caller are merged over the signer's headers.
func NewSigned(claims interface{}, headers Headers, signer Signer) (*JSONWebToken, error) {
	payloadMap, err := PayloadToMap(claims)
	if err != nil {
		return nil, fmt.Errorf("unmarshallable claims: %w", err)
	}

	joseHeaders := mergeHeaders(signer.Headers(), headers)

	if _, ok := joseHeaders.Algorithm(); !ok {
		return nil, errors.New("signer did not provide alg header")
	}

	headerBytes, err := json.Marshal(joseHeaders)
	if err != nil {
		return nil, fmt.Errorf("marshal JWT headers: %w", err)
	}

	payloadBytes, err := json.Marshal(payloadMap)
	if err != nil {
		return nil, fmt.Errorf("marshal JWT claims: %w", err)
	}

	// JWS compact serialization uses only protected headers (https://tools.ietf.org/html/rfc7515#section-3.1).
	signingInput := []byte(base64.RawURLEncoding.EncodeToString(headerBytes) + "." +
		base64.RawURLEncoding.EncodeToString(payloadBytes))

	signature, err := signer.Sign(signingInput)
	if err != nil {
		return nil, fmt.Errorf("sign JWT: %w", err)
	}

	return &JSONWebToken{
		Headers:      joseHeaders,
		Payload:      payloadMap,
		signingInput: signingInput,
		signature:    signature,
	}, nil
}

func mergeHeaders(signerHeaders, headers Headers) Headers {
	merged := make(Headers)

	for k, v := range signerHeaders {
		merged[k] = v
	}

	for k, v := range headers {
		merged[k] = v
	}

	return merged
}

// IsCompactJWS checks if the string is a compact JWS of valid structure.
func IsCompactJWS(s string) bool {
	parts := strings.Split(s, ".")

	return len(parts) == 3 && isValidJSON(parts[0])
}

func isValidJSON(s string) bool {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return false
	}

	var j map[string]interface{}
	err = json.Unmarshal(b, &j)

	return err == nil
}

func checkHeaders(headers map[string]interface{}) error {
	if _, ok := headers[HeaderAlgorithm]; !ok {
		return errors.New("alg header is not defined")
	}

	return nil
}

// PayloadToMap transforms claims into a map representation.
func PayloadToMap(i interface{}) (map[string]interface{}, error) {
	if reflect.ValueOf(i).Kind() == reflect.Map {
		return i.(map[string]interface{}), nil
	}

	var (
		b   []byte
		err error
	)

	switch cv := i.(type) {
	case []byte:
		b = cv
	case string:
		b = []byte(cv)
	default:
		b, err = json.Marshal(i)
		if err != nil {
			return nil, fmt.Errorf("marshal interface[%T]: %w", i, err)
		}
	}

	var m map[string]interface{}

	d := json.NewDecoder(bytes.NewReader(b))
	d.UseNumber()

	if err := d.Decode(&m); err != nil {
		return nil, fmt.Errorf("convert to map: %w", err)
	}

	return m, nil
}
