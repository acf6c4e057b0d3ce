/*
Copyright OpenWallet Foundation Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package holder enables the Holder: an entity that receives SD-JWTs from the Issuer and has control over them.
package holder

import (
	"crypto"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v3/jwt"

	"github.com/openwallet-foundation-labs/sd-jwt-go/common"
	afjwt "github.com/openwallet-foundation-labs/sd-jwt-go/jwt"
)

// Claim defines claim.
type Claim struct {
	Disclosure string
	Name       string
	Value      interface{}
	Type       common.DisclosureClaimType
}

// parseOpts holds options for the SD-JWT parsing.
type parseOpts struct {
	sigVerifier afjwt.SignatureVerifier

	issuerSigningAlgorithms   []string
	leewayForClaimsValidation time.Duration

	expectedTypHeader string

	insecureHashAllowed bool
}

// ParseOpt is the SD-JWT Parser option.
type ParseOpt func(opts *parseOpts)

// WithSignatureVerifier option is for definition of signature verifier.
func WithSignatureVerifier(signatureVerifier afjwt.SignatureVerifier) ParseOpt {
	return func(opts *parseOpts) {
		opts.sigVerifier = signatureVerifier
	}
}

// WithIssuerSigningAlgorithms option is for defining secure signing algorithms (for holder verification).
func WithIssuerSigningAlgorithms(algorithms []string) ParseOpt {
	return func(opts *parseOpts) {
		opts.issuerSigningAlgorithms = algorithms
	}
}

// WithLeewayForClaimsValidation is an option for claims time(s) validation.
func WithLeewayForClaimsValidation(duration time.Duration) ParseOpt {
	return func(opts *parseOpts) {
		opts.leewayForClaimsValidation = duration
	}
}

// WithExpectedTypHeader is an option for JWT typ header validation.
func WithExpectedTypHeader(typ string) ParseOpt {
	return func(opts *parseOpts) {
		opts.expectedTypHeader = typ
	}
}

// WithInsecureHashAllowed admits tokens whose _sd_alg names a weak but
// recognized hash family. Callers set it only when they have accepted the
// risk explicitly; it matches the issuance-side override.
func WithInsecureHashAllowed() ParseOpt {
	return func(opts *parseOpts) {
		opts.insecureHashAllowed = true
	}
}

// Parse parses issuer SD-JWT and returns claims that can be selected.
// The Holder MUST perform the following (or equivalent) steps when receiving a Combined Format for Issuance:
//
//   - Separate the SD-JWT and the Disclosures in the Combined Format for Issuance.
//
//   - Hash all the Disclosures separately.
//
//   - Find the places in the SD-JWT where the digests of the Disclosures are included.
//
//   - If any of the digests cannot be found in the SD-JWT, the Holder MUST reject the SD-JWT.
//
//   - Decode Disclosures and obtain plaintext of the claim values.
//
//     It is up to the Holder how to maintain the mapping between the Disclosures and the plaintext claim values to
//     be able to display them to the End-User when needed.
func Parse(combinedFormatForIssuance string, opts ...ParseOpt) ([]*Claim, error) {
	defaultSigningAlgorithms := []string{"EdDSA", "RS256", "ES256"}

	pOpts := &parseOpts{
		issuerSigningAlgorithms:   defaultSigningAlgorithms,
		leewayForClaimsValidation: jwt.DefaultLeeway,
	}

	for _, opt := range opts {
		opt(pOpts)
	}

	cfi := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)

	signedJWT, _, err := afjwt.Parse(cfi.SDJWT, afjwt.WithSignatureVerifier(pOpts.sigVerifier))
	if err != nil {
		return nil, err
	}

	// Ensure that a signing algorithm was used that was deemed secure for the application.
	err = common.VerifySigningAlg(signedJWT.Headers, pOpts.issuerSigningAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("failed to verify issuer signing algorithm: %w", err)
	}

	if pOpts.expectedTypHeader != "" {
		if err = common.VerifyTyp(signedJWT.Headers, pOpts.expectedTypHeader); err != nil {
			return nil, fmt.Errorf("failed to verify typ header: %w", err)
		}
	}

	// Check that the SD-JWT is valid using nbf, iat, and exp claims,
	// if provided in the SD-JWT, and not selectively disclosed.
	err = common.VerifyJWT(signedJWT, pOpts.leewayForClaimsValidation, "")
	if err != nil {
		return nil, err
	}

	// Check that there are no duplicate disclosures
	err = common.CheckForDuplicates(cfi.Disclosures)
	if err != nil {
		return nil, fmt.Errorf("check disclosures: %w", err)
	}

	// Verify that all disclosures are present in SD-JWT.
	err = common.VerifyDisclosuresInSDJWTWithOpts(cfi.Disclosures, signedJWT, pOpts.insecureHashAllowed)
	if err != nil {
		return nil, err
	}

	cryptoHash, err := common.GetCryptoHashFromClaimsWithOpts(signedJWT.Payload, pOpts.insecureHashAllowed)
	if err != nil {
		return nil, err
	}

	return getClaims(cfi.Disclosures, cryptoHash)
}

func getClaims(disclosures []string, hash crypto.Hash) ([]*Claim, error) {
	disclosureClaims, err := common.GetDisclosureClaims(disclosures, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get claims from disclosures: %w", err)
	}

	var claims []*Claim
	for _, disclosure := range disclosureClaims {
		claims = append(claims,
			&Claim{
				Disclosure: disclosure.Disclosure,
				Name:       disclosure.Name,
				Value:      disclosure.Value,
				Type:       disclosure.Type,
			})
	}

	return claims, nil
}

// Select returns the disclosures of the claims the keep predicate accepts.
func Select(claims []*Claim, keep func(claim *Claim) bool) []string {
	var disclosures []string

	for _, claim := range claims {
		if keep(claim) {
			disclosures = append(disclosures, claim.Disclosure)
		}
	}

	return disclosures
}

// BindingPayload represents key binding payload.
type BindingPayload struct {
	Nonce    string           `json:"nonce,omitempty"`
	Audience string           `json:"aud,omitempty"`
	IssuedAt *jwt.NumericDate `json:"iat,omitempty"`
}

// BindingInfo defines key binding payload and signer.
type BindingInfo struct {
	Payload BindingPayload
	Signer  afjwt.Signer
	Headers afjwt.Headers
}

// options holds options for creating presentation.
type options struct {
	keyBindingInfo *BindingInfo

	requireSelectedDisclosures bool
	insecureHashAllowed        bool
}

// Option is a holder option.
type Option func(opts *options)

// WithKeyBinding option to set optional key binding. The resulting key
// binding JWT ties the presentation to the holder's key and to the exact
// bytes of the presented SD-JWT and disclosures.
func WithKeyBinding(info *BindingInfo) Option {
	return func(opts *options) {
		opts.keyBindingInfo = info
	}
}

// WithRequireSelectedDisclosures option makes CreatePresentation fail when no
// disclosure was selected.
func WithRequireSelectedDisclosures() Option {
	return func(opts *options) {
		opts.requireSelectedDisclosures = true
	}
}

// WithInsecureHashAllowedForKeyBinding admits a weak but recognized _sd_alg
// when calculating the key binding digest over the presented bytes.
func WithInsecureHashAllowedForKeyBinding() Option {
	return func(opts *options) {
		opts.insecureHashAllowed = true
	}
}

// CreatePresentation is a convenience method to assemble combined format for presentation
// using selected disclosures (claimsToDisclose) and optional key binding.
// This call assumes that combinedFormatForIssuance has already been parsed and verified using Parse() function.
//
// For presentation to a Verifier, the Holder MUST perform the following (or equivalent) steps:
//   - Decide which Disclosures to release to the Verifier, obtaining proper End-User consent if necessary.
//   - If Key Binding is required, create a Key Binding JWT.
//   - Create the Combined Format for Presentation from selected Disclosures and Key Binding JWT (if applicable).
//   - Send the Presentation to the Verifier.
func CreatePresentation(combinedFormatForIssuance string, claimsToDisclose []string, opts ...Option) (string, error) {
	hOpts := &options{}

	for _, opt := range opts {
		opt(hOpts)
	}

	cfi := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)

	if len(cfi.Disclosures) == 0 && len(claimsToDisclose) > 0 {
		return "", fmt.Errorf("no disclosures found in SD-JWT")
	}

	if hOpts.requireSelectedDisclosures && len(claimsToDisclose) == 0 {
		return "", fmt.Errorf("%w: at least one disclosure must be selected", common.ErrNoDisclosuresSelected)
	}

	disclosuresMap := common.SliceToMap(cfi.Disclosures)

	for _, ctd := range claimsToDisclose {
		if _, ok := disclosuresMap[ctd]; !ok {
			return "", fmt.Errorf("disclosure '%s' not found in SD-JWT", ctd)
		}
	}

	// The prefix below is the exact byte sequence the key binding digest is
	// calculated over: the SD-JWT, the selected disclosures and the trailing
	// separator. The key binding JWT, when present, is appended to it as is.
	prefix := (&common.CombinedFormatForIssuance{
		SDJWT:       cfi.SDJWT,
		Disclosures: claimsToDisclose,
	}).Serialize()

	if hOpts.keyBindingInfo == nil {
		return prefix, nil
	}

	keyBindingJWT, err := createKeyBinding(cfi.SDJWT, prefix, hOpts)
	if err != nil {
		return "", fmt.Errorf("failed to create key binding: %w", err)
	}

	return prefix + keyBindingJWT, nil
}

// keyBindingPayload is the payload of a key binding JWT. SDHash covers the
// presented prefix bytes.
type keyBindingPayload struct {
	Nonce    string           `json:"nonce,omitempty"`
	Audience string           `json:"aud,omitempty"`
	IssuedAt *jwt.NumericDate `json:"iat,omitempty"`
	SDHash   string           `json:"sd_hash"`
}

func createKeyBinding(sdJWT, presentationPrefix string, hOpts *options) (string, error) {
	info := hOpts.keyBindingInfo

	signedJWT, _, err := afjwt.Parse(sdJWT)
	if err != nil {
		return "", err
	}

	if _, err = common.GetCNF(signedJWT.Payload); err != nil {
		return "", fmt.Errorf("%w: %s", common.ErrMissingConfirmationKey, err.Error())
	}

	cryptoHash, err := common.GetCryptoHashFromClaimsWithOpts(signedJWT.Payload, hOpts.insecureHashAllowed)
	if err != nil {
		return "", err
	}

	sdHash, err := common.GetHash(cryptoHash, presentationPrefix)
	if err != nil {
		return "", fmt.Errorf("hash presentation: %w", err)
	}

	payload := &keyBindingPayload{
		Nonce:    info.Payload.Nonce,
		Audience: info.Payload.Audience,
		IssuedAt: info.Payload.IssuedAt,
		SDHash:   sdHash,
	}

	headers := make(afjwt.Headers)

	for k, v := range info.Headers {
		headers[k] = v
	}

	headers[afjwt.HeaderType] = common.KeyBindingType

	keyBindingJWT, err := afjwt.NewSigned(payload, headers, info.Signer)
	if err != nil {
		return "", fmt.Errorf("%w: %s", common.ErrSigningFailed, err.Error())
	}

	return keyBindingJWT.Serialize()
}

// NoopSignatureVerifier is no-op signature verifier (signature will not get checked).
type NoopSignatureVerifier struct {
}

// Verify implements signature verification.
func (sv *NoopSignatureVerifier) Verify(_ afjwt.Headers, _, _, _ []byte) error {
	return nil
}
