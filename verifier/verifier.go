/*
Copyright OpenWallet Foundation Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

/*
Package verifier enables the Verifier: An entity that requests, checks and
extracts the claims from an SD-JWT and respective Disclosures.
*/
package verifier

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v3/jwt"

	"github.com/openwallet-foundation-labs/sd-jwt-go/common"
	afjwt "github.com/openwallet-foundation-labs/sd-jwt-go/jwt"
)

// KeyResolver resolves the issuer's public key for the given token. It
// receives the protected headers and the not-yet-verified claims, so it can
// route on iss and kid. Resolution typically reaches out to a registry, hence
// the context.
type KeyResolver func(ctx context.Context, headers afjwt.Headers,
	unverifiedClaims map[string]interface{}) (crypto.PublicKey, error)

// VerifiedClaims is the outcome of verifying a presentation: the
// reconstructed claims and whether possession was proven via key binding.
type VerifiedClaims struct {
	Claims map[string]interface{}

	HolderVerified bool
}

// parseOpts holds options for the SD-JWT presentation verification.
type parseOpts struct {
	keyResolver KeyResolver
	sigVerifier afjwt.SignatureVerifier

	issuerSigningAlgorithms []string
	holderSigningAlgorithms []string

	keyBindingRequired            bool
	expectedAudienceForKeyBinding string
	expectedNonceForKeyBinding    string
	maxKeyBindingAge              time.Duration

	expectedIssuer string

	leewayForClaimsValidation time.Duration

	insecureHashAllowed bool
}

// ParseOpt is the SD-JWT Parser option.
type ParseOpt func(opts *parseOpts)

// WithKeyResolver option is for resolving the issuer's public key. The
// resolved key is matched with a verifier for its type.
func WithKeyResolver(resolver KeyResolver) ParseOpt {
	return func(opts *parseOpts) {
		opts.keyResolver = resolver
	}
}

// WithSignatureVerifier option is for definition of signature verifier.
// It takes precedence over WithKeyResolver.
func WithSignatureVerifier(signatureVerifier afjwt.SignatureVerifier) ParseOpt {
	return func(opts *parseOpts) {
		opts.sigVerifier = signatureVerifier
	}
}

// WithIssuerSigningAlgorithms option is for defining secure signing algorithms (for issuer).
func WithIssuerSigningAlgorithms(algorithms []string) ParseOpt {
	return func(opts *parseOpts) {
		opts.issuerSigningAlgorithms = algorithms
	}
}

// WithHolderSigningAlgorithms option is for defining secure signing algorithms (for holder).
func WithHolderSigningAlgorithms(algorithms []string) ParseOpt {
	return func(opts *parseOpts) {
		opts.holderSigningAlgorithms = algorithms
	}
}

// WithKeyBindingRequired option is for enforcing key binding even when the
// token carries no confirmation key.
func WithKeyBindingRequired(flag bool) ParseOpt {
	return func(opts *parseOpts) {
		opts.keyBindingRequired = flag
	}
}

// WithExpectedAudienceForKeyBinding option is to pass expected audience for key binding.
func WithExpectedAudienceForKeyBinding(audience string) ParseOpt {
	return func(opts *parseOpts) {
		opts.expectedAudienceForKeyBinding = audience
	}
}

// WithExpectedNonceForKeyBinding option is to pass nonce value for key binding.
func WithExpectedNonceForKeyBinding(nonce string) ParseOpt {
	return func(opts *parseOpts) {
		opts.expectedNonceForKeyBinding = nonce
	}
}

// WithMaxKeyBindingAge option rejects key binding JWTs issued longer than
// maxAge ago.
func WithMaxKeyBindingAge(maxAge time.Duration) ParseOpt {
	return func(opts *parseOpts) {
		opts.maxKeyBindingAge = maxAge
	}
}

// WithExpectedIssuer option is to pass the issuer the iss claim must match.
func WithExpectedIssuer(issuer string) ParseOpt {
	return func(opts *parseOpts) {
		opts.expectedIssuer = issuer
	}
}

// WithLeewayForClaimsValidation is an option for claims time(s) validation.
func WithLeewayForClaimsValidation(duration time.Duration) ParseOpt {
	return func(opts *parseOpts) {
		opts.leewayForClaimsValidation = duration
	}
}

// WithInsecureHashAllowed admits presentations whose _sd_alg names a weak but
// recognized hash family. Callers set it only when they have accepted the
// risk explicitly; it matches the issuance-side override.
func WithInsecureHashAllowed() ParseOpt {
	return func(opts *parseOpts) {
		opts.insecureHashAllowed = true
	}
}

// Parse parses combined format for presentation and returns verified claims.
// The Verifier has to verify that all disclosed claim values were part of the original, Issuer-signed SD-JWT.
//
// At a high level, the Verifier:
//   - receives the Combined Format for Presentation from the Holder and verifies the signature of the SD-JWT using the
//     Issuer's public key,
//   - verifies the Key Binding JWT, if Key Binding is required by the Verifier's policy,
//     using the public key included in the SD-JWT,
//   - calculates the digests over the Holder-Selected Disclosures and verifies that each digest
//     is contained in the SD-JWT.
//
// The Verifier will not, however, learn any claim values not disclosed in the Disclosures.
func Parse(ctx context.Context, combinedFormatForPresentation string, opts ...ParseOpt) (*VerifiedClaims, error) {
	defaultIssuerSigningAlgorithms := []string{"EdDSA", "RS256", "ES256"}
	defaultHolderSigningAlgorithms := []string{"EdDSA", "RS256", "ES256"}

	pOpts := &parseOpts{
		issuerSigningAlgorithms:   defaultIssuerSigningAlgorithms,
		holderSigningAlgorithms:   defaultHolderSigningAlgorithms,
		leewayForClaimsValidation: jwt.DefaultLeeway,
	}

	for _, opt := range opts {
		opt(pOpts)
	}

	// Separate the Presentation into the SD-JWT, the Disclosures (if any), and the Key Binding JWT (if provided).
	cfp := common.ParseCombinedFormatForPresentation(combinedFormatForPresentation)

	if !afjwt.IsCompactJWS(cfp.SDJWT) {
		return nil, fmt.Errorf("%w: SD-JWT is not a compact JWS", common.ErrMalformedPresentation)
	}

	signatureVerifier, err := resolveSignatureVerifier(ctx, cfp.SDJWT, pOpts)
	if err != nil {
		return nil, err
	}

	// Validate the signature over the SD-JWT.
	signedJWT, _, err := afjwt.Parse(cfp.SDJWT, afjwt.WithSignatureVerifier(signatureVerifier))
	if err != nil {
		return nil, fmt.Errorf("parse SD-JWT: %w", err)
	}

	// Ensure that a signing algorithm was used that was deemed secure for the application.
	// The none algorithm MUST NOT be accepted.
	err = common.VerifySigningAlg(signedJWT.Headers, pOpts.issuerSigningAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("failed to verify issuer signing algorithm: %w", err)
	}

	// Check that the SD-JWT is valid using nbf, iat, and exp claims,
	// if provided in the SD-JWT, and not selectively disclosed.
	err = common.VerifyJWT(signedJWT, pOpts.leewayForClaimsValidation, pOpts.expectedIssuer)
	if err != nil {
		return nil, err
	}

	// Check that there are no duplicate disclosures.
	err = common.CheckForDuplicates(cfp.Disclosures)
	if err != nil {
		return nil, fmt.Errorf("check disclosures: %w", err)
	}

	// Process the Disclosures and embedded digests in the issuer-signed JWT.
	claims, err := common.GetDisclosedClaimsWithOpts(cfp.Disclosures, signedJWT.Payload, pOpts.insecureHashAllowed)
	if err != nil {
		return nil, err
	}

	holderVerified, err := verifyKeyBinding(signedJWT, cfp, combinedFormatForPresentation, pOpts)
	if err != nil {
		return nil, err
	}

	return &VerifiedClaims{Claims: claims, HolderVerified: holderVerified}, nil
}

func resolveSignatureVerifier(ctx context.Context, sdJWT string, pOpts *parseOpts) (afjwt.SignatureVerifier, error) {
	if pOpts.sigVerifier != nil {
		return pOpts.sigVerifier, nil
	}

	if pOpts.keyResolver == nil {
		return nil, errors.New("either a signature verifier or a key resolver must be provided")
	}

	// A first unverified parse gives the resolver the headers and claims to
	// route on. No claim from this parse is trusted before the signature
	// check that follows.
	unverifiedJWT, _, err := afjwt.Parse(sdJWT)
	if err != nil {
		return nil, fmt.Errorf("parse SD-JWT: %w", err)
	}

	pubKey, err := pOpts.keyResolver(ctx, unverifiedJWT.Headers, unverifiedJWT.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", common.ErrKeyResolution, err.Error())
	}

	signatureVerifier, err := afjwt.VerifierForKey(pubKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", common.ErrKeyResolution, err.Error())
	}

	return signatureVerifier, nil
}
