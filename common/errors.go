/*
Copyright OpenWallet Foundation Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package common

import "errors"

// Error kinds returned by the issuance, presentation and verification
// operations. Callers branch on them with errors.Is; the wrapping message
// carries the call-site context. Digest-related errors name digests only,
// never the hidden claim names or values behind them.
var (
	// ErrMalformedDisclosure is returned when a disclosure string is not a
	// base64url-encoded JSON array of two or three elements.
	ErrMalformedDisclosure = errors.New("malformed disclosure")

	// ErrUnapprovedHashAlgorithm is returned when a hash algorithm outside
	// the approved set is requested or found in the _sd_alg claim.
	ErrUnapprovedHashAlgorithm = errors.New("unapproved hash algorithm")

	// ErrFrameShapeMismatch is returned when a disclosure frame does not
	// mirror the shape of the claims it is applied to.
	ErrFrameShapeMismatch = errors.New("disclosure frame shape mismatch")

	// ErrSigningFailed is returned when the issuer or holder signer fails.
	ErrSigningFailed = errors.New("signing failed")

	// ErrMalformedPresentation is returned when a presentation cannot be
	// split into SD-JWT, disclosures and key binding JWT.
	ErrMalformedPresentation = errors.New("malformed presentation")

	// ErrKeyResolution is returned when the caller-supplied issuer key
	// resolver fails.
	ErrKeyResolution = errors.New("issuer key resolution failed")

	// ErrInsecureSignatureAlgorithm is returned when the signing algorithm
	// is "none" or not in the allowed list.
	ErrInsecureSignatureAlgorithm = errors.New("insecure signature algorithm")

	// ErrExpired is returned when the token is expired per the exp claim.
	ErrExpired = errors.New("token is expired")

	// ErrNotYetValid is returned when the token is used before nbf/iat.
	ErrNotYetValid = errors.New("token not valid yet")

	// ErrIssuerMismatch is returned when the iss claim does not match the
	// expected issuer.
	ErrIssuerMismatch = errors.New("issuer mismatch")

	// ErrOrphanDisclosure is returned when an offered disclosure's digest is
	// not reachable from the signed payload.
	ErrOrphanDisclosure = errors.New("orphan disclosure")

	// ErrDuplicateDisclosure is returned when the same digest is offered or
	// consumed more than once in a single presentation.
	ErrDuplicateDisclosure = errors.New("duplicate disclosure")

	// ErrMissingKeyBinding is returned when the payload carries a
	// confirmation key but the presentation has no key binding JWT.
	ErrMissingKeyBinding = errors.New("missing key binding")

	// ErrMissingConfirmationKey is returned when key binding is requested
	// but the payload has no cnf claim.
	ErrMissingConfirmationKey = errors.New("missing confirmation key")

	// ErrNoDisclosuresSelected is returned when the holder requires at least
	// one selected disclosure and none was given.
	ErrNoDisclosuresSelected = errors.New("no disclosures selected")

	// ErrAudienceMismatch is returned when the key binding audience does not
	// match the expected audience.
	ErrAudienceMismatch = errors.New("audience mismatch")

	// ErrNonceMismatch is returned when the key binding nonce does not match
	// the expected nonce.
	ErrNonceMismatch = errors.New("nonce mismatch")

	// ErrKeyBindingTooOld is returned when the key binding iat is older than
	// the verifier's freshness window.
	ErrKeyBindingTooOld = errors.New("key binding too old")

	// ErrKeyBindingFromFuture is returned when the key binding iat is ahead
	// of the verifier's clock beyond leeway.
	ErrKeyBindingFromFuture = errors.New("key binding issued in the future")

	// ErrKeyBindingDigestMismatch is returned when the sd_hash in the key
	// binding JWT does not match the digest of the presented bytes.
	ErrKeyBindingDigestMismatch = errors.New("key binding digest mismatch")
)
