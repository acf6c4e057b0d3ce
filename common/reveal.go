/*
Copyright OpenWallet Foundation Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package common

import (
	"crypto"
	"errors"
	"fmt"

	"golang.org/x/exp/slices"

	afjwt "github.com/openwallet-foundation-labs/sd-jwt-go/jwt"
)

// recursiveData carries the working state of a reveal-direction walk: the
// offered disclosures keyed by digest, the digests consumed so far, and
// whether unresolved digest bookkeeping (_sd entries, placeholders, _sd_alg)
// is stripped from the output.
type recursiveData struct {
	disclosures          map[string]*DisclosureClaim
	nestedSD             []string
	cleanupDigestsClaims bool
}

// VerifyDisclosuresInSDJWT checks that every offered disclosure is reachable
// from the signed payload's digest sets, directly or through other offered
// disclosures. An unreachable disclosure is an orphan; a digest consumed in
// more than one place is a duplicate.
func VerifyDisclosuresInSDJWT(disclosures []string, signedJWT *afjwt.JSONWebToken) error {
	return VerifyDisclosuresInSDJWTWithOpts(disclosures, signedJWT, false)
}

// VerifyDisclosuresInSDJWTWithOpts is VerifyDisclosuresInSDJWT with the
// weak-hash override reachable, for tokens issued with an admitted weak hash.
func VerifyDisclosuresInSDJWTWithOpts(disclosures []string, signedJWT *afjwt.JSONWebToken,
	allowInsecureHash bool) error {
	claims := CopyMap(signedJWT.Payload)

	// check that the _sd_alg claim is present
	// check that _sd_alg value is understood and the hash algorithm is deemed secure.
	cryptoHash, err := GetCryptoHashFromClaimsWithOpts(claims, allowInsecureHash)
	if err != nil {
		return err
	}

	parsedDisclosures, err := parseDisclosures(disclosures, cryptoHash)
	if err != nil {
		return err
	}

	recData := &recursiveData{
		disclosures:          parsedDisclosures,
		cleanupDigestsClaims: false,
	}

	_, err = discloseClaimValue(claims, recData)
	if err != nil {
		return err
	}

	return checkOrphans(parsedDisclosures)
}

// GetDisclosedClaims reconstructs the claim tree from the signed payload and
// the offered disclosures. Digests with no offered disclosure stay hidden;
// digest bookkeeping is stripped from the output. The input map is not
// modified.
func GetDisclosedClaims(disclosures []string, claims map[string]interface{}) (map[string]interface{}, error) {
	return GetDisclosedClaimsWithOpts(disclosures, claims, false)
}

// GetDisclosedClaimsWithOpts is GetDisclosedClaims with the weak-hash
// override reachable, for tokens issued with an admitted weak hash.
func GetDisclosedClaimsWithOpts(disclosures []string, claims map[string]interface{},
	allowInsecureHash bool) (map[string]interface{}, error) {
	cryptoHash, err := GetCryptoHashFromClaimsWithOpts(claims, allowInsecureHash)
	if err != nil {
		return nil, err
	}

	parsedDisclosures, err := parseDisclosures(disclosures, cryptoHash)
	if err != nil {
		return nil, err
	}

	recData := &recursiveData{
		disclosures:          parsedDisclosures,
		cleanupDigestsClaims: true,
	}

	output, err := discloseClaimValue(CopyMap(claims), recData)
	if err != nil {
		return nil, fmt.Errorf("failed to process disclosed claims: %w", err)
	}

	if err := checkOrphans(parsedDisclosures); err != nil {
		return nil, err
	}

	outputMap, ok := output.(map[string]interface{})
	if !ok {
		return nil, errors.New("reconstructed claims are not an object")
	}

	return outputMap, nil
}

// GetDisclosureClaims decodes the given disclosures and resolves nested
// references between them. Named claims are always returned; array element
// claims are returned only when no other disclosure's value consumed them.
func GetDisclosureClaims(disclosures []string, hash crypto.Hash) ([]*DisclosureClaim, error) {
	parsedDisclosures, err := parseDisclosures(disclosures, hash)
	if err != nil {
		return nil, err
	}

	recData := &recursiveData{
		disclosures:          parsedDisclosures,
		cleanupDigestsClaims: false,
	}

	for _, claim := range parsedDisclosures {
		if err := setDisclosureClaimValue(recData, claim); err != nil {
			return nil, err
		}
	}

	var claims []*DisclosureClaim

	for _, claim := range parsedDisclosures {
		if claim.Type == DisclosureClaimTypeArrayElement && slices.Contains(recData.nestedSD, claim.Digest) {
			continue
		}

		claims = append(claims, claim)
	}

	return claims, nil
}

func checkOrphans(parsedDisclosures map[string]*DisclosureClaim) error {
	// If the digest cannot be found in the SD-JWT payload, the Verifier MUST reject the Presentation.
	for _, disclosure := range parsedDisclosures {
		if !disclosure.IsValueParsed {
			return fmt.Errorf("%w: digest '%s' not found in SD-JWT disclosure digests",
				ErrOrphanDisclosure, disclosure.Digest)
		}
	}

	return nil
}

func setDisclosureClaimValue(recData *recursiveData, disclosureClaim *DisclosureClaim) error {
	if disclosureClaim.IsValueParsed {
		return nil
	}

	// Mark before recursing so a disclosure referencing itself cannot loop.
	disclosureClaim.IsValueParsed = true

	newValue, err := discloseClaimValue(disclosureClaim.Value, recData)
	if err != nil {
		return err
	}

	disclosureClaim.Value = newValue

	return nil
}

// discloseClaimValue returns the new value of a claim, resolving dependencies
// on other disclosures. The reachable digest set only grows as matches are
// applied, so the result does not depend on the order disclosures are
// offered in.
func discloseClaimValue(claim interface{}, recData *recursiveData) (interface{}, error) { // nolint:funlen,gocyclo
	switch disclosureValue := claim.(type) {
	case []interface{}:
		newValues := make([]interface{}, 0, len(disclosureValue))

		for _, value := range disclosureValue {
			parsedMap, ok := value.(map[string]interface{})
			if !ok {
				// Not a map - use value as it is.
				newValues = append(newValues, value)
				continue
			}

			// Array element placeholders are objects with the single key "...".
			arrayElementDigestIface, ok := parsedMap[ArrayElementDigestKey]
			if !ok {
				nested, err := discloseClaimValue(parsedMap, recData)
				if err != nil {
					return nil, err
				}

				newValues = append(newValues, nested)

				continue
			}

			arrayElementDigest, ok := arrayElementDigestIface.(string)
			if !ok {
				return nil, errors.New("invalid array element placeholder")
			}

			if slices.Contains(recData.nestedSD, arrayElementDigest) {
				// If any digests were found more than once, the SD-JWT MUST be rejected.
				return nil, fmt.Errorf("%w: digest '%s' has been included in more than one place",
					ErrDuplicateDisclosure, arrayElementDigest)
			}

			recData.nestedSD = append(recData.nestedSD, arrayElementDigest)

			disclosureClaim, ok := recData.disclosures[arrayElementDigest]
			if !ok {
				if recData.cleanupDigestsClaims {
					continue
				}

				// No disclosure offered for this element - keep the placeholder.
				newValues = append(newValues, value)

				continue
			}

			// If the digest was found in an array element, the respective Disclosure
			// MUST be a JSON-encoded array of two elements.
			if disclosureClaim.Elements != disclosureElementsAmountForArrayDigest {
				return nil, fmt.Errorf("invalid disclosure associated with array element digest %s",
					arrayElementDigest)
			}

			if err := setDisclosureClaimValue(recData, disclosureClaim); err != nil {
				return nil, err
			}

			newValues = append(newValues, disclosureClaim.Value)
		}

		// An array stays an array even when every element is hidden.
		return newValues, nil
	case map[string]interface{}:
		newValues := make(map[string]interface{}, len(disclosureValue))

		if nestedSDListIface, ok := disclosureValue[SDKey]; ok { // nolint:nestif
			nestedSDList, err := stringArray(nestedSDListIface)
			if err != nil {
				return nil, fmt.Errorf("get disclosure digests: %w", err)
			}

			var missingSDs []interface{}

			for _, digest := range nestedSDList {
				if slices.Contains(recData.nestedSD, digest) {
					return nil, fmt.Errorf("%w: digest '%s' has been included in more than one place",
						ErrDuplicateDisclosure, digest)
				}

				recData.nestedSD = append(recData.nestedSD, digest)

				disclosureClaim, ok := recData.disclosures[digest]
				if !ok {
					missingSDs = append(missingSDs, digest)
					continue
				}

				// If the digest was found in an object's _sd key, the respective
				// Disclosure MUST be a JSON-encoded array of three elements.
				if disclosureClaim.Elements != disclosureElementsAmountForSDDigest {
					return nil, fmt.Errorf("invalid disclosure associated with sd element digest %s", digest)
				}

				if err = setDisclosureClaimValue(recData, disclosureClaim); err != nil {
					return nil, err
				}

				// If the claim name already exists at the same level, the SD-JWT MUST be rejected.
				if _, ok = newValues[disclosureClaim.Name]; ok {
					return nil, fmt.Errorf("claim name '%s' already exists at the same level", disclosureClaim.Name)
				}

				newValues[disclosureClaim.Name] = disclosureClaim.Value
			}

			if !recData.cleanupDigestsClaims && len(missingSDs) > 0 {
				newValues[SDKey] = missingSDs
			}
		}

		for k, nestedClaim := range disclosureValue {
			if k == SDKey {
				continue
			}

			if k == SDAlgorithmKey && recData.cleanupDigestsClaims {
				continue
			}

			newValue, err := discloseClaimValue(nestedClaim, recData)
			if err != nil {
				return nil, err
			}

			// If the claim name already exists at the same level, the SD-JWT MUST be rejected.
			if _, ok := newValues[k]; ok {
				return nil, fmt.Errorf("claim name '%s' already exists at the same level", k)
			}

			// Null claim values survive the walk untouched.
			newValues[k] = newValue
		}

		return newValues, nil
	default:
		return claim, nil
	}
}
