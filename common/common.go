/*
Copyright OpenWallet Foundation Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package common holds the selective-disclosure digest engine shared between
// the issuer, holder and verifier packages: the disclosure codec, the
// combined wire formats, the approved hash registry and the reveal-direction
// claim-tree walker.
package common

import (
	"crypto"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	// CombinedFormatSeparator separates the SD-JWT, disclosures and key binding JWT on the wire.
	CombinedFormatSeparator = "~"

	// SDAlgorithmKey is the claim naming the disclosure hash algorithm.
	SDAlgorithmKey = "_sd_alg"
	// SDKey is the claim holding an object's disclosure digest set.
	SDKey = "_sd"
	// CNFKey is the confirmation key claim.
	CNFKey = "cnf"
	// SDHashKey is the key binding claim holding the digest over the presented bytes.
	SDHashKey = "sd_hash"
	// ArrayElementDigestKey is the single key of an array element placeholder object.
	ArrayElementDigestKey = "..."

	// KeyBindingType is the required typ header of a key binding JWT.
	KeyBindingType = "kb+jwt"
)

// CombinedFormatForIssuance holds SD-JWT and disclosures.
type CombinedFormatForIssuance struct {
	SDJWT       string
	Disclosures []string
}

// Serialize will assemble combined format for issuance. The canonical form
// always ends with the separator, with or without disclosures.
func (cf *CombinedFormatForIssuance) Serialize() string {
	issuance := cf.SDJWT
	for _, disclosure := range cf.Disclosures {
		issuance += CombinedFormatSeparator + disclosure
	}

	return issuance + CombinedFormatSeparator
}

// CombinedFormatForPresentation holds SD-JWT, disclosures and an optional key binding JWT.
type CombinedFormatForPresentation struct {
	SDJWT       string
	Disclosures []string

	KeyBindingJWT string
}

// Serialize will assemble combined format for presentation. The last
// separator is always present; the key binding JWT, when there is one,
// follows it.
func (cf *CombinedFormatForPresentation) Serialize() string {
	presentation := cf.SDJWT
	for _, disclosure := range cf.Disclosures {
		presentation += CombinedFormatSeparator + disclosure
	}

	return presentation + CombinedFormatSeparator + cf.KeyBindingJWT
}

// ParseCombinedFormatForIssuance parses combined format for issuance into
// CombinedFormatForIssuance parts. Both the canonical form ending with the
// separator and the form without it are accepted.
func ParseCombinedFormatForIssuance(combinedFormatForIssuance string) *CombinedFormatForIssuance {
	parts := strings.Split(combinedFormatForIssuance, CombinedFormatSeparator)

	if len(parts) > 1 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}

	var disclosures []string
	if len(parts) > 1 {
		disclosures = parts[1:]
	}

	sdJWT := parts[0]

	return &CombinedFormatForIssuance{SDJWT: sdJWT, Disclosures: disclosures}
}

// ParseCombinedFormatForPresentation parses combined format for presentation into
// CombinedFormatForPresentation parts. The last segment is the key binding JWT;
// it is empty for a presentation that ends with the separator.
func ParseCombinedFormatForPresentation(combinedFormatForPresentation string) *CombinedFormatForPresentation {
	parts := strings.Split(combinedFormatForPresentation, CombinedFormatSeparator)

	var disclosures []string
	if len(parts) > 2 {
		disclosures = parts[1 : len(parts)-1]
	}

	var keyBinding string
	if len(parts) > 1 {
		keyBinding = parts[len(parts)-1]
	}

	sdJWT := parts[0]

	return &CombinedFormatForPresentation{SDJWT: sdJWT, Disclosures: disclosures, KeyBindingJWT: keyBinding}
}

// GetHash calculates base64url-encoded hash of data using the hash function identified by hash.
func GetHash(hash crypto.Hash, value string) (string, error) {
	if !hash.Available() {
		return "", fmt.Errorf("hash function not available for: %d", hash)
	}

	h := hash.New()

	if _, hashErr := h.Write([]byte(value)); hashErr != nil {
		return "", hashErr
	}

	result := h.Sum(nil)

	return base64.RawURLEncoding.EncodeToString(result), nil
}

// GetCryptoHash returns crypto hash from SD algorithm. Only the approved set
// is accepted; weak families are rejected even when recognized.
func GetCryptoHash(sdAlg string) (crypto.Hash, error) {
	return GetCryptoHashWithOpts(sdAlg, false)
}

// GetCryptoHashWithOpts returns crypto hash from SD algorithm. With
// allowInsecure the weak-but-recognized families are admitted; callers set
// that flag only when they have accepted the risk explicitly.
func GetCryptoHashWithOpts(sdAlg string, allowInsecure bool) (crypto.Hash, error) {
	switch strings.ToUpper(sdAlg) {
	case crypto.SHA256.String():
		return crypto.SHA256, nil
	case crypto.SHA384.String():
		return crypto.SHA384, nil
	case crypto.SHA512.String():
		return crypto.SHA512, nil
	// From spec: the hash algorithms MD2, MD4, MD5, RIPEMD-160, and SHA-1
	// revealed fundamental weaknesses and they MUST NOT be used.
	case crypto.SHA1.String(), crypto.MD5.String():
		if allowInsecure {
			return weakHash(sdAlg), nil
		}

		return 0, fmt.Errorf("%w: %s '%s' is not deemed secure", ErrUnapprovedHashAlgorithm, SDAlgorithmKey, sdAlg)
	default:
		return 0, fmt.Errorf("%w: %s '%s' not supported", ErrUnapprovedHashAlgorithm, SDAlgorithmKey, sdAlg)
	}
}

func weakHash(sdAlg string) crypto.Hash {
	if strings.EqualFold(sdAlg, crypto.MD5.String()) {
		return crypto.MD5
	}

	return crypto.SHA1
}

// IsApprovedHash reports whether the hash is in the approved set.
func IsApprovedHash(hash crypto.Hash) bool {
	return hash == crypto.SHA256 || hash == crypto.SHA384 || hash == crypto.SHA512
}

// GetCryptoHashFromClaims returns crypto hash from the _sd_alg claim. Only
// the approved set is accepted.
func GetCryptoHashFromClaims(claims map[string]interface{}) (crypto.Hash, error) {
	return GetCryptoHashFromClaimsWithOpts(claims, false)
}

// GetCryptoHashFromClaimsWithOpts returns crypto hash from the _sd_alg claim.
// With allowInsecure the weak-but-recognized families are admitted, matching
// the issuance-side override.
func GetCryptoHashFromClaimsWithOpts(claims map[string]interface{}, allowInsecure bool) (crypto.Hash, error) {
	sdAlg, err := GetSDAlg(claims)
	if err != nil {
		return 0, err
	}

	return GetCryptoHashWithOpts(sdAlg, allowInsecure)
}

// GetSDAlg returns the SD algorithm from claims.
func GetSDAlg(claims map[string]interface{}) (string, error) {
	obj, ok := claims[SDAlgorithmKey]
	if !ok {
		return "", fmt.Errorf("%s must be present in SD-JWT", SDAlgorithmKey)
	}

	alg, ok := obj.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", SDAlgorithmKey)
	}

	return alg, nil
}

// GetCNF returns confirmation claim 'cnf'.
func GetCNF(claims map[string]interface{}) (map[string]interface{}, error) {
	obj, ok := claims[CNFKey]
	if !ok {
		return nil, fmt.Errorf("%s must be present in SD-JWT", CNFKey)
	}

	cnf, ok := obj.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%s must be an object", CNFKey)
	}

	return cnf, nil
}

// CopyMap performs shallow copy of map and nested maps.
func CopyMap(m map[string]interface{}) map[string]interface{} {
	cm := make(map[string]interface{})

	for k, v := range m {
		vm, ok := v.(map[string]interface{})
		if ok {
			cm[k] = CopyMap(vm)
		} else {
			cm[k] = v
		}
	}

	return cm
}

// SliceToMap converts slice to a set-style map.
func SliceToMap(ids []string) map[string]bool {
	values := make(map[string]bool)
	for _, id := range ids {
		values[id] = true
	}

	return values
}

// KeyExistsInMap checks if key exists in map or any nested map.
func KeyExistsInMap(key string, m map[string]interface{}) bool {
	for k, v := range m {
		if k == key {
			return true
		}

		if obj, ok := v.(map[string]interface{}); ok {
			exists := KeyExistsInMap(key, obj)
			if exists {
				return true
			}
		}
	}

	return false
}

func stringArray(entry interface{}) ([]string, error) {
	if entry == nil {
		return nil, nil
	}

	entries, ok := entry.([]interface{})
	if !ok {
		return nil, fmt.Errorf("entry type[%T] is not an array", entry)
	}

	stringSlice := make([]string, len(entries))

	for i, e := range entries {
		val, ok := e.(string)
		if !ok {
			return nil, fmt.Errorf("entry item type[%T] is not a string", e)
		}

		stringSlice[i] = val
	}

	return stringSlice, nil
}
