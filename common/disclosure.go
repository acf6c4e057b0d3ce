/*
Copyright OpenWallet Foundation Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package common

import (
	"crypto"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

const (
	saltPosition = 0

	sdDigestNamePosition  = 1
	sdDigestValuePosition = 2

	arrayDigestValuePosition = 1

	disclosureElementsAmountForArrayDigest = 2
	disclosureElementsAmountForSDDigest    = 3
)

// DisclosureClaimType defines the kind of claim a disclosure carries.
type DisclosureClaimType int

const (
	// DisclosureClaimTypeUnknown default type for disclosure claim.
	DisclosureClaimTypeUnknown = DisclosureClaimType(iota)
	// DisclosureClaimTypeArrayElement disclosure claim for array element.
	DisclosureClaimTypeArrayElement
	// DisclosureClaimTypeObject disclosure claim for object.
	DisclosureClaimTypeObject
	// DisclosureClaimTypePlainText disclosure claim for plain text value.
	DisclosureClaimTypePlainText
)

// DisclosureClaim defines a decoded disclosure.
type DisclosureClaim struct {
	Digest     string
	Disclosure string
	Salt       string
	Type       DisclosureClaimType
	// Elements is the decoded array arity: 2 for array elements, 3 for object members.
	Elements int
	Name     string
	Value    interface{}

	// IsValueParsed marks a disclosure whose digest was reached during a
	// reveal walk and whose value has been resolved.
	IsValueParsed bool
}

// EncodeDisclosure builds the canonical wire form of a disclosure: a compact
// JSON array [salt, name, value] for an object member, or [salt, value] for
// an array element (name == ""), base64url-encoded without padding.
func EncodeDisclosure(jsonMarshal func(interface{}) ([]byte, error), salt, name string, value interface{}) (string, error) {
	disclosure := []interface{}{salt}
	if name != "" {
		disclosure = append(disclosure, name)
	}

	disclosure = append(disclosure, value)

	disclosureBytes, err := jsonMarshal(disclosure)
	if err != nil {
		return "", fmt.Errorf("marshal disclosure: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(disclosureBytes), nil
}

// ParseDisclosure decodes a single disclosure and computes its digest using hash.
func ParseDisclosure(disclosure string, hash crypto.Hash) (*DisclosureClaim, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(disclosure)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode disclosure: %s", ErrMalformedDisclosure, err.Error())
	}

	var disclosureArr []interface{}

	err = json.Unmarshal(decoded, &disclosureArr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal disclosure array: %s", ErrMalformedDisclosure, err.Error())
	}

	if len(disclosureArr) < disclosureElementsAmountForArrayDigest ||
		len(disclosureArr) > disclosureElementsAmountForSDDigest {
		return nil, fmt.Errorf("%w: disclosure array size[%d] must be 2 or 3",
			ErrMalformedDisclosure, len(disclosureArr))
	}

	salt, ok := disclosureArr[saltPosition].(string)
	if !ok {
		return nil, fmt.Errorf("%w: disclosure salt type[%T] must be string",
			ErrMalformedDisclosure, disclosureArr[saltPosition])
	}

	digest, err := GetHash(hash, disclosure)
	if err != nil {
		return nil, fmt.Errorf("get disclosure hash: %w", err)
	}

	claim := &DisclosureClaim{
		Digest:     digest,
		Disclosure: disclosure,
		Salt:       salt,
		Elements:   len(disclosureArr),
	}

	switch len(disclosureArr) {
	case disclosureElementsAmountForArrayDigest:
		claim.Value = disclosureArr[arrayDigestValuePosition]
		claim.Type = DisclosureClaimTypeArrayElement
	case disclosureElementsAmountForSDDigest:
		if err = enrichWithSDElement(claim, disclosureArr); err != nil {
			return nil, err
		}
	}

	return claim, nil
}

func enrichWithSDElement(claim *DisclosureClaim, disclosureArr []interface{}) error {
	name, ok := disclosureArr[sdDigestNamePosition].(string)
	if !ok {
		return fmt.Errorf("%w: disclosure name type[%T] must be string",
			ErrMalformedDisclosure, disclosureArr[sdDigestNamePosition])
	}

	claim.Name = name
	claim.Value = disclosureArr[sdDigestValuePosition]

	switch disclosureArr[sdDigestValuePosition].(type) {
	case map[string]interface{}:
		claim.Type = DisclosureClaimTypeObject
	default:
		claim.Type = DisclosureClaimTypePlainText
	}

	return nil
}

// parseDisclosures parses disclosures and returns map[string]*DisclosureClaim,
// where the key is the disclosure digest calculated using the provided hash.
func parseDisclosures(disclosures []string, hash crypto.Hash) (map[string]*DisclosureClaim, error) {
	parsed := make(map[string]*DisclosureClaim, len(disclosures))

	for _, disclosure := range disclosures {
		claim, err := ParseDisclosure(disclosure, hash)
		if err != nil {
			return nil, err
		}

		if _, ok := parsed[claim.Digest]; ok {
			return nil, fmt.Errorf("%w: digest '%s' offered more than once", ErrDuplicateDisclosure, claim.Digest)
		}

		parsed[claim.Digest] = claim
	}

	return parsed, nil
}

// CheckForDuplicates returns ErrDuplicateDisclosure when the same disclosure
// string is offered more than once.
func CheckForDuplicates(disclosures []string) error {
	valuesMap := make(map[string]bool)

	for _, val := range disclosures {
		if _, ok := valuesMap[val]; ok {
			return fmt.Errorf("%w: disclosure offered more than once", ErrDuplicateDisclosure)
		}

		valuesMap[val] = true
	}

	return nil
}
