/*
Copyright OpenWallet Foundation Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package issuer

import (
	"fmt"
	mathrand "math/rand"

	"github.com/openwallet-foundation-labs/sd-jwt-go/common"
)

// disclosureEntity holds a disclosure together with the inputs it was built
// from. Result is the wire form, Digest its hash.
type disclosureEntity struct {
	Salt   string
	Key    string
	Value  interface{}
	Result string
	Digest string
}

// createDisclosuresAndDigests transforms claims according to the frame in
// post order: nested values are processed before the disclosure over them is
// created, so recursive disclosures embed the digests of their children.
func createDisclosuresAndDigests(claims map[string]interface{}, frame *DisclosureFrame,
	opts *newOpts) ([]*disclosureEntity, map[string]interface{}, error) {
	var disclosures []*disclosureEntity

	digestsMap, err := processObject(claims, frame, opts, &disclosures)
	if err != nil {
		return nil, nil, err
	}

	return disclosures, digestsMap, nil
}

func processObject(claims map[string]interface{}, frame *DisclosureFrame,
	opts *newOpts, disclosures *[]*disclosureEntity) (map[string]interface{}, error) {
	digestsMap := make(map[string]interface{}, len(claims))

	var levelDisclosures []*disclosureEntity

	for key, value := range claims {
		memberFrame := frame.Members[key]
		if memberFrame == nil {
			digestsMap[key] = value

			continue
		}

		processed, err := processValue(value, memberFrame, opts, disclosures)
		if err != nil {
			return nil, err
		}

		if !memberFrame.Disclose {
			digestsMap[key] = processed

			continue
		}

		disclosure, err := createDisclosure(key, processed, opts)
		if err != nil {
			return nil, fmt.Errorf("create disclosure: %w", err)
		}

		levelDisclosures = append(levelDisclosures, disclosure)
	}

	*disclosures = append(*disclosures, levelDisclosures...)

	digests, err := createDigests(levelDisclosures, opts)
	if err != nil {
		return nil, err
	}

	if len(digests) > 0 {
		digestsMap[common.SDKey] = digests
	}

	return digestsMap, nil
}

func processValue(value interface{}, frame *DisclosureFrame,
	opts *newOpts, disclosures *[]*disclosureEntity) (interface{}, error) {
	switch v := value.(type) {
	case map[string]interface{}:
		if frame.Members == nil {
			return value, nil
		}

		return processObject(v, frame, opts, disclosures)
	case []interface{}:
		if frame.Elements == nil {
			return value, nil
		}

		return processArray(v, frame, opts, disclosures)
	default:
		return value, nil
	}
}

func processArray(values []interface{}, frame *DisclosureFrame,
	opts *newOpts, disclosures *[]*disclosureEntity) ([]interface{}, error) {
	result := make([]interface{}, 0, len(values))

	for i, value := range values {
		var elementFrame *DisclosureFrame
		if i < len(frame.Elements) {
			elementFrame = frame.Elements[i]
		}

		if elementFrame == nil {
			result = append(result, value)

			continue
		}

		processed, err := processValue(value, elementFrame, opts, disclosures)
		if err != nil {
			return nil, err
		}

		if !elementFrame.Disclose {
			result = append(result, processed)

			continue
		}

		disclosure, err := createDisclosure("", processed, opts)
		if err != nil {
			return nil, fmt.Errorf("create disclosure: %w", err)
		}

		*disclosures = append(*disclosures, disclosure)

		result = append(result, map[string]interface{}{common.ArrayElementDigestKey: disclosure.Digest})
	}

	return result, nil
}

func createDisclosure(key string, value interface{}, opts *newOpts) (*disclosureEntity, error) {
	salt, err := opts.getSalt()
	if err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	result, err := common.EncodeDisclosure(opts.jsonMarshal, salt, key, value)
	if err != nil {
		return nil, err
	}

	digest, err := common.GetHash(opts.HashAlg, result)
	if err != nil {
		return nil, fmt.Errorf("hash disclosure: %w", err)
	}

	return &disclosureEntity{
		Salt:   salt,
		Key:    key,
		Value:  value,
		Result: result,
		Digest: digest,
	}, nil
}

// createDigests collects the digests for one digest set, mixes in the decoy
// digests and shuffles the result so positions carry no information.
func createDigests(disclosures []*disclosureEntity, opts *newOpts) ([]string, error) {
	if len(disclosures) == 0 {
		return nil, nil
	}

	digests := make([]string, 0, len(disclosures)+opts.decoyCount)

	for _, disclosure := range disclosures {
		digests = append(digests, disclosure.Digest)
	}

	for i := 0; i < opts.decoyCount; i++ {
		decoy, err := createDecoyDigest(opts)
		if err != nil {
			return nil, fmt.Errorf("create decoy digest: %w", err)
		}

		digests = append(digests, decoy)
	}

	mathrand.Shuffle(len(digests), func(i, j int) {
		digests[i], digests[j] = digests[j], digests[i]
	})

	return digests, nil
}

// createDecoyDigest hashes a fresh salt. A decoy has no disclosure behind it
// and is indistinguishable from a real digest on the wire.
func createDecoyDigest(opts *newOpts) (string, error) {
	salt, err := opts.getSalt()
	if err != nil {
		return "", err
	}

	return common.GetHash(opts.HashAlg, salt)
}
