/*
Copyright OpenWallet Foundation Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package verifier

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/mitchellh/mapstructure"

	"github.com/openwallet-foundation-labs/sd-jwt-go/common"
	afjwt "github.com/openwallet-foundation-labs/sd-jwt-go/jwt"
)

// verifyKeyBinding checks the possession proof of a presentation. A token
// carrying a confirmation key demands a key binding JWT; without one the
// proof runs only when the verifier's policy requires it.
func verifyKeyBinding(sdJWT *afjwt.JSONWebToken, cfp *common.CombinedFormatForPresentation,
	presentation string, pOpts *parseOpts) (bool, error) {
	cnf, cnfErr := common.GetCNF(sdJWT.Payload)
	hasCNF := cnfErr == nil

	if cfp.KeyBindingJWT == "" {
		if pOpts.keyBindingRequired || hasCNF {
			return false, fmt.Errorf("%w: presentation has no key binding JWT", common.ErrMissingKeyBinding)
		}

		// not required and not present - nothing to do
		return false, nil
	}

	if !hasCNF {
		return false, fmt.Errorf("%w: %s", common.ErrMissingConfirmationKey, cnfErr.Error())
	}

	signatureVerifier, err := getSignatureVerifierFromCNF(cnf)
	if err != nil {
		return false, fmt.Errorf("failed to get signature verifier from presentation claims: %w", err)
	}

	// Validate the signature over the Key Binding JWT.
	holderJWT, _, err := afjwt.Parse(cfp.KeyBindingJWT,
		afjwt.WithSignatureVerifier(signatureVerifier))
	if err != nil {
		return false, fmt.Errorf("failed to parse key binding: %w", err)
	}

	err = verifyKeyBindingJWT(holderJWT, sdJWT, presentation, pOpts)
	if err != nil {
		return false, fmt.Errorf("failed to verify holder JWT: %w", err)
	}

	return true, nil
}

func verifyKeyBindingJWT(holderJWT, sdJWT *afjwt.JSONWebToken, presentation string, pOpts *parseOpts) error {
	// Ensure that a signing algorithm was used that was deemed secure for the application.
	// The none algorithm MUST NOT be accepted.
	err := common.VerifySigningAlg(holderJWT.Headers, pOpts.holderSigningAlgorithms)
	if err != nil {
		return fmt.Errorf("failed to verify holder signing algorithm: %w", err)
	}

	// Check that the typ of the Key Binding JWT is kb+jwt.
	err = common.VerifyTyp(holderJWT.Headers, common.KeyBindingType)
	if err != nil {
		return fmt.Errorf("failed to verify typ header: %w", err)
	}

	var bindingPayload keyBindingPayload

	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &bindingPayload,
		TagName:          "json",
		Squash:           true,
		WeaklyTypedInput: true,
		DecodeHook:       common.JSONNumberToJwtNumericDate(),
	})
	if err != nil {
		return fmt.Errorf("mapstruct verifyKeyBinding. error: %w", err)
	}

	if err = d.Decode(holderJWT.Payload); err != nil {
		return fmt.Errorf("mapstruct verifyKeyBinding decode. error: %w", err)
	}

	if pOpts.expectedNonceForKeyBinding != "" && pOpts.expectedNonceForKeyBinding != bindingPayload.Nonce {
		return fmt.Errorf("%w: nonce value '%s' does not match expected nonce value '%s'",
			common.ErrNonceMismatch, bindingPayload.Nonce, pOpts.expectedNonceForKeyBinding)
	}

	if pOpts.expectedAudienceForKeyBinding != "" && pOpts.expectedAudienceForKeyBinding != bindingPayload.Audience {
		return fmt.Errorf("%w: audience value '%s' does not match expected audience value '%s'",
			common.ErrAudienceMismatch, bindingPayload.Audience, pOpts.expectedAudienceForKeyBinding)
	}

	if err = verifyKeyBindingIssuedAt(bindingPayload.IssuedAt, pOpts); err != nil {
		return err
	}

	return verifySDHash(bindingPayload.SDHash, sdJWT, presentation, pOpts.insecureHashAllowed)
}

func verifyKeyBindingIssuedAt(issuedAt *jwt.NumericDate, pOpts *parseOpts) error {
	if issuedAt == nil {
		return fmt.Errorf("iat must be present in key binding JWT")
	}

	now := time.Now()
	iat := issuedAt.Time()

	if iat.After(now.Add(pOpts.leewayForClaimsValidation)) {
		return fmt.Errorf("%w: iat %s is ahead of the clock", common.ErrKeyBindingFromFuture, iat.Format(time.RFC3339))
	}

	if pOpts.maxKeyBindingAge > 0 && now.Sub(iat) > pOpts.maxKeyBindingAge+pOpts.leewayForClaimsValidation {
		return fmt.Errorf("%w: iat %s is older than the allowed age", common.ErrKeyBindingTooOld, iat.Format(time.RFC3339))
	}

	return nil
}

// verifySDHash recomputes the digest over the exact bytes the holder
// presented: everything up to and including the last separator. The received
// string is never re-serialized for this.
func verifySDHash(sdHash string, sdJWT *afjwt.JSONWebToken, presentation string, allowInsecureHash bool) error {
	if sdHash == "" {
		return fmt.Errorf("%s must be present in key binding JWT", common.SDHashKey)
	}

	lastSeparator := strings.LastIndex(presentation, common.CombinedFormatSeparator)
	if lastSeparator < 0 {
		return fmt.Errorf("%w: presentation has no separator", common.ErrMalformedPresentation)
	}

	prefix := presentation[:lastSeparator+1]

	cryptoHash, err := common.GetCryptoHashFromClaimsWithOpts(sdJWT.Payload, allowInsecureHash)
	if err != nil {
		return err
	}

	expectedHash, err := common.GetHash(cryptoHash, prefix)
	if err != nil {
		return fmt.Errorf("hash presentation: %w", err)
	}

	if sdHash != expectedHash {
		return fmt.Errorf("%w: %s does not match the presented bytes",
			common.ErrKeyBindingDigestMismatch, common.SDHashKey)
	}

	return nil
}

func getSignatureVerifierFromCNF(cnf map[string]interface{}) (afjwt.SignatureVerifier, error) {
	jwkObj, ok := cnf["jwk"]
	if !ok {
		return nil, fmt.Errorf("jwk must be present in cnf")
	}

	jwkObjBytes, err := json.Marshal(jwkObj)
	if err != nil {
		return nil, fmt.Errorf("marshal jwk: %w", err)
	}

	j := jose.JSONWebKey{}

	err = j.UnmarshalJSON(jwkObjBytes)
	if err != nil {
		return nil, fmt.Errorf("unmarshal jwk: %w", err)
	}

	signatureVerifier, err := afjwt.VerifierForKey(j.Key)
	if err != nil {
		return nil, fmt.Errorf("get verifier from jwk: %w", err)
	}

	return signatureVerifier, nil
}

// keyBindingPayload represents expected key binding payload.
type keyBindingPayload struct {
	Nonce    string           `json:"nonce,omitempty"`
	Audience string           `json:"aud,omitempty"`
	IssuedAt *jwt.NumericDate `json:"iat,omitempty"`
	SDHash   string           `json:"sd_hash,omitempty"`
}
