/*
Copyright OpenWallet Foundation Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package holder

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/openwallet-foundation-labs/sd-jwt-go/common"
	"github.com/openwallet-foundation-labs/sd-jwt-go/issuer"
	afjwt "github.com/openwallet-foundation-labs/sd-jwt-go/jwt"
)

const testIssuer = "https://example.com/issuer"

func TestParse(t *testing.T) {
	r := require.New(t)

	issuerPublicKey, issuerPrivateKey, err := ed25519.GenerateKey(rand.Reader)
	r.NoError(err)

	signer := afjwt.NewEd25519Signer(issuerPrivateKey)

	verifier, err := afjwt.NewEd25519Verifier(issuerPublicKey)
	r.NoError(err)

	claims := map[string]interface{}{
		"given_name": "Albert",
		"last_name":  "Smith",
	}

	combinedFormatForIssuance := issueToken(t, signer, claims)

	t.Run("success", func(t *testing.T) {
		holderClaims, err := Parse(combinedFormatForIssuance, WithSignatureVerifier(verifier))
		r.NoError(err)
		r.Len(holderClaims, 2)

		names := map[string]interface{}{}
		for _, claim := range holderClaims {
			names[claim.Name] = claim.Value
		}

		r.Equal("Albert", names["given_name"])
		r.Equal("Smith", names["last_name"])
	})

	t.Run("success - no signature verification", func(t *testing.T) {
		holderClaims, err := Parse(combinedFormatForIssuance, WithSignatureVerifier(&NoopSignatureVerifier{}))
		r.NoError(err)
		r.Len(holderClaims, 2)
	})

	t.Run("success - issuance without the trailing separator", func(t *testing.T) {
		legacy := strings.TrimSuffix(combinedFormatForIssuance, common.CombinedFormatSeparator)

		holderClaims, err := Parse(legacy, WithSignatureVerifier(verifier))
		r.NoError(err)
		r.Len(holderClaims, 2)
	})

	t.Run("success - weak hash admitted explicitly", func(t *testing.T) {
		weakHashIssuance := issueTokenWithOpts(t, signer, claims,
			issuer.WithHashAlgorithm(crypto.SHA1),
			issuer.WithInsecureHashAllowed())

		holderClaims, err := Parse(weakHashIssuance, WithSignatureVerifier(verifier))
		r.Error(err)
		r.ErrorIs(err, common.ErrUnapprovedHashAlgorithm)
		r.Nil(holderClaims)

		holderClaims, err = Parse(weakHashIssuance,
			WithSignatureVerifier(verifier),
			WithInsecureHashAllowed())
		r.NoError(err)
		r.Len(holderClaims, 2)
	})

	t.Run("error - wrong issuer key", func(t *testing.T) {
		otherPublicKey, _, err := ed25519.GenerateKey(rand.Reader)
		r.NoError(err)

		otherVerifier, err := afjwt.NewEd25519Verifier(otherPublicKey)
		r.NoError(err)

		holderClaims, err := Parse(combinedFormatForIssuance, WithSignatureVerifier(otherVerifier))
		r.Error(err)
		r.Nil(holderClaims)
	})

	t.Run("error - signing algorithm not in the allowed list", func(t *testing.T) {
		holderClaims, err := Parse(combinedFormatForIssuance,
			WithSignatureVerifier(verifier),
			WithIssuerSigningAlgorithms([]string{"RS256"}))
		r.Error(err)
		r.ErrorIs(err, common.ErrInsecureSignatureAlgorithm)
		r.Nil(holderClaims)
	})

	t.Run("error - unexpected typ header", func(t *testing.T) {
		holderClaims, err := Parse(combinedFormatForIssuance,
			WithSignatureVerifier(verifier),
			WithExpectedTypHeader("vc+sd-jwt"))
		r.Error(err)
		r.Nil(holderClaims)
		r.Contains(err.Error(), "failed to verify typ header")
	})

	t.Run("error - expired SD-JWT", func(t *testing.T) {
		expired := issueTokenWithOpts(t, signer, claims,
			issuer.WithExpiry(jwt.NewNumericDate(time.Now().Add(-time.Hour))))

		holderClaims, err := Parse(expired, WithSignatureVerifier(verifier))
		r.Error(err)
		r.ErrorIs(err, common.ErrExpired)
		r.Nil(holderClaims)
	})

	t.Run("error - disclosure not tied to the token", func(t *testing.T) {
		orphan, err := common.EncodeDisclosure(json.Marshal, uuid.NewString(), "extra", "value")
		r.NoError(err)

		holderClaims, err := Parse(combinedFormatForIssuance+orphan,
			WithSignatureVerifier(verifier))
		r.Error(err)
		r.ErrorIs(err, common.ErrOrphanDisclosure)
		r.Nil(holderClaims)
	})

	t.Run("error - not a compact JWS", func(t *testing.T) {
		holderClaims, err := Parse("garbage~d1~", WithSignatureVerifier(verifier))
		r.Error(err)
		r.Nil(holderClaims)
	})
}

func TestSelect(t *testing.T) {
	r := require.New(t)

	claims := []*Claim{
		{Name: "given_name", Disclosure: "d1"},
		{Name: "last_name", Disclosure: "d2"},
	}

	selected := Select(claims, func(claim *Claim) bool {
		return claim.Name == "given_name"
	})

	r.Equal([]string{"d1"}, selected)

	r.Empty(Select(claims, func(*Claim) bool { return false }))
}

func TestCreatePresentation(t *testing.T) {
	r := require.New(t)

	_, issuerPrivateKey, err := ed25519.GenerateKey(rand.Reader)
	r.NoError(err)

	signer := afjwt.NewEd25519Signer(issuerPrivateKey)

	claims := map[string]interface{}{
		"given_name": "Albert",
		"last_name":  "Smith",
	}

	combinedFormatForIssuance := issueToken(t, signer, claims)
	cfi := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)

	t.Run("success - all disclosures, no key binding", func(t *testing.T) {
		presentation, err := CreatePresentation(combinedFormatForIssuance, cfi.Disclosures)
		r.NoError(err)
		r.True(strings.HasSuffix(presentation, common.CombinedFormatSeparator))

		cfp := common.ParseCombinedFormatForPresentation(presentation)
		r.Equal(cfi.SDJWT, cfp.SDJWT)
		r.Len(cfp.Disclosures, 2)
		r.Empty(cfp.KeyBindingJWT)
	})

	t.Run("success - subset of disclosures", func(t *testing.T) {
		presentation, err := CreatePresentation(combinedFormatForIssuance, cfi.Disclosures[:1])
		r.NoError(err)

		cfp := common.ParseCombinedFormatForPresentation(presentation)
		r.Len(cfp.Disclosures, 1)
	})

	t.Run("success - no disclosures selected", func(t *testing.T) {
		presentation, err := CreatePresentation(combinedFormatForIssuance, nil)
		r.NoError(err)

		cfp := common.ParseCombinedFormatForPresentation(presentation)
		r.Len(cfp.Disclosures, 0)
	})

	t.Run("error - selected disclosures required", func(t *testing.T) {
		presentation, err := CreatePresentation(combinedFormatForIssuance, nil,
			WithRequireSelectedDisclosures())
		r.Error(err)
		r.ErrorIs(err, common.ErrNoDisclosuresSelected)
		r.Empty(presentation)
	})

	t.Run("error - disclosure not found", func(t *testing.T) {
		presentation, err := CreatePresentation(combinedFormatForIssuance, []string{"unknown"})
		r.Error(err)
		r.Empty(presentation)
		r.Contains(err.Error(), "not found in SD-JWT")
	})

	t.Run("error - issuance without disclosures", func(t *testing.T) {
		presentation, err := CreatePresentation(cfi.SDJWT, []string{"d1"})
		r.Error(err)
		r.Empty(presentation)
		r.Contains(err.Error(), "no disclosures found in SD-JWT")
	})
}

func TestCreatePresentationWithKeyBinding(t *testing.T) {
	r := require.New(t)

	_, issuerPrivateKey, err := ed25519.GenerateKey(rand.Reader)
	r.NoError(err)

	signer := afjwt.NewEd25519Signer(issuerPrivateKey)

	holderPublicKey, holderPrivateKey, err := ed25519.GenerateKey(rand.Reader)
	r.NoError(err)

	holderSigner := afjwt.NewEd25519Signer(holderPrivateKey)

	claims := map[string]interface{}{"given_name": "Albert"}

	combinedFormatForIssuance := issueTokenWithOpts(t, signer, claims,
		issuer.WithHolderPublicKey(&jose.JSONWebKey{Key: holderPublicKey}))

	cfi := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)

	bindingInfo := &BindingInfo{
		Payload: BindingPayload{
			Nonce:    uuid.NewString(),
			Audience: "https://test.com/verifier",
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
		Signer: holderSigner,
	}

	t.Run("success", func(t *testing.T) {
		presentation, err := CreatePresentation(combinedFormatForIssuance, cfi.Disclosures,
			WithKeyBinding(bindingInfo))
		r.NoError(err)

		cfp := common.ParseCombinedFormatForPresentation(presentation)
		r.NotEmpty(cfp.KeyBindingJWT)

		keyBindingJWT, _, err := afjwt.Parse(cfp.KeyBindingJWT)
		r.NoError(err)

		typ, ok := keyBindingJWT.Headers.Type()
		r.True(ok)
		r.Equal("kb+jwt", typ)

		// sd_hash covers the presentation prefix: everything up to and
		// including the last separator.
		lastSeparator := strings.LastIndex(presentation, common.CombinedFormatSeparator)
		expectedHash, err := common.GetHash(crypto.SHA256, presentation[:lastSeparator+1])
		r.NoError(err)
		r.Equal(expectedHash, keyBindingJWT.Payload["sd_hash"])
	})

	t.Run("error - no confirmation key in SD-JWT", func(t *testing.T) {
		withoutCNF := issueToken(t, signer, claims)
		cfiWithoutCNF := common.ParseCombinedFormatForIssuance(withoutCNF)

		presentation, err := CreatePresentation(withoutCNF, cfiWithoutCNF.Disclosures,
			WithKeyBinding(bindingInfo))
		r.Error(err)
		r.ErrorIs(err, common.ErrMissingConfirmationKey)
		r.Empty(presentation)
	})

	t.Run("success - weak hash admitted explicitly", func(t *testing.T) {
		weakHashIssuance := issueTokenWithOpts(t, signer, claims,
			issuer.WithHolderPublicKey(&jose.JSONWebKey{Key: holderPublicKey}),
			issuer.WithHashAlgorithm(crypto.SHA1),
			issuer.WithInsecureHashAllowed())

		weakCFI := common.ParseCombinedFormatForIssuance(weakHashIssuance)

		presentation, err := CreatePresentation(weakHashIssuance, weakCFI.Disclosures,
			WithKeyBinding(bindingInfo))
		r.Error(err)
		r.ErrorIs(err, common.ErrUnapprovedHashAlgorithm)
		r.Empty(presentation)

		presentation, err = CreatePresentation(weakHashIssuance, weakCFI.Disclosures,
			WithKeyBinding(bindingInfo),
			WithInsecureHashAllowedForKeyBinding())
		r.NoError(err)
		r.NotEmpty(common.ParseCombinedFormatForPresentation(presentation).KeyBindingJWT)
	})

	t.Run("error - signer failure", func(t *testing.T) {
		presentation, err := CreatePresentation(combinedFormatForIssuance, cfi.Disclosures,
			WithKeyBinding(&BindingInfo{
				Payload: bindingInfo.Payload,
				Signer:  &failingSigner{},
			}))
		r.Error(err)
		r.ErrorIs(err, common.ErrSigningFailed)
		r.Empty(presentation)
	})
}

func issueToken(t *testing.T, signer afjwt.Signer, claims map[string]interface{}) string {
	t.Helper()

	return issueTokenWithOpts(t, signer, claims)
}

func issueTokenWithOpts(t *testing.T, signer afjwt.Signer, claims map[string]interface{},
	opts ...issuer.NewOpt) string {
	t.Helper()

	token, err := issuer.New(testIssuer, claims, nil, signer, opts...)
	require.NoError(t, err)

	cfi, err := token.Serialize()
	require.NoError(t, err)

	return cfi
}

type failingSigner struct{}

func (s *failingSigner) Sign(_ []byte) ([]byte, error) {
	return nil, errors.New("signer error")
}

func (s *failingSigner) Headers() afjwt.Headers {
	return afjwt.Headers{"alg": "EdDSA"}
}
