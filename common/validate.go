/*
Copyright OpenWallet Foundation Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package common

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/mitchellh/mapstructure"

	afjwt "github.com/openwallet-foundation-labs/sd-jwt-go/jwt"
)

// VerifySigningAlg ensures that a signing algorithm was used that was deemed
// secure for the application. The none algorithm MUST NOT be accepted.
func VerifySigningAlg(joseHeaders afjwt.Headers, secureAlgs []string) error {
	alg, ok := joseHeaders.Algorithm()
	if !ok {
		return fmt.Errorf("%w: missing alg", ErrInsecureSignatureAlgorithm)
	}

	if alg == afjwt.AlgorithmNone {
		return fmt.Errorf("%w: alg value cannot be 'none'", ErrInsecureSignatureAlgorithm)
	}

	if !contains(secureAlgs, alg) {
		return fmt.Errorf("%w: alg '%s' is not in the allowed list", ErrInsecureSignatureAlgorithm, alg)
	}

	return nil
}

// VerifyTyp checks the typ header against the expected value.
func VerifyTyp(joseHeaders afjwt.Headers, expectedTyp string) error {
	typ, ok := joseHeaders.Type()
	if !ok {
		return errors.New("missing typ")
	}

	if typ != expectedTyp {
		return fmt.Errorf("unexpected typ '%s'", typ)
	}

	return nil
}

func contains(values []string, val string) bool {
	for _, v := range values {
		if v == val {
			return true
		}
	}

	return false
}

// VerifyJWT checks that the JWT is valid using nbf, iat, and exp claims
// (if provided in the JWT) and, when expectedIssuer is not empty, that the
// iss claim matches it.
func VerifyJWT(signedJWT *afjwt.JSONWebToken, leeway time.Duration, expectedIssuer string) error {
	var claims jwt.Claims

	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &claims,
		TagName:          "json",
		Squash:           true,
		WeaklyTypedInput: true,
		DecodeHook:       JSONNumberToJwtNumericDate(),
	})
	if err != nil {
		return fmt.Errorf("mapstruct verifyJWT. error: %w", err)
	}

	if err = d.Decode(signedJWT.Payload); err != nil {
		return fmt.Errorf("mapstruct verifyJWT decode. error: %w", err)
	}

	// Validate checks claims in a token against expected values.
	// It is validated using the expected.Time, or time.Now if not provided.
	expected := jwt.Expected{Issuer: expectedIssuer}

	err = claims.ValidateWithLeeway(expected, leeway)
	if err != nil {
		return toClaimsValidationError(err)
	}

	return nil
}

func toClaimsValidationError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return fmt.Errorf("%w: %s", ErrExpired, err.Error())
	case errors.Is(err, jwt.ErrNotValidYet), errors.Is(err, jwt.ErrIssuedInTheFuture):
		return fmt.Errorf("%w: %s", ErrNotYetValid, err.Error())
	case errors.Is(err, jwt.ErrInvalidIssuer):
		return fmt.Errorf("%w: %s", ErrIssuerMismatch, err.Error())
	default:
		return fmt.Errorf("invalid JWT time values: %w", err)
	}
}

// JSONNumberToJwtNumericDate hook for mapstructure library to decode json.Number to jwt.NumericDate.
func JSONNumberToJwtNumericDate() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.String() != "json.Number" || !strings.Contains("jwt.NumericDate", t.String()) {
			return data, nil
		}

		parsedFloat, err := strconv.ParseFloat(fmt.Sprint(data), 64)
		if err != nil {
			return nil, err
		}

		date := jwt.NewNumericDate(time.Unix(int64(parsedFloat), 0))

		if t.String() == "jwt.NumericDate" {
			return date, nil
		}

		return &date, nil
	}
}
