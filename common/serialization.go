/*
Copyright OpenWallet Foundation Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package common

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v3/json"
)

// JSONSerialization is the flattened JWS JSON form of an SD-JWT. Disclosures
// and the optional key binding JWT travel in the unprotected header.
type JSONSerialization struct {
	Protected string                  `json:"protected"`
	Payload   string                  `json:"payload"`
	Signature string                  `json:"signature"`
	Header    JSONSerializationHeader `json:"header"`
}

// JSONSerializationHeader is the unprotected header of the JSON form.
type JSONSerializationHeader struct {
	Disclosures   []string `json:"disclosures,omitempty"`
	KeyBindingJWT string   `json:"kb_jwt,omitempty"`
}

// MarshalJSONSerialization converts a combined format for presentation into
// its flattened JWS JSON form.
func MarshalJSONSerialization(cfp *CombinedFormatForPresentation) ([]byte, error) {
	parts := strings.Split(cfp.SDJWT, ".")
	if len(parts) != 3 { // nolint:gomnd
		return nil, fmt.Errorf("%w: SD-JWT is not a compact JWS", ErrMalformedPresentation)
	}

	js := &JSONSerialization{
		Protected: parts[0],
		Payload:   parts[1],
		Signature: parts[2],
		Header: JSONSerializationHeader{
			Disclosures:   cfp.Disclosures,
			KeyBindingJWT: cfp.KeyBindingJWT,
		},
	}

	return json.Marshal(js)
}

// UnmarshalJSONSerialization parses the flattened JWS JSON form back into a
// combined format for presentation.
func UnmarshalJSONSerialization(data []byte) (*CombinedFormatForPresentation, error) {
	var js JSONSerialization

	if err := json.Unmarshal(data, &js); err != nil {
		return nil, fmt.Errorf("%w: unmarshal JSON serialization: %s", ErrMalformedPresentation, err.Error())
	}

	if js.Protected == "" || js.Payload == "" || js.Signature == "" {
		return nil, errors.New("JSON serialization must have protected, payload and signature")
	}

	return &CombinedFormatForPresentation{
		SDJWT:         js.Protected + "." + js.Payload + "." + js.Signature,
		Disclosures:   js.Header.Disclosures,
		KeyBindingJWT: js.Header.KeyBindingJWT,
	}, nil
}
