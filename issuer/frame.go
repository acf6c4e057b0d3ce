/*
Copyright OpenWallet Foundation Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package issuer

import (
	"fmt"
	"strings"

	"github.com/openwallet-foundation-labs/sd-jwt-go/common"
)

// DisclosureFrame mirrors the shape of the claims it is applied to and marks
// which of them become selectively disclosable. A node with Disclose set is
// replaced by a digest; a node with both Disclose and children set produces a
// recursive disclosure whose value carries the nested digests.
type DisclosureFrame struct {
	// Disclose hides the claim this node describes behind a digest.
	Disclose bool

	// Members describes the policy for an object's members, keyed by claim
	// name. Members absent from the frame stay in clear text.
	Members map[string]*DisclosureFrame

	// Elements describes the policy for an array's elements, index-aligned.
	// It may be shorter than the array; the tail stays in clear text.
	Elements []*DisclosureFrame
}

// FrameFromPaths builds a frame marking the claims at the given dotted paths
// as disclosable. For example "degree.type" marks the type member of the
// degree object; intermediate objects stay in clear text.
func FrameFromPaths(paths ...string) *DisclosureFrame {
	root := &DisclosureFrame{}

	for _, path := range paths {
		node := root

		for _, part := range strings.Split(path, ".") {
			if node.Members == nil {
				node.Members = make(map[string]*DisclosureFrame)
			}

			next, ok := node.Members[part]
			if !ok {
				next = &DisclosureFrame{}
				node.Members[part] = next
			}

			node = next
		}

		node.Disclose = true
	}

	return root
}

// validateFrame checks the frame against the claims before any disclosure is
// created, so a mismatch never produces a half-built token.
func validateFrame(frame *DisclosureFrame, claims map[string]interface{}) error {
	if frame.Disclose {
		return fmt.Errorf("%w: root of the claims cannot be disclosed", common.ErrFrameShapeMismatch)
	}

	return validateObjectFrame(frame, claims, "")
}

func validateObjectFrame(frame *DisclosureFrame, claims map[string]interface{}, path string) error {
	if frame.Elements != nil {
		return fmt.Errorf("%w: frame at '%s' has array policy but claim is an object",
			common.ErrFrameShapeMismatch, pathOrRoot(path))
	}

	for name, memberFrame := range frame.Members {
		value, ok := claims[name]
		if !ok {
			return fmt.Errorf("%w: frame names member '%s' that is not present in the claims",
				common.ErrFrameShapeMismatch, joinPath(path, name))
		}

		if err := validateValueFrame(memberFrame, value, joinPath(path, name)); err != nil {
			return err
		}
	}

	return nil
}

func validateValueFrame(frame *DisclosureFrame, value interface{}, path string) error {
	if frame.Members == nil && frame.Elements == nil {
		return nil
	}

	switch v := value.(type) {
	case map[string]interface{}:
		return validateObjectFrame(frame, v, path)
	case []interface{}:
		return validateArrayFrame(frame, v, path)
	default:
		return fmt.Errorf("%w: frame at '%s' has nested policy but claim is neither object nor array",
			common.ErrFrameShapeMismatch, path)
	}
}

func validateArrayFrame(frame *DisclosureFrame, values []interface{}, path string) error {
	if frame.Members != nil {
		return fmt.Errorf("%w: frame at '%s' has object policy but claim is an array",
			common.ErrFrameShapeMismatch, path)
	}

	if len(frame.Elements) > len(values) {
		return fmt.Errorf("%w: frame at '%s' describes %d elements but array has %d",
			common.ErrFrameShapeMismatch, path, len(frame.Elements), len(values))
	}

	for i, elementFrame := range frame.Elements {
		if elementFrame == nil {
			continue
		}

		if err := validateValueFrame(elementFrame, values[i], fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}

	return nil
}

// defaultFrame marks every top-level claim as disclosable, without recursion.
func defaultFrame(claims map[string]interface{}) *DisclosureFrame {
	members := make(map[string]*DisclosureFrame, len(claims))

	for name := range claims {
		members[name] = &DisclosureFrame{Disclose: true}
	}

	return &DisclosureFrame{Members: members}
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}

	return path + "." + name
}

func pathOrRoot(path string) string {
	if path == "" {
		return "(root)"
	}

	return path
}
