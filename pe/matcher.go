/*
 * Copyright (C) 2024 waltid-identity community
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 *
 */

package pe

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/dlclark/regexp2"
	"github.com/google/uuid"
	"github.com/nuts-foundation/go-did/vc"
)

// ErrUnsupportedFilter is returned when a filter uses unsupported features.
var ErrUnsupportedFilter = errors.New("unsupported filter")

// PresentationDefinitionError is returned when one or more input descriptors could not be
// satisfied by any held credential. MissingTypes lists the type of every unmatched descriptor.
type PresentationDefinitionError struct {
	MissingTypes []string
}

func (e PresentationDefinitionError) Error() string {
	return fmt.Sprintf("no credentials match the presentation definition, missing types: [%s]", strings.Join(e.MissingTypes, ", "))
}

// Matcher matches held credentials against presentation definitions.
type Matcher struct {
	// FallbackToAllCredentials controls the behavior when field filters exist but match no credential:
	// when true (the default for New), the full unfiltered credential list is returned and the
	// caller decides whether that is acceptable; when false, an empty match is returned.
	FallbackToAllCredentials bool
}

// New returns a Matcher with the default fallback behavior.
func New() Matcher {
	return Matcher{FallbackToAllCredentials: true}
}

// Match matches the given credentials against the presentation definition.
// Descriptors with field constraints match by JSON path + filter; descriptors without
// constraints match the descriptor name against the credential's declared types.
// A type-named descriptor with zero matches yields a PresentationDefinitionError listing
// every unmatched type.
func (m Matcher) Match(definition PresentationDefinition, credentials []vc.VerifiableCredential) (PresentationSubmission, []vc.VerifiableCredential, error) {
	submission := PresentationSubmission{
		Id:           uuid.NewString(),
		DefinitionId: definition.Id,
	}

	var missingTypes []string
	var matchingCredentials []vc.VerifiableCredential
	matched := map[int]bool{}

	for _, descriptor := range definition.InputDescriptors {
		descriptorMatched := false
		for credIndex, credential := range credentials {
			match, err := matchDescriptor(*descriptor, credential)
			if err != nil {
				return PresentationSubmission{}, nil, err
			}
			if !match {
				continue
			}
			descriptorMatched = true
			if !matched[credIndex] {
				matched[credIndex] = true
				submission.DescriptorMap = append(submission.DescriptorMap, InputDescriptorMappingObject{
					Id:     descriptor.Id,
					Format: credentialFormat(credential),
					Path:   fmt.Sprintf("$.verifiableCredential[%d]", len(matchingCredentials)),
				})
				matchingCredentials = append(matchingCredentials, credential)
			}
		}
		if !descriptorMatched && !hasFieldConstraints(*descriptor) {
			missingTypes = append(missingTypes, descriptorType(*descriptor))
		}
	}

	if len(missingTypes) > 0 {
		return PresentationSubmission{}, nil, PresentationDefinitionError{MissingTypes: missingTypes}
	}
	if len(matchingCredentials) == 0 && m.FallbackToAllCredentials {
		// The caller decides whether an unfiltered selection is acceptable.
		return submission, credentials, nil
	}
	return submission, matchingCredentials, nil
}

func hasFieldConstraints(descriptor InputDescriptor) bool {
	return descriptor.Constraints != nil && len(descriptor.Constraints.Fields) > 0
}

// descriptorType is the credential type an unconstrained descriptor requires.
func descriptorType(descriptor InputDescriptor) string {
	if descriptor.Name != "" {
		return descriptor.Name
	}
	return descriptor.Id
}

func matchDescriptor(descriptor InputDescriptor, credential vc.VerifiableCredential) (bool, error) {
	if hasFieldConstraints(descriptor) {
		return matchConstraints(descriptor.Constraints, credential)
	}
	return credentialHasType(credential, descriptorType(descriptor)), nil
}

func credentialHasType(credential vc.VerifiableCredential, typeName string) bool {
	for _, credentialType := range credential.Type {
		if credentialType.String() == typeName {
			return true
		}
	}
	return false
}

func credentialFormat(credential vc.VerifiableCredential) string {
	if format := credential.Format(); format != "" {
		return format
	}
	return vc.JSONLDCredentialProofFormat
}

func matchConstraints(constraints *Constraints, credential vc.VerifiableCredential) (bool, error) {
	// a credential must match every field of the constraint
	for _, field := range constraints.Fields {
		match, err := matchField(field, credential)
		if err != nil {
			return false, err
		}
		if !match {
			return false, nil
		}
	}
	return true, nil
}

func matchField(field Field, credential vc.VerifiableCredential) (bool, error) {
	// a credential must match one of the paths of the field
	var filterMismatches int
	for _, path := range field.Path {
		value, err := getValueAtPath(path, credential)
		if err != nil {
			return false, err
		}
		if value == nil {
			continue
		}
		if field.Filter == nil {
			return true, nil
		}
		match, err := matchFilter(*field.Filter, value)
		if err != nil {
			return false, err
		}
		if match {
			return true, nil
		}
		filterMismatches++
	}
	// Optional only saves the field when all paths were absent, not when a filter rejected a value
	if field.Optional != nil && *field.Optional && filterMismatches == 0 {
		return true, nil
	}
	return false, nil
}

// getValueAtPath uses the JSON path expression to get the value from the credential.
func getValueAtPath(path string, credential vc.VerifiableCredential) (interface{}, error) {
	asJSON, err := json.Marshal(credential)
	if err != nil {
		return nil, err
	}
	var asInterface interface{}
	_ = json.Unmarshal(asJSON, &asInterface)

	value, err := jsonpath.Get(path, asInterface)
	if err != nil {
		// an unknown path is not an error, the field simply isn't present
		return nil, nil
	}
	return value, nil
}

// matchFilter matches the value against the filter.
// Supported schema types: string, number, boolean, array, enum.
// Supported schema properties: const, enum, pattern. These only work for strings.
// It returns an error on unsupported features or when the regex pattern fails.
func matchFilter(filter Filter, value interface{}) (bool, error) {
	// enum first, so we can recursively call matchFilter for each allowed value
	if filter.Enum != nil {
		for _, enum := range *filter.Enum {
			alternative := enum
			match, _ := matchFilter(Filter{Type: "string", Const: &alternative}, value)
			if match {
				return true, nil
			}
		}
		return false, nil
	}

	switch v := value.(type) {
	case string:
		if filter.Type != "string" {
			return false, nil
		}
	case float64:
		if filter.Type != "number" {
			return false, nil
		}
	case int:
		if filter.Type != "number" {
			return false, nil
		}
	case bool:
		if filter.Type != "boolean" {
			return false, nil
		}
	case []interface{}:
		for _, entry := range v {
			match, err := matchFilter(filter, entry)
			if err != nil {
				return false, err
			}
			if match {
				return true, nil
			}
		}
		return false, nil
	default:
		// objects not supported
		return false, ErrUnsupportedFilter
	}

	if filter.Const != nil {
		if value != *filter.Const {
			return false, nil
		}
	}
	if filter.Pattern != nil && filter.Type == "string" {
		re, err := regexp2.Compile(*filter.Pattern, regexp2.ECMAScript)
		if err != nil {
			return false, err
		}
		return re.MatchString(value.(string))
	}
	return true, nil
}
