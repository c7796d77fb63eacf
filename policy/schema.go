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

package policy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nuts-foundation/go-did/vc"
	"github.com/santhosh-tekuri/jsonschema"
)

// PolicySchema validates the credential document against a JSON schema.
const PolicySchema = "schema"

// SchemaViolation is a single JSON schema violation.
type SchemaViolation struct {
	// InstancePtr is the JSON pointer into the credential document that violated the schema.
	InstancePtr string `json:"instance"`
	// Message describes the violation.
	Message string `json:"message"`
}

// SchemaFailure aggregates every schema violation found in the credential document.
// The policy never stops at the first violation.
type SchemaFailure struct {
	Violations []SchemaViolation `json:"violations"`
}

func (f SchemaFailure) Kind() string {
	return PolicySchema
}

func (f SchemaFailure) Describe() string {
	parts := make([]string, len(f.Violations))
	for i, violation := range f.Violations {
		parts[i] = fmt.Sprintf("%s: %s", violation.InstancePtr, violation.Message)
	}
	return fmt.Sprintf("credential does not conform to schema (%d violations): %s", len(f.Violations), strings.Join(parts, "; "))
}

// SchemaPolicy validates the full credential document against a compiled JSON schema.
type SchemaPolicy struct {
	Schema *jsonschema.Schema
}

// CompileSchema compiles a draft-07 JSON schema for use in a SchemaPolicy.
// External $ref resolution is disabled; all referenced schemas must be part of the document.
func CompileSchema(url string, data []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("error adding schema %s: %w", url, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("error compiling schema %s: %w", url, err)
	}
	return schema, nil
}

func (SchemaPolicy) Name() string {
	return PolicySchema
}

func (p SchemaPolicy) Evaluate(_ Context, credential vc.VerifiableCredential) Result {
	document, err := json.Marshal(credential)
	if err != nil {
		return Fail(p.Name(), SchemaFailure{Violations: []SchemaViolation{{InstancePtr: "#", Message: err.Error()}}})
	}
	if err := p.Schema.Validate(bytes.NewReader(document)); err != nil {
		var validationErr *jsonschema.ValidationError
		if !errors.As(err, &validationErr) {
			return Fail(p.Name(), SchemaFailure{Violations: []SchemaViolation{{InstancePtr: "#", Message: err.Error()}}})
		}
		return Fail(p.Name(), SchemaFailure{Violations: flattenViolations(validationErr)})
	}
	return Pass(p.Name())
}

// flattenViolations collects the leaf causes of a validation error so the failure
// lists every violation, not just the root "doesn't validate" message.
func flattenViolations(err *jsonschema.ValidationError) []SchemaViolation {
	if len(err.Causes) == 0 {
		return []SchemaViolation{{InstancePtr: err.InstancePtr, Message: err.Message}}
	}
	var violations []SchemaViolation
	for _, cause := range err.Causes {
		violations = append(violations, flattenViolations(cause)...)
	}
	return violations
}
