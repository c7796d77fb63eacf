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
	"errors"
	"fmt"
	"strings"

	"github.com/WaltId-MikeRichardson/waltid-identity/pe"
	"github.com/nuts-foundation/go-did/vc"
)

// PolicyPresentationDefinition checks the presented credentials against a Presentation Exchange definition.
const PolicyPresentationDefinition = "presentation-definition"

// DefinitionFailure reports a presentation that does not satisfy a presentation definition.
type DefinitionFailure struct {
	// DefinitionID identifies the presentation definition.
	DefinitionID string `json:"definition"`
	// MissingTypes lists the credential types the definition requires but the presentation lacks.
	MissingTypes []string `json:"missing_types,omitempty"`
	// Message carries the matcher error when no types could be derived.
	Message string `json:"message,omitempty"`
}

func (f DefinitionFailure) Kind() string {
	return PolicyPresentationDefinition
}

func (f DefinitionFailure) Describe() string {
	if len(f.MissingTypes) > 0 {
		return fmt.Sprintf("presentation does not satisfy definition %s, missing credential types: [%s]", f.DefinitionID, strings.Join(f.MissingTypes, ", "))
	}
	return fmt.Sprintf("presentation does not satisfy definition %s: %s", f.DefinitionID, f.Message)
}

// DefinitionPolicy checks the presented credentials against a presentation definition
// using the same matcher the holder uses for credential selection. The zero-value
// matcher is strict: no fallback to the full credential list.
type DefinitionPolicy struct {
	Definition pe.PresentationDefinition
	Matcher    pe.Matcher
}

func (DefinitionPolicy) Name() string {
	return PolicyPresentationDefinition
}

func (p DefinitionPolicy) EvaluatePresentation(_ Context, credentials []vc.VerifiableCredential) Result {
	_, _, err := p.Matcher.Match(p.Definition, credentials)
	if err != nil {
		failure := DefinitionFailure{DefinitionID: p.Definition.Id}
		var definitionErr pe.PresentationDefinitionError
		if errors.As(err, &definitionErr) {
			failure.MissingTypes = definitionErr.MissingTypes
		} else {
			failure.Message = err.Error()
		}
		return Fail(p.Name(), failure)
	}
	return Pass(p.Name())
}
