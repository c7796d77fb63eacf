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
	"fmt"
	"strings"

	"github.com/nuts-foundation/go-did/vc"
)

const (
	// PolicyAllowedIssuer checks the credential issuer against an allow-list.
	PolicyAllowedIssuer = "allowed-issuer"
	// PolicyHolderBinding checks that the presenting holder is a credential subject.
	PolicyHolderBinding = "holder-binding"
	// PolicyCardinality checks the number of presented credentials against configured bounds.
	PolicyCardinality = "cardinality"
)

// NotAllowedIssuerFailure reports a credential issued by a party outside the allow-list.
type NotAllowedIssuerFailure struct {
	// Issuer is the credential's issuer.
	Issuer string `json:"issuer"`
	// Allowed is the configured allow-list.
	Allowed []string `json:"allowed"`
}

func (f NotAllowedIssuerFailure) Kind() string {
	return PolicyAllowedIssuer
}

func (f NotAllowedIssuerFailure) Describe() string {
	return fmt.Sprintf("issuer %s is not in the allowed issuer list [%s]", f.Issuer, strings.Join(f.Allowed, ", "))
}

// AllowedIssuerPolicy fails unless the credential issuer appears in the allow-list.
// An empty allow-list rejects every credential.
type AllowedIssuerPolicy struct {
	Issuers []string
}

func (AllowedIssuerPolicy) Name() string {
	return PolicyAllowedIssuer
}

func (p AllowedIssuerPolicy) Evaluate(_ Context, credential vc.VerifiableCredential) Result {
	issuer := credential.Issuer.String()
	for _, allowed := range p.Issuers {
		if issuer == allowed {
			return Pass(p.Name())
		}
	}
	return Fail(p.Name(), NotAllowedIssuerFailure{Issuer: issuer, Allowed: p.Issuers})
}

// HolderBindingFailure reports a credential none of whose subjects is the presenting holder.
type HolderBindingFailure struct {
	// Holder is the identifier of the presenting party.
	Holder string `json:"holder"`
	// SubjectIDs are the credential's subject identifiers.
	SubjectIDs []string `json:"subjects"`
}

func (f HolderBindingFailure) Kind() string {
	return PolicyHolderBinding
}

func (f HolderBindingFailure) Describe() string {
	return fmt.Sprintf("holder %s is not a subject of the credential (subjects: [%s])", f.Holder, strings.Join(f.SubjectIDs, ", "))
}

// HolderBindingPolicy fails unless the holder from the evaluation context matches one
// of the credential's subject identifiers.
type HolderBindingPolicy struct{}

func (HolderBindingPolicy) Name() string {
	return PolicyHolderBinding
}

func (p HolderBindingPolicy) Evaluate(ctx Context, credential vc.VerifiableCredential) Result {
	subjectIDs := credentialSubjectIDs(credential)
	for _, id := range subjectIDs {
		if id == ctx.Holder {
			return Pass(p.Name())
		}
	}
	return Fail(p.Name(), HolderBindingFailure{Holder: ctx.Holder, SubjectIDs: subjectIDs})
}

func credentialSubjectIDs(credential vc.VerifiableCredential) []string {
	var subjects []struct {
		ID string `json:"id"`
	}
	if err := credential.UnmarshalCredentialSubject(&subjects); err != nil {
		return nil
	}
	var ids []string
	for _, subject := range subjects {
		if subject.ID != "" {
			ids = append(ids, subject.ID)
		}
	}
	return ids
}

// CardinalityFailure reports a presentation with too few or too many credentials.
type CardinalityFailure struct {
	// Presented is the number of presented credentials.
	Presented int `json:"presented"`
	// Min is the lower bound, 0 when unbounded.
	Min int `json:"min"`
	// Max is the upper bound, 0 when unbounded.
	Max int `json:"max,omitempty"`
	// Shortfall is how many credentials are missing, when under Min.
	Shortfall int `json:"shortfall,omitempty"`
	// Excess is how many credentials are over Max.
	Excess int `json:"excess,omitempty"`
}

func (f CardinalityFailure) Kind() string {
	return PolicyCardinality
}

func (f CardinalityFailure) Describe() string {
	if f.Shortfall > 0 {
		return fmt.Sprintf("%d credentials presented, %d short of the minimum of %d", f.Presented, f.Shortfall, f.Min)
	}
	return fmt.Sprintf("%d credentials presented, %d over the maximum of %d", f.Presented, f.Excess, f.Max)
}

// CardinalityPolicy bounds the number of credentials in a presentation.
// Max 0 means no upper bound.
type CardinalityPolicy struct {
	Min int
	Max int
}

func (CardinalityPolicy) Name() string {
	return PolicyCardinality
}

func (p CardinalityPolicy) EvaluatePresentation(_ Context, credentials []vc.VerifiableCredential) Result {
	presented := len(credentials)
	if presented < p.Min {
		return Fail(p.Name(), CardinalityFailure{Presented: presented, Min: p.Min, Max: p.Max, Shortfall: p.Min - presented})
	}
	if p.Max > 0 && presented > p.Max {
		return Fail(p.Name(), CardinalityFailure{Presented: presented, Min: p.Min, Max: p.Max, Excess: presented - p.Max})
	}
	return Pass(p.Name())
}
