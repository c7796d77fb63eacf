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

// Package policy implements the pluggable verification policy engine.
// Policies are pure functions of (credential, context); the engine evaluates every
// policy of a set and aggregates all failures instead of short-circuiting, so callers
// see the complete diagnostic picture in one pass.
package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nuts-foundation/go-did/vc"
)

// Context carries the evaluation context shared by all policies. Policies never mutate it.
type Context struct {
	// At is the evaluation instant. Zero means time.Now.
	At time.Time
	// Holder is the identifier of the presenting party, for holder binding checks.
	Holder string
}

func (c Context) now() time.Time {
	if c.At.IsZero() {
		return time.Now()
	}
	return c.At
}

// Failure is the diagnostic detail of a failed policy. Implementations are structured
// values carrying the checked instants/identifiers, not just a message.
type Failure interface {
	// Kind returns the failure kind, one per policy kind.
	Kind() string
	// Describe returns a human readable description of the failure.
	Describe() string
}

// Result is the outcome of evaluating a single policy.
type Result struct {
	// PolicyName names the evaluated policy.
	PolicyName string `json:"policy"`
	// CredentialID identifies the credential the policy ran against, empty for presentation-scoped policies.
	CredentialID string `json:"credential,omitempty"`
	// Passed indicates whether the policy passed.
	Passed bool `json:"passed"`
	// Failure carries the diagnostic detail when the policy failed.
	Failure Failure `json:"failure,omitempty"`
}

// Pass returns a passing result for the named policy.
func Pass(policyName string) Result {
	return Result{PolicyName: policyName, Passed: true}
}

// Fail returns a failing result for the named policy with the given diagnostic detail.
func Fail(policyName string, failure Failure) Result {
	return Result{PolicyName: policyName, Passed: false, Failure: failure}
}

// CredentialPolicy is a verification policy evaluated against a single credential.
type CredentialPolicy interface {
	// Name returns the policy name, used in diagnostics.
	Name() string
	// Evaluate runs the policy against the credential. It must not mutate shared state.
	Evaluate(ctx Context, credential vc.VerifiableCredential) Result
}

// PresentationPolicy is a verification policy evaluated once against all presented credentials.
type PresentationPolicy interface {
	Name() string
	// EvaluatePresentation runs the policy against the presentation as a whole.
	EvaluatePresentation(ctx Context, credentials []vc.VerifiableCredential) Result
}

// Set is a named, ordered AND-combination of policies.
type Set struct {
	Name       string
	Credential []CredentialPolicy
	// Presentation policies run once per evaluation, not once per credential.
	Presentation []PresentationPolicy
}

// Report is the aggregated outcome of evaluating a policy set.
type Report struct {
	Results []Result `json:"results"`
}

// Passed returns whether every policy in the set passed.
func (r Report) Passed() bool {
	for _, result := range r.Results {
		if !result.Passed {
			return false
		}
	}
	return true
}

// Failures returns all failing results, in evaluation order.
func (r Report) Failures() []Result {
	var failures []Result
	for _, result := range r.Results {
		if !result.Passed {
			failures = append(failures, result)
		}
	}
	return failures
}

// Err folds the aggregated failures into a single error, for callers that treat
// aggregate failure as fatal. Returns nil when all policies passed.
func (r Report) Err() error {
	failures := r.Failures()
	if len(failures) == 0 {
		return nil
	}
	descriptions := make([]string, len(failures))
	for i, failure := range failures {
		descriptions[i] = fmt.Sprintf("%s: %s", failure.PolicyName, failure.Failure.Describe())
	}
	return errors.New("policy verification failed: " + strings.Join(descriptions, "; "))
}

// Engine evaluates policy sets. It is stateless and safe for concurrent use.
type Engine struct{}

// Evaluate runs every policy of the set: credential policies against each credential,
// presentation policies once against the whole list. It never short-circuits; results
// appear in evaluation order (per credential, then per presentation policy).
// Evaluation is idempotent: the same inputs yield the same results and diagnostic fields.
func (Engine) Evaluate(set Set, ctx Context, credentials []vc.VerifiableCredential) Report {
	var report Report
	for _, credential := range credentials {
		credentialID := ""
		if credential.ID != nil {
			credentialID = credential.ID.String()
		}
		for _, pol := range set.Credential {
			result := pol.Evaluate(ctx, credential)
			result.CredentialID = credentialID
			report.Results = append(report.Results, result)
		}
	}
	for _, pol := range set.Presentation {
		report.Results = append(report.Results, pol.EvaluatePresentation(ctx, credentials))
	}
	return report
}
