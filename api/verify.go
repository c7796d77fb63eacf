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

package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nuts-foundation/go-did/vc"

	"github.com/WaltId-MikeRichardson/waltid-identity/openid4vc"
	"github.com/WaltId-MikeRichardson/waltid-identity/policy"
)

// VerifyRequest is the request body of the verification endpoint.
type VerifyRequest struct {
	Credentials []vc.VerifiableCredential `json:"credentials"`
	// Holder is the party presenting the credentials, checked by holder binding policies.
	Holder string `json:"holder,omitempty"`
}

// VerifyResponse reports the outcome of every policy evaluation.
type VerifyResponse struct {
	Passed  bool           `json:"passed"`
	Results []policyResult `json:"results"`
}

type policyResult struct {
	Policy       string `json:"policy"`
	CredentialID string `json:"credential_id,omitempty"`
	Passed       bool   `json:"passed"`
	Failure      string `json:"failure,omitempty"`
}

// handleVerify runs the configured policy set against the posted credentials.
// Policy failures are data, not errors: the response lists every result.
func (w Wrapper) handleVerify(c echo.Context) error {
	var request VerifyRequest
	if err := c.Bind(&request); err != nil {
		return renderError(c, openid4vc.Error{
			Code:       openid4vc.InvalidRequest,
			StatusCode: http.StatusBadRequest,
			Err:        err,
		})
	}
	report := policy.Engine{}.Evaluate(w.Policies, policy.Context{
		At:     time.Now(),
		Holder: request.Holder,
	}, request.Credentials)
	response := VerifyResponse{Passed: report.Passed()}
	for _, result := range report.Results {
		rendered := policyResult{
			Policy:       result.PolicyName,
			CredentialID: result.CredentialID,
			Passed:       result.Passed,
		}
		if result.Failure != nil {
			rendered.Failure = result.Failure.Describe()
		}
		response.Results = append(response.Results, rendered)
	}
	return writeJSON(c, http.StatusOK, response)
}
