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

// Package oauth contains generic OAuth2 related functionality, variables and constants
package oauth

import (
	"encoding/json"
)

// TokenResponse is the OAuth2 access token response.
// Through With() and Get() additional parameters (for OpenID4VCI, for instance) can be set and retrieved.
type TokenResponse struct {
	AccessToken string  `json:"access_token"`
	ExpiresIn   *int    `json:"expires_in,omitempty"`
	TokenType   string  `json:"token_type"`
	Scope       *string `json:"scope,omitempty"`

	additionalParams map[string]interface{}
}

var _ json.Unmarshaler = (*TokenResponse)(nil)
var _ json.Marshaler = (*TokenResponse)(nil)

func (t *TokenResponse) UnmarshalJSON(data []byte) error {
	type Alias TokenResponse
	var result Alias
	// base parameters
	if err := json.Unmarshal(data, &result); err != nil {
		return err
	}
	// extension parameters
	additionalParams := map[string]interface{}{}
	_ = json.Unmarshal(data, &additionalParams) // can't fail, already unmarshalled
	delete(additionalParams, "access_token")
	delete(additionalParams, "expires_in")
	delete(additionalParams, "token_type")
	delete(additionalParams, "scope")
	*t = TokenResponse(result)
	if len(additionalParams) > 0 {
		t.additionalParams = additionalParams
	}
	return nil
}

func (t TokenResponse) MarshalJSON() ([]byte, error) {
	result := make(map[string]interface{})
	for key, value := range t.additionalParams {
		result[key] = value
	}
	result["access_token"] = t.AccessToken
	result["token_type"] = t.TokenType
	if t.ExpiresIn != nil {
		result["expires_in"] = t.ExpiresIn
	}
	if t.Scope != nil {
		result["scope"] = t.Scope
	}
	return json.Marshal(result)
}

// With adds a parameter to the token response.
// It's a builder-style function.
// It should not be used to set any of the base parameters (access_token, expires_in, token_type, scope).
func (t *TokenResponse) With(key string, value interface{}) *TokenResponse {
	if t.additionalParams == nil {
		t.additionalParams = make(map[string]interface{})
	}
	t.additionalParams[key] = value
	return t
}

// Get returns the value of the additional parameter with the given key as a string.
// If the key does not exist or the value is not a string, it returns an empty string.
// It should not be used to get any of the base parameters (access_token, expires_in, token_type, scope).
func (t TokenResponse) Get(key string) string {
	if t.additionalParams == nil {
		return ""
	}
	if val, ok := t.additionalParams[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// PushedAuthorizationResponse is the response of the Pushed Authorization Request endpoint as defined in RFC9126.
type PushedAuthorizationResponse struct {
	// RequestURI is the reference to the pushed authorization request, to be dereferenced exactly once.
	RequestURI string `json:"request_uri"`
	// ExpiresIn is the lifetime of the request URI in seconds.
	ExpiresIn int `json:"expires_in"`
}

// oauth parameter keys
const (
	// ClientIDParam is the parameter name for the client_id parameter. (RFC6749)
	ClientIDParam = "client_id"
	// CNonceParam is the parameter name for the c_nonce parameter. (OpenID4VCI)
	CNonceParam = "c_nonce"
	// CNonceExpiresInParam is the parameter name for the c_nonce_expires_in parameter. (OpenID4VCI)
	CNonceExpiresInParam = "c_nonce_expires_in"
	// CodeParam is the parameter name for the code parameter. (RFC6749)
	CodeParam = CodeResponseType
	// GrantTypeParam is the parameter name for the grant_type parameter. (RFC6749)
	GrantTypeParam = "grant_type"
	// NonceParam is the parameter name for the nonce parameter
	NonceParam = "nonce"
	// PreAuthorizedCodeParam is the parameter name for the pre-authorized_code parameter. (OpenID4VCI)
	PreAuthorizedCodeParam = "pre-authorized_code"
	// PresentationDefParam is the parameter name for the OpenID4VP presentation_definition parameter. (OpenID4VP)
	PresentationDefParam = "presentation_definition"
	// RedirectURIParam is the parameter name for the redirect_uri parameter. (RFC6749)
	RedirectURIParam = "redirect_uri"
	// RequestURIParam is the parameter name for the request_uri parameter. (RFC9101/RFC9126)
	RequestURIParam = "request_uri"
	// ResponseModeParam is the parameter name for the OAuth2 response_mode parameter.
	ResponseModeParam = "response_mode"
	// ResponseTypeParam is the parameter name for the response_type parameter. (RFC6749)
	ResponseTypeParam = "response_type"
	// ScopeParam is the parameter name for the scope parameter. (RFC6749)
	ScopeParam = "scope"
	// StateParam is the parameter name for the state parameter. (RFC6749)
	StateParam = "state"
	// VpTokenParam is the parameter name for the vp_token parameter. (OpenID4VP)
	VpTokenParam = "vp_token"
)

// grant types
const (
	// AuthorizationCodeGrantType is the grant_type for the authorization_code grant type. (RFC6749)
	AuthorizationCodeGrantType = "authorization_code"
	// PreAuthorizedCodeGrantType is the grant_type for the pre-authorized_code grant type. (OpenID4VCI)
	PreAuthorizedCodeGrantType = "urn:ietf:params:oauth:grant-type:pre-authorized_code"
)

// response types
const (
	// CodeResponseType is the response_type for the authorization code flow. (RFC6749)
	CodeResponseType = "code"
	// TokenResponseType is the response_type for the implicit flow. (RFC6749)
	TokenResponseType = "token"
	// IDTokenResponseType is the response_type for the implicit OpenID Connect flow.
	IDTokenResponseType = "id_token"
	// VPTokenResponseType is the response_type for the vp_token response type. (OpenID4VP)
	VPTokenResponseType = "vp_token"
)

// response modes
const (
	// QueryResponseMode renders response parameters as query parameters on the redirect URI.
	// It is the default for the authorization code flow.
	QueryResponseMode = "query"
	// FragmentResponseMode renders response parameters in the URI fragment.
	// It is the default for implicit flows.
	FragmentResponseMode = "fragment"
)

// metadata endpoints
const (
	// AuthzServerWellKnown is the well-known base path for the oauth authorization server metadata as defined in RFC8414
	AuthzServerWellKnown = "/.well-known/oauth-authorization-server"
	// OpenIdCredIssuerWellKnown is the well-known base path for the openID credential issuer metadata as defined in
	// the OpenID4VCI specification
	OpenIdCredIssuerWellKnown = "/.well-known/openid-credential-issuer"
	// OpenIdConfigurationWellKnown is the well-known base path for the openID configuration metadata
	OpenIdConfigurationWellKnown = "/.well-known/openid-configuration"
)

const (
	// ErrorParam is the parameter name for the error parameter
	ErrorParam = "error"
	// ErrorDescriptionParam is the parameter name for the error_description parameter
	ErrorDescriptionParam = "error_description"
)
