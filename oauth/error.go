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

package oauth

import (
	"net/url"
)

// ErrorCode specifies error codes as defined by the OAuth2 specifications.
// Codes and descriptions are returned in the error response body or redirect parameters.
type ErrorCode string

const (
	// InvalidRequest is returned when the request is missing a required parameter, includes an
	// invalid parameter value, includes a parameter more than once, or is otherwise malformed.
	InvalidRequest ErrorCode = "invalid_request"
	// InvalidClient is returned when client authentication failed.
	InvalidClient ErrorCode = "invalid_client"
	// InvalidGrant is returned when the provided authorization grant (e.g. authorization code,
	// pre-authorized code) is invalid, expired or was already used.
	InvalidGrant ErrorCode = "invalid_grant"
	// UnsupportedGrantType is returned when the authorization grant type is not supported by the authorization server.
	UnsupportedGrantType ErrorCode = "unsupported_grant_type"
	// UnsupportedResponseType is returned when the authorization server does not support obtaining an
	// authorization code (or token) using the requested method.
	UnsupportedResponseType ErrorCode = "unsupported_response_type"
	// AccessDenied is returned when the resource owner or authorization server denied the request.
	AccessDenied ErrorCode = "access_denied"
	// ServerError is returned when the authorization server encounters an unexpected condition
	// that prevents it from fulfilling the request.
	ServerError ErrorCode = "server_error"
)

// OAuth2Error is an OAuth2 protocol error. Depending on where it occurs it is rendered as a JSON
// response body or appended to a redirect target, using the resolved response mode.
type OAuth2Error struct {
	// Code is the error code as defined by the OAuth2 spec.
	Code ErrorCode `json:"error"`
	// Description is a human-readable explanation of the error, returned to the client.
	Description string `json:"error_description,omitempty"`
	// InternalError is the underlying error. It is not returned to the client.
	InternalError error `json:"-"`
	// RedirectURI is the redirect target the error should be delivered to, if one could be resolved.
	RedirectURI *url.URL `json:"-"`
	// ResponseMode determines how redirect-based errors are rendered (query or fragment).
	// Empty means query.
	ResponseMode string `json:"-"`
}

// Error returns the error message, which is the code with the optional description and underlying error.
func (e OAuth2Error) Error() string {
	result := string(e.Code)
	if e.Description != "" {
		result += " - " + e.Description
	}
	if e.InternalError != nil {
		result += " (" + e.InternalError.Error() + ")"
	}
	return result
}

// Redirect renders the error into its redirect target, appending the error and error_description
// parameters according to the response mode. It returns an empty string when no redirect target was resolved,
// in which case the error must be returned inline.
func (e OAuth2Error) Redirect() string {
	if e.RedirectURI == nil {
		return ""
	}
	params := map[string]string{
		ErrorParam: string(e.Code),
	}
	if e.Description != "" {
		params[ErrorDescriptionParam] = e.Description
	}
	return AppendResponseParams(*e.RedirectURI, e.ResponseMode, params)
}

// AppendResponseParams appends the given response parameters to the redirect URI,
// as query parameters (default) or in the URI fragment depending on the response mode.
func AppendResponseParams(redirectURI url.URL, responseMode string, params map[string]string) string {
	if responseMode == FragmentResponseMode {
		values := url.Values{}
		for key, value := range params {
			values.Add(key, value)
		}
		redirectURI.Fragment = values.Encode()
		// Encode() escapes the fragment as a query string, which is the desired representation
		redirectURI.RawFragment = values.Encode()
		return redirectURI.String()
	}
	query := redirectURI.Query()
	for key, value := range params {
		query.Set(key, value)
	}
	redirectURI.RawQuery = query.Encode()
	return redirectURI.String()
}
