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

package openid4vc

// ErrorCode specifies error codes as defined by the OpenID4VCI spec.
type ErrorCode string

const (
	// InvalidRequest is returned when the credential request was malformed:
	// one or more of the parameters (i.e. format, proof) are missing or malformed.
	InvalidRequest ErrorCode = "invalid_request"
	// InvalidClient is returned when client authentication failed.
	InvalidClient ErrorCode = "invalid_client"
	// InvalidGrant is returned when the provided grant (authorization code or pre-authorized code)
	// is wrong, expired or was already used.
	InvalidGrant ErrorCode = "invalid_grant"
	// InvalidToken is returned when the credential request contains the wrong access token or the access token is missing.
	InvalidToken ErrorCode = "invalid_token"
	// UnsupportedGrantType is returned when the authorization server does not support the requested grant type.
	UnsupportedGrantType ErrorCode = "unsupported_grant_type"
	// ServerError is returned when the server encounters an unexpected condition that prevents it from fulfilling the request.
	ServerError ErrorCode = "server_error"
	// UnsupportedCredentialType is returned when the credential issuer does not support the requested credential type.
	UnsupportedCredentialType ErrorCode = "unsupported_credential_type"
	// UnsupportedCredentialFormat is returned when the credential issuer does not support the requested credential format.
	UnsupportedCredentialFormat ErrorCode = "unsupported_credential_format"
	// InvalidProof is returned when the credential request did not contain a proof,
	// or the proof was invalid, i.e. it was not bound to a Credential Issuer provided nonce.
	InvalidProof ErrorCode = "invalid_proof"
	// InvalidDeferredToken is returned when the deferred credential request contains an unknown acceptance token.
	InvalidDeferredToken ErrorCode = "invalid_deferred_token"
)

// Error is an error that signals the error was (probably) caused by the client (e.g. bad request),
// or that the client can recover from the error (e.g. retry). Errors are specified by the OpenID4VCI specification.
type Error struct {
	// Code is the error code as defined by the OpenID4VCI spec.
	Code ErrorCode `json:"error"`
	// Description is a human-readable description of the error, returned to the client.
	Description string `json:"error_description,omitempty"`
	// Err is the underlying error, may be omitted. It is not intended to be returned to the client.
	Err error `json:"-"`
	// StatusCode is the HTTP status code that should be returned to the client.
	StatusCode int `json:"-"`
	// CNonce is a fresh nonce issued alongside invalid_proof errors, so the client can retry
	// with a correctly bound proof (OpenID4VCI section 7.3.2).
	CNonce *string `json:"c_nonce,omitempty"`
	// CNonceExpiresIn is the lifetime of CNonce in seconds.
	CNonceExpiresIn *int `json:"c_nonce_expires_in,omitempty"`
}

// Error returns the error message, which is either the underlying error or the code if there is no underlying error
func (e Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return string(e.Code) + " - " + e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/As.
func (e Error) Unwrap() error {
	return e.Err
}
