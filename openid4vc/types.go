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

// Package openid4vc contains OpenID4VCI protocol types as they appear on the wire,
// and a client for the credential issuer endpoints.
package openid4vc

import (
	"encoding/json"
	"errors"
)

// ProofTypeJWT is the proof type for JWT proofs of key possession.
const ProofTypeJWT = "jwt"

// JWTTypeProof defines the JWT typ for proofs of key possession, as recommended in Section 3.11 of RFC8725.
const JWTTypeProof = "openid4vci-proof+jwt"

// PreAuthorizedCodeGrant is the grant type used for pre-authorized code flow.
const PreAuthorizedCodeGrant = "urn:ietf:params:oauth:grant-type:pre-authorized_code"

// credential formats
const (
	// VerifiableCredentialJWTFormat is the format for JWT encoded Verifiable Credentials.
	VerifiableCredentialJWTFormat = "jwt_vc_json"
	// VerifiableCredentialSDJWTFormat is the format for selective-disclosure (SD-JWT) encoded credentials.
	VerifiableCredentialSDJWTFormat = "vc+sd-jwt"
	// VerifiableCredentialJSONLDFormat is the format for JSON-LD encoded Verifiable Credentials.
	VerifiableCredentialJSONLDFormat = "ldp_vc"
)

const (
	// CredentialIssuerMetadataWellKnownPath defines the well-known path for credential issuer metadata discovery.
	CredentialIssuerMetadataWellKnownPath = "/.well-known/openid-credential-issuer"
	// ProviderMetadataWellKnownPath defines the well-known path for OpenID provider metadata discovery.
	ProviderMetadataWellKnownPath = "/.well-known/openid-configuration"
	// WalletMetadataWellKnownPath defines the well-known path for wallet metadata discovery.
	WalletMetadataWellKnownPath = "/.well-known/openid-credential-wallet"
)

// CredentialRequest is the credential request sent to the credential endpoint.
type CredentialRequest struct {
	// Format is the requested format of the credential to be issued.
	Format string `json:"format"`
	// Types is the list of credential types the issued credential must at least contain.
	Types []string `json:"types,omitempty"`
	// CredentialDefinition further describes the requested credential.
	CredentialDefinition *CredentialDefinition `json:"credential_definition,omitempty"`
	// Proof is the proof of possession of the key material the credential shall be bound to.
	Proof *Proof `json:"proof,omitempty"`
}

// CredentialDefinition describes a credential by JSON-LD context and type.
type CredentialDefinition struct {
	Context []string `json:"@context,omitempty"`
	Type    []string `json:"type,omitempty"`
}

// Proof is a proof of possession of key material, bound to a Credential Issuer provided nonce and audience.
type Proof struct {
	// ProofType is the concrete proof type. Currently the only supported value is "jwt".
	ProofType string `json:"proof_type"`
	// Jwt is the signed proof. The nonce claim must echo the c_nonce issued by the credential issuer.
	Jwt string `json:"jwt"`
}

// CredentialResponse is a response from a credential issuer to a credential request.
// It carries either the issued credential, or an acceptance token for deferred issuance.
type CredentialResponse struct {
	// Format denotes the format of the issued credential. Present when Credential is present.
	Format string `json:"format,omitempty"`
	// Credential contains the issued credential. Must be present when AcceptanceToken is not.
	// A JSON string or object, depending on the format.
	Credential interface{} `json:"credential,omitempty"`
	// AcceptanceToken is a security token subsequently used to obtain the credential from the
	// deferred credential endpoint. Must be present when Credential is not.
	AcceptanceToken string `json:"acceptance_token,omitempty"`
	// CNonce is a fresh nonce to be used in subsequent proofs of possession.
	CNonce *string `json:"c_nonce,omitempty"`
	// CNonceExpiresIn is the lifetime of CNonce in seconds.
	CNonceExpiresIn *int `json:"c_nonce_expires_in,omitempty"`
}

// Pending returns whether the response signals issuance is still in progress:
// no credential yet, come back later with the acceptance token.
func (r CredentialResponse) Pending() bool {
	return r.Credential == nil && r.AcceptanceToken != ""
}

// BatchCredentialRequest is the request to the batch credential endpoint.
type BatchCredentialRequest struct {
	CredentialRequests []CredentialRequest `json:"credential_requests"`
}

// BatchCredentialResponse is the response of the batch credential endpoint.
// Entries mirror the request order exactly; each entry succeeds or fails independently.
type BatchCredentialResponse struct {
	CredentialResponses []CredentialResult `json:"credential_responses"`
}

// CredentialResult is a single outcome in a batch credential response:
// either a credential response or a credential error.
type CredentialResult struct {
	Response *CredentialResponse
	Error    *Error
}

var _ json.Marshaler = CredentialResult{}
var _ json.Unmarshaler = (*CredentialResult)(nil)

func (r CredentialResult) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		return json.Marshal(r.Error)
	}
	if r.Response != nil {
		return json.Marshal(r.Response)
	}
	return nil, errors.New("empty credential result")
}

func (r *CredentialResult) UnmarshalJSON(data []byte) error {
	var protocolError Error
	if err := json.Unmarshal(data, &protocolError); err == nil && protocolError.Code != "" {
		r.Error = &protocolError
		return nil
	}
	var response CredentialResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return err
	}
	r.Response = &response
	return nil
}

// CredentialOffer is the offer an issuer sends to a wallet to initiate issuance.
type CredentialOffer struct {
	// CredentialIssuer is the Credential Issuer Identifier (a URL).
	CredentialIssuer string `json:"credential_issuer"`
	// Credentials describes the credentials being offered, in the order the issuer will match proofs against.
	Credentials []OfferedCredential `json:"credentials"`
	// Grants lists the grants the wallet can use to acquire an access token.
	Grants map[string]interface{} `json:"grants"`
}

// OfferedCredential is one credential in a credential offer.
type OfferedCredential struct {
	Format               string                `json:"format"`
	Types                []string              `json:"types,omitempty"`
	CredentialDefinition *CredentialDefinition `json:"credential_definition,omitempty"`
}

// PreAuthorizedCode returns the pre-authorized code from the offer's grants,
// or an empty string when the offer does not contain a (valid) pre-authorized code grant.
func (o CredentialOffer) PreAuthorizedCode() string {
	params, ok := o.Grants[PreAuthorizedCodeGrant].(map[string]interface{})
	if !ok {
		return ""
	}
	code, ok := params["pre-authorized_code"].(string)
	if !ok {
		return ""
	}
	return code
}

// CredentialIssuerMetadata is the metadata of a credential issuer, served on its well-known endpoint.
type CredentialIssuerMetadata struct {
	// CredentialIssuer is the Credential Issuer Identifier.
	CredentialIssuer string `json:"credential_issuer"`
	// CredentialEndpoint is the URL of the credential endpoint.
	CredentialEndpoint string `json:"credential_endpoint"`
	// BatchCredentialEndpoint is the URL of the batch credential endpoint, if supported.
	BatchCredentialEndpoint string `json:"batch_credential_endpoint,omitempty"`
	// DeferredCredentialEndpoint is the URL of the deferred credential endpoint, if supported.
	DeferredCredentialEndpoint string `json:"deferred_credential_endpoint,omitempty"`
	// CredentialsSupported describes the credentials this issuer can issue.
	CredentialsSupported []map[string]interface{} `json:"credentials_supported,omitempty"`
}

// ProviderMetadata is the OAuth2 authorization server metadata of the credential issuer.
type ProviderMetadata struct {
	// Issuer is the authorization server's identifier (a URL).
	Issuer string `json:"issuer"`
	// AuthorizationEndpoint is the URL of the authorization endpoint.
	AuthorizationEndpoint string `json:"authorization_endpoint,omitempty"`
	// PushedAuthorizationRequestEndpoint is the URL of the PAR endpoint (RFC9126).
	PushedAuthorizationRequestEndpoint string `json:"pushed_authorization_request_endpoint,omitempty"`
	// TokenEndpoint is the URL of the token endpoint.
	TokenEndpoint string `json:"token_endpoint"`
	// ResponseTypesSupported lists the supported response_type values.
	ResponseTypesSupported []string `json:"response_types_supported,omitempty"`
	// PreAuthorizedGrantAnonymousAccessSupported indicates whether anonymous access (no client_id)
	// is allowed for the pre-authorized grant.
	PreAuthorizedGrantAnonymousAccessSupported bool `json:"pre-authorized_grant_anonymous_access_supported,omitempty"`
}

// OAuth2ClientMetadata is the metadata of a wallet acting as OAuth2 client.
type OAuth2ClientMetadata struct {
	// CredentialOfferEndpoint is the URL on which the wallet receives credential offers.
	CredentialOfferEndpoint string `json:"credential_offer_endpoint"`
}
