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

// Package issuer implements the credential issuer side of the OpenID4VCI exchange:
// the authorization state machine (PAR, authorize, token) and the credential
// issuance pipeline (single, batch, deferred).
package issuer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/WaltId-MikeRichardson/waltid-identity/crypto"
	"github.com/WaltId-MikeRichardson/waltid-identity/logging"
	"github.com/WaltId-MikeRichardson/waltid-identity/oauth"
	"github.com/WaltId-MikeRichardson/waltid-identity/openid4vc"
	"github.com/WaltId-MikeRichardson/waltid-identity/storage/session"
	"github.com/nuts-foundation/go-did/vc"
)

// DefaultSessionTTL is the default time-to-live for authorization sessions (including pushed requests).
const DefaultSessionTTL = 5 * time.Minute

// DefaultTokenTTL is the default time-to-live for access tokens, acceptance tokens and nonces.
const DefaultTokenTTL = 15 * time.Minute

// requestURIPrefix is the URN prefix for pushed authorization request references.
const requestURIPrefix = "urn:ietf:params:oauth:request_uri:"

// bearerTokenType is the token_type returned in token responses.
const bearerTokenType = "bearer"

var _ Service = (*service)(nil)

// Config holds the configuration of the issuer service.
type Config struct {
	// IssuerURL is the Credential Issuer Identifier, e.g. https://issuer.example.com.
	// It is the audience proofs of possession must target.
	IssuerURL string
	// SigningKeyID indicates the key used for signing tokens and issued credentials.
	SigningKeyID string
	// SessionTTL is the time-to-live for authorization sessions. Zero means DefaultSessionTTL.
	SessionTTL time.Duration
	// TokenTTL is the time-to-live for minted tokens and nonces. Zero means DefaultTokenTTL.
	TokenTTL time.Duration
	// CredentialsSupported describes the credentials this issuer can issue, served in its metadata.
	CredentialsSupported []map[string]interface{}
}

// TokenRequest holds the parameters of a token endpoint request.
type TokenRequest struct {
	GrantType string
	// Code is the authorization code, for the authorization_code grant.
	Code string
	// PreAuthorizedCode is the code from a credential offer, for the pre-authorized code grant.
	PreAuthorizedCode string
	RedirectURI       string
	ClientID          string
}

// Service is the credential issuer core: every method returns either its declared
// success value or a protocol error (oauth.OAuth2Error or openid4vc.Error), never
// an unhandled fault.
type Service interface {
	// Metadata returns the credential issuer metadata served on the well-known endpoint.
	Metadata() openid4vc.CredentialIssuerMetadata
	// ProviderMetadata returns the OAuth2 authorization server metadata.
	ProviderMetadata() openid4vc.ProviderMetadata
	// InitializeAuthorization validates the request and creates a session for it.
	// An unsupported response_type fails before any session is created.
	InitializeAuthorization(ctx context.Context, request AuthorizationRequest) (AuthorizationSession, error)
	// PushedAuthorization registers an authorization request ahead of time and returns
	// a reference the client must dereference exactly once on the authorization endpoint.
	PushedAuthorization(ctx context.Context, request AuthorizationRequest) (oauth.PushedAuthorizationResponse, error)
	// Authorize handles an authorization request (direct or by pushed reference) and
	// returns the redirect target with the response parameters appended.
	Authorize(ctx context.Context, request AuthorizationRequest) (string, error)
	// Token exchanges an authorization code or pre-authorized code for an access token
	// with a fresh c_nonce bound into the session.
	Token(ctx context.Context, request TokenRequest) (oauth.TokenResponse, error)
	// CreateOffer creates an issuance session for the given (prepared and deferred)
	// credentials and returns the offer with a pre-authorized code grant.
	CreateOffer(ctx context.Context, credentials []vc.VerifiableCredential, deferred []openid4vc.OfferedCredential) (*openid4vc.CredentialOffer, error)
	// Credential issues a credential for an authenticated, proven credential request.
	Credential(ctx context.Context, accessToken string, request openid4vc.CredentialRequest) (*openid4vc.CredentialResponse, error)
	// BatchCredential processes each sub-request independently, preserving request order.
	BatchCredential(ctx context.Context, accessToken string, request openid4vc.BatchCredentialRequest) (*openid4vc.BatchCredentialResponse, error)
	// DeferredCredential resolves a previously deferred issuance. While issuance is
	// pending it returns a response that re-issues the acceptance token.
	DeferredCredential(ctx context.Context, deferredToken string) (*openid4vc.CredentialResponse, error)
	// CompleteDeferred marks a deferred issuance as ready with the given credential.
	CompleteDeferred(ctx context.Context, transactionID string, credential vc.VerifiableCredential) error
}

type service struct {
	config    Config
	keys      crypto.KeyStore
	proofKeys crypto.KeyResolver
	codec     *Codec
	sessions  *SessionStore
	deferred  session.Store
	metrics   *metrics
}

// New creates the issuer service. proofKeys resolves the wallet keys that sign
// proofs of possession (typically backed by the DID registry).
func New(config Config, keys crypto.KeyStore, proofKeys crypto.KeyResolver, db session.Database) (Service, error) {
	if config.IssuerURL == "" {
		return nil, errors.New("issuer URL is required")
	}
	if config.SigningKeyID == "" {
		return nil, errors.New("signing key ID is required")
	}
	if config.SessionTTL == 0 {
		config.SessionTTL = DefaultSessionTTL
	}
	if config.TokenTTL == 0 {
		config.TokenTTL = DefaultTokenTTL
	}
	m, err := newMetrics()
	if err != nil {
		return nil, err
	}
	return &service{
		config:    config,
		keys:      keys,
		proofKeys: proofKeys,
		codec:     NewCodec(keys, config.IssuerURL, config.SigningKeyID),
		sessions:  NewSessionStore(db, config.SessionTTL),
		deferred:  db.GetStore(config.TokenTTL, "issuer", "deferred"),
		metrics:   m,
	}, nil
}

func (s *service) Metadata() openid4vc.CredentialIssuerMetadata {
	return openid4vc.CredentialIssuerMetadata{
		CredentialIssuer:           s.config.IssuerURL,
		CredentialEndpoint:         joinURLPaths(s.config.IssuerURL, "credential"),
		BatchCredentialEndpoint:    joinURLPaths(s.config.IssuerURL, "batch_credential"),
		DeferredCredentialEndpoint: joinURLPaths(s.config.IssuerURL, "deferred_credential"),
		CredentialsSupported:       s.config.CredentialsSupported,
	}
}

func (s *service) ProviderMetadata() openid4vc.ProviderMetadata {
	return openid4vc.ProviderMetadata{
		Issuer:                             s.config.IssuerURL,
		AuthorizationEndpoint:              joinURLPaths(s.config.IssuerURL, "authorize"),
		TokenEndpoint:                      joinURLPaths(s.config.IssuerURL, "token"),
		PushedAuthorizationRequestEndpoint: joinURLPaths(s.config.IssuerURL, "par"),
		ResponseTypesSupported:             []string{oauth.CodeResponseType, oauth.TokenResponseType},
		PreAuthorizedGrantAnonymousAccessSupported: true,
	}
}

func (s *service) InitializeAuthorization(_ context.Context, request AuthorizationRequest) (AuthorizationSession, error) {
	if err := s.validateResponseType(request); err != nil {
		return AuthorizationSession{}, err
	}
	result, err := s.sessions.Create(request)
	if err != nil {
		return AuthorizationSession{}, s.serverError(fmt.Errorf("unable to store session: %w", err))
	}
	logging.Log().WithField("session", result.ID).
		Debugf("Initialized authorization session (response_type=%s)", request.ResponseType)
	return result, nil
}

func (s *service) PushedAuthorization(ctx context.Context, request AuthorizationRequest) (oauth.PushedAuthorizationResponse, error) {
	sess, err := s.InitializeAuthorization(ctx, request)
	if err != nil {
		return oauth.PushedAuthorizationResponse{}, err
	}
	sess.Pushed = true
	sess.Status = StatusPushed
	if err := s.sessions.Update(sess); err != nil {
		return oauth.PushedAuthorizationResponse{}, s.serverError(err)
	}
	requestURI := requestURIPrefix + crypto.GenerateSecret()
	if err := s.sessions.StorePushed(requestURI, sess.ID); err != nil {
		return oauth.PushedAuthorizationResponse{}, s.serverError(err)
	}
	return oauth.PushedAuthorizationResponse{
		RequestURI: requestURI,
		ExpiresIn:  int(s.sessions.TTL().Seconds()),
	}, nil
}

func (s *service) Authorize(ctx context.Context, request AuthorizationRequest) (string, error) {
	var sess AuthorizationSession
	var err error
	if request.RequestURI != "" {
		// Pushed request: the effective parameters are the ones registered earlier.
		sess, err = s.sessions.ConsumePushed(request.RequestURI)
		if errors.Is(err, session.ErrNotFound) {
			s.metrics.protocolError(string(oauth.InvalidRequest))
			return "", oauth.OAuth2Error{
				Code:        oauth.InvalidRequest,
				Description: "unknown, expired or already used request_uri",
			}
		}
		if err != nil {
			return "", s.serverError(err)
		}
	} else {
		sess, err = s.InitializeAuthorization(ctx, request)
		if err != nil {
			return "", err
		}
	}

	redirectURI, oauthErr := s.resolveRedirectURI(sess.Request)
	if oauthErr != nil {
		return "", s.errored(sess, *oauthErr)
	}
	responseMode := sess.Request.ResponseMode

	switch sess.Request.ResponseType {
	case oauth.CodeResponseType:
		code := crypto.GenerateSecret()
		if err := s.sessions.StoreGrant(code, sess.ID); err != nil {
			return "", s.serverError(err)
		}
		sess.Status = StatusAuthorized
		if err := s.sessions.Update(sess); err != nil {
			return "", s.serverError(err)
		}
		params := map[string]string{oauth.CodeParam: code}
		if sess.Request.State != "" {
			params[oauth.StateParam] = sess.Request.State
		}
		if responseMode == "" {
			responseMode = oauth.QueryResponseMode
		}
		return oauth.AppendResponseParams(*redirectURI, responseMode, params), nil
	case oauth.TokenResponseType:
		// Implicit flow synthesizes the access token directly.
		accessToken, cNonce, err := s.mintAccessToken(ctx, &sess)
		if err != nil {
			return "", s.serverError(err)
		}
		params := map[string]string{
			"access_token":             accessToken,
			"token_type":               bearerTokenType,
			"expires_in":               fmt.Sprintf("%d", int(s.config.TokenTTL.Seconds())),
			oauth.CNonceParam:          cNonce,
			oauth.CNonceExpiresInParam: fmt.Sprintf("%d", int(s.config.TokenTTL.Seconds())),
		}
		if sess.Request.State != "" {
			params[oauth.StateParam] = sess.Request.State
		}
		if responseMode == "" {
			responseMode = oauth.FragmentResponseMode
		}
		return oauth.AppendResponseParams(*redirectURI, responseMode, params), nil
	default:
		// validateResponseType already rejected other values for fresh sessions.
		return "", s.errored(sess, oauth.OAuth2Error{
			Code:         oauth.UnsupportedResponseType,
			Description:  fmt.Sprintf("response_type %s is not supported", sess.Request.ResponseType),
			RedirectURI:  redirectURI,
			ResponseMode: responseMode,
		})
	}
}

func (s *service) Token(ctx context.Context, request TokenRequest) (oauth.TokenResponse, error) {
	var grant string
	switch request.GrantType {
	case oauth.AuthorizationCodeGrantType:
		grant = request.Code
	case oauth.PreAuthorizedCodeGrantType:
		grant = request.PreAuthorizedCode
	default:
		s.metrics.protocolError(string(oauth.UnsupportedGrantType))
		return oauth.TokenResponse{}, oauth.OAuth2Error{
			Code:        oauth.UnsupportedGrantType,
			Description: fmt.Sprintf("grant_type %s is not supported", request.GrantType),
		}
	}
	if grant == "" {
		s.metrics.protocolError(string(oauth.InvalidRequest))
		return oauth.TokenResponse{}, oauth.OAuth2Error{
			Code:        oauth.InvalidRequest,
			Description: "missing code parameter",
		}
	}
	sess, err := s.sessions.ConsumeGrant(grant)
	if errors.Is(err, session.ErrNotFound) {
		s.metrics.protocolError(string(oauth.InvalidGrant))
		return oauth.TokenResponse{}, oauth.OAuth2Error{
			Code:        oauth.InvalidGrant,
			Description: "invalid, expired or already used code",
		}
	}
	if err != nil {
		return oauth.TokenResponse{}, s.serverError(err)
	}

	accessToken, cNonce, err := s.mintAccessToken(ctx, &sess)
	if err != nil {
		return oauth.TokenResponse{}, s.serverError(err)
	}
	logging.Log().WithField("session", sess.ID).
		Debugf("Issued access token (grant_type=%s)", request.GrantType)
	expiresIn := int(s.config.TokenTTL.Seconds())
	response := oauth.TokenResponse{
		AccessToken: accessToken,
		TokenType:   bearerTokenType,
		ExpiresIn:   &expiresIn,
	}
	response.With(oauth.CNonceParam, cNonce)
	response.With(oauth.CNonceExpiresInParam, expiresIn)
	return response, nil
}

// mintAccessToken mints an access token for the session and binds a fresh c_nonce into it.
func (s *service) mintAccessToken(ctx context.Context, sess *AuthorizationSession) (string, string, error) {
	accessToken, err := s.codec.Mint(ctx, AccessTokenKind, sess.ID, nil, s.config.TokenTTL)
	if err != nil {
		return "", "", err
	}
	cNonce, err := s.rotateNonce(sess)
	if err != nil {
		return "", "", err
	}
	sess.Status = StatusTokenIssued
	if err := s.sessions.Update(*sess); err != nil {
		return "", "", err
	}
	return accessToken, cNonce, nil
}

// rotateNonce binds a fresh c_nonce into the session, invalidating the previous one.
func (s *service) rotateNonce(sess *AuthorizationSession) (string, error) {
	if sess.CNonce != "" {
		if err := s.sessions.DeleteNonce(sess.CNonce); err != nil {
			return "", err
		}
	}
	cNonce := crypto.GenerateSecret()
	if err := s.sessions.BindNonce(cNonce, sess.ID); err != nil {
		return "", err
	}
	sess.CNonce = cNonce
	return cNonce, nil
}

func (s *service) validateResponseType(request AuthorizationRequest) error {
	switch request.ResponseType {
	case oauth.CodeResponseType, oauth.TokenResponseType:
		return nil
	default:
		s.metrics.protocolError(string(oauth.UnsupportedResponseType))
		redirectURI, _ := s.resolveRedirectURI(request)
		return oauth.OAuth2Error{
			Code:         oauth.UnsupportedResponseType,
			Description:  fmt.Sprintf("response_type %s is not supported", request.ResponseType),
			RedirectURI:  redirectURI,
			ResponseMode: request.ResponseMode,
		}
	}
}

// resolveRedirectURI resolves the effective redirect target of the request.
// A missing or malformed redirect_uri is an invalid_request error, reported inline.
func (s *service) resolveRedirectURI(request AuthorizationRequest) (*url.URL, *oauth.OAuth2Error) {
	if request.RedirectURI == "" {
		return nil, &oauth.OAuth2Error{
			Code:        oauth.InvalidRequest,
			Description: "missing redirect_uri",
		}
	}
	redirectURI, err := url.Parse(request.RedirectURI)
	if err != nil {
		return nil, &oauth.OAuth2Error{
			Code:          oauth.InvalidRequest,
			Description:   "invalid redirect_uri",
			InternalError: err,
		}
	}
	return redirectURI, nil
}

// errored moves the session to the terminal errored state and returns the protocol error.
func (s *service) errored(sess AuthorizationSession, protocolError oauth.OAuth2Error) error {
	s.metrics.protocolError(string(protocolError.Code))
	sess.Status = StatusErrored
	sess.Error = string(protocolError.Code)
	if err := s.sessions.Update(sess); err != nil {
		logging.Log().WithError(err).WithField("session", sess.ID).
			Error("Failed to store errored session")
	}
	return protocolError
}

func (s *service) serverError(err error) error {
	s.metrics.protocolError(string(oauth.ServerError))
	logging.Log().WithError(err).Error("Issuer operation failed")
	return oauth.OAuth2Error{Code: oauth.ServerError, InternalError: err}
}

func joinURLPaths(base string, paths ...string) string {
	result := base
	for _, p := range paths {
		for len(result) > 0 && result[len(result)-1] == '/' {
			result = result[:len(result)-1]
		}
		result += "/" + p
	}
	return result
}
