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

package issuer

import (
	"context"
	crypt "crypto"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/WaltId-MikeRichardson/waltid-identity/crypto"
	"github.com/WaltId-MikeRichardson/waltid-identity/logging"
	"github.com/WaltId-MikeRichardson/waltid-identity/oauth"
	"github.com/WaltId-MikeRichardson/waltid-identity/openid4vc"
	"github.com/WaltId-MikeRichardson/waltid-identity/storage/session"
	"github.com/google/uuid"
	ssi "github.com/nuts-foundation/go-did"
	"github.com/nuts-foundation/go-did/vc"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// transactionClaim carries the deferred issuance reference in acceptance tokens.
const transactionClaim = "transaction_id"

// deferredIssuance is a queued issuance resolved through the deferred credential endpoint.
type deferredIssuance struct {
	SessionID  string                   `json:"session_id"`
	Format     string                   `json:"format"`
	Credential *vc.VerifiableCredential `json:"credential,omitempty"`
	Ready      bool                     `json:"ready"`
}

func (s *service) CreateOffer(_ context.Context, credentials []vc.VerifiableCredential, deferred []openid4vc.OfferedCredential) (*openid4vc.CredentialOffer, error) {
	if len(credentials) == 0 && len(deferred) == 0 {
		return nil, errors.New("nothing to offer")
	}
	offered := make([]openid4vc.OfferedCredential, 0, len(credentials)+len(deferred))
	for _, credential := range credentials {
		offered = append(offered, openid4vc.OfferedCredential{
			Format: openid4vc.VerifiableCredentialJWTFormat,
			Types:  credentialTypeNames(credential),
		})
	}
	offered = append(offered, deferred...)

	sess, err := s.sessions.Create(AuthorizationRequest{ResponseType: oauth.CodeResponseType})
	if err != nil {
		return nil, fmt.Errorf("unable to store credential offer: %w", err)
	}
	sess.Credentials = credentials
	sess.Offered = offered
	if err := s.sessions.Update(sess); err != nil {
		return nil, fmt.Errorf("unable to store credential offer: %w", err)
	}
	preAuthorizedCode := crypto.GenerateSecret()
	if err := s.sessions.StoreGrant(preAuthorizedCode, sess.ID); err != nil {
		return nil, fmt.Errorf("unable to store pre-authorized code: %w", err)
	}
	logging.Log().WithField("session", sess.ID).
		Infof("Offering %d credential(s) using the pre-authorized code grant", len(offered))

	return &openid4vc.CredentialOffer{
		CredentialIssuer: s.config.IssuerURL,
		Credentials:      offered,
		Grants: map[string]interface{}{
			openid4vc.PreAuthorizedCodeGrant: map[string]interface{}{
				oauth.PreAuthorizedCodeParam: preAuthorizedCode,
			},
		},
	}, nil
}

func (s *service) Credential(ctx context.Context, accessToken string, request openid4vc.CredentialRequest) (*openid4vc.CredentialResponse, error) {
	sess, err := s.authenticate(accessToken)
	if err != nil {
		return nil, err
	}
	if err := s.validateProof(&sess, request); err != nil {
		return nil, err
	}
	response, err := s.issue(ctx, &sess, request)
	if err != nil {
		return nil, err
	}
	if !response.Pending() {
		sess.Status = StatusCredentialIssued
	}
	// fresh nonce for any subsequent proof
	cNonce, nonceErr := s.rotateNonce(&sess)
	if nonceErr != nil {
		return nil, s.credentialServerError(nonceErr)
	}
	expiresIn := int(s.config.TokenTTL.Seconds())
	response.CNonce = &cNonce
	response.CNonceExpiresIn = &expiresIn
	if err := s.sessions.Update(sess); err != nil {
		return nil, s.credentialServerError(err)
	}
	return response, nil
}

func (s *service) BatchCredential(ctx context.Context, accessToken string, request openid4vc.BatchCredentialRequest) (*openid4vc.BatchCredentialResponse, error) {
	sess, err := s.authenticate(accessToken)
	if err != nil {
		return nil, err
	}
	// All proofs in the batch are validated against the nonce the session carried on
	// entry; its binding is consumed once, so the whole batch counts as a single use.
	entryNonce := sess.CNonce
	nonceConsumed := false
	if bound, err := s.sessions.ConsumeNonce(entryNonce); err == nil && bound.ID == sess.ID {
		nonceConsumed = true
		sess.CNonce = ""
	}

	// Results mirror request order exactly; one item's failure does not abort its siblings.
	results := make([]openid4vc.CredentialResult, len(request.CredentialRequests))
	issuedAny := false
	for i, credentialRequest := range request.CredentialRequests {
		if err := s.checkProof(credentialRequest, entryNonce); err != nil {
			results[i] = credentialErrorResult(s.invalidProofError(err))
			continue
		}
		if !nonceConsumed {
			results[i] = credentialErrorResult(s.invalidProofError(errors.New("nonce already used or not bound to this session")))
			continue
		}
		response, err := s.issue(ctx, &sess, credentialRequest)
		if err != nil {
			results[i] = credentialErrorResult(err)
			continue
		}
		results[i] = openid4vc.CredentialResult{Response: response}
		if !response.Pending() {
			issuedAny = true
		}
	}
	if issuedAny {
		sess.Status = StatusCredentialIssued
	}
	cNonce, err := s.rotateNonce(&sess)
	if err != nil {
		return nil, s.credentialServerError(err)
	}
	expiresIn := int(s.config.TokenTTL.Seconds())
	for i := range results {
		if results[i].Error != nil && results[i].Error.Code == openid4vc.InvalidProof {
			results[i].Error.CNonce = &cNonce
			results[i].Error.CNonceExpiresIn = &expiresIn
		}
	}
	if err := s.sessions.Update(sess); err != nil {
		return nil, s.credentialServerError(err)
	}
	return &openid4vc.BatchCredentialResponse{CredentialResponses: results}, nil
}

func (s *service) DeferredCredential(ctx context.Context, deferredToken string) (*openid4vc.CredentialResponse, error) {
	token, err := s.codec.Verify(DeferredTokenKind, deferredToken)
	if err != nil {
		return nil, openid4vc.Error{
			Err:        err,
			Code:       openid4vc.InvalidDeferredToken,
			StatusCode: http.StatusBadRequest,
		}
	}
	transactionID, _ := token.Get(transactionClaim)
	transaction, ok := transactionID.(string)
	if !ok || transaction == "" {
		return nil, openid4vc.Error{
			Err:        errors.New("missing transaction_id claim"),
			Code:       openid4vc.InvalidDeferredToken,
			StatusCode: http.StatusBadRequest,
		}
	}
	var issuance deferredIssuance
	if err := s.deferred.Get(transaction, &issuance); err != nil {
		return nil, openid4vc.Error{
			Err:        errors.New("unknown deferred issuance"),
			Code:       openid4vc.InvalidDeferredToken,
			StatusCode: http.StatusBadRequest,
		}
	}
	if !issuance.Ready {
		// still processing: re-issue the acceptance token, come back later
		return &openid4vc.CredentialResponse{AcceptanceToken: deferredToken}, nil
	}
	response, err := s.encodeCredential(ctx, issuance.Format, *issuance.Credential)
	if err != nil {
		return nil, err
	}
	if err := s.deferred.Delete(transaction); err != nil {
		logging.Log().WithError(err).Warn("Failed to delete resolved deferred issuance")
	}
	if sess, err := s.sessions.Get(issuance.SessionID); err == nil {
		sess.Status = StatusCredentialIssued
		if err := s.sessions.Update(sess); err != nil {
			logging.Log().WithError(err).WithField("session", sess.ID).
				Warn("Failed to update session after deferred issuance")
		}
	}
	s.metrics.credentialIssued(issuance.Format)
	return response, nil
}

func (s *service) CompleteDeferred(_ context.Context, transactionID string, credential vc.VerifiableCredential) error {
	var issuance deferredIssuance
	if err := s.deferred.Get(transactionID, &issuance); err != nil {
		return fmt.Errorf("unknown deferred issuance: %s", transactionID)
	}
	issuance.Credential = &credential
	issuance.Ready = true
	return s.deferred.Put(transactionID, issuance)
}

// authenticate verifies the access token and loads the session it was minted for.
func (s *service) authenticate(accessToken string) (AuthorizationSession, error) {
	invalidToken := func(err error) error {
		s.metrics.protocolError(string(openid4vc.InvalidToken))
		return openid4vc.Error{
			Err:        err,
			Code:       openid4vc.InvalidToken,
			StatusCode: http.StatusUnauthorized,
		}
	}
	if accessToken == "" {
		return AuthorizationSession{}, invalidToken(errors.New("missing access token"))
	}
	token, err := s.codec.Verify(AccessTokenKind, accessToken)
	if err != nil {
		return AuthorizationSession{}, invalidToken(err)
	}
	sess, err := s.sessions.Get(token.Subject())
	if errors.Is(err, session.ErrNotFound) {
		return AuthorizationSession{}, invalidToken(errors.New("session expired"))
	}
	if err != nil {
		return AuthorizationSession{}, s.credentialServerError(err)
	}
	return sess, nil
}

// validateProof validates the proof of possession of the credential request against the
// session's bound nonce, consuming the nonce binding on success. Invalid proofs carry a
// fresh c_nonce so the wallet can retry with a correctly bound proof.
func (s *service) validateProof(sess *AuthorizationSession, request openid4vc.CredentialRequest) error {
	invalidProof := func(cause error) error {
		result := s.invalidProofError(cause)
		cNonce, err := s.rotateNonce(sess)
		if err != nil {
			return s.credentialServerError(err)
		}
		if err := s.sessions.Update(*sess); err != nil {
			return s.credentialServerError(err)
		}
		expiry := int(s.config.TokenTTL.Seconds())
		result.CNonce = &cNonce
		result.CNonceExpiresIn = &expiry
		return result
	}

	if err := s.checkProof(request, sess.CNonce); err != nil {
		return invalidProof(err)
	}
	// a valid proof consumes the nonce binding; of concurrent requests presenting
	// the same nonce, exactly one gets past this point
	bound, err := s.sessions.ConsumeNonce(sess.CNonce)
	if err != nil || bound.ID != sess.ID {
		return invalidProof(errors.New("nonce already used or not bound to this session"))
	}
	sess.CNonce = ""
	return nil
}

// checkProof verifies the proof of possession without touching any session state.
// The nonce claim must match expectedNonce.
func (s *service) checkProof(request openid4vc.CredentialRequest, expectedNonce string) error {
	if request.Proof == nil {
		return errors.New("missing proof")
	}
	if request.Proof.ProofType != openid4vc.ProofTypeJWT {
		return fmt.Errorf("proof type not supported: %s", request.Proof.ProofType)
	}
	token, err := crypto.ParseJWT(request.Proof.Jwt, func(kid string) (crypt.PublicKey, error) {
		return s.proofKeys.ResolveKey(kid)
	}, jwt.WithAcceptableSkew(5*time.Second))
	if err != nil {
		return err
	}

	audienceMatches := false
	for _, audience := range token.Audience() {
		if audience == s.config.IssuerURL {
			audienceMatches = true
			break
		}
	}
	if !audienceMatches {
		return fmt.Errorf("audience does not match credential issuer (aud=%s)", token.Audience())
	}

	// jwt.Parse does not expose the JWS headers, parse again as JWS to read typ
	message, err := jws.ParseString(request.Proof.Jwt)
	if err != nil {
		return err
	}
	if len(message.Signatures()) != 1 {
		return errors.New("expected exactly one signature")
	}
	typ := message.Signatures()[0].ProtectedHeaders().Type()
	if typ == "" {
		return errors.New("missing typ header")
	}
	if typ != openid4vc.JWTTypeProof {
		return fmt.Errorf("invalid typ header (expected: %s): %s", openid4vc.JWTTypeProof, typ)
	}

	nonceRaw, ok := token.Get(oauth.NonceParam)
	if !ok {
		return errors.New("missing nonce claim")
	}
	nonce, ok := nonceRaw.(string)
	if !ok || nonce != expectedNonce {
		return errors.New("nonce does not match c_nonce bound to the session")
	}
	return nil
}

func (s *service) invalidProofError(cause error) openid4vc.Error {
	s.metrics.protocolError(string(openid4vc.InvalidProof))
	return openid4vc.Error{
		Err:        cause,
		Code:       openid4vc.InvalidProof,
		StatusCode: http.StatusBadRequest,
	}
}

// issue produces the response for a single credential request: the prepared credential
// in the requested format, or an acceptance token when issuance is deferred.
func (s *service) issue(ctx context.Context, sess *AuthorizationSession, request openid4vc.CredentialRequest) (*openid4vc.CredentialResponse, error) {
	switch request.Format {
	case openid4vc.VerifiableCredentialJWTFormat, openid4vc.VerifiableCredentialJSONLDFormat:
	default:
		s.metrics.protocolError(string(openid4vc.UnsupportedCredentialFormat))
		return nil, openid4vc.Error{
			Err:        fmt.Errorf("credential format not supported: %s", request.Format),
			Code:       openid4vc.UnsupportedCredentialFormat,
			StatusCode: http.StatusBadRequest,
		}
	}
	requestedTypes := request.Types
	if len(requestedTypes) == 0 && request.CredentialDefinition != nil {
		requestedTypes = request.CredentialDefinition.Type
	}

	// prepared credentials first, in offer order
	for _, credential := range sess.Credentials {
		if containsAllTypes(credentialTypeNames(credential), requestedTypes) {
			response, err := s.encodeCredential(ctx, request.Format, credential)
			if err != nil {
				return nil, err
			}
			s.metrics.credentialIssued(request.Format)
			return response, nil
		}
	}
	// offered but not prepared: deferred issuance
	for _, offered := range sess.Offered {
		if containsAllTypes(offered.Types, requestedTypes) {
			return s.deferIssuance(ctx, sess, request.Format)
		}
	}
	s.metrics.protocolError(string(openid4vc.UnsupportedCredentialType))
	return nil, openid4vc.Error{
		Err:        fmt.Errorf("credential type not offered: %v", requestedTypes),
		Code:       openid4vc.UnsupportedCredentialType,
		StatusCode: http.StatusBadRequest,
	}
}

// deferIssuance queues a deferred issuance and mints the acceptance token referencing it.
func (s *service) deferIssuance(ctx context.Context, sess *AuthorizationSession, format string) (*openid4vc.CredentialResponse, error) {
	transactionID := uuid.NewString()
	if err := s.deferred.Put(transactionID, deferredIssuance{
		SessionID: sess.ID,
		Format:    format,
	}); err != nil {
		return nil, s.credentialServerError(err)
	}
	acceptanceToken, err := s.codec.Mint(ctx, DeferredTokenKind, sess.ID,
		map[string]interface{}{transactionClaim: transactionID}, s.config.TokenTTL)
	if err != nil {
		return nil, s.credentialServerError(err)
	}
	sess.DeferredTransactionIDs = append(sess.DeferredTransactionIDs, transactionID)
	logging.Log().WithField("session", sess.ID).
		Debugf("Deferred credential issuance (transaction_id=%s)", transactionID)
	return &openid4vc.CredentialResponse{AcceptanceToken: acceptanceToken}, nil
}

// encodeCredential renders the credential in the requested format.
func (s *service) encodeCredential(ctx context.Context, format string, credential vc.VerifiableCredential) (*openid4vc.CredentialResponse, error) {
	switch format {
	case openid4vc.VerifiableCredentialJSONLDFormat:
		return &openid4vc.CredentialResponse{
			Format:     format,
			Credential: credential,
		}, nil
	case openid4vc.VerifiableCredentialJWTFormat:
		claims := map[string]interface{}{
			jwt.IssuerKey:    credential.Issuer.String(),
			jwt.NotBeforeKey: time.Now().Unix(),
			"vc":             credential,
		}
		if credential.ID != nil {
			claims[jwt.JwtIDKey] = credential.ID.String()
		}
		if subject := firstSubjectID(credential); subject != "" {
			claims[jwt.SubjectKey] = subject
		}
		if credential.ExpirationDate != nil {
			claims[jwt.ExpirationKey] = credential.ExpirationDate.Unix()
		}
		signed, err := s.keys.SignJWT(ctx, claims, map[string]interface{}{"typ": "JWT"}, s.config.SigningKeyID)
		if err != nil {
			return nil, s.credentialServerError(err)
		}
		return &openid4vc.CredentialResponse{
			Format:     format,
			Credential: signed,
		}, nil
	default:
		return nil, openid4vc.Error{
			Err:        fmt.Errorf("credential format not supported: %s", format),
			Code:       openid4vc.UnsupportedCredentialFormat,
			StatusCode: http.StatusBadRequest,
		}
	}
}

func (s *service) credentialServerError(err error) error {
	s.metrics.protocolError(string(openid4vc.ServerError))
	logging.Log().WithError(err).Error("Credential issuance failed")
	return openid4vc.Error{
		Err:        err,
		Code:       openid4vc.ServerError,
		StatusCode: http.StatusInternalServerError,
	}
}

// credentialErrorResult wraps an issuance error into a batch result entry.
func credentialErrorResult(err error) openid4vc.CredentialResult {
	var protocolError openid4vc.Error
	if !errors.As(err, &protocolError) {
		protocolError = openid4vc.Error{
			Err:        err,
			Code:       openid4vc.ServerError,
			StatusCode: http.StatusInternalServerError,
		}
	}
	return openid4vc.CredentialResult{Error: &protocolError}
}

func credentialTypeNames(credential vc.VerifiableCredential) []string {
	names := make([]string, len(credential.Type))
	for i, typeURI := range credential.Type {
		names[i] = typeURI.String()
	}
	return names
}

// containsAllTypes returns whether have contains every type in want. An empty want matches.
func containsAllTypes(have []string, want []string) bool {
	for _, wanted := range want {
		found := false
		for _, held := range have {
			if held == wanted {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func firstSubjectID(credential vc.VerifiableCredential) string {
	var subjects []struct {
		ID ssi.URI `json:"id"`
	}
	if err := credential.UnmarshalCredentialSubject(&subjects); err != nil || len(subjects) == 0 {
		return ""
	}
	return subjects[0].ID.String()
}
