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
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/WaltId-MikeRichardson/waltid-identity/crypto"
	"github.com/WaltId-MikeRichardson/waltid-identity/openid4vc"
	"github.com/WaltId-MikeRichardson/waltid-identity/pe"
	"github.com/WaltId-MikeRichardson/waltid-identity/storage/session"
	"github.com/nuts-foundation/go-did/vc"
)

// Status is the state of an authorization session. Transitions are linear
// (requested, pushed, authorized, token-issued, credential-issued) with errored terminal.
type Status string

const (
	StatusRequested        Status = "requested"
	StatusPushed           Status = "pushed"
	StatusAuthorized       Status = "authorized"
	StatusTokenIssued      Status = "token-issued"
	StatusCredentialIssued Status = "credential-issued"
	StatusErrored          Status = "errored"
)

// AuthorizationRequest holds the parameters of an (pushed) authorization request.
type AuthorizationRequest struct {
	ResponseType string `json:"response_type"`
	ClientID     string `json:"client_id,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
	State        string `json:"state,omitempty"`
	Scope        string `json:"scope,omitempty"`
	// ResponseMode determines how response parameters are rendered on the redirect target.
	// Empty means the default for the response type (query for code, fragment for implicit).
	ResponseMode string `json:"response_mode,omitempty"`
	// RequestURI references a pushed authorization request, mutually exclusive with the other parameters.
	RequestURI string `json:"request_uri,omitempty"`
	// PresentationDefinition constrains the credentials to be presented, for presentation flows.
	PresentationDefinition *pe.PresentationDefinition `json:"presentation_definition,omitempty"`
}

// AuthorizationSession is one in-flight issuance or presentation exchange.
// The session id is the subject of every token minted for it.
type AuthorizationSession struct {
	ID        string               `json:"id"`
	Request   AuthorizationRequest `json:"request"`
	CreatedAt time.Time            `json:"created_at"`
	ExpiresAt time.Time            `json:"expires_at"`
	// Pushed is set when the session was created through the pushed authorization endpoint.
	Pushed bool `json:"pushed,omitempty"`
	// SelectedCredentialIDs are the locally held credentials satisfying the presentation definition.
	SelectedCredentialIDs []string `json:"selected_credentials,omitempty"`
	// CNonce is the single-use nonce a subsequent credential request must echo in its proof.
	CNonce string `json:"c_nonce,omitempty"`
	// Credentials are the credentials to be issued through this flow,
	// in the order they were offered. Proofs are matched in this order.
	Credentials []vc.VerifiableCredential `json:"credentials,omitempty"`
	// Offered describes the offered credentials, in offer order. Entries without a
	// prepared credential in Credentials are issued through the deferred endpoint.
	Offered []openid4vc.OfferedCredential `json:"offered,omitempty"`
	// DeferredTransactionIDs reference the deferred issuances queued for this session.
	DeferredTransactionIDs []string `json:"deferred_transactions,omitempty"`
	Status                 Status   `json:"status"`
	// Error carries the protocol error code when Status is errored.
	Error string `json:"error,omitempty"`
}

// Expired returns whether the session is past its expiry at the given instant.
func (s AuthorizationSession) Expired(at time.Time) bool {
	return at.After(s.ExpiresAt)
}

// SessionStore is the typed session table on top of the session database.
// All reads treat expiry as absence; consumed references behave identically to unknown ones.
type SessionStore struct {
	ttl      time.Duration
	sessions session.Store
	// pushed maps request_uri references to session ids, dereferenced exactly once.
	pushed session.Store
	// composite maps (state, presentation definition) keys to session ids.
	composite session.Store
	// nonces maps c_nonce values to session ids.
	nonces session.Store
	// grants maps authorization codes and pre-authorized codes to session ids.
	grants session.Store
}

// NewSessionStore partitions the given database for issuance sessions with the given TTL.
func NewSessionStore(db session.Database, ttl time.Duration) *SessionStore {
	return &SessionStore{
		ttl:       ttl,
		sessions:  db.GetStore(ttl, "issuer", "session"),
		pushed:    db.GetStore(ttl, "issuer", "par"),
		composite: db.GetStore(ttl, "issuer", "composite"),
		nonces:    db.GetStore(ttl, "issuer", "nonce"),
		grants:    db.GetStore(ttl, "issuer", "grant"),
	}
}

// TTL returns the session time-to-live.
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// Create stores a new session for the given request. When the request carries a state,
// the session is also reachable through the composite (state, presentation definition) key.
func (s *SessionStore) Create(request AuthorizationRequest) (AuthorizationSession, error) {
	now := time.Now()
	result := AuthorizationSession{
		ID:        crypto.GenerateSecret(),
		Request:   request,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
		Status:    StatusRequested,
	}
	if err := s.sessions.Put(result.ID, result); err != nil {
		return AuthorizationSession{}, err
	}
	if request.State != "" {
		if err := s.composite.Put(compositeKey(request.State, request.PresentationDefinition), result.ID); err != nil {
			return AuthorizationSession{}, err
		}
	}
	return result, nil
}

// Get returns the session with the given id.
// Returns session.ErrNotFound when the session does not exist or has expired.
func (s *SessionStore) Get(id string) (AuthorizationSession, error) {
	var result AuthorizationSession
	if err := s.sessions.Get(id, &result); err != nil {
		return AuthorizationSession{}, err
	}
	if result.Expired(time.Now()) {
		return AuthorizationSession{}, session.ErrNotFound
	}
	return result, nil
}

// Update stores the mutated session under its id, refreshing the entry TTL.
// The session's absolute expiry is unchanged.
func (s *SessionStore) Update(sess AuthorizationSession) error {
	return s.sessions.Put(sess.ID, sess)
}

// GetByCompositeKey recovers a session from a redirect's echoed state plus the
// presentation definition the counterpart never stored itself.
func (s *SessionStore) GetByCompositeKey(state string, definition *pe.PresentationDefinition) (AuthorizationSession, error) {
	var id string
	if err := s.composite.Get(compositeKey(state, definition), &id); err != nil {
		return AuthorizationSession{}, err
	}
	return s.Get(id)
}

// StorePushed binds a pushed authorization reference to the session.
func (s *SessionStore) StorePushed(requestURI string, sessionID string) error {
	return s.pushed.Put(requestURI, sessionID)
}

// ConsumePushed dereferences a pushed authorization reference, exactly once.
// A second dereference of the same reference returns session.ErrNotFound.
func (s *SessionStore) ConsumePushed(requestURI string) (AuthorizationSession, error) {
	var id string
	if err := s.pushed.GetAndDelete(requestURI, &id); err != nil {
		return AuthorizationSession{}, err
	}
	return s.Get(id)
}

// BindNonce binds a c_nonce to the session, replacing any previously bound nonce mapping.
func (s *SessionStore) BindNonce(nonce string, sessionID string) error {
	return s.nonces.Put(nonce, sessionID)
}

// DeleteNonce removes a nonce binding, invalidating the nonce.
func (s *SessionStore) DeleteNonce(nonce string) error {
	return s.nonces.Delete(nonce)
}

// ConsumeNonce exchanges a c_nonce for the session it is bound to, exactly once.
// Concurrent consumers of the same nonce yield a single winner; the losers
// observe session.ErrNotFound.
func (s *SessionStore) ConsumeNonce(nonce string) (AuthorizationSession, error) {
	var id string
	if err := s.nonces.GetAndDelete(nonce, &id); err != nil {
		return AuthorizationSession{}, err
	}
	return s.Get(id)
}

// StoreGrant binds an authorization code or pre-authorized code to the session.
func (s *SessionStore) StoreGrant(code string, sessionID string) error {
	return s.grants.Put(code, sessionID)
}

// ConsumeGrant exchanges an authorization code or pre-authorized code for its session, exactly once.
func (s *SessionStore) ConsumeGrant(code string) (AuthorizationSession, error) {
	var id string
	if err := s.grants.GetAndDelete(code, &id); err != nil {
		return AuthorizationSession{}, err
	}
	return s.Get(id)
}

// compositeKey derives the lookup key from the state and presentation definition.
// Both inputs are hashed into a structured key; concatenating the raw values would
// be ambiguous when either contains separator characters.
func compositeKey(state string, definition *pe.PresentationDefinition) string {
	var definitionDigest [32]byte
	if definition != nil {
		definitionDigest = definition.Digest()
	}
	hash := sha256.New()
	hash.Write([]byte(state))
	hash.Write([]byte{0x1f})
	hash.Write(definitionDigest[:])
	return hex.EncodeToString(hash.Sum(nil))
}
