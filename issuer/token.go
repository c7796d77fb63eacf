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
	"fmt"
	"time"

	"github.com/WaltId-MikeRichardson/waltid-identity/crypto"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// TokenKind is the purpose a minted token verifies for. Kinds are not interchangeable:
// a deferred-credential token never verifies as an access token, even under the same key.
type TokenKind string

const (
	// AccessTokenKind is the kind for OAuth2 access tokens.
	AccessTokenKind TokenKind = "access"
	// DeferredTokenKind is the kind for acceptance tokens of deferred credential issuance.
	DeferredTokenKind TokenKind = "deferred-credential"
	// GenericTokenKind is the kind for tokens without a dedicated purpose.
	GenericTokenKind TokenKind = "token"
)

// kindClaim is the claim that carries the token kind, checked on every verification.
const kindClaim = "token_kind"

// Codec mints and verifies the bearer tokens of the issuance flows.
// It is stateless; verification is a pure function of the token bytes and key material.
type Codec struct {
	keys   crypto.KeyStore
	issuer string
	kid    string
}

// NewCodec returns a Codec minting tokens under the given kid, with the issuer URL as iss claim.
func NewCodec(keys crypto.KeyStore, issuerURL string, kid string) *Codec {
	return &Codec{keys: keys, issuer: issuerURL, kid: kid}
}

// Mint produces a signed token of the given kind, with the session id as subject.
// Extra claims must not shadow the registered claims or the kind claim.
func (c *Codec) Mint(ctx context.Context, kind TokenKind, subject string, claims map[string]interface{}, ttl time.Duration) (string, error) {
	now := time.Now()
	tokenClaims := map[string]interface{}{
		jwt.IssuerKey:     c.issuer,
		jwt.SubjectKey:    subject,
		jwt.IssuedAtKey:   now.Unix(),
		jwt.ExpirationKey: now.Add(ttl).Unix(),
		kindClaim:         string(kind),
	}
	for key, value := range claims {
		tokenClaims[key] = value
	}
	return c.keys.SignJWT(ctx, tokenClaims, nil, c.kid)
}

// Verify checks the token's signature, standard claims and kind. A token minted for a
// different kind fails verification; malformed tokens are verification failures, never panics.
func (c *Codec) Verify(kind TokenKind, tokenString string) (jwt.Token, error) {
	token, err := crypto.ParseJWT(tokenString, func(kid string) (crypt.PublicKey, error) {
		return c.keys.ResolveKey(kid)
	}, jwt.WithIssuer(c.issuer))
	if err != nil {
		return nil, err
	}
	tokenKind, _ := token.Get(kindClaim)
	if tokenKind != string(kind) {
		return nil, fmt.Errorf("token kind mismatch (expected: %s)", kind)
	}
	return token, nil
}
