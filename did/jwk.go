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

package did

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwk"
	ssi "github.com/nuts-foundation/go-did"
	godid "github.com/nuts-foundation/go-did/did"

	"github.com/WaltId-MikeRichardson/waltid-identity/crypto"
)

// MethodJWK is the did:jwk method name. A did:jwk encodes a single public key
// as a base64url JWK in its method-specific identifier, so resolution is a pure
// function of the DID itself.
const MethodJWK = "jwk"

// jwkFragment is the fragment of the single verification method of a did:jwk document.
const jwkFragment = "0"

var _ Resolver = JWKMethod{}
var _ Registrar = JWKMethod{}

// JWKMethod implements the did:jwk method.
type JWKMethod struct {
	// Keys supplies the public keys DIDs are created from. Not used for resolution.
	Keys crypto.KeyResolver
}

// Create derives a did:jwk from the public key indicated by options.KeyID.
func (m JWKMethod) Create(_ context.Context, options CreationOptions) (*godid.Document, error) {
	publicKey, err := m.Keys.ResolveKey(options.KeyID)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve key (kid=%s): %w", options.KeyID, err)
	}
	key, err := jwk.FromRaw(publicKey)
	if err != nil {
		return nil, fmt.Errorf("unable to convert key to JWK: %w", err)
	}
	encoded, err := json.Marshal(key)
	if err != nil {
		return nil, err
	}
	id, err := godid.ParseDID("did:jwk:" + base64.RawURLEncoding.EncodeToString(encoded))
	if err != nil {
		return nil, err
	}
	return documentForKey(*id, publicKey)
}

// Resolve decodes the JWK embedded in the DID into a document with a single
// verification method, usable for assertions. DIDs embedding a private key are rejected.
func (m JWKMethod) Resolve(id godid.DID) (*godid.Document, error) {
	if id.Method != MethodJWK {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotSupported, id.Method)
	}
	encoded, err := base64.RawURLEncoding.DecodeString(id.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid did:jwk: %w", err)
	}
	key, err := jwk.ParseKey(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid did:jwk: %w", err)
	}
	publicJWK, err := key.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("invalid did:jwk: %w", err)
	}
	if !jwkEquals(key, publicJWK) {
		return nil, fmt.Errorf("did:jwk must not contain a private key")
	}
	var publicKey interface{}
	if err := publicJWK.Raw(&publicKey); err != nil {
		return nil, fmt.Errorf("invalid did:jwk: %w", err)
	}
	return documentForKey(id, publicKey)
}

func documentForKey(id godid.DID, publicKey interface{}) (*godid.Document, error) {
	keyID := godid.DIDURL{DID: id, Fragment: jwkFragment}
	verificationMethod, err := godid.NewVerificationMethod(keyID, ssi.JsonWebKey2020, id, publicKey)
	if err != nil {
		return nil, fmt.Errorf("unable to create verification method: %w", err)
	}
	document := godid.Document{ID: id}
	document.AddAssertionMethod(verificationMethod)
	return &document, nil
}

// jwkEquals compares two JWKs by their marshaled form.
func jwkEquals(a, b jwk.Key) bool {
	aJSON, errA := json.Marshal(a)
	bJSON, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(aJSON) == string(bJSON)
}
