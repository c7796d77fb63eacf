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

// Package did routes DID resolution and creation to per-method implementations.
package did

import (
	"context"
	stdcrypto "crypto"
	"errors"
	"fmt"
	"sync"

	godid "github.com/nuts-foundation/go-did/did"

	"github.com/WaltId-MikeRichardson/waltid-identity/crypto"
)

// ErrMethodNotSupported is returned when no implementation is registered for a DID method.
var ErrMethodNotSupported = errors.New("DID method not supported")

// ErrKeyNotFound is returned when a DID document does not contain the requested verification method.
var ErrKeyNotFound = errors.New("key not found in DID document")

// Resolver resolves a DID to its document.
type Resolver interface {
	// Resolve returns the DID document for the given DID.
	Resolve(id godid.DID) (*godid.Document, error)
}

// Registrar creates DIDs under a particular method.
type Registrar interface {
	// Create derives a new DID document from the key material indicated by the options.
	Create(ctx context.Context, options CreationOptions) (*godid.Document, error)
}

// CreationOptions steers DID creation.
type CreationOptions struct {
	// KeyID indicates the key (in the key store backing the method implementation)
	// the DID will be bound to.
	KeyID string
}

// Registry routes resolution and creation to the implementation registered for the DID's method.
type Registry struct {
	resolvers  sync.Map
	registrars sync.Map
}

// NewRegistry returns an empty method registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a method implementation under the given method name, overwriting any
// previous registration. The implementation is registered for the capabilities it
// implements: Resolver, Registrar or both.
func (r *Registry) Register(method string, implementation interface{}) {
	if resolver, ok := implementation.(Resolver); ok {
		r.resolvers.Store(method, resolver)
	}
	if registrar, ok := implementation.(Registrar); ok {
		r.registrars.Store(method, registrar)
	}
}

// Resolve routes to the resolver registered for the DID's method.
// Returns ErrMethodNotSupported when there is none.
func (r *Registry) Resolve(id godid.DID) (*godid.Document, error) {
	resolver, registered := r.resolvers.Load(id.Method)
	if !registered {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotSupported, id.Method)
	}
	return resolver.(Resolver).Resolve(id)
}

// Create routes to the registrar registered for the given method.
// Returns ErrMethodNotSupported when there is none.
func (r *Registry) Create(ctx context.Context, method string, options CreationOptions) (*godid.Document, error) {
	registrar, registered := r.registrars.Load(method)
	if !registered {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotSupported, method)
	}
	return registrar.(Registrar).Create(ctx, options)
}

var _ crypto.KeyResolver = KeyResolver{}

// KeyResolver resolves verification keys from DID documents: the kid is a DID URL
// whose fragment selects the verification method.
type KeyResolver struct {
	Registry *Registry
}

// ResolveKey resolves the public key the given DID URL points at.
func (k KeyResolver) ResolveKey(kid string) (stdcrypto.PublicKey, error) {
	parsed, err := godid.ParseDIDURL(kid)
	if err != nil {
		return nil, fmt.Errorf("invalid key ID (kid=%s): %w", kid, err)
	}
	document, err := k.Registry.Resolve(parsed.DID)
	if err != nil {
		return nil, err
	}
	for _, verificationMethod := range document.VerificationMethod {
		if verificationMethod.ID.String() == kid {
			return verificationMethod.PublicKey()
		}
	}
	return nil, fmt.Errorf("%w (kid=%s)", ErrKeyNotFound, kid)
}
