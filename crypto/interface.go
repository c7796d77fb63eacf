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

// Package crypto provides JWT signing and verification on top of pluggable key material.
// The actual signature algorithms are provided by the JOSE library; this package only
// selects keys and validates token shape.
package crypto

import (
	"context"
	"crypto"
	"errors"
)

// ErrPrivateKeyNotFound is returned when the private key for the given kid does not exist.
var ErrPrivateKeyNotFound = errors.New("private key not found")

// JWTSigner is the interface used to sign tokens and proofs.
type JWTSigner interface {
	// SignJWT creates a signed JWT using the key indicated by kid, with the given map of claims.
	// The headers param can be used to add additional JWS protected headers.
	// Returns ErrPrivateKeyNotFound when the indicated private key is not present.
	SignJWT(ctx context.Context, claims map[string]interface{}, headers map[string]interface{}, kid string) (string, error)
}

// KeyResolver resolves public keys by their kid, for verifying signatures.
type KeyResolver interface {
	// ResolveKey returns the public key for the given kid.
	// Returns ErrPrivateKeyNotFound when no key with the given kid is known.
	ResolveKey(kid string) (crypto.PublicKey, error)
}

// KeyStore defines the functions for working with private keys.
type KeyStore interface {
	JWTSigner
	KeyResolver

	// New generates a new keypair under the given kid.
	New(kid string) error
	// List returns the kids of the private keys that are present in the KeyStore.
	List() []string
}
