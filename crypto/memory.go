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

package crypto

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"sort"
	"sync"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

var _ KeyStore = (*MemoryKeyStore)(nil)

// MemoryKeyStore is a KeyStore implementation that holds JWKs in memory.
// This should only be used for low-assurance use cases and tests; production deployments
// plug in an external key store behind the same interfaces.
type MemoryKeyStore struct {
	mux  sync.RWMutex
	keys map[string]jwk.Key
}

// NewMemoryKeyStore creates an empty in-memory key store.
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{keys: map[string]jwk.Key{}}
}

// New generates an EC P-256 keypair under the given kid.
func (m *MemoryKeyStore) New(kid string) error {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return err
	}
	return m.Add(kid, privateKey)
}

// Add wraps the given raw private key as a JWK and stores it under the given kid.
func (m *MemoryKeyStore) Add(kid string, rawKey interface{}) error {
	key, err := jwkKey(rawKey)
	if err != nil {
		return err
	}
	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		return err
	}
	m.mux.Lock()
	defer m.mux.Unlock()
	m.keys[kid] = key
	return nil
}

func (m *MemoryKeyStore) SignJWT(_ context.Context, claims map[string]interface{}, headers map[string]interface{}, kid string) (string, error) {
	m.mux.RLock()
	key, ok := m.keys[kid]
	m.mux.RUnlock()
	if !ok {
		return "", ErrPrivateKeyNotFound
	}
	return SignJWT(key, claims, headers)
}

func (m *MemoryKeyStore) ResolveKey(kid string) (crypto.PublicKey, error) {
	m.mux.RLock()
	key, ok := m.keys[kid]
	m.mux.RUnlock()
	if !ok {
		return nil, ErrPrivateKeyNotFound
	}
	publicKey, err := key.PublicKey()
	if err != nil {
		return nil, err
	}
	var rawKey interface{}
	if err := publicKey.Raw(&rawKey); err != nil {
		return nil, err
	}
	return rawKey, nil
}

func (m *MemoryKeyStore) List() []string {
	m.mux.RLock()
	defer m.mux.RUnlock()
	kids := make([]string, 0, len(m.keys))
	for kid := range m.keys {
		kids = append(kids, kid)
	}
	sort.Strings(kids)
	return kids
}
