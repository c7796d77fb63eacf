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

// Package holder implements the wallet side of the credential exchange:
// redeeming credential offers against a credential issuer, decomposing the
// received documents and storing them as wallet records.
package holder

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrCredentialNotFound is returned when the wallet does not hold a credential with the given id.
var ErrCredentialNotFound = errors.New("credential not found")

// WalletCredential is a credential as held by the wallet.
type WalletCredential struct {
	// ID identifies the credential within the wallet. Taken from the credential itself when it
	// declares one (jti claim or credential id), otherwise generated.
	ID string `json:"id"`
	// Document is the credential as received, minus any selective-disclosure parts:
	// the signed JWT for JWT credentials (including the base JWT of an SD-JWT),
	// or the JSON document for JSON-LD credentials.
	Document string `json:"document"`
	// Disclosures holds the selective-disclosure fragments stripped from the document.
	// Non-nil exactly when the credential was received as an SD-JWT.
	Disclosures []string `json:"disclosures,omitempty"`
	// Manifest carries display/issuance metadata the wallet chooses to remember with the credential.
	Manifest map[string]interface{} `json:"manifest,omitempty"`
	// Pending indicates issuance is still in progress; Document then holds the acceptance token
	// to poll the issuer's deferred credential endpoint with.
	Pending bool `json:"pending"`
	// AddedOn is the instant the credential entered the wallet.
	AddedOn time.Time `json:"addedOn"`
	// DeletedOn marks a soft delete. The credential is recoverable until permanently deleted.
	DeletedOn *time.Time `json:"deletedOn,omitempty"`
}

// Deleted returns whether the credential is soft-deleted.
func (c WalletCredential) Deleted() bool {
	return c.DeletedOn != nil
}

// Wallet stores the holder's credentials.
type Wallet interface {
	// Store adds or replaces a credential, keyed by its ID.
	Store(credential WalletCredential) error
	// Get returns the credential with the given id, including soft-deleted ones.
	// Returns ErrCredentialNotFound when the wallet does not hold it.
	Get(id string) (*WalletCredential, error)
	// List returns all credentials that are not soft-deleted, ordered by the time they were added.
	List() ([]WalletCredential, error)
	// Delete soft-deletes the credential. When permanent is true (or the credential was already
	// soft-deleted before a permanent delete), it is removed beyond recovery.
	Delete(id string, permanent bool) error
	// Restore undoes a soft delete.
	// Returns ErrCredentialNotFound when the credential does not exist or was permanently deleted.
	Restore(id string) error
}

// NewMemoryWallet returns a Wallet that keeps all credentials in memory.
func NewMemoryWallet() Wallet {
	return &memoryWallet{credentials: map[string]WalletCredential{}}
}

type memoryWallet struct {
	mux         sync.RWMutex
	credentials map[string]WalletCredential
}

var _ Wallet = (*memoryWallet)(nil)

func (m *memoryWallet) Store(credential WalletCredential) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.credentials[credential.ID] = credential
	return nil
}

func (m *memoryWallet) Get(id string) (*WalletCredential, error) {
	m.mux.RLock()
	defer m.mux.RUnlock()
	credential, ok := m.credentials[id]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return &credential, nil
}

func (m *memoryWallet) List() ([]WalletCredential, error) {
	m.mux.RLock()
	defer m.mux.RUnlock()
	result := make([]WalletCredential, 0, len(m.credentials))
	for _, credential := range m.credentials {
		if credential.Deleted() {
			continue
		}
		result = append(result, credential)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].AddedOn.Equal(result[j].AddedOn) {
			return result[i].ID < result[j].ID
		}
		return result[i].AddedOn.Before(result[j].AddedOn)
	})
	return result, nil
}

func (m *memoryWallet) Delete(id string, permanent bool) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	credential, ok := m.credentials[id]
	if !ok {
		return ErrCredentialNotFound
	}
	if permanent {
		delete(m.credentials, id)
		return nil
	}
	if !credential.Deleted() {
		now := time.Now()
		credential.DeletedOn = &now
		m.credentials[id] = credential
	}
	return nil
}

func (m *memoryWallet) Restore(id string) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	credential, ok := m.credentials[id]
	if !ok {
		return ErrCredentialNotFound
	}
	credential.DeletedOn = nil
	m.credentials[id] = credential
	return nil
}
