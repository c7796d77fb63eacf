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

// Package session provides non-persistent, TTL'd key-value storage for protocol session data.
package session

import (
	"errors"
	"time"
)

// ErrNotFound is returned when the entry does not exist, has expired, or was already consumed.
// These cases are deliberately indistinguishable to the caller.
var ErrNotFound = errors.New("not found")

// Database is a non-persistent database that holds session data on a KV basis.
// Keys could be access tokens, nonces, authorization codes, etc.
// All entries are stored with a TTL, so they are removed automatically.
type Database interface {
	// GetStore returns a Store with the given keys as key prefixes.
	// The keys are used to logically partition the database, e.g. flows that are not
	// allowed to overlap like credential issuance and verification.
	// The TTL is the time-to-live for the entries in the store.
	GetStore(ttl time.Duration, keys ...string) Store
	// Close stops any background processes and closes the database.
	Close()
}

// Store is a key-value store that holds session data.
// The Store is an abstraction for underlying storage, it automatically adds prefixes for logical partitions.
// Entries past their TTL behave as absent on every read path.
type Store interface {
	// Delete deletes the entry for the given key.
	// It does not return an error if the key does not exist.
	Delete(key string) error
	// Exists returns true if the key exists and has not expired.
	Exists(key string) bool
	// Get unmarshals the value for the given key into target.
	// Returns ErrNotFound if the key does not exist or has expired.
	Get(key string, target interface{}) error
	// GetAndDelete atomically reads and removes the value for the given key.
	// When multiple callers race for the same key, exactly one succeeds;
	// the others receive ErrNotFound. This is the single-use primitive for
	// pushed authorization request dereferences and nonce consumption.
	GetAndDelete(key string, target interface{}) error
	// Put stores the given value for the given key, refreshing the TTL.
	Put(key string, value interface{}) error
}
