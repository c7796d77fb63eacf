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

package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/WaltId-MikeRichardson/waltid-identity/logging"
)

var _ Database = (*InMemoryDatabase)(nil)
var _ Store = (*inMemoryStore)(nil)

var pruneInterval = 10 * time.Minute

type expiringEntry struct {
	// Value stores the actual value as JSON
	Value  string
	Expiry time.Time
}

// InMemoryDatabase is an in-memory session database with a background pruner.
type InMemoryDatabase struct {
	cancel   context.CancelFunc
	ctx      context.Context
	mux      sync.Mutex
	routines sync.WaitGroup
	entries  map[string]expiringEntry
}

// NewInMemoryDatabase creates a new in-memory session database.
func NewInMemoryDatabase() *InMemoryDatabase {
	result := &InMemoryDatabase{
		entries: map[string]expiringEntry{},
	}
	result.ctx, result.cancel = context.WithCancel(context.Background())
	result.startPruning(pruneInterval)
	return result
}

func (db *InMemoryDatabase) GetStore(ttl time.Duration, keys ...string) Store {
	return inMemoryStore{
		ttl:      ttl,
		prefixes: keys,
		db:       db,
	}
}

func (db *InMemoryDatabase) Close() {
	// Signal pruner to stop and wait for it to finish
	db.cancel()
	db.routines.Wait()
}

func (db *InMemoryDatabase) startPruning(interval time.Duration) {
	ticker := time.NewTicker(interval)
	db.routines.Add(1)
	go func(ctx context.Context) {
		defer db.routines.Done()
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				valsPruned := db.prune()
				if valsPruned > 0 {
					logging.Log().Debugf("Pruned %d expired session variables", valsPruned)
				}
			}
		}
	}(db.ctx)
}

func (db *InMemoryDatabase) prune() int {
	db.mux.Lock()
	defer db.mux.Unlock()

	moment := time.Now()
	var count int
	for key, entry := range db.entries {
		if entry.Expiry.Before(moment) {
			count++
			delete(db.entries, key)
		}
	}
	return count
}

type inMemoryStore struct {
	ttl      time.Duration
	prefixes []string
	db       *InMemoryDatabase
}

func (s inMemoryStore) Delete(key string) error {
	s.db.mux.Lock()
	defer s.db.mux.Unlock()

	delete(s.db.entries, s.getFullKey(key))
	return nil
}

func (s inMemoryStore) Exists(key string) bool {
	s.db.mux.Lock()
	defer s.db.mux.Unlock()

	entry, ok := s.db.entries[s.getFullKey(key)]
	if !ok {
		return false
	}
	return !entry.Expiry.Before(time.Now())
}

func (s inMemoryStore) Get(key string, target interface{}) error {
	s.db.mux.Lock()
	defer s.db.mux.Unlock()

	return s.get(key, target)
}

func (s inMemoryStore) GetAndDelete(key string, target interface{}) error {
	s.db.mux.Lock()
	defer s.db.mux.Unlock()

	if err := s.get(key, target); err != nil {
		return err
	}
	// the mutex is held, so a concurrent caller observes either the entry or its absence, never both
	delete(s.db.entries, s.getFullKey(key))
	return nil
}

// get requires the database lock to be held by the caller.
func (s inMemoryStore) get(key string, target interface{}) error {
	fullKey := s.getFullKey(key)
	entry, ok := s.db.entries[fullKey]
	if !ok {
		return ErrNotFound
	}
	if entry.Expiry.Before(time.Now()) {
		delete(s.db.entries, fullKey)
		return ErrNotFound
	}
	return json.Unmarshal([]byte(entry.Value), target)
}

func (s inMemoryStore) Put(key string, value interface{}) error {
	s.db.mux.Lock()
	defer s.db.mux.Unlock()

	bytes, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.db.entries[s.getFullKey(key)] = expiringEntry{
		Value:  string(bytes),
		Expiry: time.Now().Add(s.ttl),
	}
	return nil
}

func (s inMemoryStore) getFullKey(key string) string {
	return strings.Join(append(append([]string{}, s.prefixes...), key), "/")
}
