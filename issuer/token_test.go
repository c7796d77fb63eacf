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
	"testing"
	"time"

	"github.com/WaltId-MikeRichardson/waltid-identity/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCodec(t *testing.T) *Codec {
	keys := crypto.NewMemoryKeyStore()
	require.NoError(t, keys.New("signing-key"))
	return NewCodec(keys, "https://issuer.example.com", "signing-key")
}

func TestCodec(t *testing.T) {
	ctx := context.Background()
	codec := testCodec(t)

	t.Run("mint and verify", func(t *testing.T) {
		tokenString, err := codec.Mint(ctx, AccessTokenKind, "session-1", map[string]interface{}{"extra": "value"}, time.Minute)
		require.NoError(t, err)

		token, err := codec.Verify(AccessTokenKind, tokenString)
		require.NoError(t, err)
		assert.Equal(t, "session-1", token.Subject())
		assert.Equal(t, "https://issuer.example.com", token.Issuer())
		extra, _ := token.Get("extra")
		assert.Equal(t, "value", extra)
	})
	t.Run("cross-kind tokens never verify", func(t *testing.T) {
		tokenString, err := codec.Mint(ctx, DeferredTokenKind, "session-1", nil, time.Minute)
		require.NoError(t, err)

		_, err = codec.Verify(AccessTokenKind, tokenString)

		assert.ErrorContains(t, err, "token kind mismatch")
	})
	t.Run("expired token", func(t *testing.T) {
		tokenString, err := codec.Mint(ctx, AccessTokenKind, "session-1", nil, -time.Minute)
		require.NoError(t, err)

		_, err = codec.Verify(AccessTokenKind, tokenString)

		assert.Error(t, err)
	})
	t.Run("malformed token is a verification failure", func(t *testing.T) {
		_, err := codec.Verify(AccessTokenKind, "definitely.not.ajwt")

		assert.Error(t, err)
	})
	t.Run("token from another issuer", func(t *testing.T) {
		other := testCodec(t)
		tokenString, err := other.Mint(ctx, AccessTokenKind, "session-1", nil, time.Minute)
		require.NoError(t, err)

		// different signing key, same kid
		_, err = codec.Verify(AccessTokenKind, tokenString)

		assert.Error(t, err)
	})
}
