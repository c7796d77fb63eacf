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

package holder

import (
	"crypto/sha256"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WaltId-MikeRichardson/waltid-identity/openid4vc"
)

func TestDetectEncoding(t *testing.T) {
	jwtCredential := compactJWT(t, "JWT", map[string]interface{}{"jti": "1"})
	type testCase struct {
		name       string
		format     string
		credential interface{}
		expected   Encoding
	}
	testCases := []testCase{
		{name: "plain JWT", format: openid4vc.VerifiableCredentialJWTFormat, credential: jwtCredential, expected: EncodingJWT},
		{name: "SD-JWT by structure", format: openid4vc.VerifiableCredentialJWTFormat, credential: jwtCredential + "~", expected: EncodingSDJWT},
		{name: "SD-JWT by format", format: openid4vc.VerifiableCredentialSDJWTFormat, credential: jwtCredential, expected: EncodingSDJWT},
		{name: "JSON-LD", format: openid4vc.VerifiableCredentialJSONLDFormat, credential: map[string]interface{}{"id": "1"}, expected: EncodingJSONLD},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			actual, err := DetectEncoding(tc.format, tc.credential)

			require.NoError(t, err)
			assert.Equal(t, tc.expected, actual)
		})
	}
	t.Run("error - object credential with JWT format", func(t *testing.T) {
		_, err := DetectEncoding(openid4vc.VerifiableCredentialJWTFormat, map[string]interface{}{})

		assert.ErrorContains(t, err, "requires a string credential")
	})
	t.Run("error - opaque string", func(t *testing.T) {
		_, err := DetectEncoding(openid4vc.VerifiableCredentialJWTFormat, "opaque")

		assert.ErrorContains(t, err, "neither a JWT nor an SD-JWT")
	})
}

func TestPipeline_AcceptCredential(t *testing.T) {
	t.Run("JWT credential", func(t *testing.T) {
		wallet := NewMemoryWallet()
		document := compactJWT(t, "JWT", map[string]interface{}{
			"jti": "did:example:issuer#credential-1",
			"iss": "did:example:issuer",
		})

		record, err := NewPipeline(wallet).AcceptCredential(openid4vc.CredentialResponse{
			Format:     openid4vc.VerifiableCredentialJWTFormat,
			Credential: document,
		})

		require.NoError(t, err)
		assert.Equal(t, "did:example:issuer#credential-1", record.ID)
		assert.Equal(t, document, record.Document)
		assert.Nil(t, record.Disclosures)
		assert.False(t, record.Pending)
		stored, err := wallet.Get(record.ID)
		require.NoError(t, err)
		assert.Equal(t, document, stored.Document)
	})
	t.Run("SD-JWT credential stores disclosures separately", func(t *testing.T) {
		wallet := NewMemoryWallet()
		disclosureRaw, digest := encodeDisclosure(t, sha256.New, "salt", "family_name", "Doe")
		base := compactJWT(t, "vc+sd-jwt", map[string]interface{}{
			"jti": "credential-2",
			"_sd": []string{digest},
		})

		record, err := NewPipeline(wallet).AcceptCredential(openid4vc.CredentialResponse{
			Format:     openid4vc.VerifiableCredentialSDJWTFormat,
			Credential: base + "~" + disclosureRaw + "~",
		})

		require.NoError(t, err)
		assert.Equal(t, "credential-2", record.ID)
		assert.Equal(t, base, record.Document)
		assert.Equal(t, []string{disclosureRaw}, record.Disclosures)
	})
	t.Run("JSON-LD credential", func(t *testing.T) {
		wallet := NewMemoryWallet()
		credential := map[string]interface{}{
			"@context": []string{"https://www.w3.org/2018/credentials/v1"},
			"id":       "did:example:issuer#credential-3",
			"type":     []string{"VerifiableCredential"},
		}

		record, err := NewPipeline(wallet).AcceptCredential(openid4vc.CredentialResponse{
			Format:     openid4vc.VerifiableCredentialJSONLDFormat,
			Credential: credential,
		})

		require.NoError(t, err)
		assert.Equal(t, "did:example:issuer#credential-3", record.ID)
		var document map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(record.Document), &document))
		assert.Equal(t, "did:example:issuer#credential-3", document["id"])
	})
	t.Run("credential without an id gets a generated one", func(t *testing.T) {
		wallet := NewMemoryWallet()
		document := compactJWT(t, "JWT", map[string]interface{}{"iss": "did:example:issuer"})

		record, err := NewPipeline(wallet).AcceptCredential(openid4vc.CredentialResponse{
			Format:     openid4vc.VerifiableCredentialJWTFormat,
			Credential: document,
		})

		require.NoError(t, err)
		assert.NotEmpty(t, record.ID)
	})
	t.Run("pending response yields a pending record", func(t *testing.T) {
		wallet := NewMemoryWallet()

		record, err := NewPipeline(wallet).AcceptCredential(openid4vc.CredentialResponse{
			AcceptanceToken: "acceptance-token",
		})

		require.NoError(t, err)
		assert.True(t, record.Pending)
		assert.Equal(t, "acceptance-token", record.Document)
	})
	t.Run("error - response with neither credential nor acceptance token", func(t *testing.T) {
		_, err := NewPipeline(NewMemoryWallet()).AcceptCredential(openid4vc.CredentialResponse{})

		assert.ErrorContains(t, err, "neither credential nor acceptance token")
	})
	t.Run("error - corrupt SD-JWT", func(t *testing.T) {
		base := compactJWT(t, "vc+sd-jwt", map[string]interface{}{"_sd": []string{"other"}})
		disclosureRaw, _ := encodeDisclosure(t, sha256.New, "salt", "family_name", "Doe")

		_, err := NewPipeline(NewMemoryWallet()).AcceptCredential(openid4vc.CredentialResponse{
			Format:     openid4vc.VerifiableCredentialSDJWTFormat,
			Credential: base + "~" + disclosureRaw + "~",
		})

		assert.ErrorContains(t, err, "unable to decompose SD-JWT credential")
	})
}

func TestPipeline_ResolvePending(t *testing.T) {
	issued := func(t *testing.T) openid4vc.CredentialResponse {
		return openid4vc.CredentialResponse{
			Format: openid4vc.VerifiableCredentialJWTFormat,
			Credential: compactJWT(t, "JWT", map[string]interface{}{
				"jti": "did:example:issuer#credential-1",
			}),
		}
	}
	t.Run("pending record is replaced by the issued credential", func(t *testing.T) {
		wallet := NewMemoryWallet()
		pipeline := NewPipeline(wallet)
		pending, err := pipeline.AcceptCredential(openid4vc.CredentialResponse{AcceptanceToken: "acceptance-token"})
		require.NoError(t, err)

		record, err := pipeline.ResolvePending(pending.ID, issued(t))

		require.NoError(t, err)
		assert.False(t, record.Pending)
		assert.Equal(t, "did:example:issuer#credential-1", record.ID)
		assert.Equal(t, pending.AddedOn, record.AddedOn)
		// the pending record is gone
		_, err = wallet.Get(pending.ID)
		assert.ErrorIs(t, err, ErrCredentialNotFound)
	})
	t.Run("still pending leaves the record untouched", func(t *testing.T) {
		wallet := NewMemoryWallet()
		pipeline := NewPipeline(wallet)
		pending, err := pipeline.AcceptCredential(openid4vc.CredentialResponse{AcceptanceToken: "acceptance-token"})
		require.NoError(t, err)

		record, err := pipeline.ResolvePending(pending.ID, openid4vc.CredentialResponse{AcceptanceToken: "acceptance-token"})

		require.NoError(t, err)
		assert.True(t, record.Pending)
	})
	t.Run("error - record is not pending", func(t *testing.T) {
		wallet := NewMemoryWallet()
		pipeline := NewPipeline(wallet)
		record, err := pipeline.AcceptCredential(issued(t))
		require.NoError(t, err)

		_, err = pipeline.ResolvePending(record.ID, issued(t))

		assert.ErrorContains(t, err, "is not pending")
	})
}
