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

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	ssi "github.com/nuts-foundation/go-did"
	"github.com/nuts-foundation/go-did/vc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WaltId-MikeRichardson/waltid-identity/crypto"
	"github.com/WaltId-MikeRichardson/waltid-identity/issuer"
	"github.com/WaltId-MikeRichardson/waltid-identity/openid4vc"
	"github.com/WaltId-MikeRichardson/waltid-identity/storage/session"
)

const testIssuerURL = "https://issuer.example.com"
const testSigningKeyID = "did:example:issuer#signing-key"

type testServer struct {
	router *echo.Echo
	issuer issuer.Service
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	db := session.NewInMemoryDatabase()
	t.Cleanup(db.Close)
	keys := crypto.NewMemoryKeyStore()
	require.NoError(t, keys.New(testSigningKeyID))
	service, err := issuer.New(issuer.Config{
		IssuerURL:    testIssuerURL,
		SigningKeyID: testSigningKeyID,
	}, keys, keys, db)
	require.NoError(t, err)
	router := echo.New()
	Wrapper{Issuer: service}.Routes(router)
	return testServer{router: router, issuer: service}
}

func (s testServer) do(req *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	s.router.ServeHTTP(recorder, req)
	return recorder
}

func (s testServer) get(target string) *httptest.ResponseRecorder {
	return s.do(httptest.NewRequest(http.MethodGet, target, nil))
}

func (s testServer) postForm(target string, values url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	return s.do(req)
}

func (s testServer) postJSON(target string, body interface{}, accessToken string) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(string(data)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if accessToken != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+accessToken)
	}
	return s.do(req)
}

func testCredential() vc.VerifiableCredential {
	issuanceDate := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	id := ssi.MustParseURI("did:example:issuer#credential-1")
	return vc.VerifiableCredential{
		Context:      []ssi.URI{vc.VCContextV1URI()},
		ID:           &id,
		Type:         []ssi.URI{vc.VerifiableCredentialTypeV1URI(), ssi.MustParseURI("UniversityDegreeCredential")},
		Issuer:       ssi.MustParseURI("did:example:issuer"),
		IssuanceDate: issuanceDate,
		CredentialSubject: []interface{}{
			map[string]interface{}{"id": "did:example:holder"},
		},
	}
}

// createOffer creates an offer through the internal endpoint and returns the parsed offer.
func createOffer(t *testing.T, server testServer) openid4vc.CredentialOffer {
	t.Helper()
	response := server.postJSON("/internal/offers", CreateOfferRequest{
		Credentials: []vc.VerifiableCredential{testCredential()},
	}, "")
	require.Equal(t, http.StatusCreated, response.Code)
	var offer openid4vc.CredentialOffer
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &offer))
	return offer
}

func TestWrapper_Metadata(t *testing.T) {
	server := newTestServer(t)

	t.Run("credential issuer metadata", func(t *testing.T) {
		response := server.get(openid4vc.CredentialIssuerMetadataWellKnownPath)

		require.Equal(t, http.StatusOK, response.Code)
		var metadata openid4vc.CredentialIssuerMetadata
		require.NoError(t, json.Unmarshal(response.Body.Bytes(), &metadata))
		assert.Equal(t, testIssuerURL, metadata.CredentialIssuer)
		assert.Equal(t, testIssuerURL+"/credential", metadata.CredentialEndpoint)
	})
	t.Run("provider metadata", func(t *testing.T) {
		response := server.get(openid4vc.ProviderMetadataWellKnownPath)

		require.Equal(t, http.StatusOK, response.Code)
		var metadata openid4vc.ProviderMetadata
		require.NoError(t, json.Unmarshal(response.Body.Bytes(), &metadata))
		assert.Equal(t, testIssuerURL+"/token", metadata.TokenEndpoint)
	})
}

func TestWrapper_Authorize(t *testing.T) {
	t.Run("code flow redirects with code and state", func(t *testing.T) {
		server := newTestServer(t)

		response := server.get("/authorize?response_type=code&client_id=wallet&redirect_uri=" +
			url.QueryEscape("https://wallet.example.com/callback") + "&state=xyz")

		require.Equal(t, http.StatusFound, response.Code)
		location, err := url.Parse(response.Header().Get("Location"))
		require.NoError(t, err)
		assert.NotEmpty(t, location.Query().Get("code"))
		assert.Equal(t, "xyz", location.Query().Get("state"))
	})
	t.Run("unsupported response type with redirect target", func(t *testing.T) {
		server := newTestServer(t)

		response := server.get("/authorize?response_type=foo&redirect_uri=" +
			url.QueryEscape("https://wallet.example.com/callback"))

		require.Equal(t, http.StatusFound, response.Code)
		location, err := url.Parse(response.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "unsupported_response_type", location.Query().Get("error"))
	})
	t.Run("missing redirect_uri renders inline", func(t *testing.T) {
		server := newTestServer(t)

		response := server.get("/authorize?response_type=code")

		require.Equal(t, http.StatusBadRequest, response.Code)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(response.Body.Bytes(), &body))
		assert.Equal(t, "invalid_request", body["error"])
	})
}

func TestWrapper_PushedAuthorization(t *testing.T) {
	server := newTestServer(t)

	response := server.postForm("/par", url.Values{
		"response_type": {"code"},
		"client_id":     {"wallet"},
		"redirect_uri":  {"https://wallet.example.com/callback"},
	})

	require.Equal(t, http.StatusCreated, response.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &body))
	requestURI, _ := body["request_uri"].(string)
	assert.True(t, strings.HasPrefix(requestURI, "urn:ietf:params:oauth:request_uri:"))

	t.Run("dereference on the authorization endpoint", func(t *testing.T) {
		response := server.get("/authorize?request_uri=" + url.QueryEscape(requestURI))

		require.Equal(t, http.StatusFound, response.Code)
		location, err := url.Parse(response.Header().Get("Location"))
		require.NoError(t, err)
		assert.NotEmpty(t, location.Query().Get("code"))
	})
}

func TestWrapper_Token(t *testing.T) {
	t.Run("pre-authorized code grant", func(t *testing.T) {
		server := newTestServer(t)
		offer := createOffer(t, server)

		response := server.postForm("/token", url.Values{
			"grant_type":          {openid4vc.PreAuthorizedCodeGrant},
			"pre-authorized_code": {offer.PreAuthorizedCode()},
		})

		require.Equal(t, http.StatusOK, response.Code)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(response.Body.Bytes(), &body))
		assert.NotEmpty(t, body["access_token"])
		assert.NotEmpty(t, body["c_nonce"])
		assert.Equal(t, "bearer", body["token_type"])
	})
	t.Run("unknown code", func(t *testing.T) {
		server := newTestServer(t)

		response := server.postForm("/token", url.Values{
			"grant_type":          {openid4vc.PreAuthorizedCodeGrant},
			"pre-authorized_code": {"unknown"},
		})

		require.Equal(t, http.StatusBadRequest, response.Code)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(response.Body.Bytes(), &body))
		assert.Equal(t, "invalid_grant", body["error"])
	})
}

func TestWrapper_Credential(t *testing.T) {
	t.Run("missing access token", func(t *testing.T) {
		server := newTestServer(t)

		response := server.postJSON("/credential", openid4vc.CredentialRequest{
			Format: openid4vc.VerifiableCredentialJWTFormat,
		}, "")

		require.Equal(t, http.StatusUnauthorized, response.Code)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(response.Body.Bytes(), &body))
		assert.Equal(t, "invalid_token", body["error"])
	})
	t.Run("missing proof returns a fresh c_nonce", func(t *testing.T) {
		server := newTestServer(t)
		offer := createOffer(t, server)
		tokenResponse := server.postForm("/token", url.Values{
			"grant_type":          {openid4vc.PreAuthorizedCodeGrant},
			"pre-authorized_code": {offer.PreAuthorizedCode()},
		})
		require.Equal(t, http.StatusOK, tokenResponse.Code)
		var token map[string]interface{}
		require.NoError(t, json.Unmarshal(tokenResponse.Body.Bytes(), &token))

		response := server.postJSON("/credential", openid4vc.CredentialRequest{
			Format: openid4vc.VerifiableCredentialJWTFormat,
			Types:  []string{"VerifiableCredential", "UniversityDegreeCredential"},
		}, token["access_token"].(string))

		require.Equal(t, http.StatusBadRequest, response.Code)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(response.Body.Bytes(), &body))
		assert.Equal(t, "invalid_proof", body["error"])
		assert.NotEmpty(t, body["c_nonce"])
	})
}

func TestWrapper_DeferredCredential(t *testing.T) {
	server := newTestServer(t)

	response := server.postJSON("/deferred_credential", struct{}{}, "garbage")

	require.Equal(t, http.StatusBadRequest, response.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &body))
	assert.Equal(t, "invalid_deferred_token", body["error"])
}

func TestWrapper_CreateOffer(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		server := newTestServer(t)

		offer := createOffer(t, server)

		assert.Equal(t, testIssuerURL, offer.CredentialIssuer)
		assert.NotEmpty(t, offer.PreAuthorizedCode())
		require.Len(t, offer.Credentials, 1)
	})
	t.Run("error - empty request", func(t *testing.T) {
		server := newTestServer(t)

		response := server.postJSON("/internal/offers", CreateOfferRequest{}, "")

		require.Equal(t, http.StatusBadRequest, response.Code)
	})
}
