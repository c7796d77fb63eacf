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

package openid4vc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/avast/retry-go/v4"

	"github.com/WaltId-MikeRichardson/waltid-identity/logging"
	"github.com/WaltId-MikeRichardson/waltid-identity/oauth"
)

// HTTPRequestDoer is implemented by *http.Client and test doubles.
type HTTPRequestDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// metadataRetries is the number of attempts for metadata discovery; discovery happens right after
// receiving an offer, when the counterpart may still be warming up its endpoints.
const metadataRetries = 3

// OAuth2Client defines a generic OAuth2 client.
type OAuth2Client interface {
	// RequestAccessToken requests an access token from the authorization server.
	RequestAccessToken(ctx context.Context, grantType string, params map[string]string) (*oauth.TokenResponse, error)
}

// IssuerAPIClient defines the API client used by the wallet to communicate with the credential issuer.
type IssuerAPIClient interface {
	OAuth2Client

	// Metadata returns the Credential Issuer Metadata.
	Metadata() CredentialIssuerMetadata
	// RequestCredential requests a single credential from the issuer.
	RequestCredential(ctx context.Context, request CredentialRequest, accessToken string) (*CredentialResponse, error)
	// RequestCredentials requests multiple credentials from the issuer's batch credential endpoint.
	RequestCredentials(ctx context.Context, request BatchCredentialRequest, accessToken string) (*BatchCredentialResponse, error)
	// RequestDeferredCredential polls the deferred credential endpoint with a previously received acceptance token.
	RequestDeferredCredential(ctx context.Context, acceptanceToken string) (*CredentialResponse, error)
}

// NewIssuerAPIClient resolves the Credential Issuer Metadata and the OAuth2 provider metadata
// from the well-known endpoints and returns a client that can be used to communicate with the issuer.
func NewIssuerAPIClient(ctx context.Context, httpClient HTTPRequestDoer, credentialIssuerIdentifier string) (IssuerAPIClient, error) {
	if credentialIssuerIdentifier == "" {
		return nil, errors.New("empty Credential Issuer Identifier")
	}
	metadata, err := loadCredentialIssuerMetadata(ctx, credentialIssuerIdentifier, httpClient)
	if err != nil {
		return nil, fmt.Errorf("unable to load Credential Issuer Metadata (identifier=%s): %w", credentialIssuerIdentifier, err)
	}
	providerMetadata, err := loadProviderMetadata(ctx, credentialIssuerIdentifier, httpClient)
	if err != nil {
		return nil, fmt.Errorf("unable to load OpenID Provider Metadata (identifier=%s): %w", credentialIssuerIdentifier, err)
	}
	return &defaultIssuerAPIClient{
		httpOAuth2Client: httpOAuth2Client{
			httpClient: httpClient,
			metadata:   *providerMetadata,
		},
		identifier: credentialIssuerIdentifier,
		httpClient: httpClient,
		metadata:   *metadata,
	}, nil
}

var _ IssuerAPIClient = (*defaultIssuerAPIClient)(nil)

type defaultIssuerAPIClient struct {
	httpOAuth2Client

	identifier string
	httpClient HTTPRequestDoer
	metadata   CredentialIssuerMetadata
}

func (c defaultIssuerAPIClient) Metadata() CredentialIssuerMetadata {
	return c.metadata
}

func (c defaultIssuerAPIClient) RequestCredential(ctx context.Context, request CredentialRequest, accessToken string) (*CredentialResponse, error) {
	var response CredentialResponse
	if err := c.postJSON(ctx, c.metadata.CredentialEndpoint, request, accessToken, &response); err != nil {
		return nil, fmt.Errorf("credential request failed: %w", err)
	}
	if response.Credential == nil && response.AcceptanceToken == "" {
		return nil, errors.New("credential response contains neither credential nor acceptance token")
	}
	return &response, nil
}

func (c defaultIssuerAPIClient) RequestCredentials(ctx context.Context, request BatchCredentialRequest, accessToken string) (*BatchCredentialResponse, error) {
	if c.metadata.BatchCredentialEndpoint == "" {
		return nil, errors.New("credential issuer does not support batch credential requests")
	}
	var response BatchCredentialResponse
	if err := c.postJSON(ctx, c.metadata.BatchCredentialEndpoint, request, accessToken, &response); err != nil {
		return nil, fmt.Errorf("batch credential request failed: %w", err)
	}
	if len(response.CredentialResponses) != len(request.CredentialRequests) {
		return nil, fmt.Errorf("batch credential response length (%d) does not match request (%d)",
			len(response.CredentialResponses), len(request.CredentialRequests))
	}
	return &response, nil
}

func (c defaultIssuerAPIClient) RequestDeferredCredential(ctx context.Context, acceptanceToken string) (*CredentialResponse, error) {
	if c.metadata.DeferredCredentialEndpoint == "" {
		return nil, errors.New("credential issuer does not support deferred credential requests")
	}
	var response CredentialResponse
	if err := c.postJSON(ctx, c.metadata.DeferredCredentialEndpoint, struct{}{}, acceptanceToken, &response); err != nil {
		return nil, fmt.Errorf("deferred credential request failed: %w", err)
	}
	return &response, nil
}

func (c defaultIssuerAPIClient) postJSON(ctx context.Context, endpoint string, body interface{}, bearerToken string, result interface{}) error {
	requestBody, _ := json.Marshal(body)
	httpRequest, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(requestBody))
	httpRequest.Header.Add("Authorization", "Bearer "+bearerToken)
	httpRequest.Header.Add("Content-Type", "application/json")
	return httpDo(c.httpClient, httpRequest, result)
}

var _ OAuth2Client = (*httpOAuth2Client)(nil)

type httpOAuth2Client struct {
	metadata   ProviderMetadata
	httpClient HTTPRequestDoer
}

func (c httpOAuth2Client) RequestAccessToken(ctx context.Context, grantType string, params map[string]string) (*oauth.TokenResponse, error) {
	values := url.Values{}
	values.Add(oauth.GrantTypeParam, grantType)
	for key, value := range params {
		values.Add(key, value)
	}
	httpRequest, _ := http.NewRequestWithContext(ctx, http.MethodPost, c.metadata.TokenEndpoint, strings.NewReader(values.Encode()))
	httpRequest.Header.Add("Content-Type", "application/x-www-form-urlencoded")
	var accessTokenResponse oauth.TokenResponse
	if err := httpDo(c.httpClient, httpRequest, &accessTokenResponse); err != nil {
		return nil, fmt.Errorf("request access token error: %w", err)
	}
	return &accessTokenResponse, nil
}

func loadCredentialIssuerMetadata(ctx context.Context, identifier string, httpClient HTTPRequestDoer) (*CredentialIssuerMetadata, error) {
	result := CredentialIssuerMetadata{}
	err := httpGetWithRetry(ctx, httpClient, joinURLPaths(identifier, CredentialIssuerMetadataWellKnownPath), &result)
	if err != nil {
		return nil, err
	}
	if result.CredentialIssuer != identifier {
		return nil, errors.New("invalid credential issuer metadata: identifier in metadata differs from requested identifier")
	}
	if len(result.CredentialEndpoint) == 0 {
		return nil, errors.New("invalid credential issuer metadata: does not contain credential endpoint")
	}
	return &result, nil
}

func loadProviderMetadata(ctx context.Context, identifier string, httpClient HTTPRequestDoer) (*ProviderMetadata, error) {
	result := ProviderMetadata{}
	err := httpGetWithRetry(ctx, httpClient, joinURLPaths(identifier, ProviderMetadataWellKnownPath), &result)
	if err != nil {
		return nil, err
	}
	if result.Issuer != identifier {
		return nil, errors.New("invalid OpenID provider metadata: issuer in metadata differs from requested issuer")
	}
	if len(result.TokenEndpoint) == 0 {
		return nil, errors.New("invalid OpenID provider metadata: does not contain token endpoint")
	}
	return &result, nil
}

func httpGetWithRetry(ctx context.Context, httpClient HTTPRequestDoer, targetURL string, result interface{}) error {
	return retry.Do(func() error {
		httpRequest, _ := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
		return httpDo(httpClient, httpRequest, result)
	}, retry.Attempts(metadataRetries), retry.Context(ctx), retry.LastErrorOnly(true))
}

func httpDo(httpClient HTTPRequestDoer, httpRequest *http.Request, result interface{}) error {
	httpResponse, err := httpClient.Do(httpRequest)
	if err != nil {
		return fmt.Errorf("http request error: %w", err)
	}
	defer httpResponse.Body.Close()
	responseBody, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return fmt.Errorf("read error (%s): %w", httpRequest.URL, err)
	}
	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		responseBodyStr := string(responseBody)
		if len(responseBodyStr) > 100 {
			responseBodyStr = responseBodyStr[:100] + "..."
		}
		logging.Log().Debugf("HTTP response body: %s", responseBodyStr)
		// the body may carry a protocol error, surface it if it parses
		var protocolError Error
		if err := json.Unmarshal(responseBody, &protocolError); err == nil && protocolError.Code != "" {
			protocolError.StatusCode = httpResponse.StatusCode
			return protocolError
		}
		return fmt.Errorf("unexpected http response code (%s): %d", httpRequest.URL, httpResponse.StatusCode)
	}
	if result != nil {
		if err := json.Unmarshal(responseBody, result); err != nil {
			return fmt.Errorf("%T JSON unmarshal error: %w", result, err)
		}
	}
	return nil
}

func joinURLPaths(parts ...string) string {
	if len(parts) == 0 {
		return ""
	}
	result := parts[0]
	for _, part := range parts[1:] {
		if part == "" {
			continue
		}
		result = strings.TrimSuffix(result, "/") + "/" + strings.TrimPrefix(part, "/")
	}
	return result
}
