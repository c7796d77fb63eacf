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

// Package api exposes the credential issuer over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/nuts-foundation/go-did/vc"

	"github.com/WaltId-MikeRichardson/waltid-identity/issuer"
	"github.com/WaltId-MikeRichardson/waltid-identity/logging"
	"github.com/WaltId-MikeRichardson/waltid-identity/oauth"
	"github.com/WaltId-MikeRichardson/waltid-identity/openid4vc"
	"github.com/WaltId-MikeRichardson/waltid-identity/pe"
	"github.com/WaltId-MikeRichardson/waltid-identity/policy"
)

// Wrapper binds the issuer core to echo routes.
type Wrapper struct {
	Issuer issuer.Service
	// Policies is the policy set applied by the verification endpoint.
	Policies policy.Set
}

// Routes registers the protocol endpoints on the given router.
func (w Wrapper) Routes(router *echo.Echo) {
	router.GET(openid4vc.CredentialIssuerMetadataWellKnownPath, w.handleMetadata)
	router.GET(openid4vc.ProviderMetadataWellKnownPath, w.handleProviderMetadata)
	router.POST("/par", w.handlePushedAuthorization)
	router.GET("/authorize", w.handleAuthorize)
	router.POST("/token", w.handleToken)
	router.POST("/credential", w.handleCredential)
	router.POST("/batch_credential", w.handleBatchCredential)
	router.POST("/deferred_credential", w.handleDeferredCredential)
	router.POST("/internal/offers", w.handleCreateOffer)
	router.POST("/internal/verify", w.handleVerify)
}

func (w Wrapper) handleMetadata(c echo.Context) error {
	return writeJSON(c, http.StatusOK, w.Issuer.Metadata())
}

func (w Wrapper) handleProviderMetadata(c echo.Context) error {
	return writeJSON(c, http.StatusOK, w.Issuer.ProviderMetadata())
}

func (w Wrapper) handlePushedAuthorization(c echo.Context) error {
	request, err := parseAuthorizationRequest(c)
	if err != nil {
		return renderError(c, err)
	}
	response, err := w.Issuer.PushedAuthorization(c.Request().Context(), *request)
	if err != nil {
		return renderError(c, err)
	}
	return writeJSON(c, http.StatusCreated, response)
}

func (w Wrapper) handleAuthorize(c echo.Context) error {
	request, err := parseAuthorizationRequest(c)
	if err != nil {
		return renderError(c, err)
	}
	redirectTarget, err := w.Issuer.Authorize(c.Request().Context(), *request)
	if err != nil {
		return renderError(c, err)
	}
	return c.Redirect(http.StatusFound, redirectTarget)
}

func (w Wrapper) handleToken(c echo.Context) error {
	request := issuer.TokenRequest{
		GrantType:         c.FormValue(oauth.GrantTypeParam),
		Code:              c.FormValue(oauth.CodeParam),
		PreAuthorizedCode: c.FormValue(oauth.PreAuthorizedCodeParam),
		RedirectURI:       c.FormValue(oauth.RedirectURIParam),
		ClientID:          c.FormValue(oauth.ClientIDParam),
	}
	response, err := w.Issuer.Token(c.Request().Context(), request)
	if err != nil {
		return renderError(c, err)
	}
	return writeJSON(c, http.StatusOK, response)
}

func (w Wrapper) handleCredential(c echo.Context) error {
	var request openid4vc.CredentialRequest
	if err := c.Bind(&request); err != nil {
		return renderError(c, openid4vc.Error{
			Code:       openid4vc.InvalidRequest,
			StatusCode: http.StatusBadRequest,
			Err:        err,
		})
	}
	response, err := w.Issuer.Credential(c.Request().Context(), bearerToken(c), request)
	if err != nil {
		return renderError(c, err)
	}
	return writeJSON(c, http.StatusOK, response)
}

func (w Wrapper) handleBatchCredential(c echo.Context) error {
	var request openid4vc.BatchCredentialRequest
	if err := c.Bind(&request); err != nil {
		return renderError(c, openid4vc.Error{
			Code:       openid4vc.InvalidRequest,
			StatusCode: http.StatusBadRequest,
			Err:        err,
		})
	}
	response, err := w.Issuer.BatchCredential(c.Request().Context(), bearerToken(c), request)
	if err != nil {
		return renderError(c, err)
	}
	return writeJSON(c, http.StatusOK, response)
}

func (w Wrapper) handleDeferredCredential(c echo.Context) error {
	response, err := w.Issuer.DeferredCredential(c.Request().Context(), bearerToken(c))
	if err != nil {
		return renderError(c, err)
	}
	return writeJSON(c, http.StatusOK, response)
}

// CreateOfferRequest is the request body of the internal offer endpoint.
type CreateOfferRequest struct {
	// Credentials are prepared credentials, issued as soon as the wallet requests them.
	Credentials []vc.VerifiableCredential `json:"credentials,omitempty"`
	// Deferred describes credentials offered now but issued later through deferred issuance.
	Deferred []openid4vc.OfferedCredential `json:"deferred,omitempty"`
}

// handleCreateOffer creates a credential offer with a pre-authorized code. The offer is
// returned to the caller for delivery to the wallet (URL, QR or otherwise).
func (w Wrapper) handleCreateOffer(c echo.Context) error {
	var request CreateOfferRequest
	if err := c.Bind(&request); err != nil {
		return renderError(c, openid4vc.Error{
			Code:       openid4vc.InvalidRequest,
			StatusCode: http.StatusBadRequest,
			Err:        err,
		})
	}
	if len(request.Credentials) == 0 && len(request.Deferred) == 0 {
		return renderError(c, openid4vc.Error{
			Code:        openid4vc.InvalidRequest,
			StatusCode:  http.StatusBadRequest,
			Description: "no credentials to offer",
		})
	}
	offer, err := w.Issuer.CreateOffer(c.Request().Context(), request.Credentials, request.Deferred)
	if err != nil {
		return renderError(c, err)
	}
	return writeJSON(c, http.StatusCreated, offer)
}

// parseAuthorizationRequest reads the OAuth2 authorization parameters from the
// request, form values for POST and query parameters for GET.
func parseAuthorizationRequest(c echo.Context) (*issuer.AuthorizationRequest, error) {
	request := issuer.AuthorizationRequest{
		ResponseType: c.FormValue(oauth.ResponseTypeParam),
		ClientID:     c.FormValue(oauth.ClientIDParam),
		RedirectURI:  c.FormValue(oauth.RedirectURIParam),
		State:        c.FormValue(oauth.StateParam),
		Scope:        c.FormValue(oauth.ScopeParam),
		ResponseMode: c.FormValue(oauth.ResponseModeParam),
		RequestURI:   c.FormValue(oauth.RequestURIParam),
	}
	if rawDefinition := c.FormValue(oauth.PresentationDefParam); rawDefinition != "" {
		var definition pe.PresentationDefinition
		if err := json.Unmarshal([]byte(rawDefinition), &definition); err != nil {
			return nil, oauth.OAuth2Error{
				Code:          oauth.InvalidRequest,
				Description:   "presentation_definition is not valid JSON",
				InternalError: err,
			}
		}
		request.PresentationDefinition = &definition
	}
	return &request, nil
}

// bearerToken extracts the bearer token from the Authorization header, or returns
// an empty string when there is none.
func bearerToken(c echo.Context) string {
	authorization := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(authorization) > 7 && strings.EqualFold(authorization[:7], "bearer ") {
		return authorization[7:]
	}
	return ""
}

func writeJSON(c echo.Context, status int, body interface{}) error {
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return c.JSON(status, body)
}

// renderError renders protocol errors the way their type prescribes: OAuth2 errors
// redirect when a redirect target was resolved and render inline otherwise;
// OpenID4VCI errors always render inline with their status code.
func renderError(c echo.Context, err error) error {
	var oauthError oauth.OAuth2Error
	if errors.As(err, &oauthError) {
		if target := oauthError.Redirect(); target != "" {
			return c.Redirect(http.StatusFound, target)
		}
		status := http.StatusBadRequest
		if oauthError.Code == oauth.ServerError {
			status = http.StatusInternalServerError
		}
		return writeJSON(c, status, oauthError)
	}
	var protocolError openid4vc.Error
	if errors.As(err, &protocolError) {
		status := protocolError.StatusCode
		if status == 0 {
			status = http.StatusBadRequest
		}
		return writeJSON(c, status, protocolError)
	}
	logging.Log().WithError(err).Error("Unhandled error in API handler")
	return writeJSON(c, http.StatusInternalServerError, oauth.OAuth2Error{Code: oauth.ServerError})
}
