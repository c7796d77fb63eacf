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
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/WaltId-MikeRichardson/waltid-identity/logging"
	"github.com/WaltId-MikeRichardson/waltid-identity/openid4vc"
)

// Encoding is the wire encoding of a received credential.
type Encoding string

const (
	// EncodingJWT is a credential encoded as a plain signed JWT.
	EncodingJWT = Encoding("jwt")
	// EncodingSDJWT is a credential encoded as an SD-JWT: a base JWT with
	// tilde-separated selective-disclosure fragments.
	EncodingSDJWT = Encoding("sd-jwt")
	// EncodingJSONLD is a credential encoded as a JSON-LD document.
	EncodingJSONLD = Encoding("json-ld")
)

// DetectEncoding determines the encoding of a credential from its declared format
// and the token structure. The structure wins over the declared format: issuers have
// been observed labelling SD-JWTs with the plain JWT format.
func DetectEncoding(format string, credential interface{}) (Encoding, error) {
	document, ok := credential.(string)
	if !ok {
		if format == "" || format == openid4vc.VerifiableCredentialJSONLDFormat {
			return EncodingJSONLD, nil
		}
		return "", fmt.Errorf("format %s requires a string credential", format)
	}
	if strings.Contains(document, "~") {
		return EncodingSDJWT, nil
	}
	if format == openid4vc.VerifiableCredentialSDJWTFormat {
		return EncodingSDJWT, nil
	}
	if len(strings.Split(document, ".")) == 3 {
		return EncodingJWT, nil
	}
	return "", fmt.Errorf("credential is neither a JWT nor an SD-JWT")
}

// Pipeline accepts credential responses from an issuer, decomposes the received
// documents into wallet records and hands them to the wallet.
// It is the only producer of WalletCredential records.
type Pipeline struct {
	wallet Wallet
}

// NewPipeline returns an acceptance pipeline storing into the given wallet.
func NewPipeline(wallet Wallet) *Pipeline {
	return &Pipeline{wallet: wallet}
}

// AcceptCredential turns a credential response into a stored wallet record.
// A pending response (acceptance token, no credential) is stored as a pending record
// whose document holds the acceptance token. The returned record is the stored one.
func (p *Pipeline) AcceptCredential(response openid4vc.CredentialResponse) (*WalletCredential, error) {
	if response.Pending() {
		record := WalletCredential{
			ID:       uuid.NewString(),
			Document: response.AcceptanceToken,
			Pending:  true,
			AddedOn:  time.Now(),
		}
		if err := p.wallet.Store(record); err != nil {
			return nil, fmt.Errorf("unable to store pending credential: %w", err)
		}
		return &record, nil
	}
	if response.Credential == nil {
		return nil, fmt.Errorf("credential response contains neither credential nor acceptance token")
	}
	record, err := p.decode(response.Format, response.Credential)
	if err != nil {
		return nil, err
	}
	record.AddedOn = time.Now()
	if err := p.wallet.Store(*record); err != nil {
		return nil, fmt.Errorf("unable to store credential: %w", err)
	}
	logging.Log().WithField("credentialID", record.ID).Debug("Accepted credential into wallet")
	return record, nil
}

// ResolvePending replaces a pending record by the issued credential.
// The new record keeps the pending record's wallet id unless the credential declares its own.
func (p *Pipeline) ResolvePending(pendingID string, response openid4vc.CredentialResponse) (*WalletCredential, error) {
	pending, err := p.wallet.Get(pendingID)
	if err != nil {
		return nil, err
	}
	if !pending.Pending {
		return nil, fmt.Errorf("credential %s is not pending", pendingID)
	}
	if response.Pending() {
		return pending, nil
	}
	record, err := p.decode(response.Format, response.Credential)
	if err != nil {
		return nil, err
	}
	record.AddedOn = pending.AddedOn
	record.Manifest = pending.Manifest
	if err := p.wallet.Store(*record); err != nil {
		return nil, fmt.Errorf("unable to store credential: %w", err)
	}
	if record.ID != pendingID {
		if err := p.wallet.Delete(pendingID, true); err != nil {
			return nil, err
		}
	}
	return record, nil
}

func (p *Pipeline) decode(format string, credential interface{}) (*WalletCredential, error) {
	encoding, err := DetectEncoding(format, credential)
	if err != nil {
		return nil, err
	}
	switch encoding {
	case EncodingSDJWT:
		return decodeSDJWTCredential(credential.(string))
	case EncodingJWT:
		return decodeJWTCredential(credential.(string))
	case EncodingJSONLD:
		return decodeJSONLDCredential(credential)
	default:
		return nil, fmt.Errorf("unsupported credential encoding: %s", encoding)
	}
}

func decodeSDJWTCredential(document string) (*WalletCredential, error) {
	token, err := ParseSDJWT(document)
	if err != nil {
		return nil, fmt.Errorf("unable to decompose SD-JWT credential: %w", err)
	}
	claims, err := decodeJWTPayload(token.JWT)
	if err != nil {
		return nil, err
	}
	disclosures := token.DisclosureFragments()
	if disclosures == nil {
		disclosures = []string{}
	}
	return &WalletCredential{
		ID:          credentialID(claims),
		Document:    token.JWT,
		Disclosures: disclosures,
	}, nil
}

func decodeJWTCredential(document string) (*WalletCredential, error) {
	claims, err := decodeJWTPayload(document)
	if err != nil {
		return nil, fmt.Errorf("unable to decode JWT credential: %w", err)
	}
	return &WalletCredential{
		ID:       credentialID(claims),
		Document: document,
	}, nil
}

func decodeJSONLDCredential(credential interface{}) (*WalletCredential, error) {
	document, err := json.Marshal(credential)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal JSON-LD credential: %w", err)
	}
	var claims map[string]interface{}
	if err := json.Unmarshal(document, &claims); err != nil {
		return nil, fmt.Errorf("JSON-LD credential is not a JSON object: %w", err)
	}
	return &WalletCredential{
		ID:       credentialID(claims),
		Document: string(document),
	}, nil
}

// credentialID derives the wallet id from the credential itself when possible:
// the jti claim for JWT credentials, the id of the embedded vc claim, or the
// document's own id for JSON-LD credentials. Falls back to a generated id.
func credentialID(claims map[string]interface{}) string {
	if jti, ok := claims["jti"].(string); ok && jti != "" {
		return jti
	}
	if embedded, ok := claims["vc"].(map[string]interface{}); ok {
		if id, ok := embedded["id"].(string); ok && id != "" {
			return id
		}
	}
	if id, ok := claims["id"].(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}
