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
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jws"
)

const (
	// sdAlgClaim names the hash algorithm used for disclosure digests.
	sdAlgClaim = "_sd_alg"
	// sdClaim holds the digests of selectively disclosable object claims.
	sdClaim = "_sd"
	// sdArrayEntryKey marks a selectively disclosable array element.
	sdArrayEntryKey = "..."
	// keyBindingJWTType is the JWS typ header of an SD-JWT key binding JWT.
	keyBindingJWTType = "kb+jwt"
)

// Disclosure is one selective-disclosure fragment of an SD-JWT.
type Disclosure struct {
	// Raw is the base64url encoded fragment as it appeared on the wire.
	Raw string
	// Salt is the random salt protecting the digest against guessing.
	Salt string
	// Name is the disclosed claim name. Empty for array entries.
	Name string
	// Value is the disclosed claim value.
	Value interface{}
	// Digest is the base64url encoded hash of Raw, as referenced by the document.
	Digest string
	// ArrayEntry indicates the disclosure is an array element rather than an object claim.
	ArrayEntry bool
}

// SDJWT is a selective-disclosure encoded credential, decomposed into its base
// JWT and the disclosure fragments that accompanied it.
type SDJWT struct {
	// JWT is the signed base JWT, verbatim.
	JWT string
	// Disclosures are the fragments between the base JWT and the optional key binding JWT.
	// Every fragment's digest is referenced by the base JWT's payload.
	Disclosures []Disclosure
	// KeyBindingJWT is the trailing key binding JWT, if present.
	KeyBindingJWT string
}

// DisclosureFragments returns the raw disclosure fragments in wire order.
func (t SDJWT) DisclosureFragments() []string {
	result := make([]string, len(t.Disclosures))
	for i, disclosure := range t.Disclosures {
		result[i] = disclosure.Raw
	}
	return result
}

// Serialize reassembles the SD-JWT in its wire form.
func (t SDJWT) Serialize() string {
	parts := append([]string{t.JWT}, t.DisclosureFragments()...)
	return strings.Join(parts, "~") + "~" + t.KeyBindingJWT
}

// Claims returns the base JWT's payload with all disclosed claims resolved into it.
// Digest placeholders and SD bookkeeping claims are replaced by the disclosed values.
func (t SDJWT) Claims() (map[string]interface{}, error) {
	payload, err := decodeJWTPayload(t.JWT)
	if err != nil {
		return nil, err
	}
	byDigest := make(map[string]Disclosure, len(t.Disclosures))
	for _, disclosure := range t.Disclosures {
		byDigest[disclosure.Digest] = disclosure
	}
	resolved := resolveValue(payload, byDigest)
	claims, ok := resolved.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("JWT payload is not a JSON object")
	}
	delete(claims, sdAlgClaim)
	return claims, nil
}

// ParseSDJWT decomposes an SD-JWT (base JWT, tilde-separated disclosures, optional
// key binding JWT) and verifies that every disclosure digest is referenced by the
// base JWT's payload. It does not verify the base JWT's signature.
func ParseSDJWT(raw string) (*SDJWT, error) {
	parts := strings.Split(raw, "~")
	if len(parts) < 2 {
		return nil, fmt.Errorf("not an SD-JWT: no disclosure separator")
	}
	payload, err := decodeJWTPayload(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid base JWT: %w", err)
	}
	hasher, err := digestHasher(payload)
	if err != nil {
		return nil, err
	}
	result := SDJWT{JWT: parts[0]}

	fragments := parts[1:]
	last := fragments[len(fragments)-1]
	if last != "" {
		// A trailing non-empty part is either the key binding JWT or a final disclosure
		// of a serialization without the closing tilde.
		if isKeyBindingJWT(last) {
			result.KeyBindingJWT = last
			fragments = fragments[:len(fragments)-1]
		}
	} else {
		fragments = fragments[:len(fragments)-1]
	}

	referenced := map[string]bool{}
	collectDigests(payload, referenced)
	for i, fragment := range fragments {
		if fragment == "" {
			return nil, fmt.Errorf("empty disclosure at position %d", i)
		}
		disclosure, err := parseDisclosure(fragment, hasher)
		if err != nil {
			return nil, fmt.Errorf("invalid disclosure at position %d: %w", i, err)
		}
		if !referenced[disclosure.Digest] {
			return nil, fmt.Errorf("disclosure at position %d is not referenced by the document", i)
		}
		result.Disclosures = append(result.Disclosures, *disclosure)
	}
	return &result, nil
}

func parseDisclosure(fragment string, hasher func() hash.Hash) (*Disclosure, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(fragment)
	if err != nil {
		return nil, fmt.Errorf("invalid base64url encoding: %w", err)
	}
	var elements []interface{}
	if err := json.Unmarshal(decoded, &elements); err != nil {
		return nil, fmt.Errorf("not a JSON array: %w", err)
	}
	digester := hasher()
	digester.Write([]byte(fragment))
	disclosure := Disclosure{
		Raw:    fragment,
		Digest: base64.RawURLEncoding.EncodeToString(digester.Sum(nil)),
	}
	switch len(elements) {
	case 2:
		// [salt, value]: array entry
		disclosure.ArrayEntry = true
		disclosure.Value = elements[1]
	case 3:
		// [salt, name, value]: object claim
		name, ok := elements[1].(string)
		if !ok {
			return nil, fmt.Errorf("claim name is not a string")
		}
		disclosure.Name = name
		disclosure.Value = elements[2]
	default:
		return nil, fmt.Errorf("expected 2 or 3 elements, got %d", len(elements))
	}
	salt, ok := elements[0].(string)
	if !ok {
		return nil, fmt.Errorf("salt is not a string")
	}
	disclosure.Salt = salt
	return &disclosure, nil
}

// digestHasher returns the hash constructor selected by the payload's _sd_alg claim,
// defaulting to sha-256 when absent.
func digestHasher(payload map[string]interface{}) (func() hash.Hash, error) {
	name, _ := payload[sdAlgClaim].(string)
	switch name {
	case "", "sha-256":
		return sha256.New, nil
	case "sha-384":
		return sha512.New384, nil
	case "sha-512":
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("unsupported %s: %s", sdAlgClaim, name)
	}
}

// collectDigests walks the payload and gathers every digest that may be answered by
// a disclosure: entries of _sd arrays and single-key {"...": digest} array elements.
func collectDigests(value interface{}, into map[string]bool) {
	switch typed := value.(type) {
	case map[string]interface{}:
		if digests, ok := typed[sdClaim].([]interface{}); ok {
			for _, digest := range digests {
				if s, ok := digest.(string); ok {
					into[s] = true
				}
			}
		}
		for key, nested := range typed {
			if key == sdClaim {
				continue
			}
			collectDigests(nested, into)
		}
	case []interface{}:
		for _, element := range typed {
			if placeholder, ok := element.(map[string]interface{}); ok && len(placeholder) == 1 {
				if digest, ok := placeholder[sdArrayEntryKey].(string); ok {
					into[digest] = true
					continue
				}
			}
			collectDigests(element, into)
		}
	}
}

// resolveValue replaces digest placeholders by their disclosed values, recursively.
func resolveValue(value interface{}, byDigest map[string]Disclosure) interface{} {
	switch typed := value.(type) {
	case map[string]interface{}:
		result := make(map[string]interface{}, len(typed))
		for key, nested := range typed {
			if key == sdClaim {
				continue
			}
			result[key] = resolveValue(nested, byDigest)
		}
		if digests, ok := typed[sdClaim].([]interface{}); ok {
			for _, digest := range digests {
				s, ok := digest.(string)
				if !ok {
					continue
				}
				if disclosure, ok := byDigest[s]; ok && !disclosure.ArrayEntry {
					result[disclosure.Name] = resolveValue(disclosure.Value, byDigest)
				}
			}
		}
		return result
	case []interface{}:
		result := make([]interface{}, 0, len(typed))
		for _, element := range typed {
			if placeholder, ok := element.(map[string]interface{}); ok && len(placeholder) == 1 {
				if digest, ok := placeholder[sdArrayEntryKey].(string); ok {
					if disclosure, found := byDigest[digest]; found {
						result = append(result, resolveValue(disclosure.Value, byDigest))
					}
					// undisclosed array entries are omitted
					continue
				}
			}
			result = append(result, resolveValue(element, byDigest))
		}
		return result
	default:
		return value
	}
}

// decodeJWTPayload decodes the payload of a compact-serialized JWT without verifying it.
func decodeJWTPayload(token string) (map[string]interface{}, error) {
	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		return nil, fmt.Errorf("expected 3 segments, got %d", len(segments))
	}
	decoded, err := base64.RawURLEncoding.DecodeString(segments[1])
	if err != nil {
		return nil, fmt.Errorf("invalid payload encoding: %w", err)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	return payload, nil
}

// isKeyBindingJWT reports whether the given part is a JWT with the kb+jwt typ header.
func isKeyBindingJWT(part string) bool {
	message, err := jws.ParseString(part)
	if err != nil || len(message.Signatures()) != 1 {
		return false
	}
	typ, _ := message.Signatures()[0].ProtectedHeaders().Get("typ")
	return typ == keyBindingJWTType
}
