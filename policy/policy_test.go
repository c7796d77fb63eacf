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

package policy

import (
	"testing"
	"time"

	ssi "github.com/nuts-foundation/go-did"
	"github.com/nuts-foundation/go-did/vc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var evaluationTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testCredential(opts ...func(*vc.VerifiableCredential)) vc.VerifiableCredential {
	id := ssi.MustParseURI("https://example.com/credentials/1")
	credential := vc.VerifiableCredential{
		ID:     &id,
		Issuer: ssi.MustParseURI("did:example:issuer"),
		Type:   []ssi.URI{ssi.MustParseURI("VerifiableCredential"), ssi.MustParseURI("UniversityDegreeCredential")},
		CredentialSubject: []interface{}{
			map[string]interface{}{"id": "did:example:holder"},
		},
	}
	for _, opt := range opts {
		opt(&credential)
	}
	return credential
}

func withExpiration(t time.Time) func(*vc.VerifiableCredential) {
	return func(credential *vc.VerifiableCredential) {
		credential.ExpirationDate = &t
	}
}

func withIssuanceDate(t time.Time) func(*vc.VerifiableCredential) {
	return func(credential *vc.VerifiableCredential) {
		credential.IssuanceDate = t
	}
}

func TestExpiredPolicy(t *testing.T) {
	ctx := Context{At: evaluationTime}

	t.Run("passes without expiration date", func(t *testing.T) {
		result := ExpiredPolicy{}.Evaluate(ctx, testCredential())

		assert.True(t, result.Passed)
	})
	t.Run("passes when expiration lies in the future", func(t *testing.T) {
		credential := testCredential(withExpiration(evaluationTime.Add(time.Hour)))

		result := ExpiredPolicy{}.Evaluate(ctx, credential)

		assert.True(t, result.Passed)
	})
	t.Run("fails with expired-since detail", func(t *testing.T) {
		credential := testCredential(withExpiration(evaluationTime.Add(-time.Hour)))

		result := ExpiredPolicy{}.Evaluate(ctx, credential)

		require.False(t, result.Passed)
		failure, ok := result.Failure.(ExpiredFailure)
		require.True(t, ok)
		assert.Equal(t, int64(3600), failure.ExpiredSinceSeconds)
		assert.Equal(t, evaluationTime.Add(-time.Hour).Unix(), failure.ExpiredAt)
		assert.Equal(t, evaluationTime.Unix(), failure.CheckedAt)
		assert.Contains(t, failure.Describe(), "3600 seconds before evaluation")
	})
	t.Run("evaluation is idempotent", func(t *testing.T) {
		credential := testCredential(withExpiration(evaluationTime.Add(-time.Hour)))

		first := ExpiredPolicy{}.Evaluate(ctx, credential)
		second := ExpiredPolicy{}.Evaluate(ctx, credential)

		assert.Equal(t, first, second)
	})
}

func TestNotBeforePolicy(t *testing.T) {
	ctx := Context{At: evaluationTime}

	t.Run("passes without issuance date", func(t *testing.T) {
		result := NotBeforePolicy{}.Evaluate(ctx, testCredential())

		assert.True(t, result.Passed)
	})
	t.Run("passes when already valid", func(t *testing.T) {
		credential := testCredential(withIssuanceDate(evaluationTime.Add(-time.Hour)))

		result := NotBeforePolicy{}.Evaluate(ctx, credential)

		assert.True(t, result.Passed)
	})
	t.Run("fails with available-in detail", func(t *testing.T) {
		credential := testCredential(withIssuanceDate(evaluationTime.Add(10 * time.Minute)))

		result := NotBeforePolicy{}.Evaluate(ctx, credential)

		require.False(t, result.Passed)
		failure, ok := result.Failure.(NotYetValidFailure)
		require.True(t, ok)
		assert.Equal(t, int64(600), failure.AvailableInSeconds)
		assert.Contains(t, failure.Describe(), "600 seconds after evaluation")
	})
}

func TestAllowedIssuerPolicy(t *testing.T) {
	ctx := Context{At: evaluationTime}

	t.Run("passes for listed issuer", func(t *testing.T) {
		policy := AllowedIssuerPolicy{Issuers: []string{"did:example:other", "did:example:issuer"}}

		result := policy.Evaluate(ctx, testCredential())

		assert.True(t, result.Passed)
	})
	t.Run("fails for unlisted issuer", func(t *testing.T) {
		policy := AllowedIssuerPolicy{Issuers: []string{"did:example:other"}}

		result := policy.Evaluate(ctx, testCredential())

		require.False(t, result.Passed)
		failure, ok := result.Failure.(NotAllowedIssuerFailure)
		require.True(t, ok)
		assert.Equal(t, "did:example:issuer", failure.Issuer)
		assert.Equal(t, []string{"did:example:other"}, failure.Allowed)
	})
	t.Run("empty allow-list rejects", func(t *testing.T) {
		result := AllowedIssuerPolicy{}.Evaluate(ctx, testCredential())

		assert.False(t, result.Passed)
	})
}

func TestHolderBindingPolicy(t *testing.T) {
	t.Run("passes when holder is a subject", func(t *testing.T) {
		ctx := Context{At: evaluationTime, Holder: "did:example:holder"}

		result := HolderBindingPolicy{}.Evaluate(ctx, testCredential())

		assert.True(t, result.Passed)
	})
	t.Run("fails for foreign holder", func(t *testing.T) {
		ctx := Context{At: evaluationTime, Holder: "did:example:attacker"}

		result := HolderBindingPolicy{}.Evaluate(ctx, testCredential())

		require.False(t, result.Passed)
		failure, ok := result.Failure.(HolderBindingFailure)
		require.True(t, ok)
		assert.Equal(t, "did:example:attacker", failure.Holder)
		assert.Equal(t, []string{"did:example:holder"}, failure.SubjectIDs)
	})
}

func TestCardinalityPolicy(t *testing.T) {
	ctx := Context{At: evaluationTime}
	credentials := []vc.VerifiableCredential{testCredential(), testCredential()}

	t.Run("passes within bounds", func(t *testing.T) {
		result := CardinalityPolicy{Min: 1, Max: 3}.EvaluatePresentation(ctx, credentials)

		assert.True(t, result.Passed)
	})
	t.Run("reports shortfall", func(t *testing.T) {
		result := CardinalityPolicy{Min: 5}.EvaluatePresentation(ctx, credentials)

		require.False(t, result.Passed)
		failure, ok := result.Failure.(CardinalityFailure)
		require.True(t, ok)
		assert.Equal(t, 3, failure.Shortfall)
		assert.Contains(t, failure.Describe(), "3 short of the minimum of 5")
	})
	t.Run("reports excess", func(t *testing.T) {
		result := CardinalityPolicy{Max: 1}.EvaluatePresentation(ctx, credentials)

		require.False(t, result.Passed)
		failure, ok := result.Failure.(CardinalityFailure)
		require.True(t, ok)
		assert.Equal(t, 1, failure.Excess)
	})
	t.Run("zero max means unbounded", func(t *testing.T) {
		result := CardinalityPolicy{}.EvaluatePresentation(ctx, credentials)

		assert.True(t, result.Passed)
	})
}

func TestSchemaPolicy(t *testing.T) {
	schema, err := CompileSchema("https://example.com/schemas/degree.json", []byte(`{
		"type": "object",
		"properties": {
			"credentialSubject": {
				"type": "object",
				"required": ["id", "degree"],
				"properties": {
					"degree": {"type": "string"}
				}
			}
		}
	}`))
	require.NoError(t, err)
	ctx := Context{At: evaluationTime}

	t.Run("passes for conforming credential", func(t *testing.T) {
		credential := testCredential()
		credential.CredentialSubject = []interface{}{
			map[string]interface{}{"id": "did:example:holder", "degree":"BachelorDegree"},
		}

		result := SchemaPolicy{Schema: schema}.Evaluate(ctx, credential)

		assert.True(t, result.Passed)
	})
	t.Run("aggregates all violations", func(t *testing.T) {
		credential := testCredential()
		credential.CredentialSubject = []interface{}{
			map[string]interface{}{"id": "did:example:holder", "degree":42},
		}

		result := SchemaPolicy{Schema: schema}.Evaluate(ctx, credential)

		require.False(t, result.Passed)
		failure, ok := result.Failure.(SchemaFailure)
		require.True(t, ok)
		assert.NotEmpty(t, failure.Violations)
		assert.Contains(t, failure.Describe(), "does not conform to schema")
	})
}

func TestEngine_Evaluate(t *testing.T) {
	engine := Engine{}
	ctx := Context{At: evaluationTime, Holder: "did:example:holder"}
	set := Set{
		Name:         "default",
		Credential:   []CredentialPolicy{ExpiredPolicy{}, NotBeforePolicy{}, HolderBindingPolicy{}},
		Presentation: []PresentationPolicy{CardinalityPolicy{Min: 1}},
	}

	t.Run("all pass", func(t *testing.T) {
		report := engine.Evaluate(set, ctx, []vc.VerifiableCredential{testCredential()})

		assert.True(t, report.Passed())
		assert.Len(t, report.Results, 4)
		assert.NoError(t, report.Err())
	})
	t.Run("aggregates failures without short-circuit", func(t *testing.T) {
		expired := testCredential(withExpiration(evaluationTime.Add(-time.Hour)))
		notYetValid := testCredential(withIssuanceDate(evaluationTime.Add(time.Hour)))

		report := engine.Evaluate(set, ctx, []vc.VerifiableCredential{expired, notYetValid})

		assert.False(t, report.Passed())
		// every policy ran for every credential, plus the presentation policy
		assert.Len(t, report.Results, 7)
		assert.Len(t, report.Failures(), 2)
		err := report.Err()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "policy verification failed")
		assert.Contains(t, err.Error(), PolicyExpired)
		assert.Contains(t, err.Error(), PolicyNotBefore)
	})
	t.Run("results carry the credential ID", func(t *testing.T) {
		report := engine.Evaluate(set, ctx, []vc.VerifiableCredential{testCredential()})

		assert.Equal(t, "https://example.com/credentials/1", report.Results[0].CredentialID)
		assert.Empty(t, report.Results[3].CredentialID)
	})
	t.Run("empty presentation fails cardinality only", func(t *testing.T) {
		report := engine.Evaluate(set, ctx, nil)

		require.Len(t, report.Results, 1)
		assert.False(t, report.Results[0].Passed)
	})
}
