package claims

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georchestra/gateway/pkg/model"
)

func TestExtract_S3OIDCClaimMappingAndRoleNormalize(t *testing.T) {
	// spec §8 S3.
	provider := model.OIDCProviderConfig{
		RegistrationID: "proconnect",
		GeneralMapping: model.ClaimMappingSet{
			FamilyName:   model.ClaimFieldMapping{Path: []string{"$.usual_name"}},
			Organization: model.ClaimFieldMapping{Path: []string{"$.siret"}},
			Roles: model.RoleClaimMapping{
				Path: []string{"$.groups"},
			},
		},
	}
	tok := &model.OIDCToken{
		IDTokenClaims: map[string]any{
			"sub":         "abc",
			"given_name":  "Jean",
			"usual_name":  "Dupont",
			"email":       "j@x",
			"siret":       "12345",
			"groups":      []any{"GDI Planer", "Éditeur"},
		},
	}

	ext, err := Extract(provider, tok)
	require.NoError(t, err)

	assert.Equal(t, "abc", ext.ID)
	assert.Equal(t, "Dupont", ext.LastName)
	assert.Equal(t, "Jean", ext.FirstName)
	assert.Equal(t, "12345", ext.Organization)
	assert.Contains(t, ext.Roles, "GDI_PLANER")
	assert.Contains(t, ext.Roles, "EDITEUR")
	assert.Equal(t, "proconnect_j_x", ext.Username)
}

func TestNormalize_Idempotent(t *testing.T) {
	// spec §8 invariant 7.
	inputs := []string{"GDI Planer", "Éditeur", "plain_ascii123", "déjà-vu!!"}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		assert.Equal(t, once, twice, "normalize should be idempotent for %q", in)
	}
}

func TestNormalize_IdentityOnASCIIAlnumUnderscore(t *testing.T) {
	assert.Equal(t, "abc_123", Normalize("abc_123"))
}

func TestExtract_InvalidConfigurationOnNonStringScalar(t *testing.T) {
	provider := model.OIDCProviderConfig{RegistrationID: "p"}
	tok := &model.OIDCToken{IDTokenClaims: map[string]any{
		"sub":   "abc",
		"email": 42,
	}}
	_, err := Extract(provider, tok)
	// email isn't part of standard mapping's str() invalid detection unless
	// accessed; the standard mapping reads "email" directly.
	require.Error(t, err)
}

func TestExtract_ProviderOverridesGeneral(t *testing.T) {
	provider := model.OIDCProviderConfig{
		RegistrationID: "p",
		GeneralMapping: model.ClaimMappingSet{
			Email: model.ClaimFieldMapping{Path: []string{"$.general_email"}},
		},
		ProviderClaims: model.ClaimMappingSet{
			Email: model.ClaimFieldMapping{Path: []string{"$.provider_email"}},
		},
	}
	tok := &model.OIDCToken{IDTokenClaims: map[string]any{
		"sub":            "abc",
		"general_email":  "general@x",
		"provider_email": "provider@x",
	}}
	ext, err := Extract(provider, tok)
	require.NoError(t, err)
	assert.Equal(t, "provider@x", ext.Email)
}
