package preauth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georchestra/gateway/pkg/model"
)

func TestRead_NotPreAuthenticated(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	tok, ok, err := Read(model.PreAuthConfig{Enabled: true}, r)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, tok)
}

func TestRead_Disabled(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(HeaderFlag, "true")
	r.Header.Set("preauth-username", "bob")
	tok, ok, err := Read(model.PreAuthConfig{Enabled: false}, r)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, tok)
}

func TestRead_MissingUsername(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(HeaderFlag, "TRUE")
	_, ok, err := Read(model.PreAuthConfig{Enabled: true}, r)
	assert.True(t, ok)
	assert.Error(t, err)
}

func TestRead_Base64DecodingInvariant(t *testing.T) {
	// spec §8 invariant 8: {base64}TWF1ZHVpdA== yields Mauduit.
	assert.Equal(t, "Mauduit", decodeValue("{base64}TWF1ZHVpdA=="))
}

func TestRead_ExtractsAllPreauthHeaders(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(HeaderFlag, "true")
	r.Header.Set("preauth-username", "bob")
	r.Header.Set("preauth-lastname", "{base64}TWF1ZHVpdA==")
	r.Header.Set("preauth-roles", "ADMIN;USER")
	r.Header.Set("sec-roles", "ROLE_SUPER") // spoofed, must be ignored here

	tok, ok, err := Read(model.PreAuthConfig{Enabled: true}, r)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, tok.PreAuth)

	assert.Equal(t, "bob", tok.PreAuth.Headers["username"])
	assert.Equal(t, "Mauduit", tok.PreAuth.Headers["lastname"])
	assert.Equal(t, "ADMIN;USER", tok.PreAuth.Headers["roles"])
	_, hasSecRoles := tok.PreAuth.Headers["sec-roles"]
	assert.False(t, hasSecRoles)
}
